package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/predictor"
	"skillchain_backend/internal/repository"
	"skillchain_backend/internal/util"
	"skillchain_backend/pkg/logger"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxSnapshotBytes = 4 << 20

// ModelSnapshot 导出到对象存储的模型文件
type ModelSnapshot struct {
	ModelType    string                 `json:"modelType"`
	UserID       uint                   `json:"userId"`
	Tier         ModelTier              `json:"tier"`
	Architecture predictor.Architecture `json:"architecture"`
	Weights      []predictor.Tensor     `json:"weights"`
	Accuracy     float64                `json:"accuracy"`
	TrainedAt    time.Time              `json:"trainedAt"`
	ExportedAt   time.Time              `json:"exportedAt"`
}

type ExportResult struct {
	Object string    `json:"object"`
	URL    string    `json:"url"`
	Tier   ModelTier `json:"tier"`
	Size   int       `json:"size"`
}

type ModelExportService struct {
	Registry *EngineRegistry
	Storage  *StorageService
	Records  *repository.ModelRecordRepository
	Now      func() time.Time
}

func NewModelExportService(registry *EngineRegistry, storage *StorageService, records *repository.ModelRecordRepository) *ModelExportService {
	return &ModelExportService{Registry: registry, Storage: storage, Records: records, Now: time.Now}
}

// ExportModel 上传学习者当前模型的快照
func (s *ModelExportService) ExportModel(ctx context.Context, userID uint) (*ExportResult, error) {
	engine := s.Registry.Engine(userID)
	if engine.ensureModel(ctx) == nil {
		return nil, fmt.Errorf("no model available for user %d", userID)
	}
	rec, err := engine.Snapshot()
	if err != nil {
		return nil, err
	}
	net, err := decodeRecord(rec)
	if err != nil {
		return nil, err
	}
	status := engine.Status()

	payload, err := json.Marshal(ModelSnapshot{
		ModelType:    model.ModelTypeScheduling,
		UserID:       userID,
		Tier:         status.Tier,
		Architecture: net.Architecture(),
		Weights:      net.Weights(),
		Accuracy:     rec.Accuracy,
		TrainedAt:    rec.TrainedAt,
		ExportedAt:   s.Now(),
	})
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s/%d/%s.json", util.ModelExportPrefix, userID, uuid.NewString())
	url, err := s.Storage.Upload(ctx, name, bytes.NewReader(payload), int64(len(payload)), util.MimeJSON)
	if err != nil {
		return nil, fmt.Errorf("upload model snapshot: %w", err)
	}
	logger.Log.Info("Model snapshot exported", zap.Uint("userID", userID), zap.String("object", name))
	return &ExportResult{Object: name, URL: url, Tier: status.Tier, Size: len(payload)}, nil
}

// PublishModel 把导出的快照发布为下一个激活的共享模型，并刷新已加载的引擎
func (s *ModelExportService) PublishModel(ctx context.Context, object string) (*model.ModelRecord, error) {
	if !strings.HasPrefix(object, util.ModelExportPrefix+"/") {
		return nil, fmt.Errorf("%w: object %q is not a model snapshot", util.ErrInvalidInput, object)
	}
	rc, err := s.Storage.Download(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("download snapshot: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap ModelSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot: %v", util.ErrInvalidInput, err)
	}
	if snap.ModelType != model.ModelTypeScheduling {
		return nil, fmt.Errorf("%w: snapshot has model type %q", util.ErrInvalidInput, snap.ModelType)
	}
	if _, err := buildSchedulingNetwork(snap.Architecture, snap.Weights); err != nil {
		return nil, err
	}

	arch, err := json.Marshal(snap.Architecture)
	if err != nil {
		return nil, err
	}
	weights, err := json.Marshal(snap.Weights)
	if err != nil {
		return nil, err
	}
	rec := &model.ModelRecord{
		ModelType:    model.ModelTypeScheduling,
		Architecture: arch,
		Weights:      weights,
		Accuracy:     snap.Accuracy,
		TrainedAt:    snap.TrainedAt,
	}
	if err := s.Records.Publish(ctx, rec); err != nil {
		return nil, fmt.Errorf("publish model: %w", err)
	}

	refreshed := s.Registry.RefreshAll(ctx)
	logger.Log.Info("Scheduling model published",
		zap.Int("version", rec.ModelVersion),
		zap.String("object", object),
		zap.Int("refreshedEngines", refreshed))
	return rec, nil
}

// DeleteSnapshot 删除导出的快照文件，已发布的模型记录不受影响
func (s *ModelExportService) DeleteSnapshot(ctx context.Context, object string) error {
	if !strings.HasPrefix(object, util.ModelExportPrefix+"/") {
		return fmt.Errorf("%w: object %q is not a model snapshot", util.ErrInvalidInput, object)
	}
	if err := s.Storage.Delete(ctx, object); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	logger.Log.Info("Model snapshot deleted", zap.String("object", object))
	return nil
}
