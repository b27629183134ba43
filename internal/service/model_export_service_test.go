package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"skillchain_backend/internal/config"
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/repository"
	"skillchain_backend/internal/util"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExportService(t *testing.T, f *fixture) *ModelExportService {
	t.Helper()
	storage := NewStorageService(&config.StorageConfig{Type: util.StorageLocal, LocalPath: t.TempDir()})
	reg := NewEngineRegistry(f.prefs, f.sessions, f.records, repository.NewMemoryModelCache(), f.settings)
	svc := NewModelExportService(reg, storage, f.records)
	svc.Now = fixedClock
	return svc
}

func TestExportModelWritesSnapshot(t *testing.T) {
	f := newFixture(t)
	svc := newExportService(t, f)
	ctx := context.Background()

	res, err := svc.ExportModel(ctx, 1)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Object, util.ModelExportPrefix+"/1/"))
	assert.Equal(t, TierBaseline, res.Tier)
	assert.Equal(t, "/uploads/"+res.Object, res.URL)

	rc, err := svc.Storage.Download(ctx, res.Object)
	require.NoError(t, err)
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Len(t, raw, res.Size)

	var snap ModelSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, model.ModelTypeScheduling, snap.ModelType)
	assert.Equal(t, uint(1), snap.UserID)
	assert.True(t, snap.ExportedAt.Equal(testNow))
	_, err = buildSchedulingNetwork(snap.Architecture, snap.Weights)
	assert.NoError(t, err)
}

func TestPublishModelVersionsAndRefreshesEngines(t *testing.T) {
	f := newFixture(t)
	svc := newExportService(t, f)
	ctx := context.Background()

	first, err := svc.ExportModel(ctx, 1)
	require.NoError(t, err)
	rec, err := svc.PublishModel(ctx, first.Object)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ModelVersion)
	assert.True(t, rec.IsActive)

	// 已加载的引擎切换到共享模型
	st := svc.Registry.Engine(1).Status()
	assert.Equal(t, TierGlobal, st.Tier)
	assert.Equal(t, 1, st.Version)

	second, err := svc.ExportModel(ctx, 1)
	require.NoError(t, err)
	rec, err = svc.PublishModel(ctx, second.Object)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ModelVersion)

	versions, err := f.records.ListVersions(ctx, model.ModelTypeScheduling)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].ModelVersion)
	assert.True(t, versions[0].IsActive)
	assert.False(t, versions[1].IsActive)

	active, err := f.records.FindActive(ctx, model.ModelTypeScheduling)
	require.NoError(t, err)
	assert.Equal(t, 2, active.ModelVersion)
	assert.Equal(t, 2, svc.Registry.Engine(1).Status().Version)
}

func TestPublishModelRejectsBadSnapshots(t *testing.T) {
	f := newFixture(t)
	svc := newExportService(t, f)
	ctx := context.Background()

	_, err := svc.PublishModel(ctx, "avatars/1.png")
	assert.ErrorIs(t, err, util.ErrInvalidInput)

	upload := func(name, body string) {
		_, err := svc.Storage.Upload(ctx, name, bytes.NewReader([]byte(body)), int64(len(body)), util.MimeJSON)
		require.NoError(t, err)
	}

	upload(util.ModelExportPrefix+"/1/broken.json", "{")
	_, err = svc.PublishModel(ctx, util.ModelExportPrefix+"/1/broken.json")
	assert.ErrorIs(t, err, util.ErrInvalidInput)

	upload(util.ModelExportPrefix+"/1/other.json", `{"modelType":"recommendation"}`)
	_, err = svc.PublishModel(ctx, util.ModelExportPrefix+"/1/other.json")
	assert.ErrorIs(t, err, util.ErrInvalidInput)

	upload(util.ModelExportPrefix+"/1/conv.json", `{"modelType":"scheduling","architecture":{"layers":[{"kind":"conv2d","units":2,"activation":"relu"}]}}`)
	_, err = svc.PublishModel(ctx, util.ModelExportPrefix+"/1/conv.json")
	assert.ErrorIs(t, err, util.ErrUnsupportedLayer)

	_, err = f.records.FindActive(ctx, model.ModelTypeScheduling)
	assert.ErrorIs(t, err, util.ErrNoActiveModel)
}

func TestDeleteSnapshot(t *testing.T) {
	f := newFixture(t)
	svc := newExportService(t, f)
	ctx := context.Background()

	res, err := svc.ExportModel(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteSnapshot(ctx, res.Object))

	_, err = svc.Storage.Download(ctx, res.Object)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	assert.ErrorIs(t, svc.DeleteSnapshot(ctx, "../config.yaml"), util.ErrInvalidInput)
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	p := &LocalStorageProvider{Config: &config.StorageConfig{LocalPath: t.TempDir()}}
	_, err := p.Upload(context.Background(), "models/../../etc/passwd", strings.NewReader("x"), 1, util.MimeJSON)
	assert.Error(t, err)
}
