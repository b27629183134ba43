package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/predictor"
	"skillchain_backend/internal/repository"
	"skillchain_backend/internal/util"
	"skillchain_backend/pkg/logger"
	"skillchain_backend/pkg/monitoring"
	"skillchain_backend/pkg/tracing"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type EngineState string

const (
	StateUninitialized     EngineState = "uninitialized"
	StateLoading           EngineState = "loading"
	StateGlobalModelLoaded EngineState = "global_model_loaded"
	StateLocalCacheLoaded  EngineState = "local_cache_loaded"
	StateTrained           EngineState = "trained"
	StateBaseline          EngineState = "baseline"
	StateReady             EngineState = "ready"
)

// ModelTier 当前模型的来源
type ModelTier string

const (
	TierNone       ModelTier = "none"
	TierGlobal     ModelTier = "global"
	TierLocalCache ModelTier = "local_cache"
	TierTrained    ModelTier = "trained"
	TierBaseline   ModelTier = "baseline"
)

func (t ModelTier) loadedState() EngineState {
	switch t {
	case TierGlobal:
		return StateGlobalModelLoaded
	case TierLocalCache:
		return StateLocalCacheLoaded
	case TierTrained:
		return StateTrained
	case TierBaseline:
		return StateBaseline
	}
	return StateLoading
}

// VersionCheck 本地缓存版本与共享模型版本的比较结果
type VersionCheck int

const (
	VersionUnknown VersionCheck = iota
	VersionCurrent
	VersionStale
)

// compareVersion 版本计数单调递增，缓存不低于共享版本即视为最新
func compareVersion(cached, remote int, cacheErr error) VersionCheck {
	if cacheErr != nil {
		return VersionUnknown
	}
	if cached >= remote {
		return VersionCurrent
	}
	return VersionStale
}

var errCachedVersionCurrent = errors.New("cached version is current")

type StageResult struct {
	Tier   ModelTier `json:"tier"`
	Err    error     `json:"-"`
	Reason string    `json:"reason,omitempty"`
}

// InitReport 一次初始化各阶段的结果
type InitReport struct {
	Tier     ModelTier     `json:"tier"`
	Stages   []StageResult `json:"stages"`
	Finished time.Time     `json:"finished"`
}

type ModelStatus struct {
	UserID     uint        `json:"userId"`
	State      EngineState `json:"state"`
	Tier       ModelTier   `json:"tier"`
	Version    int         `json:"version"`
	Accuracy   float64     `json:"accuracy"`
	TrainedAt  *time.Time  `json:"trainedAt,omitempty"`
	Training   bool        `json:"training"`
	LastReport *InitReport `json:"lastReport,omitempty"`
}

type Prediction struct {
	Method       model.FocusMethod             `json:"recommendedMethod"`
	Confidence   float64                       `json:"confidence"`
	AllScores    map[model.FocusMethod]float64 `json:"allScores"`
	OptimalHours []int                         `json:"optimalHours"`
	Reasoning    string                        `json:"reasoning"`
	Hour         int                           `json:"hour"`
	Tier         ModelTier                     `json:"tier"`
	Fallback     bool                          `json:"fallback"`
}

// DefaultPrediction 任何环节失败时的兜底推荐
func DefaultPrediction(hour int) Prediction {
	scores := make(map[model.FocusMethod]float64, len(model.FocusMethods))
	for _, m := range model.FocusMethods {
		scores[m] = defaultMethodScore
	}
	return Prediction{
		Method:       model.MethodPomodoro,
		Confidence:   defaultMethodScore,
		AllScores:    scores,
		OptimalHours: append([]int(nil), defaultOptimalHours...),
		Reasoning:    "Starting with Pomodoro technique is recommended for new users. 25-minute sessions help build focus gradually.",
		Hour:         hour,
		Tier:         TierNone,
		Fallback:     true,
	}
}

type PreferenceSource interface {
	FindByUserID(ctx context.Context, userID uint) (*model.UserPreference, error)
}

type SessionSource interface {
	FindRecent(ctx context.Context, userID uint, limit int) ([]model.TrainingSession, error)
}

type ModelRecordSource interface {
	FindActive(ctx context.Context, modelType string) (*model.ModelRecord, error)
}

// SchedulingEngine 单个学习者的模型生命周期：共享模型 -> 本地缓存 -> 训练 -> 基线
type SchedulingEngine struct {
	userID   uint
	prefs    PreferenceSource
	sessions SessionSource
	records  ModelRecordSource
	cache    repository.ModelCache
	settings *SchedulingSettings
	now      func() time.Time

	initMu   sync.Mutex
	training atomic.Bool

	mu         sync.RWMutex
	state      EngineState
	tier       ModelTier
	net        *predictor.Network
	version    int
	accuracy   float64
	trainedAt  time.Time
	lastReport *InitReport
}

func NewSchedulingEngine(userID uint, prefs PreferenceSource, sessions SessionSource, records ModelRecordSource,
	cache repository.ModelCache, settings *SchedulingSettings) *SchedulingEngine {
	return &SchedulingEngine{
		userID:   userID,
		prefs:    prefs,
		sessions: sessions,
		records:  records,
		cache:    cache,
		settings: settings,
		now:      time.Now,
		state:    StateUninitialized,
		tier:     TierNone,
	}
}

func (e *SchedulingEngine) log() *zap.Logger {
	return logger.Log.With(zap.Uint("userID", e.userID))
}

func (e *SchedulingEngine) setState(s EngineState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// install 切换到新模型并进入对应的加载态，调用方随后调用 markReady
func (e *SchedulingEngine) install(net *predictor.Network, tier ModelTier, version int, accuracy float64, trainedAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = tier.loadedState()
	e.net = net
	e.tier = tier
	e.version = version
	e.accuracy = accuracy
	e.trainedAt = trainedAt
}

// markReady 有模型时进入 Ready；Ready 之后不会回到 Uninitialized
func (e *SchedulingEngine) markReady() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.net != nil {
		e.state = StateReady
	} else if e.state == StateLoading {
		e.state = StateUninitialized
	}
}

func (e *SchedulingEngine) snapshot() (*predictor.Network, ModelTier) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.net, e.tier
}

// Init 依次尝试各阶段，第一个成功的阶段决定模型来源；不返回错误
func (e *SchedulingEngine) Init(ctx context.Context) InitReport {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	ctx, span := tracing.StartUserSpan(ctx, "scheduling.Init", e.userID)
	defer span.End()

	e.setState(StateLoading)

	stages := []struct {
		tier ModelTier
		run  func(context.Context) error
	}{
		{TierGlobal, e.loadNewerGlobal},
		{TierLocalCache, e.loadLocalCache},
		{TierTrained, e.trainFromHistory},
		{TierBaseline, e.createBaseline},
	}

	report := InitReport{Tier: TierNone}
	for _, stage := range stages {
		err := stage.run(ctx)
		res := StageResult{Tier: stage.tier, Err: err}
		if err != nil {
			res.Reason = err.Error()
			e.log().Info("Model stage skipped", zap.String("tier", string(stage.tier)), zap.Error(err))
		}
		report.Stages = append(report.Stages, res)
		if err == nil {
			report.Tier = stage.tier
			break
		}
	}
	report.Finished = e.now()

	e.mu.Lock()
	e.lastReport = &report
	e.mu.Unlock()
	// 全部失败时保留之前的模型
	e.markReady()

	monitoring.ModelTierTotal.WithLabelValues(string(report.Tier)).Inc()
	e.log().Info("Scheduling model initialised", zap.String("tier", string(report.Tier)))
	return report
}

// LoadGlobalModel 拉取共享模型，成功（或已是最新）返回 true
func (e *SchedulingEngine) LoadGlobalModel(ctx context.Context) bool {
	ctx, span := tracing.StartUserSpan(ctx, "scheduling.LoadGlobalModel", e.userID)
	defer span.End()

	if err := e.loadGlobal(ctx, false); err != nil {
		e.log().Warn("Global model not loaded", zap.Error(err))
		return false
	}
	e.markReady()
	return true
}

func (e *SchedulingEngine) fetchActive(ctx context.Context) (*model.ModelRecord, error) {
	cfg := e.settings.Get()
	var rec *model.ModelRecord
	err := retry.Do(
		func() error {
			r, err := e.records.FindActive(ctx, model.ModelTypeScheduling)
			if err != nil {
				if errors.Is(err, util.ErrNoActiveModel) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			rec = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(cfg.GlobalFetchAttempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.log().Debug("Retrying global model fetch", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, &util.RemoteFetchError{Op: "active scheduling model", Err: err}
	}
	return rec, nil
}

// loadNewerGlobal 初始化的第一阶段：只有共享版本比缓存新时才采用，否则交给本地缓存阶段
func (e *SchedulingEngine) loadNewerGlobal(ctx context.Context) error {
	return e.loadGlobal(ctx, true)
}

func (e *SchedulingEngine) loadGlobal(ctx context.Context, onlyNewer bool) error {
	rec, err := e.fetchActive(ctx)
	if err != nil {
		return err
	}

	cached, cacheErr := e.cache.Load(ctx, e.userID)
	cachedVersion := 0
	if cached != nil {
		cachedVersion = cached.Version
	}
	check := compareVersion(cachedVersion, rec.ModelVersion, cacheErr)
	if cached == nil && cacheErr == nil {
		check = VersionStale
	}

	if check == VersionCurrent {
		if onlyNewer {
			return fmt.Errorf("%w (cached v%d, global v%d)", errCachedVersionCurrent, cachedVersion, rec.ModelVersion)
		}
		if net, _ := e.snapshot(); net != nil {
			return nil
		}
	}

	loaded, err := decodeRecord(rec)
	if err != nil {
		return err
	}

	switch check {
	case VersionUnknown:
		e.log().Warn("Model cache unreadable, skipping cache update", zap.Error(cacheErr))
	case VersionCurrent:
		// 缓存版本不低于共享版本，不回写以免版本倒退
		e.log().Debug("Cached model version is current, cache left untouched",
			zap.Int("cached", cachedVersion), zap.Int("global", rec.ModelVersion))
	default:
		swapped, err := e.cache.SaveVersioned(ctx, e.userID, cachedVersion, &repository.CachedModel{
			Version:      rec.ModelVersion,
			Architecture: loaded.Architecture(),
			Weights:      loaded.Weights(),
			Accuracy:     rec.Accuracy,
			TrainedAt:    rec.TrainedAt,
			Source:       string(TierGlobal),
		})
		if err != nil {
			e.log().Warn("Failed to cache global model", zap.Error(err))
		} else if !swapped {
			e.log().Debug("Cached model version changed concurrently", zap.Int("expected", cachedVersion))
		}
	}

	e.install(loaded, TierGlobal, rec.ModelVersion, rec.Accuracy, rec.TrainedAt)
	return nil
}

func decodeRecord(rec *model.ModelRecord) (*predictor.Network, error) {
	var arch predictor.Architecture
	if err := json.Unmarshal(rec.Architecture, &arch); err != nil {
		return nil, fmt.Errorf("%w: decode architecture: %v", util.ErrUnsupportedLayer, err)
	}
	var weights []predictor.Tensor
	if err := json.Unmarshal(rec.Weights, &weights); err != nil {
		return nil, fmt.Errorf("%w: decode weights: %v", util.ErrUnsupportedLayer, err)
	}
	return buildSchedulingNetwork(arch, weights)
}

func buildSchedulingNetwork(arch predictor.Architecture, weights []predictor.Tensor) (*predictor.Network, error) {
	net, err := predictor.BuildNetwork(arch, weights)
	if err != nil {
		return nil, err
	}
	if net.InputDim() != predictor.FeatureDim {
		return nil, fmt.Errorf("%w: model expects %d features, have %d", util.ErrUnsupportedLayer, net.InputDim(), predictor.FeatureDim)
	}
	return net, nil
}

func (e *SchedulingEngine) loadLocalCache(ctx context.Context) error {
	cached, err := e.cache.Load(ctx, e.userID)
	if err != nil {
		return fmt.Errorf("read model cache: %w", err)
	}
	if cached == nil {
		return errors.New("no cached model")
	}
	net, err := buildSchedulingNetwork(cached.Architecture, cached.Weights)
	if err != nil {
		return err
	}
	e.install(net, TierLocalCache, cached.Version, cached.Accuracy, cached.TrainedAt)
	return nil
}

// TrainModel 用学习者历史训练；数据不足时合成基线模型并返回 InsufficientDataError
func (e *SchedulingEngine) TrainModel(ctx context.Context) (ModelStatus, error) {
	ctx, span := tracing.StartUserSpan(ctx, "scheduling.TrainModel", e.userID)
	err := e.trainFromHistory(ctx)
	tracing.End(span, err)

	var insufficient *util.InsufficientDataError
	if errors.As(err, &insufficient) {
		if berr := e.createBaseline(ctx); berr != nil {
			e.log().Error("Baseline synthesis failed", zap.Error(berr))
		}
	}
	e.markReady()
	return e.Status(), err
}

// beginTraining Idle -> Training，已在训练时返回 ErrTrainingInProgress
func (e *SchedulingEngine) beginTraining() error {
	if !e.training.CompareAndSwap(false, true) {
		return util.ErrTrainingInProgress
	}
	return nil
}

func (e *SchedulingEngine) endTraining() {
	e.training.Store(false)
}

func (e *SchedulingEngine) trainFromHistory(ctx context.Context) (err error) {
	if err := e.beginTraining(); err != nil {
		return err
	}
	defer e.endTraining()

	start := time.Now()
	defer func() { monitoring.ObserveTraining("history", start, err) }()

	cfg := e.settings.Get()
	sessions, err := e.sessions.FindRecent(ctx, e.userID, cfg.HistoryWindow)
	if err != nil {
		return fmt.Errorf("load training history: %w", err)
	}
	samples := SessionSamples(sessions)
	if len(samples) < cfg.MinTrainingRows {
		return &util.InsufficientDataError{Have: len(samples), Need: cfg.MinTrainingRows}
	}

	net, err := predictor.NewNetwork(predictor.SchedulingTopology(), rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return &util.TrainingError{Reason: "build network", Err: err}
	}
	res, err := predictor.Train(ctx, net, samples, predictor.TrainConfig{
		Epochs:       cfg.TrainingEpochs,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
		Seed:         cfg.Seed,
		HoldoutRatio: 0.2,
	})
	if err != nil {
		var terr *util.TrainingError
		if errors.As(err, &terr) {
			return err
		}
		return &util.TrainingError{Reason: "optimise", Err: err}
	}

	trainedAt := e.now()
	e.mu.RLock()
	version := e.version
	e.mu.RUnlock()

	if err := e.cache.Save(ctx, e.userID, &repository.CachedModel{
		Version:      version,
		Architecture: net.Architecture(),
		Weights:      net.Weights(),
		Accuracy:     res.Accuracy,
		TrainedAt:    trainedAt,
		Source:       string(TierTrained),
	}); err != nil {
		e.log().Warn("Failed to cache trained model", zap.Error(err))
	}

	e.install(net, TierTrained, version, res.Accuracy, trainedAt)
	e.log().Info("Scheduling model trained",
		zap.Int("samples", len(samples)),
		zap.Float64("loss", res.Loss),
		zap.Float64("accuracy", res.Accuracy))
	return nil
}

// CreateBaselineModel 由问卷偏好合成训练集训练基线模型，不写缓存
func (e *SchedulingEngine) CreateBaselineModel(ctx context.Context) error {
	ctx, span := tracing.StartUserSpan(ctx, "scheduling.CreateBaselineModel", e.userID)
	err := e.createBaseline(ctx)
	tracing.End(span, err)
	e.markReady()
	return err
}

func (e *SchedulingEngine) createBaseline(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { monitoring.ObserveTraining("baseline", start, err) }()

	pref := e.preference(ctx)
	cfg := e.settings.Get()
	net, acc, err := trainBaseline(ctx, pref, cfg.BaselineEpochs, cfg.LearningRate, cfg.Seed)
	if err != nil {
		return err
	}

	e.mu.RLock()
	version := e.version
	e.mu.RUnlock()
	e.install(net, TierBaseline, version, acc, e.now())
	return nil
}

// trainBaseline 从解析解出发，在 96 个合成样本上全批量微调；
// 微调后损失变大或破坏时段排序时保留解析解
func trainBaseline(ctx context.Context, pref model.UserPreference, epochs int, lr float64, seed int64) (*predictor.Network, float64, error) {
	fitted, err := fitBaseline(pref)
	if err != nil {
		return nil, 0, &util.TrainingError{Reason: "fit baseline", Err: err}
	}
	samples := BaselineSamples(pref)

	tuned := fitted.Clone()
	res, err := predictor.Train(ctx, tuned, samples, predictor.TrainConfig{
		Epochs:       epochs,
		BatchSize:    len(samples),
		LearningRate: lr,
		Seed:         seed,
	})
	if err != nil {
		var terr *util.TrainingError
		if errors.As(err, &terr) {
			return fitted, predictor.Accuracy(fitted, samples), nil
		}
		return nil, 0, err
	}
	if predictor.EvaluateLoss(tuned, samples) > predictor.EvaluateLoss(fitted, samples) || !keepsWindowOrder(tuned, pref) {
		return fitted, predictor.Accuracy(fitted, samples), nil
	}
	return tuned, res.Accuracy, nil
}

// preference 读取失败或没有问卷时使用默认偏好
func (e *SchedulingEngine) preference(ctx context.Context) model.UserPreference {
	pref, err := e.prefs.FindByUserID(ctx, e.userID)
	if err != nil {
		e.log().Warn("Failed to load preference, using default", zap.Error(err))
	}
	if pref == nil {
		return model.DefaultPreference()
	}
	return *pref
}

func (e *SchedulingEngine) ensureModel(ctx context.Context) *predictor.Network {
	if net, _ := e.snapshot(); net != nil {
		return net
	}
	e.Init(ctx)
	if net, _ := e.snapshot(); net != nil {
		return net
	}
	if err := e.createBaseline(ctx); err != nil {
		e.log().Error("Baseline synthesis failed", zap.Error(err))
	}
	e.markReady()
	net, _ := e.snapshot()
	return net
}

// PredictBestMethod 当前小时最适合的学习方法，任何错误都返回默认推荐
func (e *SchedulingEngine) PredictBestMethod(ctx context.Context) Prediction {
	ctx, span := tracing.StartUserSpan(ctx, "scheduling.PredictBestMethod", e.userID)
	defer span.End()

	return e.PredictAt(ctx, e.now().Hour())
}

// PredictAt 指定小时的完整推荐，失败时返回默认推荐
func (e *SchedulingEngine) PredictAt(ctx context.Context, hour int) Prediction {
	pred, err := e.predictAt(ctx, hour)
	if err != nil {
		e.log().Warn("Prediction failed, using default", zap.Int("hour", hour), zap.Error(err))
		return DefaultPrediction(hour)
	}
	return pred
}

// RecommendMethod 指定小时的推荐方法
func (e *SchedulingEngine) RecommendMethod(ctx context.Context, hour int) (model.FocusMethod, error) {
	pred, err := e.predictAt(ctx, hour)
	if err != nil {
		return model.MethodPomodoro, err
	}
	return pred.Method, nil
}

func (e *SchedulingEngine) predictAt(ctx context.Context, hour int) (pred Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prediction panicked: %v", r)
		}
	}()

	net := e.ensureModel(ctx)
	if net == nil {
		return Prediction{}, errors.New("no model available")
	}
	_, tier := e.snapshot()
	cfg := e.settings.Get()

	var (
		pref     model.UserPreference
		sessions []model.TrainingSession
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := e.prefs.FindByUserID(gctx, e.userID)
		if err != nil {
			return fmt.Errorf("load preference: %w", err)
		}
		pref = model.DefaultPreference()
		if p != nil {
			pref = *p
		}
		return nil
	})
	g.Go(func() error {
		s, err := e.sessions.FindRecent(gctx, e.userID, cfg.HistoryWindow)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		sessions = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return Prediction{}, err
	}

	n := len(sessions)
	scores := make(map[model.FocusMethod]float64, len(model.FocusMethods))
	best := model.FocusMethods[0]
	for _, m := range model.FocusMethods {
		raw := net.Predict(FeatureVector(hour, m))
		score := BlendScore(raw, HeuristicScore(pref, hour, m), n, cfg.TrustedHistoryRows)
		scores[m] = score
		if score > scores[best] {
			best = m
		}
	}

	optimal := OptimalHours(sessions)
	return Prediction{
		Method:       best,
		Confidence:   scores[best],
		AllScores:    scores,
		OptimalHours: optimal,
		Reasoning:    reasoning(best, scores[best], methodSuccessRates(sessions)[best], hour, optimal),
		Hour:         hour,
		Tier:         tier,
	}, nil
}

func reasoning(m model.FocusMethod, confidence, successRate float64, hour int, optimal []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Based on your study patterns, %s (%s) is recommended with %.0f%% confidence. ",
		strings.ToUpper(string(m)), m.Description(), confidence*100)

	isOptimal := false
	for _, h := range optimal {
		if h == hour {
			isOptimal = true
			break
		}
	}
	if isOptimal {
		fmt.Fprintf(&b, "Current time (%d:00) is one of your optimal study hours. ", hour)
	} else {
		top := optimal
		if len(top) > 3 {
			top = top[:3]
		}
		fmt.Fprintf(&b, "Consider studying during hours %v for better results. ", top)
	}
	fmt.Fprintf(&b, "Your historical success rate with this method is %.0f%%.", successRate*100)
	return b.String()
}

func (e *SchedulingEngine) Status() ModelStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := ModelStatus{
		UserID:     e.userID,
		State:      e.state,
		Tier:       e.tier,
		Version:    e.version,
		Accuracy:   e.accuracy,
		Training:   e.training.Load(),
		LastReport: e.lastReport,
	}
	if !e.trainedAt.IsZero() {
		t := e.trainedAt
		st.TrainedAt = &t
	}
	return st
}

// Snapshot 以模型记录的形式导出当前网络
func (e *SchedulingEngine) Snapshot() (*model.ModelRecord, error) {
	e.mu.RLock()
	net, accuracy, trainedAt := e.net, e.accuracy, e.trainedAt
	e.mu.RUnlock()
	if net == nil {
		return nil, errors.New("engine has no model")
	}

	arch, err := json.Marshal(net.Architecture())
	if err != nil {
		return nil, err
	}
	weights, err := json.Marshal(net.Weights())
	if err != nil {
		return nil, err
	}
	return &model.ModelRecord{
		ModelType:    model.ModelTypeScheduling,
		Architecture: arch,
		Weights:      weights,
		Accuracy:     accuracy,
		TrainedAt:    trainedAt,
	}, nil
}
