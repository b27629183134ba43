package service

import (
	"context"
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/repository"
	"skillchain_backend/pkg/logger"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// EngineRegistry 每个学习者一个调度引擎，按需创建；
// 超过容量或空闲超时的引擎被回收，下次访问时从本地缓存恢复模型
type EngineRegistry struct {
	prefs    PreferenceSource
	sessions SessionSource
	records  ModelRecordSource
	cache    repository.ModelCache
	settings *SchedulingSettings

	mu      sync.Mutex
	engines *expirable.LRU[uint, *SchedulingEngine]
}

func NewEngineRegistry(prefs PreferenceSource, sessions SessionSource, records ModelRecordSource,
	cache repository.ModelCache, settings *SchedulingSettings) *EngineRegistry {
	cfg := settings.Get()
	r := &EngineRegistry{
		prefs:    prefs,
		sessions: sessions,
		records:  records,
		cache:    cache,
		settings: settings,
	}
	r.engines = expirable.NewLRU[uint, *SchedulingEngine](cfg.MaxEngines, func(userID uint, _ *SchedulingEngine) {
		logger.Log.Debug("Scheduling engine evicted", zap.Uint("userID", userID))
	}, time.Duration(cfg.EngineIdleMinutes)*time.Minute)
	return r
}

func (r *EngineRegistry) Engine(userID uint) *SchedulingEngine {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines.Get(userID)
	if !ok {
		e = NewSchedulingEngine(userID, r.prefs, r.sessions, r.records, r.cache, r.settings)
	}
	// 重新放入以刷新空闲计时
	r.engines.Add(userID, e)
	return e
}

// Len 当前驻留的引擎数
func (r *EngineRegistry) Len() int {
	return r.engines.Len()
}

// RecommendMethod 供计划生成使用的方法建议
func (r *EngineRegistry) RecommendMethod(ctx context.Context, userID uint, hour int) (model.FocusMethod, error) {
	return r.Engine(userID).RecommendMethod(ctx, hour)
}

// RefreshAll 共享模型发布后刷新已加载的引擎
func (r *EngineRegistry) RefreshAll(ctx context.Context) int {
	engines := r.engines.Values()

	refreshed := 0
	for _, e := range engines {
		if e.LoadGlobalModel(ctx) {
			refreshed++
		}
	}
	return refreshed
}
