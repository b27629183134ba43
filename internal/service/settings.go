package service

import (
	"skillchain_backend/internal/config"
	"sync/atomic"
)

// SchedulingSettings 可热更新的调度参数
type SchedulingSettings struct {
	cfg atomic.Pointer[config.SchedulingConfig]
}

func NewSchedulingSettings(cfg config.SchedulingConfig) *SchedulingSettings {
	s := &SchedulingSettings{}
	s.Update(cfg)
	return s
}

func (s *SchedulingSettings) Get() config.SchedulingConfig {
	return *s.cfg.Load()
}

func (s *SchedulingSettings) Update(cfg config.SchedulingConfig) {
	s.cfg.Store(&cfg)
}
