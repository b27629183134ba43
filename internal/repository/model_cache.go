package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"skillchain_backend/internal/predictor"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// CachedModel 学习者本地缓存的模型，Version 为最近一次同步的共享模型版本
type CachedModel struct {
	Version      int                    `json:"version"`
	Architecture predictor.Architecture `json:"architecture"`
	Weights      []predictor.Tensor     `json:"weights"`
	Accuracy     float64                `json:"accuracy"`
	TrainedAt    time.Time              `json:"trainedAt"`
	Source       string                 `json:"source"`
}

// ModelCache 按学习者保存模型；版本计数器只由 SaveVersioned 修改
type ModelCache interface {
	// Load 没有缓存时返回 nil, nil
	Load(ctx context.Context, userID uint) (*CachedModel, error)
	// SaveVersioned 当缓存版本仍为 expected 时写入模型并把版本更新为 m.Version
	SaveVersioned(ctx context.Context, userID uint, expected int, m *CachedModel) (bool, error)
	// Save 写入模型，不改变版本计数器
	Save(ctx context.Context, userID uint, m *CachedModel) error
}

const modelCacheTTL = 30 * 24 * time.Hour

func modelKey(userID uint) string {
	return fmt.Sprintf("scheduling:model:%d", userID)
}

func versionKey(userID uint) string {
	return fmt.Sprintf("scheduling:model:%d:version", userID)
}

type RedisModelCache struct {
	rdb *redis.Client
}

func NewRedisModelCache(rdb *redis.Client) *RedisModelCache {
	return &RedisModelCache{rdb: rdb}
}

func (c *RedisModelCache) Load(ctx context.Context, userID uint) (*CachedModel, error) {
	vals, err := c.rdb.MGet(ctx, modelKey(userID), versionKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, nil
	}

	var m CachedModel
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode cached model: %w", err)
	}
	m.Version = 0
	if v, ok := vals[1].(string); ok {
		fmt.Sscanf(v, "%d", &m.Version)
	}
	return &m, nil
}

func (c *RedisModelCache) SaveVersioned(ctx context.Context, userID uint, expected int, m *CachedModel) (bool, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return false, err
	}

	swapped := false
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey(userID)).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != expected {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, modelKey(userID), payload, modelCacheTTL)
			pipe.Set(ctx, versionKey(userID), m.Version, modelCacheTTL)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, versionKey(userID))

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return swapped, err
}

func (c *RedisModelCache) Save(ctx context.Context, userID uint, m *CachedModel) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, modelKey(userID), payload, modelCacheTTL).Err()
}

// MemoryModelCache 未启用 Redis 时使用的进程内缓存
type MemoryModelCache struct {
	mu       sync.Mutex
	models   map[uint][]byte
	versions map[uint]int
}

func NewMemoryModelCache() *MemoryModelCache {
	return &MemoryModelCache{
		models:   make(map[uint][]byte),
		versions: make(map[uint]int),
	}
}

func (c *MemoryModelCache) Load(_ context.Context, userID uint) (*CachedModel, error) {
	c.mu.Lock()
	raw, ok := c.models[userID]
	version := c.versions[userID]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}

	var m CachedModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m.Version = version
	return &m, nil
}

func (c *MemoryModelCache) SaveVersioned(_ context.Context, userID uint, expected int, m *CachedModel) (bool, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[userID] != expected {
		return false, nil
	}
	c.models[userID] = payload
	c.versions[userID] = m.Version
	return true, nil
}

func (c *MemoryModelCache) Save(_ context.Context, userID uint, m *CachedModel) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.models[userID] = payload
	c.mu.Unlock()
	return nil
}
