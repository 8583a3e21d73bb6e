// Package cache provides a Redis-backed snapshot of the last confirmed
// trading mode status. The snapshot is advisory only: dashboard reads may
// serve it when the remote service is down, but no privileged decision is
// ever made from it. Degrades gracefully when Redis is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"trading-dashboard/config"
	"trading-dashboard/internal/mode"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	modeStatusKey = "dashboard:trading_mode:status"
	modeStatusTTL = time.Hour
)

// ErrSnapshotMiss is returned when no snapshot is stored.
var ErrSnapshotMiss = fmt.Errorf("no mode snapshot cached")

// ModeCache stores the last confirmed mode status in Redis. When Redis
// fails repeatedly the cache marks itself unhealthy and short-circuits
// until an operation succeeds again.
type ModeCache struct {
	client *redis.Client
	logger zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int

	maxFailures int
}

// NewModeCache connects to Redis. A failed initial connection returns the
// cache in degraded mode rather than an error; callers fall back to the
// controller's in-memory copy.
func NewModeCache(cfg config.RedisConfig, logger zerolog.Logger) (*ModeCache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	mc := &ModeCache{
		client:      client,
		logger:      logger.With().Str("component", "ModeCache").Logger(),
		maxFailures: 3,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		mc.logger.Warn().Err(err).Msg("initial Redis connection failed, starting degraded")
		return mc, nil
	}

	mc.healthy = true
	mc.logger.Info().Str("address", cfg.Address).Msg("Redis connected")
	return mc, nil
}

// IsHealthy returns whether Redis is currently considered available.
func (mc *ModeCache) IsHealthy() bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.healthy
}

// WriteSnapshot stores the last confirmed mode status.
func (mc *ModeCache) WriteSnapshot(ctx context.Context, status *mode.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode mode snapshot: %w", err)
	}

	if err := mc.client.Set(ctx, modeStatusKey, data, modeStatusTTL).Err(); err != nil {
		mc.recordFailure()
		return fmt.Errorf("failed to write mode snapshot: %w", err)
	}
	mc.recordSuccess()
	return nil
}

// ReadSnapshot returns the cached mode status, or ErrSnapshotMiss when none
// is stored.
func (mc *ModeCache) ReadSnapshot(ctx context.Context) (*mode.Status, error) {
	data, err := mc.client.Get(ctx, modeStatusKey).Result()
	if err == redis.Nil {
		mc.recordSuccess()
		return nil, ErrSnapshotMiss
	}
	if err != nil {
		mc.recordFailure()
		return nil, fmt.Errorf("failed to read mode snapshot: %w", err)
	}
	mc.recordSuccess()

	var status mode.Status
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("corrupt mode snapshot: %w", err)
	}
	return &status, nil
}

// Close releases the Redis client.
func (mc *ModeCache) Close() error {
	return mc.client.Close()
}

func (mc *ModeCache) recordFailure() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.failureCount++
	if mc.failureCount >= mc.maxFailures && mc.healthy {
		mc.logger.Warn().Int("failures", mc.failureCount).Msg("Redis marked unhealthy")
		mc.healthy = false
	}
}

func (mc *ModeCache) recordSuccess() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if !mc.healthy {
		mc.logger.Info().Msg("Redis recovered")
	}
	mc.failureCount = 0
	mc.healthy = true
}
