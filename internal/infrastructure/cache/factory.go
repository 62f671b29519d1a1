package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RunLockerFactory creates run lockers based on configuration
type RunLockerFactory struct {
	redisConfig           config.RedisConfig
	pollInterval          time.Duration
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// RunLockerFactoryOption is a functional option for configuring the factory
type RunLockerFactoryOption func(*RunLockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) RunLockerFactoryOption {
	return func(f *RunLockerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory locker
// when Redis is unreachable. Default is true.
func WithInMemoryFallback(allow bool) RunLockerFactoryOption {
	return func(f *RunLockerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// WithLockPollInterval sets the Redis locker poll interval
func WithLockPollInterval(d time.Duration) RunLockerFactoryOption {
	return func(f *RunLockerFactory) {
		f.pollInterval = d
	}
}

// NewRunLockerFactory creates a new factory
func NewRunLockerFactory(cfg config.RedisConfig, opts ...RunLockerFactoryOption) *RunLockerFactory {
	f := &RunLockerFactory{
		redisConfig:           cfg,
		pollInterval:          defaultLockPollInterval,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateRedisLocker connects to Redis and returns a Redis-backed locker
func (f *RunLockerFactory) CreateRedisLocker(ctx context.Context) (*RedisRunLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     f.redisConfig.Addr(),
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisRunLocker(client, WithPollInterval(f.pollInterval)), nil
}

// CreateLocker returns a Redis locker when Redis is enabled and reachable,
// otherwise an in-memory locker. In-memory locks do not span processes.
func (f *RunLockerFactory) CreateLocker(ctx context.Context) (compliance.RunLocker, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory run locker")
		return NewInMemoryRunLocker(), nil
	}

	locker, err := f.CreateRedisLocker(ctx)
	if err == nil {
		f.logger.Info("Using Redis run locker", zap.String("addr", f.redisConfig.Addr()))
		return locker, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for run locking but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory run locker. "+
		"Runs of the same opportunity on different instances will not be serialized.",
		zap.Error(err),
	)
	return NewInMemoryRunLocker(), nil
}
