package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/redis/go-redis/v9"
)

const defaultLockPollInterval = 250 * time.Millisecond

// releaseScript deletes the key only while it still carries our token, so an
// expired lock taken over by another run is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key only while it still carries our token
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisRunLocker implements compliance.RunLocker with Redis SET NX PX.
// Runs of one opportunity are serialized across every instance sharing the
// Redis database.
type RedisRunLocker struct {
	client       redis.UniversalClient
	pollInterval time.Duration
}

// RedisRunLockerOption configures a RedisRunLocker
type RedisRunLockerOption func(*RedisRunLocker)

// WithPollInterval sets how often a waiting Acquire retries
func WithPollInterval(d time.Duration) RedisRunLockerOption {
	return func(l *RedisRunLocker) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// NewRedisRunLocker creates a run locker over an existing client
func NewRedisRunLocker(client redis.UniversalClient, opts ...RedisRunLockerOption) *RedisRunLocker {
	l := &RedisRunLocker{client: client, pollInterval: defaultLockPollInterval}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire polls SET NX until the lock is taken or ctx is done
func (l *RedisRunLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (compliance.RunLock, error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to acquire run lock %s: %w", key, err)
		}
		if ok {
			return &redisRunLock{client: l.client, key: key, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close closes the underlying client
func (l *RedisRunLocker) Close() error {
	return l.client.Close()
}

type redisRunLock struct {
	client redis.UniversalClient
	key    string
	token  string

	mu       sync.Mutex
	released bool
}

func (h *redisRunLock) Refresh(ctx context.Context, ttl time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return compliance.ErrRunLockLost
	}

	n, err := refreshScript.Run(ctx, h.client, []string{h.key}, h.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to refresh run lock %s: %w", h.key, err)
	}
	if n == 0 {
		return compliance.ErrRunLockLost
	}
	return nil
}

func (h *redisRunLock) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}

	err := releaseScript.Run(ctx, h.client, []string{h.key}, h.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release run lock %s: %w", h.key, err)
	}
	h.released = true
	return nil
}

var _ compliance.RunLocker = (*RedisRunLocker)(nil)
