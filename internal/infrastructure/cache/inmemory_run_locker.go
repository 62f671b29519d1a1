package cache

import (
	"context"
	"sync"
	"time"

	"github.com/govcon/shredder/internal/domain/compliance"
)

// lockEntry is a held lock with its expiry
type lockEntry struct {
	token     uint64
	expiresAt time.Time
}

// InMemoryRunLocker implements compliance.RunLocker inside one process.
// Suitable for single-instance deployments, the CLI and tests.
type InMemoryRunLocker struct {
	mu       sync.Mutex
	locks    map[string]lockEntry
	released chan struct{}
	next     uint64
}

// NewInMemoryRunLocker creates a new in-memory run locker
func NewInMemoryRunLocker() *InMemoryRunLocker {
	return &InMemoryRunLocker{
		locks:    make(map[string]lockEntry),
		released: make(chan struct{}),
	}
}

// Acquire blocks until key is free or expired, or ctx is done
func (l *InMemoryRunLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (compliance.RunLock, error) {
	for {
		l.mu.Lock()
		now := time.Now()
		held, exists := l.locks[key]
		if !exists || !now.Before(held.expiresAt) {
			l.next++
			l.locks[key] = lockEntry{token: l.next, expiresAt: now.Add(ttl)}
			token := l.next
			l.mu.Unlock()
			return &inMemoryRunLock{locker: l, key: key, token: token}, nil
		}
		wait := l.released
		remaining := held.expiresAt.Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wait:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// release drops key if it is still held under token and wakes waiters
func (l *InMemoryRunLocker) release(key string, token uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[key]; ok && held.token == token {
		delete(l.locks, key)
	}
	close(l.released)
	l.released = make(chan struct{})
}

// refresh extends key while it is still held under token
func (l *InMemoryRunLocker) refresh(key string, token uint64, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	held, ok := l.locks[key]
	if !ok || held.token != token || !now.Before(held.expiresAt) {
		return compliance.ErrRunLockLost
	}
	l.locks[key] = lockEntry{token: token, expiresAt: now.Add(ttl)}
	return nil
}

// Held reports whether key is currently locked (for testing/monitoring)
func (l *InMemoryRunLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	held, ok := l.locks[key]
	return ok && time.Now().Before(held.expiresAt)
}

type inMemoryRunLock struct {
	locker *InMemoryRunLocker
	key    string
	token  uint64
	once   sync.Once
}

func (h *inMemoryRunLock) Refresh(_ context.Context, ttl time.Duration) error {
	return h.locker.refresh(h.key, h.token, ttl)
}

func (h *inMemoryRunLock) Release(context.Context) error {
	h.once.Do(func() { h.locker.release(h.key, h.token) })
	return nil
}

var _ compliance.RunLocker = (*InMemoryRunLocker)(nil)
