package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRunLocker_Acquire(t *testing.T) {
	ctx := context.Background()

	t.Run("acquires a free key", func(t *testing.T) {
		l := NewInMemoryRunLocker()
		lock, err := l.Acquire(ctx, "shred:run:a", time.Minute)
		require.NoError(t, err)
		assert.True(t, l.Held("shred:run:a"))

		require.NoError(t, lock.Release(ctx))
		assert.False(t, l.Held("shred:run:a"))
	})

	t.Run("different keys do not block each other", func(t *testing.T) {
		l := NewInMemoryRunLocker()
		a, err := l.Acquire(ctx, "a", time.Minute)
		require.NoError(t, err)
		b, err := l.Acquire(ctx, "b", time.Minute)
		require.NoError(t, err)
		require.NoError(t, a.Release(ctx))
		require.NoError(t, b.Release(ctx))
	})

	t.Run("waits for release", func(t *testing.T) {
		l := NewInMemoryRunLocker()
		first, err := l.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)

		acquired := make(chan struct{})
		go func() {
			second, err := l.Acquire(ctx, "k", time.Minute)
			if err == nil {
				_ = second.Release(ctx)
			}
			close(acquired)
		}()

		select {
		case <-acquired:
			t.Fatal("second acquire should block while the lock is held")
		case <-time.After(50 * time.Millisecond):
		}

		require.NoError(t, first.Release(ctx))
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("second acquire did not proceed after release")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		l := NewInMemoryRunLocker()
		held, err := l.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		defer held.Release(ctx)

		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = l.Acquire(waitCtx, "k", time.Minute)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("expired lock can be taken over", func(t *testing.T) {
		l := NewInMemoryRunLocker()
		stale, err := l.Acquire(ctx, "k", 10*time.Millisecond)
		require.NoError(t, err)

		fresh, err := l.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)

		// the stale holder must not release the new holder's lock
		require.NoError(t, stale.Release(ctx))
		assert.True(t, l.Held("k"))
		require.NoError(t, fresh.Release(ctx))
	})

	t.Run("double release is a no-op", func(t *testing.T) {
		l := NewInMemoryRunLocker()
		lock, err := l.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.NoError(t, lock.Release(ctx))

		other, err := l.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.NoError(t, lock.Release(ctx))
		assert.True(t, l.Held("k"))
		require.NoError(t, other.Release(ctx))
	})
}

func TestInMemoryRunLocker_MutualExclusion(t *testing.T) {
	l := NewInMemoryRunLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := l.Acquire(ctx, "k", time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = lock.Release(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestInMemoryRunLocker_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("refresh keeps the lock past its ttl", func(t *testing.T) {
		l := NewInMemoryRunLocker()
		lock, err := l.Acquire(ctx, "k", 60*time.Millisecond)
		require.NoError(t, err)

		for i := 0; i < 4; i++ {
			time.Sleep(20 * time.Millisecond)
			require.NoError(t, lock.Refresh(ctx, 60*time.Millisecond))
		}
		assert.True(t, l.Held("k"))
		require.NoError(t, lock.Release(ctx))
	})

	t.Run("expired lock cannot be refreshed", func(t *testing.T) {
		l := NewInMemoryRunLocker()
		lock, err := l.Acquire(ctx, "k", 10*time.Millisecond)
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)

		assert.ErrorIs(t, lock.Refresh(ctx, time.Minute), compliance.ErrRunLockLost)
	})

	t.Run("taken over lock cannot be refreshed", func(t *testing.T) {
		l := NewInMemoryRunLocker()
		stale, err := l.Acquire(ctx, "k", 10*time.Millisecond)
		require.NoError(t, err)
		fresh, err := l.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)

		assert.ErrorIs(t, stale.Refresh(ctx, time.Minute), compliance.ErrRunLockLost)
		require.NoError(t, fresh.Refresh(ctx, time.Minute))
		require.NoError(t, fresh.Release(ctx))
	})

	t.Run("released lock cannot be refreshed", func(t *testing.T) {
		l := NewInMemoryRunLocker()
		lock, err := l.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.NoError(t, lock.Release(ctx))

		assert.ErrorIs(t, lock.Refresh(ctx, time.Minute), compliance.ErrRunLockLost)
	})
}
