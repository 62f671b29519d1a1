package cache

import (
	"context"
	"testing"

	"github.com/govcon/shredder/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRunLockerFactory_CreateLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("redis disabled uses in-memory", func(t *testing.T) {
		f := NewRunLockerFactory(config.RedisConfig{Enabled: false}, WithLogger(zaptest.NewLogger(t)))
		locker, err := f.CreateLocker(ctx)
		require.NoError(t, err)
		assert.IsType(t, &InMemoryRunLocker{}, locker)
	})

	unreachable := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}

	t.Run("unreachable redis falls back", func(t *testing.T) {
		f := NewRunLockerFactory(unreachable, WithLogger(zaptest.NewLogger(t)))
		locker, err := f.CreateLocker(ctx)
		require.NoError(t, err)
		assert.IsType(t, &InMemoryRunLocker{}, locker)
	})

	t.Run("unreachable redis without fallback fails", func(t *testing.T) {
		f := NewRunLockerFactory(unreachable, WithInMemoryFallback(false))
		_, err := f.CreateLocker(ctx)
		assert.ErrorContains(t, err, "unavailable")
	})
}
