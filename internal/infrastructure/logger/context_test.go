package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext_DefaultsToNop(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}

func TestL_InjectsRunFields(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	ctx := WithContext(context.Background(), zap.New(core))
	ctx, _ = WithRequestID(ctx, FromContext(ctx), "req-1")
	ctx = WithRun(ctx, "opp-1", "run-1")

	L(ctx).Info("stage done", zap.String("stage", "extracting"))

	require.Equal(t, 1, recorded.Len())
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, "opp-1", fields["opportunity_id"])
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "extracting", fields["stage"])
}

func TestContextLogger_With(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	cl := WithLogger(context.Background(), zap.New(core)).With(zap.String("component", "pipeline"))

	cl.Warn("degraded")
	cl.Debug("dropped")

	require.Equal(t, 1, recorded.Len())
	assert.Equal(t, "pipeline", recorded.All()[0].ContextMap()["component"])
}

func TestGetters_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetOpportunityID(ctx))
	assert.Empty(t, GetRunID(ctx))
	assert.Empty(t, GetTraceID(ctx))
}
