package telemetry

import (
	"context"
	"runtime/pprof"
	"testing"

	"github.com/govcon/shredder/internal/infrastructure/config"
	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStartProfiler_Disabled(t *testing.T) {
	p, err := StartProfiler(config.ProfilingConfig{Types: []string{"bogus"}}, nil)
	require.NoError(t, err)
	assert.False(t, p.Running())
	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
}

func TestStartProfiler_UnknownType(t *testing.T) {
	_, err := StartProfiler(config.ProfilingConfig{
		Enabled:       true,
		ServerAddress: "http://localhost:14040",
		Types:         []string{"cpu", "heap"},
	}, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, `"heap"`)
}

func TestParseProfileTypes(t *testing.T) {
	types, err := parseProfileTypes([]string{" CPU ", "inuse_space", "mutex_count"})
	require.NoError(t, err)
	assert.Equal(t, []pyroscope.ProfileType{
		pyroscope.ProfileCPU, pyroscope.ProfileInuseSpace, pyroscope.ProfileMutexCount,
	}, types)

	types, err = parseProfileTypes(nil)
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestProfileStage(t *testing.T) {
	var stage string
	var found bool
	ProfileStage(context.Background(), "extracting", func(ctx context.Context) {
		stage, found = pprof.Label(ctx, ProfileLabelStage)
	})
	assert.True(t, found)
	assert.Equal(t, "extracting", stage)
}

func TestSettings_WithSpanProfiles(t *testing.T) {
	s := Settings{Enabled: true}
	assert.False(t, s.WithSpanProfiles(config.ProfilingConfig{SpanProfiles: true}).SpanProfiles)
	assert.False(t, s.WithSpanProfiles(config.ProfilingConfig{Enabled: true}).SpanProfiles)
	assert.True(t, s.WithSpanProfiles(config.ProfilingConfig{Enabled: true, SpanProfiles: true}).SpanProfiles)
}

func TestSetup_SpanProfiles(t *testing.T) {
	restoreGlobals(t)
	p, err := Setup(context.Background(), Settings{
		Enabled:      true,
		Endpoint:     "localhost:14317",
		Insecure:     true,
		ServiceName:  "shredder-test",
		SpanProfiles: true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		_ = p.Shutdown(cancelled)
	})

	_, span := p.Tracer("test").Start(context.Background(), "profiled")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}
