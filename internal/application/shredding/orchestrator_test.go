package shredding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/domain/shredding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

// fakeClassifier classifies single texts with fn and tracks concurrency
type fakeClassifier struct {
	fn          func(ctx context.Context, text string) (compliance.ClassificationResult, error)
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeClassifier) Name() string { return "fake" }

func (f *fakeClassifier) enter() func() {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (compliance.ClassificationResult, error) {
	defer f.enter()()
	return f.fn(ctx, text)
}

// fakeBatchClassifier adds ClassifyBatch
type fakeBatchClassifier struct {
	fakeClassifier
	batchFn func(ctx context.Context, texts []string) ([]compliance.ClassificationResult, error)

	mu    sync.Mutex
	sizes []int
}

func (f *fakeBatchClassifier) ClassifyBatch(ctx context.Context, texts []string) ([]compliance.ClassificationResult, error) {
	defer f.enter()()
	f.mu.Lock()
	f.sizes = append(f.sizes, len(texts))
	f.mu.Unlock()
	return f.batchFn(ctx, texts)
}

// echo classifies a text as mandatory with the text as its category
func echo(text string) compliance.ClassificationResult {
	return compliance.ClassificationResult{
		ComplianceType: compliance.ComplianceTypeMandatory,
		Category:       text,
		Priority:       compliance.PriorityHigh,
		Confidence:     0.9,
		Keywords:       []string{"Shall", "shall "},
	}
}

func candidatesOf(texts ...string) []shredding.Candidate {
	out := make([]shredding.Candidate, len(texts))
	for i, t := range texts {
		out[i] = shredding.Candidate{Text: t, SectionLabel: "C", Sequence: i + 1}
	}
	return out
}

func numbered(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("req %02d", i)
	}
	return out
}

func newTestOrchestrator(t *testing.T, c compliance.Classifier, cfg OrchestratorConfig) (*ClassificationOrchestrator, *[]time.Duration) {
	t.Helper()
	o := NewClassificationOrchestrator(c, cfg, zaptest.NewLogger(t), nil)
	var mu sync.Mutex
	waits := []time.Duration{}
	o.sleep = func(ctx context.Context, d time.Duration) bool {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return ctx.Err() == nil
	}
	return o, &waits
}

func TestClassify_OrderingUnderConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	texts := numbered(11)
	c := &fakeClassifier{fn: func(ctx context.Context, text string) (compliance.ClassificationResult, error) {
		// later texts finish first
		var i int
		_, _ = fmt.Sscanf(text, "req %d", &i)
		time.Sleep(time.Duration(11-i) * time.Millisecond)
		return echo(text), nil
	}}
	o, _ := newTestOrchestrator(t, c, OrchestratorConfig{BatchSize: 2, MaxConcurrency: 3})

	out, err := o.Classify(context.Background(), candidatesOf(texts...))
	require.NoError(t, err)
	require.Len(t, out.Results, len(texts))
	for i, r := range out.Results {
		assert.Equal(t, texts[i], r.Category, "result %d", i)
		assert.Equal(t, "fake", r.Source)
		assert.Equal(t, []string{"shall"}, r.Keywords)
	}
	assert.Zero(t, out.Fallbacks)
	assert.False(t, out.Degraded)
	assert.Equal(t, int32(len(texts)), c.calls.Load())
	assert.LessOrEqual(t, c.maxInFlight.Load(), int32(3))
}

func TestClassify_BatchClassifierGetsOneCallPerBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &fakeBatchClassifier{batchFn: func(_ context.Context, texts []string) ([]compliance.ClassificationResult, error) {
		out := make([]compliance.ClassificationResult, len(texts))
		for i, t := range texts {
			out[i] = echo(t)
		}
		return out, nil
	}}
	o, _ := newTestOrchestrator(t, c, OrchestratorConfig{BatchSize: 4, MaxConcurrency: 2})

	texts := numbered(10)
	out, err := o.Classify(context.Background(), candidatesOf(texts...))
	require.NoError(t, err)

	assert.Equal(t, int32(3), c.calls.Load())
	assert.ElementsMatch(t, []int{4, 4, 2}, c.sizes)
	for i, r := range out.Results {
		assert.Equal(t, texts[i], r.Category)
	}
	assert.LessOrEqual(t, c.maxInFlight.Load(), int32(2))
}

func TestClassify_RetriesTransientFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	var attempts atomic.Int32
	c := &fakeClassifier{fn: func(_ context.Context, text string) (compliance.ClassificationResult, error) {
		if attempts.Add(1) <= 2 {
			return compliance.ClassificationResult{}, fmt.Errorf("%w: model loading", compliance.ErrClassifierUnavailable)
		}
		return echo(text), nil
	}}
	o, waits := newTestOrchestrator(t, c, OrchestratorConfig{BatchSize: 1, MaxConcurrency: 1, MaxRetries: 2, RetryBackoff: 10 * time.Millisecond})

	out, err := o.Classify(context.Background(), candidatesOf("The contractor shall comply."))
	require.NoError(t, err)
	assert.Equal(t, int32(3), c.calls.Load())
	assert.False(t, out.Degraded)
	assert.Equal(t, compliance.ComplianceTypeMandatory, out.Results[0].ComplianceType)
	// linear backoff
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *waits)
}

func TestClassify_FallbackAfterExhaustion(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &fakeClassifier{fn: func(context.Context, string) (compliance.ClassificationResult, error) {
		return compliance.ClassificationResult{}, compliance.ErrClassifierUnavailable
	}}
	o, _ := newTestOrchestrator(t, c, OrchestratorConfig{BatchSize: 2, MaxConcurrency: 2, MaxRetries: 1})

	out, err := o.Classify(context.Background(), candidatesOf(numbered(3)...))
	require.NoError(t, err)
	assert.Equal(t, int32(6), c.calls.Load())
	assert.Equal(t, 3, out.Fallbacks)
	assert.True(t, out.Degraded)
	for _, r := range out.Results {
		assert.Equal(t, compliance.FallbackResult(), r)
	}
}

func TestClassify_NonTransientIsNotRetried(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &fakeClassifier{fn: func(context.Context, string) (compliance.ClassificationResult, error) {
		return compliance.ClassificationResult{}, errors.New("model not found")
	}}
	o, waits := newTestOrchestrator(t, c, OrchestratorConfig{MaxRetries: 3})

	out, err := o.Classify(context.Background(), candidatesOf("The contractor shall comply."))
	require.NoError(t, err)
	assert.Equal(t, int32(1), c.calls.Load())
	assert.Empty(t, *waits)
	assert.Equal(t, 1, out.Fallbacks)
}

func TestClassify_FailedBatchDegradesOnlyItsCandidates(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &fakeBatchClassifier{batchFn: func(_ context.Context, texts []string) ([]compliance.ClassificationResult, error) {
		for _, t := range texts {
			if strings.HasPrefix(t, "bad") {
				return nil, compliance.ErrClassifierUnavailable
			}
		}
		out := make([]compliance.ClassificationResult, len(texts))
		for i, t := range texts {
			out[i] = echo(t)
		}
		return out, nil
	}}
	o, _ := newTestOrchestrator(t, c, OrchestratorConfig{BatchSize: 2, MaxConcurrency: 2})

	out, err := o.Classify(context.Background(), candidatesOf("ok 1", "ok 2", "bad 3", "ok 4", "ok 5"))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Fallbacks)
	assert.True(t, out.Results[2].Fallback)
	assert.True(t, out.Results[3].Fallback)
	assert.Equal(t, "ok 1", out.Results[0].Category)
	assert.Equal(t, "ok 5", out.Results[4].Category)
}

func TestClassify_ShortBatchReplyIsSplit(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &fakeBatchClassifier{batchFn: func(context.Context, []string) ([]compliance.ClassificationResult, error) {
		return []compliance.ClassificationResult{echo("only one")}, nil
	}}
	c.fn = func(_ context.Context, text string) (compliance.ClassificationResult, error) {
		return echo(text), nil
	}
	o, _ := newTestOrchestrator(t, c, OrchestratorConfig{BatchSize: 3, MaxRetries: 1})

	texts := numbered(3)
	out, err := o.Classify(context.Background(), candidatesOf(texts...))
	require.NoError(t, err)
	// one batch call plus its retry, then one call per candidate
	assert.Equal(t, int32(5), c.calls.Load())
	assert.Zero(t, out.Fallbacks)
	for i, text := range texts {
		assert.Equal(t, text, out.Results[i].Category)
	}
}

func TestClassify_MalformedItemDegradesOnlyItself(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &fakeBatchClassifier{batchFn: func(_ context.Context, texts []string) ([]compliance.ClassificationResult, error) {
		for _, t := range texts {
			if strings.HasPrefix(t, "bad") {
				return nil, fmt.Errorf("%w: %w: confidence %q is not a number",
					compliance.ErrClassifierUnavailable, compliance.ErrMalformedClassification, "high")
			}
		}
		out := make([]compliance.ClassificationResult, len(texts))
		for i, t := range texts {
			out[i] = echo(t)
		}
		return out, nil
	}}
	c.fn = func(_ context.Context, text string) (compliance.ClassificationResult, error) {
		if strings.HasPrefix(text, "bad") {
			return compliance.ClassificationResult{}, compliance.ErrMalformedClassification
		}
		return echo(text), nil
	}
	o, _ := newTestOrchestrator(t, c, OrchestratorConfig{BatchSize: 4, MaxConcurrency: 1})

	out, err := o.Classify(context.Background(), candidatesOf("ok 1", "ok 2", "bad 3", "ok 4"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Fallbacks)
	assert.True(t, out.Results[2].Fallback)
	for _, i := range []int{0, 1, 3} {
		assert.False(t, out.Results[i].Fallback)
		assert.Equal(t, fmt.Sprintf("ok %d", i+1), out.Results[i].Category)
	}
}

func TestClassify_ValidatesOutput(t *testing.T) {
	c := &fakeClassifier{fn: func(context.Context, string) (compliance.ClassificationResult, error) {
		return compliance.ClassificationResult{
			ComplianceType: "critical",
			Priority:       "urgent",
			Confidence:     0.95,
			Keywords:       []string{" A ", "a"},
		}, nil
	}}
	o, _ := newTestOrchestrator(t, c, OrchestratorConfig{LowConfidenceCeiling: 0.25})

	out, err := o.Classify(context.Background(), candidatesOf("The contractor shall comply."))
	require.NoError(t, err)
	r := out.Results[0]
	assert.Equal(t, compliance.ComplianceTypeUnclassified, r.ComplianceType)
	assert.Equal(t, compliance.PriorityMedium, r.Priority)
	assert.Equal(t, 0.25, r.Confidence)
	assert.Equal(t, compliance.DefaultCategory, r.Category)
	assert.Equal(t, []string{"a"}, r.Keywords)
	assert.Equal(t, "fake", r.Source)
	assert.False(t, out.Degraded)
}

func TestClassify_CancelledBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &fakeClassifier{fn: func(_ context.Context, text string) (compliance.ClassificationResult, error) {
		return echo(text), nil
	}}
	o, _ := newTestOrchestrator(t, c, DefaultOrchestratorConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Classify(ctx, candidatesOf(numbered(5)...))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.calls.Load())
}

func TestClassify_CancelStopsDispatchButFinishesInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sawCancelled atomic.Bool
	c := &fakeClassifier{fn: func(callCtx context.Context, text string) (compliance.ClassificationResult, error) {
		cancel()
		// the call context is detached from run cancellation
		sawCancelled.Store(callCtx.Err() != nil)
		return echo(text), nil
	}}
	o, _ := newTestOrchestrator(t, c, OrchestratorConfig{BatchSize: 1, MaxConcurrency: 1})

	out, err := o.Classify(ctx, candidatesOf(numbered(5)...))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), c.calls.Load())
	assert.False(t, sawCancelled.Load())
	assert.Equal(t, "req 00", out.Results[0].Category)
}

func TestClassify_CallTimeoutIsRetried(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &fakeClassifier{fn: func(ctx context.Context, _ string) (compliance.ClassificationResult, error) {
		<-ctx.Done()
		return compliance.ClassificationResult{}, ctx.Err()
	}}
	o, _ := newTestOrchestrator(t, c, OrchestratorConfig{CallTimeout: 10 * time.Millisecond, MaxRetries: 1})

	out, err := o.Classify(context.Background(), candidatesOf("The contractor shall comply."))
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.calls.Load())
	assert.True(t, out.Results[0].Fallback)
}

func TestClassify_Empty(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeClassifier{}, DefaultOrchestratorConfig())
	out, err := o.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.False(t, out.Degraded)
}

type statusErr struct{ transient bool }

func (e statusErr) Error() string   { return "status" }
func (e statusErr) Transient() bool { return e.transient }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", fmt.Errorf("x: %w", compliance.ErrClassifierUnavailable), true},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("bad request"), false},
		{"self-reported transient", statusErr{transient: true}, true},
		{"self-reported permanent wins", fmt.Errorf("%w: %w", compliance.ErrClassifierUnavailable, statusErr{}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestOrchestratorConfig_Defaults(t *testing.T) {
	o := NewClassificationOrchestrator(&fakeClassifier{}, OrchestratorConfig{MaxRetries: -1}, nil, nil)
	cfg := o.Config()
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 2, cfg.MaxConcurrency)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, compliance.LowConfidenceCeiling, cfg.LowConfidenceCeiling)
}
