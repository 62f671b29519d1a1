package shredding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/domain/shredding"
	"github.com/govcon/shredder/internal/infrastructure/config"
	"github.com/govcon/shredder/internal/infrastructure/logger"
	"github.com/govcon/shredder/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OrchestratorConfig configures batching, concurrency and retries of
// classifier calls
type OrchestratorConfig struct {
	BatchSize      int
	MaxConcurrency int
	MaxRetries     int
	RetryBackoff   time.Duration
	// CallTimeout bounds one classifier call, retries excluded
	CallTimeout          time.Duration
	LowConfidenceCeiling float64
}

// DefaultOrchestratorConfig returns the default settings
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		BatchSize:            4,
		MaxConcurrency:       2,
		MaxRetries:           2,
		RetryBackoff:         time.Second,
		CallTimeout:          60 * time.Second,
		LowConfidenceCeiling: compliance.LowConfidenceCeiling,
	}
}

// OrchestratorConfigFrom maps the classifier configuration section
func OrchestratorConfigFrom(cfg config.ClassifierConfig) OrchestratorConfig {
	return OrchestratorConfig{
		BatchSize:            cfg.BatchSize,
		MaxConcurrency:       cfg.MaxConcurrency,
		MaxRetries:           cfg.MaxRetries,
		RetryBackoff:         cfg.RetryBackoff,
		CallTimeout:          cfg.Timeout,
		LowConfidenceCeiling: cfg.LowConfidenceCeiling,
	}
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	d := DefaultOrchestratorConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.LowConfidenceCeiling <= 0 || c.LowConfidenceCeiling > 1 {
		c.LowConfidenceCeiling = d.LowConfidenceCeiling
	}
	return c
}

// ClassificationOutcome is the classification of a run's candidates.
// Results[i] belongs to candidate i.
type ClassificationOutcome struct {
	Results   []compliance.ClassificationResult
	Fallbacks int
	Degraded  bool
}

// ClassificationOrchestrator classifies candidates in bounded concurrent
// batches. Failed calls are retried and then degrade to the fallback result,
// so classification never fails a run. Only cancellation is returned.
type ClassificationOrchestrator struct {
	classifier compliance.Classifier
	batch      compliance.BatchClassifier
	cfg        OrchestratorConfig
	logger     *zap.Logger
	metrics    *telemetry.ShredMetrics
	sleep      func(ctx context.Context, d time.Duration) bool
}

// NewClassificationOrchestrator creates an orchestrator. metrics may be nil.
func NewClassificationOrchestrator(
	classifier compliance.Classifier,
	cfg OrchestratorConfig,
	log *zap.Logger,
	metrics *telemetry.ShredMetrics,
) *ClassificationOrchestrator {
	o := &ClassificationOrchestrator{
		classifier: classifier,
		cfg:        cfg.withDefaults(),
		logger:     logger.OrNop(log).Named("classification"),
		metrics:    metrics,
		sleep:      sleepCtx,
	}
	if b, ok := classifier.(compliance.BatchClassifier); ok {
		o.batch = b
	}
	return o
}

// Config returns the effective configuration
func (o *ClassificationOrchestrator) Config() OrchestratorConfig {
	return o.cfg
}

// Classify classifies every candidate. Once ctx is cancelled no further batch
// is started, batches already running finish, and ctx.Err() is returned.
func (o *ClassificationOrchestrator) Classify(ctx context.Context, candidates []shredding.Candidate) (ClassificationOutcome, error) {
	n := len(candidates)
	outcome := ClassificationOutcome{Results: make([]compliance.ClassificationResult, n)}
	if n == 0 {
		return outcome, ctx.Err()
	}

	batches := (n + o.cfg.BatchSize - 1) / o.cfg.BatchSize
	ctx, span := telemetry.StartServiceSpan(ctx, "classification", "classify",
		telemetry.WithAttribute(telemetry.SpanAttrClassifier, o.classifier.Name()),
		telemetry.WithAttribute(telemetry.SpanAttrCandidates, n),
		telemetry.WithAttribute(telemetry.SpanAttrBatchSize, o.cfg.BatchSize),
		telemetry.WithAttribute("batches", batches),
	)
	defer span.End()

	texts := make([]string, n)
	for i, c := range candidates {
		texts[i] = c.Text
	}

	var fallbacks atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.MaxConcurrency)

	for start := 0; start < n; start += o.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+o.cfg.BatchSize, n)
		g.Go(func() error {
			// a slot may free up only after cancellation
			if ctx.Err() != nil {
				return nil
			}
			fallbacks.Add(int64(o.classifyBatch(ctx, texts[start:end], outcome.Results[start:end])))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		telemetry.RecordError(span, err)
		return outcome, err
	}

	outcome.Fallbacks = int(fallbacks.Load())
	outcome.Degraded = outcome.Fallbacks > 0
	o.metrics.RecordFallbacks(ctx, o.classifier.Name(), outcome.Fallbacks)
	telemetry.SetAttribute(span, "fallbacks", outcome.Fallbacks)

	switch {
	case outcome.Fallbacks == n:
		logger.WithLogger(ctx, o.logger).Warn("Classifier unavailable, every candidate degraded to fallback",
			zap.String("classifier", o.classifier.Name()),
			zap.Int("candidates", n),
		)
	case outcome.Degraded:
		logger.WithLogger(ctx, o.logger).Warn("Classification degraded",
			zap.String("classifier", o.classifier.Name()),
			zap.Int("candidates", n),
			zap.Int("fallbacks", outcome.Fallbacks),
		)
	}
	telemetry.SetOK(span)
	return outcome, nil
}

// classifyBatch fills out for texts and returns the number of fallbacks.
// A batch reply that arrives malformed is retried candidate by candidate, so
// one unusable item does not degrade its neighbours; a batch that fails for
// any other reason degrades as a whole.
func (o *ClassificationOrchestrator) classifyBatch(ctx context.Context, texts []string, out []compliance.ClassificationResult) int {
	if o.batch == nil {
		return o.classifyEach(ctx, texts, out)
	}

	var results []compliance.ClassificationResult
	err := o.withRetry(ctx, func(callCtx context.Context) error {
		r, err := o.batch.ClassifyBatch(callCtx, texts)
		if err != nil {
			return err
		}
		if len(r) != len(texts) {
			return fmt.Errorf("%w: %w: got %d results for %d texts",
				compliance.ErrClassifierUnavailable, compliance.ErrMalformedClassification, len(r), len(texts))
		}
		results = r
		return nil
	})
	if err == nil {
		for i, r := range results {
			out[i] = o.validate(r)
		}
		return 0
	}

	if len(texts) > 1 && errors.Is(err, compliance.ErrMalformedClassification) {
		logger.WithLogger(ctx, o.logger).Warn("Batch reply unusable, classifying candidates one at a time",
			zap.String("classifier", o.classifier.Name()),
			zap.Int("candidates", len(texts)),
			zap.Error(err),
		)
		return o.classifyEach(ctx, texts, out)
	}
	o.logFailure(ctx, err, len(texts))
	for i := range out {
		out[i] = compliance.FallbackResult()
	}
	return len(out)
}

// classifyEach classifies texts with one call per candidate
func (o *ClassificationOrchestrator) classifyEach(ctx context.Context, texts []string, out []compliance.ClassificationResult) int {
	fallbacks := 0
	for i, text := range texts {
		var result compliance.ClassificationResult
		err := o.withRetry(ctx, func(callCtx context.Context) error {
			r, err := o.classifier.Classify(callCtx, text)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if err != nil {
			o.logFailure(ctx, err, 1)
			out[i] = compliance.FallbackResult()
			fallbacks++
			continue
		}
		out[i] = o.validate(result)
	}
	return fallbacks
}

func (o *ClassificationOrchestrator) validate(r compliance.ClassificationResult) compliance.ClassificationResult {
	if r.Source == "" {
		r.Source = o.classifier.Name()
	}
	r.Fallback = false
	return compliance.ValidateClassification(r, o.cfg.LowConfidenceCeiling)
}

func (o *ClassificationOrchestrator) logFailure(ctx context.Context, err error, candidates int) {
	logger.WithLogger(ctx, o.logger).Warn("Classifier call failed, using fallback",
		zap.String("classifier", o.classifier.Name()),
		zap.Int("candidates", candidates),
		zap.Bool("transient", IsTransient(err)),
		zap.Error(err),
	)
}

// withRetry runs call with its own timeout on a context detached from run
// cancellation. Transient failures are retried with linear backoff; the
// backoff wait itself ends early when the run is cancelled.
func (o *ClassificationOrchestrator) withRetry(ctx context.Context, call func(ctx context.Context) error) error {
	detached := context.WithoutCancel(ctx)
	var err error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if !o.sleep(ctx, time.Duration(attempt)*o.cfg.RetryBackoff) {
				return err
			}
		}

		callCtx, cancel := context.WithTimeout(detached, o.cfg.CallTimeout)
		start := time.Now()
		err = call(callCtx)
		cancel()
		o.metrics.RecordClassifierCall(detached, o.classifier.Name(), time.Since(start), err)

		if err == nil || !IsTransient(err) {
			return err
		}
		logger.WithLogger(ctx, o.logger).Debug("Retrying classifier call",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", o.cfg.MaxRetries),
			zap.Error(err),
		)
	}
	return err
}

// IsTransient reports whether a classifier error may succeed on retry:
// timeouts, network errors, and anything wrapping ErrClassifierUnavailable.
// Errors that report their own transience decide for themselves.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	if errors.Is(err, compliance.ErrClassifierUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
