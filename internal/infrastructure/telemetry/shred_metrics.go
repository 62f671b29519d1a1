package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ShredMetrics records shredding run and classification metrics.
// A nil *ShredMetrics is valid and records nothing.
type ShredMetrics struct {
	logger *zap.Logger

	runsTotal            *Counter
	runDuration          *Histogram
	classifyCalls        *Counter
	classifyDuration     *Histogram
	classifierFallbacks  *Counter
	requirementsIngested *Counter
	headingAnomalies     *Counter
	lastRunRequirements  *Gauge
	lastRunFallbackRatio *FloatGauge
}

// ShredMetricsConfig holds configuration for shredding metrics.
type ShredMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewShredMetrics creates the shredding instruments on the given meter.
func NewShredMetrics(cfg ShredMetricsConfig) (*ShredMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &ShredMetrics{logger: logger}

	var err error
	if sm.runsTotal, err = NewCounter(cfg.Meter, "shred_runs_total",
		"Total number of shredding runs by final state", "{run}"); err != nil {
		return nil, err
	}
	if sm.runDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "shred_run_duration_seconds",
		Description: "Duration of shredding runs",
		Unit:        "s",
		Boundaries:  RunDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if sm.classifyCalls, err = NewCounter(cfg.Meter, "shred_classifier_calls_total",
		"Classifier calls by outcome", "{call}"); err != nil {
		return nil, err
	}
	if sm.classifyDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "shred_classifier_call_duration_seconds",
		Description: "Duration of individual classifier calls including retries",
		Unit:        "s",
		Boundaries:  ClassifierDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if sm.classifierFallbacks, err = NewCounter(cfg.Meter, "shred_classifier_fallbacks_total",
		"Candidates that received the fallback classification", "{candidate}"); err != nil {
		return nil, err
	}
	if sm.requirementsIngested, err = NewCounter(cfg.Meter, "shred_requirements_ingested_total",
		"Requirements written by ingest, by outcome", "{requirement}"); err != nil {
		return nil, err
	}
	if sm.headingAnomalies, err = NewCounter(cfg.Meter, "shred_heading_anomalies_total",
		"Heading-like lines rejected during sectioning", "{line}"); err != nil {
		return nil, err
	}
	if sm.lastRunRequirements, err = NewGauge(cfg.Meter, "shred_last_run_requirements",
		"Requirements produced by the most recent completed run", "{requirement}"); err != nil {
		return nil, err
	}
	if sm.lastRunFallbackRatio, err = NewFloatGauge(cfg.Meter, "shred_last_run_fallback_ratio",
		"Share of candidates that fell back in the most recent completed run", "1"); err != nil {
		return nil, err
	}

	return sm, nil
}

// RecordRun records a finished run.
func (sm *ShredMetrics) RecordRun(ctx context.Context, state string, d time.Duration) {
	if sm == nil {
		return
	}
	attr := AttrRunState.String(state)
	sm.runsTotal.Inc(ctx, attr)
	sm.runDuration.RecordDuration(ctx, d, attr)
}

// RecordRunOutput records the size and quality of a completed run.
func (sm *ShredMetrics) RecordRunOutput(ctx context.Context, requirements, fallbacks int) {
	if sm == nil {
		return
	}
	sm.lastRunRequirements.Record(ctx, int64(requirements))
	ratio := 0.0
	if requirements > 0 {
		ratio = float64(fallbacks) / float64(requirements)
	}
	sm.lastRunFallbackRatio.Record(ctx, ratio)
}

// RecordClassifierCall records one classifier call, successful or not.
func (sm *ShredMetrics) RecordClassifierCall(ctx context.Context, classifier string, d time.Duration, err error) {
	if sm == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := []attribute.KeyValue{AttrClassifier.String(classifier), AttrOutcome.String(outcome)}
	sm.classifyCalls.Inc(ctx, attrs...)
	sm.classifyDuration.RecordDuration(ctx, d, attrs...)
}

// RecordFallbacks records candidates that degraded to the fallback result.
func (sm *ShredMetrics) RecordFallbacks(ctx context.Context, classifier string, n int) {
	if sm == nil || n <= 0 {
		return
	}
	sm.classifierFallbacks.Add(ctx, int64(n), AttrClassifier.String(classifier))
}

// RecordIngest records the outcome counts of one ingest.
func (sm *ShredMetrics) RecordIngest(ctx context.Context, inserted, updated, unchanged int) {
	if sm == nil {
		return
	}
	sm.requirementsIngested.Add(ctx, int64(inserted), AttrOutcome.String("inserted"))
	sm.requirementsIngested.Add(ctx, int64(updated), AttrOutcome.String("updated"))
	sm.requirementsIngested.Add(ctx, int64(unchanged), AttrOutcome.String("unchanged"))
}

// RecordAnomalies records rejected heading lines.
func (sm *ShredMetrics) RecordAnomalies(ctx context.Context, n int) {
	if sm == nil || n <= 0 {
		return
	}
	sm.headingAnomalies.Add(ctx, int64(n))
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewShredMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
