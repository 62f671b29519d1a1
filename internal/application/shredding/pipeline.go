// Package shredding runs the requirement shredding pipeline: sectioning,
// extraction, classification and persistence of one solicitation.
package shredding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/domain/shared"
	"github.com/govcon/shredder/internal/domain/shredding"
	"github.com/govcon/shredder/internal/infrastructure/logger"
	"github.com/govcon/shredder/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ShredRequest is the input of one run. Either OpportunityID or
// SolicitationNumber identifies the opportunity.
type ShredRequest struct {
	OpportunityID      uuid.UUID
	SolicitationNumber string
	Title              string
	Text               string
}

// PipelineConfig configures the pipeline. The run lock is refreshed every
// third of LockTTL for as long as a run is active.
type PipelineConfig struct {
	LockTTL          time.Duration
	RunTimeout       time.Duration
	MinLength        int
	MaxHeadingLength int
}

// DefaultPipelineConfig returns the default settings
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		LockTTL:          2 * time.Minute,
		MinLength:        shredding.DefaultMinLength,
		MaxHeadingLength: shredding.MaxHeadingLength,
	}
}

// RunReport summarizes a finished run
type RunReport struct {
	RunID              uuid.UUID               `json:"run_id"`
	OpportunityID      uuid.UUID               `json:"opportunity_id"`
	SolicitationNumber string                  `json:"solicitation_number"`
	State              RunState                `json:"state"`
	Error              string                  `json:"error,omitempty"`
	Sections           int                     `json:"sections"`
	Candidates         int                     `json:"candidates"`
	Ingest             compliance.IngestResult `json:"ingest"`
	Fallbacks          int                     `json:"fallbacks"`
	Degraded           bool                    `json:"degraded"`
	Anomalies          []shredding.Anomaly     `json:"anomalies"`
	Stages             []StageTiming           `json:"stages"`
	StartedAt          time.Time               `json:"started_at"`
	Duration           time.Duration           `json:"duration"`
}

// Pipeline drives runs through their states. Runs of one opportunity are
// serialized by the run locker; runs of different opportunities proceed in
// parallel.
type Pipeline struct {
	store      compliance.Store
	locker     compliance.RunLocker
	classifier *ClassificationOrchestrator
	publisher  shared.EventPublisher
	tracker    *RunTracker
	cfg        PipelineConfig
	logger     *zap.Logger
	metrics    *telemetry.ShredMetrics

	// background runs started with Start
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithEventPublisher publishes run and opportunity events
func WithEventPublisher(p shared.EventPublisher) PipelineOption {
	return func(pl *Pipeline) {
		pl.publisher = p
	}
}

// WithRunTracker records run snapshots in t
func WithRunTracker(t *RunTracker) PipelineOption {
	return func(pl *Pipeline) {
		if t != nil {
			pl.tracker = t
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) PipelineOption {
	return func(pl *Pipeline) {
		pl.logger = logger.OrNop(l)
	}
}

// WithMetrics records run metrics
func WithMetrics(m *telemetry.ShredMetrics) PipelineOption {
	return func(pl *Pipeline) {
		pl.metrics = m
	}
}

// NewPipeline creates a pipeline
func NewPipeline(
	store compliance.Store,
	locker compliance.RunLocker,
	classifier *ClassificationOrchestrator,
	cfg PipelineConfig,
	opts ...PipelineOption,
) *Pipeline {
	d := DefaultPipelineConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = d.LockTTL
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = d.MinLength
	}
	if cfg.MaxHeadingLength <= 0 {
		cfg.MaxHeadingLength = d.MaxHeadingLength
	}

	p := &Pipeline{
		store:      store,
		locker:     locker,
		classifier: classifier,
		tracker:    NewRunTracker(),
		cfg:        cfg,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pipeline")
	p.bgCtx, p.bgCancel = context.WithCancel(context.Background())
	return p
}

// Tracker returns the run tracker
func (p *Pipeline) Tracker() *RunTracker {
	return p.tracker
}

// Run executes a run synchronously. On failure the report describes the
// failed or cancelled run and the error says why.
func (p *Pipeline) Run(ctx context.Context, req ShredRequest) (*RunReport, error) {
	opp, err := opportunityFor(req)
	if err != nil {
		return nil, err
	}
	run := newRun(opp.ID)
	p.tracker.Record(run.Snapshot())
	return p.execute(ctx, run, opp, req)
}

// Start executes a run in the background and returns its first snapshot.
// Background runs are cancelled by Shutdown.
func (p *Pipeline) Start(ctx context.Context, req ShredRequest) (Run, error) {
	opp, err := opportunityFor(req)
	if err != nil {
		return Run{}, err
	}
	if p.bgCtx.Err() != nil {
		return Run{}, shared.NewDomainError(shared.ErrInvalidState.Code, "Pipeline is shutting down")
	}

	run := newRun(opp.ID)
	snapshot := run.Snapshot()
	p.tracker.Record(snapshot)

	runCtx := logger.WithContext(p.bgCtx, logger.FromContext(ctx))
	if id := logger.GetRequestID(ctx); id != "" {
		runCtx = context.WithValue(runCtx, logger.RequestIDKey, id)
	}

	p.bgWG.Add(1)
	go func() {
		defer p.bgWG.Done()
		_, _ = p.execute(runCtx, run, opp, req)
	}()
	return snapshot, nil
}

// Shutdown cancels background runs and waits for them to stop
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.bgCancel()
	done := make(chan struct{})
	go func() {
		p.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func opportunityFor(req ShredRequest) (*compliance.Opportunity, error) {
	if req.OpportunityID == uuid.Nil && strings.TrimSpace(req.SolicitationNumber) == "" {
		return nil, shared.NewDomainError(shared.ErrInvalidInput.Code, "Either an opportunity id or a solicitation number is required")
	}
	return compliance.NewOpportunity(req.OpportunityID, req.SolicitationNumber, req.Title)
}

// execution carries the state of one run between stages
type execution struct {
	run       *Run
	opp       *compliance.Opportunity
	report    *RunReport
	anomalies []shredding.Anomaly
	started   bool // opportunity moved to analyzing
}

func (p *Pipeline) execute(ctx context.Context, run *Run, opp *compliance.Opportunity, req ShredRequest) (*RunReport, error) {
	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}
	ctx = logger.WithRun(ctx, opp.ID.String(), run.ID.String())
	ctx, span := telemetry.StartServiceSpan(ctx, "pipeline", "run",
		telemetry.WithAttribute(telemetry.SpanAttrOpportunityID, opp.ID),
		telemetry.WithAttribute(telemetry.SpanAttrSolicitationNumber, opp.SolicitationNumber),
		telemetry.WithAttribute(telemetry.SpanAttrRunID, run.ID),
	)
	defer span.End()

	x := &execution{
		run: run,
		opp: opp,
		report: &RunReport{
			RunID:              run.ID,
			OpportunityID:      opp.ID,
			SolicitationNumber: opp.SolicitationNumber,
			StartedAt:          run.StartedAt,
			Anomalies:          []shredding.Anomaly{},
		},
	}

	err := p.stages(ctx, x, req)
	report, err := p.finish(ctx, x, err)
	telemetry.SetAttributes(span,
		telemetry.SpanAttrRunState, string(report.State),
		telemetry.SpanAttrSections, report.Sections,
		telemetry.SpanAttrCandidates, report.Candidates,
		telemetry.SpanAttrFallbacks, report.Fallbacks,
		telemetry.SpanAttrDegraded, report.Degraded,
	)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetOK(span)
	}
	return report, err
}

// stages runs every stage in order. Cancellation is checked between stages
// and by the classifier between batches.
func (p *Pipeline) stages(ctx context.Context, x *execution, req ShredRequest) error {
	lock, err := p.locker.Acquire(ctx, compliance.RunLockKey(x.opp.ID), p.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.WithLogger(ctx, p.logger).Warn("Failed to release run lock", zap.Error(err))
		}
	}()

	lockCtx, stop := p.keepLock(ctx, lock)
	defer stop()
	err = p.lockedStages(lockCtx, x, req)
	if err != nil {
		if cause := context.Cause(lockCtx); errors.Is(cause, compliance.ErrRunLockLost) {
			return fmt.Errorf("run stopped: %w", cause)
		}
	}
	return err
}

// keepLock refreshes lock until stop is called. Once the lock is lost the
// returned context is cancelled with compliance.ErrRunLockLost as its cause,
// so the run stops before it can overlap a run that took the lock over.
// Refresh errors other than a lost lock are retried on the next tick.
func (p *Pipeline) keepLock(ctx context.Context, lock compliance.RunLock) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.cfg.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := lock.Refresh(ctx, p.cfg.LockTTL)
			switch {
			case err == nil:
			case errors.Is(err, compliance.ErrRunLockLost):
				logger.WithLogger(ctx, p.logger).Error("Run lock lost, stopping run")
				cancel(err)
				return
			default:
				logger.WithLogger(ctx, p.logger).Warn("Failed to refresh run lock", zap.Error(err))
			}
		}
	}()
	return ctx, func() {
		close(done)
		wg.Wait()
		cancel(nil)
	}
}

// lockedStages runs the stages while the run lock is held
func (p *Pipeline) lockedStages(ctx context.Context, x *execution, req ShredRequest) error {
	stored, err := p.store.EnsureOpportunity(ctx, x.opp)
	if err != nil {
		return fmt.Errorf("%w: ensure opportunity: %w", ErrStorage, err)
	}
	stored.Rename(req.Title)
	x.opp = stored
	x.report.SolicitationNumber = stored.SolicitationNumber

	// sectioning
	if err := p.advance(ctx, x, RunStateSectioning); err != nil {
		return err
	}
	detector := shredding.NewSectionDetector(
		shredding.WithMaxHeadingLength(p.cfg.MaxHeadingLength),
		shredding.WithAnomalyFunc(func(a shredding.Anomaly) {
			x.anomalies = append(x.anomalies, a)
			logger.WithLogger(ctx, p.logger).Warn("Skipping malformed heading",
				zap.Int("line", a.Line),
				zap.String("text", a.Text),
				zap.String("reason", a.Reason),
			)
		}),
	)
	var sections []shredding.Section
	telemetry.ProfileStage(ctx, string(RunStateSectioning), func(context.Context) {
		sections = detector.Detect(req.Text)
	})
	x.report.Sections = len(sections)
	x.report.Anomalies = append(x.report.Anomalies, x.anomalies...)
	p.metrics.RecordAnomalies(ctx, len(x.anomalies))

	// extracting
	if err := p.advance(ctx, x, RunStateExtracting); err != nil {
		return err
	}
	if err := p.startAnalysis(ctx, x); err != nil {
		return err
	}
	var candidates []shredding.Candidate
	extractor := shredding.NewExtractor(shredding.ExtractorConfig{MinLength: p.cfg.MinLength})
	telemetry.ProfileStage(ctx, string(RunStateExtracting), func(context.Context) {
		candidates = extractor.ExtractAll(sections, req.Text)
	})
	x.report.Candidates = len(candidates)

	// classifying
	if err := p.advance(ctx, x, RunStateClassifying); err != nil {
		return err
	}
	outcome, err := p.classifier.Classify(ctx, candidates)
	if err != nil {
		return err
	}
	x.report.Fallbacks = outcome.Fallbacks
	x.report.Degraded = outcome.Degraded

	reqs, err := mergeRequirements(x.opp.ID, candidates, outcome.Results)
	if err != nil {
		return err
	}

	// persisting
	if err := p.advance(ctx, x, RunStatePersisting); err != nil {
		return err
	}
	if err := x.opp.Complete(outcome.Degraded); err != nil {
		return err
	}
	result, err := p.store.Ingest(ctx, x.opp, sectionRecords(x.opp.ID, sections), reqs)
	if err != nil {
		return fmt.Errorf("%w: ingest: %w", ErrStorage, err)
	}
	x.report.Ingest = result
	p.metrics.RecordIngest(ctx, result.Inserted, result.Updated, result.Unchanged)
	p.publishPending(ctx, x.opp)

	return p.advance(ctx, x, RunStateCompleted)
}

// startAnalysis persists the move to analyzing. A run that finds the
// opportunity still analyzing holds the lock, so the earlier run died before
// it could abort; that state is reset first.
func (p *Pipeline) startAnalysis(ctx context.Context, x *execution) error {
	if x.opp.Status == compliance.OpportunityStatusAnalyzing {
		logger.WithLogger(ctx, p.logger).Warn("Resetting opportunity left in analyzing by an earlier run")
		if err := x.opp.Abort(); err != nil {
			return err
		}
	}
	if err := x.opp.StartAnalysis(); err != nil {
		return err
	}
	if err := p.store.SaveOpportunity(ctx, x.opp); err != nil {
		return fmt.Errorf("%w: save opportunity: %w", ErrStorage, err)
	}
	x.started = true
	p.publishPending(ctx, x.opp)
	return nil
}

// advance checks for cancellation and moves the run to state
func (p *Pipeline) advance(ctx context.Context, x *execution, to RunState) error {
	if to != RunStateCompleted {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return p.transition(ctx, x.run, to)
}

func (p *Pipeline) transition(ctx context.Context, run *Run, to RunState) error {
	from := run.State
	if err := run.transition(to); err != nil {
		return err
	}
	p.tracker.Record(run.Snapshot())

	log := logger.WithLogger(ctx, p.logger)
	fields := []zap.Field{zap.String("from", string(from)), zap.String("to", string(to))}
	if run.Error != "" {
		fields = append(fields, zap.String("error", run.Error))
	}
	log.Info("Run state changed", fields...)
	telemetry.AddEvent(telemetry.SpanFromContext(ctx), "run.transition",
		telemetry.SpanAttrRunState, string(to),
	)

	if p.publisher != nil {
		if err := p.publisher.Publish(context.WithoutCancel(ctx), NewRunStateChangedEvent(run, from)); err != nil {
			log.Warn("Failed to publish run event", zap.Error(err))
		}
	}
	return nil
}

// finish moves a failed run to failed or cancelled, aborts the opportunity
// and fills in the report
func (p *Pipeline) finish(ctx context.Context, x *execution, err error) (*RunReport, error) {
	log := logger.WithLogger(ctx, p.logger)

	if err != nil && !x.run.State.IsTerminal() {
		state := RunStateFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			state = RunStateCancelled
		}
		x.run.Error = err.Error()
		if terr := p.transition(ctx, x.run, state); terr != nil {
			log.Error("Failed to record run outcome", zap.Error(terr))
		}

		if state == RunStateFailed {
			log.Error("Run failed", zap.Error(err))
		} else {
			log.Warn("Run cancelled", zap.Error(err))
		}
		if x.started {
			p.abort(ctx, x.opp.ID)
		}
	}

	x.report.State = x.run.State
	x.report.Error = x.run.Error
	x.report.Stages = append([]StageTiming(nil), x.run.Stages...)
	x.report.Duration = x.run.Duration()

	p.metrics.RecordRun(ctx, string(x.run.State), x.report.Duration)
	if x.run.State == RunStateCompleted {
		p.metrics.RecordRunOutput(ctx, x.report.Ingest.Total(), x.report.Fallbacks)
		log.Info("Run completed",
			zap.Int("sections", x.report.Sections),
			zap.Int("candidates", x.report.Candidates),
			zap.Int("inserted", x.report.Ingest.Inserted),
			zap.Int("updated", x.report.Ingest.Updated),
			zap.Int("unchanged", x.report.Ingest.Unchanged),
			zap.Int("fallbacks", x.report.Fallbacks),
			zap.Bool("degraded", x.report.Degraded),
			zap.Duration("duration", x.report.Duration),
		)
	}
	return x.report, err
}

// abort returns the stored opportunity to pending. The ingest transaction
// rolled back, so the stored row is re-read rather than trusting memory.
func (p *Pipeline) abort(ctx context.Context, id uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	log := logger.WithLogger(ctx, p.logger)

	opp, err := p.store.Get(ctx, id)
	if err != nil {
		log.Warn("Failed to load opportunity for abort", zap.Error(err))
		return
	}
	if opp.Status != compliance.OpportunityStatusAnalyzing {
		return
	}
	if err := opp.Abort(); err != nil {
		log.Warn("Failed to abort opportunity", zap.Error(err))
		return
	}
	if err := p.store.SaveOpportunity(ctx, opp); err != nil {
		log.Warn("Failed to save aborted opportunity", zap.Error(err))
		return
	}
	p.publishPending(ctx, opp)
}

func (p *Pipeline) publishPending(ctx context.Context, opp *compliance.Opportunity) {
	events := opp.GetDomainEvents()
	opp.ClearDomainEvents()
	if p.publisher == nil || len(events) == 0 {
		return
	}
	if err := p.publisher.Publish(context.WithoutCancel(ctx), events...); err != nil {
		logger.WithLogger(ctx, p.logger).Warn("Failed to publish opportunity events", zap.Error(err))
	}
}

// mergeRequirements pairs candidates with their classification
func mergeRequirements(opportunityID uuid.UUID, candidates []shredding.Candidate, results []compliance.ClassificationResult) ([]*compliance.Requirement, error) {
	if len(candidates) != len(results) {
		return nil, fmt.Errorf("classification returned %d results for %d candidates", len(results), len(candidates))
	}
	reqs := make([]*compliance.Requirement, 0, len(candidates))
	for i, c := range candidates {
		r, err := compliance.NewRequirement(opportunityID, compliance.RequirementSource{
			SectionLabel: c.SectionLabel,
			Sequence:     c.Sequence,
			Page:         c.Page,
			Paragraph:    c.Paragraph,
			Text:         c.Text,
			TextHash:     c.Hash,
		}, results[i])
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

func sectionRecords(opportunityID uuid.UUID, sections []shredding.Section) []compliance.SectionRecord {
	out := make([]compliance.SectionRecord, len(sections))
	for i, s := range sections {
		out[i] = compliance.SectionRecord{
			OpportunityID: opportunityID,
			Ordinal:       i,
			Label:         s.Label,
			Kind:          string(s.Kind),
			Title:         s.Title,
			StartOffset:   s.Start,
			EndOffset:     s.End,
		}
	}
	return out
}
