package shredding

import (
	"fmt"
	"sync"
	"time"

	"github.com/govcon/shredder/internal/domain/shared"
	"github.com/google/uuid"
)

// RunState is the stage a shredding run is in
type RunState string

const (
	RunStateCreated     RunState = "created"
	RunStateSectioning  RunState = "sectioning"
	RunStateExtracting  RunState = "extracting"
	RunStateClassifying RunState = "classifying"
	RunStatePersisting  RunState = "persisting"
	RunStateCompleted   RunState = "completed"
	RunStateFailed      RunState = "failed"
	RunStateCancelled   RunState = "cancelled"
)

// IsTerminal reports whether no transition leaves the state
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed || s == RunStateCancelled
}

// next lists the forward stage of each non-terminal state. Every
// non-terminal state may also end in failed or cancelled.
var next = map[RunState]RunState{
	RunStateCreated:     RunStateSectioning,
	RunStateSectioning:  RunStateExtracting,
	RunStateExtracting:  RunStateClassifying,
	RunStateClassifying: RunStatePersisting,
	RunStatePersisting:  RunStateCompleted,
}

// CanTransition reports whether a run may move from one state to another
func CanTransition(from, to RunState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == RunStateFailed || to == RunStateCancelled {
		return true
	}
	return next[from] == to
}

// StageTiming records when a run entered a state and how long it stayed
type StageTiming struct {
	State     RunState      `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Run is one execution of the pipeline for an opportunity. A Run is owned by
// the goroutine executing it; others see copies through RunTracker.
type Run struct {
	ID            uuid.UUID     `json:"id"`
	OpportunityID uuid.UUID     `json:"opportunity_id"`
	State         RunState      `json:"state"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	Stages        []StageTiming `json:"stages"`
}

func newRun(opportunityID uuid.UUID) *Run {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	now := time.Now()
	return &Run{
		ID:            id,
		OpportunityID: opportunityID,
		State:         RunStateCreated,
		StartedAt:     now,
		UpdatedAt:     now,
		Stages:        []StageTiming{{State: RunStateCreated, StartedAt: now}},
	}
}

// transition moves the run to state and closes the timing of the previous one
func (r *Run) transition(to RunState) error {
	if !CanTransition(r.State, to) {
		return shared.NewDomainError(shared.ErrInvalidState.Code,
			fmt.Sprintf("Run cannot move from %s to %s", r.State, to))
	}
	now := time.Now()
	if last := len(r.Stages) - 1; last >= 0 {
		r.Stages[last].Duration = now.Sub(r.Stages[last].StartedAt)
	}
	r.State = to
	r.UpdatedAt = now
	if to.IsTerminal() {
		r.FinishedAt = &now
	} else {
		r.Stages = append(r.Stages, StageTiming{State: to, StartedAt: now})
	}
	return nil
}

// Duration is the elapsed time of the run so far, or in total once finished
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// Snapshot returns a copy safe to hand to other goroutines
func (r *Run) Snapshot() Run {
	cp := *r
	cp.Stages = append([]StageTiming(nil), r.Stages...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return cp
}

// RunTracker keeps the latest run of every opportunity for polling
type RunTracker struct {
	mu       sync.RWMutex
	byOpp    map[uuid.UUID]Run
	oppOfRun map[uuid.UUID]uuid.UUID
}

// NewRunTracker creates an empty tracker
func NewRunTracker() *RunTracker {
	return &RunTracker{
		byOpp:    make(map[uuid.UUID]Run),
		oppOfRun: make(map[uuid.UUID]uuid.UUID),
	}
}

// Record stores a snapshot. A snapshot of a newer run replaces the previous
// run of the same opportunity.
func (t *RunTracker) Record(run Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.byOpp[run.OpportunityID]; ok && prev.ID != run.ID {
		if prev.StartedAt.After(run.StartedAt) {
			return
		}
		delete(t.oppOfRun, prev.ID)
	}
	t.byOpp[run.OpportunityID] = run
	t.oppOfRun[run.ID] = run.OpportunityID
}

// Latest returns the latest run of an opportunity
func (t *RunTracker) Latest(opportunityID uuid.UUID) (Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.byOpp[opportunityID]
	return run, ok
}

// Get returns a run by id while it is still the latest of its opportunity
func (t *RunTracker) Get(runID uuid.UUID) (Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	opp, ok := t.oppOfRun[runID]
	if !ok {
		return Run{}, false
	}
	return t.byOpp[opp], true
}

// Forget drops the runs of an opportunity, used when it is deleted
func (t *RunTracker) Forget(opportunityID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.byOpp[opportunityID]; ok {
		delete(t.oppOfRun, prev.ID)
		delete(t.byOpp, opportunityID)
	}
}
