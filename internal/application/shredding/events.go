package shredding

import (
	"github.com/govcon/shredder/internal/domain/shared"
	"github.com/google/uuid"
)

const (
	// AggregateTypeRun is the aggregate type of run events
	AggregateTypeRun = "ShredRun"
	// EventTypeRunStateChanged is published on every run transition
	EventTypeRunStateChanged = "ShredRunStateChanged"
)

// RunStateChangedEvent reports a run transition
type RunStateChangedEvent struct {
	shared.BaseDomainEvent
	RunID         uuid.UUID `json:"run_id"`
	OpportunityID uuid.UUID `json:"opportunity_id"`
	From          RunState  `json:"from"`
	To            RunState  `json:"to"`
	Error         string    `json:"error,omitempty"`
}

// NewRunStateChangedEvent creates a RunStateChangedEvent
func NewRunStateChangedEvent(run *Run, from RunState) *RunStateChangedEvent {
	return &RunStateChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRunStateChanged, AggregateTypeRun, run.ID),
		RunID:           run.ID,
		OpportunityID:   run.OpportunityID,
		From:            from,
		To:              run.State,
		Error:           run.Error,
	}
}
