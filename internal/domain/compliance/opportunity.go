package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/govcon/shredder/internal/domain/shared"
	"github.com/google/uuid"
)

// AggregateTypeOpportunity is the aggregate type name used in domain events
const AggregateTypeOpportunity = "Opportunity"

// OpportunityStatus represents the analysis status of an opportunity
type OpportunityStatus string

const (
	OpportunityStatusPending   OpportunityStatus = "pending"
	OpportunityStatusAnalyzing OpportunityStatus = "analyzing"
	OpportunityStatusCompleted OpportunityStatus = "completed"
)

// IsValid checks if the status is valid
func (s OpportunityStatus) IsValid() bool {
	switch s {
	case OpportunityStatusPending, OpportunityStatusAnalyzing, OpportunityStatusCompleted:
		return true
	}
	return false
}

// Opportunity is one solicitation being analyzed. It owns its requirements
// and section metadata.
type Opportunity struct {
	shared.BaseAggregateRoot
	SolicitationNumber string            `json:"solicitation_number"`
	Title              string            `json:"title"`
	Status             OpportunityStatus `json:"status"`
	Degraded           bool              `json:"degraded"`
	LastRunAt          *time.Time        `json:"last_run_at,omitempty"`
}

// NormalizeSolicitationNumber trims and upper-cases a solicitation number and
// collapses inner whitespace, so "w912dq-24-r-0001 " and "W912DQ-24-R-0001"
// address the same opportunity.
func NormalizeSolicitationNumber(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// NewOpportunity creates a pending opportunity. When id is uuid.Nil the
// identity is derived from the normalized solicitation number.
func NewOpportunity(id uuid.UUID, solicitationNumber, title string) (*Opportunity, error) {
	number := NormalizeSolicitationNumber(solicitationNumber)
	if id == uuid.Nil {
		if number == "" {
			return nil, shared.NewDomainError(CodeInvalidOpportunity, "Either an opportunity id or a solicitation number is required")
		}
		id = OpportunityID(number)
	}
	if len(title) > 500 {
		return nil, shared.NewDomainError(CodeInvalidOpportunity, "Title cannot exceed 500 characters")
	}

	return &Opportunity{
		BaseAggregateRoot:  shared.NewAggregateRoot(id),
		SolicitationNumber: number,
		Title:              strings.TrimSpace(title),
		Status:             OpportunityStatusPending,
	}, nil
}

// StartAnalysis moves the opportunity into analyzing. Allowed from pending
// (first run) and completed (re-run).
func (o *Opportunity) StartAnalysis() error {
	if o.Status != OpportunityStatusPending && o.Status != OpportunityStatusCompleted {
		return shared.NewDomainError(shared.ErrInvalidState.Code, fmt.Sprintf("Cannot start analysis from status: %s", o.Status))
	}
	o.Status = OpportunityStatusAnalyzing
	o.Touch()
	o.AddDomainEvent(NewOpportunityStatusChangedEvent(o))
	return nil
}

// Complete marks the analysis as finished. degraded records whether any
// requirement of the run was classified by the fallback.
func (o *Opportunity) Complete(degraded bool) error {
	if o.Status != OpportunityStatusAnalyzing {
		return shared.NewDomainError(shared.ErrInvalidState.Code, fmt.Sprintf("Cannot complete analysis from status: %s", o.Status))
	}
	now := time.Now()
	o.Status = OpportunityStatusCompleted
	o.Degraded = degraded
	o.LastRunAt = &now
	o.Touch()
	o.AddDomainEvent(NewOpportunityStatusChangedEvent(o))
	return nil
}

// Abort returns an analyzing opportunity to pending after a run that never
// reached its commit.
func (o *Opportunity) Abort() error {
	if o.Status != OpportunityStatusAnalyzing {
		return shared.NewDomainError(shared.ErrInvalidState.Code, fmt.Sprintf("Cannot abort analysis from status: %s", o.Status))
	}
	o.Status = OpportunityStatusPending
	o.Touch()
	o.AddDomainEvent(NewOpportunityStatusChangedEvent(o))
	return nil
}

// Rename updates the title when a run supplies a new one
func (o *Opportunity) Rename(title string) {
	title = strings.TrimSpace(title)
	if title == "" || title == o.Title {
		return
	}
	o.Title = title
	o.Touch()
}
