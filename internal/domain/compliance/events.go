package compliance

import (
	"github.com/govcon/shredder/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type constants
const (
	EventTypeOpportunityStatusChanged = "OpportunityStatusChanged"
	EventTypeTrackingUpdated          = "RequirementTrackingUpdated"
)

// OpportunityStatusChangedEvent is published when an opportunity moves between
// pending, analyzing and completed
type OpportunityStatusChangedEvent struct {
	shared.BaseDomainEvent
	OpportunityID      uuid.UUID         `json:"opportunity_id"`
	SolicitationNumber string            `json:"solicitation_number"`
	Status             OpportunityStatus `json:"status"`
	Degraded           bool              `json:"degraded"`
	Version            int               `json:"version"`
}

// NewOpportunityStatusChangedEvent creates a new OpportunityStatusChangedEvent
func NewOpportunityStatusChangedEvent(o *Opportunity) *OpportunityStatusChangedEvent {
	return &OpportunityStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(
			EventTypeOpportunityStatusChanged,
			AggregateTypeOpportunity,
			o.ID,
		),
		OpportunityID:      o.ID,
		SolicitationNumber: o.SolicitationNumber,
		Status:             o.Status,
		Degraded:           o.Degraded,
		Version:            o.Version,
	}
}

// TrackingUpdatedEvent is published after a tracking update is stored
type TrackingUpdatedEvent struct {
	shared.BaseDomainEvent
	OpportunityID    uuid.UUID        `json:"opportunity_id"`
	RequirementID    uuid.UUID        `json:"requirement_id"`
	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	AssignedTo       string           `json:"assigned_to,omitempty"`
}

// NewTrackingUpdatedEvent creates a new TrackingUpdatedEvent
func NewTrackingUpdatedEvent(r *Requirement) *TrackingUpdatedEvent {
	return &TrackingUpdatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(
			EventTypeTrackingUpdated,
			AggregateTypeOpportunity,
			r.OpportunityID,
		),
		OpportunityID:    r.OpportunityID,
		RequirementID:    r.ID,
		ComplianceStatus: r.ComplianceStatus,
		AssignedTo:       r.AssignedTo,
	}
}
