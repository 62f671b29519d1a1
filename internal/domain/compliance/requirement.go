package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/govcon/shredder/internal/domain/shared"
	"github.com/google/uuid"
)

// ComplianceStatus is the proposal team's compliance verdict for a requirement
type ComplianceStatus string

const (
	ComplianceStatusNotStarted         ComplianceStatus = "not_started"
	ComplianceStatusInProgress         ComplianceStatus = "in_progress"
	ComplianceStatusCompliant          ComplianceStatus = "compliant"
	ComplianceStatusPartiallyCompliant ComplianceStatus = "partially_compliant"
	ComplianceStatusNonCompliant       ComplianceStatus = "non_compliant"
	ComplianceStatusNotApplicable      ComplianceStatus = "not_applicable"
)

// IsValid checks if the compliance status is valid
func (s ComplianceStatus) IsValid() bool {
	switch s {
	case ComplianceStatusNotStarted, ComplianceStatusInProgress, ComplianceStatusCompliant,
		ComplianceStatusPartiallyCompliant, ComplianceStatusNonCompliant, ComplianceStatusNotApplicable:
		return true
	}
	return false
}

// AssigneeType describes who a requirement is assigned to
type AssigneeType string

const (
	AssigneeTypeNone          AssigneeType = ""
	AssigneeTypeIndividual    AssigneeType = "individual"
	AssigneeTypeTeam          AssigneeType = "team"
	AssigneeTypePartner       AssigneeType = "partner"
	AssigneeTypeSubcontractor AssigneeType = "subcontractor"
)

// IsValid checks if the assignee type is valid. The empty type is valid.
func (a AssigneeType) IsValid() bool {
	switch a {
	case AssigneeTypeNone, AssigneeTypeIndividual, AssigneeTypeTeam, AssigneeTypePartner, AssigneeTypeSubcontractor:
		return true
	}
	return false
}

// Tracking holds the fields owned by the proposal workflow. Re-ingestion
// never writes them.
type Tracking struct {
	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	ProposalSection  string           `json:"proposal_section"`
	ProposalPage     string           `json:"proposal_page"`
	AssignedTo       string           `json:"assigned_to"`
	AssigneeType     AssigneeType     `json:"assignee_type"`
	AssigneeName     string           `json:"assignee_name"`
	Notes            string           `json:"notes"`
	DueDate          *time.Time       `json:"due_date,omitempty"`
}

// DefaultTracking is the tracking state of a freshly inserted requirement
func DefaultTracking() Tracking {
	return Tracking{ComplianceStatus: ComplianceStatusNotStarted}
}

// Requirement is one row of the compliance matrix
type Requirement struct {
	ID            uuid.UUID `json:"id"`
	OpportunityID uuid.UUID `json:"opportunity_id"`
	SectionLabel  string    `json:"section_label"`
	Sequence      int       `json:"sequence"`
	Page          int       `json:"page"`
	Paragraph     int       `json:"paragraph"`
	TextHash      string    `json:"text_hash"`

	Text           string         `json:"text"`
	ComplianceType ComplianceType `json:"compliance_type"`
	Category       string         `json:"category"`
	Priority       Priority       `json:"priority"`
	Risk           bool           `json:"risk"`
	Confidence     float64        `json:"confidence"`
	Keywords       []string       `json:"keywords"`
	ClassifiedBy   string         `json:"classified_by"`

	Tracking

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RequirementSource carries the provenance of an extracted requirement
type RequirementSource struct {
	SectionLabel string
	Sequence     int
	Page         int
	Paragraph    int
	Text         string
	TextHash     string
}

// NewRequirement builds a requirement from its provenance and classification.
// Tracking starts at its defaults.
func NewRequirement(opportunityID uuid.UUID, src RequirementSource, result ClassificationResult) (*Requirement, error) {
	if opportunityID == uuid.Nil {
		return nil, shared.NewDomainError(CodeInvalidRequirement, "Opportunity id is required")
	}
	if src.Sequence < 1 {
		return nil, shared.NewDomainError(CodeInvalidRequirement, fmt.Sprintf("Sequence must be positive, got %d", src.Sequence))
	}
	if strings.TrimSpace(src.Text) == "" {
		return nil, shared.NewDomainError(CodeInvalidRequirement, "Requirement text cannot be empty")
	}

	now := time.Now()
	r := &Requirement{
		ID:            RequirementID(opportunityID, src.SectionLabel, src.Sequence),
		OpportunityID: opportunityID,
		SectionLabel:  src.SectionLabel,
		Sequence:      src.Sequence,
		Page:          src.Page,
		Paragraph:     src.Paragraph,
		TextHash:      src.TextHash,
		Text:          src.Text,
		Tracking:      DefaultTracking(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.ApplyClassification(result)
	return r, nil
}

// ApplyClassification overwrites the classification fields only
func (r *Requirement) ApplyClassification(result ClassificationResult) {
	r.ComplianceType = result.ComplianceType
	r.Category = result.Category
	r.Priority = result.Priority
	r.Risk = result.Risk
	r.Confidence = result.Confidence
	r.Keywords = append([]string{}, result.Keywords...)
	r.ClassifiedBy = result.Source
}

// ClassificationEquals reports whether two requirements carry the same text,
// provenance and classification. Used to count unchanged rows on re-ingest.
func (r *Requirement) ClassificationEquals(other *Requirement) bool {
	if r.Text != other.Text || r.TextHash != other.TextHash ||
		r.Page != other.Page || r.Paragraph != other.Paragraph ||
		r.ComplianceType != other.ComplianceType || r.Category != other.Category ||
		r.Priority != other.Priority || r.Risk != other.Risk ||
		r.Confidence != other.Confidence || r.ClassifiedBy != other.ClassifiedBy ||
		len(r.Keywords) != len(other.Keywords) {
		return false
	}
	for i := range r.Keywords {
		if r.Keywords[i] != other.Keywords[i] {
			return false
		}
	}
	return true
}

// TrackingUpdate is a partial update of tracking fields. Nil fields are left
// unchanged. ClearDueDate removes the due date.
type TrackingUpdate struct {
	ComplianceStatus *ComplianceStatus
	ProposalSection  *string
	ProposalPage     *string
	AssignedTo       *string
	AssigneeType     *AssigneeType
	AssigneeName     *string
	Notes            *string
	DueDate          *time.Time
	ClearDueDate     bool
}

// IsEmpty reports whether the update changes nothing
func (u TrackingUpdate) IsEmpty() bool {
	return u.ComplianceStatus == nil && u.ProposalSection == nil && u.ProposalPage == nil &&
		u.AssignedTo == nil && u.AssigneeType == nil && u.AssigneeName == nil &&
		u.Notes == nil && u.DueDate == nil && !u.ClearDueDate
}

// Validate checks the enumerated tracking fields
func (u TrackingUpdate) Validate() error {
	if u.ComplianceStatus != nil && !u.ComplianceStatus.IsValid() {
		return shared.NewDomainError(CodeInvalidTrackingField, fmt.Sprintf("Invalid compliance status: %s", *u.ComplianceStatus))
	}
	if u.AssigneeType != nil && !u.AssigneeType.IsValid() {
		return shared.NewDomainError(CodeInvalidTrackingField, fmt.Sprintf("Invalid assignee type: %s", *u.AssigneeType))
	}
	if u.Notes != nil && len(*u.Notes) > 4000 {
		return shared.NewDomainError(CodeInvalidTrackingField, "Notes cannot exceed 4000 characters")
	}
	return nil
}

// ApplyTracking validates and applies a tracking update
func (r *Requirement) ApplyTracking(u TrackingUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.ComplianceStatus != nil {
		r.ComplianceStatus = *u.ComplianceStatus
	}
	if u.ProposalSection != nil {
		r.ProposalSection = strings.TrimSpace(*u.ProposalSection)
	}
	if u.ProposalPage != nil {
		r.ProposalPage = strings.TrimSpace(*u.ProposalPage)
	}
	if u.AssignedTo != nil {
		r.AssignedTo = strings.TrimSpace(*u.AssignedTo)
	}
	if u.AssigneeType != nil {
		r.AssigneeType = *u.AssigneeType
	}
	if u.AssigneeName != nil {
		r.AssigneeName = strings.TrimSpace(*u.AssigneeName)
	}
	if u.Notes != nil {
		r.Notes = *u.Notes
	}
	switch {
	case u.ClearDueDate:
		r.DueDate = nil
	case u.DueDate != nil:
		d := u.DueDate.UTC().Truncate(24 * time.Hour)
		r.DueDate = &d
	}
	r.UpdatedAt = time.Now()
	return nil
}

// SectionRecord is the persisted metadata of a detected section
type SectionRecord struct {
	OpportunityID uuid.UUID `json:"opportunity_id"`
	Ordinal       int       `json:"ordinal"`
	Label         string    `json:"label"`
	Kind          string    `json:"kind"`
	Title         string    `json:"title"`
	StartOffset   int       `json:"start_offset"`
	EndOffset     int       `json:"end_offset"`
}
