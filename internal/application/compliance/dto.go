package compliance

import (
	"time"

	"github.com/govcon/shredder/internal/application/shredding"
	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/infrastructure/export"
	"github.com/google/uuid"
)

// =============================================================================
// Opportunity DTOs
// =============================================================================

// OpportunityListFilter represents the query of the opportunity list
type OpportunityListFilter struct {
	Search   string `form:"search"`
	Status   string `form:"status" binding:"omitempty,oneof=pending analyzing completed"`
	Degraded *bool  `form:"degraded"`
	Page     int    `form:"page" binding:"min=0"`
	PageSize int    `form:"page_size" binding:"min=0,max=100"`
	OrderBy  string `form:"order_by"`
	OrderDir string `form:"order_dir" binding:"omitempty,oneof=asc desc"`
}

// OpportunityResponse represents an opportunity in API responses
type OpportunityResponse struct {
	ID                 uuid.UUID      `json:"id"`
	SolicitationNumber string         `json:"solicitation_number"`
	Title              string         `json:"title"`
	Status             string         `json:"status"`
	Degraded           bool           `json:"degraded"`
	Version            int            `json:"version"`
	LastRunAt          *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	LatestRun          *shredding.Run `json:"latest_run,omitempty"`
}

// ToOpportunityResponse converts a domain Opportunity to OpportunityResponse
func ToOpportunityResponse(o *compliance.Opportunity) OpportunityResponse {
	return OpportunityResponse{
		ID:                 o.ID,
		SolicitationNumber: o.SolicitationNumber,
		Title:              o.Title,
		Status:             string(o.Status),
		Degraded:           o.Degraded,
		Version:            o.Version,
		LastRunAt:          o.LastRunAt,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

// =============================================================================
// Requirement DTOs
// =============================================================================

// RequirementQuery narrows the projected matrix. Empty fields match all rows.
type RequirementQuery struct {
	Section          string `form:"section"`
	ComplianceType   string `form:"compliance_type"`
	ComplianceStatus string `form:"compliance_status" binding:"omitempty,compliance_status"`
	Risk             *bool  `form:"risk"`
}

func (q RequirementQuery) validate() error {
	if q.ComplianceType != "" && !compliance.ComplianceType(q.ComplianceType).IsValid() {
		return invalidComplianceType(q.ComplianceType)
	}
	if q.ComplianceStatus != "" && !compliance.ComplianceStatus(q.ComplianceStatus).IsValid() {
		return invalidTrackingField("compliance status", q.ComplianceStatus)
	}
	return nil
}

func (q RequirementQuery) matches(row compliance.MatrixRow) bool {
	if q.Section != "" && row.Section != q.Section {
		return false
	}
	if q.ComplianceType != "" && string(row.ComplianceType) != q.ComplianceType {
		return false
	}
	if q.ComplianceStatus != "" && string(row.ComplianceStatus) != q.ComplianceStatus {
		return false
	}
	if q.Risk != nil && row.Risk != *q.Risk {
		return false
	}
	return true
}

// UpdateTrackingRequest represents a partial tracking update. Omitted fields
// are left unchanged; due_date uses YYYY-MM-DD.
type UpdateTrackingRequest struct {
	ComplianceStatus *string `json:"compliance_status" binding:"omitempty,compliance_status"`
	ProposalSection  *string `json:"proposal_section" binding:"omitempty,max=200"`
	ProposalPage     *string `json:"proposal_page" binding:"omitempty,max=50"`
	AssignedTo       *string `json:"assigned_to" binding:"omitempty,max=200"`
	AssigneeType     *string `json:"assignee_type" binding:"omitempty,assignee_type"`
	AssigneeName     *string `json:"assignee_name" binding:"omitempty,max=200"`
	Notes            *string `json:"notes" binding:"omitempty,max=4000"`
	DueDate          *string `json:"due_date" binding:"omitempty,datetime=2006-01-02"`
	ClearDueDate     bool    `json:"clear_due_date"`
}

// ToDomain converts the request into a domain TrackingUpdate
func (r UpdateTrackingRequest) ToDomain() (compliance.TrackingUpdate, error) {
	u := compliance.TrackingUpdate{
		ProposalSection: r.ProposalSection,
		ProposalPage:    r.ProposalPage,
		AssignedTo:      r.AssignedTo,
		AssigneeName:    r.AssigneeName,
		Notes:           r.Notes,
		ClearDueDate:    r.ClearDueDate,
	}
	if r.ComplianceStatus != nil {
		s := compliance.ComplianceStatus(*r.ComplianceStatus)
		u.ComplianceStatus = &s
	}
	if r.AssigneeType != nil {
		a := compliance.AssigneeType(*r.AssigneeType)
		u.AssigneeType = &a
	}
	if r.DueDate != nil && !r.ClearDueDate {
		d, err := time.Parse("2006-01-02", *r.DueDate)
		if err != nil {
			return compliance.TrackingUpdate{}, invalidTrackingField("due date", *r.DueDate)
		}
		u.DueDate = &d
	}
	return u, u.Validate()
}

// =============================================================================
// Matrix export / import DTOs
// =============================================================================

// ExportResult is a rendered matrix CSV
type ExportResult struct {
	Filename    string     `json:"filename"`
	Rows        int        `json:"rows"`
	Data        []byte     `json:"-"`
	ArchiveKey  string     `json:"archive_key,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ImportResult summarizes a tracking import
type ImportResult struct {
	Rows      int               `json:"rows"`
	Applied   int               `json:"applied"`
	Unchanged int               `json:"unchanged"`
	Unknown   []string          `json:"unknown"`
	Rejected  []ImportRejection `json:"rejected"`
	// RowErrors are rows the parser could not read
	RowErrors   []export.RowError `json:"row_errors"`
	TotalErrors int               `json:"total_errors"`
}

// ImportRejection is a row whose tracking values failed validation
type ImportRejection struct {
	ReqID   string `json:"req_id"`
	Message string `json:"message"`
}
