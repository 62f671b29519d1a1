package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/govcon/shredder/internal/domain/compliance"
)

// RequirementClassificationColumns are the columns a re-ingest may rewrite.
var RequirementClassificationColumns = []string{
	"text", "text_hash", "page", "paragraph",
	"compliance_type", "category", "priority", "risk", "confidence", "keywords", "classified_by",
	"updated_at",
}

// RequirementTrackingColumns are the columns owned by the proposal workflow.
var RequirementTrackingColumns = []string{
	"compliance_status", "proposal_section", "proposal_page", "assigned_to",
	"assignee_type", "assignee_name", "notes", "due_date",
	"updated_at",
}

// RequirementModel is the persistence model for a compliance matrix row.
type RequirementModel struct {
	BaseModel
	OpportunityID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_requirements_position,priority:1"`
	SectionLabel  string    `gorm:"type:varchar(50);not null;default:'';uniqueIndex:idx_requirements_position,priority:2"`
	Sequence      int       `gorm:"not null;uniqueIndex:idx_requirements_position,priority:3"`
	Page          int       `gorm:"not null;default:0"`
	Paragraph     int       `gorm:"not null;default:0"`
	TextHash      string    `gorm:"type:varchar(64);not null"`
	Text          string    `gorm:"type:text;not null"`

	ComplianceType compliance.ComplianceType `gorm:"type:varchar(20);not null"`
	Category       string                    `gorm:"type:varchar(100);not null;default:''"`
	Priority       compliance.Priority       `gorm:"type:varchar(10);not null"`
	Risk           bool                      `gorm:"not null;default:false"`
	Confidence     float64                   `gorm:"not null;default:0"`
	Keywords       []string                  `gorm:"type:text;not null;serializer:json"`
	ClassifiedBy   string                    `gorm:"type:varchar(50);not null;default:''"`

	ComplianceStatus compliance.ComplianceStatus `gorm:"type:varchar(30);not null;default:'not_started'"`
	ProposalSection  string                      `gorm:"type:varchar(200);not null;default:''"`
	ProposalPage     string                      `gorm:"type:varchar(50);not null;default:''"`
	AssignedTo       string                      `gorm:"type:varchar(200);not null;default:''"`
	AssigneeType     compliance.AssigneeType     `gorm:"type:varchar(20);not null;default:''"`
	AssigneeName     string                      `gorm:"type:varchar(200);not null;default:''"`
	Notes            string                      `gorm:"type:text;not null;default:''"`
	DueDate          *time.Time                  `gorm:"type:date"`
}

// TableName returns the table name for GORM
func (RequirementModel) TableName() string {
	return "requirements"
}

// ToDomain converts the persistence model to a domain Requirement.
func (m *RequirementModel) ToDomain() *compliance.Requirement {
	keywords := m.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return &compliance.Requirement{
		ID:             m.ID,
		OpportunityID:  m.OpportunityID,
		SectionLabel:   m.SectionLabel,
		Sequence:       m.Sequence,
		Page:           m.Page,
		Paragraph:      m.Paragraph,
		TextHash:       m.TextHash,
		Text:           m.Text,
		ComplianceType: m.ComplianceType,
		Category:       m.Category,
		Priority:       m.Priority,
		Risk:           m.Risk,
		Confidence:     m.Confidence,
		Keywords:       keywords,
		ClassifiedBy:   m.ClassifiedBy,
		Tracking: compliance.Tracking{
			ComplianceStatus: m.ComplianceStatus,
			ProposalSection:  m.ProposalSection,
			ProposalPage:     m.ProposalPage,
			AssignedTo:       m.AssignedTo,
			AssigneeType:     m.AssigneeType,
			AssigneeName:     m.AssigneeName,
			Notes:            m.Notes,
			DueDate:          m.DueDate,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Requirement.
func (m *RequirementModel) FromDomain(r *compliance.Requirement) {
	m.ID = r.ID
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
	m.OpportunityID = r.OpportunityID
	m.SectionLabel = r.SectionLabel
	m.Sequence = r.Sequence
	m.Page = r.Page
	m.Paragraph = r.Paragraph
	m.TextHash = r.TextHash
	m.Text = r.Text
	m.ComplianceType = r.ComplianceType
	m.Category = r.Category
	m.Priority = r.Priority
	m.Risk = r.Risk
	m.Confidence = r.Confidence
	m.Keywords = r.Keywords
	if m.Keywords == nil {
		m.Keywords = []string{}
	}
	m.ClassifiedBy = r.ClassifiedBy
	m.ComplianceStatus = r.ComplianceStatus
	m.ProposalSection = r.ProposalSection
	m.ProposalPage = r.ProposalPage
	m.AssignedTo = r.AssignedTo
	m.AssigneeType = r.AssigneeType
	m.AssigneeName = r.AssigneeName
	m.Notes = r.Notes
	m.DueDate = r.DueDate
}

// RequirementModelFromDomain creates a new persistence model from a domain Requirement.
func RequirementModelFromDomain(r *compliance.Requirement) *RequirementModel {
	m := &RequirementModel{}
	m.FromDomain(r)
	return m
}
