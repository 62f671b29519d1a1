package models

import (
	"time"

	"github.com/govcon/shredder/internal/domain/compliance"
)

// OpportunityModel is the persistence model for the Opportunity aggregate.
type OpportunityModel struct {
	AggregateModel
	SolicitationNumber string                       `gorm:"type:varchar(100);not null;default:'';index"`
	Title              string                       `gorm:"type:varchar(500);not null;default:''"`
	Status             compliance.OpportunityStatus `gorm:"type:varchar(20);not null;default:'pending'"`
	Degraded           bool                         `gorm:"not null;default:false"`
	LastRunAt          *time.Time

	Sections     []SectionModel     `gorm:"foreignKey:OpportunityID;constraint:OnDelete:CASCADE"`
	Requirements []RequirementModel `gorm:"foreignKey:OpportunityID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (OpportunityModel) TableName() string {
	return "opportunities"
}

// ToDomain converts the persistence model to a domain Opportunity.
func (m *OpportunityModel) ToDomain() *compliance.Opportunity {
	return &compliance.Opportunity{
		BaseAggregateRoot:  m.root(),
		SolicitationNumber: m.SolicitationNumber,
		Title:              m.Title,
		Status:             m.Status,
		Degraded:           m.Degraded,
		LastRunAt:          m.LastRunAt,
	}
}

// FromDomain populates the persistence model from a domain Opportunity.
func (m *OpportunityModel) FromDomain(o *compliance.Opportunity) {
	m.setRoot(o.BaseAggregateRoot)
	m.SolicitationNumber = o.SolicitationNumber
	m.Title = o.Title
	m.Status = o.Status
	m.Degraded = o.Degraded
	m.LastRunAt = o.LastRunAt
}

// OpportunityModelFromDomain creates a new persistence model from a domain Opportunity.
func OpportunityModelFromDomain(o *compliance.Opportunity) *OpportunityModel {
	m := &OpportunityModel{}
	m.FromDomain(o)
	return m
}
