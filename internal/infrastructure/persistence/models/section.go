package models

import (
	"github.com/google/uuid"
	"github.com/govcon/shredder/internal/domain/compliance"
)

// SectionModel stores one detected section of the latest ingest.
type SectionModel struct {
	OpportunityID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Ordinal       int       `gorm:"primaryKey;autoIncrement:false"`
	Label         string    `gorm:"type:varchar(50);not null;default:''"`
	Kind          string    `gorm:"type:varchar(20);not null;default:''"`
	Title         string    `gorm:"type:varchar(500);not null;default:''"`
	StartOffset   int       `gorm:"not null;default:0"`
	EndOffset     int       `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (SectionModel) TableName() string {
	return "sections"
}

// ToDomain converts the persistence model to a domain SectionRecord.
func (m *SectionModel) ToDomain() compliance.SectionRecord {
	return compliance.SectionRecord{
		OpportunityID: m.OpportunityID,
		Ordinal:       m.Ordinal,
		Label:         m.Label,
		Kind:          m.Kind,
		Title:         m.Title,
		StartOffset:   m.StartOffset,
		EndOffset:     m.EndOffset,
	}
}

// SectionModelFromDomain creates a new persistence model from a SectionRecord.
func SectionModelFromDomain(s compliance.SectionRecord) SectionModel {
	return SectionModel{
		OpportunityID: s.OpportunityID,
		Ordinal:       s.Ordinal,
		Label:         s.Label,
		Kind:          s.Kind,
		Title:         s.Title,
		StartOffset:   s.StartOffset,
		EndOffset:     s.EndOffset,
	}
}
