package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/govcon/shredder/internal/domain/shared"
)

// BaseModel holds the identity and timestamp columns every table shares
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// AggregateModel adds the optimistic version column of an aggregate root
type AggregateModel struct {
	BaseModel
	Version int `gorm:"not null;default:1"`
}

func (m *AggregateModel) setRoot(a shared.BaseAggregateRoot) {
	m.ID, m.CreatedAt, m.UpdatedAt = a.ID, a.CreatedAt, a.UpdatedAt
	m.Version = a.Version
}

// root rebuilds the aggregate header. Pending events are never persisted.
func (m *AggregateModel) root() shared.BaseAggregateRoot {
	return shared.BaseAggregateRoot{
		BaseEntity: shared.BaseEntity{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		Version:    m.Version,
	}
}
