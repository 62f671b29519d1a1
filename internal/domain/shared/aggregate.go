package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries identity and timestamps
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e *BaseEntity) GetID() uuid.UUID { return e.ID }

// AggregateRoot is an entity that buffers domain events until the
// application layer publishes them.
type AggregateRoot interface {
	GetID() uuid.UUID
	GetDomainEvents() []DomainEvent
	ClearDomainEvents()
}

// BaseAggregateRoot adds an optimistic version and the event buffer. Version
// starts at 1 and grows with every Touch.
type BaseAggregateRoot struct {
	BaseEntity
	Version int

	pending []DomainEvent
}

// NewAggregateRoot returns a fresh root with the given identity. A nil id
// gets a random one.
func NewAggregateRoot(id uuid.UUID) BaseAggregateRoot {
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now()
	return BaseAggregateRoot{
		BaseEntity: BaseEntity{ID: id, CreatedAt: now, UpdatedAt: now},
		Version:    1,
	}
}

// Touch stamps a modification
func (a *BaseAggregateRoot) Touch() {
	a.UpdatedAt = time.Now()
	a.Version++
}

func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.pending = append(a.pending, event)
}

func (a *BaseAggregateRoot) GetDomainEvents() []DomainEvent { return a.pending }

func (a *BaseAggregateRoot) ClearDomainEvents() { a.pending = nil }
