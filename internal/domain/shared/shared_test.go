package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewAggregateRoot(t *testing.T) {
	id := uuid.New()
	root := NewAggregateRoot(id)
	assert.Equal(t, id, root.GetID())
	assert.Equal(t, 1, root.Version)
	assert.Equal(t, root.CreatedAt, root.UpdatedAt)

	assert.NotEqual(t, uuid.Nil, NewAggregateRoot(uuid.Nil).ID)
}

func TestBaseAggregateRoot_TouchAndEvents(t *testing.T) {
	root := NewAggregateRoot(uuid.New())
	created := root.UpdatedAt

	root.Touch()
	assert.Equal(t, 2, root.Version)
	assert.False(t, root.UpdatedAt.Before(created))

	ev := NewBaseDomainEvent("opportunity.status_changed", "opportunity", root.ID)
	root.AddDomainEvent(&ev)
	assert.Len(t, root.GetDomainEvents(), 1)

	var agg AggregateRoot = &root
	agg.ClearDomainEvents()
	assert.Empty(t, root.GetDomainEvents())
}

func TestBaseDomainEvent(t *testing.T) {
	aggID := uuid.New()
	ev := NewBaseDomainEvent("run.state_changed", "run", aggID)
	var de DomainEvent = &ev

	assert.NotEqual(t, uuid.Nil, de.EventID())
	assert.Equal(t, "run.state_changed", de.EventType())
	assert.Equal(t, aggID, de.AggregateID())
	assert.Equal(t, "run", de.AggregateType())
	assert.False(t, de.OccurredAt().IsZero())
}

func TestDomainError_Is(t *testing.T) {
	err := fmt.Errorf("load: %w", NewDomainError(ErrNotFound.Code, "Opportunity not found"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "load: Opportunity not found", err.Error())
	assert.False(t, errors.Is(context.Canceled, ErrNotFound))
}

func TestFilter_Offset(t *testing.T) {
	tests := []struct {
		page, size, want int
	}{
		{0, 20, 0},
		{1, 20, 0},
		{2, 20, 20},
		{5, 10, 40},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Filter{Page: tt.page, PageSize: tt.size}.Offset())
	}

	f := DefaultFilter()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 20, f.PageSize)
	assert.NotNil(t, f.Filters)
}

func TestNewPaginated(t *testing.T) {
	tests := []struct {
		total     int64
		size      int
		wantPages int
	}{
		{0, 20, 0},
		{20, 20, 1},
		{21, 20, 2},
		{5, 0, 0},
	}
	for _, tt := range tests {
		p := NewPaginated([]string{"a"}, tt.total, 1, tt.size)
		assert.Equal(t, tt.wantPages, p.TotalPages, "total=%d size=%d", tt.total, tt.size)
	}
}
