package compliance

import (
	"context"
	"time"

	"github.com/govcon/shredder/internal/domain/shared"
	"github.com/google/uuid"
)

// IngestResult counts what an ingest did to the requirement rows
type IngestResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Total returns the number of requirements the ingest saw
func (r IngestResult) Total() int {
	return r.Inserted + r.Updated + r.Unchanged
}

// Store persists opportunities with their sections and requirements.
// Ingest is atomic: either every row of a run lands or none does.
type Store interface {
	// Ingest creates or updates the opportunity, replaces its section
	// metadata and upserts requirements. Existing requirements get only
	// their classification fields refreshed.
	Ingest(ctx context.Context, opp *Opportunity, sections []SectionRecord, reqs []*Requirement) (IngestResult, error)

	// EnsureOpportunity creates the opportunity if absent and returns the stored row
	EnsureOpportunity(ctx context.Context, opp *Opportunity) (*Opportunity, error)

	// SaveOpportunity persists status and title changes
	SaveOpportunity(ctx context.Context, opp *Opportunity) error

	// Get returns an opportunity by id
	Get(ctx context.Context, id uuid.UUID) (*Opportunity, error)

	// FindBySolicitationNumber returns an opportunity by its normalized solicitation number
	FindBySolicitationNumber(ctx context.Context, number string) (*Opportunity, error)

	// ListOpportunities returns a page of opportunities and the total count
	ListOpportunities(ctx context.Context, filter shared.Filter) ([]Opportunity, int64, error)

	// ListRequirements returns all requirements of an opportunity ordered by
	// section label then sequence
	ListRequirements(ctx context.Context, opportunityID uuid.UUID) ([]Requirement, error)

	// ListSections returns the section metadata of the latest ingest
	ListSections(ctx context.Context, opportunityID uuid.UUID) ([]SectionRecord, error)

	// UpdateTracking applies a tracking update to one requirement
	UpdateTracking(ctx context.Context, opportunityID, requirementID uuid.UUID, update TrackingUpdate) (*Requirement, error)

	// Delete removes an opportunity with all its sections and requirements
	Delete(ctx context.Context, id uuid.UUID) error
}

// RunLock is a held per-opportunity run lock
type RunLock interface {
	// Refresh extends the lock to ttl from now. It fails with ErrRunLockLost
	// when the lock is no longer ours.
	Refresh(ctx context.Context, ttl time.Duration) error
	// Release gives the lock up. Releasing twice is a no-op.
	Release(ctx context.Context) error
}

// RunLocker serializes pipeline runs per opportunity
type RunLocker interface {
	// Acquire blocks until the lock for key is held or ctx is done
	Acquire(ctx context.Context, key string, ttl time.Duration) (RunLock, error)
}

// RunLockKey is the lock key for runs of an opportunity
func RunLockKey(opportunityID uuid.UUID) string {
	return "shred:run:" + opportunityID.String()
}
