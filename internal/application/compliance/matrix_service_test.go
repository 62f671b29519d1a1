package compliance

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/govcon/shredder/internal/application/shredding"
	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/domain/shared"
	"github.com/govcon/shredder/internal/infrastructure/config"
	"github.com/govcon/shredder/internal/infrastructure/export"
	"github.com/govcon/shredder/internal/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// Mocks and fixtures
// =============================================================================

// MockMatrixArchive is a mock implementation of MatrixArchive
type MockMatrixArchive struct {
	mock.Mock
}

func (m *MockMatrixArchive) ArchiveMatrix(ctx context.Context, opportunityID uuid.UUID, data []byte) (string, error) {
	args := m.Called(ctx, opportunityID, data)
	return args.String(0), args.Error(1)
}

func (m *MockMatrixArchive) DownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, time.Time, error) {
	args := m.Called(ctx, key, expiresIn)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockMatrixArchive) DeleteMatrices(ctx context.Context, opportunityID uuid.UUID) error {
	args := m.Called(ctx, opportunityID)
	return args.Error(0)
}

// MockPDFRenderer is a mock implementation of PDFRenderer
type MockPDFRenderer struct {
	mock.Mock
}

func (m *MockPDFRenderer) RenderPDF(ctx context.Context, html []byte) ([]byte, error) {
	args := m.Called(ctx, html)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

type publishedEvents struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *publishedEvents) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *publishedEvents) all() []shared.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]shared.DomainEvent(nil), p.events...)
}

type fixture struct {
	service *MatrixService
	store   compliance.Store
	archive *MockMatrixArchive
	tracker *shredding.RunTracker
	events  *publishedEvents
	opp     *compliance.Opportunity
	reqs    []*compliance.Requirement
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	db, err := persistence.NewDatabase(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:", LogLevel: "silent"},
		persistence.WithLogger(log))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })
	store := persistence.NewGormComplianceStore(db.DB)

	opp, err := compliance.NewOpportunity(uuid.Nil, "W912DQ-24-R-0001", "Help desk support")
	require.NoError(t, err)
	reqs := []*compliance.Requirement{
		newRequirement(t, opp.ID, "L", 1, "Offerors must submit a technical proposal.", compliance.ComplianceTypeMandatory, true),
		newRequirement(t, opp.ID, "C", 2, "The contractor should provide training.", compliance.ComplianceTypeRecommended, false),
		newRequirement(t, opp.ID, "C", 1, "The contractor shall provide support.", compliance.ComplianceTypeMandatory, false),
	}
	_, err = store.Ingest(context.Background(), opp, []compliance.SectionRecord{
		{OpportunityID: opp.ID, Ordinal: 0, Label: "C", Kind: "SECTION"},
		{OpportunityID: opp.ID, Ordinal: 1, Label: "L", Kind: "SECTION"},
	}, reqs)
	require.NoError(t, err)

	archive := new(MockMatrixArchive)
	tracker := shredding.NewRunTracker()
	events := &publishedEvents{}
	svc := NewMatrixService(store,
		WithArchive(archive),
		WithRunTracker(tracker),
		WithEventPublisher(events),
		WithLogger(log),
	)
	return &fixture{service: svc, store: store, archive: archive, tracker: tracker, events: events, opp: opp, reqs: reqs}
}

func newRequirement(t *testing.T, oppID uuid.UUID, label string, seq int, text string, ct compliance.ComplianceType, risk bool) *compliance.Requirement {
	t.Helper()
	req, err := compliance.NewRequirement(oppID, compliance.RequirementSource{
		SectionLabel: label,
		Sequence:     seq,
		Page:         1,
		Paragraph:    seq,
		Text:         text,
		TextHash:     "hash-" + text,
	}, compliance.ClassificationResult{
		ComplianceType: ct,
		Category:       "technical",
		Priority:       compliance.PriorityHigh,
		Risk:           risk,
		Keywords:       []string{"shall"},
		Confidence:     0.9,
		Source:         "test",
	})
	require.NoError(t, err)
	return req
}

func strPtr(s string) *string { return &s }

// =============================================================================
// Opportunities
// =============================================================================

func TestMatrixService_ListAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	page, err := f.service.List(ctx, OpportunityListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "W912DQ-24-R-0001", page.Items[0].SolicitationNumber)
	assert.Nil(t, page.Items[0].LatestRun)

	page, err = f.service.List(ctx, OpportunityListFilter{Status: "analyzing"})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	f.tracker.Record(shredding.Run{ID: uuid.New(), OpportunityID: f.opp.ID, State: shredding.RunStateCompleted, StartedAt: time.Now()})
	got, err := f.service.Get(ctx, f.opp.ID)
	require.NoError(t, err)
	assert.Equal(t, "Help desk support", got.Title)
	require.NotNil(t, got.LatestRun)
	assert.Equal(t, shredding.RunStateCompleted, got.LatestRun.State)

	_, err = f.service.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMatrixService_LatestRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.LatestRun(ctx, f.opp.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	runID := uuid.New()
	f.tracker.Record(shredding.Run{ID: runID, OpportunityID: f.opp.ID, State: shredding.RunStateClassifying, StartedAt: time.Now()})
	run, err := f.service.LatestRun(ctx, f.opp.ID)
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)
}

// =============================================================================
// Requirements
// =============================================================================

func TestMatrixService_Requirements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rows, err := f.service.Requirements(ctx, f.opp.ID, RequirementQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"C", "C", "L"}, []string{rows[0].Section, rows[1].Section, rows[2].Section})
	assert.Equal(t, "The contractor shall provide support.", rows[0].Text)

	risky := true
	rows, err = f.service.Requirements(ctx, f.opp.ID, RequirementQuery{Risk: &risky})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "L", rows[0].Section)

	rows, err = f.service.Requirements(ctx, f.opp.ID, RequirementQuery{Section: "C", ComplianceType: "recommended"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "The contractor should provide training.", rows[0].Text)

	_, err = f.service.Requirements(ctx, f.opp.ID, RequirementQuery{ComplianceType: "critical"})
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, compliance.CodeInvalidComplianceType, domainErr.Code)

	_, err = f.service.Requirements(ctx, uuid.New(), RequirementQuery{})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

// =============================================================================
// Export
// =============================================================================

func TestMatrixService_ExportCSV(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expires := time.Now().Add(DefaultDownloadExpiry)

	f.archive.On("ArchiveMatrix", mock.Anything, f.opp.ID, mock.Anything).Return("matrices/key.csv", nil).Once()
	f.archive.On("DownloadURL", mock.Anything, "matrices/key.csv", DefaultDownloadExpiry).
		Return("https://s3.example/matrices/key.csv?X-Amz-Signature=abc", expires, nil).Once()

	result, err := f.service.ExportCSV(ctx, f.opp.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "compliance-matrix-W912DQ-24-R-0001.csv", result.Filename)
	assert.Equal(t, 3, result.Rows)
	assert.Equal(t, "matrices/key.csv", result.ArchiveKey)
	assert.Contains(t, result.DownloadURL, "X-Amz-Signature")
	require.NotNil(t, result.ExpiresAt)
	assert.True(t, bytes.HasPrefix(result.Data, []byte{0xEF, 0xBB, 0xBF}))

	parsed, err := export.ParseMatrix(bytes.NewReader(result.Data))
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 3)
	assert.Equal(t, f.reqs[2].ID.String(), parsed.Rows[0].ReqID)
	f.archive.AssertExpectations(t)
}

func TestMatrixService_ExportSurvivesArchiveFailure(t *testing.T) {
	f := newFixture(t)
	f.archive.On("ArchiveMatrix", mock.Anything, f.opp.ID, mock.Anything).Return("", errors.New("bucket gone")).Once()

	result, err := f.service.ExportCSV(context.Background(), f.opp.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Rows)
	assert.Empty(t, result.ArchiveKey)
	assert.Empty(t, result.DownloadURL)
	assert.True(t, strings.HasPrefix(string(result.Data), export.ColReqID))
	f.archive.AssertNotCalled(t, "DownloadURL", mock.Anything, mock.Anything, mock.Anything)
}

func TestMatrixService_ExportWithoutArchive(t *testing.T) {
	f := newFixture(t)
	svc := NewMatrixService(f.store)

	result, err := svc.ExportCSV(context.Background(), f.opp.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Rows)

	_, err = svc.ExportCSV(context.Background(), uuid.New(), false)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMatrixService_ExportPDF(t *testing.T) {
	f := newFixture(t)
	renderer := new(MockPDFRenderer)
	var html string
	renderer.On("RenderPDF", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { html = string(args.Get(1).([]byte)) }).
		Return([]byte("%PDF-1.7 matrix"), nil).Once()
	svc := NewMatrixService(f.store, WithPDFRenderer(renderer), WithArchive(f.archive))

	result, err := svc.ExportPDF(context.Background(), f.opp.ID)
	require.NoError(t, err)
	assert.Equal(t, "compliance-matrix-W912DQ-24-R-0001.pdf", result.Filename)
	assert.Equal(t, 3, result.Rows)
	assert.Equal(t, []byte("%PDF-1.7 matrix"), result.Data)
	assert.Contains(t, html, "W912DQ-24-R-0001 - Help desk support")
	assert.Contains(t, html, "The contractor shall provide support.")
	// CSV remains the archived copy
	f.archive.AssertNotCalled(t, "ArchiveMatrix", mock.Anything, mock.Anything, mock.Anything)
	renderer.AssertExpectations(t)
}

func TestMatrixService_ExportPDFErrors(t *testing.T) {
	f := newFixture(t)

	_, err := NewMatrixService(f.store).ExportPDF(context.Background(), f.opp.ID)
	assert.ErrorIs(t, err, ErrPDFExportDisabled)

	renderer := new(MockPDFRenderer)
	renderer.On("RenderPDF", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded).Once()
	svc := NewMatrixService(f.store, WithPDFRenderer(renderer))

	_, err = svc.ExportPDF(context.Background(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.ExportPDF(context.Background(), f.opp.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// Tracking
// =============================================================================

func TestMatrixService_UpdateTracking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reqID := f.reqs[0].ID

	row, err := f.service.UpdateTracking(ctx, f.opp.ID, reqID, UpdateTrackingRequest{
		ComplianceStatus: strPtr("compliant"),
		AssignedTo:       strPtr("  alice "),
		AssigneeType:     strPtr("individual"),
		DueDate:          strPtr("2026-11-30"),
	})
	require.NoError(t, err)
	assert.Equal(t, compliance.ComplianceStatusCompliant, row.ComplianceStatus)
	assert.Equal(t, "alice", row.AssignedTo)
	require.NotNil(t, row.DueDate)
	assert.Equal(t, "2026-11-30", row.DueDate.Format("2006-01-02"))

	evts := f.events.all()
	require.Len(t, evts, 1)
	tracked, ok := evts[0].(*compliance.TrackingUpdatedEvent)
	require.True(t, ok)
	assert.Equal(t, reqID, tracked.RequirementID)

	row, err = f.service.UpdateTracking(ctx, f.opp.ID, reqID, UpdateTrackingRequest{ClearDueDate: true})
	require.NoError(t, err)
	assert.Nil(t, row.DueDate)
	assert.Equal(t, "alice", row.AssignedTo)
}

func TestMatrixService_UpdateTrackingErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		reqID   uuid.UUID
		req     UpdateTrackingRequest
		wantErr error
		code    string
	}{
		{"empty update", f.reqs[0].ID, UpdateTrackingRequest{}, shared.ErrInvalidInput, ""},
		{"bad status", f.reqs[0].ID, UpdateTrackingRequest{ComplianceStatus: strPtr("done")}, nil, compliance.CodeInvalidTrackingField},
		{"bad due date", f.reqs[0].ID, UpdateTrackingRequest{DueDate: strPtr("30/11/2026")}, nil, compliance.CodeInvalidTrackingField},
		{"unknown requirement", uuid.New(), UpdateTrackingRequest{Notes: strPtr("n")}, shared.ErrNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.UpdateTracking(ctx, f.opp.ID, tt.reqID, tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.code != "" {
				var domainErr *shared.DomainError
				require.ErrorAs(t, err, &domainErr)
				assert.Equal(t, tt.code, domainErr.Code)
			}
		})
	}
	assert.Empty(t, f.events.all())
}

func TestMatrixService_ImportTracking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.UpdateTracking(ctx, f.opp.ID, f.reqs[1].ID, UpdateTrackingRequest{Notes: strPtr("keep me")})
	require.NoError(t, err)

	stranger := uuid.New().String()
	csv := strings.Join([]string{
		"\ufeffReq ID,Requirement Text,Compliance Type,Compliance Status,Assigned To,Due Date",
		f.reqs[0].ID.String() + ",edited text is ignored,optional,in_progress,bob,2026-12-01",
		f.reqs[1].ID.String() + ",,,,,",
		f.reqs[2].ID.String() + ",,,not_started,,",
		stranger + ",,,compliant,carol,",
		"not-a-uuid,,,,,",
	}, "\n")

	result, err := f.service.ImportTracking(ctx, f.opp.ID, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 4, result.Rows)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 2, result.Unchanged)
	assert.Equal(t, []string{stranger}, result.Unknown)
	assert.Empty(t, result.Rejected)
	assert.Equal(t, 1, result.TotalErrors)
	require.Len(t, result.RowErrors, 1)
	assert.Equal(t, export.ColReqID, result.RowErrors[0].Column)

	rows, err := f.service.Requirements(ctx, f.opp.ID, RequirementQuery{})
	require.NoError(t, err)
	byID := make(map[string]compliance.MatrixRow, len(rows))
	for _, r := range rows {
		byID[r.ReqID] = r
	}

	edited := byID[f.reqs[0].ID.String()]
	assert.Equal(t, compliance.ComplianceStatusInProgress, edited.ComplianceStatus)
	assert.Equal(t, "bob", edited.AssignedTo)
	require.NotNil(t, edited.DueDate)
	assert.Equal(t, "2026-12-01", edited.DueDate.UTC().Format("2006-01-02"))
	// classification columns are never imported
	assert.Equal(t, "Offerors must submit a technical proposal.", edited.Text)
	assert.Equal(t, compliance.ComplianceTypeMandatory, edited.ComplianceType)

	// Notes is not a column of the file, so it survives
	assert.Equal(t, "keep me", byID[f.reqs[1].ID.String()].Notes)
}

func TestMatrixService_ImportTrackingErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.ImportTracking(ctx, f.opp.ID, strings.NewReader("Section,Notes\nC,x\n"))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = f.service.ImportTracking(ctx, f.opp.ID, strings.NewReader(""))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = f.service.ImportTracking(ctx, uuid.New(), strings.NewReader("Req ID\n"))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

// =============================================================================
// Delete
// =============================================================================

func TestMatrixService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	runID := uuid.New()
	f.tracker.Record(shredding.Run{ID: runID, OpportunityID: f.opp.ID, State: shredding.RunStatePersisting, StartedAt: time.Now()})
	err := f.service.Delete(ctx, f.opp.ID)
	assert.ErrorIs(t, err, shared.ErrConflict)

	f.tracker.Record(shredding.Run{ID: runID, OpportunityID: f.opp.ID, State: shredding.RunStateCompleted, StartedAt: time.Now()})
	f.archive.On("DeleteMatrices", mock.Anything, f.opp.ID).Return(errors.New("s3 down")).Once()

	require.NoError(t, f.service.Delete(ctx, f.opp.ID))
	_, err = f.service.Get(ctx, f.opp.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, ok := f.tracker.Latest(f.opp.ID)
	assert.False(t, ok)
	f.archive.AssertExpectations(t)

	assert.ErrorIs(t, f.service.Delete(ctx, f.opp.ID), shared.ErrNotFound)
}
