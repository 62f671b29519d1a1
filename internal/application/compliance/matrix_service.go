// Package compliance serves the compliance matrix of shredded opportunities:
// listing, projection, CSV export with archiving, and tracking updates.
package compliance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/govcon/shredder/internal/application/shredding"
	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/domain/shared"
	"github.com/govcon/shredder/internal/infrastructure/export"
	"github.com/govcon/shredder/internal/infrastructure/logger"
	"github.com/govcon/shredder/internal/infrastructure/printing"
	"github.com/govcon/shredder/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDownloadExpiry is how long a presigned matrix download URL stays valid
const DefaultDownloadExpiry = 15 * time.Minute

// MatrixService handles compliance matrix operations
type MatrixService struct {
	store     compliance.Store
	archive   MatrixArchive
	pdf       PDFRenderer
	tracker   *shredding.RunTracker
	publisher shared.EventPublisher
	logger    *zap.Logger
	expiry    time.Duration
}

// MatrixServiceOption configures a MatrixService
type MatrixServiceOption func(*MatrixService)

// WithArchive archives every export
func WithArchive(a MatrixArchive) MatrixServiceOption {
	return func(s *MatrixService) {
		s.archive = a
	}
}

// WithPDFRenderer enables PDF export
func WithPDFRenderer(r PDFRenderer) MatrixServiceOption {
	return func(s *MatrixService) {
		s.pdf = r
	}
}

// WithRunTracker attaches run snapshots to opportunity responses
func WithRunTracker(t *shredding.RunTracker) MatrixServiceOption {
	return func(s *MatrixService) {
		s.tracker = t
	}
}

// WithEventPublisher publishes tracking events
func WithEventPublisher(p shared.EventPublisher) MatrixServiceOption {
	return func(s *MatrixService) {
		s.publisher = p
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) MatrixServiceOption {
	return func(s *MatrixService) {
		s.logger = logger.OrNop(l)
	}
}

// WithDownloadExpiry sets the lifetime of presigned download URLs
func WithDownloadExpiry(d time.Duration) MatrixServiceOption {
	return func(s *MatrixService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// NewMatrixService creates a new MatrixService
func NewMatrixService(store compliance.Store, opts ...MatrixServiceOption) *MatrixService {
	s := &MatrixService{
		store:  store,
		logger: zap.NewNop(),
		expiry: DefaultDownloadExpiry,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("matrix")
	return s
}

// List returns a page of opportunities
func (s *MatrixService) List(ctx context.Context, filter OpportunityListFilter) (shared.Paginated[OpportunityResponse], error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.OrderDir == "" {
		filter.OrderDir = "desc"
	}

	domainFilter := shared.Filter{
		Page:     filter.Page,
		PageSize: filter.PageSize,
		OrderBy:  filter.OrderBy,
		OrderDir: filter.OrderDir,
		Search:   filter.Search,
		Filters:  make(map[string]any),
	}
	if filter.Status != "" {
		domainFilter.Filters["status"] = filter.Status
	}
	if filter.Degraded != nil {
		domainFilter.Filters["degraded"] = *filter.Degraded
	}

	opps, total, err := s.store.ListOpportunities(ctx, domainFilter)
	if err != nil {
		return shared.Paginated[OpportunityResponse]{}, err
	}
	items := make([]OpportunityResponse, len(opps))
	for i := range opps {
		items[i] = s.toResponse(&opps[i])
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

// Get returns an opportunity with its latest run
func (s *MatrixService) Get(ctx context.Context, id uuid.UUID) (*OpportunityResponse, error) {
	opp, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := s.toResponse(opp)
	return &resp, nil
}

// LatestRun returns the latest run of an opportunity
func (s *MatrixService) LatestRun(ctx context.Context, id uuid.UUID) (*shredding.Run, error) {
	if s.tracker != nil {
		if run, ok := s.tracker.Latest(id); ok {
			return &run, nil
		}
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, shared.NewDomainError(shared.ErrNotFound.Code, "No run recorded for this opportunity")
}

// Requirements returns the projected matrix rows of an opportunity
func (s *MatrixService) Requirements(ctx context.Context, id uuid.UUID, query RequirementQuery) ([]compliance.MatrixRow, error) {
	if err := query.validate(); err != nil {
		return nil, err
	}
	rows, err := s.matrix(ctx, id)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, row := range rows {
		if query.matches(row) {
			out = append(out, row)
		}
	}
	return out, nil
}

// ExportCSV renders the matrix as CSV and archives a copy. Archive failures
// are logged; the export is still returned.
func (s *MatrixService) ExportCSV(ctx context.Context, id uuid.UUID, withBOM bool) (*ExportResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "matrix", "export",
		telemetry.WithAttribute("opportunity.id", id.String()))
	defer span.End()

	opp, err := s.store.Get(ctx, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	rows, err := s.matrix(ctx, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var buf bytes.Buffer
	var opts []export.WriterOption
	if withBOM {
		opts = append(opts, export.WithBOM())
	}
	w := export.NewMatrixWriter(&buf, opts...)
	if err := w.WriteAll(rows); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to render matrix: %w", err)
	}

	result := &ExportResult{
		Filename: exportFilename(opp, "csv"),
		Rows:     w.Rows(),
		Data:     buf.Bytes(),
	}
	telemetry.SetAttribute(span, "matrix.rows", result.Rows)
	s.archiveExport(ctx, id, result)
	telemetry.SetOK(span)
	return result, nil
}

// ExportPDF prints the matrix as a landscape PDF. PDF exports are not
// archived; the CSV stays the matrix of record.
func (s *MatrixService) ExportPDF(ctx context.Context, id uuid.UUID) (*ExportResult, error) {
	if s.pdf == nil {
		return nil, ErrPDFExportDisabled
	}
	ctx, span := telemetry.StartServiceSpan(ctx, "matrix", "export_pdf",
		telemetry.WithAttribute("opportunity.id", id.String()))
	defer span.End()

	opp, err := s.store.Get(ctx, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	rows, err := s.matrix(ctx, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var html bytes.Buffer
	if err := printing.RenderMatrixHTML(&html, printing.MatrixDocument{
		SolicitationNumber: opp.SolicitationNumber,
		Title:              opp.Title,
		GeneratedAt:        time.Now().UTC(),
		Rows:               rows,
	}); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to render matrix: %w", err)
	}
	pdf, err := s.pdf.RenderPDF(ctx, html.Bytes())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetAttribute(span, "matrix.rows", len(rows))
	telemetry.SetOK(span)
	return &ExportResult{
		Filename: exportFilename(opp, "pdf"),
		Rows:     len(rows),
		Data:     pdf,
	}, nil
}

func (s *MatrixService) archiveExport(ctx context.Context, id uuid.UUID, result *ExportResult) {
	if s.archive == nil {
		return
	}
	log := logger.WithLogger(ctx, s.logger)

	key, err := s.archive.ArchiveMatrix(ctx, id, result.Data)
	if err != nil {
		log.Warn("Failed to archive matrix export", zap.String("opportunity_id", id.String()), zap.Error(err))
		return
	}
	if key == "" {
		return
	}
	result.ArchiveKey = key

	url, expires, err := s.archive.DownloadURL(ctx, key, s.expiry)
	if err != nil {
		log.Warn("Failed to presign matrix download", zap.String("key", key), zap.Error(err))
		return
	}
	result.DownloadURL = url
	result.ExpiresAt = &expires
}

// UpdateTracking applies a tracking update to one requirement
func (s *MatrixService) UpdateTracking(ctx context.Context, opportunityID, requirementID uuid.UUID, req UpdateTrackingRequest) (*compliance.MatrixRow, error) {
	update, err := req.ToDomain()
	if err != nil {
		return nil, err
	}
	if update.IsEmpty() {
		return nil, shared.NewDomainError(shared.ErrInvalidInput.Code, "No tracking fields to update")
	}

	updated, err := s.store.UpdateTracking(ctx, opportunityID, requirementID, update)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, compliance.NewTrackingUpdatedEvent(updated))

	row := compliance.ProjectMatrix([]compliance.Requirement{*updated})[0]
	return &row, nil
}

// ImportTracking applies the tracking columns of an edited matrix CSV. Only
// columns present in the file are applied, only to requirements of this
// opportunity, and rows whose tracking already matches are left alone.
// Classification columns are ignored.
func (s *MatrixService) ImportTracking(ctx context.Context, opportunityID uuid.UUID, r io.Reader) (*ImportResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "matrix", "import",
		telemetry.WithAttribute("opportunity.id", opportunityID.String()))
	defer span.End()

	if _, err := s.store.Get(ctx, opportunityID); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	parsed, err := export.ParseMatrix(r)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, shared.NewDomainError(shared.ErrInvalidInput.Code, fmt.Sprintf("Invalid matrix file: %v", err))
	}

	existing, err := s.store.ListRequirements(ctx, opportunityID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	byID := make(map[string]compliance.Requirement, len(existing))
	for _, req := range existing {
		byID[req.ID.String()] = req
	}

	result := &ImportResult{
		Rows:        len(parsed.Rows),
		Unknown:     []string{},
		Rejected:    []ImportRejection{},
		RowErrors:   parsed.Errors,
		TotalErrors: parsed.TotalErrors,
	}
	if result.RowErrors == nil {
		result.RowErrors = []export.RowError{}
	}

	for _, row := range parsed.Rows {
		current, ok := byID[row.ReqID]
		if !ok {
			result.Unknown = append(result.Unknown, row.ReqID)
			continue
		}
		update := trackingFromRow(row, parsed.HasColumn)

		next := current
		if err := next.ApplyTracking(update); err != nil {
			result.Rejected = append(result.Rejected, ImportRejection{ReqID: row.ReqID, Message: err.Error()})
			continue
		}
		if trackingEqual(current.Tracking, next.Tracking) {
			result.Unchanged++
			continue
		}

		updated, err := s.store.UpdateTracking(ctx, opportunityID, current.ID, update)
		if err != nil {
			var domainErr *shared.DomainError
			if errors.As(err, &domainErr) {
				result.Rejected = append(result.Rejected, ImportRejection{ReqID: row.ReqID, Message: domainErr.Message})
				continue
			}
			telemetry.RecordError(span, err)
			return nil, err
		}
		result.Applied++
		s.publish(ctx, compliance.NewTrackingUpdatedEvent(updated))
	}

	logger.WithLogger(ctx, s.logger).Info("Tracking import finished",
		zap.String("opportunity_id", opportunityID.String()),
		zap.Int("rows", result.Rows),
		zap.Int("applied", result.Applied),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("unknown", len(result.Unknown)),
		zap.Int("rejected", len(result.Rejected)),
		zap.Int("row_errors", result.TotalErrors),
	)
	telemetry.SetOK(span)
	return result, nil
}

// Delete removes an opportunity with its requirements and archived exports.
// An opportunity with an active run cannot be deleted.
func (s *MatrixService) Delete(ctx context.Context, id uuid.UUID) error {
	if s.tracker != nil {
		if run, ok := s.tracker.Latest(id); ok && !run.State.IsTerminal() {
			return shared.NewDomainError(shared.ErrConflict.Code, "Opportunity has an active run")
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if s.tracker != nil {
		s.tracker.Forget(id)
	}
	if s.archive != nil {
		if err := s.archive.DeleteMatrices(ctx, id); err != nil {
			logger.WithLogger(ctx, s.logger).Warn("Failed to delete archived matrices",
				zap.String("opportunity_id", id.String()), zap.Error(err))
		}
	}
	return nil
}

func (s *MatrixService) matrix(ctx context.Context, id uuid.UUID) ([]compliance.MatrixRow, error) {
	reqs, err := s.store.ListRequirements(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		// distinguish an empty matrix from an unknown opportunity
		if _, err := s.store.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	return compliance.ProjectMatrix(reqs), nil
}

func (s *MatrixService) toResponse(o *compliance.Opportunity) OpportunityResponse {
	resp := ToOpportunityResponse(o)
	if s.tracker != nil {
		if run, ok := s.tracker.Latest(o.ID); ok {
			resp.LatestRun = &run
		}
	}
	return resp
}

func (s *MatrixService) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), events...); err != nil {
		logger.WithLogger(ctx, s.logger).Warn("Failed to publish tracking event", zap.Error(err))
	}
}

// trackingFromRow builds an update from the tracking columns the file
// carries. An empty status keeps the stored one; other empty cells clear.
func trackingFromRow(row compliance.MatrixRow, has func(string) bool) compliance.TrackingUpdate {
	var u compliance.TrackingUpdate
	if has(export.ColComplianceStatus) && row.ComplianceStatus != "" {
		status := row.ComplianceStatus
		u.ComplianceStatus = &status
	}
	text := []struct {
		col string
		val string
		dst **string
	}{
		{export.ColProposalSection, row.ProposalSection, &u.ProposalSection},
		{export.ColProposalPage, row.ProposalPage, &u.ProposalPage},
		{export.ColAssignedTo, row.AssignedTo, &u.AssignedTo},
		{export.ColAssigneeName, row.AssigneeName, &u.AssigneeName},
		{export.ColNotes, row.Notes, &u.Notes},
	}
	for _, f := range text {
		if has(f.col) {
			v := f.val
			*f.dst = &v
		}
	}
	if has(export.ColAssigneeType) {
		at := row.AssigneeType
		u.AssigneeType = &at
	}
	if has(export.ColDueDate) {
		if row.DueDate == nil {
			u.ClearDueDate = true
		} else {
			d := *row.DueDate
			u.DueDate = &d
		}
	}
	return u
}

func trackingEqual(a, b compliance.Tracking) bool {
	if a.ComplianceStatus != b.ComplianceStatus || a.ProposalSection != b.ProposalSection ||
		a.ProposalPage != b.ProposalPage || a.AssignedTo != b.AssignedTo ||
		a.AssigneeType != b.AssigneeType || a.AssigneeName != b.AssigneeName || a.Notes != b.Notes {
		return false
	}
	if a.DueDate == nil || b.DueDate == nil {
		return a.DueDate == nil && b.DueDate == nil
	}
	return a.DueDate.Equal(*b.DueDate)
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func exportFilename(o *compliance.Opportunity, ext string) string {
	name := o.SolicitationNumber
	if name == "" {
		name = o.ID.String()
	}
	name = strings.Trim(unsafeFilename.ReplaceAllString(name, "_"), "_")
	return "compliance-matrix-" + name + "." + ext
}
