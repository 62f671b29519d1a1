package compliance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MatrixArchive keeps copies of exported matrices
type MatrixArchive interface {
	// ArchiveMatrix stores an exported CSV and returns its key. An empty key
	// means nothing was stored.
	ArchiveMatrix(ctx context.Context, opportunityID uuid.UUID, data []byte) (string, error)
	// DownloadURL returns a time-limited URL for an archived matrix
	DownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, time.Time, error)
	// DeleteMatrices removes every archived matrix of an opportunity
	DeleteMatrices(ctx context.Context, opportunityID uuid.UUID) error
}

// PDFRenderer prints an HTML document to PDF
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html []byte) ([]byte, error)
}
