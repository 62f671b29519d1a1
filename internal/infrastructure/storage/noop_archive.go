package storage

import (
	"context"
	"errors"
	"time"

	complianceapp "github.com/govcon/shredder/internal/application/compliance"
	"github.com/google/uuid"
)

var _ complianceapp.MatrixArchive = NoopMatrixArchive{}

// NoopMatrixArchive is used when object storage is disabled. Exports are
// served but not kept.
type NoopMatrixArchive struct{}

// ArchiveMatrix returns an empty key
func (NoopMatrixArchive) ArchiveMatrix(context.Context, uuid.UUID, []byte) (string, error) {
	return "", nil
}

// DownloadURL always fails since nothing is stored
func (NoopMatrixArchive) DownloadURL(context.Context, string, time.Duration) (string, time.Time, error) {
	return "", time.Time{}, errors.New("matrix archive is disabled")
}

// DeleteMatrices does nothing
func (NoopMatrixArchive) DeleteMatrices(context.Context, uuid.UUID) error {
	return nil
}
