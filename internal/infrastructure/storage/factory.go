package storage

import (
	"context"
	"fmt"

	complianceapp "github.com/govcon/shredder/internal/application/compliance"
	"github.com/govcon/shredder/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NewMatrixArchive returns the S3 archive when storage is enabled and the
// no-op archive otherwise. The bucket is created on first use.
func NewMatrixArchive(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (complianceapp.MatrixArchive, error) {
	if !cfg.Enabled {
		return NoopMatrixArchive{}, nil
	}
	archive, err := NewS3MatrixArchive(ctx, cfg, WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := archive.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare matrix bucket: %w", err)
	}
	return archive, nil
}
