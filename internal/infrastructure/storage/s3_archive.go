// Package storage archives exported compliance matrices in S3-compatible
// object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	complianceapp "github.com/govcon/shredder/internal/application/compliance"
	"github.com/govcon/shredder/internal/infrastructure/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	matrixContentType        = "text/csv; charset=utf-8"
	defaultPresignExpiration = 15 * time.Minute
	defaultRegion            = "us-east-1"
)

var _ complianceapp.MatrixArchive = (*S3MatrixArchive)(nil)

// S3MatrixArchive stores matrix CSV exports under
// <prefix>/matrices/<opportunity id>/<timestamp>.csv. It works with any
// S3-compatible backend (AWS S3, MinIO, RustFS).
type S3MatrixArchive struct {
	client            *s3.Client
	presignClient     *s3.PresignClient
	bucket            string
	prefix            string
	presignExpiration time.Duration
	now               func() time.Time
	logger            *zap.Logger
}

// S3MatrixArchiveOption configures an S3MatrixArchive
type S3MatrixArchiveOption func(*S3MatrixArchive)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) S3MatrixArchiveOption {
	return func(s *S3MatrixArchive) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPresignExpiration sets the default lifetime of download URLs
func WithPresignExpiration(d time.Duration) S3MatrixArchiveOption {
	return func(s *S3MatrixArchive) {
		s.presignExpiration = d
	}
}

// WithClock overrides the clock used to name archived objects
func WithClock(now func() time.Time) S3MatrixArchiveOption {
	return func(s *S3MatrixArchive) {
		s.now = now
	}
}

// NewS3MatrixArchive creates an archive from configuration. Empty access
// keys fall back to the default AWS credential chain.
func NewS3MatrixArchive(ctx context.Context, cfg config.StorageConfig, opts ...S3MatrixArchiveOption) (*S3MatrixArchive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, errors.New("storage access key id and secret access key must be set together")
	}

	endpoint, err := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	archive := &S3MatrixArchive{
		client:            client,
		presignClient:     s3.NewPresignClient(client),
		bucket:            cfg.Bucket,
		prefix:            strings.Trim(cfg.Prefix, "/"),
		presignExpiration: defaultPresignExpiration,
		now:               time.Now,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(archive)
	}
	if archive.presignExpiration <= 0 {
		archive.presignExpiration = defaultPresignExpiration
	}
	archive.logger = archive.logger.Named("matrix_archive")
	return archive, nil
}

// normalizeEndpoint adds the scheme to a bare host. An empty endpoint means
// AWS S3 itself.
func normalizeEndpoint(endpoint string, useSSL bool) (string, error) {
	if endpoint == "" {
		return "", nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if useSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid storage endpoint %q", endpoint)
	}
	return endpoint, nil
}

// EnsureBucket creates the bucket if it does not exist
func (s *S3MatrixArchive) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating storage bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// matrixPrefix is the key prefix shared by all archives of one opportunity
func (s *S3MatrixArchive) matrixPrefix(opportunityID uuid.UUID) string {
	return path.Join(s.prefix, "matrices", opportunityID.String()) + "/"
}

// MatrixKey returns the object key of an archive taken at the given time
func (s *S3MatrixArchive) MatrixKey(opportunityID uuid.UUID, at time.Time) string {
	return s.matrixPrefix(opportunityID) + at.UTC().Format("20060102T150405.000Z") + ".csv"
}

// ArchiveMatrix uploads one CSV export and returns its object key
func (s *S3MatrixArchive) ArchiveMatrix(ctx context.Context, opportunityID uuid.UUID, data []byte) (string, error) {
	key := s.MatrixKey(opportunityID, s.now())
	if err := s.upload(ctx, key, data, matrixContentType); err != nil {
		return "", err
	}
	s.logger.Info("Matrix archived",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.Int("bytes", len(data)),
	)
	return key, nil
}

func (s *S3MatrixArchive) upload(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

// DownloadURL presigns a GET for an archived matrix
func (s *S3MatrixArchive) DownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, errors.New("storage key is required")
	}
	if expiresIn <= 0 {
		expiresIn = s.presignExpiration
	}
	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate download URL: %w", err)
	}
	return req.URL, time.Now().Add(expiresIn), nil
}

// ObjectExists checks whether an archived object exists
func (s *S3MatrixArchive) ObjectExists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("storage key is required")
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
			return false, nil
		}
		// some S3-compatible services report a missing key differently
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey") {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// DeleteMatrices removes every archive of an opportunity
func (s *S3MatrixArchive) DeleteMatrices(ctx context.Context, opportunityID uuid.UUID) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.matrixPrefix(opportunityID)),
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list archived matrices: %w", err)
		}
		for _, obj := range page.Contents {
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			}); err != nil {
				return fmt.Errorf("failed to delete object %s: %w", aws.ToString(obj.Key), err)
			}
			deleted++
		}
	}

	if deleted > 0 {
		s.logger.Info("Archived matrices deleted",
			zap.String("opportunity_id", opportunityID.String()),
			zap.Int("count", deleted),
		)
	}
	return nil
}

// Bucket returns the bucket name
func (s *S3MatrixArchive) Bucket() string {
	return s.bucket
}
