package storage

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/govcon/shredder/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeS3 is a path-style S3 endpoint that keeps objects in memory
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	types   map[string]string
}

type listResult struct {
	XMLName     xml.Name     `xml:"ListBucketResult"`
	Name        string       `xml:"Name"`
	Prefix      string       `xml:"Prefix"`
	KeyCount    int          `xml:"KeyCount"`
	IsTruncated bool         `xml:"IsTruncated"`
	Contents    []listObject `xml:"Contents"`
}

type listObject struct {
	Key  string `xml:"Key"`
	Size int    `xml:"Size"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case key == "" && r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodGet:
		prefix := r.URL.Query().Get("prefix")
		res := listResult{Name: bucket, Prefix: prefix}
		keys := make([]string, 0, len(f.objects))
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			res.Contents = append(res.Contents, listObject{Key: k, Size: len(f.objects[k])})
		}
		res.KeyCount = len(res.Contents)
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(res)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newFakeArchive(t *testing.T, opts ...S3MatrixArchiveOption) (*S3MatrixArchive, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "matrices", objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := config.StorageConfig{
		Enabled:         true,
		Endpoint:        srv.URL,
		Bucket:          "matrices",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		ForcePathStyle:  true,
		Prefix:          "/exports/",
	}
	archive, err := NewS3MatrixArchive(context.Background(), cfg, append([]S3MatrixArchiveOption{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	return archive, fake
}

func TestNewS3MatrixArchive_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("missing bucket", func(t *testing.T) {
		_, err := NewS3MatrixArchive(ctx, config.StorageConfig{})
		assert.ErrorContains(t, err, "bucket is required")
	})

	t.Run("half of the key pair", func(t *testing.T) {
		_, err := NewS3MatrixArchive(ctx, config.StorageConfig{Bucket: "b", AccessKeyID: "k"})
		assert.ErrorContains(t, err, "must be set together")
	})

	t.Run("bare host gets a scheme", func(t *testing.T) {
		got, err := normalizeEndpoint("minio:9000", true)
		require.NoError(t, err)
		assert.Equal(t, "https://minio:9000", got)

		got, err = normalizeEndpoint("minio:9000", false)
		require.NoError(t, err)
		assert.Equal(t, "http://minio:9000", got)

		got, err = normalizeEndpoint("", false)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("valid config", func(t *testing.T) {
		a, err := NewS3MatrixArchive(ctx, config.StorageConfig{
			Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s", Endpoint: "localhost:9000",
		}, WithPresignExpiration(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "b", a.Bucket())
		assert.Equal(t, time.Hour, a.presignExpiration)
	})
}

func TestS3MatrixArchive_MatrixKey(t *testing.T) {
	a, _ := newFakeArchive(t)
	id := uuid.MustParse("6f1c2b1e-0000-4000-8000-000000000001")
	at := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.FixedZone("EST", -5*3600))

	assert.Equal(t, "exports/matrices/6f1c2b1e-0000-4000-8000-000000000001/20260304T100607.008Z.csv", a.MatrixKey(id, at))
}

func TestS3MatrixArchive_ArchiveAndDelete(t *testing.T) {
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a, fake := newFakeArchive(t, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	ctx := context.Background()
	opp := uuid.New()
	other := uuid.New()

	require.NoError(t, a.EnsureBucket(ctx))

	key1, err := a.ArchiveMatrix(ctx, opp, []byte("Req ID,Section\nC-1,C\n"))
	require.NoError(t, err)
	key2, err := a.ArchiveMatrix(ctx, opp, []byte("Req ID,Section\n"))
	require.NoError(t, err)
	keep, err := a.ArchiveMatrix(ctx, other, []byte("Req ID\n"))
	require.NoError(t, err)

	assert.NotEqual(t, key1, key2)
	assert.Less(t, key1, key2)
	assert.ElementsMatch(t, []string{key1, key2, keep}, fake.keys())
	assert.Contains(t, string(fake.objects[key1]), "C-1,C")
	assert.Equal(t, matrixContentType, fake.types[key1])

	exists, err := a.ObjectExists(ctx, key1)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, a.DeleteMatrices(ctx, opp))
	assert.Equal(t, []string{keep}, fake.keys())

	exists, err = a.ObjectExists(ctx, key1)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestS3MatrixArchive_DownloadURL(t *testing.T) {
	a, _ := newFakeArchive(t)

	_, _, err := a.DownloadURL(context.Background(), "", 0)
	assert.ErrorContains(t, err, "storage key is required")

	url, expiresAt, err := a.DownloadURL(context.Background(), "exports/matrices/x/1.csv", 0)
	require.NoError(t, err)
	assert.Contains(t, url, "/matrices/exports/matrices/x/1.csv")
	assert.Contains(t, url, "X-Amz-Signature")
	assert.WithinDuration(t, time.Now().Add(defaultPresignExpiration), expiresAt, time.Minute)
}

func TestNoopMatrixArchive(t *testing.T) {
	a, err := NewMatrixArchive(context.Background(), config.StorageConfig{Enabled: false}, nil)
	require.NoError(t, err)

	key, err := a.ArchiveMatrix(context.Background(), uuid.New(), []byte("x"))
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.NoError(t, a.DeleteMatrices(context.Background(), uuid.New()))
	_, _, err = a.DownloadURL(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}
