// Package s3 implements the object storage service: buckets, versioned
// objects, copies and multipart uploads over the catalog and the
// content-addressed blob store.
package s3

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/eniz1806/CloudEmu/internal/locks"
	"github.com/eniz1806/CloudEmu/internal/metadata"
	"github.com/eniz1806/CloudEmu/internal/storage"
)

// DefaultMinPartSize is the smallest size allowed for every multipart part
// except the last.
const DefaultMinPartSize = 5 << 20

// Catalog is the slice of the metadata catalog the object service uses.
type Catalog interface {
	Namespace() metadata.Namespace

	CreateBucket(name string) (metadata.Bucket, error)
	GetBucket(name string) (metadata.Bucket, error)
	ListBuckets() ([]metadata.Bucket, error)
	DeleteBucket(name string) error
	SetBucketVersioning(name string, state metadata.VersioningState) (metadata.Bucket, error)
	PutBucketPolicy(name string, policy []byte) error
	GetBucketPolicy(name string) ([]byte, error)
	DeleteBucketPolicy(name string) error

	PutObject(obj metadata.ObjectVersion) (metadata.ObjectVersion, *metadata.ObjectVersion, error)
	GetObject(bucket, key, versionID string) (metadata.ObjectVersion, error)
	DeleteObject(bucket, key string) (metadata.DeleteResult, error)
	DeleteObjectVersion(bucket, key, versionID string) (metadata.ObjectVersion, error)
	ListObjects(in metadata.ListObjectsInput) (metadata.ListObjectsResult, error)
	ListObjectVersions(in metadata.ListVersionsInput) (metadata.ListVersionsResult, error)

	CreateMultipartUpload(bucket, key, contentType string, meta map[string]string) (metadata.MultipartUpload, error)
	GetMultipartUpload(uploadID string) (metadata.MultipartUpload, error)
	PutPart(p metadata.Part) (*metadata.Part, error)
	ListParts(uploadID string) (metadata.MultipartUpload, []metadata.Part, error)
	ListMultipartUploads(bucket string) ([]metadata.MultipartUpload, error)
	CompleteMultipartUpload(uploadID string, obj metadata.ObjectVersion) (metadata.ObjectVersion, *metadata.ObjectVersion, []metadata.Part, error)
	AbortMultipartUpload(uploadID string) ([]metadata.Part, error)
	StaleUploads(cutoff time.Time) ([]metadata.MultipartUpload, error)
	PruneFinishedUploads(cutoff time.Time) (int, error)
}

// Blobs is the blob store surface the object service uses.
type Blobs interface {
	Put(ctx context.Context, r io.Reader) (storage.BlobInfo, error)
	Open(hash string) (io.ReadCloser, int64, error)
	Fetch(hash string) ([]byte, error)
	Retain(hash string) error
	Release(hash string) error
}

type Config struct {
	MinPartSize int64
}

type Service struct {
	catalog Catalog
	blobs   Blobs
	locks   *locks.Striped
	ns      string
	cfg     Config
}

func NewService(catalog Catalog, blobs Blobs, lk *locks.Striped, cfg Config) *Service {
	if cfg.MinPartSize <= 0 {
		cfg.MinPartSize = DefaultMinPartSize
	}
	if lk == nil {
		lk = locks.NewStriped(locks.DefaultStripes)
	}
	return &Service{
		catalog: catalog,
		blobs:   blobs,
		locks:   lk,
		ns:      catalog.Namespace().String(),
		cfg:     cfg,
	}
}

func (s *Service) objectLock(bucket, key string) string {
	return locks.Key(s.ns, "s3", bucket, key)
}

func (s *Service) uploadLock(uploadID string) string {
	return locks.Key(s.ns, "s3-upload", uploadID)
}

// release drops a blob reference after the catalog no longer points at it.
// The catalog has already committed, so a failure only leaks the blob until
// the next startup reconciliation.
func (s *Service) release(hash string) {
	if hash == "" {
		return
	}
	if err := s.blobs.Release(hash); err != nil {
		slog.Warn("release blob failed", "hash", hash, "error", err)
	}
}

func (s *Service) releaseVersion(v *metadata.ObjectVersion) {
	if v != nil && v.HoldsBlob() {
		s.release(v.ContentHash)
	}
}
