package s3

import (
	"bytes"
	"context"
	"time"

	"github.com/eniz1806/CloudEmu/internal/metadata"
)

type PutObjectInput struct {
	Bucket      string            `json:"Bucket"`
	Key         string            `json:"Key"`
	Body        []byte            `json:"Body"`
	ContentType string            `json:"ContentType,omitempty"`
	Metadata    map[string]string `json:"Metadata,omitempty"`
}

type PutObjectOutput struct {
	ETag      string `json:"ETag"`
	VersionID string `json:"VersionId,omitempty"`
	Size      int64  `json:"Size"`
}

// PutObject writes the body to the blob store first and then commits the
// version row under the object's partition lock. A replaced null version
// gives up its blob reference only after the commit.
func (s *Service) PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error) {
	if err := validateTarget(in.Bucket, in.Key); err != nil {
		return PutObjectOutput{}, err
	}
	if _, err := s.catalog.GetBucket(in.Bucket); err != nil {
		return PutObjectOutput{}, err
	}

	info, err := s.blobs.Put(ctx, bytes.NewReader(in.Body))
	if err != nil {
		return PutObjectOutput{}, err
	}

	unlock := s.locks.Lock(s.objectLock(in.Bucket, in.Key))
	put, replaced, err := s.catalog.PutObject(metadata.ObjectVersion{
		Bucket:       in.Bucket,
		Key:          in.Key,
		ContentHash:  info.Hash,
		Size:         info.Size,
		ETag:         info.Hash,
		ContentType:  in.ContentType,
		UserMetadata: in.Metadata,
	})
	unlock()
	if err != nil {
		s.release(info.Hash)
		return PutObjectOutput{}, err
	}
	s.releaseVersion(replaced)
	return PutObjectOutput{ETag: put.ETag, VersionID: put.VersionID, Size: put.Size}, nil
}

type GetObjectInput struct {
	Bucket    string `json:"Bucket"`
	Key       string `json:"Key"`
	VersionID string `json:"VersionId,omitempty"`
}

type GetObjectOutput struct {
	Body         []byte            `json:"Body"`
	ETag         string            `json:"ETag"`
	VersionID    string            `json:"VersionId,omitempty"`
	Size         int64             `json:"ContentLength"`
	ContentType  string            `json:"ContentType,omitempty"`
	Metadata     map[string]string `json:"Metadata,omitempty"`
	LastModified time.Time         `json:"LastModified"`
}

func (s *Service) GetObject(ctx context.Context, in GetObjectInput) (GetObjectOutput, error) {
	if err := validateTarget(in.Bucket, in.Key); err != nil {
		return GetObjectOutput{}, err
	}
	// Hold the partition shared so the blob cannot be released between the
	// catalog read and the fetch.
	unlock := s.locks.RLock(s.objectLock(in.Bucket, in.Key))
	defer unlock()

	v, err := s.catalog.GetObject(in.Bucket, in.Key, in.VersionID)
	if err != nil {
		return GetObjectOutput{}, err
	}
	body, err := s.blobs.Fetch(v.ContentHash)
	if err != nil {
		return GetObjectOutput{}, err
	}
	return GetObjectOutput{
		Body:         body,
		ETag:         v.ETag,
		VersionID:    v.VersionID,
		Size:         v.Size,
		ContentType:  v.ContentType,
		Metadata:     v.UserMetadata,
		LastModified: v.CreatedAt,
	}, nil
}

type HeadObjectInput struct {
	Bucket    string `json:"Bucket"`
	Key       string `json:"Key"`
	VersionID string `json:"VersionId,omitempty"`
}

type HeadObjectOutput struct {
	ETag         string            `json:"ETag"`
	VersionID    string            `json:"VersionId,omitempty"`
	Size         int64             `json:"ContentLength"`
	ContentType  string            `json:"ContentType,omitempty"`
	Metadata     map[string]string `json:"Metadata,omitempty"`
	LastModified time.Time         `json:"LastModified"`
}

func (s *Service) HeadObject(ctx context.Context, in HeadObjectInput) (HeadObjectOutput, error) {
	if err := validateTarget(in.Bucket, in.Key); err != nil {
		return HeadObjectOutput{}, err
	}
	v, err := s.catalog.GetObject(in.Bucket, in.Key, in.VersionID)
	if err != nil {
		return HeadObjectOutput{}, err
	}
	return HeadObjectOutput{
		ETag:         v.ETag,
		VersionID:    v.VersionID,
		Size:         v.Size,
		ContentType:  v.ContentType,
		Metadata:     v.UserMetadata,
		LastModified: v.CreatedAt,
	}, nil
}

type DeleteObjectInput struct {
	Bucket    string `json:"Bucket"`
	Key       string `json:"Key"`
	VersionID string `json:"VersionId,omitempty"`
}

type DeleteObjectOutput struct {
	DeleteMarker bool   `json:"DeleteMarker,omitempty"`
	VersionID    string `json:"VersionId,omitempty"`
}

// DeleteObject removes one version when VersionID is set. Otherwise it
// performs a key-level delete, which appends a delete marker on versioned
// buckets.
func (s *Service) DeleteObject(ctx context.Context, in DeleteObjectInput) (DeleteObjectOutput, error) {
	if err := validateTarget(in.Bucket, in.Key); err != nil {
		return DeleteObjectOutput{}, err
	}
	unlock := s.locks.Lock(s.objectLock(in.Bucket, in.Key))
	defer unlock()

	if in.VersionID != "" {
		removed, err := s.catalog.DeleteObjectVersion(in.Bucket, in.Key, in.VersionID)
		if err != nil {
			return DeleteObjectOutput{}, err
		}
		s.releaseVersion(&removed)
		return DeleteObjectOutput{DeleteMarker: removed.DeleteMarker, VersionID: in.VersionID}, nil
	}

	res, err := s.catalog.DeleteObject(in.Bucket, in.Key)
	if err != nil {
		return DeleteObjectOutput{}, err
	}
	s.releaseVersion(res.Removed)
	if res.Marker != nil {
		return DeleteObjectOutput{DeleteMarker: true, VersionID: res.Marker.VersionID}, nil
	}
	return DeleteObjectOutput{}, nil
}

type CopyObjectInput struct {
	Bucket          string `json:"Bucket"`
	Key             string `json:"Key"`
	SourceBucket    string `json:"SourceBucket"`
	SourceKey       string `json:"SourceKey"`
	SourceVersionID string `json:"SourceVersionId,omitempty"`

	// MetadataDirective REPLACE takes ContentType and Metadata from the
	// request; anything else copies them from the source.
	MetadataDirective string            `json:"MetadataDirective,omitempty"`
	ContentType       string            `json:"ContentType,omitempty"`
	Metadata          map[string]string `json:"Metadata,omitempty"`
}

type CopyObjectOutput struct {
	ETag            string    `json:"ETag"`
	VersionID       string    `json:"VersionId,omitempty"`
	SourceVersionID string    `json:"CopySourceVersionId,omitempty"`
	LastModified    time.Time `json:"LastModified"`
}

// CopyObject shares the source blob with the new version instead of
// rewriting the bytes.
func (s *Service) CopyObject(ctx context.Context, in CopyObjectInput) (CopyObjectOutput, error) {
	if err := validateTarget(in.SourceBucket, in.SourceKey); err != nil {
		return CopyObjectOutput{}, err
	}
	if err := validateTarget(in.Bucket, in.Key); err != nil {
		return CopyObjectOutput{}, err
	}
	unlock := s.locks.Lock(s.objectLock(in.SourceBucket, in.SourceKey), s.objectLock(in.Bucket, in.Key))
	defer unlock()

	src, err := s.catalog.GetObject(in.SourceBucket, in.SourceKey, in.SourceVersionID)
	if err != nil {
		return CopyObjectOutput{}, err
	}
	if err := s.blobs.Retain(src.ContentHash); err != nil {
		return CopyObjectOutput{}, err
	}

	dst := metadata.ObjectVersion{
		Bucket:       in.Bucket,
		Key:          in.Key,
		ContentHash:  src.ContentHash,
		Size:         src.Size,
		ETag:         src.ETag,
		ContentType:  src.ContentType,
		UserMetadata: src.UserMetadata,
	}
	if in.MetadataDirective == "REPLACE" {
		dst.ContentType = in.ContentType
		dst.UserMetadata = in.Metadata
	}
	put, replaced, err := s.catalog.PutObject(dst)
	if err != nil {
		s.release(src.ContentHash)
		return CopyObjectOutput{}, err
	}
	s.releaseVersion(replaced)
	return CopyObjectOutput{
		ETag:            put.ETag,
		VersionID:       put.VersionID,
		SourceVersionID: src.VersionID,
		LastModified:    put.CreatedAt,
	}, nil
}

type ListObjectsV2Input struct {
	Bucket            string `json:"Bucket"`
	Prefix            string `json:"Prefix,omitempty"`
	Delimiter         string `json:"Delimiter,omitempty"`
	ContinuationToken string `json:"ContinuationToken,omitempty"`
	StartAfter        string `json:"StartAfter,omitempty"`
	MaxKeys           int    `json:"MaxKeys,omitempty"`
}

type ObjectSummary struct {
	Key          string    `json:"Key"`
	ETag         string    `json:"ETag"`
	Size         int64     `json:"Size"`
	LastModified time.Time `json:"LastModified"`
}

type ListObjectsV2Output struct {
	Contents              []ObjectSummary `json:"Contents"`
	CommonPrefixes        []string        `json:"CommonPrefixes,omitempty"`
	KeyCount              int             `json:"KeyCount"`
	IsTruncated           bool            `json:"IsTruncated"`
	NextContinuationToken string          `json:"NextContinuationToken,omitempty"`
}

func (s *Service) ListObjectsV2(ctx context.Context, in ListObjectsV2Input) (ListObjectsV2Output, error) {
	if err := bucketOnly(in.Bucket); err != nil {
		return ListObjectsV2Output{}, err
	}
	res, err := s.catalog.ListObjects(metadata.ListObjectsInput{
		Bucket:            in.Bucket,
		Prefix:            in.Prefix,
		Delimiter:         in.Delimiter,
		ContinuationToken: in.ContinuationToken,
		StartAfter:        in.StartAfter,
		MaxKeys:           in.MaxKeys,
	})
	if err != nil {
		return ListObjectsV2Output{}, err
	}
	out := ListObjectsV2Output{
		Contents:              make([]ObjectSummary, 0, len(res.Objects)),
		CommonPrefixes:        res.CommonPrefixes,
		KeyCount:              len(res.Objects) + len(res.CommonPrefixes),
		IsTruncated:           res.IsTruncated,
		NextContinuationToken: res.NextContinuationToken,
	}
	for _, o := range res.Objects {
		out.Contents = append(out.Contents, ObjectSummary{Key: o.Key, ETag: o.ETag, Size: o.Size, LastModified: o.CreatedAt})
	}
	return out, nil
}

type ListObjectVersionsInput struct {
	Bucket            string `json:"Bucket"`
	Prefix            string `json:"Prefix,omitempty"`
	ContinuationToken string `json:"ContinuationToken,omitempty"`
	MaxKeys           int    `json:"MaxKeys,omitempty"`
}

type VersionSummary struct {
	Key          string    `json:"Key"`
	VersionID    string    `json:"VersionId"`
	IsLatest     bool      `json:"IsLatest"`
	DeleteMarker bool      `json:"DeleteMarker,omitempty"`
	ETag         string    `json:"ETag,omitempty"`
	Size         int64     `json:"Size"`
	LastModified time.Time `json:"LastModified"`
}

type ListObjectVersionsOutput struct {
	Versions              []VersionSummary `json:"Versions"`
	IsTruncated           bool             `json:"IsTruncated"`
	NextContinuationToken string           `json:"NextContinuationToken,omitempty"`
}

func (s *Service) ListObjectVersions(ctx context.Context, in ListObjectVersionsInput) (ListObjectVersionsOutput, error) {
	if err := bucketOnly(in.Bucket); err != nil {
		return ListObjectVersionsOutput{}, err
	}
	res, err := s.catalog.ListObjectVersions(metadata.ListVersionsInput{
		Bucket:  in.Bucket,
		Prefix:  in.Prefix,
		Token:   in.ContinuationToken,
		MaxKeys: in.MaxKeys,
	})
	if err != nil {
		return ListObjectVersionsOutput{}, err
	}
	out := ListObjectVersionsOutput{
		Versions:              make([]VersionSummary, 0, len(res.Versions)),
		IsTruncated:           res.IsTruncated,
		NextContinuationToken: res.NextToken,
	}
	for _, v := range res.Versions {
		out.Versions = append(out.Versions, VersionSummary{
			Key:          v.Key,
			VersionID:    v.VersionID,
			IsLatest:     v.IsLatest,
			DeleteMarker: v.DeleteMarker,
			ETag:         v.ETag,
			Size:         v.Size,
			LastModified: v.CreatedAt,
		})
	}
	return out, nil
}
