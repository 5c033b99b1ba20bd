package s3

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/metadata"
)

type CreateMultipartUploadInput struct {
	Bucket      string            `json:"Bucket"`
	Key         string            `json:"Key"`
	ContentType string            `json:"ContentType,omitempty"`
	Metadata    map[string]string `json:"Metadata,omitempty"`
}

type CreateMultipartUploadOutput struct {
	Bucket   string `json:"Bucket"`
	Key      string `json:"Key"`
	UploadID string `json:"UploadId"`
}

func (s *Service) CreateMultipartUpload(ctx context.Context, in CreateMultipartUploadInput) (CreateMultipartUploadOutput, error) {
	if err := validateTarget(in.Bucket, in.Key); err != nil {
		return CreateMultipartUploadOutput{}, err
	}
	u, err := s.catalog.CreateMultipartUpload(in.Bucket, in.Key, in.ContentType, in.Metadata)
	if err != nil {
		return CreateMultipartUploadOutput{}, err
	}
	return CreateMultipartUploadOutput{Bucket: u.Bucket, Key: u.Key, UploadID: u.UploadID}, nil
}

// upload loads an in-progress upload and checks it belongs to bucket/key.
func (s *Service) upload(bucket, key, uploadID string) (metadata.MultipartUpload, error) {
	if err := validateTarget(bucket, key); err != nil {
		return metadata.MultipartUpload{}, err
	}
	u, err := s.catalog.GetMultipartUpload(uploadID)
	if err != nil {
		return u, err
	}
	if u.Bucket != bucket || u.Key != key || u.State != metadata.UploadInProgress {
		return u, apierr.NotFound(apierr.Resource{Type: apierr.ResourceUpload, Container: bucket, Name: key, Version: uploadID},
			"upload does not exist")
	}
	return u, nil
}

type UploadPartInput struct {
	Bucket     string `json:"Bucket"`
	Key        string `json:"Key"`
	UploadID   string `json:"UploadId"`
	PartNumber int    `json:"PartNumber"`
	Body       []byte `json:"Body"`
}

type UploadPartOutput struct {
	ETag string `json:"ETag"`
}

func (s *Service) UploadPart(ctx context.Context, in UploadPartInput) (UploadPartOutput, error) {
	if _, err := s.upload(in.Bucket, in.Key, in.UploadID); err != nil {
		return UploadPartOutput{}, err
	}
	if in.PartNumber < metadata.MinPartNumber || in.PartNumber > metadata.MaxPartNumber {
		return UploadPartOutput{}, apierr.InvalidArgument(
			apierr.Resource{Type: apierr.ResourcePart, Container: in.Bucket, Name: in.Key},
			apierr.ReasonNone, "part number must be between %d and %d", metadata.MinPartNumber, metadata.MaxPartNumber)
	}

	info, err := s.blobs.Put(ctx, bytes.NewReader(in.Body))
	if err != nil {
		return UploadPartOutput{}, err
	}

	unlock := s.locks.Lock(s.uploadLock(in.UploadID))
	replaced, err := s.catalog.PutPart(metadata.Part{
		UploadID:    in.UploadID,
		PartNumber:  in.PartNumber,
		ContentHash: info.Hash,
		ETag:        info.Hash,
		Size:        info.Size,
	})
	unlock()
	if err != nil {
		s.release(info.Hash)
		return UploadPartOutput{}, err
	}
	if replaced != nil {
		s.release(replaced.ContentHash)
	}
	return UploadPartOutput{ETag: info.Hash}, nil
}

type ListPartsInput struct {
	Bucket   string `json:"Bucket"`
	Key      string `json:"Key"`
	UploadID string `json:"UploadId"`
}

type PartSummary struct {
	PartNumber   int       `json:"PartNumber"`
	ETag         string    `json:"ETag"`
	Size         int64     `json:"Size"`
	LastModified time.Time `json:"LastModified"`
}

type ListPartsOutput struct {
	UploadID string        `json:"UploadId"`
	Parts    []PartSummary `json:"Parts"`
}

func (s *Service) ListParts(ctx context.Context, in ListPartsInput) (ListPartsOutput, error) {
	if _, err := s.upload(in.Bucket, in.Key, in.UploadID); err != nil {
		return ListPartsOutput{}, err
	}
	_, parts, err := s.catalog.ListParts(in.UploadID)
	if err != nil {
		return ListPartsOutput{}, err
	}
	out := ListPartsOutput{UploadID: in.UploadID, Parts: make([]PartSummary, 0, len(parts))}
	for _, p := range parts {
		out.Parts = append(out.Parts, PartSummary{PartNumber: p.PartNumber, ETag: p.ETag, Size: p.Size, LastModified: p.CreatedAt})
	}
	return out, nil
}

type ListMultipartUploadsInput struct {
	Bucket string `json:"Bucket"`
}

type UploadSummary struct {
	Key       string    `json:"Key"`
	UploadID  string    `json:"UploadId"`
	Initiated time.Time `json:"Initiated"`
}

type ListMultipartUploadsOutput struct {
	Uploads []UploadSummary `json:"Uploads"`
}

func (s *Service) ListMultipartUploads(ctx context.Context, in ListMultipartUploadsInput) (ListMultipartUploadsOutput, error) {
	if err := bucketOnly(in.Bucket); err != nil {
		return ListMultipartUploadsOutput{}, err
	}
	uploads, err := s.catalog.ListMultipartUploads(in.Bucket)
	if err != nil {
		return ListMultipartUploadsOutput{}, err
	}
	out := ListMultipartUploadsOutput{Uploads: make([]UploadSummary, 0, len(uploads))}
	for _, u := range uploads {
		out.Uploads = append(out.Uploads, UploadSummary{Key: u.Key, UploadID: u.UploadID, Initiated: u.CreatedAt})
	}
	return out, nil
}

// CompletedPart names one part of the final object in a completion request.
type CompletedPart struct {
	PartNumber int    `json:"PartNumber"`
	ETag       string `json:"ETag"`
}

type CompleteMultipartUploadInput struct {
	Bucket   string          `json:"Bucket"`
	Key      string          `json:"Key"`
	UploadID string          `json:"UploadId"`
	Parts    []CompletedPart `json:"Parts"`
}

type CompleteMultipartUploadOutput struct {
	Bucket    string `json:"Bucket"`
	Key       string `json:"Key"`
	ETag      string `json:"ETag"`
	VersionID string `json:"VersionId,omitempty"`
	Size      int64  `json:"Size"`
}

// CompleteMultipartUpload assembles the requested parts into one blob and
// records it as a new version of the upload's key. Every stored part,
// named in the request or not, gives up its provisional reference.
func (s *Service) CompleteMultipartUpload(ctx context.Context, in CompleteMultipartUploadInput) (CompleteMultipartUploadOutput, error) {
	if _, err := s.upload(in.Bucket, in.Key, in.UploadID); err != nil {
		return CompleteMultipartUploadOutput{}, err
	}

	unlock := s.locks.Lock(s.uploadLock(in.UploadID), s.objectLock(in.Bucket, in.Key))
	defer unlock()

	u, stored, err := s.catalog.ListParts(in.UploadID)
	if err != nil {
		return CompleteMultipartUploadOutput{}, err
	}
	selected, err := validateCompletion(u, stored, in.Parts, s.cfg.MinPartSize)
	if err != nil {
		return CompleteMultipartUploadOutput{}, err
	}

	pr := &partReader{blobs: s.blobs, parts: selected}
	info, err := s.blobs.Put(ctx, pr)
	pr.Close()
	if err != nil {
		return CompleteMultipartUploadOutput{}, err
	}

	put, replaced, parts, err := s.catalog.CompleteMultipartUpload(in.UploadID, metadata.ObjectVersion{
		ContentHash: info.Hash,
		Size:        info.Size,
		ETag:        info.Hash,
	})
	if err != nil {
		s.release(info.Hash)
		return CompleteMultipartUploadOutput{}, err
	}
	for _, p := range parts {
		s.release(p.ContentHash)
	}
	s.releaseVersion(replaced)
	return CompleteMultipartUploadOutput{
		Bucket:    put.Bucket,
		Key:       put.Key,
		ETag:      put.ETag,
		VersionID: put.VersionID,
		Size:      put.Size,
	}, nil
}

// validateCompletion checks a completion request against the stored parts
// and returns the parts to assemble in order. Checks run in a fixed order:
// empty list, ordering, part existence and ETag, then minimum size.
func validateCompletion(u metadata.MultipartUpload, stored []metadata.Part, requested []CompletedPart, minPartSize int64) ([]metadata.Part, error) {
	res := apierr.Resource{Type: apierr.ResourceUpload, Container: u.Bucket, Name: u.Key, Version: u.UploadID}
	if len(requested) == 0 {
		return nil, apierr.InvalidArgument(res, apierr.ReasonInvalidPart, "completion requires at least one part")
	}
	for i := 1; i < len(requested); i++ {
		if requested[i].PartNumber <= requested[i-1].PartNumber {
			return nil, apierr.InvalidArgument(res, apierr.ReasonInvalidPartOrder,
				"parts must be listed in strictly ascending order")
		}
	}

	byNumber := make(map[int]metadata.Part, len(stored))
	for _, p := range stored {
		byNumber[p.PartNumber] = p
	}
	selected := make([]metadata.Part, 0, len(requested))
	for i, r := range requested {
		if r.PartNumber != i+1 {
			return nil, apierr.InvalidArgument(res, apierr.ReasonInvalidPart,
				"part %d is missing; parts must be contiguous from 1", i+1)
		}
		p, ok := byNumber[r.PartNumber]
		if !ok {
			return nil, apierr.InvalidArgument(res, apierr.ReasonInvalidPart, "part %d was not uploaded", r.PartNumber)
		}
		if etag := normalizeETag(r.ETag); etag != "" && etag != p.ETag {
			return nil, apierr.InvalidArgument(res, apierr.ReasonInvalidPart, "part %d ETag does not match", r.PartNumber)
		}
		selected = append(selected, p)
	}

	for _, p := range selected[:len(selected)-1] {
		if p.Size < minPartSize {
			return nil, apierr.InvalidArgument(res, apierr.ReasonEntityTooSmall,
				"part %d is %d bytes, below the minimum of %d", p.PartNumber, p.Size, minPartSize)
		}
	}
	return selected, nil
}

// partReader streams the selected parts back to back, opening each blob only
// when the previous one is exhausted.
type partReader struct {
	blobs Blobs
	parts []metadata.Part
	cur   io.ReadCloser
}

func (r *partReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if len(r.parts) == 0 {
				return 0, io.EOF
			}
			rc, _, err := r.blobs.Open(r.parts[0].ContentHash)
			if err != nil {
				return 0, err
			}
			r.cur = rc
			r.parts = r.parts[1:]
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *partReader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}

type AbortMultipartUploadInput struct {
	Bucket   string `json:"Bucket"`
	Key      string `json:"Key"`
	UploadID string `json:"UploadId"`
}

type AbortMultipartUploadOutput struct{}

func (s *Service) AbortMultipartUpload(ctx context.Context, in AbortMultipartUploadInput) (AbortMultipartUploadOutput, error) {
	if _, err := s.upload(in.Bucket, in.Key, in.UploadID); err != nil {
		return AbortMultipartUploadOutput{}, err
	}
	return AbortMultipartUploadOutput{}, s.abort(in.UploadID)
}

func (s *Service) abort(uploadID string) error {
	unlock := s.locks.Lock(s.uploadLock(uploadID))
	defer unlock()
	parts, err := s.catalog.AbortMultipartUpload(uploadID)
	if err != nil {
		return err
	}
	for _, p := range parts {
		s.release(p.ContentHash)
	}
	return nil
}

// AbortStaleUploads aborts in-progress uploads started before cutoff and
// returns how many it closed. Uploads finished concurrently are skipped.
func (s *Service) AbortStaleUploads(ctx context.Context, cutoff time.Time) (int, error) {
	uploads, err := s.catalog.StaleUploads(cutoff)
	if err != nil {
		return 0, err
	}
	var result *multierror.Error
	n := 0
	for _, u := range uploads {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := s.abort(u.UploadID); err != nil {
			if apierr.Is(err, apierr.KindNotFound) {
				continue
			}
			result = multierror.Append(result, err)
			continue
		}
		n++
	}
	return n, result.ErrorOrNil()
}

// PruneFinishedUploads drops terminal upload records older than cutoff.
func (s *Service) PruneFinishedUploads(ctx context.Context, cutoff time.Time) (int, error) {
	return s.catalog.PruneFinishedUploads(cutoff)
}
