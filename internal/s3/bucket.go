package s3

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/metadata"
)

type CreateBucketInput struct {
	Bucket string `json:"Bucket"`
}

type CreateBucketOutput struct {
	Bucket    string    `json:"Bucket"`
	CreatedAt time.Time `json:"CreationDate"`
}

func (s *Service) CreateBucket(ctx context.Context, in CreateBucketInput) (CreateBucketOutput, error) {
	if err := validateBucketName(in.Bucket); err != nil {
		return CreateBucketOutput{}, err
	}
	b, err := s.catalog.CreateBucket(in.Bucket)
	if err != nil {
		return CreateBucketOutput{}, err
	}
	return CreateBucketOutput{Bucket: b.Name, CreatedAt: b.CreatedAt}, nil
}

type DeleteBucketInput struct {
	Bucket string `json:"Bucket"`
}

type DeleteBucketOutput struct{}

func (s *Service) DeleteBucket(ctx context.Context, in DeleteBucketInput) (DeleteBucketOutput, error) {
	if err := bucketOnly(in.Bucket); err != nil {
		return DeleteBucketOutput{}, err
	}
	return DeleteBucketOutput{}, s.catalog.DeleteBucket(in.Bucket)
}

type HeadBucketInput struct {
	Bucket string `json:"Bucket"`
}

type HeadBucketOutput struct {
	Bucket     string    `json:"Bucket"`
	Versioning string    `json:"Versioning"`
	CreatedAt  time.Time `json:"CreationDate"`
}

func (s *Service) HeadBucket(ctx context.Context, in HeadBucketInput) (HeadBucketOutput, error) {
	if err := bucketOnly(in.Bucket); err != nil {
		return HeadBucketOutput{}, err
	}
	b, err := s.catalog.GetBucket(in.Bucket)
	if err != nil {
		return HeadBucketOutput{}, err
	}
	return HeadBucketOutput{Bucket: b.Name, Versioning: string(b.Versioning), CreatedAt: b.CreatedAt}, nil
}

type ListBucketsInput struct{}

type BucketSummary struct {
	Name      string    `json:"Name"`
	CreatedAt time.Time `json:"CreationDate"`
}

type ListBucketsOutput struct {
	Buckets []BucketSummary `json:"Buckets"`
}

func (s *Service) ListBuckets(ctx context.Context, in ListBucketsInput) (ListBucketsOutput, error) {
	buckets, err := s.catalog.ListBuckets()
	if err != nil {
		return ListBucketsOutput{}, err
	}
	out := ListBucketsOutput{Buckets: make([]BucketSummary, 0, len(buckets))}
	for _, b := range buckets {
		out.Buckets = append(out.Buckets, BucketSummary{Name: b.Name, CreatedAt: b.CreatedAt})
	}
	return out, nil
}

type PutBucketVersioningInput struct {
	Bucket string `json:"Bucket"`
	Status string `json:"Status"`
}

type PutBucketVersioningOutput struct{}

// PutBucketVersioning accepts Enabled or Suspended, as the provider API
// does; Unversioned is only ever the initial state.
func (s *Service) PutBucketVersioning(ctx context.Context, in PutBucketVersioningInput) (PutBucketVersioningOutput, error) {
	if err := bucketOnly(in.Bucket); err != nil {
		return PutBucketVersioningOutput{}, err
	}
	state := metadata.VersioningState(in.Status)
	if !state.Valid() {
		return PutBucketVersioningOutput{}, apierr.InvalidArgument(
			apierr.Resource{Type: apierr.ResourceBucket, Name: in.Bucket}, apierr.ReasonMalformedInput,
			"versioning status must be Enabled or Suspended")
	}
	_, err := s.catalog.SetBucketVersioning(in.Bucket, state)
	return PutBucketVersioningOutput{}, err
}

type GetBucketVersioningInput struct {
	Bucket string `json:"Bucket"`
}

type GetBucketVersioningOutput struct {
	Status string `json:"Status,omitempty"`
}

func (s *Service) GetBucketVersioning(ctx context.Context, in GetBucketVersioningInput) (GetBucketVersioningOutput, error) {
	if err := bucketOnly(in.Bucket); err != nil {
		return GetBucketVersioningOutput{}, err
	}
	b, err := s.catalog.GetBucket(in.Bucket)
	if err != nil {
		return GetBucketVersioningOutput{}, err
	}
	if b.Versioning == metadata.VersioningUnversioned {
		return GetBucketVersioningOutput{}, nil
	}
	return GetBucketVersioningOutput{Status: string(b.Versioning)}, nil
}

type PutBucketPolicyInput struct {
	Bucket string `json:"Bucket"`
	Policy string `json:"Policy"`
}

type PutBucketPolicyOutput struct{}

func (s *Service) PutBucketPolicy(ctx context.Context, in PutBucketPolicyInput) (PutBucketPolicyOutput, error) {
	if err := bucketOnly(in.Bucket); err != nil {
		return PutBucketPolicyOutput{}, err
	}
	if !json.Valid([]byte(in.Policy)) {
		return PutBucketPolicyOutput{}, apierr.InvalidArgument(
			apierr.Resource{Type: apierr.ResourcePolicy, Name: in.Bucket}, apierr.ReasonMalformedInput,
			"policy is not valid JSON")
	}
	return PutBucketPolicyOutput{}, s.catalog.PutBucketPolicy(in.Bucket, []byte(in.Policy))
}

type GetBucketPolicyInput struct {
	Bucket string `json:"Bucket"`
}

type GetBucketPolicyOutput struct {
	Policy string `json:"Policy"`
}

func (s *Service) GetBucketPolicy(ctx context.Context, in GetBucketPolicyInput) (GetBucketPolicyOutput, error) {
	if err := bucketOnly(in.Bucket); err != nil {
		return GetBucketPolicyOutput{}, err
	}
	p, err := s.catalog.GetBucketPolicy(in.Bucket)
	if err != nil {
		return GetBucketPolicyOutput{}, err
	}
	return GetBucketPolicyOutput{Policy: string(p)}, nil
}

type DeleteBucketPolicyInput struct {
	Bucket string `json:"Bucket"`
}

type DeleteBucketPolicyOutput struct{}

func (s *Service) DeleteBucketPolicy(ctx context.Context, in DeleteBucketPolicyInput) (DeleteBucketPolicyOutput, error) {
	if err := bucketOnly(in.Bucket); err != nil {
		return DeleteBucketPolicyOutput{}, err
	}
	return DeleteBucketPolicyOutput{}, s.catalog.DeleteBucketPolicy(in.Bucket)
}
