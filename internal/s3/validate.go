package s3

import (
	"net"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

const MaxKeyLength = 1024

// MaxBucketNameLength bounds bucket names. Names shorter than the
// provider's three character minimum are accepted.
const MaxBucketNameLength = 63

var bucketNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9.\-]{0,61}[a-z0-9])?$`)

// validateBucketName checks DNS-compatible bucket naming rules.
func validateBucketName(name string) error {
	res := apierr.Resource{Type: apierr.ResourceBucket, Name: name}
	if len(name) < 1 || len(name) > MaxBucketNameLength {
		return apierr.InvalidArgument(res, apierr.ReasonInvalidName, "bucket name must be between 1 and %d characters", MaxBucketNameLength)
	}
	if !bucketNameRe.MatchString(name) {
		return apierr.InvalidArgument(res, apierr.ReasonInvalidName,
			"bucket name must be lowercase alphanumeric, may contain hyphens and dots, cannot start or end with hyphen/dot")
	}
	if strings.Contains(name, "..") {
		return apierr.InvalidArgument(res, apierr.ReasonInvalidName, "bucket name must not contain consecutive dots")
	}
	if net.ParseIP(name) != nil {
		return apierr.InvalidArgument(res, apierr.ReasonInvalidName, "bucket name must not be formatted as an IP address")
	}
	return nil
}

// validateObjectKey checks object key constraints.
func validateObjectKey(bucket, key string) error {
	res := apierr.Resource{Type: apierr.ResourceObject, Container: bucket, Name: key}
	if len(key) == 0 {
		return apierr.InvalidArgument(res, apierr.ReasonInvalidName, "object key must not be empty")
	}
	if len(key) > MaxKeyLength {
		return apierr.InvalidArgument(res, apierr.ReasonInvalidName, "object key must not exceed %d bytes", MaxKeyLength)
	}
	if !utf8.ValidString(key) {
		return apierr.InvalidArgument(res, apierr.ReasonInvalidName, "object key must be valid UTF-8")
	}
	if strings.ContainsRune(key, 0) {
		return apierr.InvalidArgument(res, apierr.ReasonInvalidName, "object key must not contain null bytes")
	}
	return nil
}

// bucketOnly validates inputs that address a bucket that must already exist;
// malformed names cannot exist, so they are reported as missing buckets.
func bucketOnly(name string) error {
	if validateBucketName(name) != nil {
		return apierr.NotFound(apierr.Resource{Type: apierr.ResourceBucket, Name: name}, "bucket does not exist")
	}
	return nil
}

func validateTarget(bucket, key string) error {
	if err := bucketOnly(bucket); err != nil {
		return err
	}
	return validateObjectKey(bucket, key)
}

// normalizeETag strips the quotes clients commonly send around ETags.
func normalizeETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), `"`)
}
