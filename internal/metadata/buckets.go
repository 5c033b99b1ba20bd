package metadata

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

// VersioningState is a bucket's versioning mode.
type VersioningState string

const (
	VersioningUnversioned VersioningState = "Unversioned"
	VersioningEnabled     VersioningState = "Enabled"
	VersioningSuspended   VersioningState = "Suspended"
)

// Valid reports whether v names a known state.
func (v VersioningState) Valid() bool {
	switch v {
	case VersioningUnversioned, VersioningEnabled, VersioningSuspended:
		return true
	}
	return false
}

// CanTransition reports whether a bucket in state v may move to next.
// Buckets start Unversioned, may be Enabled, and afterwards only cycle
// between Enabled and Suspended.
func (v VersioningState) CanTransition(next VersioningState) bool {
	if v == next {
		return true
	}
	switch next {
	case VersioningEnabled:
		return true
	case VersioningSuspended:
		return v == VersioningEnabled
	}
	return false
}

type Bucket struct {
	Name       string          `json:"name"`
	Versioning VersioningState `json:"versioning"`
	CreatedAt  time.Time       `json:"created_at"`
}

func bucketResource(name string) apierr.Resource {
	return apierr.Resource{Type: apierr.ResourceBucket, Name: name}
}

func (c *Catalog) getBucket(tx *bolt.Tx, name string) (Bucket, error) {
	var b Bucket
	ok, err := getJSON(tx.Bucket(bucketsBucket), c.key(name), &b)
	if err != nil {
		return Bucket{}, err
	}
	if !ok {
		return Bucket{}, apierr.NotFound(bucketResource(name), "bucket does not exist")
	}
	return b, nil
}

func (c *Catalog) CreateBucket(name string) (Bucket, error) {
	var b Bucket
	err := c.update(func(tx *bolt.Tx) error {
		bb := tx.Bucket(bucketsBucket)
		if bb.Get(c.key(name)) != nil {
			return apierr.AlreadyExists(bucketResource(name), "bucket already exists")
		}
		b = Bucket{Name: name, Versioning: VersioningUnversioned, CreatedAt: c.store.now()}
		return putJSON(bb, c.key(name), b)
	})
	return b, err
}

func (c *Catalog) GetBucket(name string) (Bucket, error) {
	var b Bucket
	err := c.view(func(tx *bolt.Tx) error {
		var err error
		b, err = c.getBucket(tx, name)
		return err
	})
	return b, err
}

func (c *Catalog) ListBuckets() ([]Bucket, error) {
	var buckets []Bucket
	err := c.view(func(tx *bolt.Tx) error {
		return forEachPrefix(tx.Bucket(bucketsBucket), c.prefix, func(_, v []byte) (bool, error) {
			var b Bucket
			if err := json.Unmarshal(v, &b); err != nil {
				return false, err
			}
			buckets = append(buckets, b)
			return true, nil
		})
	})
	return buckets, err
}

// DeleteBucket removes an empty bucket. A bucket holding any object version,
// delete markers included, or an in-progress multipart upload is not empty.
func (c *Catalog) DeleteBucket(name string) error {
	return c.update(func(tx *bolt.Tx) error {
		if _, err := c.getBucket(tx, name); err != nil {
			return err
		}
		if hasPrefixRows(tx.Bucket(objectVersionsBucket), c.scope(name)) {
			return apierr.Conflict(bucketResource(name), apierr.ReasonNotEmpty, "bucket is not empty")
		}
		uploads, err := c.uploadsForBucket(tx, name, false)
		if err != nil {
			return err
		}
		for _, u := range uploads {
			if u.State == UploadInProgress {
				return apierr.Conflict(bucketResource(name), apierr.ReasonNotEmpty, "bucket has in-progress multipart uploads")
			}
		}
		mb := tx.Bucket(multipartBucket)
		for _, u := range uploads {
			if err := mb.Delete(c.key(u.UploadID)); err != nil {
				return err
			}
		}
		if err := tx.Bucket(policiesBucket).Delete(c.key(name)); err != nil {
			return err
		}
		return tx.Bucket(bucketsBucket).Delete(c.key(name))
	})
}

// SetBucketVersioning moves the bucket to state. Setting the current state
// is a no-op; returning to Unversioned, or suspending a bucket that was never
// enabled, fails with PreconditionFailed.
func (c *Catalog) SetBucketVersioning(name string, state VersioningState) (Bucket, error) {
	var b Bucket
	err := c.update(func(tx *bolt.Tx) error {
		var err error
		b, err = c.getBucket(tx, name)
		if err != nil {
			return err
		}
		if !state.Valid() {
			return apierr.InvalidArgument(bucketResource(name), apierr.ReasonMalformedInput,
				"unknown versioning state %q", state)
		}
		if !b.Versioning.CanTransition(state) {
			return apierr.PreconditionFailed(bucketResource(name), apierr.ReasonVersioningTransition,
				"cannot change versioning from %s to %s", b.Versioning, state)
		}
		if b.Versioning == state {
			return nil
		}
		b.Versioning = state
		return putJSON(tx.Bucket(bucketsBucket), c.key(name), b)
	})
	return b, err
}

// Bucket policy operations

func (c *Catalog) PutBucketPolicy(name string, policy []byte) error {
	return c.update(func(tx *bolt.Tx) error {
		if _, err := c.getBucket(tx, name); err != nil {
			return err
		}
		return tx.Bucket(policiesBucket).Put(c.key(name), policy)
	})
}

func (c *Catalog) GetBucketPolicy(name string) ([]byte, error) {
	var policy []byte
	err := c.view(func(tx *bolt.Tx) error {
		if _, err := c.getBucket(tx, name); err != nil {
			return err
		}
		data := tx.Bucket(policiesBucket).Get(c.key(name))
		if data == nil {
			return apierr.NotFound(apierr.Resource{Type: apierr.ResourcePolicy, Name: name}, "bucket has no policy")
		}
		policy = make([]byte, len(data))
		copy(policy, data)
		return nil
	})
	return policy, err
}

func (c *Catalog) DeleteBucketPolicy(name string) error {
	return c.update(func(tx *bolt.Tx) error {
		if _, err := c.getBucket(tx, name); err != nil {
			return err
		}
		return tx.Bucket(policiesBucket).Delete(c.key(name))
	})
}
