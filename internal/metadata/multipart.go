package metadata

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

type UploadState string

const (
	UploadInProgress UploadState = "InProgress"
	UploadCompleted  UploadState = "Completed"
	UploadAborted    UploadState = "Aborted"
)

const (
	MinPartNumber = 1
	MaxPartNumber = 10000
)

type MultipartUpload struct {
	UploadID     string            `json:"upload_id"`
	Bucket       string            `json:"bucket"`
	Key          string            `json:"key"`
	ContentType  string            `json:"content_type,omitempty"`
	UserMetadata map[string]string `json:"user_metadata,omitempty"`
	State        UploadState       `json:"state"`
	CreatedAt    time.Time         `json:"created_at"`
	FinishedAt   time.Time         `json:"finished_at,omitempty"`
}

type Part struct {
	UploadID    string    `json:"upload_id"`
	PartNumber  int       `json:"part_number"`
	ContentHash string    `json:"content_hash"`
	ETag        string    `json:"etag"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

func uploadResource(u MultipartUpload) apierr.Resource {
	return apierr.Resource{Type: apierr.ResourceUpload, Container: u.Bucket, Name: u.Key, Version: u.UploadID}
}

func (c *Catalog) partKey(uploadID string, n int) []byte {
	return c.key(uploadID, fmt.Sprintf("%05d", n))
}

func (c *Catalog) getUpload(tx *bolt.Tx, uploadID string) (MultipartUpload, error) {
	var u MultipartUpload
	ok, err := getJSON(tx.Bucket(multipartBucket), c.key(uploadID), &u)
	if err != nil {
		return u, err
	}
	if !ok {
		return u, apierr.NotFound(apierr.Resource{Type: apierr.ResourceUpload, Version: uploadID},
			"upload does not exist")
	}
	return u, nil
}

// activeUpload returns the upload only while it can still accept parts.
func (c *Catalog) activeUpload(tx *bolt.Tx, uploadID string) (MultipartUpload, error) {
	u, err := c.getUpload(tx, uploadID)
	if err != nil {
		return u, err
	}
	if u.State != UploadInProgress {
		return u, apierr.NotFound(uploadResource(u), "upload is %s", u.State)
	}
	return u, nil
}

func (c *Catalog) uploadsForBucket(tx *bolt.Tx, bucket string, activeOnly bool) ([]MultipartUpload, error) {
	var uploads []MultipartUpload
	err := forEachPrefix(tx.Bucket(multipartBucket), c.prefix, func(_, v []byte) (bool, error) {
		var u MultipartUpload
		if err := json.Unmarshal(v, &u); err != nil {
			return false, err
		}
		if u.Bucket == bucket && (!activeOnly || u.State == UploadInProgress) {
			uploads = append(uploads, u)
		}
		return true, nil
	})
	return uploads, err
}

func (c *Catalog) listParts(tx *bolt.Tx, uploadID string) ([]Part, error) {
	var parts []Part
	err := forEachPrefix(tx.Bucket(partsBucket), c.scope(uploadID), func(_, v []byte) (bool, error) {
		var p Part
		if err := json.Unmarshal(v, &p); err != nil {
			return false, err
		}
		parts = append(parts, p)
		return true, nil
	})
	return parts, err
}

// CreateMultipartUpload starts an upload for bucket/key.
func (c *Catalog) CreateMultipartUpload(bucket, key, contentType string, meta map[string]string) (MultipartUpload, error) {
	var u MultipartUpload
	err := c.update(func(tx *bolt.Tx) error {
		if _, err := c.getBucket(tx, bucket); err != nil {
			return err
		}
		u = MultipartUpload{
			UploadID:     uuid.NewString(),
			Bucket:       bucket,
			Key:          key,
			ContentType:  contentType,
			UserMetadata: meta,
			State:        UploadInProgress,
			CreatedAt:    c.store.now(),
		}
		return putJSON(tx.Bucket(multipartBucket), c.key(u.UploadID), u)
	})
	return u, err
}

func (c *Catalog) GetMultipartUpload(uploadID string) (MultipartUpload, error) {
	var u MultipartUpload
	err := c.view(func(tx *bolt.Tx) error {
		var err error
		u, err = c.getUpload(tx, uploadID)
		return err
	})
	return u, err
}

// PutPart records part p. Re-uploading a part number replaces the earlier
// part, which is returned so its blob reference can be released.
func (c *Catalog) PutPart(p Part) (*Part, error) {
	var replaced *Part
	err := c.update(func(tx *bolt.Tx) error {
		u, err := c.activeUpload(tx, p.UploadID)
		if err != nil {
			return err
		}
		if p.PartNumber < MinPartNumber || p.PartNumber > MaxPartNumber {
			return apierr.InvalidArgument(apierr.Resource{Type: apierr.ResourcePart, Container: u.Bucket, Name: u.Key},
				apierr.ReasonNone, "part number must be between %d and %d", MinPartNumber, MaxPartNumber)
		}
		pb := tx.Bucket(partsBucket)
		var prev Part
		ok, err := getJSON(pb, c.partKey(p.UploadID, p.PartNumber), &prev)
		if err != nil {
			return err
		}
		if ok {
			replaced = &prev
		}
		p.CreatedAt = c.store.now()
		return putJSON(pb, c.partKey(p.UploadID, p.PartNumber), p)
	})
	return replaced, err
}

// ListParts returns the stored parts of an in-progress upload in part
// number order.
func (c *Catalog) ListParts(uploadID string) (MultipartUpload, []Part, error) {
	var u MultipartUpload
	var parts []Part
	err := c.view(func(tx *bolt.Tx) error {
		var err error
		if u, err = c.activeUpload(tx, uploadID); err != nil {
			return err
		}
		parts, err = c.listParts(tx, uploadID)
		return err
	})
	return u, parts, err
}

// ListMultipartUploads returns the in-progress uploads of bucket ordered by
// key and creation time.
func (c *Catalog) ListMultipartUploads(bucket string) ([]MultipartUpload, error) {
	var uploads []MultipartUpload
	err := c.view(func(tx *bolt.Tx) error {
		if _, err := c.getBucket(tx, bucket); err != nil {
			return err
		}
		var err error
		uploads, err = c.uploadsForBucket(tx, bucket, true)
		return err
	})
	sort.Slice(uploads, func(i, j int) bool {
		if uploads[i].Key != uploads[j].Key {
			return uploads[i].Key < uploads[j].Key
		}
		return uploads[i].CreatedAt.Before(uploads[j].CreatedAt)
	})
	return uploads, err
}

// finish moves the upload to a terminal state and drops its part rows,
// returning them so their provisional blobs can be released.
func (c *Catalog) finish(tx *bolt.Tx, u MultipartUpload, state UploadState) ([]Part, error) {
	parts, err := c.listParts(tx, u.UploadID)
	if err != nil {
		return nil, err
	}
	if _, err := deletePrefix(tx.Bucket(partsBucket), c.scope(u.UploadID)); err != nil {
		return nil, err
	}
	u.State = state
	u.FinishedAt = c.store.now()
	return parts, putJSON(tx.Bucket(multipartBucket), c.key(u.UploadID), u)
}

// CompleteMultipartUpload records obj, the assembled object, as a new version
// of the upload's key and closes the upload. It returns the written version,
// the null version it replaced if any, and every part that was stored.
func (c *Catalog) CompleteMultipartUpload(uploadID string, obj ObjectVersion) (ObjectVersion, *ObjectVersion, []Part, error) {
	var put ObjectVersion
	var replaced *ObjectVersion
	var parts []Part
	err := c.update(func(tx *bolt.Tx) error {
		u, err := c.activeUpload(tx, uploadID)
		if err != nil {
			return err
		}
		b, err := c.getBucket(tx, u.Bucket)
		if err != nil {
			return err
		}
		obj.Bucket = u.Bucket
		obj.Key = u.Key
		if obj.ContentType == "" {
			obj.ContentType = u.ContentType
		}
		if obj.UserMetadata == nil {
			obj.UserMetadata = u.UserMetadata
		}
		if put, replaced, err = c.putObject(tx, b, obj); err != nil {
			return err
		}
		parts, err = c.finish(tx, u, UploadCompleted)
		return err
	})
	return put, replaced, parts, err
}

// AbortMultipartUpload closes the upload without producing an object.
func (c *Catalog) AbortMultipartUpload(uploadID string) ([]Part, error) {
	var parts []Part
	err := c.update(func(tx *bolt.Tx) error {
		u, err := c.activeUpload(tx, uploadID)
		if err != nil {
			return err
		}
		parts, err = c.finish(tx, u, UploadAborted)
		return err
	})
	return parts, err
}

// StaleUploads returns in-progress uploads created before cutoff.
func (c *Catalog) StaleUploads(cutoff time.Time) ([]MultipartUpload, error) {
	var uploads []MultipartUpload
	err := c.view(func(tx *bolt.Tx) error {
		return forEachPrefix(tx.Bucket(multipartBucket), c.prefix, func(_, v []byte) (bool, error) {
			var u MultipartUpload
			if err := json.Unmarshal(v, &u); err != nil {
				return false, err
			}
			if u.State == UploadInProgress && u.CreatedAt.Before(cutoff) {
				uploads = append(uploads, u)
			}
			return true, nil
		})
	})
	return uploads, err
}

// PruneFinishedUploads drops completed and aborted upload records that
// finished before cutoff.
func (c *Catalog) PruneFinishedUploads(cutoff time.Time) (int, error) {
	var n int
	err := c.update(func(tx *bolt.Tx) error {
		mb := tx.Bucket(multipartBucket)
		var keys [][]byte
		err := forEachPrefix(mb, c.prefix, func(k, v []byte) (bool, error) {
			var u MultipartUpload
			if err := json.Unmarshal(v, &u); err != nil {
				return false, err
			}
			if u.State != UploadInProgress && u.FinishedAt.Before(cutoff) {
				keys = append(keys, append([]byte(nil), k...))
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := mb.Delete(k); err != nil {
				return err
			}
		}
		n = len(keys)
		return nil
	})
	return n, err
}
