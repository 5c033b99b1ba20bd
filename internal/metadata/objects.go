package metadata

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

// NullVersion is the version ID written while a bucket is unversioned or
// suspended.
const NullVersion = "null"

// ObjectVersion is one row of an object's version chain. Delete markers carry
// no content.
type ObjectVersion struct {
	Bucket       string            `json:"bucket"`
	Key          string            `json:"key"`
	VersionID    string            `json:"version_id"`
	Seq          uint64            `json:"seq"`
	ContentHash  string            `json:"content_hash,omitempty"`
	Size         int64             `json:"size"`
	ETag         string            `json:"etag,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	UserMetadata map[string]string `json:"user_metadata,omitempty"`
	DeleteMarker bool              `json:"delete_marker,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`

	// IsLatest is derived from the latest pointer when the row is read.
	IsLatest bool `json:"-"`
}

// HoldsBlob reports whether the row owns a blob reference.
func (v ObjectVersion) HoldsBlob() bool {
	return !v.DeleteMarker && v.ContentHash != ""
}

func objectResource(bucket, key string) apierr.Resource {
	return apierr.Resource{Type: apierr.ResourceObject, Container: bucket, Name: key}
}

func versionResource(bucket, key, versionID string) apierr.Resource {
	return apierr.Resource{Type: apierr.ResourceVersion, Container: bucket, Name: key, Version: versionID}
}

// latest reads the latest pointer for bucket/key.
func (c *Catalog) latest(tx *bolt.Tx, bucket, key string) (ObjectVersion, bool, error) {
	var v ObjectVersion
	ok, err := getJSON(tx.Bucket(objectsBucket), c.key(bucket, key), &v)
	if ok {
		v.IsLatest = true
	}
	return v, ok, err
}

// writeVersion stores row as a new version and makes it the latest.
func (c *Catalog) writeVersion(tx *bolt.Tx, row *ObjectVersion) error {
	vb := tx.Bucket(objectVersionsBucket)
	seq, err := vb.NextSequence()
	if err != nil {
		return err
	}
	row.Seq = seq
	if err := putJSON(vb, c.key(row.Bucket, row.Key, row.VersionID), row); err != nil {
		return err
	}
	row.IsLatest = true
	return putJSON(tx.Bucket(objectsBucket), c.key(row.Bucket, row.Key), row)
}

// relinkLatest points the latest pointer at the newest remaining version of
// bucket/key, or removes it when none remain.
func (c *Catalog) relinkLatest(tx *bolt.Tx, bucket, key string) error {
	var newest *ObjectVersion
	err := forEachPrefix(tx.Bucket(objectVersionsBucket), c.scope(bucket, key), func(_, data []byte) (bool, error) {
		var v ObjectVersion
		if err := json.Unmarshal(data, &v); err != nil {
			return false, err
		}
		if newest == nil || v.Seq > newest.Seq {
			newest = &v
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	ob := tx.Bucket(objectsBucket)
	if newest == nil {
		return ob.Delete(c.key(bucket, key))
	}
	return putJSON(ob, c.key(bucket, key), newest)
}

// PutObject records a new version of obj.Bucket/obj.Key according to the
// bucket's versioning state. Under Enabled a fresh version is appended;
// otherwise the null version is overwritten and returned as replaced so its
// blob reference can be released.
func (c *Catalog) PutObject(obj ObjectVersion) (put ObjectVersion, replaced *ObjectVersion, err error) {
	err = c.update(func(tx *bolt.Tx) error {
		b, err := c.getBucket(tx, obj.Bucket)
		if err != nil {
			return err
		}
		put, replaced, err = c.putObject(tx, b, obj)
		return err
	})
	return put, replaced, err
}

func (c *Catalog) putObject(tx *bolt.Tx, b Bucket, obj ObjectVersion) (ObjectVersion, *ObjectVersion, error) {
	obj.DeleteMarker = false
	obj.CreatedAt = c.store.now()

	var replaced *ObjectVersion
	if b.Versioning == VersioningEnabled {
		obj.VersionID = c.store.newVersionID()
	} else {
		obj.VersionID = NullVersion
		var prev ObjectVersion
		ok, err := getJSON(tx.Bucket(objectVersionsBucket), c.key(obj.Bucket, obj.Key, NullVersion), &prev)
		if err != nil {
			return ObjectVersion{}, nil, err
		}
		if ok {
			replaced = &prev
		}
	}
	if err := c.writeVersion(tx, &obj); err != nil {
		return ObjectVersion{}, nil, err
	}
	return obj, replaced, nil
}

// GetObject returns the requested version, or the latest when versionID is
// empty. A latest pointer at a delete marker reads as NotFound.
func (c *Catalog) GetObject(bucket, key, versionID string) (ObjectVersion, error) {
	var v ObjectVersion
	err := c.view(func(tx *bolt.Tx) error {
		if _, err := c.getBucket(tx, bucket); err != nil {
			return err
		}
		latest, ok, err := c.latest(tx, bucket, key)
		if err != nil {
			return err
		}
		if versionID == "" {
			if !ok {
				return apierr.NotFound(objectResource(bucket, key), "key does not exist")
			}
			if latest.DeleteMarker {
				return apierr.NotFound(objectResource(bucket, key), "key is deleted").
					WithReason(apierr.ReasonDeleteMarker)
			}
			v = latest
			return nil
		}
		found, err := getJSON(tx.Bucket(objectVersionsBucket), c.key(bucket, key, versionID), &v)
		if err != nil {
			return err
		}
		if !found {
			return apierr.NotFound(versionResource(bucket, key, versionID), "version does not exist")
		}
		v.IsLatest = ok && latest.VersionID == v.VersionID
		if v.DeleteMarker {
			return apierr.NotFound(versionResource(bucket, key, versionID), "version is a delete marker").
				WithReason(apierr.ReasonDeleteMarker)
		}
		return nil
	})
	return v, err
}

// DeleteResult describes the effect of a key-level delete. Marker is set when
// a delete marker was appended; Removed is set when a row was physically
// removed and its blob reference must be released.
type DeleteResult struct {
	Marker  *ObjectVersion
	Removed *ObjectVersion
}

// DeleteObject performs a key-level delete. Enabled buckets gain a delete
// marker. Unversioned and suspended buckets lose their null version outright;
// deleting an absent key there succeeds with an empty result.
func (c *Catalog) DeleteObject(bucket, key string) (DeleteResult, error) {
	var res DeleteResult
	err := c.update(func(tx *bolt.Tx) error {
		b, err := c.getBucket(tx, bucket)
		if err != nil {
			return err
		}
		if b.Versioning == VersioningEnabled {
			marker := ObjectVersion{
				Bucket:       bucket,
				Key:          key,
				VersionID:    c.store.newVersionID(),
				DeleteMarker: true,
				CreatedAt:    c.store.now(),
			}
			if err := c.writeVersion(tx, &marker); err != nil {
				return err
			}
			res.Marker = &marker
			return nil
		}

		vb := tx.Bucket(objectVersionsBucket)
		var prev ObjectVersion
		ok, err := getJSON(vb, c.key(bucket, key, NullVersion), &prev)
		if err != nil || !ok {
			return err
		}
		if err := vb.Delete(c.key(bucket, key, NullVersion)); err != nil {
			return err
		}
		res.Removed = &prev
		return c.relinkLatest(tx, bucket, key)
	})
	return res, err
}

// DeleteObjectVersion physically removes one version row. If it was the
// latest, the next newest version (possibly a delete marker) takes its place.
func (c *Catalog) DeleteObjectVersion(bucket, key, versionID string) (ObjectVersion, error) {
	var removed ObjectVersion
	err := c.update(func(tx *bolt.Tx) error {
		if _, err := c.getBucket(tx, bucket); err != nil {
			return err
		}
		vb := tx.Bucket(objectVersionsBucket)
		ok, err := getJSON(vb, c.key(bucket, key, versionID), &removed)
		if err != nil {
			return err
		}
		if !ok {
			return apierr.NotFound(versionResource(bucket, key, versionID), "version does not exist")
		}
		if err := vb.Delete(c.key(bucket, key, versionID)); err != nil {
			return err
		}
		return c.relinkLatest(tx, bucket, key)
	})
	return removed, err
}

// Versions returns every version of bucket/key, newest first.
func (c *Catalog) Versions(bucket, key string) ([]ObjectVersion, error) {
	var out []ObjectVersion
	err := c.view(func(tx *bolt.Tx) error {
		if _, err := c.getBucket(tx, bucket); err != nil {
			return err
		}
		var err error
		out, err = c.keyVersions(tx, bucket, key)
		return err
	})
	return out, err
}
