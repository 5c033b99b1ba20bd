package metadata

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

const (
	DefaultMaxKeys = 1000
	MaxMaxKeys     = 1000
)

// skipByte sorts after every byte that can appear in a UTF-8 key, so seeking
// to prefix+skipByte jumps past every key under prefix.
const skipByte = 0xff

// listToken is the decoded form of a continuation token: the last key (and
// version) returned, and whether that key was a rolled-up common prefix.
type listToken struct {
	Key      string `json:"k"`
	Version  string `json:"v,omitempty"`
	Seq      uint64 `json:"s,omitempty"`
	IsPrefix bool   `json:"p,omitempty"`
}

func encodeToken(t listToken) string {
	data, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeToken(bucket, token string) (listToken, error) {
	var t listToken
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err == nil {
		err = json.Unmarshal(data, &t)
	}
	if err != nil || t.Key == "" {
		return listToken{}, apierr.InvalidArgument(bucketResource(bucket), apierr.ReasonInvalidToken,
			"continuation token is malformed")
	}
	return t, nil
}

func clampMaxKeys(n int) int {
	if n <= 0 {
		return DefaultMaxKeys
	}
	if n > MaxMaxKeys {
		return MaxMaxKeys
	}
	return n
}

type ListObjectsInput struct {
	Bucket            string
	Prefix            string
	Delimiter         string
	ContinuationToken string
	StartAfter        string
	MaxKeys           int
}

type ListObjectsResult struct {
	Objects               []ObjectVersion
	CommonPrefixes        []string
	IsTruncated           bool
	NextContinuationToken string
}

// ListObjects lists the latest live version of each key in lexicographic
// order. Keys under a delete marker are omitted. With a delimiter, keys
// sharing a segment after the prefix collapse into one common prefix that
// counts once against MaxKeys.
func (c *Catalog) ListObjects(in ListObjectsInput) (ListObjectsResult, error) {
	var res ListObjectsResult

	var marker listToken
	if in.ContinuationToken != "" {
		t, err := decodeToken(in.Bucket, in.ContinuationToken)
		if err != nil {
			return res, err
		}
		marker = t
	} else if in.StartAfter != "" {
		marker = listToken{Key: in.StartAfter}
	}
	maxKeys := clampMaxKeys(in.MaxKeys)

	err := c.view(func(tx *bolt.Tx) error {
		if _, err := c.getBucket(tx, in.Bucket); err != nil {
			return err
		}
		scope := c.scope(in.Bucket)
		start := append(append([]byte(nil), scope...), in.Prefix...)
		if marker.Key != "" {
			resume := append(append([]byte(nil), scope...), marker.Key...)
			if marker.IsPrefix {
				resume = append(resume, skipByte)
			}
			if bytes.Compare(resume, start) > 0 {
				start = resume
			}
		}

		var last listToken
		count := 0
		cur := tx.Bucket(objectsBucket).Cursor()
		for k, v := cur.Seek(start); k != nil && bytes.HasPrefix(k, scope); {
			key := trimScope(k, scope)
			if !strings.HasPrefix(key, in.Prefix) {
				break
			}
			if marker.Key != "" && key <= marker.Key {
				k, v = cur.Next()
				continue
			}

			var cp string
			if in.Delimiter != "" {
				if i := strings.Index(key[len(in.Prefix):], in.Delimiter); i >= 0 {
					cp = key[:len(in.Prefix)+i+len(in.Delimiter)]
				}
			}

			if cp == "" {
				var obj ObjectVersion
				if err := json.Unmarshal(v, &obj); err != nil {
					return err
				}
				if obj.DeleteMarker {
					k, v = cur.Next()
					continue
				}
				if count == maxKeys {
					res.IsTruncated = true
					break
				}
				obj.IsLatest = true
				res.Objects = append(res.Objects, obj)
				last = listToken{Key: key}
				count++
				k, v = cur.Next()
				continue
			}

			// A common prefix is reported only if some key under it is live.
			live, err := c.prefixHasLive(cur, scope, cp)
			if err != nil {
				return err
			}
			if live {
				if count == maxKeys {
					res.IsTruncated = true
					break
				}
				res.CommonPrefixes = append(res.CommonPrefixes, cp)
				last = listToken{Key: cp, IsPrefix: true}
				count++
			}
			skip := append(append(append([]byte(nil), scope...), cp...), skipByte)
			k, v = cur.Seek(skip)
		}

		if res.IsTruncated {
			res.NextContinuationToken = encodeToken(last)
		}
		return nil
	})
	return res, err
}

// prefixHasLive reports whether any key under cp has a non-delete-marker
// latest version. It moves cur; callers reposition afterwards.
func (c *Catalog) prefixHasLive(cur *bolt.Cursor, scope []byte, cp string) (bool, error) {
	p := append(append([]byte(nil), scope...), cp...)
	for k, v := cur.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = cur.Next() {
		var obj ObjectVersion
		if err := json.Unmarshal(v, &obj); err != nil {
			return false, err
		}
		if !obj.DeleteMarker {
			return true, nil
		}
	}
	return false, nil
}

// keyVersions returns the versions of one key, newest first, with IsLatest
// set on the row the latest pointer names.
func (c *Catalog) keyVersions(tx *bolt.Tx, bucket, key string) ([]ObjectVersion, error) {
	var out []ObjectVersion
	err := forEachPrefix(tx.Bucket(objectVersionsBucket), c.scope(bucket, key), func(_, data []byte) (bool, error) {
		var v ObjectVersion
		if err := json.Unmarshal(data, &v); err != nil {
			return false, err
		}
		out = append(out, v)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	latest, ok, err := c.latest(tx, bucket, key)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].IsLatest = ok && out[i].VersionID == latest.VersionID
	}
	return out, nil
}

type ListVersionsInput struct {
	Bucket  string
	Prefix  string
	Token   string
	MaxKeys int
}

type ListVersionsResult struct {
	Versions    []ObjectVersion
	IsTruncated bool
	NextToken   string
}

// ListObjectVersions lists every version, delete markers included, ordered
// by key and then newest first within a key.
func (c *Catalog) ListObjectVersions(in ListVersionsInput) (ListVersionsResult, error) {
	var res ListVersionsResult
	var marker listToken
	if in.Token != "" {
		t, err := decodeToken(in.Bucket, in.Token)
		if err != nil {
			return res, err
		}
		marker = t
	}
	maxKeys := clampMaxKeys(in.MaxKeys)

	err := c.view(func(tx *bolt.Tx) error {
		if _, err := c.getBucket(tx, in.Bucket); err != nil {
			return err
		}
		scope := c.scope(in.Bucket)
		start := append(append([]byte(nil), scope...), in.Prefix...)
		if marker.Key != "" {
			resume := append(append([]byte(nil), scope...), marker.Key...)
			if bytes.Compare(resume, start) > 0 {
				start = resume
			}
		}

		cur := tx.Bucket(objectVersionsBucket).Cursor()
		for k, _ := cur.Seek(start); k != nil && bytes.HasPrefix(k, scope); {
			rest := trimScope(k, scope)
			key, _, _ := strings.Cut(rest, sep)
			if !strings.HasPrefix(key, in.Prefix) {
				break
			}
			// Jump to the next key group before decoding this one.
			next := append(append(append([]byte(nil), scope...), key...), sep[0]+1)

			if marker.Key != "" && key < marker.Key {
				k, _ = cur.Seek(next)
				continue
			}
			versions, err := c.keyVersions(tx, in.Bucket, key)
			if err != nil {
				return err
			}
			if marker.Key == key {
				// Versions are newest first; everything at or above the
				// marker's sequence was already returned.
				i := 0
				for i < len(versions) && versions[i].Seq >= marker.Seq {
					i++
				}
				versions = versions[i:]
			}
			for _, v := range versions {
				if len(res.Versions) == maxKeys {
					res.IsTruncated = true
					last := res.Versions[len(res.Versions)-1]
					res.NextToken = encodeToken(listToken{Key: last.Key, Version: last.VersionID, Seq: last.Seq})
					return nil
				}
				res.Versions = append(res.Versions, v)
			}
			k, _ = cur.Seek(next)
		}
		return nil
	})
	return res, err
}
