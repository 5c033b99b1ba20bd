package metadata

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BlobRefs counts, across every namespace, the catalog rows that hold a
// reference on each content hash: live object versions and stored multipart
// parts. The blob store rebuilds its reference counts from this at startup.
func (s *Store) BlobRefs() (map[string]int64, error) {
	refs := make(map[string]int64)
	err := s.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(objectVersionsBucket).ForEach(func(k, v []byte) error {
			var ov ObjectVersion
			if err := json.Unmarshal(v, &ov); err != nil {
				return fmt.Errorf("decode version %q: %w", k, err)
			}
			if ov.HoldsBlob() {
				refs[ov.ContentHash]++
			}
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(partsBucket).ForEach(func(k, v []byte) error {
			var p Part
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decode part %q: %w", k, err)
			}
			if p.ContentHash != "" {
				refs[p.ContentHash]++
			}
			return nil
		})
	})
	return refs, err
}
