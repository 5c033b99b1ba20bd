package storage

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ReconcileReport summarizes a Reconcile pass.
type ReconcileReport struct {
	Live    int      // blobs with at least one reference
	Removed int      // unreferenced blobs deleted
	Missing []string // referenced hashes with no blob on disk
}

// Reconcile replaces the in-memory reference counts with live, the number of
// catalog rows pointing at each hash, and deletes blob files nobody
// references. It must run before the store serves traffic.
func (fs *FileSystem) Reconcile(live map[string]int64) (ReconcileReport, error) {
	var report ReconcileReport
	var result *multierror.Error

	refs := make(map[string]*blobRef, len(live))
	var blobs, bytes int64

	objectsDir := filepath.Join(fs.root, objectsDirName)
	err := filepath.WalkDir(objectsDir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			result = multierror.Append(result, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		hash := d.Name()
		if !validHash(hash) {
			return nil
		}
		count := live[hash]
		if count <= 0 {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				result = multierror.Append(result, fmt.Errorf("remove unreferenced blob %s: %w", hash, err))
				return nil
			}
			report.Removed++
			return nil
		}
		info, err := d.Info()
		if err != nil {
			result = multierror.Append(result, err)
			return nil
		}
		ref := &blobRef{size: info.Size()}
		ref.count.Store(count)
		refs[hash] = ref
		blobs++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("walk blobs: %w", err))
	}

	for hash, count := range live {
		if count > 0 {
			if _, ok := refs[hash]; !ok {
				report.Missing = append(report.Missing, hash)
			}
		}
	}
	report.Live = len(refs)

	fs.mu.Lock()
	fs.refs = refs
	fs.mu.Unlock()
	fs.blobs.Store(blobs)
	fs.bytes.Store(bytes)

	return report, result.ErrorOrNil()
}

// SweepTemp removes temporary files left behind by interrupted writes. Files
// younger than olderThan may belong to an in-flight Put and are kept.
func (fs *FileSystem) SweepTemp(olderThan time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(fs.tmpDir())
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}

	var removed int
	var result *multierror.Error
	cutoff := now.Add(-olderThan)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(fs.tmpDir(), e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
			continue
		}
		removed++
	}
	return removed, result.ErrorOrNil()
}
