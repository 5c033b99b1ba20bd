package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/locks"
)

const (
	objectsDirName = "objects"
	tmpDirName     = "tmp"
	tmpSuffix      = ".tmp"
)

// FileSystem implements Engine as a content-addressed tree on the local
// filesystem: {root}/objects/{h[0:2]}/{h[2:4]}/{hash}. Writes land in
// {root}/tmp first and are renamed into place, so a committed blob is never
// partially written.
//
// Reference counts live in memory and are rebuilt from the catalog by
// Reconcile at startup; the catalog rows are the durable source of truth.
type FileSystem struct {
	root    string
	stripes *locks.Striped

	mu   sync.RWMutex
	refs map[string]*blobRef

	blobs atomic.Int64
	bytes atomic.Int64
}

type blobRef struct {
	count atomic.Int64
	size  int64
}

func NewFileSystem(root string) (*FileSystem, error) {
	for _, dir := range []string{filepath.Join(root, objectsDirName), filepath.Join(root, tmpDirName)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create blob dir: %w", err)
		}
	}
	return &FileSystem{
		root:    root,
		stripes: locks.NewStriped(64),
		refs:    make(map[string]*blobRef),
	}, nil
}

func (fs *FileSystem) blobPath(hash string) string {
	return filepath.Join(fs.root, objectsDirName, hash[0:2], hash[2:4], hash)
}

func (fs *FileSystem) tmpDir() string {
	return filepath.Join(fs.root, tmpDirName)
}

func validHash(hash string) bool {
	if len(hash) != blake2b.Size256*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func blobResource(hash string) apierr.Resource {
	return apierr.Resource{Type: apierr.ResourceBlob, Name: hash}
}

func (fs *FileSystem) ref(hash string) *blobRef {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.refs[hash]
}

func (fs *FileSystem) Put(ctx context.Context, r io.Reader) (BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return BlobInfo{}, apierr.Internal(err, "put blob")
	}

	tmpPath := filepath.Join(fs.tmpDir(), uuid.NewString()+tmpSuffix)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return BlobInfo{}, apierr.Internal(err, "create temp blob")
	}

	h, _ := blake2b.New256(nil)
	written, err := io.Copy(f, io.TeeReader(r, h))
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return BlobInfo{}, apierr.Internal(err, "write temp blob")
	}

	hash := hex.EncodeToString(h.Sum(nil))
	info := BlobInfo{Hash: hash, Size: written}

	unlock := fs.stripes.Lock(hash)
	defer unlock()

	if ref := fs.ref(hash); ref != nil && ref.count.Load() > 0 {
		// Content already present; the temp copy is redundant.
		os.Remove(tmpPath)
		ref.count.Add(1)
		return info, nil
	}

	final := fs.blobPath(hash)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		os.Remove(tmpPath)
		return BlobInfo{}, apierr.Internal(err, "create blob dir")
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return BlobInfo{}, apierr.Internal(err, "commit blob")
	}

	ref := &blobRef{size: written}
	ref.count.Store(1)
	fs.mu.Lock()
	fs.refs[hash] = ref
	fs.mu.Unlock()
	fs.blobs.Add(1)
	fs.bytes.Add(written)
	return info, nil
}

func (fs *FileSystem) Open(hash string) (io.ReadCloser, int64, error) {
	if !validHash(hash) {
		return nil, 0, apierr.InvalidArgument(blobResource(hash), apierr.ReasonNone, "malformed content hash")
	}
	f, err := os.Open(fs.blobPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, apierr.NotFound(blobResource(hash), "blob does not exist")
		}
		return nil, 0, apierr.Internal(err, "open blob")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, apierr.Internal(err, "stat blob")
	}
	return f, info.Size(), nil
}

func (fs *FileSystem) Fetch(hash string) ([]byte, error) {
	rc, size, err := fs.Open(hash)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, size+1))
	if err != nil {
		return nil, apierr.Internal(err, "read blob")
	}
	return data, nil
}

func (fs *FileSystem) Retain(hash string) error {
	unlock := fs.stripes.Lock(hash)
	defer unlock()

	ref := fs.ref(hash)
	if ref == nil || ref.count.Load() <= 0 {
		return apierr.NotFound(blobResource(hash), "blob has no live references")
	}
	ref.count.Add(1)
	return nil
}

func (fs *FileSystem) Release(hash string) error {
	unlock := fs.stripes.Lock(hash)
	defer unlock()

	ref := fs.ref(hash)
	if ref == nil || ref.count.Load() <= 0 {
		return apierr.NotFound(blobResource(hash), "blob has no live references")
	}
	if ref.count.Add(-1) > 0 {
		return nil
	}

	fs.mu.Lock()
	delete(fs.refs, hash)
	fs.mu.Unlock()
	fs.blobs.Add(-1)
	fs.bytes.Add(-ref.size)

	if err := os.Remove(fs.blobPath(hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apierr.Internal(err, "remove blob")
	}
	return nil
}

func (fs *FileSystem) RefCount(hash string) int64 {
	ref := fs.ref(hash)
	if ref == nil {
		return 0
	}
	return ref.count.Load()
}

// Exists reports whether the blob file is present on disk.
func (fs *FileSystem) Exists(hash string) bool {
	if !validHash(hash) {
		return false
	}
	info, err := os.Stat(fs.blobPath(hash))
	return err == nil && !info.IsDir()
}

func (fs *FileSystem) Stats() Stats {
	return Stats{Blobs: fs.blobs.Load(), Bytes: fs.bytes.Load()}
}
