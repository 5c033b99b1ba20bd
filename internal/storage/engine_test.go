package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

func newTestEngine(t *testing.T) *FileSystem {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFileSystem(dir)
	if err != nil {
		t.Fatalf("NewFileSystem: %v", err)
	}
	return fs
}

func TestFileSystem_PutFetchRelease(t *testing.T) {
	fs := newTestEngine(t)

	data := []byte("hello world")
	info, err := fs.Put(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Size != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), info.Size)
	}
	if len(info.Hash) != 64 {
		t.Errorf("expected 64-char hash, got %q", info.Hash)
	}

	got, err := fs.Fetch(info.Hash)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("expected %q, got %q", data, got)
	}

	if err := fs.Release(info.Hash); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := fs.Fetch(info.Hash); !apierr.Is(err, apierr.KindNotFound) {
		t.Errorf("expected NotFound after release, got %v", err)
	}
}

func TestFileSystem_Dedup(t *testing.T) {
	fs := newTestEngine(t)
	ctx := context.Background()

	a, err := fs.Put(ctx, bytes.NewReader([]byte("same bytes")))
	if err != nil {
		t.Fatalf("Put a: %v", err)
	}
	b, err := fs.Put(ctx, bytes.NewReader([]byte("same bytes")))
	if err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if a.Hash != b.Hash {
		t.Fatalf("identical content produced different hashes")
	}
	if rc := fs.RefCount(a.Hash); rc != 2 {
		t.Fatalf("expected refcount 2, got %d", rc)
	}
	if st := fs.Stats(); st.Blobs != 1 {
		t.Errorf("expected one physical blob, got %d", st.Blobs)
	}

	fs.Release(a.Hash)
	if rc := fs.RefCount(a.Hash); rc != 1 {
		t.Errorf("expected refcount 1, got %d", rc)
	}
	if !fs.Exists(a.Hash) {
		t.Error("blob removed while still referenced")
	}

	fs.Release(a.Hash)
	if fs.Exists(a.Hash) {
		t.Error("blob should be removed at refcount 0")
	}
	if err := fs.Release(a.Hash); !apierr.Is(err, apierr.KindNotFound) {
		t.Errorf("expected NotFound on over-release, got %v", err)
	}
}

func TestFileSystem_Retain(t *testing.T) {
	fs := newTestEngine(t)

	info, _ := fs.Put(context.Background(), bytes.NewReader([]byte("copied")))
	if err := fs.Retain(info.Hash); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if rc := fs.RefCount(info.Hash); rc != 2 {
		t.Errorf("expected refcount 2, got %d", rc)
	}
	if err := fs.Retain("00"); !apierr.Is(err, apierr.KindNotFound) {
		t.Errorf("expected NotFound for unknown hash, got %v", err)
	}
}

func TestFileSystem_ConcurrentPutRelease(t *testing.T) {
	fs := newTestEngine(t)
	ctx := context.Background()
	payload := []byte("contended content")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := fs.Put(ctx, bytes.NewReader(payload))
			if err != nil {
				t.Errorf("Put: %v", err)
				return
			}
			if err := fs.Release(info.Hash); err != nil {
				t.Errorf("Release: %v", err)
			}
		}()
	}
	wg.Wait()

	if st := fs.Stats(); st.Blobs != 0 || st.Bytes != 0 {
		t.Errorf("expected empty store, got %+v", st)
	}
}

func TestFileSystem_OpenStreams(t *testing.T) {
	fs := newTestEngine(t)
	info, _ := fs.Put(context.Background(), bytes.NewReader([]byte("streamed")))

	rc, size, err := fs.Open(info.Hash)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	if size != 8 {
		t.Errorf("expected size 8, got %d", size)
	}
	got, _ := io.ReadAll(rc)
	if string(got) != "streamed" {
		t.Errorf("got %q", got)
	}

	if _, _, err := fs.Open("not-a-hash"); !apierr.Is(err, apierr.KindInvalidArgument) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestFileSystem_Reconcile(t *testing.T) {
	fs := newTestEngine(t)
	ctx := context.Background()

	kept, _ := fs.Put(ctx, bytes.NewReader([]byte("kept")))
	orphan, _ := fs.Put(ctx, bytes.NewReader([]byte("orphan")))

	// Simulate a restart: a fresh store over the same root.
	reopened, err := NewFileSystem(fs.root)
	if err != nil {
		t.Fatalf("NewFileSystem: %v", err)
	}
	missing := "ab" + string(bytes.Repeat([]byte("0"), 62))
	report, err := reopened.Reconcile(map[string]int64{kept.Hash: 3, missing: 1})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Live != 1 || report.Removed != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(report.Missing) != 1 || report.Missing[0] != missing {
		t.Errorf("expected missing %s, got %v", missing, report.Missing)
	}
	if reopened.RefCount(kept.Hash) != 3 {
		t.Errorf("expected refcount 3, got %d", reopened.RefCount(kept.Hash))
	}
	if reopened.Exists(orphan.Hash) {
		t.Error("unreferenced blob survived reconcile")
	}
}

func TestFileSystem_SweepTemp(t *testing.T) {
	fs := newTestEngine(t)

	stale := filepath.Join(fs.tmpDir(), "stale"+tmpSuffix)
	fresh := filepath.Join(fs.tmpDir(), "fresh"+tmpSuffix)
	for _, p := range []string{stale, fresh} {
		if err := os.WriteFile(p, []byte("partial"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	os.Chtimes(stale, old, old)

	removed, err := fs.SweepTemp(time.Hour, time.Now())
	if err != nil {
		t.Fatalf("SweepTemp: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh temp file should survive the sweep")
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale temp file should be removed")
	}
}
