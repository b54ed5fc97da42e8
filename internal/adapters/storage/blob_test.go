package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/foundry/contentsync/internal/core/services"
	"github.com/foundry/contentsync/internal/util/hashing"
)

const helloWorldHash = "bc62d4b80d9e36da29c16c5d4d9f11731f36052c72401a76c23c0fb5a9b74423"

func newTestStorage(t *testing.T) (*DiskBlobStorage, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewDiskBlobStorage(dir)
	if err != nil {
		t.Fatalf("NewDiskBlobStorage: %v", err)
	}
	return store, dir
}

func TestDiskBlobStorage_StoreAndOpen(t *testing.T) {
	store, _ := newTestStorage(t)

	content := "hello world"
	hash, size, err := store.Store(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}
	if hash != helloWorldHash {
		t.Errorf("hash = %s, want %s", hash, helloWorldHash)
	}
	if !store.Exists(hash) {
		t.Error("Exists returned false for stored blob")
	}

	rc, err := store.Open(hash)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	if string(data) != content {
		t.Errorf("content = %q, want %q", string(data), content)
	}
}

func TestDiskBlobStorage_MultiBlockHash(t *testing.T) {
	store, _ := newTestStorage(t)

	content := bytes.Repeat([]byte{'A'}, hashing.BlockSize+1)
	hash, size, err := store.Store(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}
	want := "8f553da8d00d0bf509d8470e242888be33019c20c0544811f5b2b89e98360b92"
	if hash != want {
		t.Errorf("hash = %s, want %s", hash, want)
	}
	if got := store.BlobPath(hash); filepath.Base(got) != want || filepath.Base(filepath.Dir(got)) != "8f" {
		t.Errorf("BlobPath = %s", got)
	}
}

func TestDiskBlobStorage_EmptyContent(t *testing.T) {
	store, _ := newTestStorage(t)

	hash, size, err := store.Store(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if size != 0 {
		t.Errorf("size = %d, want 0", size)
	}
	if hash != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("hash = %s", hash)
	}
}

func TestDiskBlobStorage_StoreReadError(t *testing.T) {
	store, dir := newTestStorage(t)

	r := io.MultiReader(strings.NewReader("partial"), errReader{})
	if _, _, err := store.Store(r); err == nil {
		t.Fatal("expected error from failing reader")
	}

	blobs, err := store.ListBlobs()
	if err != nil {
		t.Fatalf("ListBlobs: %v", err)
	}
	if len(blobs) != 0 {
		t.Errorf("expected no blobs after failed store, found %d", len(blobs))
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "tmp"))
	if len(entries) != 0 {
		t.Errorf("expected temp file cleanup, found %d", len(entries))
	}
}

func TestDiskBlobStorage_Deduplication(t *testing.T) {
	store, _ := newTestStorage(t)

	content := "deduplicate me"
	hash1, _, _ := store.Store(strings.NewReader(content))
	hash2, _, _ := store.Store(strings.NewReader(content))

	if hash1 != hash2 {
		t.Errorf("hashes differ: %s vs %s", hash1, hash2)
	}

	blobs, err := store.ListBlobs()
	if err != nil {
		t.Fatalf("ListBlobs: %v", err)
	}
	if len(blobs) != 1 || blobs[0] != hash1 {
		t.Errorf("expected exactly blob %s, got %v", hash1, blobs)
	}
}

func TestDiskBlobStorage_StatAndDelete(t *testing.T) {
	store, _ := newTestStorage(t)

	hash, _, _ := store.Store(strings.NewReader("to be deleted"))
	size, err := store.Stat(hash)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if size != int64(len("to be deleted")) {
		t.Errorf("Stat size = %d", size)
	}

	if err := store.Delete(hash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Exists(hash) {
		t.Error("blob should not exist after delete")
	}
	if _, err := store.Stat(hash); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Stat after delete: err = %v, want ErrNotFound", err)
	}
	if err := store.Delete(hash); err != nil {
		t.Errorf("deleting a missing blob: %v", err)
	}
}

func TestDiskBlobStorage_OpenNonExistent(t *testing.T) {
	store, _ := newTestStorage(t)

	_, err := store.Open(strings.Repeat("0", 64))
	if !errors.Is(err, services.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDiskBlobStorage_Verify(t *testing.T) {
	store, _ := newTestStorage(t)

	hash, _, _ := store.Store(strings.NewReader("hello world"))
	if err := store.Verify(context.Background(), hash); err != nil {
		t.Fatalf("Verify intact blob: %v", err)
	}

	if err := os.WriteFile(store.BlobPath(hash), []byte("hello w0rld"), 0o644); err != nil {
		t.Fatalf("corrupting blob: %v", err)
	}
	if err := store.Verify(context.Background(), hash); !errors.Is(err, services.ErrHashMismatch) {
		t.Errorf("Verify corrupted blob: err = %v, want ErrHashMismatch", err)
	}

	if err := store.Verify(context.Background(), strings.Repeat("1", 64)); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Verify missing blob: err = %v, want ErrNotFound", err)
	}
}

func TestDiskBlobStorage_VerifyCanceled(t *testing.T) {
	store, _ := newTestStorage(t)

	hash, _, err := store.Store(bytes.NewReader(make([]byte, hashing.BlockSize+1)))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Verify(ctx, hash); !errors.Is(err, context.Canceled) {
		t.Errorf("Verify with canceled context: err = %v, want context.Canceled", err)
	}
}

func TestDiskBlobStorage_ListBlobsIgnoresStrayFiles(t *testing.T) {
	store, dir := newTestStorage(t)

	hash1, _, _ := store.Store(strings.NewReader("file1"))
	hash2, _, _ := store.Store(strings.NewReader("file2"))

	stray := filepath.Join(dir, "blobs", hashing.BlobDir(hash1), "notes.txt")
	if err := os.WriteFile(stray, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	blobs, err := store.ListBlobs()
	if err != nil {
		t.Fatalf("ListBlobs: %v", err)
	}

	found := make(map[string]bool)
	for _, b := range blobs {
		found[b] = true
	}
	if len(found) != 2 || !found[hash1] || !found[hash2] {
		t.Errorf("ListBlobs = %v, want %s and %s", blobs, hash1, hash2)
	}
}

func TestDiskBlobStorage_AtomicWrite(t *testing.T) {
	store, dir := newTestStorage(t)

	if _, _, err := store.Store(strings.NewReader("atomic test")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "tmp"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("reading tmp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no temp files, found %d", len(entries))
	}
}

func TestDiskBlobStorage_ConcurrentDedup(t *testing.T) {
	store, _ := newTestStorage(t)

	const workers = 8
	hashes := make(chan string, workers)
	errs := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hash, _, err := store.Store(strings.NewReader("same-content"))
			if err != nil {
				errs <- err
				return
			}
			hashes <- hash
		}()
	}
	wg.Wait()
	close(errs)
	close(hashes)

	for err := range errs {
		t.Fatalf("Store in goroutine failed: %v", err)
	}

	want := hashing.Format(hashing.Sum([]byte("same-content")))
	for hash := range hashes {
		if hash != want {
			t.Fatalf("hash mismatch in concurrent store: %s vs %s", hash, want)
		}
	}

	blobs, err := store.ListBlobs()
	if err != nil {
		t.Fatalf("ListBlobs: %v", err)
	}
	if len(blobs) != 1 {
		t.Fatalf("expected one blob for concurrent uploads, found %d", len(blobs))
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
