package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/foundry/contentsync/internal/core/services"
	"github.com/foundry/contentsync/internal/util/hashing"
)

// DiskBlobStorage stores blobs on disk named by their content hash.
type DiskBlobStorage struct {
	dataDir string
}

// NewDiskBlobStorage creates a new DiskBlobStorage.
func NewDiskBlobStorage(dataDir string) (*DiskBlobStorage, error) {
	blobDir := filepath.Join(dataDir, "blobs")
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &DiskBlobStorage{dataDir: dataDir}, nil
}

// Store streams r into a temp file while computing its content hash,
// then renames the file into place. Content that is already stored is
// not written twice.
func (s *DiskBlobStorage) Store(r io.Reader) (string, int64, error) {
	tmpDir := filepath.Join(s.dataDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating temp directory: %w", err)
	}

	tmp, err := os.CreateTemp(tmpDir, "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	hw := newHashingWriter(tmp)
	size, err := io.CopyBuffer(hw, r, make([]byte, 256*1024))
	if err != nil {
		return "", 0, fmt.Errorf("streaming to file: %w", err)
	}
	h := hw.Hash()

	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("closing temp file: %w", err)
	}

	dir := filepath.Join(s.dataDir, "blobs", hashing.BlobDir(h))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating blob subdirectory: %w", err)
	}

	finalPath := filepath.Join(dir, h)
	if _, err := os.Stat(finalPath); err == nil {
		os.Remove(tmpPath)
		success = true
		return h, size, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", 0, fmt.Errorf("checking final blob path: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		// Another writer may have placed the same content first.
		if _, statErr := os.Stat(finalPath); statErr == nil {
			os.Remove(tmpPath)
			success = true
			return h, size, nil
		}
		return "", 0, fmt.Errorf("moving blob to final path: %w", err)
	}

	success = true
	return h, size, nil
}

// Open returns a ReadCloser for the blob with the given hash.
func (s *DiskBlobStorage) Open(hash string) (io.ReadCloser, error) {
	f, err := os.Open(s.BlobPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: blob %s", services.ErrNotFound, hash)
		}
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, nil
}

// Exists checks if a blob exists.
func (s *DiskBlobStorage) Exists(hash string) bool {
	_, err := os.Stat(s.BlobPath(hash))
	return err == nil
}

// Stat returns the size of a stored blob.
func (s *DiskBlobStorage) Stat(hash string) (int64, error) {
	info, err := os.Stat(s.BlobPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: blob %s", services.ErrNotFound, hash)
		}
		return 0, fmt.Errorf("stat blob: %w", err)
	}
	return info.Size(), nil
}

// Verify re-reads a blob and checks that its content hash still matches
// its name. A done ctx stops the read between blocks.
func (s *DiskBlobStorage) Verify(ctx context.Context, hash string) error {
	sum, err := hashing.HashFileContext(ctx, s.BlobPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: blob %s", services.ErrNotFound, hash)
		}
		return fmt.Errorf("hashing blob %s: %w", hash, err)
	}
	if got := hashing.Format(sum); got != hash {
		return fmt.Errorf("%w: blob %s hashes to %s", services.ErrHashMismatch, hash, got)
	}
	return nil
}

// Delete removes a blob.
func (s *DiskBlobStorage) Delete(hash string) error {
	if err := os.Remove(s.BlobPath(hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

// BlobPath returns the full path for a given hash.
func (s *DiskBlobStorage) BlobPath(hash string) string {
	return filepath.Join(s.dataDir, "blobs", hashing.BlobDir(hash), hash)
}

// ListBlobs returns all blob hashes stored on disk.
func (s *DiskBlobStorage) ListBlobs() ([]string, error) {
	blobDir := filepath.Join(s.dataDir, "blobs")
	var hashes []string

	prefixes, err := os.ReadDir(blobDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading blob directory: %w", err)
	}

	for _, prefix := range prefixes {
		if !prefix.IsDir() || len(prefix.Name()) != 2 {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(blobDir, prefix.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading blob subdirectory: %w", err)
		}
		for _, entry := range entries {
			hash := entry.Name()
			if !entry.IsDir() && strings.HasPrefix(hash, prefix.Name()) && hashing.IsHex(hash) {
				hashes = append(hashes, hash)
			}
		}
	}

	return hashes, nil
}
