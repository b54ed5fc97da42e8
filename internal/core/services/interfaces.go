package services

import (
	"context"
	"io"

	"github.com/foundry/contentsync/internal/core/models"
)

// BlobStorage handles content-addressed blob storage on disk.
type BlobStorage interface {
	// Store streams data to disk, computing its content hash.
	// Returns the hex-encoded hash and total bytes written.
	Store(r io.Reader) (hash string, size int64, err error)

	// Open returns a ReadCloser for the blob with the given hash.
	Open(hash string) (io.ReadCloser, error)

	// Exists checks if a blob with the given hash exists.
	Exists(hash string) bool

	// Stat returns the size of the blob with the given hash.
	Stat(hash string) (int64, error)

	// Verify re-hashes a stored blob and returns ErrHashMismatch if its
	// content no longer matches its hash. It stops early once ctx is done.
	Verify(ctx context.Context, hash string) error

	// Delete removes a blob by hash.
	Delete(hash string) error

	// BlobPath returns the full path for a given hash.
	BlobPath(hash string) string

	// ListBlobs returns all blob hashes on disk.
	ListBlobs() ([]string, error)
}

// MetadataStore maps namespaced paths to blobs.
type MetadataStore interface {
	// CreateNamespace creates a namespace if it doesn't exist, returns its ID.
	CreateNamespace(name string) (int64, error)

	// GetNamespace retrieves a namespace by name.
	GetNamespace(name string) (*models.Namespace, error)

	ListNamespaces() ([]models.Namespace, error)

	// SearchNamespaces searches namespaces by name substring.
	SearchNamespaces(query string) ([]models.Namespace, error)

	// PutFile points path at a blob. An existing path is replaced and its
	// revision bumped when overwrite is set, otherwise ErrConflict.
	PutFile(namespaceID int64, path, hash string, size int64, overwrite bool) (*models.File, error)

	GetFile(namespace, path string) (*models.File, error)

	// ListFiles lists all files in a namespace ordered by path.
	ListFiles(namespace string) ([]models.File, error)

	DeleteFile(namespace, path string) error

	// FilesByHash lists every file whose content is the given blob.
	FilesByHash(hash string) ([]models.File, error)

	// ReferencedHashes returns all hashes referenced by files.
	ReferencedHashes() (map[string]bool, error)

	Close() error
}

// Authenticator validates request tokens.
type Authenticator interface {
	// ValidateToken checks if a token is valid.
	ValidateToken(token string) bool
}
