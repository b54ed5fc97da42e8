package metadata

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foundry/contentsync/internal/core/models"
	"github.com/foundry/contentsync/internal/core/services"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements MetadataStore backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the SQLite database and runs migrations.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := filepath.Join(dataDir, "contentsync.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS namespaces (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL
		);
		CREATE TABLE IF NOT EXISTS files (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace_id INTEGER NOT NULL,
			path         TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			size         INTEGER NOT NULL,
			revision     INTEGER NOT NULL DEFAULT 1,
			updated_at   DATETIME NOT NULL,
			UNIQUE(namespace_id, path),
			FOREIGN KEY (namespace_id) REFERENCES namespaces(id)
		);
		CREATE INDEX IF NOT EXISTS idx_files_content_hash ON files(content_hash);
	`)
	return err
}

const fileColumns = `f.id, f.namespace_id, n.name, f.path, f.content_hash, f.size, f.revision, f.updated_at
		FROM files f JOIN namespaces n ON f.namespace_id = n.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (models.File, error) {
	var f models.File
	err := row.Scan(&f.ID, &f.NamespaceID, &f.Namespace, &f.Path, &f.ContentHash, &f.Size, &f.Revision, &f.UpdatedAt)
	return f, err
}

func (s *SQLiteStore) queryFiles(what, query string, args ...any) ([]models.File, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	var files []models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteStore) queryNamespaces(what, query string, args ...any) ([]models.Namespace, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	var namespaces []models.Namespace
	for rows.Next() {
		var n models.Namespace
		if err := rows.Scan(&n.ID, &n.Name); err != nil {
			return nil, fmt.Errorf("scanning namespace: %w", err)
		}
		namespaces = append(namespaces, n)
	}
	return namespaces, rows.Err()
}

func (s *SQLiteStore) CreateNamespace(name string) (int64, error) {
	_, err := s.db.Exec("INSERT OR IGNORE INTO namespaces (name) VALUES (?)", name)
	if err != nil {
		return 0, fmt.Errorf("creating namespace: %w", err)
	}

	var id int64
	err = s.db.QueryRow("SELECT id FROM namespaces WHERE name = ?", name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("getting namespace id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetNamespace(name string) (*models.Namespace, error) {
	var n models.Namespace
	err := s.db.QueryRow("SELECT id, name FROM namespaces WHERE name = ?", name).Scan(&n.ID, &n.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting namespace: %w", err)
	}
	return &n, nil
}

func (s *SQLiteStore) ListNamespaces() ([]models.Namespace, error) {
	return s.queryNamespaces("listing namespaces", "SELECT id, name FROM namespaces ORDER BY name")
}

func (s *SQLiteStore) SearchNamespaces(query string) ([]models.Namespace, error) {
	return s.queryNamespaces("searching namespaces",
		"SELECT id, name FROM namespaces WHERE name LIKE ? ORDER BY name", "%"+query+"%")
}

func (s *SQLiteStore) PutFile(namespaceID int64, path, hash string, size int64, overwrite bool) (*models.File, error) {
	now := time.Now().UTC()

	stmt := "INSERT INTO files (namespace_id, path, content_hash, size, revision, updated_at) VALUES (?, ?, ?, ?, 1, ?)"
	if overwrite {
		stmt += ` ON CONFLICT(namespace_id, path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size = excluded.size,
			revision = files.revision + 1,
			updated_at = excluded.updated_at`
	}

	if _, err := s.db.Exec(stmt, namespaceID, path, hash, size, now); err != nil {
		if isUniqueConstraint(err) {
			return nil, fmt.Errorf("%w: file %s already exists", services.ErrConflict, path)
		}
		return nil, fmt.Errorf("storing file: %w", err)
	}

	f, err := scanFile(s.db.QueryRow("SELECT "+fileColumns+" WHERE f.namespace_id = ? AND f.path = ?", namespaceID, path))
	if err != nil {
		return nil, fmt.Errorf("reading stored file: %w", err)
	}
	return &f, nil
}

func (s *SQLiteStore) GetFile(namespace, path string) (*models.File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileColumns+" WHERE n.name = ? AND f.path = ?", namespace, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}
	return &f, nil
}

func (s *SQLiteStore) ListFiles(namespace string) ([]models.File, error) {
	return s.queryFiles("listing files", "SELECT "+fileColumns+" WHERE n.name = ? ORDER BY f.path", namespace)
}

func (s *SQLiteStore) FilesByHash(hash string) ([]models.File, error) {
	return s.queryFiles("listing files by hash",
		"SELECT "+fileColumns+" WHERE f.content_hash = ? ORDER BY n.name, f.path", hash)
}

func (s *SQLiteStore) DeleteFile(namespace, path string) error {
	result, err := s.db.Exec(`
		DELETE FROM files WHERE namespace_id = (
			SELECT id FROM namespaces WHERE name = ?
		) AND path = ?
	`, namespace, path)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: file %s/%s", services.ErrNotFound, namespace, path)
	}
	return nil
}

func (s *SQLiteStore) ReferencedHashes() (map[string]bool, error) {
	rows, err := s.db.Query("SELECT DISTINCT content_hash FROM files")
	if err != nil {
		return nil, fmt.Errorf("querying referenced hashes: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]bool)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scanning hash: %w", err)
		}
		refs[h] = true
	}
	return refs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
