package models

import "time"

type Namespace struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// File is one path in a namespace pointing at a stored blob.
type File struct {
	ID          int64     `json:"id"`
	NamespaceID int64     `json:"namespace_id"`
	Namespace   string    `json:"namespace"`
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	Revision    int64     `json:"revision"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type NamespaceInfo struct {
	Name  string `json:"name"`
	Files []File `json:"files"`
}

type BlobInfo struct {
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
	References  []File `json:"references"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type UploadResponse struct {
	Namespace   string `json:"namespace"`
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
	Revision    int64  `json:"revision"`
	UpdatedAt   string `json:"updated_at"`
}

type GCResult struct {
	DeletedBlobs int   `json:"deleted_blobs"`
	FreedBytes   int64 `json:"freed_bytes"`
}

type VerifyResult struct {
	Checked int      `json:"checked"`
	Corrupt []string `json:"corrupt"`
}
