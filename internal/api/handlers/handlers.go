package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/foundry/contentsync/internal/core/models"
	"github.com/foundry/contentsync/internal/core/services"
	"github.com/foundry/contentsync/internal/util/hashing"
	"github.com/foundry/contentsync/internal/util/logging"
)

// ContentHashHeader carries a file's content hash on uploads and downloads.
const ContentHashHeader = "X-Content-Hash"

const defaultVerifyWorkers = 4

// Handler holds all HTTP handlers and their dependencies.
type Handler struct {
	blobs         services.BlobStorage
	meta          services.MetadataStore
	auth          services.Authenticator
	logger        zerolog.Logger
	verifyWorkers int
	locksMu       sync.Mutex
	writeLocks    map[string]*pathLock

	// gcMu is held shared by uploads while they store a blob and record
	// the file that references it, and exclusively by gc.
	gcMu sync.RWMutex
}

// Option configures a Handler.
type Option func(*Handler)

// WithVerifyWorkers bounds how many blobs a verify run hashes at once.
func WithVerifyWorkers(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.verifyWorkers = n
		}
	}
}

// New creates a new Handler with the given dependencies.
func New(blobs services.BlobStorage, meta services.MetadataStore, auth services.Authenticator, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		blobs:         blobs,
		meta:          meta,
		auth:          auth,
		logger:        logger,
		verifyWorkers: defaultVerifyWorkers,
		writeLocks:    make(map[string]*pathLock),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestIDMiddleware)
	r.Use(h.loggingMiddleware)
	r.Use(h.authMiddleware)

	r.Put("/api/v1/files/{namespace}/*", h.UploadFile)
	r.Get("/api/v1/files/{namespace}/*", h.DownloadFile)
	r.Delete("/api/v1/files/{namespace}/*", h.DeleteFile)
	r.Get("/api/v1/namespaces", h.ListNamespaces)
	r.Get("/api/v1/namespaces/{namespace}", h.GetNamespace)
	r.Get("/api/v1/blobs/{hash}", h.GetBlob)
	r.Post("/api/v1/gc", h.GarbageCollect)
	r.Post("/api/v1/verify", h.Verify)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// requestIDMiddleware adds a unique request ID to each request.
func (h *Handler) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ctx := logging.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each request.
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logging.LogRequest(h.logger, r.Context(), r.Method, r.URL.Path, rw.status, rw.written, time.Since(start))
	})
}

// authMiddleware validates the bearer token.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if !h.auth.ValidateToken(token) {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UploadFile handles PUT /api/v1/files/{namespace}/*
//
// The request body becomes the file's content. When the client sends
// X-Content-Hash the stored content must hash to that value. With
// ?mode=add an existing path is left alone and 409 is returned.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logging.FromContext(r.Context(), h.logger)

	ns, filePath, ok := fileParams(w, r)
	if !ok {
		return
	}

	overwrite := true
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", "overwrite":
	case "add":
		overwrite = false
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", mode))
		return
	}

	var expected string
	if v := strings.TrimSpace(r.Header.Get(ContentHashHeader)); v != "" {
		sum, err := hashing.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed "+ContentHashHeader+" header: "+err.Error())
			return
		}
		expected = hashing.Format(sum)
	}

	unlock := h.lockPath(ns, filePath)
	defer unlock()

	if !overwrite {
		existing, err := h.meta.GetFile(ns, filePath)
		if err != nil {
			log.Error().Err(err).Msg("checking existing file")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if existing != nil {
			writeError(w, http.StatusConflict, fmt.Sprintf("file %s/%s already exists", ns, filePath))
			return
		}
	}

	h.gcMu.RLock()
	defer h.gcMu.RUnlock()

	hash, size, err := h.blobs.Store(r.Body)
	if err != nil {
		log.Error().Err(err).Msg("storing blob")
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	log.Debug().
		Str("namespace", ns).
		Str("path", filePath).
		Str("content_hash", hash).
		Int64("size", size).
		Msg("blob stored")

	if expected != "" && expected != hash {
		// The blob stays on disk unreferenced until the next gc run.
		log.Warn().
			Str("namespace", ns).
			Str("path", filePath).
			Str("expected", expected).
			Str("content_hash", hash).
			Msg("upload content hash mismatch")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: expected %s, got %s", services.ErrHashMismatch, expected, hash))
		return
	}

	nsID, err := h.meta.CreateNamespace(ns)
	if err != nil {
		log.Error().Err(err).Msg("creating namespace")
		writeError(w, http.StatusInternalServerError, "failed to create namespace")
		return
	}

	file, err := h.meta.PutFile(nsID, filePath, hash, size, overwrite)
	if err != nil {
		if errors.Is(err, services.ErrConflict) {
			writeError(w, http.StatusConflict, fmt.Sprintf("file %s/%s already exists", ns, filePath))
			return
		}
		log.Error().Err(err).Msg("storing file metadata")
		writeError(w, http.StatusInternalServerError, "failed to store file metadata")
		return
	}

	log.Info().
		Str("namespace", ns).
		Str("path", filePath).
		Str("content_hash", file.ContentHash).
		Int64("size", file.Size).
		Int64("revision", file.Revision).
		Dur("upload_latency", time.Since(start)).
		Msg("file upload completed")

	writeJSON(w, http.StatusCreated, models.UploadResponse{
		Namespace:   ns,
		Path:        filePath,
		ContentHash: file.ContentHash,
		Size:        file.Size,
		Revision:    file.Revision,
		UpdatedAt:   file.UpdatedAt.Format(time.RFC3339),
	})
}

// DownloadFile handles GET /api/v1/files/{namespace}/*
func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), h.logger)

	ns, filePath, ok := fileParams(w, r)
	if !ok {
		return
	}

	file, err := h.meta.GetFile(ns, filePath)
	if err != nil {
		log.Error().Err(err).Msg("getting file")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if file == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("file %s/%s not found", ns, filePath))
		return
	}

	reader, err := h.blobs.Open(file.ContentHash)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file blob missing on disk")
			return
		}
		log.Error().Err(err).Str("content_hash", file.ContentHash).Msg("opening blob")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", file.Size))
	w.Header().Set(ContentHashHeader, file.ContentHash)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(file.Path)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		log.Error().
			Err(err).
			Str("namespace", ns).
			Str("path", filePath).
			Msg("streaming file response")
	}
}

// DeleteFile handles DELETE /api/v1/files/{namespace}/*
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	ns, filePath, ok := fileParams(w, r)
	if !ok {
		return
	}

	unlock := h.lockPath(ns, filePath)
	defer unlock()

	if err := h.meta.DeleteFile(ns, filePath); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("deleting file")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListNamespaces handles GET /api/v1/namespaces
func (h *Handler) ListNamespaces(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("search")

	var namespaces []models.Namespace
	var err error
	if query != "" {
		namespaces, err = h.meta.SearchNamespaces(query)
	} else {
		namespaces, err = h.meta.ListNamespaces()
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("listing namespaces")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if namespaces == nil {
		namespaces = []models.Namespace{}
	}
	writeJSON(w, http.StatusOK, namespaces)
}

// GetNamespace handles GET /api/v1/namespaces/{namespace}
func (h *Handler) GetNamespace(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "namespace")

	ns, err := h.meta.GetNamespace(name)
	if err != nil {
		h.logger.Error().Err(err).Msg("getting namespace")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ns == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("namespace %s not found", name))
		return
	}

	files, err := h.meta.ListFiles(name)
	if err != nil {
		h.logger.Error().Err(err).Msg("listing files")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if files == nil {
		files = []models.File{}
	}
	writeJSON(w, http.StatusOK, models.NamespaceInfo{
		Name:  ns.Name,
		Files: files,
	})
}

// GetBlob handles GET /api/v1/blobs/{hash}
func (h *Handler) GetBlob(w http.ResponseWriter, r *http.Request) {
	sum, err := hashing.Parse(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed content hash: "+err.Error())
		return
	}
	hash := hashing.Format(sum)

	size, err := h.blobs.Stat(hash)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("blob %s not found", hash))
			return
		}
		h.logger.Error().Err(err).Str("content_hash", hash).Msg("stat blob")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	refs, err := h.meta.FilesByHash(hash)
	if err != nil {
		h.logger.Error().Err(err).Msg("listing blob references")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if refs == nil {
		refs = []models.File{}
	}

	writeJSON(w, http.StatusOK, models.BlobInfo{
		ContentHash: hash,
		Size:        size,
		References:  refs,
	})
}

// GarbageCollect handles POST /api/v1/gc
func (h *Handler) GarbageCollect(w http.ResponseWriter, r *http.Request) {
	h.gcMu.Lock()
	defer h.gcMu.Unlock()

	referenced, err := h.meta.ReferencedHashes()
	if err != nil {
		h.logger.Error().Err(err).Msg("getting referenced hashes")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	blobs, err := h.blobs.ListBlobs()
	if err != nil {
		h.logger.Error().Err(err).Msg("listing blobs")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var deleted int
	var freed int64
	for _, hash := range blobs {
		if referenced[hash] {
			continue
		}

		size, statErr := h.blobs.Stat(hash)
		if err := h.blobs.Delete(hash); err != nil {
			h.logger.Error().Err(err).Str("content_hash", hash).Msg("deleting unreferenced blob")
			continue
		}
		if statErr == nil {
			freed += size
		}
		deleted++
		h.logger.Info().Str("content_hash", hash).Msg("garbage collected blob")
	}

	writeJSON(w, http.StatusOK, models.GCResult{
		DeletedBlobs: deleted,
		FreedBytes:   freed,
	})
}

// Helper functions

// fileParams extracts and cleans the namespace and file path of a
// /files/ route. It writes a 400 and returns false when either is unusable.
func fileParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	ns := chi.URLParam(r, "namespace")
	raw := chi.URLParam(r, "*")
	if ns == "" || raw == "" {
		writeError(w, http.StatusBadRequest, "namespace and path are required")
		return "", "", false
	}

	cleaned := strings.TrimPrefix(path.Clean("/"+raw), "/")
	if cleaned == "" || cleaned != strings.TrimSuffix(raw, "/") {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid path %q", raw))
		return "", "", false
	}
	return ns, cleaned, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Message: msg,
	})
}

// responseWriter wraps http.ResponseWriter to capture status and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// lockPath serializes writers to one namespace path.
func (h *Handler) lockPath(ns, filePath string) func() {
	key := ns + "/" + filePath
	h.locksMu.Lock()
	lock, ok := h.writeLocks[key]
	if !ok {
		lock = &pathLock{}
		h.writeLocks[key] = lock
	}
	lock.refs++
	h.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		h.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(h.writeLocks, key)
		}
		h.locksMu.Unlock()
	}
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}
