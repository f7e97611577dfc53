package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// ArchiveHandler lists and serves archived JSONL files.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	prefix func() string
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. prefix returns the key prefix
// of the active chain's archive; blobs may be nil when S3 is disabled.
func NewArchiveHandler(blobs domain.BlobReader, prefix func() string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, prefix: prefix, logger: logger}
}

// ListArchives returns archive objects, optionally narrowed by kind.
// GET /api/archives?kind=markets
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is not enabled")
		return
	}
	prefix := h.prefix()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		prefix += kind + "/"
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to list archives")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "archives": infos})
}

// GetArchive streams one archive file.
// GET /api/archives/{path...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is not enabled")
		return
	}
	path, ok := archivePath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}
	body, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		writeServiceError(w, r, h.logger, "get archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted", slog.String("error", err.Error()))
	}
}

// HeadArchive reports whether an archive file exists without reading it.
// HEAD /api/archives/{path...}
func (h *ArchiveHandler) HeadArchive(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	path, ok := archivePath(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	found, err := h.blobs.Exists(r.Context(), path)
	switch {
	case err != nil:
		h.logger.ErrorContext(r.Context(), "handler: head archive failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadGateway)
	case !found:
		w.WriteHeader(http.StatusNotFound)
	default:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}

func archivePath(r *http.Request) (string, bool) {
	path := r.PathValue("path")
	if !strings.HasPrefix(path, "archive/") || strings.Contains(path, "..") {
		return "", false
	}
	return path, true
}
