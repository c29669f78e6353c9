package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/triarb/internal/domain"
)

const archivePrefix = "archive/"

// ArchiveHandler lists and downloads archived opportunity files.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logHandler(logger, "archives")}
}

// List returns archive objects, optionally narrowed by ?kind=trade_log.
// GET /api/archives
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := archivePrefix
	if kind := r.URL.Query().Get("kind"); kind != "" {
		prefix += strings.Trim(kind, "/") + "/"
	}
	files, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to list archives", err)
		return
	}
	if files == nil {
		files = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// Get streams one archive object.
// GET /api/archives/{path...}
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if path == "" || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}
	key := archivePrefix + strings.TrimPrefix(path, archivePrefix)

	body, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		writeDomainError(w, r, h.logger, "failed to read archive", err)
		return
	}
	defer body.Close()

	ct := "application/octet-stream"
	switch {
	case strings.HasSuffix(key, ".jsonl"):
		ct = "application/x-ndjson"
	case strings.HasSuffix(key, ".csv"):
		ct = "text/csv"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive download interrupted",
			slog.String("path", key),
			slog.String("error", err.Error()),
		)
	}
}
