package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// AuditReader lists audit entries.
type AuditReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	ListByEvent(ctx context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit log.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

// List returns audit entries, newest first.
// GET /api/audit?event=symbols.updated&limit=50
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		entries []domain.AuditEntry
		err     error
	)
	if event := r.URL.Query().Get("event"); event != "" {
		entries, err = h.audit.ListByEvent(r.Context(), event, opts)
	} else {
		entries, err = h.audit.List(r.Context(), opts)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to list audit log", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
