package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// OpportunityReader defines what the opportunity handler needs from the
// service layer.
type OpportunityReader interface {
	Recent(limit int) []domain.Opportunity
	History(ctx context.Context, opts domain.ListOpts) ([]domain.Opportunity, error)
	HasHistory() bool
	Summary(ctx context.Context) domain.OpportunityStats
}

// StreamReader reads the durable opportunity stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// OpportunityHandler serves detected opportunities.
type OpportunityHandler struct {
	opps   OpportunityReader
	stream StreamReader
	max    int
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler. max caps ?limit= on
// the in-memory list. stream may be nil.
func NewOpportunityHandler(opps OpportunityReader, stream StreamReader, max int, logger *slog.Logger) *OpportunityHandler {
	if max <= 0 {
		max = 50
	}
	return &OpportunityHandler{opps: opps, stream: stream, max: max, logger: logHandler(logger, "opportunities")}
}

type listOpportunitiesResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
	Count         int                  `json:"count"`
}

// ListRecent returns the most recent opportunities, newest first.
// GET /api/opportunities?limit=50
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opps := h.opps.Recent(parseLimit(r, h.max, h.max))
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: opps, Count: len(opps)})
}

// Stats returns today's summary.
// GET /api/opportunities/stats
func (h *OpportunityHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.opps.Summary(r.Context()))
}

// History pages through persisted opportunities.
// GET /api/opportunities/history?since=2024-01-01&limit=100&offset=0
func (h *OpportunityHandler) History(w http.ResponseWriter, r *http.Request) {
	if !h.opps.HasHistory() {
		writeError(w, http.StatusNotImplemented, "opportunity history not configured")
		return
	}
	opts := parseListOpts(r)
	opps, err := h.opps.History(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to list opportunity history", err)
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": opps,
		"limit":         opts.Limit,
		"offset":        opts.Offset,
	})
}

type streamEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// Stream reads the durable opportunity stream after ?after= (exclusive).
// Clients pass the last returned id to resume.
// GET /api/opportunities/stream?after=0-0&limit=100
func (h *OpportunityHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusNotImplemented, "opportunity stream not configured")
		return
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0-0"
	}
	msgs, err := h.stream.StreamRead(r.Context(), domain.StreamOpportunities, after, parseLimit(r, 100, 1000))
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to read opportunity stream", err)
		return
	}

	out := make([]streamEntry, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, streamEntry{ID: m.ID, Event: m.Payload})
	}
	last := after
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out, "last_id": last})
}
