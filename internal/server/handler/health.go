package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// StreamStateSource reports the market data connection state.
type StreamStateSource interface {
	State() domain.StreamState
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	stream StreamStateSource
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. stream may be nil.
func NewHealthHandler(stream StreamStateSource, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{stream: stream, logger: logHandler(logger, "health")}
}

// HealthCheck responds with a simple JSON status indicating the server is
// alive. A failed stream turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.stream != nil {
		state := h.stream.State()
		body["stream"] = state
		if state == domain.StreamFailed {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}
