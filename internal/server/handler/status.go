package handler

import (
	"net/http"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// StatusSource builds the engine status snapshot.
type StatusSource interface {
	Status() domain.EngineStatus
}

// StatusHandler serves the engine status for dashboards.
type StatusHandler struct {
	status StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(status StatusSource) *StatusHandler {
	return &StatusHandler{status: status}
}

// GetStatus responds with stream, detector and client state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}
