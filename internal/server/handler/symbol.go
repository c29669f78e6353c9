package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// SymbolManager reads and replaces the monitored set.
type SymbolManager interface {
	Symbols() []string
	Replace(ctx context.Context, symbols []string) ([]string, error)
}

// SymbolHandler serves the monitored symbol set.
type SymbolHandler struct {
	symbols SymbolManager
	logger  *slog.Logger
}

// NewSymbolHandler creates a SymbolHandler.
func NewSymbolHandler(symbols SymbolManager, logger *slog.Logger) *SymbolHandler {
	return &SymbolHandler{symbols: symbols, logger: logHandler(logger, "symbols")}
}

type symbolsBody struct {
	Symbols []string `json:"symbols"`
}

// List returns the monitored symbols.
// GET /api/symbols
func (h *SymbolHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, symbolsBody{Symbols: h.symbols.Symbols()})
}

// Replace swaps the monitored set and resubscribes the stream.
// PUT /api/symbols {"symbols":["BTCUSDT","ETHUSDT","ETHBTC"]}
func (h *SymbolHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var body symbolsBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	applied, err := h.symbols.Replace(r.Context(), body.Symbols)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to replace symbols", err)
		return
	}
	h.logger.InfoContext(r.Context(), "symbols replaced via api", slog.Int("count", len(applied)))
	writeJSON(w, http.StatusOK, symbolsBody{Symbols: applied})
}
