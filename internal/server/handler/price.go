package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/prices"
)

// PriceReader is the read side of the price store.
type PriceReader interface {
	Snapshot() prices.Snapshot
	Get(symbol string) (domain.PriceSample, bool)
	History(symbol string, limit int) []domain.PriceSample
	IsMonitored(symbol string) bool
}

// PriceTapper hands out live sample feeds.
type PriceTapper interface {
	Tap(buffer int) (<-chan domain.PriceSample, func())
}

// sseKeepAlive is how often an idle event stream gets a comment line.
const sseKeepAlive = 15 * time.Second

// PriceHandler serves latest prices, per-symbol history and a live
// server-sent event stream.
type PriceHandler struct {
	store  PriceReader
	tapper PriceTapper
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler. tapper may be nil, in which case
// the SSE endpoint answers 503.
func NewPriceHandler(store PriceReader, tapper PriceTapper, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{store: store, tapper: tapper, logger: logHandler(logger, "prices")}
}

type listPricesResponse struct {
	Prices   []domain.PriceSample `json:"prices"`
	Count    int                  `json:"count"`
	Interval string               `json:"interval"`
	TakenAt  time.Time            `json:"taken_at"`
}

// ListPrices returns the latest sample for every priced symbol, sorted by
// symbol.
// GET /api/prices
func (h *PriceHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	out := make([]domain.PriceSample, 0, len(snap.Samples))
	for _, s := range snap.Samples {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })

	writeJSON(w, http.StatusOK, listPricesResponse{
		Prices:   out,
		Count:    len(out),
		Interval: snap.Interval,
		TakenAt:  snap.TakenAt,
	})
}

type priceResponse struct {
	Latest  domain.PriceSample   `json:"latest"`
	History []domain.PriceSample `json:"history"`
}

// GetPrice returns the latest sample and recent history for one symbol.
// GET /api/prices/{symbol}?limit=100
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}
	if !h.store.IsMonitored(symbol) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s is not monitored", symbol))
		return
	}
	latest, ok := h.store.Get(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no price for %s yet", symbol))
		return
	}
	history := h.store.History(symbol, parseLimit(r, 100, 1000))
	if history == nil {
		history = []domain.PriceSample{}
	}
	writeJSON(w, http.StatusOK, priceResponse{Latest: latest, History: history})
}

// StreamPrices pushes every stored sample as a server-sent event until the
// client goes away. ?symbols=BTCUSDT,ETHUSDT narrows the feed.
// GET /api/stream/prices
func (h *PriceHandler) StreamPrices(w http.ResponseWriter, r *http.Request) {
	if h.tapper == nil {
		writeError(w, http.StatusServiceUnavailable, "price stream not available")
		return
	}
	rc := http.NewResponseController(w)

	filter := map[string]bool{}
	for _, s := range prices.Normalize(splitCSV(r.URL.Query().Get("symbols"))) {
		filter[s] = true
	}

	tap, cancel := h.tapper.Tap(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.WarnContext(r.Context(), "sse flush unsupported", slog.String("error", err.Error()))
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case s, ok := <-tap:
			if !ok {
				return
			}
			if len(filter) > 0 && !filter[s.Symbol] {
				continue
			}
			data, err := json.Marshal(s)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", domain.EventPrice, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}
