package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/oplog"
	"github.com/alanyoungcy/triarb/internal/prices"
	"github.com/alanyoungcy/triarb/internal/server/handler"
	"github.com/alanyoungcy/triarb/internal/service"
)

type fixedStatus struct{ st domain.EngineStatus }

func (f fixedStatus) Status() domain.EngineStatus { return f.st }
func (f fixedStatus) State() domain.StreamState  { return f.st.StreamState }

type chanTapper struct{ ch chan domain.PriceSample }

func (c chanTapper) Tap(int) (<-chan domain.PriceSample, func()) { return c.ch, func() {} }

type denyLimiter struct{ allow bool }

func (d denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return d.allow, nil
}

func (d denyLimiter) Wait(context.Context, string) error { return nil }

type missingBlobs struct{}

func (missingBlobs) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, domain.ErrNotFound
}

func (missingBlobs) List(context.Context, string) ([]domain.BlobInfo, error) {
	return []domain.BlobInfo{{Path: "archive/opportunities/2024-01/x.jsonl"}}, nil
}

func (missingBlobs) Exists(context.Context, string) (bool, error) { return false, nil }

type fixture struct {
	store *prices.Store
	log   *oplog.Log
	tap   chan domain.PriceSample
}

func newTestRouter(t *testing.T, cfg Config, limiter domain.RateLimiter) (http.Handler, *fixture) {
	t.Helper()
	f := &fixture{
		store: prices.NewStore([]string{"BTCUSDT", "ETHUSDT", "ETHBTC"}, "1m", 10),
		log:   oplog.New(100, oplog.DropOldest),
		tap:   make(chan domain.PriceSample, 4),
	}
	s, err := domain.NewPriceSample("BTCUSDT", decimal.NewFromInt(50000), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Set(s); err != nil {
		t.Fatal(err)
	}

	status := fixedStatus{st: domain.EngineStatus{Mode: "serve", StreamState: domain.StreamConnected}}
	opps := service.NewOpportunityService(f.log, service.OpportunityDeps{}, nil)
	syms := service.NewSymbolService(f.store, nil, nil, nil)

	h := NewRouter(cfg, Handlers{
		Health:        handler.NewHealthHandler(status, nil),
		Status:        handler.NewStatusHandler(status),
		Prices:        handler.NewPriceHandler(f.store, chanTapper{ch: f.tap}, nil),
		Opportunities: handler.NewOpportunityHandler(opps, nil, 50, nil),
		Symbols:       handler.NewSymbolHandler(syms, nil),
		Archives:      handler.NewArchiveHandler(missingBlobs{}, nil),
	}, nil, limiter, nil)
	return h, f
}

func do(h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndStatus(t *testing.T) {
	h, _ := newTestRouter(t, Config{}, nil)

	rec := do(h, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"stream":"connected"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body)
	}

	rec = do(h, http.MethodGet, "/api/status", "", nil)
	var st domain.EngineStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Mode != "serve" || st.StreamState != domain.StreamConnected {
		t.Fatalf("status = %+v", st)
	}
}

func TestPrices(t *testing.T) {
	h, _ := newTestRouter(t, Config{}, nil)

	rec := do(h, http.MethodGet, "/api/prices", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("list = %d %s", rec.Code, rec.Body)
	}

	if rec := do(h, http.MethodGet, "/api/prices/btcusdt", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("get = %d %s", rec.Code, rec.Body)
	}
	if rec := do(h, http.MethodGet, "/api/prices/ETHUSDT", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unpriced = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/prices/DOGEUSDT", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unmonitored = %d", rec.Code)
	}
}

func TestOpportunitiesLimitIsCapped(t *testing.T) {
	h, f := newTestRouter(t, Config{}, nil)
	for i := 0; i < 60; i++ {
		f.log.Record(domain.Opportunity{ID: string(rune('a' + i%26)), ProfitPercentage: float64(i)})
	}

	var body struct {
		Count int `json:"count"`
	}
	for _, tc := range []struct {
		query string
		want  int
	}{
		{"", 50},
		{"?limit=5", 5},
		{"?limit=500", 50},
		{"?limit=bogus", 50},
	} {
		rec := do(h, http.MethodGet, "/api/opportunities"+tc.query, "", nil)
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Count != tc.want {
			t.Errorf("%q: count = %d, want %d", tc.query, body.Count, tc.want)
		}
	}

	if rec := do(h, http.MethodGet, "/api/opportunities/history", "", nil); rec.Code != http.StatusNotImplemented {
		t.Errorf("history without store = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/opportunities/stream", "", nil); rec.Code != http.StatusNotImplemented {
		t.Errorf("stream without redis = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/opportunities/stats", "", nil); !strings.Contains(rec.Body.String(), `"retained":60`) {
		t.Errorf("stats = %s", rec.Body)
	}
}

func TestSymbolsReplaceRequiresKey(t *testing.T) {
	h, f := newTestRouter(t, Config{APIKey: "secret"}, nil)

	if rec := do(h, http.MethodGet, "/api/symbols", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("GET symbols = %d", rec.Code)
	}

	body := `{"symbols":["btcusdt","solusdt","solbtc"]}`
	if rec := do(h, http.MethodPut, "/api/symbols", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("PUT without key = %d", rec.Code)
	}

	rec := do(h, http.MethodPut, "/api/symbols", body, map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT = %d %s", rec.Code, rec.Body)
	}
	if got := f.store.Symbols(); len(got) != 3 || got[1] != "SOLBTC" {
		t.Fatalf("store symbols = %v", got)
	}

	rec = do(h, http.MethodPut, "/api/symbols", `{"symbols":[]}`, map[string]string{"X-API-Key": "secret"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty PUT = %d", rec.Code)
	}
	rec = do(h, http.MethodPut, "/api/symbols", `not json`, map[string]string{"X-API-Key": "secret"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body = %d", rec.Code)
	}
}

func TestRateLimitAndCORS(t *testing.T) {
	h, _ := newTestRouter(t, Config{RateLimit: 1, RateWindow: time.Minute, CORSOrigins: []string{"http://app"}}, denyLimiter{})

	if rec := do(h, http.MethodGet, "/api/status", "", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("limited = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health limited = %d", rec.Code)
	}

	h, _ = newTestRouter(t, Config{CORSOrigins: []string{"http://app"}}, nil)
	rec := do(h, http.MethodOptions, "/api/symbols", "", map[string]string{
		"Origin":                        "http://app",
		"Access-Control-Request-Method": http.MethodPut,
	})
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://app" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}
	rec = do(h, http.MethodGet, "/api/health", "", map[string]string{"Origin": "http://evil"})
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("disallowed origin echoed")
	}
}

func TestArchives(t *testing.T) {
	h, _ := newTestRouter(t, Config{}, nil)
	if rec := do(h, http.MethodGet, "/api/archives", "", nil); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "x.jsonl") {
		t.Fatalf("list = %d %s", rec.Code, rec.Body)
	}
	if rec := do(h, http.MethodGet, "/api/archives/opportunities/2024-01/missing.jsonl", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing = %d", rec.Code)
	}
}

func TestPriceEventStream(t *testing.T) {
	h, f := newTestRouter(t, Config{}, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream/prices?symbols=ethusdt", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	btc, _ := domain.NewPriceSample("BTCUSDT", decimal.NewFromInt(1), time.Now())
	eth, _ := domain.NewPriceSample("ETHUSDT", decimal.NewFromInt(3000), time.Now())
	f.tap <- btc
	f.tap <- eth

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		if !strings.Contains(line, `"symbol":"ETHUSDT"`) {
			t.Fatalf("unfiltered event: %s", line)
		}
		return
	}
	t.Fatalf("stream ended: %v", sc.Err())
}
