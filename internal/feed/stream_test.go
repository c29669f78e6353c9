package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/prices"
)

func mustDec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func klineFrame(symbol, close string) []byte {
	return []byte(fmt.Sprintf(
		`{"stream":"%s@kline_1m","data":{"e":"kline","E":%d,"s":"%s","k":{"i":"1m","o":"%s","h":"%s","l":"%s","c":"%s","v":"1","x":false}}}`,
		strings.ToLower(symbol), time.Now().UnixMilli(), symbol, close, close, close, close,
	))
}

// wsServer upgrades every request and hands the socket to serve. It returns
// the ws:// URL of the combined-stream endpoint.
func wsServer(t *testing.T, serve func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

// holdOpen blocks until the client goes away.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig(url string) StreamConfig {
	return StreamConfig{
		URL:                    url,
		InitialBackoff:         5 * time.Millisecond,
		MaxBackoff:             20 * time.Millisecond,
		MaxConsecutiveFailures: 3,
		HandshakeTimeout:       time.Second,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStreamWritesStoreAndTaps(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
		_ = conn.WriteMessage(websocket.TextMessage, klineFrame("DOGEUSDT", "0.1"))
		_ = conn.WriteMessage(websocket.TextMessage, klineFrame("BTCUSDT", "37000.5"))
		holdOpen(conn)
	})

	store := prices.NewStore([]string{"BTCUSDT"}, "1m", 0)
	sc := NewStreamConnection(store, testConfig(url))
	tap, cancelTap := sc.Tap(8)
	defer cancelTap()

	if err := sc.Start(context.Background(), []string{"btcusdt"}, "1m"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sc.Stop()

	select {
	case s := <-tap:
		if s.Symbol != "BTCUSDT" || s.Price.String() != "37000.5" {
			t.Fatalf("tap got %s %s", s.Symbol, s.Price)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no sample on tap")
	}

	got, ok := store.Get("BTCUSDT")
	if !ok || got.Price.String() != "37000.5" {
		t.Fatalf("store.Get = %v, %v", got.Price, ok)
	}
	if _, ok := store.Get("DOGEUSDT"); ok {
		t.Fatal("unmonitored symbol reached the store")
	}
	if sc.Malformed() < 1 {
		t.Errorf("Malformed = %d, want >= 1", sc.Malformed())
	}
	if sc.State() != domain.StreamConnected {
		t.Errorf("State = %s, want connected", sc.State())
	}
}

func TestStreamStopIsIdempotentAndPrompt(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) { holdOpen(conn) })

	store := prices.NewStore([]string{"BTCUSDT"}, "1m", 0)
	sc := NewStreamConnection(store, testConfig(url))
	if err := sc.Start(context.Background(), []string{"BTCUSDT"}, "1m"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "connected", func() bool { return sc.State() == domain.StreamConnected })

	stopped := make(chan struct{})
	go func() {
		sc.Stop()
		sc.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on an idle socket")
	}

	if sc.IsRunning() {
		t.Fatal("IsRunning after Stop")
	}
	if sc.State() != domain.StreamDisconnected {
		t.Fatalf("State = %s, want disconnected", sc.State())
	}
}

func TestStreamFatalAfterRetryBudget(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var statusMu sync.Mutex
	var states []domain.StreamState
	cfg := testConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.OnStatus = func(st domain.StreamStatus) {
		statusMu.Lock()
		states = append(states, st.State)
		statusMu.Unlock()
	}

	sc := NewStreamConnection(prices.NewStore([]string{"BTCUSDT"}, "1m", 0), cfg)
	if err := sc.Start(context.Background(), []string{"BTCUSDT"}, "1m"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-sc.Fatal():
		if !errors.Is(err, domain.ErrRetryBudgetExhausted) {
			t.Fatalf("fatal err = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no fatal error")
	}

	waitFor(t, "supervisor exit", func() bool { return !sc.IsRunning() })
	if sc.State() != domain.StreamFailed {
		t.Fatalf("State = %s, want failed", sc.State())
	}

	select {
	case err := <-sc.Fatal():
		t.Fatalf("second fatal error: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}

	statusMu.Lock()
	defer statusMu.Unlock()
	if states[len(states)-1] != domain.StreamFailed {
		t.Fatalf("last published state = %s", states[len(states)-1])
	}
	sc.Stop()
}

func TestStreamReconnectsAfterDrop(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, klineFrame("BTCUSDT", "1"))
		// Drop the connection right away.
	})

	store := prices.NewStore([]string{"BTCUSDT"}, "1m", 0)
	sc := NewStreamConnection(store, testConfig(url))
	if err := sc.Start(context.Background(), []string{"BTCUSDT"}, "1m"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sc.Stop()

	waitFor(t, "reconnects", func() bool { return sc.Reconnects() >= 3 })

	// Every connection delivered a sample, so none counted as a failure.
	select {
	case err := <-sc.Fatal():
		t.Fatalf("unexpected fatal: %v", err)
	default:
	}
}

func TestStreamFatalWhenConnectionsDeliverNothing(t *testing.T) {
	// Accept the handshake, then drop the socket without sending a frame.
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) {})

	sc := NewStreamConnection(prices.NewStore([]string{"BTCUSDT"}, "1m", 0), testConfig(url))
	if err := sc.Start(context.Background(), []string{"BTCUSDT"}, "1m"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sc.Stop()

	select {
	case err := <-sc.Fatal():
		if !errors.Is(err, domain.ErrRetryBudgetExhausted) {
			t.Fatalf("fatal err = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no fatal error after %d empty connections", sc.Reconnects()+1)
	}
	if sc.Ticks() != 0 {
		t.Fatalf("Ticks = %d, want 0", sc.Ticks())
	}
	waitFor(t, "supervisor exit", func() bool { return !sc.IsRunning() })
	if sc.State() != domain.StreamFailed {
		t.Fatalf("State = %s, want failed", sc.State())
	}
}

func TestStreamRecoversBelowRetryBudget(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		// Budget is 3: reject two handshakes, accept the third.
		if n < 3 {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, klineFrame("BTCUSDT", "42000"))
		holdOpen(conn)
	}))
	defer srv.Close()

	store := prices.NewStore([]string{"BTCUSDT"}, "1m", 0)
	sc := NewStreamConnection(store, testConfig("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err := sc.Start(context.Background(), []string{"BTCUSDT"}, "1m"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sc.Stop()

	waitFor(t, "tick after recovery", func() bool { return sc.Ticks() >= 1 })
	if sc.State() != domain.StreamConnected {
		t.Fatalf("State = %s, want connected", sc.State())
	}
	if !sc.IsRunning() {
		t.Fatal("not running after recovery")
	}

	select {
	case err := <-sc.Fatal():
		t.Fatalf("unexpected fatal: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestStreamUpdateSymbolsResubscribes(t *testing.T) {
	queries := make(chan string, 8)
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		queries <- r.URL.Query().Get("streams")
		holdOpen(conn)
	})

	store := prices.NewStore([]string{"BTCUSDT", "ETHUSDT"}, "1m", 0)
	sc := NewStreamConnection(store, testConfig(url))
	if err := sc.Start(context.Background(), []string{"BTCUSDT"}, "1m"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sc.Stop()

	if q := <-queries; q != "btcusdt@kline_1m" {
		t.Fatalf("first subscription = %q", q)
	}

	if err := sc.UpdateSymbols(context.Background(), []string{"ethusdt", "BTCUSDT"}); err != nil {
		t.Fatalf("UpdateSymbols: %v", err)
	}
	select {
	case q := <-queries:
		if q != "btcusdt@kline_1m/ethusdt@kline_1m" {
			t.Fatalf("second subscription = %q", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no resubscription")
	}

	if got := sc.Symbols(); len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Fatalf("Symbols = %v", got)
	}
	if !sc.IsRunning() {
		t.Fatal("not running after UpdateSymbols")
	}
}

func TestStreamLifecycleErrors(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) { holdOpen(conn) })
	sc := NewStreamConnection(prices.NewStore([]string{"BTCUSDT"}, "1m", 0), testConfig(url))

	if err := sc.Start(context.Background(), nil, "1m"); !errors.Is(err, domain.ErrNoSymbols) {
		t.Fatalf("Start(nil) = %v", err)
	}
	if err := sc.UpdateSymbols(context.Background(), []string{"BTCUSDT"}); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("UpdateSymbols while idle = %v", err)
	}
	if err := sc.Start(context.Background(), []string{"BTCUSDT"}, "1m"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sc.Stop()
	if err := sc.Start(context.Background(), []string{"BTCUSDT"}, "1m"); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("second Start = %v", err)
	}
}

func TestStreamContextCancelStops(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) { holdOpen(conn) })
	sc := NewStreamConnection(prices.NewStore([]string{"BTCUSDT"}, "1m", 0), testConfig(url))

	ctx, cancel := context.WithCancel(context.Background())
	if err := sc.Start(ctx, []string{"BTCUSDT"}, "1m"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "connected", func() bool { return sc.State() == domain.StreamConnected })
	cancel()
	waitFor(t, "stopped", func() bool { return !sc.IsRunning() })
	sc.Stop()
}

func TestTapDropsWhenFull(t *testing.T) {
	sc := NewStreamConnection(prices.NewStore([]string{"BTCUSDT"}, "1m", 0), StreamConfig{})
	tap, cancel := sc.Tap(1)

	s, err := domain.NewPriceSample("BTCUSDT", mustDec("1"), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	sc.fanOut(s)
	sc.fanOut(s)
	if sc.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", sc.Dropped())
	}
	<-tap
	cancel()
	cancel()
	if _, ok := <-tap; ok {
		t.Fatal("tap not closed after cancel")
	}
	sc.fanOut(s)
	if sc.Dropped() != 1 {
		t.Fatalf("cancelled tap still counted drops")
	}
}

func TestStreamUpdateSymbolsOutlivesCallerContext(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) { holdOpen(conn) })
	store := prices.NewStore([]string{"BTCUSDT", "ETHUSDT"}, "1m", 0)
	sc := NewStreamConnection(store, testConfig(url))
	if err := sc.Start(context.Background(), []string{"BTCUSDT"}, "1m"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sc.Stop()

	reqCtx, cancel := context.WithCancel(context.Background())
	if err := sc.UpdateSymbols(reqCtx, []string{"ETHUSDT"}); err != nil {
		t.Fatalf("UpdateSymbols: %v", err)
	}
	cancel()

	waitFor(t, "connected", func() bool { return sc.State() == domain.StreamConnected })
	time.Sleep(50 * time.Millisecond)
	if !sc.IsRunning() {
		t.Fatal("subscription ended with the caller's context")
	}

	if err := sc.UpdateSymbols(reqCtx, []string{"BTCUSDT"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("UpdateSymbols with cancelled ctx = %v", err)
	}
}
