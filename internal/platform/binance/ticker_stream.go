package binance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// allTickersStream pushes, once a second, the 24h statistics of every pair
// that changed since the previous push.
const allTickersStream = "!ticker@arr"

// TickerStreamURL builds the combined-stream URL for the all-market ticker
// array, e.g. wss://stream.binance.com:9443/stream?streams=!ticker@arr.
func TickerStreamURL(base string) string {
	if base == "" {
		base = DefaultStreamURL
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "streams=" + allTickersStream
}

// TickerStream collects 24h statistics from the all-market ticker stream. A
// single push only carries the pairs that changed, so Tickers24h listens for
// a window and merges every push by symbol.
type TickerStream struct {
	url    string
	window time.Duration
	dialer *Dialer
}

// NewTickerStream creates a collector on the combined-stream endpoint base.
// window defaults to 5s.
func NewTickerStream(base string, window, handshakeTimeout time.Duration) *TickerStream {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &TickerStream{
		url:    TickerStreamURL(base),
		window: window,
		dialer: NewDialer(handshakeTimeout),
	}
}

// Tickers24h listens for one window and returns the merged tickers ordered
// by symbol. It fails only when nothing usable arrived.
func (t *TickerStream) Tickers24h(ctx context.Context) ([]Ticker, error) {
	conn, err := t.dialer.Dial(ctx, t.url)
	if err != nil {
		return nil, fmt.Errorf("binance: ticker stream: %w", err)
	}
	defer conn.Close()

	timer := time.NewTimer(t.window)
	defer timer.Stop()
	go func() {
		select {
		case <-ctx.Done():
		case <-timer.C:
		case <-conn.Done():
			return
		}
		_ = conn.Close()
	}()

	merged := make(map[string]Ticker)
	var readErr error
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, domain.ErrWSDisconnect) {
				readErr = err
			}
			break
		}
		tickers, err := DecodeTickerArray(frame)
		if err != nil {
			continue
		}
		for _, tk := range tickers {
			merged[tk.Symbol] = tk
		}
	}

	if len(merged) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("binance: ticker stream: %w", err)
		}
		if readErr != nil {
			return nil, fmt.Errorf("binance: ticker stream: %w", readErr)
		}
		return nil, fmt.Errorf("binance: ticker stream: no tickers within %s: %w", t.window, domain.ErrNotFound)
	}

	out := make([]Ticker, 0, len(merged))
	for _, tk := range merged {
		out = append(out, tk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
