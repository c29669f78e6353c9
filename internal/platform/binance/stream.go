package binance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// DefaultStreamURL is the combined-stream endpoint of the spot exchange.
const DefaultStreamURL = "wss://stream.binance.com:9443/stream"

// StreamURL builds the combined kline stream URL for symbols, e.g.
// wss://stream.binance.com:9443/stream?streams=btcusdt@kline_1m/ethusdt@kline_1m.
// The stream names are not query-escaped; Binance expects the raw '@' and '/'.
func StreamURL(base string, symbols []string, interval string) string {
	if base == "" {
		base = DefaultStreamURL
	}
	names := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		names = append(names, s+"@kline_"+interval)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "streams=" + strings.Join(names, "/")
}

// DecodeKline turns one text frame into a PriceSample. Both the combined
// envelope and a bare kline event are accepted. The sample price is the
// kline close.
func DecodeKline(frame []byte) (domain.PriceSample, error) {
	payload, err := unwrap(frame)
	if err != nil {
		return domain.PriceSample{}, err
	}

	var ev KlineEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.PriceSample{}, fmt.Errorf("binance: decode kline: %w: %v", domain.ErrMalformedMessage, err)
	}
	if ev.EventType != "kline" {
		return domain.PriceSample{}, fmt.Errorf("binance: unexpected event %q: %w", ev.EventType, domain.ErrMalformedMessage)
	}

	symbol := ev.Symbol
	if symbol == "" {
		symbol = ev.Kline.Symbol
	}
	sample, err := domain.NewPriceSample(symbol, ev.Kline.Close, time.UnixMilli(ev.EventTime).UTC())
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("binance: kline %s: %w", symbol, err)
	}
	sample.Interval = ev.Kline.Interval
	sample.Open = ev.Kline.Open
	sample.High = ev.Kline.High
	sample.Low = ev.Kline.Low
	sample.Volume = ev.Kline.Volume
	return sample, nil
}

// DecodeTickerArray decodes a frame from the !ticker@arr stream.
func DecodeTickerArray(frame []byte) ([]Ticker, error) {
	payload, err := unwrap(frame)
	if err != nil {
		return nil, err
	}
	var raw []streamTicker
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode ticker array: %w: %v", domain.ErrMalformedMessage, err)
	}
	out := make([]Ticker, 0, len(raw))
	for _, t := range raw {
		if t.Symbol == "" {
			continue
		}
		out = append(out, Ticker{
			Symbol:      domain.NormalizeSymbol(t.Symbol),
			LastPrice:   t.LastPrice,
			Volume:      t.Volume,
			QuoteVolume: t.QuoteVolume,
		})
	}
	return out, nil
}

// unwrap strips the combined-stream envelope when present.
func unwrap(frame []byte) ([]byte, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, fmt.Errorf("binance: empty frame: %w", domain.ErrMalformedMessage)
	}
	if frame[0] != '{' {
		return frame, nil
	}
	var env combinedFrame
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("binance: decode envelope: %w: %v", domain.ErrMalformedMessage, err)
	}
	if env.Stream == "" || len(env.Data) == 0 {
		return frame, nil
	}
	return env.Data, nil
}
