package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/graph"
	"github.com/alanyoungcy/triarb/internal/platform/binance"
	"github.com/alanyoungcy/triarb/internal/prices"
)

// TickerSource lists 24h statistics for every traded pair.
type TickerSource interface {
	Tickers24h(ctx context.Context) ([]binance.Ticker, error)
}

// SymbolReplacer applies a new monitored set.
type SymbolReplacer interface {
	Replace(ctx context.Context, symbols []string) ([]string, error)
}

// ScanResult is the outcome of one volume scan.
type ScanResult struct {
	Symbols  []string  `json:"symbols"`
	Anchored int       `json:"anchored"`
	Crosses  int       `json:"crosses"`
	Fallback bool      `json:"fallback"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// VolumeScanner picks the monitored set by 24h quote volume: the busiest
// pairs quoted in the base currency, plus every cross pair between the
// assets those pairs cover, so each selected asset can close a triangle.
type VolumeScanner struct {
	source   TickerSource
	resolver graph.Resolver
	base     string
	topPairs int
	defaults []string
	logger   *slog.Logger
}

// NewVolumeScanner creates a scanner. defaults is returned when the ticker
// source fails or yields nothing usable.
func NewVolumeScanner(
	source TickerSource,
	resolver graph.Resolver,
	base string,
	topPairs int,
	defaults []string,
	logger *slog.Logger,
) *VolumeScanner {
	if logger == nil {
		logger = slog.Default()
	}
	if topPairs <= 0 {
		topPairs = 20
	}
	return &VolumeScanner{
		source:   source,
		resolver: resolver,
		base:     domain.NormalizeSymbol(base),
		topPairs: topPairs,
		defaults: prices.Normalize(defaults),
		logger:   logger.With(slog.String("component", "volume_scanner")),
	}
}

// Scan ranks pairs and returns the selected set. It never fails: on error it
// reports the fallback list with Fallback set.
func (v *VolumeScanner) Scan(ctx context.Context) ScanResult {
	now := time.Now().UTC()
	tickers, err := v.source.Tickers24h(ctx)
	if err != nil {
		v.logger.WarnContext(ctx, "volume scan failed, using default symbols",
			slog.String("error", err.Error()),
		)
		return ScanResult{Symbols: v.defaults, Fallback: true, Error: err.Error(), At: now}
	}

	res := v.Select(tickers)
	res.At = now
	if len(res.Symbols) < 3 {
		v.logger.WarnContext(ctx, "volume scan too small, using default symbols",
			slog.Int("selected", len(res.Symbols)),
		)
		return ScanResult{Symbols: v.defaults, Fallback: true, At: now}
	}

	v.logger.InfoContext(ctx, "volume scan complete",
		slog.Int("anchored", res.Anchored),
		slog.Int("crosses", res.Crosses),
	)
	return res
}

// Select applies the ranking to an already fetched ticker list.
func (v *VolumeScanner) Select(tickers []binance.Ticker) ScanResult {
	anchored := make([]binance.Ticker, 0, len(tickers))
	for _, t := range tickers {
		_, quote, ok := v.resolver.Split(t.Symbol)
		if !ok || quote != v.base || !t.LastPrice.IsPositive() {
			continue
		}
		anchored = append(anchored, t)
	}
	sort.SliceStable(anchored, func(i, j int) bool {
		return anchored[i].QuoteVolume.GreaterThan(anchored[j].QuoteVolume)
	})
	if len(anchored) > v.topPairs {
		anchored = anchored[:v.topPairs]
	}

	assets := make(map[string]bool, len(anchored)+1)
	assets[v.base] = true
	selected := make([]string, 0, len(anchored)*2)
	for _, t := range anchored {
		b, _, _ := v.resolver.Split(t.Symbol)
		assets[b] = true
		selected = append(selected, t.Symbol)
	}

	crosses := 0
	for _, t := range tickers {
		b, q, ok := v.resolver.Split(t.Symbol)
		if !ok || q == v.base || !t.LastPrice.IsPositive() {
			continue
		}
		if assets[b] && assets[q] {
			selected = append(selected, t.Symbol)
			crosses++
		}
	}

	return ScanResult{
		Symbols:  prices.Normalize(selected),
		Anchored: len(anchored),
		Crosses:  crosses,
	}
}

// Run rescans every interval and applies a changed set through replacer.
func (v *VolumeScanner) Run(ctx context.Context, interval time.Duration, replacer SymbolReplacer) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res := v.Scan(ctx)
			if res.Fallback {
				continue
			}
			if _, err := replacer.Replace(ctx, res.Symbols); err != nil {
				v.logger.WarnContext(ctx, "apply scanned symbols failed",
					slog.String("error", fmt.Errorf("volume_scanner: %w", err).Error()),
				)
			}
		}
	}
}
