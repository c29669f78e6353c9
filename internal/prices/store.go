// Package prices holds the authoritative latest price per monitored symbol.
package prices

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Snapshot is a point-in-time copy of the store. It is never modified after
// Snapshot returns, so it can be shared between goroutines freely.
type Snapshot struct {
	Samples  map[string]domain.PriceSample
	Interval string
	TakenAt  time.Time
}

// Len returns the number of priced symbols in the snapshot.
func (s Snapshot) Len() int { return len(s.Samples) }

// Store maps symbol to the latest sample. Writes come from the ingestion
// goroutine only; any number of readers may call Get, Snapshot and History.
type Store struct {
	mu          sync.RWMutex
	samples     map[string]domain.PriceSample
	history     map[string][]domain.PriceSample
	monitored   map[string]bool
	interval    string
	historySize int
	updates     int64
}

// NewStore creates a Store monitoring symbols at the given kline interval.
// historySize bounds the per-symbol history kept for the API; values below 1
// disable history.
func NewStore(symbols []string, interval string, historySize int) *Store {
	s := &Store{
		samples:     make(map[string]domain.PriceSample),
		history:     make(map[string][]domain.PriceSample),
		monitored:   make(map[string]bool),
		interval:    interval,
		historySize: historySize,
	}
	for _, sym := range Normalize(symbols) {
		s.monitored[sym] = true
	}
	return s
}

// Set replaces the stored sample for sample.Symbol unconditionally. Arrival
// order decides, not the embedded timestamp. Invalid samples and samples for
// symbols outside the monitored set are rejected.
func (s *Store) Set(sample domain.PriceSample) error {
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("prices: set: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.monitored[sample.Symbol] {
		return fmt.Errorf("prices: set %s: %w", sample.Symbol, domain.ErrNotMonitored)
	}
	s.samples[sample.Symbol] = sample
	s.updates++

	if s.historySize > 0 {
		h := append(s.history[sample.Symbol], sample)
		if len(h) > s.historySize {
			h = append([]domain.PriceSample(nil), h[len(h)-s.historySize:]...)
		}
		s.history[sample.Symbol] = h
	}
	return nil
}

// Get returns the latest sample for symbol.
func (s *Store) Get(symbol string) (domain.PriceSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sample, ok := s.samples[domain.NormalizeSymbol(symbol)]
	return sample, ok
}

// Snapshot copies the full map under the read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.PriceSample, len(s.samples))
	for k, v := range s.samples {
		out[k] = v
	}
	return Snapshot{
		Samples:  out,
		Interval: s.interval,
		TakenAt:  time.Now().UTC(),
	}
}

// History returns up to limit recent samples for symbol, oldest first. A
// limit of zero or less returns everything retained.
func (s *Store) History(symbol string, limit int) []domain.PriceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[domain.NormalizeSymbol(symbol)]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]domain.PriceSample, len(h))
	copy(out, h)
	return out
}

// ReplaceSymbolSet swaps the monitored set and drops entries for symbols that
// are no longer monitored. It returns the normalized new set, which the stream
// connection resubscribes with.
func (s *Store) ReplaceSymbolSet(symbols []string) []string {
	next := Normalize(symbols)

	s.mu.Lock()
	defer s.mu.Unlock()

	monitored := make(map[string]bool, len(next))
	for _, sym := range next {
		monitored[sym] = true
	}
	for sym := range s.samples {
		if !monitored[sym] {
			delete(s.samples, sym)
		}
	}
	for sym := range s.history {
		if !monitored[sym] {
			delete(s.history, sym)
		}
	}
	s.monitored = monitored
	return next
}

// Symbols returns the monitored set, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.monitored))
	for sym := range s.monitored {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// IsMonitored reports whether symbol is in the monitored set.
func (s *Store) IsMonitored(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.monitored[domain.NormalizeSymbol(symbol)]
}

// Interval returns the kline interval the store was created with.
func (s *Store) Interval() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// Len returns the number of symbols that have a price.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Updates returns the number of accepted samples since creation.
func (s *Store) Updates() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}

// Normalize upper-cases, de-duplicates and sorts a symbol list.
func Normalize(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = domain.NormalizeSymbol(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
