// Package oplog keeps a bounded, ordered log of detected opportunities.
package oplog

import (
	"fmt"
	"sync"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Policy selects which entry is evicted when the log is full.
type Policy string

const (
	// DropOldest evicts the least recently recorded entry.
	DropOldest Policy = "oldest"
	// DropLowestProfit evicts the entry with the smallest profit. Ties evict
	// the oldest of them. A newcomer less profitable than every retained
	// entry is itself dropped.
	DropLowestProfit Policy = "lowest_profit"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case DropOldest, DropLowestProfit:
		return Policy(s), nil
	case "":
		return DropOldest, nil
	}
	return "", fmt.Errorf("oplog: unknown eviction policy %q", s)
}

// Log is safe for concurrent use. Entries are stored oldest first and are
// replaced as whole values, never modified in place.
type Log struct {
	mu       sync.RWMutex
	entries  []domain.Opportunity
	capacity int
	policy   Policy
	total    int64
	merged   int64
	evicted  int64
}

// New creates a log holding at most capacity entries.
func New(capacity int, policy Policy) *Log {
	if capacity < 1 {
		capacity = 1
	}
	if policy == "" {
		policy = DropOldest
	}
	return &Log{
		entries:  make([]domain.Opportunity, 0, capacity),
		capacity: capacity,
		policy:   policy,
	}
}

// Record appends op, evicting per policy when full. It returns the entries
// that left the log, which may include op itself under DropLowestProfit.
func (l *Log) Record(op domain.Opportunity) []domain.Opportunity {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	if len(l.entries) < l.capacity {
		l.entries = append(l.entries, op)
		return nil
	}

	var victim int
	switch l.policy {
	case DropLowestProfit:
		victim = l.lowestLocked()
		if op.ProfitPercentage < l.entries[victim].ProfitPercentage {
			l.evicted++
			return []domain.Opportunity{op}
		}
	default:
		victim = 0
	}

	out := l.entries[victim]
	l.entries = append(l.entries[:victim], l.entries[victim+1:]...)
	l.entries = append(l.entries, op)
	l.evicted++
	return []domain.Opportunity{out}
}

// lowestLocked returns the index of the least profitable entry, the oldest
// one on ties.
func (l *Log) lowestLocked() int {
	idx := 0
	for i := 1; i < len(l.entries); i++ {
		if l.entries[i].ProfitPercentage < l.entries[idx].ProfitPercentage {
			idx = i
		}
	}
	return idx
}

// Merge replaces the entry with op's route key by a merged value carrying the
// original ID and first detection time, op's prices and profit, and an
// incremented hit count. The merged entry moves to the newest position. It
// returns false when no entry with that key is held.
func (l *Log) Merge(op domain.Opportunity) bool {
	key := op.RouteKey()

	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		prev := l.entries[i]
		if prev.RouteKey() != key {
			continue
		}
		merged := op
		merged.ID = prev.ID
		merged.DetectedAt = prev.DetectedAt
		merged.Hits = prev.Hits + 1
		l.entries = append(l.entries[:i], l.entries[i+1:]...)
		l.entries = append(l.entries, merged)
		l.merged++
		return true
	}
	return false
}

// Recent returns up to limit entries, newest first. A limit of zero or less
// returns every entry.
func (l *Log) Recent(limit int) []domain.Opportunity {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Opportunity, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Capacity returns the configured capacity.
func (l *Log) Capacity() int { return l.capacity }

// Policy returns the configured eviction policy.
func (l *Log) Policy() Policy { return l.policy }

// Total returns how many opportunities were ever recorded, merges excluded.
func (l *Log) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Stats summarises the retained entries.
func (l *Log) Stats() domain.OpportunityStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := domain.OpportunityStats{Total: l.total, Retained: len(l.entries)}
	if len(l.entries) == 0 {
		return st
	}
	var sum float64
	best := l.entries[0]
	for _, e := range l.entries {
		sum += e.ProfitPercentage
		if e.ProfitPercentage > best.ProfitPercentage {
			best = e
		}
	}
	st.AvgProfitPct = sum / float64(len(l.entries))
	st.MaxProfitPct = best.ProfitPercentage
	st.BestRoute = best.RouteString()
	st.Since = l.entries[0].DetectedAt
	return st
}
