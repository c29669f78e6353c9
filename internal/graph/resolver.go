package graph

import (
	"sort"
	"strings"
)

// Resolver splits a trading pair symbol into its base and quote assets.
type Resolver interface {
	Split(symbol string) (base, quote string, ok bool)
}

// SuffixResolver resolves symbols by matching a known quote asset at the end
// of the symbol. The longest match wins, so "ETHUSDT" resolves to ETH/USDT
// even when both "USDT" and "T" style suffixes are configured.
type SuffixResolver struct {
	quotes []string
}

// NewSuffixResolver builds a resolver over the given quote assets.
func NewSuffixResolver(quotes []string) *SuffixResolver {
	qs := make([]string, 0, len(quotes))
	for _, q := range quotes {
		q = strings.ToUpper(strings.TrimSpace(q))
		if q != "" {
			qs = append(qs, q)
		}
	}
	sort.SliceStable(qs, func(i, j int) bool {
		if len(qs[i]) != len(qs[j]) {
			return len(qs[i]) > len(qs[j])
		}
		return qs[i] < qs[j]
	})
	return &SuffixResolver{quotes: qs}
}

// Split implements Resolver.
func (r *SuffixResolver) Split(symbol string) (string, string, bool) {
	symbol = strings.ToUpper(symbol)
	for _, q := range r.quotes {
		if len(symbol) > len(q) && strings.HasSuffix(symbol, q) {
			return symbol[:len(symbol)-len(q)], q, true
		}
	}
	return "", "", false
}

// Pair is an explicit base/quote split.
type Pair struct {
	Base  string
	Quote string
}

// MapResolver resolves symbols from an explicit table and falls back to
// another resolver for anything not listed.
type MapResolver struct {
	pairs    map[string]Pair
	fallback Resolver
}

// NewMapResolver creates a MapResolver. fallback may be nil.
func NewMapResolver(pairs map[string]Pair, fallback Resolver) *MapResolver {
	m := make(map[string]Pair, len(pairs))
	for sym, p := range pairs {
		m[strings.ToUpper(sym)] = Pair{Base: strings.ToUpper(p.Base), Quote: strings.ToUpper(p.Quote)}
	}
	return &MapResolver{pairs: m, fallback: fallback}
}

// Split implements Resolver.
func (r *MapResolver) Split(symbol string) (string, string, bool) {
	if p, ok := r.pairs[strings.ToUpper(symbol)]; ok {
		return p.Base, p.Quote, true
	}
	if r.fallback != nil {
		return r.fallback.Split(symbol)
	}
	return "", "", false
}
