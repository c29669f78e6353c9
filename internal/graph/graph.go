// Package graph builds the directed log-rate currency graph that the
// arbitrage detector searches for profitable cycles.
package graph

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Edge is one conversion direction of a trading pair. For a symbol AB priced
// at P, the forward edge A->B has Rate P and the inverse edge B->A has Rate
// 1/P. Weight is -ln(Rate), so a cycle with compounded rate above 1 has a
// negative weight sum.
type Edge struct {
	From    string
	To      string
	Symbol  string
	Rate    float64
	Weight  float64
	Inverse bool
	Price   decimal.Decimal
}

// Skip reasons reported in Graph.Skipped.
const (
	SkipUnresolved = "unresolved"
	SkipStale      = "stale"
	SkipNonFinite  = "non_finite"
	SkipSelfPair   = "self_pair"
)

// Skipped records a symbol that did not contribute edges.
type Skipped struct {
	Symbol string
	Reason string
}

// BuildOptions tunes Build. A zero MaxAge accepts samples of any age.
type BuildOptions struct {
	MaxAge time.Duration
	Now    time.Time
}

// Graph is an immutable multigraph of assets. Build a new one for every
// detection cycle instead of updating an old one.
type Graph struct {
	assets  []string
	index   map[string]int
	edges   []Edge
	out     [][]int
	skipped []Skipped
	builtAt time.Time
}

// Build creates a graph from a price snapshot. Symbols without a live sample
// are absent; symbols the resolver cannot split, or whose price gives a
// non-finite weight, are skipped and listed in Skipped.
func Build(samples map[string]domain.PriceSample, r Resolver, opts BuildOptions) *Graph {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	symbols := make([]string, 0, len(samples))
	for sym := range samples {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	g := &Graph{index: make(map[string]int), builtAt: opts.Now}
	for _, sym := range symbols {
		s := samples[sym]
		base, quote, ok := r.Split(sym)
		if !ok {
			g.skipped = append(g.skipped, Skipped{Symbol: sym, Reason: SkipUnresolved})
			continue
		}
		if base == quote {
			g.skipped = append(g.skipped, Skipped{Symbol: sym, Reason: SkipSelfPair})
			continue
		}
		if opts.MaxAge > 0 && s.Age(opts.Now) > opts.MaxAge {
			g.skipped = append(g.skipped, Skipped{Symbol: sym, Reason: SkipStale})
			continue
		}
		p := s.PriceFloat()
		lnP := math.Log(p)
		if p <= 0 || math.IsNaN(lnP) || math.IsInf(lnP, 0) {
			g.skipped = append(g.skipped, Skipped{Symbol: sym, Reason: SkipNonFinite})
			continue
		}
		g.addEdge(Edge{From: base, To: quote, Symbol: sym, Rate: p, Weight: -lnP, Price: s.Price})
		g.addEdge(Edge{From: quote, To: base, Symbol: sym, Rate: 1 / p, Weight: lnP, Inverse: true, Price: s.Price})
	}

	g.finish()
	return g
}

func (g *Graph) addEdge(e Edge) {
	for _, a := range []string{e.From, e.To} {
		if _, ok := g.index[a]; !ok {
			g.index[a] = len(g.assets)
			g.assets = append(g.assets, a)
		}
	}
	g.edges = append(g.edges, e)
}

// finish sorts assets and adjacency lists so every traversal is
// deterministic regardless of map iteration order.
func (g *Graph) finish() {
	sort.Strings(g.assets)
	for i, a := range g.assets {
		g.index[a] = i
	}
	sort.SliceStable(g.edges, func(i, j int) bool {
		a, b := g.edges[i], g.edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Symbol < b.Symbol
	})
	g.out = make([][]int, len(g.assets))
	for i, e := range g.edges {
		from := g.index[e.From]
		g.out[from] = append(g.out[from], i)
	}
}

// Assets returns the sorted asset names.
func (g *Graph) Assets() []string {
	out := make([]string, len(g.assets))
	copy(out, g.assets)
	return out
}

// NumAssets returns the node count.
func (g *Graph) NumAssets() int { return len(g.assets) }

// NumEdges returns the edge count.
func (g *Graph) NumEdges() int { return len(g.edges) }

// Index returns the node index of asset.
func (g *Graph) Index(asset string) (int, bool) {
	i, ok := g.index[asset]
	return i, ok
}

// Asset returns the asset name at node index i.
func (g *Graph) Asset(i int) string { return g.assets[i] }

// Edge returns edge i.
func (g *Graph) Edge(i int) Edge { return g.edges[i] }

// Edges returns a copy of every edge.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// OutIndexes returns the indexes of edges leaving node i. The slice must not
// be modified.
func (g *Graph) OutIndexes(i int) []int { return g.out[i] }

// Out returns the edges leaving asset.
func (g *Graph) Out(asset string) []Edge {
	i, ok := g.index[asset]
	if !ok {
		return nil
	}
	out := make([]Edge, 0, len(g.out[i]))
	for _, ei := range g.out[i] {
		out = append(out, g.edges[ei])
	}
	return out
}

// Skipped lists symbols that did not contribute edges.
func (g *Graph) Skipped() []Skipped {
	out := make([]Skipped, len(g.skipped))
	copy(out, g.skipped)
	return out
}

// BuiltAt is the reference time used for staleness checks.
func (g *Graph) BuiltAt() time.Time { return g.builtAt }
