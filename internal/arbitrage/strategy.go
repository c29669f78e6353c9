// Package arbitrage searches the log-rate currency graph for profitable
// conversion cycles and records them as opportunities.
package arbitrage

import (
	"math"
	"strings"

	"github.com/alanyoungcy/triarb/internal/graph"
)

// Cycle is a closed walk over graph edges: Edges[i].To == Edges[i+1].From and
// the last edge returns to the first edge's origin.
type Cycle struct {
	Edges []graph.Edge
}

// Weight returns the summed -ln(rate) of the cycle.
func (c Cycle) Weight() float64 {
	var w float64
	for _, e := range c.Edges {
		w += e.Weight
	}
	return w
}

// Rate returns the compounded conversion rate around the cycle.
func (c Cycle) Rate() float64 {
	return math.Exp(-c.Weight())
}

// Assets returns the visited assets, first == last.
func (c Cycle) Assets() []string {
	if len(c.Edges) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Edges)+1)
	for _, e := range c.Edges {
		out = append(out, e.From)
	}
	return append(out, c.Edges[0].From)
}

// Symbols returns the trading pair of each leg.
func (c Cycle) Symbols() []string {
	out := make([]string, len(c.Edges))
	for i, e := range c.Edges {
		out[i] = e.Symbol
	}
	return out
}

// Key identifies the cycle's rotation and legs.
func (c Cycle) Key() string {
	return strings.Join(c.Assets(), ">") + "|" + strings.Join(c.Symbols(), ",")
}

// Canonical rotates the cycle so it starts at base when base is on the cycle,
// otherwise at the lexicographically smallest rotation. Rotations of one
// cycle always produce the same canonical form.
func (c Cycle) Canonical(base string) Cycle {
	n := len(c.Edges)
	if n == 0 {
		return c
	}
	best := -1
	var bestKey string
	for i := 0; i < n; i++ {
		if c.Edges[i].From != base {
			continue
		}
		k := c.rotate(i).Key()
		if best < 0 || k < bestKey {
			best, bestKey = i, k
		}
	}
	if best < 0 {
		for i := 0; i < n; i++ {
			k := c.rotate(i).Key()
			if best < 0 || k < bestKey {
				best, bestKey = i, k
			}
		}
	}
	return c.rotate(best)
}

func (c Cycle) rotate(start int) Cycle {
	n := len(c.Edges)
	out := make([]graph.Edge, n)
	for i := 0; i < n; i++ {
		out[i] = c.Edges[(start+i)%n]
	}
	return Cycle{Edges: out}
}

// CycleFinder searches a graph for negative-weight cycles of at most maxLen
// legs. Implementations must not retain g.
type CycleFinder interface {
	Name() string
	FindCycles(g *graph.Graph, maxLen int) []Cycle
}
