package arbitrage

import "github.com/alanyoungcy/triarb/internal/graph"

// Triangular enumerates every directed three-asset cycle A->B->C->A. Each
// cycle is emitted once, from its smallest node index; both directions of a
// triangle and every parallel edge combination are distinct cycles.
type Triangular struct{}

// Name implements CycleFinder.
func (Triangular) Name() string { return FinderTriangular }

// FindCycles implements CycleFinder. maxLen is ignored beyond requiring room
// for three legs.
func (Triangular) FindCycles(g *graph.Graph, maxLen int) []Cycle {
	if maxLen < 3 || g.NumAssets() < 3 {
		return nil
	}

	var out []Cycle
	n := g.NumAssets()
	for a := 0; a < n; a++ {
		for _, i1 := range g.OutIndexes(a) {
			e1 := g.Edge(i1)
			b, _ := g.Index(e1.To)
			if b <= a {
				continue
			}
			for _, i2 := range g.OutIndexes(b) {
				e2 := g.Edge(i2)
				c, _ := g.Index(e2.To)
				if c <= a || c == b {
					continue
				}
				for _, i3 := range g.OutIndexes(c) {
					e3 := g.Edge(i3)
					if e3.To != e1.From {
						continue
					}
					cyc := Cycle{Edges: []graph.Edge{e1, e2, e3}}
					if cyc.Weight() < 0 {
						out = append(out, cyc)
					}
				}
			}
		}
	}
	return out
}
