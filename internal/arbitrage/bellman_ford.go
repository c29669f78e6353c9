package arbitrage

import (
	"math"

	"github.com/alanyoungcy/triarb/internal/graph"
)

const (
	// relaxEpsilon keeps float noise on zero-weight round trips from
	// counting as an improvement.
	relaxEpsilon = 1e-12

	defaultRoundsPerSource = 8
)

// BellmanFord finds negative cycles of arbitrary length. For each source it
// relaxes every edge for |V| passes; a node whose distance still drops in the
// last pass has been relaxed more times than any simple path allows, which
// proves a negative cycle reachable from the source. The cycle is rebuilt by
// walking predecessor links from that node. After a cycle is found, one of
// its edges is banned for that source and the search repeats, so several
// cycles can be collected per source.
type BellmanFord struct {
	RoundsPerSource int
}

// NewBellmanFord returns a finder with default settings.
func NewBellmanFord() *BellmanFord {
	return &BellmanFord{RoundsPerSource: defaultRoundsPerSource}
}

// Name implements CycleFinder.
func (*BellmanFord) Name() string { return FinderBellmanFord }

// FindCycles implements CycleFinder. Cycles shorter than 3 legs or longer
// than maxLen are discarded.
func (bf *BellmanFord) FindCycles(g *graph.Graph, maxLen int) []Cycle {
	n := g.NumAssets()
	if n < 3 || maxLen < 3 {
		return nil
	}
	rounds := bf.RoundsPerSource
	if rounds <= 0 {
		rounds = defaultRoundsPerSource
	}

	seen := make(map[string]bool)
	var out []Cycle
	for src := 0; src < n; src++ {
		banned := make(map[int]bool)
		for r := 0; r < rounds; r++ {
			edgeIdx, ok := negativeCycleFrom(g, src, banned)
			if !ok {
				break
			}
			banned[edgeIdx[len(edgeIdx)-1]] = true

			cyc := Cycle{Edges: make([]graph.Edge, len(edgeIdx))}
			for i, ei := range edgeIdx {
				cyc.Edges[i] = g.Edge(ei)
			}
			if len(cyc.Edges) < 3 || len(cyc.Edges) > maxLen || cyc.Weight() >= 0 {
				continue
			}
			key := cyc.Canonical("").Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, cyc)
		}
	}
	return out
}

// negativeCycleFrom runs Bellman-Ford from src ignoring banned edges and
// returns the edge indexes of one negative cycle in walk order.
func negativeCycleFrom(g *graph.Graph, src int, banned map[int]bool) ([]int, bool) {
	n := g.NumAssets()
	dist := make([]float64, n)
	pred := make([]int, n)
	relaxed := make([]int, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		pred[i] = -1
	}
	dist[src] = 0

	over := -1
	for pass := 1; pass <= n; pass++ {
		changed := false
		for u := 0; u < n; u++ {
			if math.IsInf(dist[u], 1) {
				continue
			}
			for _, ei := range g.OutIndexes(u) {
				if banned[ei] {
					continue
				}
				e := g.Edge(ei)
				v, _ := g.Index(e.To)
				if nd := dist[u] + e.Weight; nd < dist[v]-relaxEpsilon {
					dist[v] = nd
					pred[v] = ei
					relaxed[v] = pass
					changed = true
				}
			}
		}
		if !changed {
			return nil, false
		}
		if pass == n {
			for v := 0; v < n; v++ {
				if relaxed[v] == n {
					over = v
					break
				}
			}
		}
	}
	if over < 0 {
		return nil, false
	}

	// Step back n times so x is guaranteed to sit on the cycle.
	x := over
	for i := 0; i < n; i++ {
		if pred[x] < 0 {
			return nil, false
		}
		from, _ := g.Index(g.Edge(pred[x]).From)
		x = from
	}

	var rev []int
	cur := x
	for {
		ei := pred[cur]
		if ei < 0 || len(rev) > n {
			return nil, false
		}
		rev = append(rev, ei)
		from, _ := g.Index(g.Edge(ei).From)
		cur = from
		if cur == x {
			break
		}
	}

	out := make([]int, len(rev))
	for i, ei := range rev {
		out[len(rev)-1-i] = ei
	}
	return out, true
}
