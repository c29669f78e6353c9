package arbitrage

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/graph"
)

func buildGraph(px map[string]float64, r graph.Resolver) *graph.Graph {
	now := time.Now()
	samples := make(map[string]domain.PriceSample, len(px))
	for sym, p := range px {
		samples[sym] = domain.PriceSample{Symbol: sym, Price: decimal.NewFromFloat(p), EventTime: now}
	}
	return graph.Build(samples, r, graph.BuildOptions{Now: now})
}

// square is A->B->C->D->A with a 3% edge and no profitable triangle.
func square() *graph.Graph {
	r := graph.NewMapResolver(map[string]graph.Pair{
		"AB": {Base: "A", Quote: "B"},
		"BC": {Base: "B", Quote: "C"},
		"CD": {Base: "C", Quote: "D"},
		"DA": {Base: "D", Quote: "A"},
	}, nil)
	return buildGraph(map[string]float64{"AB": 1, "BC": 1, "CD": 1, "DA": 1.03}, r)
}

func TestTriangularFindsEachCycleOnce(t *testing.T) {
	g := buildGraph(twoPercent(), graph.NewSuffixResolver([]string{"USDT", "BTC"}))
	cycles := Triangular{}.FindCycles(g, 3)
	if len(cycles) != 1 {
		t.Fatalf("cycles: got %d, want 1", len(cycles))
	}
	if rate := cycles[0].Rate(); math.Abs(rate-1.02) > 1e-12 {
		t.Fatalf("rate: got %v", rate)
	}
}

func TestTriangularIgnoresLongerCycles(t *testing.T) {
	if got := (Triangular{}).FindCycles(square(), 3); len(got) != 0 {
		t.Fatalf("square has no triangles, got %d", len(got))
	}
}

func TestBellmanFordFindsFourCycle(t *testing.T) {
	bf := NewBellmanFord()
	cycles := bf.FindCycles(square(), 4)
	if len(cycles) != 1 {
		t.Fatalf("cycles: got %d, want 1", len(cycles))
	}
	c := cycles[0].Canonical("")
	if got := strings.Join(c.Assets(), ""); got != "ABCDA" {
		t.Fatalf("route: got %s", got)
	}
	if math.Abs(c.Rate()-1.03) > 1e-12 {
		t.Fatalf("rate: got %v", c.Rate())
	}
	if got := bf.FindCycles(square(), 3); len(got) != 0 {
		t.Fatalf("length bound 3 should drop the square, got %d", len(got))
	}
}

func TestBellmanFordFindsTriangle(t *testing.T) {
	g := buildGraph(twoPercent(), graph.NewSuffixResolver([]string{"USDT", "BTC"}))
	cycles := NewBellmanFord().FindCycles(g, 5)
	if len(cycles) != 1 {
		t.Fatalf("cycles: got %d, want 1", len(cycles))
	}
	if got := strings.Join(cycles[0].Canonical("USDT").Assets(), " "); got != "USDT BTC ETH USDT" {
		t.Fatalf("route: got %s", got)
	}
}

func TestBellmanFordNoCycleInFairMarket(t *testing.T) {
	px := map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 3000, "ETHBTC": 0.06}
	g := buildGraph(px, graph.NewSuffixResolver([]string{"USDT", "BTC"}))
	if got := NewBellmanFord().FindCycles(g, 4); len(got) != 0 {
		t.Fatalf("fair prices should have no negative cycle, got %d", len(got))
	}
}

func TestDetectorWithBellmanFord(t *testing.T) {
	r := graph.NewMapResolver(map[string]graph.Pair{
		"AB": {Base: "A", Quote: "B"},
		"BC": {Base: "B", Quote: "C"},
		"CD": {Base: "C", Quote: "D"},
		"DA": {Base: "D", Quote: "A"},
	}, nil)
	cfg := testConfig()
	cfg.Finder = NewBellmanFord()
	cfg.Resolver = r
	cfg.MaxCycleLength = 4
	cfg.BaseCurrency = "C"

	d := NewDetector(newStore(t, map[string]float64{"AB": 1, "BC": 1, "CD": 1, "DA": 1.03}), nil, cfg)
	opps := d.Detect(time.Now())
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities", len(opps))
	}
	if got := strings.Join(opps[0].Route, ""); got != "CDABC" {
		t.Fatalf("route should start at the base currency: %s", got)
	}
	if math.Abs(opps[0].ProfitPercentage-3) > 1e-9 {
		t.Fatalf("profit: got %v", opps[0].ProfitPercentage)
	}
}

func TestRegistrySelect(t *testing.T) {
	r := DefaultRegistry()
	cases := []struct {
		name    string
		maxLen  int
		want    string
		wantErr bool
	}{
		{"", 3, FinderTriangular, false},
		{"", 5, FinderBellmanFord, false},
		{FinderBellmanFord, 3, FinderBellmanFord, false},
		{FinderTriangular, 4, "", true},
		{"dijkstra", 3, "", true},
		{"", 2, "", true},
	}
	for _, tc := range cases {
		f, err := r.Select(tc.name, tc.maxLen)
		if (err != nil) != tc.wantErr {
			t.Fatalf("Select(%q, %d) error = %v", tc.name, tc.maxLen, err)
		}
		if err == nil && f.Name() != tc.want {
			t.Fatalf("Select(%q, %d) = %s, want %s", tc.name, tc.maxLen, f.Name(), tc.want)
		}
	}
	if got := strings.Join(r.List(), ","); got != "bellman_ford,triangular" {
		t.Fatalf("list: %s", got)
	}
}

func TestCanonicalRotations(t *testing.T) {
	g := buildGraph(twoPercent(), graph.NewSuffixResolver([]string{"USDT", "BTC"}))
	c := Triangular{}.FindCycles(g, 3)[0]
	want := c.Canonical("USDT").Key()
	for i := 0; i < 3; i++ {
		if got := c.rotate(i).Canonical("USDT").Key(); got != want {
			t.Fatalf("rotation %d: %s != %s", i, got, want)
		}
	}
}

func TestDedupWindow(t *testing.T) {
	d := NewDedup(time.Minute)
	t0 := time.Now()
	if d.Seen("k", t0) {
		t.Fatal("first sighting is not a duplicate")
	}
	if !d.Seen("k", t0.Add(30*time.Second)) {
		t.Fatal("sighting inside the window is a duplicate")
	}
	if !d.Seen("k", t0.Add(80*time.Second)) {
		t.Fatal("window restarts from the last sighting")
	}
	if d.Seen("k", t0.Add(3*time.Minute)) {
		t.Fatal("sighting after the window is new")
	}
	d.Cleanup(t0.Add(10 * time.Minute))
	if d.Len() != 0 {
		t.Fatalf("cleanup left %d keys", d.Len())
	}
}
