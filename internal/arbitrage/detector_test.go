package arbitrage

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/graph"
	"github.com/alanyoungcy/triarb/internal/oplog"
	"github.com/alanyoungcy/triarb/internal/prices"
)

func newStore(t *testing.T, px map[string]float64) *prices.Store {
	t.Helper()
	symbols := make([]string, 0, len(px))
	for sym := range px {
		symbols = append(symbols, sym)
	}
	st := prices.NewStore(symbols, "1m", 0)
	for sym, p := range px {
		s, err := domain.NewPriceSample(sym, decimal.NewFromFloat(p), time.Now())
		if err != nil {
			t.Fatalf("sample %s: %v", sym, err)
		}
		if err := st.Set(s); err != nil {
			t.Fatalf("set %s: %v", sym, err)
		}
	}
	return st
}

func testConfig() DetectorConfig {
	return DetectorConfig{
		Finder:         Triangular{},
		Resolver:       graph.NewSuffixResolver([]string{"USDT", "BTC"}),
		BaseCurrency:   "USDT",
		MinProfitPct:   0.5,
		Epsilon:        1e-9,
		MaxCycleLength: 3,
		DedupWindow:    time.Minute,
		Interval:       10 * time.Millisecond,
	}
}

// twoPercent prices BTCUSDT=50000, ETHUSDT=3000 and ETHBTC so that
// USDT -> BTC -> ETH -> USDT compounds to exactly 1.02.
func twoPercent() map[string]float64 {
	return map[string]float64{
		"BTCUSDT": 50000,
		"ETHUSDT": 3000,
		"ETHBTC":  3000.0 / 51000.0,
	}
}

func TestDetectTwoPercentTriangle(t *testing.T) {
	d := NewDetector(newStore(t, twoPercent()), oplog.New(10, oplog.DropOldest), testConfig())

	opps := d.Detect(time.Now())
	if len(opps) != 1 {
		t.Fatalf("opportunities: got %d, want 1: %+v", len(opps), opps)
	}
	op := opps[0]
	if got := strings.Join(op.Route, " "); got != "USDT BTC ETH USDT" {
		t.Fatalf("route: got %s", got)
	}
	if got := strings.Join(op.Symbols, " "); got != "BTCUSDT ETHBTC ETHUSDT" {
		t.Fatalf("symbols: got %s", got)
	}
	if math.Abs(op.ProfitPercentage-2.0) > 1e-9 {
		t.Fatalf("profit: got %.12f, want 2.0", op.ProfitPercentage)
	}
	if op.NetProfitPercentage >= op.ProfitPercentage {
		t.Fatalf("net profit %v should be below gross %v with default costs", op.NetProfitPercentage, op.ProfitPercentage)
	}
	if len(op.Prices) != 3 || !op.Prices["BTCUSDT"].Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("prices: %v", op.Prices)
	}
}

func TestDetectNetProfitWithCosts(t *testing.T) {
	cfg := testConfig()
	cfg.FeePct = 0.1
	cfg.SlippagePct = 0.05
	d := NewDetector(newStore(t, twoPercent()), oplog.New(10, oplog.DropOldest), cfg)

	op := d.Detect(time.Now())[0]
	want := (1.02*math.Pow(0.999*0.9995, 3) - 1) * 100
	if math.Abs(op.NetProfitPercentage-want) > 1e-9 {
		t.Fatalf("net profit: got %v, want %v", op.NetProfitPercentage, want)
	}
}

// ratePrices builds a single triangle whose USDT -> BTC -> ETH -> USDT rate
// is r.
func ratePrices(r float64) map[string]float64 {
	return map[string]float64{
		"BTCUSDT": 50000,
		"ETHBTC":  0.06,
		"ETHUSDT": 3000 * r,
	}
}

func TestDetectThresholdIsExclusive(t *testing.T) {
	const eps = 1e-9
	cases := []struct {
		name string
		rate float64
		want bool
	}{
		{"below", 1.004, false},
		{"at threshold", 1.005, false},
		{"threshold plus epsilon", 1.005 + eps, true},
		{"well above", 1.01, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDetector(newStore(t, ratePrices(tc.rate)), oplog.New(10, oplog.DropOldest), testConfig())
			opps := d.Detect(time.Now())
			if got := len(opps) == 1; got != tc.want {
				t.Fatalf("rate %.12f: reported=%v, want %v (%d opps)", tc.rate, got, tc.want, len(opps))
			}
			if tc.want {
				want := (tc.rate - 1) * 100
				if math.Abs(opps[0].ProfitPercentage-want) > 1e-9 {
					t.Fatalf("profit: got %.12f, want %.12f", opps[0].ProfitPercentage, want)
				}
			}
		})
	}
}

func TestExceedsHalfEpsilonMargin(t *testing.T) {
	const threshold, eps = 0.005, 1e-9
	cases := []struct {
		margin float64
		want   bool
	}{
		{-eps, false},
		{0, false},
		{0.4 * eps, false},
		{0.6 * eps, true},
		{eps, true},
	}
	for _, tc := range cases {
		if got := exceeds(threshold+tc.margin, threshold, eps); got != tc.want {
			t.Errorf("margin %g: exceeds = %v, want %v", tc.margin, got, tc.want)
		}
	}
}

func TestRunCycleTwiceIsIdempotent(t *testing.T) {
	log := oplog.New(10, oplog.DropOldest)
	d := NewDetector(newStore(t, twoPercent()), log, testConfig())

	first := d.RunCycle(context.Background())
	second := d.RunCycle(context.Background())

	if first.Recorded != 1 || second.Recorded != 0 || second.Merged != 1 {
		t.Fatalf("first %+v, second %+v", first, second)
	}
	if log.Len() != 1 {
		t.Fatalf("log len: got %d, want 1", log.Len())
	}
	if hits := log.Recent(1)[0].Hits; hits != 2 {
		t.Fatalf("hits: got %d, want 2", hits)
	}
	if len(d.Opportunities()) != 1 {
		t.Fatalf("output channel should carry only the new opportunity, has %d", len(d.Opportunities()))
	}
	if d.Found() != 1 {
		t.Fatalf("found: got %d", d.Found())
	}
}

func TestDetectDegenerateGraph(t *testing.T) {
	d := NewDetector(newStore(t, map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 3000}), oplog.New(10, oplog.DropOldest), testConfig())
	if opps := d.Detect(time.Now()); len(opps) != 0 {
		t.Fatalf("expected no opportunities, got %d", len(opps))
	}
	res := d.RunCycle(context.Background())
	if res.Found != 0 || res.Recorded != 0 {
		t.Fatalf("result: %+v", res)
	}
}

func TestDetectSkipsStalePrices(t *testing.T) {
	st := newStore(t, twoPercent())
	cfg := testConfig()
	cfg.MaxPriceAge = time.Minute
	cfg.Now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	d := NewDetector(st, oplog.New(10, oplog.DropOldest), cfg)

	if res := d.RunCycle(context.Background()); res.Found != 0 || res.Skipped != 3 {
		t.Fatalf("stale prices should produce nothing: %+v", res)
	}
}

func TestDetectOrdersByProfitThenRoute(t *testing.T) {
	// Two independent triangles through USDT with 3% and 1% edges.
	px := map[string]float64{
		"BTCUSDT": 50000,
		"ETHBTC":  0.06,
		"ETHUSDT": 3000 * 1.01,
		"BNBBTC":  0.01,
		"BNBUSDT": 500 * 1.03,
	}
	d := NewDetector(newStore(t, px), oplog.New(10, oplog.DropOldest), testConfig())
	opps := d.Detect(time.Now())
	if len(opps) != 2 {
		t.Fatalf("got %d opportunities", len(opps))
	}
	if opps[0].Route[2] != "BNB" || opps[1].Route[2] != "ETH" {
		t.Fatalf("ordering: %v then %v", opps[0].Route, opps[1].Route)
	}
}

func TestDetectTieBreaksOnRoute(t *testing.T) {
	px := map[string]float64{
		"BTCUSDT": 50000,
		"ETHBTC":  0.06,
		"ETHUSDT": 3000 * 1.02,
		"BNBBTC":  0.01,
		"BNBUSDT": 500 * 1.02,
	}
	d := NewDetector(newStore(t, px), oplog.New(10, oplog.DropOldest), testConfig())
	opps := d.Detect(time.Now())
	if len(opps) != 2 {
		t.Fatalf("got %d opportunities", len(opps))
	}
	if opps[0].RouteKey() > opps[1].RouteKey() {
		t.Fatalf("equal profits must order by route: %s before %s", opps[0].RouteKey(), opps[1].RouteKey())
	}
}

func TestDetectorRunAndStop(t *testing.T) {
	d := NewDetector(newStore(t, twoPercent()), oplog.New(10, oplog.DropOldest), testConfig())

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	select {
	case op := <-d.Opportunities():
		if op.RouteString() != "USDT -> BTC -> ETH -> USDT" {
			t.Fatalf("route: %s", op.RouteString())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no opportunity emitted")
	}

	d.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after stop")
	}
	d.Stop()
}

func TestDetectorRunHonoursContext(t *testing.T) {
	d := NewDetector(newStore(t, twoPercent()), oplog.New(10, oplog.DropOldest), testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	d.Trigger()
	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
