package arbitrage

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/graph"
	"github.com/alanyoungcy/triarb/internal/prices"
)

// PriceSource provides consistent point-in-time price views.
type PriceSource interface {
	Snapshot() prices.Snapshot
}

// OpportunityLog is the write side of the opportunity log.
type OpportunityLog interface {
	Record(op domain.Opportunity) []domain.Opportunity
	Merge(op domain.Opportunity) bool
}

// DetectorConfig configures the detector.
type DetectorConfig struct {
	Finder         CycleFinder
	Resolver       graph.Resolver
	BaseCurrency   string
	MinProfitPct   float64
	Epsilon        float64
	MaxCycleLength int
	MaxPriceAge    time.Duration
	FeePct         float64
	SlippagePct    float64
	DedupWindow    time.Duration
	Interval       time.Duration
	OutputBuffer   int
	Logger         *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// CycleResult summarises one detection cycle.
type CycleResult struct {
	Assets   int
	Edges    int
	Skipped  int
	Found    int
	Recorded int
	Merged   int
	Evicted  int
	Started  time.Time
	Duration time.Duration
}

// Detector periodically snapshots the price store, builds a fresh rate graph
// and records profitable cycles in the opportunity log.
type Detector struct {
	cfg     DetectorConfig
	store   PriceSource
	log     OpportunityLog
	dedup   *Dedup
	logger  *slog.Logger
	out     chan domain.Opportunity
	trigger chan struct{}

	// cycleMu serializes cycles so a triggered and a timed cycle never
	// interleave their writes to the log.
	cycleMu sync.Mutex

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	lastMu  sync.RWMutex
	last    CycleResult
	found   atomic.Int64
	dropped atomic.Int64
}

// NewDetector creates a detector reading from store and writing to log.
func NewDetector(store PriceSource, log OpportunityLog, cfg DetectorConfig) *Detector {
	if cfg.Finder == nil {
		cfg.Finder = Triangular{}
	}
	if cfg.Resolver == nil {
		cfg.Resolver = graph.NewSuffixResolver([]string{"USDT", "BTC", "ETH", "BNB"})
	}
	if cfg.MaxCycleLength < 3 {
		cfg.MaxCycleLength = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = 64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:     cfg,
		store:   store,
		log:     log,
		dedup:   NewDedup(cfg.DedupWindow),
		logger:  logger.With(slog.String("component", "arb_detector")),
		out:     make(chan domain.Opportunity, cfg.OutputBuffer),
		trigger: make(chan struct{}, 1),
	}
}

// Detect computes the ranked opportunities for the current snapshot without
// touching the log.
func (d *Detector) Detect(now time.Time) []domain.Opportunity {
	opps, _ := d.detect(now)
	return opps
}

func (d *Detector) detect(now time.Time) ([]domain.Opportunity, *graph.Graph) {
	snap := d.store.Snapshot()
	g := graph.Build(snap.Samples, d.cfg.Resolver, graph.BuildOptions{
		MaxAge: d.cfg.MaxPriceAge,
		Now:    now,
	})
	if g.NumAssets() < 3 {
		return nil, g
	}

	threshold := d.cfg.MinProfitPct / 100
	legCost := (1 - d.cfg.FeePct/100) * (1 - d.cfg.SlippagePct/100)

	seen := make(map[string]bool)
	var out []domain.Opportunity
	for _, cyc := range d.cfg.Finder.FindCycles(g, d.cfg.MaxCycleLength) {
		w := cyc.Weight()
		if math.IsNaN(w) || math.IsInf(w, 0) {
			d.logger.Warn("skipping cycle with non-finite weight",
				slog.String("cycle", cyc.Key()),
			)
			continue
		}
		profit := math.Expm1(-w)
		if math.IsNaN(profit) || math.IsInf(profit, 0) {
			d.logger.Warn("skipping cycle with non-finite profit",
				slog.String("cycle", cyc.Key()),
				slog.Float64("weight", w),
			)
			continue
		}
		if !exceeds(profit, threshold, d.cfg.Epsilon) {
			continue
		}

		cyc = cyc.Canonical(d.cfg.BaseCurrency)
		key := cyc.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		legs := len(cyc.Edges)
		net := (1+profit)*math.Pow(legCost, float64(legs)) - 1
		px := make(map[string]decimal.Decimal, legs)
		for _, e := range cyc.Edges {
			px[e.Symbol] = e.Price
		}
		out = append(out, domain.Opportunity{
			ID:                  uuid.NewString(),
			Route:               cyc.Assets(),
			Symbols:             cyc.Symbols(),
			ProfitPercentage:    profit * 100,
			NetProfitPercentage: net * 100,
			Prices:              px,
			DetectedAt:          now,
			LastSeenAt:          now,
			Hits:                1,
		})
	}

	eps := d.cfg.Epsilon * 100
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].ProfitPercentage, out[j].ProfitPercentage
		if math.Abs(pi-pj) > eps {
			return pi > pj
		}
		return out[i].RouteKey() < out[j].RouteKey()
	})
	return out, g
}

// exceeds reports whether profit clears threshold by more than float noise.
// Margins within half an epsilon of zero count as equal to the threshold,
// and the threshold itself is exclusive.
func exceeds(profit, threshold, eps float64) bool {
	return profit-threshold > eps/2
}

// RunCycle runs one detection cycle and applies its results to the log. The
// cycle is never interrupted part way; ctx only bounds the hand-off of new
// opportunities to the output channel.
func (d *Detector) RunCycle(ctx context.Context) CycleResult {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	started := time.Now()
	now := d.cfg.Now()
	opps, g := d.detect(now)

	res := CycleResult{
		Assets:  g.NumAssets(),
		Edges:   g.NumEdges(),
		Skipped: len(g.Skipped()),
		Found:   len(opps),
		Started: now,
	}

	for _, op := range opps {
		if d.dedup.Seen(op.RouteKey(), now) && d.log.Merge(op) {
			res.Merged++
			continue
		}
		res.Evicted += len(d.log.Record(op))
		res.Recorded++
		d.found.Add(1)
		d.emit(ctx, op)
	}
	d.dedup.Cleanup(now)
	res.Duration = time.Since(started)

	d.lastMu.Lock()
	d.last = res
	d.lastMu.Unlock()

	if res.Recorded > 0 {
		best := opps[0]
		d.logger.Info("opportunities recorded",
			slog.Int("found", res.Found),
			slog.Int("recorded", res.Recorded),
			slog.Int("merged", res.Merged),
			slog.String("best_route", best.RouteString()),
			slog.Float64("best_profit_pct", best.ProfitPercentage),
		)
	} else {
		d.logger.Debug("detection cycle complete",
			slog.Int("assets", res.Assets),
			slog.Int("edges", res.Edges),
			slog.Int("found", res.Found),
			slog.Int("merged", res.Merged),
		)
	}
	return res
}

// emit hands op to the output channel without blocking the cycle.
func (d *Detector) emit(ctx context.Context, op domain.Opportunity) {
	select {
	case d.out <- op:
	case <-ctx.Done():
	default:
		d.dropped.Add(1)
		d.logger.Warn("opportunity output full, dropping",
			slog.String("route", op.RouteString()),
		)
	}
}

// Opportunities returns newly recorded opportunities (merges excluded).
func (d *Detector) Opportunities() <-chan domain.Opportunity { return d.out }

// Trigger requests an immediate cycle from Run. Requests made while one is
// pending are coalesced.
func (d *Detector) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run executes a cycle every configured interval and on Trigger until ctx is
// cancelled or Stop is called. An in-flight cycle always completes first.
func (d *Detector) Run(ctx context.Context) error {
	d.runMu.Lock()
	if d.running {
		d.runMu.Unlock()
		return domain.ErrAlreadyRunning
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})
	stopCh, done := d.stopCh, d.done
	d.runMu.Unlock()

	defer func() {
		d.runMu.Lock()
		d.running = false
		d.runMu.Unlock()
		close(done)
	}()

	d.logger.Info("arb detector started",
		slog.String("finder", d.cfg.Finder.Name()),
		slog.Duration("interval", d.cfg.Interval),
		slog.Float64("min_profit_pct", d.cfg.MinProfitPct),
		slog.Int("max_cycle_length", d.cfg.MaxCycleLength),
	)
	defer d.logger.Info("arb detector stopped")

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			d.RunCycle(ctx)
		case <-d.trigger:
			d.RunCycle(ctx)
		}
	}
}

// Stop asks Run to return after the in-flight cycle and waits for it. It is
// a no-op when Run is not active.
func (d *Detector) Stop() {
	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		return
	}
	stopCh, done := d.stopCh, d.done
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	d.runMu.Unlock()
	<-done
}

// LastCycle returns the result of the most recent cycle.
func (d *Detector) LastCycle() CycleResult {
	d.lastMu.RLock()
	defer d.lastMu.RUnlock()
	return d.last
}

// Found returns the number of opportunities recorded since start.
func (d *Detector) Found() int64 { return d.found.Load() }

// Dropped returns how many new opportunities did not fit the output channel.
func (d *Detector) Dropped() int64 { return d.dropped.Load() }

// FinderName returns the active cycle finder.
func (d *Detector) FinderName() string { return d.cfg.Finder.Name() }
