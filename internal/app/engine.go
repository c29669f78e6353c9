package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/triarb/internal/arbitrage"
	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/feed"
	"github.com/alanyoungcy/triarb/internal/graph"
	"github.com/alanyoungcy/triarb/internal/notify"
	"github.com/alanyoungcy/triarb/internal/oplog"
	"github.com/alanyoungcy/triarb/internal/platform/binance"
	"github.com/alanyoungcy/triarb/internal/prices"
	"github.com/alanyoungcy/triarb/internal/service"
)

// engine is the detection core shared by detect and serve mode: one price
// store fed by one stream, a detector over it, and the services draining
// both.
type engine struct {
	store    *prices.Store
	stream   *feed.StreamConnection
	log      *oplog.Log
	detector *arbitrage.Detector
	prices   *service.PriceService
	opps     *service.OpportunityService
	symbols  *service.SymbolService
	status   *service.StatusService
	scanner  *service.VolumeScanner

	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

// engineSinks are the optional outputs of the engine.
type engineSinks struct {
	Pub      service.Publisher
	Stream   service.Streamer
	Cache    domain.PriceCache
	Store    domain.OpportunityStore
	Audit    domain.AuditStore
	Notifier *notify.Notifier
}

func (a *App) newEngine(ctx context.Context, sinks engineSinks) (*engine, error) {
	cfg := a.cfg

	policy, err := oplog.ParsePolicy(cfg.OpLog.Policy)
	if err != nil {
		return nil, err
	}
	finder, err := arbitrage.DefaultRegistry().Select(cfg.Detector.Strategy, cfg.Detector.MaxCycleLength)
	if err != nil {
		return nil, err
	}
	resolver := graph.NewSuffixResolver(cfg.Binance.QuoteAssets)

	e := &engine{
		store:    prices.NewStore(cfg.Binance.Symbols, cfg.Binance.Interval, cfg.History.Size),
		log:      oplog.New(cfg.OpLog.Capacity, policy),
		audit:    sinks.Audit,
		notifier: sinks.Notifier,
		logger:   a.logger,
	}

	e.stream = feed.NewStreamConnection(e.store, feed.StreamConfig{
		URL:                    cfg.Binance.WsURL,
		InitialBackoff:         cfg.Stream.InitialBackoff.Duration,
		MaxBackoff:             cfg.Stream.MaxBackoff.Duration,
		Jitter:                 cfg.Stream.Jitter,
		MaxConsecutiveFailures: cfg.Stream.MaxConsecutiveFailures,
		HandshakeTimeout:       cfg.Stream.HandshakeTimeout.Duration,
		HealthyAfter:           cfg.Stream.HealthyAfter.Duration,
		OnStatus:               service.PublishStreamStatus(ctx, sinks.Pub, a.logger),
		Logger:                 a.logger,
	})

	e.detector = arbitrage.NewDetector(e.store, e.log, arbitrage.DetectorConfig{
		Finder:         finder,
		Resolver:       resolver,
		BaseCurrency:   cfg.Detector.BaseCurrency,
		MinProfitPct:   cfg.Detector.MinProfitPct,
		Epsilon:        cfg.Detector.Epsilon,
		MaxCycleLength: cfg.Detector.MaxCycleLength,
		MaxPriceAge:    cfg.Detector.MaxPriceAge.Duration,
		FeePct:         cfg.Detector.FeePct,
		SlippagePct:    cfg.Detector.SlippagePct,
		DedupWindow:    cfg.Detector.DedupWindow.Duration,
		Interval:       cfg.Detector.Interval.Duration,
		Logger:         a.logger,
	})

	e.prices = service.NewPriceService(sinks.Cache, sinks.Pub, e.detector, cfg.Detector.TriggerEveryTicks, a.logger)

	oppDeps := service.OpportunityDeps{
		Store:  sinks.Store,
		Pub:    sinks.Pub,
		Stream: sinks.Stream,
	}
	if sinks.Notifier != nil && sinks.Notifier.Enabled() {
		oppDeps.Notifier = sinks.Notifier
	}
	e.opps = service.NewOpportunityService(e.log, oppDeps, a.logger)
	e.symbols = service.NewSymbolService(e.store, e.stream, sinks.Audit, a.logger)
	e.status = service.NewStatusService(cfg.Mode, service.StatusDeps{
		Stream:   e.stream,
		Detector: e.detector,
		Prices:   e.store,
		Log:      e.log,
	}, a.logger)
	e.scanner = service.NewVolumeScanner(
		a.tickerSource(),
		resolver,
		cfg.Detector.BaseCurrency,
		cfg.Scanner.TopPairs,
		cfg.Binance.Symbols,
		a.logger,
	)
	return e, nil
}

// tickerSource returns the configured 24h statistics source for the
// volume scanner.
func (a *App) tickerSource() service.TickerSource {
	if a.cfg.Scanner.Source == "stream" {
		return binance.NewTickerStream(a.cfg.Binance.WsURL, a.cfg.Scanner.StreamWindow.Duration, a.cfg.Stream.HandshakeTimeout.Duration)
	}
	return binance.NewRESTClient(a.cfg.Binance.RestURL)
}

// start launches the engine goroutines on g. The stream's fatal error is
// returned from g after a notification attempt.
func (e *engine) start(ctx context.Context, g *errgroup.Group, tapBuffer int, scan bool, rescan time.Duration) error {
	if scan {
		res := e.scanner.Scan(ctx)
		e.store.ReplaceSymbolSet(res.Symbols)
		e.logger.InfoContext(ctx, "initial symbols from volume scan",
			slog.Int("symbols", len(res.Symbols)),
			slog.Bool("fallback", res.Fallback),
		)
	}

	tap, cancelTap := e.stream.Tap(tapBuffer)
	g.Go(func() error {
		defer cancelTap()
		return e.prices.Run(ctx, tap)
	})

	g.Go(func() error {
		if err := e.detector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("detector: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return e.opps.Run(ctx, e.detector.Opportunities())
	})

	if err := e.stream.Start(ctx, e.store.Symbols(), e.store.Interval()); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
			e.stream.Stop()
			return nil
		case err := <-e.stream.Fatal():
			e.onStreamFailure(err)
			e.stream.Stop()
			return err
		}
	})

	if scan && rescan > 0 {
		g.Go(func() error {
			return e.scanner.Run(ctx, rescan, e.symbols)
		})
	}
	return nil
}

// onStreamFailure records and announces a stream that gave up. It uses its
// own context because the mode context is about to be cancelled.
func (e *engine) onStreamFailure(cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.logger.ErrorContext(ctx, "market data stream failed", slog.String("error", cause.Error()))
	if e.audit != nil {
		if err := e.audit.Log(ctx, domain.AuditStreamFailed, map[string]any{
			"error":      cause.Error(),
			"symbols":    e.stream.Symbols(),
			"reconnects": e.stream.Reconnects(),
		}); err != nil {
			e.logger.WarnContext(ctx, "audit stream failure failed", slog.String("error", err.Error()))
		}
	}
	if e.notifier != nil && e.notifier.Enabled() {
		if err := e.notifier.NotifyStreamFailure(ctx, cause); err != nil {
			e.logger.WarnContext(ctx, "stream failure notification failed", slog.String("error", err.Error()))
		}
	}
}
