package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/graph"
	"github.com/alanyoungcy/triarb/internal/pipeline"
	"github.com/alanyoungcy/triarb/internal/server"
	"github.com/alanyoungcy/triarb/internal/server/handler"
	"github.com/alanyoungcy/triarb/internal/server/ws"
	"github.com/alanyoungcy/triarb/internal/service"
)

const (
	ingestLeaseKey = "ingest"
	ingestLeaseTTL = 30 * time.Second
)

// DetectMode runs the stream, price store, detector and opportunity log in
// process. Opportunities are only logged.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode",
		slog.Int("symbols", len(a.cfg.Binance.Symbols)),
		slog.String("strategy", a.cfg.Detector.Strategy),
	)

	g, ctx := errgroup.WithContext(ctx)

	e, err := a.newEngine(ctx, engineSinks{})
	if err != nil {
		return fmt.Errorf("detect mode: %w", err)
	}
	if err := e.start(ctx, g, a.cfg.Stream.TapBuffer, a.cfg.Scanner.Enabled, a.cfg.Scanner.RescanInterval.Duration); err != nil {
		return fmt.Errorf("detect mode: %w", err)
	}

	return g.Wait()
}

// ServeMode runs detect mode plus the Redis mirror, optional Postgres history
// and notifications, and the HTTP/WebSocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.Bool("redis", deps.SignalBus != nil),
		slog.Bool("postgres", deps.OpportunityStore != nil),
		slog.Bool("s3", deps.BlobReader != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	var e *engine
	hub := ws.NewHub(deps.SignalBus, func() domain.EngineStatus { return e.status.Status() }, a.logger)

	// With Redis every replica publishes to the bus and the hub relays it;
	// without it the hub is the bus.
	sinks := engineSinks{
		Cache:    deps.PriceCache,
		Store:    deps.OpportunityStore,
		Audit:    deps.AuditStore,
		Notifier: deps.Notifier,
	}
	var streamReader handler.StreamReader
	if deps.SignalBus != nil {
		sinks.Pub = deps.SignalBus
		sinks.Stream = deps.SignalBus
		streamReader = deps.SignalBus
	} else {
		sinks.Pub = hub
	}

	e, err := a.newEngine(ctx, sinks)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}
	e.status.SetClients(hub)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return e.status.Run(ctx, sinks.Pub, a.cfg.Server.StatusInterval.Duration)
	})

	if a.cfg.Server.Enabled {
		handlers := server.Handlers{
			Health:        handler.NewHealthHandler(e.stream, a.logger),
			Status:        handler.NewStatusHandler(e.status),
			Prices:        handler.NewPriceHandler(e.store, e.stream, a.logger),
			Opportunities: handler.NewOpportunityHandler(e.opps, streamReader, a.cfg.Server.MaxOpportunities, a.logger),
			Symbols:       handler.NewSymbolHandler(e.symbols, a.logger),
		}
		if deps.BlobReader != nil {
			handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
		}
		if deps.AuditReader != nil {
			handlers.Audit = handler.NewAuditHandler(deps.AuditReader, a.logger)
		}
		a.startHTTPServer(ctx, g, handlers, hub, deps.RateLimiter)
	}

	// Only one replica ingests at a time; the others serve the API from
	// the shared cache and bus while they wait for the lease.
	if deps.LockManager != nil {
		release, err := a.acquireLease(ctx, deps.LockManager)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return g.Wait()
			}
			return fmt.Errorf("serve mode: %w", err)
		}
		a.closers = append(a.closers, release)
		g.Go(func() error {
			return a.holdLease(ctx, deps.LockManager, deps.AuditStore)
		})
	}

	if err := e.start(ctx, g, a.cfg.Stream.TapBuffer, a.cfg.Scanner.Enabled, a.cfg.Scanner.RescanInterval.Duration); err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	return g.Wait()
}

// ArchiveMode runs the archiver on its cron schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.String("cron", a.cfg.Archive.Cron),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	if deps.Archiver == nil || deps.OpportunityStore == nil {
		return errors.New("archive mode: postgres and s3 are required")
	}
	archiver := pipeline.NewArchiver(
		deps.Archiver,
		deps.OpportunityStore,
		a.cfg.Archive.RetentionDays,
		a.cfg.Archive.DeleteAfter,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := archiver.RunCron(ctx, a.cfg.Archive.Cron)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}

// ScanMode runs one volume scan and prints the selected symbols as JSON.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode",
		slog.Int("top_pairs", a.cfg.Scanner.TopPairs),
		slog.String("source", a.cfg.Scanner.Source),
	)

	scanner := service.NewVolumeScanner(
		a.tickerSource(),
		graph.NewSuffixResolver(a.cfg.Binance.QuoteAssets),
		a.cfg.Detector.BaseCurrency,
		a.cfg.Scanner.TopPairs,
		a.cfg.Binance.Symbols,
		a.logger,
	)
	res := scanner.Scan(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("scan mode: encode result: %w", err)
	}
	if res.Fallback {
		return fmt.Errorf("scan mode: volume scan failed, printed fallback symbols: %s", res.Error)
	}
	return nil
}

// startHTTPServer adds the API server to g and shuts it down gracefully when
// ctx is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	handlers server.Handlers,
	hub *ws.Hub,
	limiter domain.RateLimiter,
) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, limiter, a.logger)

	g.Go(func() error {
		port := a.cfg.Server.Port
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// acquireLease blocks until this process holds the ingest lease or ctx ends.
func (a *App) acquireLease(ctx context.Context, locks domain.LockManager) (func(), error) {
	retry := ingestLeaseTTL / 3
	for {
		release, err := locks.Acquire(ctx, ingestLeaseKey, ingestLeaseTTL)
		if err == nil {
			a.logger.InfoContext(ctx, "ingest lease acquired", slog.Duration("ttl", ingestLeaseTTL))
			return release, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("acquire ingest lease: %w", err)
		}
		a.logger.InfoContext(ctx, "ingest lease held elsewhere, standing by", slog.Duration("retry", retry))

		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// holdLease extends the ingest lease until ctx ends. Losing it ends the mode
// so two replicas never ingest at once.
func (a *App) holdLease(ctx context.Context, locks domain.LockManager, audit domain.AuditStore) error {
	ticker := time.NewTicker(ingestLeaseTTL / 3)
	defer ticker.Stop()
	lastOK := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := locks.Extend(ctx, ingestLeaseKey, ingestLeaseTTL)
		if err == nil {
			lastOK = time.Now()
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		lost := errors.Is(err, domain.ErrLockHeld) || errors.Is(err, domain.ErrNotFound) ||
			time.Since(lastOK) >= ingestLeaseTTL
		if !lost {
			a.logger.WarnContext(ctx, "extend ingest lease failed", slog.String("error", err.Error()))
			continue
		}

		a.logger.ErrorContext(ctx, "ingest lease lost", slog.String("error", err.Error()))
		if audit != nil {
			if aerr := audit.Log(ctx, domain.AuditLeaseLost, map[string]any{
				"key":   ingestLeaseKey,
				"error": err.Error(),
			}); aerr != nil {
				a.logger.WarnContext(ctx, "audit lease loss failed", slog.String("error", aerr.Error()))
			}
		}
		return fmt.Errorf("ingest lease lost: %w", err)
	}
}
