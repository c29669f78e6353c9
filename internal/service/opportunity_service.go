package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// OpportunityNotifier announces recorded opportunities.
type OpportunityNotifier interface {
	NotifyOpportunity(ctx context.Context, op domain.Opportunity) error
}

// RecentLog is the in-memory opportunity log.
type RecentLog interface {
	Recent(limit int) []domain.Opportunity
	Stats() domain.OpportunityStats
}

// OpportunityService drains detector output into the downstream sinks:
// Postgres history, the "opportunities" channel, the durable Redis stream
// and chat notifications. Every sink is optional; a failing sink is logged
// and does not block the others.
type OpportunityService struct {
	log      RecentLog
	store    domain.OpportunityStore
	pub      Publisher
	stream   Streamer
	notifier OpportunityNotifier
	logger   *slog.Logger
	now      func() time.Time
}

// OpportunityDeps bundles the optional sinks.
type OpportunityDeps struct {
	Store    domain.OpportunityStore
	Pub      Publisher
	Stream   Streamer
	Notifier OpportunityNotifier
}

// NewOpportunityService creates an OpportunityService over the in-memory log.
func NewOpportunityService(log RecentLog, deps OpportunityDeps, logger *slog.Logger) *OpportunityService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpportunityService{
		log:      log,
		store:    deps.Store,
		pub:      deps.Pub,
		stream:   deps.Stream,
		notifier: deps.Notifier,
		logger:   logger.With(slog.String("component", "opportunity_service")),
		now:      time.Now,
	}
}

// Run consumes opportunities until ctx is cancelled or in is closed.
func (s *OpportunityService) Run(ctx context.Context, in <-chan domain.Opportunity) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case op, ok := <-in:
			if !ok {
				return nil
			}
			s.Handle(ctx, op)
		}
	}
}

// Handle fans one newly recorded opportunity out to every configured sink.
func (s *OpportunityService) Handle(ctx context.Context, op domain.Opportunity) {
	s.logger.InfoContext(ctx, "opportunity",
		slog.String("id", op.ID),
		slog.String("route", op.RouteString()),
		slog.Float64("profit_pct", op.ProfitPercentage),
		slog.Float64("net_profit_pct", op.NetProfitPercentage),
	)

	if s.store != nil {
		if err := s.store.Insert(ctx, op); err != nil {
			s.logger.WarnContext(ctx, "persist opportunity failed",
				slog.String("id", op.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.pub != nil || s.stream != nil {
		evt, err := encodeEvent(domain.EventOpportunity, op, s.now())
		if err != nil {
			s.logger.ErrorContext(ctx, "encode opportunity failed", slog.String("error", err.Error()))
			return
		}
		if s.pub != nil {
			if err := s.pub.Publish(ctx, domain.ChannelOpportunities, evt); err != nil {
				s.logger.WarnContext(ctx, "publish opportunity failed",
					slog.String("id", op.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if s.stream != nil {
			if err := s.stream.StreamAppend(ctx, domain.StreamOpportunities, evt); err != nil {
				s.logger.WarnContext(ctx, "stream append failed",
					slog.String("id", op.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyOpportunity(ctx, op); err != nil {
			s.logger.WarnContext(ctx, "notify failed",
				slog.String("id", op.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Recent returns up to limit opportunities from the in-memory log, newest
// first.
func (s *OpportunityService) Recent(limit int) []domain.Opportunity {
	return s.log.Recent(limit)
}

// History pages through persisted opportunities.
func (s *OpportunityService) History(ctx context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	if s.store == nil {
		return nil, fmt.Errorf("opportunity_service: history: %w", domain.ErrNotFound)
	}
	opps, err := s.store.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("opportunity_service: history: %w", err)
	}
	return opps, nil
}

// HasHistory reports whether a persistent store is wired.
func (s *OpportunityService) HasHistory() bool {
	return s.store != nil
}

// Summary returns statistics for the current UTC day from the store, or for
// the retained in-memory log when no store is wired or it fails.
func (s *OpportunityService) Summary(ctx context.Context) domain.OpportunityStats {
	if s.store != nil {
		now := s.now().UTC()
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		stats, err := s.store.Stats(ctx, day)
		if err == nil {
			return stats
		}
		s.logger.WarnContext(ctx, "store stats failed, using in-memory log",
			slog.String("error", err.Error()),
		)
	}
	return s.log.Stats()
}
