package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Triggerer requests an out-of-schedule detection cycle.
type Triggerer interface {
	Trigger()
}

// PriceService drains a stream tap: it mirrors each sample to the price
// cache, publishes it on the "prices" channel and pokes the detector every
// triggerEvery samples. Cache, publisher and trigger are each optional.
type PriceService struct {
	cache        domain.PriceCache
	pub          Publisher
	trigger      Triggerer
	triggerEvery int64
	logger       *slog.Logger

	handled atomic.Int64
	failed  atomic.Int64
}

// NewPriceService creates a PriceService. triggerEvery <= 0 disables
// tick-driven triggering.
func NewPriceService(
	cache domain.PriceCache,
	pub Publisher,
	trigger Triggerer,
	triggerEvery int,
	logger *slog.Logger,
) *PriceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceService{
		cache:        cache,
		pub:          pub,
		trigger:      trigger,
		triggerEvery: int64(triggerEvery),
		logger:       logger.With(slog.String("component", "price_service")),
	}
}

// Run consumes samples until ctx is cancelled or the tap is closed.
func (s *PriceService) Run(ctx context.Context, tap <-chan domain.PriceSample) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sample, ok := <-tap:
			if !ok {
				return nil
			}
			if err := s.HandleSample(ctx, sample); err != nil {
				s.failed.Add(1)
				s.logger.WarnContext(ctx, "handle sample failed",
					slog.String("symbol", sample.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// HandleSample mirrors and publishes one sample.
func (s *PriceService) HandleSample(ctx context.Context, sample domain.PriceSample) error {
	n := s.handled.Add(1)
	if s.trigger != nil && s.triggerEvery > 0 && n%s.triggerEvery == 0 {
		s.trigger.Trigger()
	}

	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, sample); err != nil {
			return fmt.Errorf("price_service: cache %s: %w", sample.Symbol, err)
		}
	}

	if s.pub != nil {
		evt, err := encodeEvent(domain.EventPrice, sample, time.Now())
		if err != nil {
			return fmt.Errorf("price_service: %w", err)
		}
		if err := s.pub.Publish(ctx, domain.ChannelPrices, evt); err != nil {
			return fmt.Errorf("price_service: publish %s: %w", sample.Symbol, err)
		}
	}
	return nil
}

// Handled counts samples processed, including failed ones.
func (s *PriceService) Handled() int64 { return s.handled.Load() }

// Failed counts samples whose mirror or publish failed.
func (s *PriceService) Failed() int64 { return s.failed.Load() }
