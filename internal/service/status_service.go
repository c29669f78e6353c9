package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/triarb/internal/arbitrage"
	"github.com/alanyoungcy/triarb/internal/domain"
)

// StreamInfo is the read side of the market data connection.
type StreamInfo interface {
	State() domain.StreamState
	IsRunning() bool
	Reconnects() int
	Dropped() int64
	Interval() string
}

// DetectorInfo is the read side of the detector.
type DetectorInfo interface {
	LastCycle() arbitrage.CycleResult
	Found() int64
}

// PriceInfo is the read side of the price store.
type PriceInfo interface {
	Symbols() []string
	Len() int
}

// LogInfo reports the in-memory log size.
type LogInfo interface {
	Len() int
}

// ClientCounter reports live push clients.
type ClientCounter interface {
	ClientCount() int
}

// StatusService assembles the engine status surface.
type StatusService struct {
	mode     string
	stream   StreamInfo
	detector DetectorInfo
	prices   PriceInfo
	log      LogInfo
	clients  ClientCounter
	started  time.Time
	logger   *slog.Logger
	now      func() time.Time
}

// StatusDeps bundles the status sources. Clients may be nil.
type StatusDeps struct {
	Stream   StreamInfo
	Detector DetectorInfo
	Prices   PriceInfo
	Log      LogInfo
	Clients  ClientCounter
}

// NewStatusService creates a StatusService for the given run mode.
func NewStatusService(mode string, deps StatusDeps, logger *slog.Logger) *StatusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusService{
		mode:     mode,
		stream:   deps.Stream,
		detector: deps.Detector,
		prices:   deps.Prices,
		log:      deps.Log,
		clients:  deps.Clients,
		started:  time.Now().UTC(),
		logger:   logger.With(slog.String("component", "status_service")),
		now:      time.Now,
	}
}

// SetClients wires the client counter once the hub exists.
func (s *StatusService) SetClients(c ClientCounter) {
	s.clients = c
}

// Status returns a point-in-time snapshot.
func (s *StatusService) Status() domain.EngineStatus {
	now := s.now().UTC()
	st := domain.EngineStatus{
		Mode:          s.mode,
		StreamState:   s.stream.State(),
		StreamRunning: s.stream.IsRunning(),
		Reconnects:    s.stream.Reconnects(),
		DroppedTicks:  s.stream.Dropped(),
		Interval:      s.stream.Interval(),
		StartedAt:     s.started,
		UptimeSeconds: int64(now.Sub(s.started).Seconds()),
	}
	if s.prices != nil {
		st.MonitoredSymbols = len(s.prices.Symbols())
		st.PricedSymbols = s.prices.Len()
	}
	if s.detector != nil {
		st.OpportunitiesFound = s.detector.Found()
		if last := s.detector.LastCycle(); !last.Started.IsZero() {
			st.LastDetection = last.Started
			st.LastCycleDuration = last.Duration.String()
		}
	}
	if s.log != nil {
		st.OpportunitiesHeld = s.log.Len()
	}
	if s.clients != nil {
		st.ConnectedClients = s.clients.ClientCount()
	}
	return st
}

// Run publishes a status snapshot on the "status" channel every interval.
func (s *StatusService) Run(ctx context.Context, pub Publisher, interval time.Duration) error {
	if pub == nil || interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			evt, err := encodeEvent(domain.EventStatus, s.Status(), s.now())
			if err != nil {
				s.logger.ErrorContext(ctx, "encode status failed", slog.String("error", err.Error()))
				continue
			}
			if err := pub.Publish(ctx, domain.ChannelStatus, evt); err != nil {
				s.logger.WarnContext(ctx, "publish status failed", slog.String("error", err.Error()))
			}
		}
	}
}

// PublishStreamStatus forwards a connection state change. It is used as the
// stream's OnStatus hook.
func PublishStreamStatus(ctx context.Context, pub Publisher, logger *slog.Logger) func(domain.StreamStatus) {
	return func(st domain.StreamStatus) {
		if pub == nil {
			return
		}
		evt, err := encodeEvent(domain.EventStreamStatus, st, st.At)
		if err != nil {
			return
		}
		if err := pub.Publish(ctx, domain.ChannelStreamStatus, evt); err != nil && logger != nil {
			logger.Debug("publish stream status failed", slog.String("error", err.Error()))
		}
	}
}
