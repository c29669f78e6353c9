package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/platform/binance"
	"github.com/alanyoungcy/triarb/internal/prices"
)

// DecodeFunc turns one frame into a price sample.
type DecodeFunc func(frame []byte) (domain.PriceSample, error)

// StreamConfig tunes a StreamConnection.
type StreamConfig struct {
	// URL is the combined-stream endpoint; the stream names are appended.
	URL                    string
	InitialBackoff         time.Duration
	MaxBackoff             time.Duration
	Jitter                 float64
	MaxConsecutiveFailures int
	HandshakeTimeout       time.Duration

	// HealthyAfter is how long a connection must stay up to count as
	// healthy when it has not delivered a sample yet. Defaults to 30s.
	HealthyAfter time.Duration

	// Decode defaults to binance.DecodeKline.
	Decode DecodeFunc
	// OnStatus is called on every state change, outside any lock.
	OnStatus func(domain.StreamStatus)
	Logger   *slog.Logger
}

// StreamConnection keeps one market data subscription alive and writes every
// decoded tick into the price store. A single supervisor goroutine owns the
// socket and is the only writer to the store.
type StreamConnection struct {
	cfg    StreamConfig
	store  *prices.Store
	dialer *binance.Dialer
	logger *slog.Logger

	// opMu serializes Start, Stop and UpdateSymbols.
	opMu sync.Mutex

	mu         sync.RWMutex
	state      domain.StreamState
	symbols    []string
	interval   string
	attempt    int
	connects   int
	lastErr    error
	lastChange time.Time
	parent     context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	fatalOnce sync.Once
	fatal     chan error

	tapMu   sync.RWMutex
	taps    map[int]chan domain.PriceSample
	nextTap int

	ticks     atomic.Int64
	dropped   atomic.Int64
	malformed atomic.Int64
}

// NewStreamConnection creates an idle connection that feeds store.
func NewStreamConnection(store *prices.Store, cfg StreamConfig) *StreamConnection {
	if cfg.Decode == nil {
		cfg.Decode = binance.DecodeKline
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cfg.HealthyAfter <= 0 {
		cfg.HealthyAfter = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamConnection{
		cfg:    cfg,
		store:  store,
		dialer: binance.NewDialer(cfg.HandshakeTimeout),
		logger: logger.With(slog.String("component", "stream")),
		state:  domain.StreamIdle,
		fatal:  make(chan error, 1),
		taps:   make(map[int]chan domain.PriceSample),
	}
}

// Start subscribes to symbols at interval and returns once the supervisor is
// running; connecting happens in the background. The subscription ends when
// ctx is cancelled or Stop is called.
func (s *StreamConnection) Start(ctx context.Context, symbols []string, interval string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.IsRunning() {
		return fmt.Errorf("feed: start: %w", domain.ErrAlreadyRunning)
	}
	return s.startLocked(ctx, symbols, interval)
}

func (s *StreamConnection) startLocked(ctx context.Context, symbols []string, interval string) error {
	syms := prices.Normalize(symbols)
	if len(syms) == 0 {
		return fmt.Errorf("feed: start: %w", domain.ErrNoSymbols)
	}
	if interval == "" {
		interval = "1m"
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.symbols = syms
	s.interval = interval
	s.parent = ctx
	s.cancel = cancel
	s.done = done
	s.attempt = 0
	s.lastErr = nil
	s.mu.Unlock()

	url := binance.StreamURL(s.cfg.URL, syms, interval)
	s.logger.Info("stream starting",
		slog.Int("symbols", len(syms)),
		slog.String("interval", interval),
	)
	go s.supervise(runCtx, url, done)
	return nil
}

// Stop ends the current subscription and waits for the supervisor to exit.
// It is safe to call at any time and more than once.
func (s *StreamConnection) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()
}

func (s *StreamConnection) stopLocked() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// UpdateSymbols replaces the subscription with one for symbols. The old
// socket is closed before the new one is dialled, so two subscriptions are
// never live at once. The new subscription lives as long as the context
// given to Start; ctx only guards the call itself.
func (s *StreamConnection) UpdateSymbols(ctx context.Context, symbols []string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("feed: update symbols: %w", err)
	}
	if !s.IsRunning() {
		return fmt.Errorf("feed: update symbols: %w", domain.ErrNotRunning)
	}
	if len(prices.Normalize(symbols)) == 0 {
		return fmt.Errorf("feed: update symbols: %w", domain.ErrNoSymbols)
	}

	s.mu.RLock()
	interval, parent := s.interval, s.parent
	s.mu.RUnlock()

	s.stopLocked()
	return s.startLocked(parent, symbols, interval)
}

// IsRunning reports whether a supervisor is active.
func (s *StreamConnection) IsRunning() bool {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// State returns the current connection state.
func (s *StreamConnection) State() domain.StreamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a snapshot of the connection state.
func (s *StreamConnection) Status() domain.StreamStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *StreamConnection) statusLocked() domain.StreamStatus {
	st := domain.StreamStatus{
		State:      s.state,
		Symbols:    len(s.symbols),
		Attempt:    s.attempt,
		Reconnects: s.reconnectsLocked(),
		At:         s.lastChange,
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

// Symbols returns the currently subscribed symbol set.
func (s *StreamConnection) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// Interval returns the subscribed kline interval.
func (s *StreamConnection) Interval() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// Reconnects counts successful connections after the first one.
func (s *StreamConnection) Reconnects() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnectsLocked()
}

func (s *StreamConnection) reconnectsLocked() int {
	if s.connects <= 1 {
		return 0
	}
	return s.connects - 1
}

// Ticks counts samples written to the store.
func (s *StreamConnection) Ticks() int64 { return s.ticks.Load() }

// Dropped counts samples a full tap buffer refused.
func (s *StreamConnection) Dropped() int64 { return s.dropped.Load() }

// Malformed counts frames that failed to decode or validate.
func (s *StreamConnection) Malformed() int64 { return s.malformed.Load() }

// Fatal delivers exactly one error once the retry budget is exhausted.
func (s *StreamConnection) Fatal() <-chan error {
	return s.fatal
}

// Tap returns a channel that receives every stored sample. Sends never
// block: when the buffer is full the sample is dropped for this tap. The
// cancel func unregisters and closes the channel.
func (s *StreamConnection) Tap(buffer int) (<-chan domain.PriceSample, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan domain.PriceSample, buffer)

	s.tapMu.Lock()
	id := s.nextTap
	s.nextTap++
	s.taps[id] = ch
	s.tapMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.tapMu.Lock()
			delete(s.taps, id)
			s.tapMu.Unlock()
			close(ch)
		})
	}
}

func (s *StreamConnection) fanOut(sample domain.PriceSample) {
	s.tapMu.RLock()
	defer s.tapMu.RUnlock()
	for _, ch := range s.taps {
		select {
		case ch <- sample:
		default:
			s.dropped.Add(1)
		}
	}
}

// supervise dials, reads, and redials with backoff until ctx ends or the
// retry budget runs out.
func (s *StreamConnection) supervise(ctx context.Context, url string, done chan struct{}) {
	defer close(done)

	bo := newBackoff(s.cfg.InitialBackoff, s.cfg.MaxBackoff, s.cfg.Jitter)
	failures := 0
	attempt := 0

	for {
		state := domain.StreamConnecting
		if attempt > 0 {
			state = domain.StreamReconnecting
		}
		attempt++
		s.setState(state, attempt, nil)

		healthy, err := s.runConnection(ctx, url)
		if ctx.Err() != nil {
			s.setState(domain.StreamDisconnected, 0, nil)
			s.logger.Info("stream stopped")
			return
		}

		// A socket that is accepted and then dropped before delivering
		// anything counts against the budget like a failed dial.
		if healthy {
			failures = 0
			bo.Reset()
		} else {
			failures++
		}

		if failures >= s.cfg.MaxConsecutiveFailures {
			fatalErr := fmt.Errorf("feed: %d consecutive connection failures: %w: %v",
				failures, domain.ErrRetryBudgetExhausted, err)
			s.setState(domain.StreamFailed, attempt, fatalErr)
			s.logger.Error("stream giving up", slog.String("error", fatalErr.Error()))
			s.fatalOnce.Do(func() { s.fatal <- fatalErr })
			return
		}

		delay := bo.Next()
		s.setState(domain.StreamReconnecting, attempt, err)
		s.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Int("failures", failures),
			slog.Duration("backoff", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(domain.StreamDisconnected, 0, nil)
			s.logger.Info("stream stopped")
			return
		case <-timer.C:
		}
	}
}

// runConnection dials once and reads until the socket fails. healthy
// reports whether the connection delivered a valid sample or stayed up for
// HealthyAfter.
func (s *StreamConnection) runConnection(ctx context.Context, url string) (healthy bool, err error) {
	conn, err := s.dialer.Dial(ctx, url)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// Closing the socket is the only way to unblock ReadFrame.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-conn.Done():
		}
	}()

	s.mu.Lock()
	s.connects++
	s.mu.Unlock()
	s.setState(domain.StreamConnected, 0, nil)
	s.logger.Info("stream connected", slog.Int("reconnects", s.Reconnects()))

	connectedAt := time.Now()
	delivered := false
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return delivered || time.Since(connectedAt) >= s.cfg.HealthyAfter, err
		}
		sample, err := s.cfg.Decode(frame)
		if err != nil {
			s.malformed.Add(1)
			s.logger.Debug("skipping frame", slog.String("error", err.Error()))
			continue
		}
		if err := s.store.Set(sample); err != nil {
			if !errors.Is(err, domain.ErrNotMonitored) {
				s.malformed.Add(1)
			}
			s.logger.Debug("skipping sample",
				slog.String("symbol", sample.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered = true
		s.ticks.Add(1)
		s.fanOut(sample)
	}
}

func (s *StreamConnection) setState(state domain.StreamState, attempt int, err error) {
	s.mu.Lock()
	s.state = state
	s.attempt = attempt
	s.lastErr = err
	s.lastChange = time.Now().UTC()
	st := s.statusLocked()
	s.mu.Unlock()

	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(st)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
