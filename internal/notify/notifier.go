// Package notify sends operator alerts for opportunities and stream failures
// to chat channels (Telegram, Discord). Alerts can be filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Event types accepted by Notify.
const (
	EventOpportunity  = "opportunity"
	EventStreamFailed = "stream_failed"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier dispatches notifications to every Sender. Notify forwards only
// allowed event types; an empty allow list lets everything through.
type Notifier struct {
	senders      []Sender
	events       map[string]bool
	minProfitPct float64
	logger       *slog.Logger
	now          func() time.Time

	mu sync.Mutex
	// mutedUntil holds senders that asked to be left alone after a rate limit.
	mutedUntil map[string]time.Time
}

// NewNotifier creates a Notifier. Opportunities below minProfitPct are not
// announced.
func NewNotifier(senders []Sender, events []string, minProfitPct float64, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:      senders,
		events:       allowed,
		minProfitPct: minProfitPct,
		logger:       logger.With(slog.String("component", "notifier")),
		now:          time.Now,
		mutedUntil:   make(map[string]time.Time),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify sends to all senders if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyOpportunity announces a newly recorded opportunity.
func (n *Notifier) NotifyOpportunity(ctx context.Context, op domain.Opportunity) error {
	if op.ProfitPercentage < n.minProfitPct {
		return nil
	}
	title := fmt.Sprintf("Arbitrage %.4f%%: %s", op.ProfitPercentage, op.RouteString())
	return n.Notify(ctx, EventOpportunity, title, FormatOpportunity(op))
}

// NotifyStreamFailure announces that the market data stream gave up.
func (n *Notifier) NotifyStreamFailure(ctx context.Context, cause error) error {
	return n.Notify(ctx, EventStreamFailed, "Market data stream failed", cause.Error())
}

// FormatOpportunity renders the message body for an opportunity.
func FormatOpportunity(op domain.Opportunity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Route: %s\n", op.RouteString())
	fmt.Fprintf(&b, "Pairs: %s\n", strings.Join(op.Symbols, ", "))
	fmt.Fprintf(&b, "Gross: %.4f%%  Net: %.4f%%\n", op.ProfitPercentage, op.NetProfitPercentage)
	if len(op.Prices) > 0 {
		syms := make([]string, 0, len(op.Prices))
		for s := range op.Prices {
			syms = append(syms, s)
		}
		sort.Strings(syms)
		for _, s := range syms {
			fmt.Fprintf(&b, "%s = %s\n", s, op.Prices[s].String())
		}
	}
	fmt.Fprintf(&b, "Detected: %s", op.DetectedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

// dispatch sends to every sender; one failure does not stop the others. A
// sender that answered with a retry hint is skipped until the hint expires.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if until, muted := n.muted(s.Name()); muted {
			n.logger.DebugContext(ctx, "sender rate limited, skipping",
				slog.String("sender", s.Name()),
				slog.Time("until", until),
			)
			continue
		}
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			var de *DeliveryError
			if errors.As(err, &de) && de.RetryAfter > 0 {
				n.mute(s.Name(), de.RetryAfter)
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (n *Notifier) muted(name string) (time.Time, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	until, ok := n.mutedUntil[name]
	if !ok {
		return time.Time{}, false
	}
	if !n.now().Before(until) {
		delete(n.mutedUntil, name)
		return time.Time{}, false
	}
	return until, true
}

func (n *Notifier) mute(name string, d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mutedUntil[name] = n.now().Add(d)
}
