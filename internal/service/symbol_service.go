package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/prices"
)

// SymbolUpdater resubscribes the live stream.
type SymbolUpdater interface {
	UpdateSymbols(ctx context.Context, symbols []string) error
	IsRunning() bool
}

// SymbolService owns changes to the monitored symbol set. The price store is
// updated first so stale entries disappear before the new subscription
// starts delivering.
type SymbolService struct {
	// mu keeps the store's monitored set and the stream subscription in
	// step when replacements race.
	mu sync.Mutex

	store  *prices.Store
	stream SymbolUpdater
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewSymbolService creates a SymbolService. stream and audit may be nil.
func NewSymbolService(store *prices.Store, stream SymbolUpdater, audit domain.AuditStore, logger *slog.Logger) *SymbolService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SymbolService{
		store:  store,
		stream: stream,
		audit:  audit,
		logger: logger.With(slog.String("component", "symbol_service")),
	}
}

// Symbols returns the monitored set.
func (s *SymbolService) Symbols() []string {
	return s.store.Symbols()
}

// Replace installs a new monitored set and resubscribes the stream when it
// is running. It returns the normalized set.
func (s *SymbolService) Replace(ctx context.Context, symbols []string) ([]string, error) {
	if len(prices.Normalize(symbols)) == 0 {
		return nil, fmt.Errorf("symbol_service: replace: %w", domain.ErrNoSymbols)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.store.Symbols()
	applied := s.store.ReplaceSymbolSet(symbols)
	if equalStrings(before, applied) {
		return applied, nil
	}

	if s.stream != nil && s.stream.IsRunning() {
		if err := s.stream.UpdateSymbols(ctx, applied); err != nil {
			return applied, fmt.Errorf("symbol_service: resubscribe: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "monitored symbols replaced",
		slog.Int("before", len(before)),
		slog.Int("after", len(applied)),
	)
	if s.audit != nil {
		if err := s.audit.Log(ctx, domain.AuditSymbolsUpdated, map[string]any{
			"before": before,
			"after":  applied,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit symbols update failed", slog.String("error", err.Error()))
		}
	}
	return applied, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
