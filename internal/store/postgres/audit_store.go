package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// AuditStore keeps the operational audit trail: stream failures, symbol
// replacements, archive runs and lost ingest leases.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one entry. The database clock stamps it and detail is stored as
// JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if event == "" {
		return errors.New("postgres: audit event is empty")
	}
	if detail == nil {
		detail = map[string]any{}
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, detail); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(ctx, "", opts)
}

// ListByEvent returns one event's entries newest first.
func (s *AuditStore) ListByEvent(ctx context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(ctx, event, opts)
}

const auditListQuery = `
	SELECT id, event, detail, created_at FROM audit_log
	WHERE (@event::text IS NULL OR event = @event)
	  AND (@since::timestamptz IS NULL OR created_at >= @since)
	  AND (@until::timestamptz IS NULL OR created_at <= @until)
	ORDER BY created_at DESC, id DESC
	LIMIT @limit OFFSET @offset`

func auditArgs(event string, opts domain.ListOpts) pgx.NamedArgs {
	args := listArgs(opts)
	args["event"] = nil
	if event != "" {
		args["event"] = event
	}
	return args
}

func (s *AuditStore) list(ctx context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, auditListQuery, auditArgs(event, opts))
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var e domain.AuditEntry
		err := row.Scan(&e.ID, &e.Event, &e.Detail, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entries: %w", err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
