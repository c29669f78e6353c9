package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const oppSelectCols = `id, route, symbols, profit_pct, net_profit_pct, prices,
	detected_at, last_seen_at, hits`

// Insert stores an opportunity. Re-inserting the same ID (a repeat sighting
// merged in the log) refreshes last_seen_at, hits and profit.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, route, symbols, route_key, profit_pct, net_profit_pct, prices,
			detected_at, last_seen_at, hits
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			profit_pct     = EXCLUDED.profit_pct,
			net_profit_pct = EXCLUDED.net_profit_pct,
			prices         = EXCLUDED.prices,
			last_seen_at   = EXCLUDED.last_seen_at,
			hits           = EXCLUDED.hits`

	pricesJSON, err := json.Marshal(opp.Prices)
	if err != nil {
		return fmt.Errorf("postgres: marshal prices %s: %w", opp.ID, err)
	}
	lastSeen := opp.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = opp.DetectedAt
	}
	hits := opp.Hits
	if hits < 1 {
		hits = 1
	}

	_, err = s.pool.Exec(ctx, query,
		opp.ID, opp.Route, opp.Symbols, opp.RouteKey(),
		opp.ProfitPercentage, opp.NetProfitPercentage, pricesJSON,
		opp.DetectedAt, lastSeen, hits,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// ListRecent returns opportunities newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx, recentQuery, listArgs(opts))
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	return collectOpportunities(rows)
}

const recentQuery = `SELECT ` + oppSelectCols + ` FROM opportunities
	WHERE (@since::timestamptz IS NULL OR detected_at >= @since)
	  AND (@until::timestamptz IS NULL OR detected_at <= @until)
	ORDER BY detected_at DESC
	LIMIT @limit OFFSET @offset`

// ListBefore returns every opportunity detected before the cutoff, oldest
// first, for archiving.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM opportunities WHERE detected_at < $1 ORDER BY detected_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectOpportunities(rows)
}

// DeleteBefore removes opportunities detected before the cutoff.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Stats aggregates opportunities detected since the given time.
func (s *OpportunityStore) Stats(ctx context.Context, since time.Time) (domain.OpportunityStats, error) {
	const aggQuery = `
		SELECT COUNT(*), COALESCE(AVG(profit_pct), 0), COALESCE(MAX(profit_pct), 0)
		FROM opportunities WHERE detected_at >= $1`

	stats := domain.OpportunityStats{Since: since}
	if err := s.pool.QueryRow(ctx, aggQuery, since).Scan(
		&stats.Total, &stats.AvgProfitPct, &stats.MaxProfitPct,
	); err != nil {
		return domain.OpportunityStats{}, fmt.Errorf("postgres: opportunity stats: %w", err)
	}
	stats.Retained = int(stats.Total)
	if stats.Total == 0 {
		return stats, nil
	}

	const bestQuery = `
		SELECT route FROM opportunities WHERE detected_at >= $1
		ORDER BY profit_pct DESC, detected_at DESC LIMIT 1`
	var route []string
	if err := s.pool.QueryRow(ctx, bestQuery, since).Scan(&route); err != nil {
		return domain.OpportunityStats{}, fmt.Errorf("postgres: best route: %w", err)
	}
	stats.BestRoute = domain.Opportunity{Route: route}.RouteString()
	return stats, nil
}

func collectOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		var opp domain.Opportunity
		var pricesJSON []byte
		if err := rows.Scan(
			&opp.ID, &opp.Route, &opp.Symbols,
			&opp.ProfitPercentage, &opp.NetProfitPercentage, &pricesJSON,
			&opp.DetectedAt, &opp.LastSeenAt, &opp.Hits,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		if len(pricesJSON) > 0 {
			opp.Prices = make(map[string]decimal.Decimal)
			if err := json.Unmarshal(pricesJSON, &opp.Prices); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal prices %s: %w", opp.ID, err)
			}
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: opportunity rows: %w", err)
	}
	return opps, nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
