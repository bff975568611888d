package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) IncrementMonthly(ctx context.Context, userID string, year, month int, delta Delta) error {
	// Upsert with additive conflict resolution: the increment happens
	// server-side, so concurrent requests for the same owner never lose
	// updates.
	query := `
		INSERT INTO monthly_usage (user_id, year, month, requests_made, cache_hits, cache_misses, tokens_saved, cost_saved, overage_requests, overage_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, year, month) DO UPDATE SET
			requests_made    = monthly_usage.requests_made + EXCLUDED.requests_made,
			cache_hits       = monthly_usage.cache_hits + EXCLUDED.cache_hits,
			cache_misses     = monthly_usage.cache_misses + EXCLUDED.cache_misses,
			tokens_saved     = monthly_usage.tokens_saved + EXCLUDED.tokens_saved,
			cost_saved       = monthly_usage.cost_saved + EXCLUDED.cost_saved,
			overage_requests = monthly_usage.overage_requests + EXCLUDED.overage_requests,
			overage_cost     = monthly_usage.overage_cost + EXCLUDED.overage_cost,
			updated_at       = now()
	`
	_, err := s.db.Exec(ctx, query,
		userID, year, month,
		delta.Requests, delta.CacheHits, delta.CacheMisses,
		delta.TokensSaved, delta.CostSaved,
		delta.OverageRequests, delta.OverageCost,
	)
	if err != nil {
		return fmt.Errorf("failed to increment monthly usage: %w", err)
	}

	return nil
}

func (s *PostgresStore) CurrentMonthRequests(ctx context.Context, userID string, year, month int) (int64, error) {
	query := `
		SELECT requests_made
		FROM monthly_usage
		WHERE user_id = $1 AND year = $2 AND month = $3
	`
	var count int64
	err := s.db.QueryRow(ctx, query, userID, year, month).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read monthly usage: %w", err)
	}

	return count, nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, entry *LogEntry) error {
	query := `
		INSERT INTO usage_logs (user_id, api_key_id, cache_hit, tokens_used, cost, model_used, response_time_ms, status_code)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		entry.UserID, entry.APIKeyID, entry.CacheHit,
		entry.TokensUsed, entry.Cost, entry.ModelUsed,
		entry.ResponseTimeMs, entry.StatusCode,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append usage log: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetStats(ctx context.Context, userID string) (*Stats, error) {
	query := `
		SELECT COALESCE(SUM(requests_made), 0),
		       COALESCE(SUM(cache_hits), 0),
		       COALESCE(SUM(cost_saved), 0),
		       COALESCE(SUM(tokens_saved), 0)
		FROM monthly_usage
		WHERE user_id = $1
	`
	var stats Stats
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&stats.TotalRequests, &stats.CacheHits, &stats.TotalCostSaved, &stats.TotalTokensSaved,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage stats: %w", err)
	}

	if stats.TotalRequests > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.TotalRequests)
	}

	return &stats, nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, userID string, months int) ([]*Monthly, error) {
	query := `
		SELECT user_id, year, month, requests_made, cache_hits, cache_misses,
		       tokens_saved, cost_saved, overage_requests, overage_cost, updated_at
		FROM monthly_usage
		WHERE user_id = $1
		ORDER BY year DESC, month DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, userID, months)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage history: %w", err)
	}
	defer rows.Close()

	var history []*Monthly
	for rows.Next() {
		var m Monthly
		err := rows.Scan(
			&m.UserID, &m.Year, &m.Month, &m.RequestsMade, &m.CacheHits, &m.CacheMisses,
			&m.TokensSaved, &m.CostSaved, &m.OverageRequests, &m.OverageCost, &m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage history: %w", err)
		}
		history = append(history, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage history: %w", err)
	}

	return history, nil
}
