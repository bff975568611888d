package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
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

func (s *PostgresStore) GetExact(ctx context.Context, userID, queryHash string) (*Entry, error) {
	query := `
		SELECT id, user_id, query_hash, query_text, response_text, model_used,
		       tokens_saved, cost_saved, hit_count, created_at, expires_at
		FROM cache_entries
		WHERE user_id = $1 AND query_hash = $2 AND expires_at > now()
	`

	var e Entry
	err := s.db.QueryRow(ctx, query, userID, queryHash).Scan(
		&e.ID, &e.UserID, &e.QueryHash, &e.QueryText, &e.ResponseText, &e.ModelUsed,
		&e.TokensSaved, &e.CostSaved, &e.HitCount, &e.CreatedAt, &e.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	return &e, nil
}

func (s *PostgresStore) Search(ctx context.Context, userID string, embedding []float32, threshold float64, topK int) ([]Match, error) {
	// <=> is pgvector cosine distance; similarity = 1 - distance.
	query := `
		SELECT id, user_id, query_hash, query_text, response_text, model_used,
		       tokens_saved, cost_saved, hit_count, created_at, expires_at,
		       1 - (query_embedding <=> $2) AS similarity
		FROM cache_entries
		WHERE user_id = $1
		  AND query_embedding IS NOT NULL
		  AND expires_at > now()
		  AND 1 - (query_embedding <=> $2) >= $3
		ORDER BY similarity DESC, created_at ASC
		LIMIT $4
	`

	rows, err := s.db.Query(ctx, query, userID, pgvector.NewVector(embedding), threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search cache entries: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var e Entry
		var similarity float64
		err := rows.Scan(
			&e.ID, &e.UserID, &e.QueryHash, &e.QueryText, &e.ResponseText, &e.ModelUsed,
			&e.TokensSaved, &e.CostSaved, &e.HitCount, &e.CreatedAt, &e.ExpiresAt,
			&similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache match: %w", err)
		}
		matches = append(matches, Match{Entry: &e, Similarity: similarity})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache matches: %w", err)
	}

	return matches, nil
}

func (s *PostgresStore) Insert(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO cache_entries (user_id, query_hash, query_text, query_embedding, response_text, model_used, tokens_saved, cost_saved, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, query_hash) DO UPDATE SET
			response_text = EXCLUDED.response_text,
			model_used = EXCLUDED.model_used,
			tokens_saved = EXCLUDED.tokens_saved,
			cost_saved = EXCLUDED.cost_saved,
			query_embedding = EXCLUDED.query_embedding,
			expires_at = EXCLUDED.expires_at
		RETURNING id, created_at
	`

	var embedding any
	if len(entry.Embedding) > 0 {
		embedding = pgvector.NewVector(entry.Embedding)
	}

	err := s.db.QueryRow(ctx, query,
		entry.UserID, entry.QueryHash, entry.QueryText, embedding,
		entry.ResponseText, entry.ModelUsed, entry.TokensSaved, entry.CostSaved,
		entry.ExpiresAt,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}

	return nil
}

func (s *PostgresStore) IncrementHit(ctx context.Context, entryID string) error {
	// Storage-side increment: concurrent hits on the same entry each land.
	query := `UPDATE cache_entries SET hit_count = hit_count + 1 WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, entryID)
	if err != nil {
		return fmt.Errorf("failed to increment hit count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
