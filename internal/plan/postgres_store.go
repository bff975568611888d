package plan

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetByUser(ctx context.Context, userID string) (*Subscription, error) {
	query := `
		SELECT id, user_id, plan_name, status, external_id,
		       current_period_start, current_period_end, cancel_at_period_end,
		       created_at, updated_at
		FROM user_subscriptions
		WHERE user_id = $1
	`

	var sub Subscription
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&sub.ID, &sub.UserID, &sub.PlanName, &sub.Status, &sub.ExternalID,
		&sub.PeriodStart, &sub.PeriodEnd, &sub.CancelAtPeriodEnd,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return &sub, nil
}

func (s *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO user_subscriptions (user_id, plan_name, status, external_id, current_period_start, current_period_end, cancel_at_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRow(ctx, query,
		sub.UserID, sub.PlanName, sub.Status, sub.ExternalID,
		sub.PeriodStart, sub.PeriodEnd, sub.CancelAtPeriodEnd,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost a concurrent-signup race; the existing row wins.
			existing, getErr := s.GetByUser(ctx, sub.UserID)
			if getErr != nil {
				return getErr
			}
			*sub = *existing
			return nil
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

func (s *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	query := `
		UPDATE user_subscriptions
		SET plan_name = $2, status = $3, external_id = $4,
		    current_period_start = $5, current_period_end = $6,
		    cancel_at_period_end = $7, updated_at = now()
		WHERE user_id = $1
	`
	tag, err := s.db.Exec(ctx, query,
		sub.UserID, sub.PlanName, sub.Status, sub.ExternalID,
		sub.PeriodStart, sub.PeriodEnd, sub.CancelAtPeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}

	return nil
}
