package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for users and plants
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new plant repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListDuePlants returns plants whose next_due_at is at or before now, oldest
// first, capped at limit. Plants beyond the cap stay due and are picked up by a
// later run.
func (r *Repository) ListDuePlants(ctx context.Context, now time.Time, limit int) ([]*Plant, error) {
	query := `
		SELECT
			id, user_id, name, watering_interval_days,
			next_due_at, last_notified_at, last_watered_at
		FROM plants
		WHERE next_due_at IS NOT NULL AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due plants: %w", err)
	}
	defer rows.Close()

	var plants []*Plant
	for rows.Next() {
		var (
			plant    Plant
			interval *int32
		)
		err := rows.Scan(
			&plant.ID,
			&plant.UserID,
			&plant.Name,
			&interval,
			&plant.NextDueAt,
			&plant.LastNotifiedAt,
			&plant.LastWateredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan plant: %w", err)
		}
		if interval != nil {
			plant.WateringIntervalDays = int(*interval)
		}
		plants = append(plants, &plant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return plants, nil
}

// GetUser retrieves a user and both shapes of its push destinations
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, push_tokens, push_token, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user User
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.PushTokens,
		&user.PushToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// RemovePushToken drops a single destination from a user. Only the two token
// columns are touched, so a concurrent registration of a different token is
// not lost.
func (r *Repository) RemovePushToken(ctx context.Context, userID, token string) error {
	query := `
		UPDATE users
		SET push_tokens = array_remove(push_tokens, $2),
			push_token = CASE WHEN push_token = $2 THEN NULL ELSE push_token END,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, userID, token)
	if err != nil {
		return fmt.Errorf("remove push token: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	r.logger.Info("push token removed",
		zap.String("user_id", userID),
	)

	return nil
}

// UpdatePlantSchedule records a reminder attempt and the plant's next due time.
func (r *Repository) UpdatePlantSchedule(ctx context.Context, userID, plantID string, notifiedAt, nextDueAt time.Time) error {
	query := `
		UPDATE plants
		SET last_notified_at = $3, next_due_at = $4, updated_at = NOW()
		WHERE user_id = $1 AND id = $2
	`

	result, err := r.db.Pool().Exec(ctx, query, userID, plantID, notifiedAt, nextDueAt)
	if err != nil {
		return fmt.Errorf("update plant schedule: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("plant %s/%s: %w", userID, plantID, ErrNotFound)
	}

	return nil
}
