package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDeadLetterRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresDeadLetterRepository(pool *pgxpool.Pool) *PostgresDeadLetterRepository {
	return &PostgresDeadLetterRepository{pool: pool}
}

func (r *PostgresDeadLetterRepository) Create(ctx context.Context, entry *models.DeadLetterEntry) error {
	// One terminal entry per event. A second dead-letter of the same event
	// (e.g. after a manual requeue fails again) refreshes the record.
	query := `INSERT INTO dead_letters (event_id, final_error, attempts, failed_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (event_id) DO UPDATE
	          SET final_error = EXCLUDED.final_error,
	              attempts = EXCLUDED.attempts,
	              failed_at = EXCLUDED.failed_at
	          RETURNING id`

	failedAt := entry.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}

	err := r.pool.QueryRow(ctx, query,
		entry.EventID, entry.FinalError, entry.Attempts, failedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to create dead letter entry: %w", err)
	}
	entry.FailedAt = failedAt
	return nil
}

func (r *PostgresDeadLetterRepository) List(ctx context.Context, limit int) ([]*models.DeadLetterEntry, error) {
	query := `SELECT id, event_id, final_error, attempts, failed_at
	          FROM dead_letters
	          ORDER BY failed_at DESC
	          LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*models.DeadLetterEntry
	for rows.Next() {
		var entry models.DeadLetterEntry
		err := rows.Scan(&entry.ID, &entry.EventID, &entry.FinalError, &entry.Attempts, &entry.FailedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letters: %w", err)
	}
	return entries, nil
}

func (r *PostgresDeadLetterRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM dead_letters WHERE failed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old dead letters: %w", err)
	}
	return result.RowsAffected(), nil
}
