package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const cursorColumns = `id, user_id, device_id, app_type, last_event_id, last_sync_at, sync_count,
	          last_event_count, total_synced, device_info, app_version, created_at`

type PostgresCursorRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresCursorRepository(pool *pgxpool.Pool) *PostgresCursorRepository {
	return &PostgresCursorRepository{pool: pool}
}

func (r *PostgresCursorRepository) GetOrCreate(ctx context.Context, key models.ConsumerKey, meta models.CursorMeta) (*models.ConsumerCursor, error) {
	// Lazily creates the cursor on first contact. ON CONFLICT keeps the
	// call safe under concurrent first pulls from the same consumer.
	query := `INSERT INTO consumer_cursors (user_id, device_id, app_type, device_info, app_version)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (user_id, device_id, app_type) DO UPDATE
	          SET device_info = COALESCE(NULLIF(EXCLUDED.device_info, ''), consumer_cursors.device_info),
	              app_version = COALESCE(NULLIF(EXCLUDED.app_version, ''), consumer_cursors.app_version)
	          RETURNING ` + cursorColumns

	cursor, err := scanCursor(r.pool.QueryRow(ctx, query,
		key.UserID, key.DeviceID, key.AppType, meta.DeviceInfo, meta.AppVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to get or create cursor: %w", err)
	}
	return cursor, nil
}

func (r *PostgresCursorRepository) Advance(ctx context.Context, key models.ConsumerKey, lastEventID int64, eventsSynced int, reset bool) (*models.ConsumerCursor, error) {
	// The watermark guard lives in the WHERE clause so concurrent retries
	// of the same consumer cannot interleave into a regression.
	query := `UPDATE consumer_cursors
	          SET last_event_id = $4,
	              last_sync_at = NOW(),
	              sync_count = sync_count + 1,
	              last_event_count = $5,
	              total_synced = total_synced + $5
	          WHERE user_id = $1 AND device_id = $2 AND app_type = $3
	            AND (last_event_id <= $4 OR $6)
	          RETURNING ` + cursorColumns

	cursor, err := scanCursor(r.pool.QueryRow(ctx, query,
		key.UserID, key.DeviceID, key.AppType, lastEventID, eventsSynced, reset))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the cursor does not exist or the guard rejected the
		// update; distinguish so callers can surface the right error.
		exists, exErr := r.exists(ctx, key)
		if exErr != nil {
			return nil, exErr
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrCursorRegression
	}
	if err != nil {
		return nil, fmt.Errorf("failed to advance cursor: %w", err)
	}
	return cursor, nil
}

func (r *PostgresCursorRepository) exists(ctx context.Context, key models.ConsumerKey) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM consumer_cursors WHERE user_id = $1 AND device_id = $2 AND app_type = $3)`,
		key.UserID, key.DeviceID, key.AppType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check cursor existence: %w", err)
	}
	return exists, nil
}

func (r *PostgresCursorRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.ConsumerCursor, error) {
	query := `SELECT ` + cursorColumns + `
	          FROM consumer_cursors
	          WHERE user_id = $1
	          ORDER BY device_id, app_type`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cursors: %w", err)
	}
	defer rows.Close()

	var cursors []*models.ConsumerCursor
	for rows.Next() {
		cursor, err := scanCursor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		cursors = append(cursors, cursor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cursors: %w", err)
	}
	return cursors, nil
}

func (r *PostgresCursorRepository) StatsFor(ctx context.Context, userID uuid.UUID, deviceID, appType string) (*models.CursorStats, error) {
	query := `SELECT
	              COUNT(*),
	              COALESCE(SUM(sync_count), 0),
	              COALESCE(SUM(total_synced), 0),
	              COALESCE(MIN(last_event_id), 0),
	              COALESCE(MAX(last_event_id), 0)
	          FROM consumer_cursors
	          WHERE user_id = $1
	            AND ($2 = '' OR device_id = $2)
	            AND ($3 = '' OR app_type = $3)`

	stats := &models.CursorStats{ByAppType: make(map[string]int64)}
	err := r.pool.QueryRow(ctx, query, userID, deviceID, appType).Scan(
		&stats.TotalCursors,
		&stats.TotalSyncs,
		&stats.TotalSynced,
		&stats.MinEventID,
		&stats.MaxEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor stats: %w", err)
	}

	byApp := `SELECT app_type, COUNT(*)
	          FROM consumer_cursors
	          WHERE user_id = $1
	            AND ($2 = '' OR device_id = $2)
	            AND ($3 = '' OR app_type = $3)
	          GROUP BY app_type`

	rows, err := r.pool.Query(ctx, byApp, userID, deviceID, appType)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor stats by app type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var app string
		var count int64
		if err := rows.Scan(&app, &count); err != nil {
			return nil, fmt.Errorf("failed to scan app type count: %w", err)
		}
		stats.ByAppType[app] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating app type counts: %w", err)
	}
	return stats, nil
}

func (r *PostgresCursorRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM consumer_cursors WHERE last_sync_at IS NOT NULL AND last_sync_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale cursors: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanCursor(row pgx.Row) (*models.ConsumerCursor, error) {
	var cursor models.ConsumerCursor
	err := row.Scan(
		&cursor.ID,
		&cursor.UserID,
		&cursor.DeviceID,
		&cursor.AppType,
		&cursor.LastEventID,
		&cursor.LastSyncAt,
		&cursor.SyncCount,
		&cursor.LastEventCount,
		&cursor.TotalSynced,
		&cursor.DeviceInfo,
		&cursor.AppVersion,
		&cursor.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}
