package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `id, entity_kind, entity_id, operation, payload, occurred_at, actor,
	          priority, category, processed, processed_at, archived, archived_at`

type PostgresEventRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresEventRepository(pool *pgxpool.Pool) *PostgresEventRepository {
	return &PostgresEventRepository{pool: pool}
}

func (r *PostgresEventRepository) Append(ctx context.Context, event *models.Event) error {
	// The id comes from the table's sequence, so concurrent appends can
	// never observe a duplicate and ids are never reused after purge.
	query := `INSERT INTO events (entity_kind, entity_id, operation, payload, occurred_at,
	                              actor, priority, category)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING id, occurred_at`

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	err := r.pool.QueryRow(ctx, query,
		event.EntityKind,
		event.EntityID,
		event.Operation,
		event.Payload,
		occurredAt,
		event.Actor,
		event.Priority,
		event.Category,
	).Scan(&event.ID, &event.OccurredAt)

	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *PostgresEventRepository) GetByID(ctx context.Context, id int64) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	event, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event by ID: %w", err)
	}
	return event, nil
}

func (r *PostgresEventRepository) Pull(ctx context.Context, afterID int64, limit int, filters models.PullFilters) ([]*models.Event, bool, error) {
	conditions := []string{"id > $1", "processed = false", "archived = false"}
	args := []any{afterID}

	if len(filters.EntityKinds) > 0 {
		args = append(args, filters.EntityKinds)
		conditions = append(conditions, fmt.Sprintf("entity_kind = ANY($%d)", len(args)))
	}
	if filters.Priority != "" {
		args = append(args, filters.Priority)
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)))
	}

	// Fetch one extra row beyond the limit to detect whether more events
	// remain without a second count query.
	args = append(args, limit+1)
	query := `SELECT ` + eventColumns + `
	          FROM events
	          WHERE ` + strings.Join(conditions, " AND ") + `
	          ORDER BY id ASC
	          LIMIT $` + fmt.Sprint(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to pull events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, false, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("error iterating events: %w", err)
	}

	hasMore := false
	if len(events) > limit {
		hasMore = true
		events = events[:limit]
	}
	return events, hasMore, nil
}

func (r *PostgresEventRepository) MarkProcessed(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	// The processed = false guard makes the transition monotone and the
	// call idempotent: re-marking an already-processed id is a no-op.
	query := `UPDATE events
	          SET processed = true, processed_at = NOW()
	          WHERE id = ANY($1) AND processed = false`

	result, err := r.pool.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark events processed: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresEventRepository) CountPending(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM events WHERE processed = false AND archived = false`

	var count int64
	if err := r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}

func (r *PostgresEventRepository) Archive(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE events
	          SET archived = true, archived_at = NOW()
	          WHERE processed = true AND archived = false AND occurred_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive events: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresEventRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	// Only archived events are eligible; unprocessed events are never
	// deleted regardless of age.
	query := `DELETE FROM events WHERE archived = true AND occurred_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresEventRepository) Stats(ctx context.Context, windowDays int) (*models.EventStats, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)

	stats := &models.EventStats{
		PeriodDays: windowDays,
		ByPriority: make(map[string]int64),
	}

	query := `SELECT
	              COUNT(*),
	              COUNT(*) FILTER (WHERE processed = true),
	              COUNT(*) FILTER (WHERE processed = false AND archived = false),
	              COUNT(*) FILTER (WHERE archived = true)
	          FROM events WHERE occurred_at >= $1`

	err := r.pool.QueryRow(ctx, query, cutoff).Scan(
		&stats.Total, &stats.Processed, &stats.Pending, &stats.Archived)
	if err != nil {
		return nil, fmt.Errorf("failed to get event counts: %w", err)
	}

	byModel := `SELECT entity_kind, COUNT(*) AS count
	            FROM events
	            WHERE occurred_at >= $1
	            GROUP BY entity_kind
	            ORDER BY count DESC
	            LIMIT 10`

	rows, err := r.pool.Query(ctx, byModel, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get counts by entity kind: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mc models.ModelCount
		if err := rows.Scan(&mc.Model, &mc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan entity kind count: %w", err)
		}
		stats.ByModel = append(stats.ByModel, mc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity kind counts: %w", err)
	}

	byPriority := `SELECT priority, COUNT(*) FROM events WHERE occurred_at >= $1 GROUP BY priority`

	prows, err := r.pool.Query(ctx, byPriority, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get counts by priority: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		var priority string
		var count int64
		if err := prows.Scan(&priority, &count); err != nil {
			return nil, fmt.Errorf("failed to scan priority count: %w", err)
		}
		stats.ByPriority[priority] = count
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating priority counts: %w", err)
	}

	return stats, nil
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var event models.Event
	err := row.Scan(
		&event.ID,
		&event.EntityKind,
		&event.EntityID,
		&event.Operation,
		&event.Payload,
		&event.OccurredAt,
		&event.Actor,
		&event.Priority,
		&event.Category,
		&event.Processed,
		&event.ProcessedAt,
		&event.Archived,
		&event.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &event, nil
}
