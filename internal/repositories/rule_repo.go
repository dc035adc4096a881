package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ruleColumns = `id, name, entity_kind, operation, predicate, tracked_fields, priority,
	          category, instant_delivery, rate_limit, debounce_seconds, active, created_at`

type PostgresRuleRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRuleRepository(pool *pgxpool.Pool) *PostgresRuleRepository {
	return &PostgresRuleRepository{pool: pool}
}

func (r *PostgresRuleRepository) Create(ctx context.Context, rule *models.Rule) error {
	query := `INSERT INTO monitored_rules (name, entity_kind, operation, predicate, tracked_fields,
	                                       priority, category, instant_delivery, rate_limit,
	                                       debounce_seconds, active)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	          RETURNING id, created_at`

	err := r.pool.QueryRow(ctx, query,
		rule.Name,
		rule.EntityKind,
		rule.Operation,
		rule.Predicate,
		rule.TrackedFields,
		rule.Priority,
		rule.Category,
		rule.InstantDelivery,
		rule.RateLimit,
		rule.DebounceSeconds,
		rule.Active,
	).Scan(&rule.ID, &rule.CreatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicateRule
	}
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *PostgresRuleRepository) GetByID(ctx context.Context, id int64) (*models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM monitored_rules WHERE id = $1`

	rule, err := scanRule(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule by ID: %w", err)
	}
	return rule, nil
}

func (r *PostgresRuleRepository) Update(ctx context.Context, rule *models.Rule) error {
	query := `UPDATE monitored_rules
	          SET name = $1,
	              entity_kind = $2,
	              operation = $3,
	              predicate = $4,
	              tracked_fields = $5,
	              priority = $6,
	              category = $7,
	              instant_delivery = $8,
	              rate_limit = $9,
	              debounce_seconds = $10,
	              active = $11
	          WHERE id = $12`

	result, err := r.pool.Exec(ctx, query,
		rule.Name,
		rule.EntityKind,
		rule.Operation,
		rule.Predicate,
		rule.TrackedFields,
		rule.Priority,
		rule.Category,
		rule.InstantDelivery,
		rule.RateLimit,
		rule.DebounceSeconds,
		rule.Active,
		rule.ID,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateRule
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRuleRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM monitored_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRuleRepository) ListActive(ctx context.Context) ([]*models.Rule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM monitored_rules WHERE active = true ORDER BY id ASC`)
}

func (r *PostgresRuleRepository) List(ctx context.Context) ([]*models.Rule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM monitored_rules ORDER BY id ASC`)
}

func (r *PostgresRuleRepository) list(ctx context.Context, query string) ([]*models.Rule, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

func scanRule(row pgx.Row) (*models.Rule, error) {
	var rule models.Rule
	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.EntityKind,
		&rule.Operation,
		&rule.Predicate,
		&rule.TrackedFields,
		&rule.Priority,
		&rule.Category,
		&rule.InstantDelivery,
		&rule.RateLimit,
		&rule.DebounceSeconds,
		&rule.Active,
		&rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
