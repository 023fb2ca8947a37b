package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) UpsertRule(ctx context.Context, rule *WeeklyRule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO weekly_rules (provider_id, weekday, start_time, end_time, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (provider_id, weekday)
		DO UPDATE SET start_time = $3, end_time = $4, enabled = $5, updated_at = now()
	`, rule.ProviderID, rule.Weekday, rule.StartTime, rule.EndTime, rule.Enabled)
	if err != nil {
		return fmt.Errorf("upsert weekly rule: %w", err)
	}
	return nil
}

// ReplaceRules swaps the whole weekly schedule in one transaction. Blocked
// dates are untouched; unblocking is a separate explicit operation.
func (r *PgRepository) ReplaceRules(ctx context.Context, providerID uuid.UUID, rules []WeeklyRule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace rules: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM weekly_rules WHERE provider_id = $1`, providerID); err != nil {
		return fmt.Errorf("clear weekly rules: %w", err)
	}

	for _, rule := range rules {
		_, err := tx.Exec(ctx, `
			INSERT INTO weekly_rules (provider_id, weekday, start_time, end_time, enabled, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
		`, providerID, rule.Weekday, rule.StartTime, rule.EndTime, rule.Enabled)
		if err != nil {
			return fmt.Errorf("insert weekly rule: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace rules: %w", err)
	}
	return nil
}

func (r *PgRepository) ListRules(ctx context.Context, providerID uuid.UUID) ([]WeeklyRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id, weekday, start_time, end_time, enabled, updated_at
		FROM weekly_rules
		WHERE provider_id = $1
		ORDER BY weekday
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("list weekly rules: %w", err)
	}
	defer rows.Close()

	var result []WeeklyRule
	for rows.Next() {
		var rule WeeklyRule
		if err := rows.Scan(&rule.ProviderID, &rule.Weekday, &rule.StartTime, &rule.EndTime, &rule.Enabled, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

func (r *PgRepository) Block(ctx context.Context, b *BlockedDate) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO blocked_dates (provider_id, day, reason, created_at)
		VALUES ($1, $2, NULLIF($3, ''), now())
		ON CONFLICT (provider_id, day)
		DO UPDATE SET reason = NULLIF($3, '')
	`, b.ProviderID, b.Day, b.Reason)
	if err != nil {
		return fmt.Errorf("block date: %w", err)
	}
	return nil
}

func (r *PgRepository) Unblock(ctx context.Context, providerID uuid.UUID, day time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM blocked_dates WHERE provider_id = $1 AND day = $2
	`, providerID, day)
	if err != nil {
		return fmt.Errorf("unblock date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotBlocked
	}
	return nil
}

func (r *PgRepository) ListBlocked(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]BlockedDate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id, day, COALESCE(reason, ''), created_at
		FROM blocked_dates
		WHERE provider_id = $1 AND day >= $2 AND day <= $3
		ORDER BY day
	`, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list blocked dates: %w", err)
	}
	defer rows.Close()

	var result []BlockedDate
	for rows.Next() {
		b, err := scanBlocked(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func scanBlocked(row pgx.Row) (*BlockedDate, error) {
	var b BlockedDate
	if err := row.Scan(&b.ProviderID, &b.Day, &b.Reason, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
