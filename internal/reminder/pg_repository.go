package reminder

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

const candidateQuery = `
	SELECT a.id, a.scheduled_at, pt.name, pv.name, pa.name, pa.email, COALESCE(pa.phone, '')
	FROM appointments a
	JOIN patients pt ON pt.id = a.patient_id
	JOIN parents pa ON pa.id = a.parent_id
	JOIN providers pv ON pv.id = a.provider_id
`

func scanCandidates(rows pgx.Rows) ([]Candidate, error) {
	defer rows.Close()
	var result []Candidate
	for rows.Next() {
		var c Candidate
		err := rows.Scan(&c.AppointmentID, &c.ScheduledAt, &c.PatientName,
			&c.ProviderName, &c.ParentName, &c.ParentEmail, &c.ParentPhone)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// ScheduledBetween includes rescheduled appointments: a moved appointment is
// still happening and still deserves its reminders.
func (r *PgRepository) ScheduledBetween(ctx context.Context, from, to time.Time) ([]Candidate, error) {
	rows, err := r.pool.Query(ctx, candidateQuery+`
		WHERE a.status IN ('scheduled', 'rescheduled')
		  AND a.scheduled_at >= $1
		  AND a.scheduled_at <= $2
		ORDER BY a.scheduled_at
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}
	return scanCandidates(rows)
}

func (r *PgRepository) CompletedBetween(ctx context.Context, from, to time.Time) ([]Candidate, error) {
	rows, err := r.pool.Query(ctx, candidateQuery+`
		WHERE a.status = 'completed'
		  AND a.scheduled_at >= $1
		  AND a.scheduled_at < $2
		ORDER BY a.scheduled_at
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list follow-up candidates: %w", err)
	}
	return scanCandidates(rows)
}

func (r *PgRepository) HasSent(ctx context.Context, appointmentID uuid.UUID, channel Channel, scheduledFor time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reminder_records
			WHERE appointment_id = $1 AND channel = $2 AND scheduled_for = $3 AND status = 'sent'
		)
	`, appointmentID, channel, scheduledFor).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check reminder ledger: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) MarkSent(ctx context.Context, appointmentID uuid.UUID, channel Channel, scheduledFor, sentAt time.Time) error {
	// ON CONFLICT over the partial unique index keeps concurrent passes
	// at-most-once per key.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reminder_records (appointment_id, channel, scheduled_for, status, sent_at, created_at)
		VALUES ($1, $2, $3, 'sent', $4, now())
		ON CONFLICT (appointment_id, channel, scheduled_for) WHERE status = 'sent'
		DO NOTHING
	`, appointmentID, channel, scheduledFor, sentAt)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

func (r *PgRepository) RecordFailure(ctx context.Context, appointmentID uuid.UUID, channel Channel, scheduledFor time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reminder_records (appointment_id, channel, scheduled_for, status, created_at)
		VALUES ($1, $2, $3, 'failed', now())
	`, appointmentID, channel, scheduledFor)
	if err != nil {
		return fmt.Errorf("record reminder failure: %w", err)
	}
	return nil
}
