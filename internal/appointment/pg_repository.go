package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neuroclinic/scheduling/internal/notify"
	"github.com/neuroclinic/scheduling/internal/slots"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.ParentID, &p.Name, &p.DateOfBirth, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanParent(row pgx.Row) (*Parent, error) {
	var p Parent
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ParentID,
		&a.ProviderID,
		&a.Type,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.Status,
		&a.Notes,
		&a.ExternalBookingRef,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

const appointmentColumns = `id, patient_id, parent_id, provider_id, appointment_type,
	scheduled_at, duration_minutes, status, notes, external_booking_ref, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, parent_id, name, date_of_birth, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetParentByID(ctx context.Context, id uuid.UUID) (*Parent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM parents
		WHERE id = $1
	`, id)
	return scanParent(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment, ev *OutboxEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create appointment: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, parent_id, provider_id, appointment_type,
			 scheduled_at, duration_minutes, status, notes, external_booking_ref,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.ParentID, a.ProviderID, a.Type,
		a.ScheduledAt, a.DurationMinutes, a.Status, a.Notes, a.ExternalBookingRef)

	created, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*a = *created

	if ev != nil {
		if err := insertEvent(ctx, tx, a.ID, ev); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) Update(ctx context.Context, a *Appointment, ev *OutboxEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update appointment: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_at = $2,
		    duration_minutes = $3,
		    status = $4,
		    notes = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, a.ID, a.ScheduledAt, a.DurationMinutes, a.Status, a.Notes)

	updated, err := scanAppointment(row)
	if err != nil {
		return err
	}
	*a = *updated

	if ev != nil {
		if err := insertEvent(ctx, tx, a.ID, ev); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func insertEvent(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID, ev *OutboxEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_events (kind, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, now())
	`, ev.Kind, appointmentID, ev.Payload)
	if err != nil {
		return fmt.Errorf("insert appointment event: %w", err)
	}
	return nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND ($2 = '' OR status = $2)
		ORDER BY scheduled_at DESC
		LIMIT $3 OFFSET $4
	`, patientID, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// ListActiveIntervals returns the busy intervals of non-cancelled
// appointments intersecting [from, to). except (uuid.Nil to disable) skips
// the appointment being rescheduled.
func (r *PgRepository) ListActiveIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time, except uuid.UUID) ([]slots.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_at, duration_minutes
		FROM appointments
		WHERE provider_id = $1
		  AND status <> 'cancelled'
		  AND id <> $4
		  AND scheduled_at < $3
		  AND scheduled_at + make_interval(mins => duration_minutes) > $2
		ORDER BY scheduled_at
	`, providerID, from, to, except)
	if err != nil {
		return nil, fmt.Errorf("list active intervals: %w", err)
	}
	defer rows.Close()

	var result []slots.Interval
	for rows.Next() {
		var start time.Time
		var minutes int
		if err := rows.Scan(&start, &minutes); err != nil {
			return nil, err
		}
		result = append(result, slots.NewInterval(start, minutes))
	}
	return result, rows.Err()
}

func (r *PgRepository) NextPendingEvents(ctx context.Context, limit int) ([]notify.PendingEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, appointment_id, payload, created_at
		FROM appointment_events
		WHERE dispatched_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	defer rows.Close()

	var result []notify.PendingEvent
	for rows.Next() {
		var ev notify.PendingEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (r *PgRepository) MarkEventDispatched(ctx context.Context, eventID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointment_events
		SET dispatched_at = now()
		WHERE id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("mark event dispatched: %w", err)
	}
	return nil
}
