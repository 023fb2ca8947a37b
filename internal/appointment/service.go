package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/neuroclinic/scheduling/internal/audit"
	"github.com/neuroclinic/scheduling/internal/availability"
	redisclient "github.com/neuroclinic/scheduling/internal/redis"
	"github.com/neuroclinic/scheduling/internal/slots"
)

const (
	EventConfirmation = "confirmation"
	EventRescheduled  = "rescheduled"
	EventCancelled    = "cancelled"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrProviderBusy      = errors.New("provider calendar is being updated, please retry")
)

// ConflictError is returned when a requested time overlaps an existing
// non-cancelled appointment for the same provider. The conflicting interval
// is carried so the caller can act on it.
type ConflictError struct {
	Requested slots.Interval
	Existing  slots.Interval
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("requested %s-%s overlaps existing appointment %s-%s",
		e.Requested.Start.Format(time.RFC3339), e.Requested.End.Format(time.RFC3339),
		e.Existing.Start.Format(time.RFC3339), e.Existing.End.Format(time.RFC3339))
}

// SlotCache is the part of the generated-slot cache the lifecycle needs:
// booking, rescheduling and cancelling all change which slots are free.
type SlotCache interface {
	InvalidateDay(providerID uuid.UUID, day time.Time)
}

// Service is the appointment lifecycle state machine. Every mutation that
// sets a scheduled time re-runs the conflict check inside the per-provider
// lock so the check and the write act as one atomic unit; a previously listed
// slot is never trusted as a reservation.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	audit  audit.Recorder
	cache  SlotCache
	logger zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, rec audit.Recorder, cache SlotCache, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		audit:  rec,
		cache:  cache,
		logger: logger,
	}
}

type BookRequest struct {
	PatientID          uuid.UUID
	ProviderID         uuid.UUID
	Type               Type
	Start              time.Time
	DurationMinutes    int
	Notes              string
	ExternalBookingRef string
}

// Book creates a scheduled appointment. The conflict check and the insert run
// under the provider lock; without it two concurrent bookings for the same
// newly-opened slot could both pass the check and both commit.
func (s *Service) Book(ctx context.Context, actorID uuid.UUID, req BookRequest) (*Appointment, error) {
	if req.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrValidation)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown appointment type %q", ErrValidation, req.Type)
	}
	if req.Start.IsZero() {
		return nil, fmt.Errorf("%w: start time is required", ErrValidation)
	}

	patient, err := s.repo.GetPatientByID(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	parent, err := s.repo.GetParentByID(ctx, patient.ParentID)
	if err != nil {
		return nil, fmt.Errorf("load parent: %w", err)
	}
	provider, err := s.repo.GetProviderByID(ctx, req.ProviderID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	appt := &Appointment{
		ID:              uuid.New(),
		PatientID:       patient.ID,
		ParentID:        parent.ID,
		ProviderID:      provider.ID,
		Type:            req.Type,
		ScheduledAt:     req.Start,
		DurationMinutes: req.DurationMinutes,
		Status:          StatusScheduled,
		Notes:           req.Notes,
	}
	if req.ExternalBookingRef != "" {
		ref := req.ExternalBookingRef
		appt.ExternalBookingRef = &ref
	}

	err = s.locker.WithProviderLock(ctx, provider.ID, func(lockCtx context.Context) error {
		if err := s.checkConflict(lockCtx, provider.ID, appt.Interval(), uuid.Nil); err != nil {
			return err
		}
		ev := &OutboxEvent{
			Kind:    EventConfirmation,
			Payload: eventPayload(parent, patient, provider, appt),
		}
		if err := s.repo.Create(lockCtx, appt, ev); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrProviderBusy
		}
		return nil, err
	}

	s.invalidateDay(provider.ID, appt.ScheduledAt)
	s.recordAudit(ctx, actorID, "appointment.book", appt.ID, map[string]any{
		"provider_id":  provider.ID.String(),
		"patient_id":   patient.ID.String(),
		"scheduled_at": appt.ScheduledAt,
		"duration_min": appt.DurationMinutes,
		"type":         string(appt.Type),
	})
	return appt, nil
}

// Reschedule moves a scheduled or rescheduled appointment to a new start
// time. A failed conflict check aborts with no state change.
func (s *Service) Reschedule(ctx context.Context, actorID, id uuid.UUID, newStart time.Time) (*Appointment, error) {
	if newStart.IsZero() {
		return nil, fmt.Errorf("%w: new start time is required", ErrValidation)
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusScheduled && appt.Status != StatusRescheduled {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, appt.Status)
	}

	parent, patient, provider, err := s.loadParticipants(ctx, appt)
	if err != nil {
		return nil, err
	}

	oldStart := appt.ScheduledAt

	err = s.locker.WithProviderLock(ctx, appt.ProviderID, func(lockCtx context.Context) error {
		newIv := slots.NewInterval(newStart, appt.DurationMinutes)
		if err := s.checkConflict(lockCtx, appt.ProviderID, newIv, appt.ID); err != nil {
			return err
		}

		appt.ScheduledAt = newStart
		appt.Status = StatusRescheduled
		ev := &OutboxEvent{
			Kind:    EventRescheduled,
			Payload: eventPayload(parent, patient, provider, appt),
		}
		if err := s.repo.Update(lockCtx, appt, ev); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrProviderBusy
		}
		return nil, err
	}

	s.invalidateDay(appt.ProviderID, oldStart)
	s.invalidateDay(appt.ProviderID, newStart)
	s.recordAudit(ctx, actorID, "appointment.reschedule", appt.ID, map[string]any{
		"from": oldStart,
		"to":   newStart,
	})
	return appt, nil
}

// Complete marks a kept appointment as completed, making it a candidate for
// the follow-up pass. Completing an already-completed appointment is a no-op.
func (s *Service) Complete(ctx context.Context, actorID, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch appt.Status {
	case StatusCompleted:
		return appt, nil
	case StatusScheduled, StatusRescheduled:
		// fall through
	default:
		return nil, fmt.Errorf("%w: cannot complete a %s appointment", ErrInvalidTransition, appt.Status)
	}

	appt.Status = StatusCompleted
	if err := s.repo.Update(ctx, appt, nil); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	s.recordAudit(ctx, actorID, "appointment.complete", appt.ID, nil)
	return appt, nil
}

// Cancel frees the appointment's slot. Cancelling an already-cancelled
// appointment returns the current state without re-firing the notification.
func (s *Service) Cancel(ctx context.Context, actorID, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch appt.Status {
	case StatusCancelled:
		return appt, nil
	case StatusScheduled, StatusRescheduled:
		// fall through
	default:
		return nil, fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidTransition, appt.Status)
	}

	parent, patient, provider, err := s.loadParticipants(ctx, appt)
	if err != nil {
		return nil, err
	}

	appt.Status = StatusCancelled
	ev := &OutboxEvent{
		Kind:    EventCancelled,
		Payload: eventPayload(parent, patient, provider, appt),
	}
	if err := s.repo.Update(ctx, appt, ev); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	s.invalidateDay(appt.ProviderID, appt.ScheduledAt)
	s.recordAudit(ctx, actorID, "appointment.cancel", appt.ID, nil)
	return appt, nil
}

type MutateRequest struct {
	Status      *Status
	ScheduledAt *time.Time
	Notes       *string
}

// Mutate maps the generic PATCH surface onto lifecycle operations. A
// scheduled_at change is a reschedule; status changes route to Complete or
// Cancel; a notes-only patch bypasses the state machine.
func (s *Service) Mutate(ctx context.Context, actorID, id uuid.UUID, req MutateRequest) (*Appointment, error) {
	if req.Status == nil && req.ScheduledAt == nil && req.Notes == nil {
		return nil, fmt.Errorf("%w: empty patch", ErrValidation)
	}

	if req.Notes != nil {
		appt, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		appt.Notes = *req.Notes
		if err := s.repo.Update(ctx, appt, nil); err != nil {
			return nil, fmt.Errorf("update notes: %w", err)
		}
		s.recordAudit(ctx, actorID, "appointment.update_notes", id, nil)
	}

	if req.ScheduledAt != nil {
		if req.Status != nil && *req.Status != StatusRescheduled {
			return nil, fmt.Errorf("%w: scheduled_at change requires status %q", ErrValidation, StatusRescheduled)
		}
		return s.Reschedule(ctx, actorID, id, *req.ScheduledAt)
	}

	if req.Status != nil {
		switch *req.Status {
		case StatusCompleted:
			return s.Complete(ctx, actorID, id)
		case StatusCancelled:
			return s.Cancel(ctx, actorID, id)
		case StatusRescheduled:
			return nil, fmt.Errorf("%w: status %q requires scheduled_at", ErrValidation, StatusRescheduled)
		default:
			return nil, fmt.Errorf("%w: cannot transition to %q", ErrInvalidTransition, *req.Status)
		}
	}

	return s.repo.GetByID(ctx, id)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, patientID, status, limit, offset)
}

// checkConflict scans the provider's non-cancelled appointments against the
// candidate interval. Must run inside the provider lock.
func (s *Service) checkConflict(ctx context.Context, providerID uuid.UUID, candidate slots.Interval, except uuid.UUID) error {
	busy, err := s.repo.ListActiveIntervals(ctx, providerID, candidate.Start, candidate.End, except)
	if err != nil {
		return fmt.Errorf("conflict scan: %w", err)
	}
	if existing, conflict := slots.ConflictsWith(candidate, busy); conflict {
		return &ConflictError{Requested: candidate, Existing: existing}
	}
	return nil
}

func (s *Service) loadParticipants(ctx context.Context, appt *Appointment) (*Parent, *Patient, *Provider, error) {
	patient, err := s.repo.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load patient: %w", err)
	}
	parent, err := s.repo.GetParentByID(ctx, appt.ParentID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load parent: %w", err)
	}
	provider, err := s.repo.GetProviderByID(ctx, appt.ProviderID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load provider: %w", err)
	}
	return parent, patient, provider, nil
}

func eventPayload(parent *Parent, patient *Patient, provider *Provider, appt *Appointment) []byte {
	payload := struct {
		Email string            `json:"email,omitempty"`
		Phone string            `json:"phone,omitempty"`
		Data  map[string]string `json:"data"`
	}{
		Email: parent.Email,
		Data: map[string]string{
			"parent_name":      parent.Name,
			"patient_name":     patient.Name,
			"provider_name":    provider.Name,
			"appointment_type": appt.Type.Human(),
			"date":             appt.ScheduledAt.Format("Monday, 2 January 2006"),
			"time":             appt.ScheduledAt.Format("15:04"),
		},
	}
	if parent.Phone != nil {
		payload.Phone = *parent.Phone
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func (s *Service) invalidateDay(providerID uuid.UUID, at time.Time) {
	if s.cache != nil {
		s.cache.InvalidateDay(providerID, availability.DayOf(at))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID uuid.UUID, action string, apptID uuid.UUID, details map[string]any) {
	err := s.audit.Record(ctx, audit.Entry{
		ActorUserID: actorID,
		Action:      action,
		EntityType:  "appointment",
		EntityID:    apptID.String(),
		Details:     details,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("audit record failed")
	}
}
