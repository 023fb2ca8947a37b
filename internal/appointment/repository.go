package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/neuroclinic/scheduling/internal/notify"
	"github.com/neuroclinic/scheduling/internal/slots"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrParentNotFound      = errors.New("parent not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the lifecycle service and
// the outbox dispatcher. Create and Update take an optional OutboxEvent that
// must commit atomically with the row change.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetParentByID(ctx context.Context, id uuid.UUID) (*Parent, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)

	Create(ctx context.Context, a *Appointment, ev *OutboxEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment, ev *OutboxEvent) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]Appointment, error)

	// Conflict scans; see slots.BookingSource.
	ListActiveIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time, except uuid.UUID) ([]slots.Interval, error)

	// Outbox; see notify.OutboxSource.
	NextPendingEvents(ctx context.Context, limit int) ([]notify.PendingEvent, error)
	MarkEventDispatched(ctx context.Context, eventID int64) error
}
