package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neuroclinic/scheduling/internal/slots"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// active reports whether the appointment still occupies its slot. Cancelled
// appointments are kept for audit but never count toward conflicts.
func (s Status) active() bool {
	return s != StatusCancelled
}

type Type string

const (
	TypeInitialConsultation Type = "initial_consultation"
	TypeEEGMonitoring       Type = "eeg_monitoring"
	TypeFollowUp            Type = "follow_up"
)

func (t Type) Valid() bool {
	switch t {
	case TypeInitialConsultation, TypeEEGMonitoring, TypeFollowUp:
		return true
	}
	return false
}

// Human returns the type with underscores replaced, for notification text.
func (t Type) Human() string {
	return strings.ReplaceAll(string(t), "_", " ")
}

// Appointment is never physically deleted; cancellation is a status value so
// history survives for audit.
type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	ParentID           uuid.UUID
	ProviderID         uuid.UUID
	Type               Type
	ScheduledAt        time.Time
	DurationMinutes    int
	Status             Status
	Notes              string
	ExternalBookingRef *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Interval returns the half-open time range the appointment occupies.
func (a *Appointment) Interval() slots.Interval {
	return slots.NewInterval(a.ScheduledAt, a.DurationMinutes)
}

type Patient struct {
	ID          uuid.UUID
	ParentID    uuid.UUID
	Name        string
	DateOfBirth *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Parent is the payer/guardian of record; notifications go to them.
type Parent struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OutboxEvent is written in the same transaction as the appointment change
// that produced it, so a committed transition always has its notification
// queued and an aborted one never does.
type OutboxEvent struct {
	Kind    string // confirmation, rescheduled, cancelled
	Payload []byte
}
