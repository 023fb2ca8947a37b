package reminder

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

type RecordStatus string

const (
	StatusSent   RecordStatus = "sent"
	StatusFailed RecordStatus = "failed"
)

// Record is one row of the idempotency ledger. ScheduledFor is the threshold
// instant the reminder corresponds to (scheduled_at minus the lead time), so
// the ledger key is stable no matter when within the window a pass runs. A
// sent record suppresses re-sending; failed records carry no uniqueness and
// the next pass naturally retries.
type Record struct {
	ID            int64
	AppointmentID uuid.UUID
	Channel       Channel
	ScheduledFor  time.Time
	Status        RecordStatus
	SentAt        *time.Time
	CreatedAt     time.Time
}

// Candidate is an appointment due for a reminder or follow-up, joined with
// the guardian contact details the notification needs.
type Candidate struct {
	AppointmentID uuid.UUID
	ScheduledAt   time.Time
	PatientName   string
	ProviderName  string
	ParentName    string
	ParentEmail   string
	ParentPhone   string // empty when the parent has no phone on file
}
