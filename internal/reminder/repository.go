package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository covers the candidate queries and the idempotency ledger.
type Repository interface {
	// ScheduledBetween lists still-actionable appointments whose scheduled_at
	// falls within [from, to], joined with guardian contact details.
	ScheduledBetween(ctx context.Context, from, to time.Time) ([]Candidate, error)

	// CompletedBetween lists completed appointments whose scheduled_at falls
	// within [from, to). Used by the follow-up pass for the prior day.
	CompletedBetween(ctx context.Context, from, to time.Time) ([]Candidate, error)

	// HasSent reports whether a sent record exists for the ledger key.
	HasSent(ctx context.Context, appointmentID uuid.UUID, channel Channel, scheduledFor time.Time) (bool, error)

	// MarkSent inserts a sent record. The insert is atomic per ledger key:
	// a concurrent duplicate is silently dropped by the unique index.
	MarkSent(ctx context.Context, appointmentID uuid.UUID, channel Channel, scheduledFor, sentAt time.Time) error

	// RecordFailure appends a failed attempt. Failures never suppress a retry
	// on the next pass.
	RecordFailure(ctx context.Context, appointmentID uuid.UUID, channel Channel, scheduledFor time.Time) error
}
