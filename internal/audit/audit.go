// Package audit provides the append-only audit trail written by every
// mutating operation of the scheduling engine.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one audit log row. Details is free-form and stored as JSONB.
type Entry struct {
	ID          int64
	ActorUserID uuid.UUID // uuid.Nil when the actor is unknown (system jobs)
	Action      string    // e.g. "appointment.book", "availability.block_date"
	EntityType  string    // "appointment", "weekly_rule", "blocked_date"
	EntityID    string
	Details     map[string]any
	CreatedAt   time.Time
}

// Recorder persists audit entries. Recorder failures must never abort the
// operation being audited; callers log and continue.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

type PgRecorder struct {
	pool *pgxpool.Pool
}

func NewPgRecorder(pool *pgxpool.Pool) *PgRecorder {
	return &PgRecorder{pool: pool}
}

func (r *PgRecorder) Record(ctx context.Context, e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		details = []byte("{}")
	}

	var actor *uuid.UUID
	if e.ActorUserID != uuid.Nil {
		actor = &e.ActorUserID
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (actor_user_id, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`, actor, e.Action, e.EntityType, e.EntityID, details, nullableTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// MemRecorder is an in-memory Recorder for tests.
type MemRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *MemRecorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = int64(len(r.entries) + 1)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	r.entries = append(r.entries, e)
	return nil
}

// Entries returns a copy of the recorded entries.
func (r *MemRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
