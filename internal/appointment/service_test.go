package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/neuroclinic/scheduling/internal/audit"
	"github.com/neuroclinic/scheduling/internal/notify"
	redisclient "github.com/neuroclinic/scheduling/internal/redis"
	"github.com/neuroclinic/scheduling/internal/slots"
)

// memRepo is an in-memory Repository with the same conflict-scan semantics as
// the Postgres implementation.
type memRepo struct {
	patients     map[uuid.UUID]*Patient
	parents      map[uuid.UUID]*Parent
	providers    map[uuid.UUID]*Provider
	appointments map[uuid.UUID]*Appointment
	events       []notify.PendingEvent
	nextEventID  int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:     make(map[uuid.UUID]*Patient),
		parents:      make(map[uuid.UUID]*Parent),
		providers:    make(map[uuid.UUID]*Provider),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetParentByID(_ context.Context, id uuid.UUID) (*Parent, error) {
	p, ok := r.parents[id]
	if !ok {
		return nil, ErrParentNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) Create(_ context.Context, a *Appointment, ev *OutboxEvent) error {
	cp := *a
	r.appointments[a.ID] = &cp
	r.appendEvent(a.ID, ev)
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) Update(_ context.Context, a *Appointment, ev *OutboxEvent) error {
	if _, ok := r.appointments[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	cp := *a
	r.appointments[a.ID] = &cp
	r.appendEvent(a.ID, ev)
	return nil
}

func (r *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, status Status, limit, _ int) ([]Appointment, error) {
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID != patientID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, *a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRepo) ListActiveIntervals(_ context.Context, providerID uuid.UUID, from, to time.Time, except uuid.UUID) ([]slots.Interval, error) {
	var out []slots.Interval
	for _, a := range r.appointments {
		if a.ProviderID != providerID || a.ID == except || !a.Status.active() {
			continue
		}
		iv := a.Interval()
		if iv.Start.Before(to) && from.Before(iv.End) {
			out = append(out, iv)
		}
	}
	return out, nil
}

func (r *memRepo) NextPendingEvents(_ context.Context, limit int) ([]notify.PendingEvent, error) {
	if len(r.events) > limit {
		return r.events[:limit], nil
	}
	return r.events, nil
}

func (r *memRepo) MarkEventDispatched(_ context.Context, eventID int64) error {
	for i, ev := range r.events {
		if ev.ID == eventID {
			r.events = append(r.events[:i], r.events[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *memRepo) appendEvent(apptID uuid.UUID, ev *OutboxEvent) {
	if ev == nil {
		return
	}
	r.nextEventID++
	r.events = append(r.events, notify.PendingEvent{
		ID:            r.nextEventID,
		Kind:          ev.Kind,
		AppointmentID: apptID,
		Payload:       ev.Payload,
		CreatedAt:     time.Now(),
	})
}

// eventKinds returns the kinds of all queued outbox events, in order.
func (r *memRepo) eventKinds() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// passLocker runs the critical section directly.
type passLocker struct{}

func (passLocker) WithProviderLock(ctx context.Context, _ uuid.UUID, fn func(context.Context) error) error {
	return fn(ctx)
}

// busyLocker simulates a held provider lock.
type busyLocker struct{}

func (busyLocker) WithProviderLock(context.Context, uuid.UUID, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

// memCache records slot cache invalidations.
type memCache struct {
	invalidated []time.Time
}

func (c *memCache) InvalidateDay(_ uuid.UUID, day time.Time) {
	c.invalidated = append(c.invalidated, day)
}

type fixture struct {
	repo     *memRepo
	svc      *Service
	cache    *memCache
	audit    *audit.MemRecorder
	patient  *Patient
	parent   *Parent
	provider *Provider
}

func newFixture(t *testing.T, locker redisclient.Locker) *fixture {
	t.Helper()

	repo := newMemRepo()
	phone := "+15550100"
	parent := &Parent{ID: uuid.New(), Name: "Ana Silva", Email: "ana@example.com", Phone: &phone}
	patient := &Patient{ID: uuid.New(), ParentID: parent.ID, Name: "Luis Silva"}
	provider := &Provider{ID: uuid.New(), Name: "Dr. Reyes"}
	repo.parents[parent.ID] = parent
	repo.patients[patient.ID] = patient
	repo.providers[provider.ID] = provider

	cache := &memCache{}
	rec := &audit.MemRecorder{}
	svc := NewService(repo, locker, rec, cache, zerolog.Nop())

	return &fixture{repo: repo, svc: svc, cache: cache, audit: rec, patient: patient, parent: parent, provider: provider}
}

var testStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func (f *fixture) book(t *testing.T, start time.Time) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), uuid.Nil, BookRequest{
		PatientID:       f.patient.ID,
		ProviderID:      f.provider.ID,
		Type:            TypeInitialConsultation,
		Start:           start,
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return appt
}

func TestBook(t *testing.T) {
	f := newFixture(t, passLocker{})

	appt := f.book(t, testStart)

	if appt.Status != StatusScheduled {
		t.Errorf("status = %s, want scheduled", appt.Status)
	}
	if got := f.repo.eventKinds(); len(got) != 1 || got[0] != EventConfirmation {
		t.Errorf("outbox kinds = %v, want [confirmation]", got)
	}
	if len(f.cache.invalidated) != 1 {
		t.Errorf("expected 1 cache invalidation, got %d", len(f.cache.invalidated))
	}
	if entries := f.audit.Entries(); len(entries) != 1 || entries[0].Action != "appointment.book" {
		t.Errorf("audit entries = %+v, want one appointment.book", entries)
	}
}

func TestBook_Validation(t *testing.T) {
	f := newFixture(t, passLocker{})

	cases := []struct {
		name string
		req  BookRequest
	}{
		{"zero duration", BookRequest{PatientID: f.patient.ID, ProviderID: f.provider.ID, Type: TypeFollowUp, Start: testStart}},
		{"unknown type", BookRequest{PatientID: f.patient.ID, ProviderID: f.provider.ID, Type: "walk_in", Start: testStart, DurationMinutes: 30}},
		{"missing start", BookRequest{PatientID: f.patient.ID, ProviderID: f.provider.ID, Type: TypeFollowUp, DurationMinutes: 30}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Book(context.Background(), uuid.Nil, tc.req); !errors.Is(err, ErrValidation) {
				t.Errorf("got %v, want ErrValidation", err)
			}
		})
	}

	req := BookRequest{PatientID: uuid.New(), ProviderID: f.provider.ID, Type: TypeFollowUp, Start: testStart, DurationMinutes: 30}
	if _, err := f.svc.Book(context.Background(), uuid.Nil, req); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("unknown patient: got %v, want ErrPatientNotFound", err)
	}
}

func TestBook_Conflict(t *testing.T) {
	f := newFixture(t, passLocker{})
	f.book(t, testStart) // 10:00-11:00

	// Overlapping at 10:30 is rejected with the conflicting interval.
	_, err := f.svc.Book(context.Background(), uuid.Nil, BookRequest{
		PatientID:       f.patient.ID,
		ProviderID:      f.provider.ID,
		Type:            TypeFollowUp,
		Start:           testStart.Add(30 * time.Minute),
		DurationMinutes: 60,
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want ConflictError", err)
	}
	if !conflict.Existing.Start.Equal(testStart) {
		t.Errorf("conflicting interval starts %v, want %v", conflict.Existing.Start, testStart)
	}
	if got := f.repo.eventKinds(); len(got) != 1 {
		t.Errorf("rejected booking queued an event: %v", got)
	}

	// Back-to-back at 11:00 is allowed.
	f.book(t, testStart.Add(time.Hour))
}

func TestBook_ProviderBusy(t *testing.T) {
	f := newFixture(t, busyLocker{})

	_, err := f.svc.Book(context.Background(), uuid.Nil, BookRequest{
		PatientID:       f.patient.ID,
		ProviderID:      f.provider.ID,
		Type:            TypeFollowUp,
		Start:           testStart,
		DurationMinutes: 30,
	})
	if !errors.Is(err, ErrProviderBusy) {
		t.Errorf("got %v, want ErrProviderBusy", err)
	}
}

func TestBook_CancelledSlotReusable(t *testing.T) {
	f := newFixture(t, passLocker{})
	appt := f.book(t, testStart)

	if _, err := f.svc.Cancel(context.Background(), uuid.Nil, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The freed slot can be booked again.
	f.book(t, testStart)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t, passLocker{})
	appt := f.book(t, testStart)

	newStart := testStart.Add(24 * time.Hour)
	got, err := f.svc.Reschedule(context.Background(), uuid.Nil, appt.ID, newStart)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if got.Status != StatusRescheduled {
		t.Errorf("status = %s, want rescheduled", got.Status)
	}
	if !got.ScheduledAt.Equal(newStart) {
		t.Errorf("scheduled_at = %v, want %v", got.ScheduledAt, newStart)
	}
	if kinds := f.repo.eventKinds(); len(kinds) != 2 || kinds[1] != EventRescheduled {
		t.Errorf("outbox kinds = %v, want [confirmation rescheduled]", kinds)
	}
	// Both the vacated and the new day are invalidated.
	if len(f.cache.invalidated) != 3 {
		t.Errorf("expected 3 invalidations (book + both days), got %d", len(f.cache.invalidated))
	}

	// A rescheduled appointment can be rescheduled again.
	if _, err := f.svc.Reschedule(context.Background(), uuid.Nil, appt.ID, newStart.Add(time.Hour)); err != nil {
		t.Fatalf("second reschedule: %v", err)
	}
}

func TestReschedule_ConflictLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, passLocker{})
	first := f.book(t, testStart)
	second := f.book(t, testStart.Add(2*time.Hour))

	// Moving the second onto the first must fail and change nothing.
	_, err := f.svc.Reschedule(context.Background(), uuid.Nil, second.ID, testStart.Add(30*time.Minute))
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want ConflictError", err)
	}

	stored, err := f.svc.Get(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusScheduled || !stored.ScheduledAt.Equal(second.ScheduledAt) {
		t.Errorf("failed reschedule mutated state: %+v", stored)
	}
	_ = first
}

func TestReschedule_OntoOwnSlot(t *testing.T) {
	f := newFixture(t, passLocker{})
	appt := f.book(t, testStart)

	// Shifting within the appointment's own interval must not self-conflict.
	if _, err := f.svc.Reschedule(context.Background(), uuid.Nil, appt.ID, testStart.Add(15*time.Minute)); err != nil {
		t.Fatalf("reschedule within own interval: %v", err)
	}
}

func TestComplete(t *testing.T) {
	f := newFixture(t, passLocker{})
	appt := f.book(t, testStart)

	got, err := f.svc.Complete(context.Background(), uuid.Nil, appt.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	// Completing again is a no-op, not an error.
	again, err := f.svc.Complete(context.Background(), uuid.Nil, appt.ID)
	if err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if again.Status != StatusCompleted {
		t.Errorf("repeat status = %s, want completed", again.Status)
	}

	// Completion never queues a notification.
	if kinds := f.repo.eventKinds(); len(kinds) != 1 {
		t.Errorf("outbox kinds = %v, want only the confirmation", kinds)
	}
}

func TestCancel_IdempotentWithoutDuplicateNotification(t *testing.T) {
	f := newFixture(t, passLocker{})
	appt := f.book(t, testStart)

	if _, err := f.svc.Cancel(context.Background(), uuid.Nil, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Cancel(context.Background(), uuid.Nil, appt.ID); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}

	if kinds := f.repo.eventKinds(); len(kinds) != 2 || kinds[1] != EventCancelled {
		t.Errorf("outbox kinds = %v, want [confirmation cancelled]", kinds)
	}
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t, passLocker{})

	completed := f.book(t, testStart)
	if _, err := f.svc.Complete(context.Background(), uuid.Nil, completed.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	cancelled := f.book(t, testStart.Add(2*time.Hour))
	if _, err := f.svc.Cancel(context.Background(), uuid.Nil, cancelled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := f.svc.Cancel(context.Background(), uuid.Nil, completed.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel completed: got %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.Complete(context.Background(), uuid.Nil, cancelled.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("complete cancelled: got %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.Reschedule(context.Background(), uuid.Nil, cancelled.ID, testStart.Add(48*time.Hour)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("reschedule cancelled: got %v, want ErrInvalidTransition", err)
	}
}

func TestMutate(t *testing.T) {
	f := newFixture(t, passLocker{})
	appt := f.book(t, testStart)

	t.Run("empty patch", func(t *testing.T) {
		if _, err := f.svc.Mutate(context.Background(), uuid.Nil, appt.ID, MutateRequest{}); !errors.Is(err, ErrValidation) {
			t.Errorf("got %v, want ErrValidation", err)
		}
	})

	t.Run("notes only", func(t *testing.T) {
		notes := "bring prior EEG results"
		got, err := f.svc.Mutate(context.Background(), uuid.Nil, appt.ID, MutateRequest{Notes: &notes})
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
		if got.Notes != notes {
			t.Errorf("notes = %q, want %q", got.Notes, notes)
		}
		if got.Status != StatusScheduled {
			t.Errorf("notes patch changed status to %s", got.Status)
		}
	})

	t.Run("scheduled_at routes to reschedule", func(t *testing.T) {
		newStart := testStart.Add(48 * time.Hour)
		got, err := f.svc.Mutate(context.Background(), uuid.Nil, appt.ID, MutateRequest{ScheduledAt: &newStart})
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
		if got.Status != StatusRescheduled || !got.ScheduledAt.Equal(newStart) {
			t.Errorf("got status=%s scheduled_at=%v", got.Status, got.ScheduledAt)
		}
	})

	t.Run("status rescheduled without time", func(t *testing.T) {
		st := StatusRescheduled
		if _, err := f.svc.Mutate(context.Background(), uuid.Nil, appt.ID, MutateRequest{Status: &st}); !errors.Is(err, ErrValidation) {
			t.Errorf("got %v, want ErrValidation", err)
		}
	})

	t.Run("conflicting status with scheduled_at", func(t *testing.T) {
		st := StatusCancelled
		newStart := testStart.Add(72 * time.Hour)
		if _, err := f.svc.Mutate(context.Background(), uuid.Nil, appt.ID, MutateRequest{Status: &st, ScheduledAt: &newStart}); !errors.Is(err, ErrValidation) {
			t.Errorf("got %v, want ErrValidation", err)
		}
	})

	t.Run("status cancelled", func(t *testing.T) {
		st := StatusCancelled
		got, err := f.svc.Mutate(context.Background(), uuid.Nil, appt.ID, MutateRequest{Status: &st})
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
		if got.Status != StatusCancelled {
			t.Errorf("status = %s, want cancelled", got.Status)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		st := Status("no_show")
		if _, err := f.svc.Mutate(context.Background(), uuid.Nil, appt.ID, MutateRequest{Status: &st}); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("got %v, want ErrInvalidTransition", err)
		}
	})
}

func TestListByPatient_LimitClamp(t *testing.T) {
	f := newFixture(t, passLocker{})
	for i := 0; i < 3; i++ {
		f.book(t, testStart.Add(time.Duration(i)*2*time.Hour))
	}

	got, err := f.svc.ListByPatient(context.Background(), f.patient.ID, "", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 appointments, got %d", len(got))
	}

	got, err = f.svc.ListByPatient(context.Background(), f.patient.ID, "", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected limit 2, got %d", len(got))
	}
}
