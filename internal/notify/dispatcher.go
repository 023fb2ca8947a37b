package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PendingEvent is an undispatched outbox row. The payload is written by the
// lifecycle service at transition time and carries everything the template
// needs, so the dispatcher never re-reads appointment state.
type PendingEvent struct {
	ID            int64
	Kind          string // confirmation, rescheduled, cancelled
	AppointmentID uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// EventPayload is the JSON shape of PendingEvent.Payload.
type EventPayload struct {
	Email string            `json:"email,omitempty"`
	Phone string            `json:"phone,omitempty"`
	Data  map[string]string `json:"data"`
}

// OutboxSource reads and acknowledges outbox rows.
type OutboxSource interface {
	NextPendingEvents(ctx context.Context, limit int) ([]PendingEvent, error)
	MarkEventDispatched(ctx context.Context, eventID int64) error
}

var kindToTemplate = map[string]string{
	"confirmation": TemplateConfirmation,
	"rescheduled":  TemplateRescheduled,
	"cancelled":    TemplateCancelled,
}

// Dispatcher drains the appointment event outbox: render, send, mark
// dispatched. A failed email send leaves the row pending for the next poll;
// a stuck delivery is cut off by the per-send timeout so one bad recipient
// never stalls the batch.
type Dispatcher struct {
	outbox      OutboxSource
	email       EmailSender
	sms         SMSSender
	templates   *TemplateEngine
	sendTimeout time.Duration
	batchSize   int
	logger      zerolog.Logger
}

func NewDispatcher(outbox OutboxSource, email EmailSender, sms SMSSender, tpl *TemplateEngine, sendTimeout time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		outbox:      outbox,
		email:       email,
		sms:         sms,
		templates:   tpl,
		sendTimeout: sendTimeout,
		batchSize:   50,
		logger:      logger,
	}
}

// Run polls the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.DispatchPending(ctx); err != nil {
				d.logger.Error().Err(err).Msg("outbox dispatch pass failed")
			}
		}
	}
}

// DispatchPending processes one batch of pending events.
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	events, err := d.outbox.NextPendingEvents(ctx, d.batchSize)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.dispatchOne(ctx, ev)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ev PendingEvent) {
	templateID, ok := kindToTemplate[ev.Kind]
	if !ok {
		d.logger.Warn().Str("kind", ev.Kind).Int64("event_id", ev.ID).Msg("unknown event kind, dropping")
		d.ack(ctx, ev.ID)
		return
	}

	var payload EventPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		d.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("malformed event payload, dropping")
		d.ack(ctx, ev.ID)
		return
	}
	if payload.Email == "" && payload.Phone == "" {
		d.ack(ctx, ev.ID)
		return
	}

	subject, body, err := d.templates.Render(templateID, payload.Data)
	if err != nil {
		d.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("template render failed, dropping")
		d.ack(ctx, ev.ID)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	if payload.Email != "" {
		if err := d.email.SendEmail(sendCtx, payload.Email, subject, body); err != nil {
			// Leave the row pending; the next poll retries.
			d.logger.Error().Err(err).
				Int64("event_id", ev.ID).
				Str("appointment_id", ev.AppointmentID.String()).
				Msg("email send failed")
			return
		}
	}

	// SMS is best-effort on top of the email; a failure here does not hold
	// the event open.
	if payload.Phone != "" {
		if err := d.sms.SendSMS(sendCtx, payload.Phone, body); err != nil {
			d.logger.Warn().Err(err).Int64("event_id", ev.ID).Msg("sms send failed")
		}
	}

	d.ack(ctx, ev.ID)
}

func (d *Dispatcher) ack(ctx context.Context, eventID int64) {
	if err := d.outbox.MarkEventDispatched(ctx, eventID); err != nil {
		d.logger.Error().Err(err).Int64("event_id", eventID).Msg("mark dispatched failed")
	}
}
