// Package reminder drives appointment reminders and post-visit follow-ups.
// Passes are stateless and safe to re-run or overlap at any cadence: the
// reminder ledger, not a run lock, enforces at-most-once delivery.
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/neuroclinic/scheduling/internal/notify"
)

type Scheduler struct {
	repo        Repository
	email       notify.EmailSender
	sms         notify.SMSSender
	templates   *notify.TemplateEngine
	leads       []time.Duration // e.g. 48h, 24h before scheduled_at
	window      time.Duration   // half-width of the match window
	sendTimeout time.Duration
	logger      zerolog.Logger
}

func NewScheduler(repo Repository, email notify.EmailSender, sms notify.SMSSender, tpl *notify.TemplateEngine, leads []time.Duration, window, sendTimeout time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		repo:        repo,
		email:       email,
		sms:         sms,
		templates:   tpl,
		leads:       leads,
		window:      window,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// RunReminderPass sends due reminders for every configured lead time. Each
// (appointment, channel, threshold) is delivered at most once across all
// passes; a failed send is recorded but only retried by a later pass. One
// appointment's failure never halts the batch.
func (s *Scheduler) RunReminderPass(ctx context.Context, now time.Time) error {
	for _, lead := range s.leads {
		from := now.Add(lead - s.window)
		to := now.Add(lead + s.window)

		candidates, err := s.repo.ScheduledBetween(ctx, from, to)
		if err != nil {
			return fmt.Errorf("reminder pass (lead %s): %w", lead, err)
		}

		for _, cand := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.remindOne(ctx, cand, lead)
		}
	}
	return nil
}

func (s *Scheduler) remindOne(ctx context.Context, cand Candidate, lead time.Duration) {
	scheduledFor := cand.ScheduledAt.Add(-lead)

	data := map[string]string{
		"parent_name":   cand.ParentName,
		"patient_name":  cand.PatientName,
		"provider_name": cand.ProviderName,
		"date":          cand.ScheduledAt.Format("Monday, 2 January 2006"),
		"time":          cand.ScheduledAt.Format("15:04"),
	}
	subject, body, err := s.templates.Render(notify.TemplateReminder, data)
	if err != nil {
		s.logger.Error().Err(err).Msg("reminder template render failed")
		return
	}

	if cand.ParentEmail != "" {
		s.deliver(ctx, cand, ChannelEmail, scheduledFor, func(sendCtx context.Context) error {
			return s.email.SendEmail(sendCtx, cand.ParentEmail, subject, body)
		})
	}
	if cand.ParentPhone != "" {
		s.deliver(ctx, cand, ChannelSMS, scheduledFor, func(sendCtx context.Context) error {
			return s.sms.SendSMS(sendCtx, cand.ParentPhone, body)
		})
	}
}

// deliver runs the ledger-check / send / record sequence for one channel.
func (s *Scheduler) deliver(ctx context.Context, cand Candidate, channel Channel, scheduledFor time.Time, send func(context.Context) error) {
	sent, err := s.repo.HasSent(ctx, cand.AppointmentID, channel, scheduledFor)
	if err != nil {
		s.logger.Error().Err(err).
			Str("appointment_id", cand.AppointmentID.String()).
			Str("channel", string(channel)).
			Msg("reminder ledger check failed")
		return
	}
	if sent {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	err = send(sendCtx)
	cancel()

	if err != nil {
		s.logger.Warn().Err(err).
			Str("appointment_id", cand.AppointmentID.String()).
			Str("channel", string(channel)).
			Msg("reminder send failed")
		if recErr := s.repo.RecordFailure(ctx, cand.AppointmentID, channel, scheduledFor); recErr != nil {
			s.logger.Error().Err(recErr).Msg("record reminder failure failed")
		}
		return
	}

	if err := s.repo.MarkSent(ctx, cand.AppointmentID, channel, scheduledFor, time.Now()); err != nil {
		s.logger.Error().Err(err).
			Str("appointment_id", cand.AppointmentID.String()).
			Str("channel", string(channel)).
			Msg("mark reminder sent failed")
	}
}

// RunFollowUpPass sends a best-effort follow-up email for appointments
// completed on the prior calendar day. Unlike reminders there is no ledger
// here, so the guarantee is at-most-once per daily batch, not absolute.
func (s *Scheduler) RunFollowUpPass(ctx context.Context, now time.Time) error {
	dayEnd := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayStart := dayEnd.AddDate(0, 0, -1)

	candidates, err := s.repo.CompletedBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("follow-up pass: %w", err)
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cand.ParentEmail == "" {
			continue
		}

		data := map[string]string{
			"parent_name":   cand.ParentName,
			"patient_name":  cand.PatientName,
			"provider_name": cand.ProviderName,
		}
		subject, body, err := s.templates.Render(notify.TemplateFollowUp, data)
		if err != nil {
			s.logger.Error().Err(err).Msg("follow-up template render failed")
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		err = s.email.SendEmail(sendCtx, cand.ParentEmail, subject, body)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).
				Str("appointment_id", cand.AppointmentID.String()).
				Msg("follow-up send failed")
		}
	}
	return nil
}
