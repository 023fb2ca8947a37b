// Package slots turns a provider's recurring availability, blocked dates and
// existing bookings into the concrete list of bookable slot start times. It
// only ever reads; all state changes happen through booking.
package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/neuroclinic/scheduling/internal/availability"
)

var (
	ErrInvalidRange    = errors.New("range end before range start")
	ErrInvalidDuration = errors.New("slot duration must be positive")
)

// BookingSource lists the busy intervals of a provider's non-cancelled
// appointments intersecting [from, to). except skips one appointment, used
// when rescheduling against everything but the appointment being moved.
type BookingSource interface {
	ListActiveIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time, except uuid.UUID) ([]Interval, error)
}

type Generator struct {
	avail    availability.Repository
	bookings BookingSource
	cache    *Cache
	logger   zerolog.Logger
}

// NewGenerator builds a slot generator. cache may be nil to disable caching.
func NewGenerator(avail availability.Repository, bookings BookingSource, cache *Cache, logger zerolog.Logger) *Generator {
	return &Generator{avail: avail, bookings: bookings, cache: cache, logger: logger}
}

// Slots returns the chronologically ordered free slot start times for the
// provider between rangeStart and rangeEnd (both inclusive, day granularity).
//
// Per day: no rule or a disabled rule skips the day; a blocked date skips the
// day; the working window is walked in fixed slotMinutes increments and a
// candidate survives only when it fits entirely inside the window and
// overlaps no non-cancelled appointment.
func (g *Generator) Slots(ctx context.Context, providerID uuid.UUID, rangeStart, rangeEnd time.Time, slotMinutes int) ([]time.Time, error) {
	if slotMinutes <= 0 {
		return nil, ErrInvalidDuration
	}
	firstDay := availability.DayOf(rangeStart)
	lastDay := availability.DayOf(rangeEnd)
	if lastDay.Before(firstDay) {
		return nil, ErrInvalidRange
	}

	rules, err := g.avail.ListRules(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load weekly rules: %w", err)
	}
	byWeekday := make(map[int]availability.WeeklyRule, len(rules))
	for _, r := range rules {
		byWeekday[r.Weekday] = r
	}

	blocked, err := g.avail.ListBlocked(ctx, providerID, firstDay, lastDay)
	if err != nil {
		return nil, fmt.Errorf("load blocked dates: %w", err)
	}
	blockedDays := make(map[string]bool, len(blocked))
	for _, b := range blocked {
		blockedDays[b.Day.Format("2006-01-02")] = true
	}

	var out []time.Time
	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		rule, ok := byWeekday[int(day.Weekday())]
		if !ok || !rule.Enabled {
			continue
		}
		if blockedDays[day.Format("2006-01-02")] {
			continue
		}

		if g.cache != nil {
			if starts, hit := g.cache.get(providerID, day, slotMinutes); hit {
				out = append(out, starts...)
				continue
			}
		}

		starts, err := g.daySlots(ctx, providerID, day, rule, slotMinutes)
		if err != nil {
			return nil, err
		}

		if g.cache != nil {
			g.cache.put(providerID, day, slotMinutes, starts)
		}
		out = append(out, starts...)
	}

	return out, nil
}

func (g *Generator) daySlots(ctx context.Context, providerID uuid.UUID, day time.Time, rule availability.WeeklyRule, slotMinutes int) ([]time.Time, error) {
	startMin, err := availability.ParseClock(rule.StartTime)
	if err != nil {
		return nil, fmt.Errorf("weekly rule start: %w", err)
	}
	endMin, err := availability.ParseClock(rule.EndTime)
	if err != nil {
		return nil, fmt.Errorf("weekly rule end: %w", err)
	}

	windowStart := day.Add(time.Duration(startMin) * time.Minute)
	windowEnd := day.Add(time.Duration(endMin) * time.Minute)
	if !windowStart.Before(windowEnd) {
		// zero-length window: no slots for this day
		return nil, nil
	}

	busy, err := g.bookings.ListActiveIntervals(ctx, providerID, windowStart, windowEnd, uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("load booked intervals: %w", err)
	}

	step := time.Duration(slotMinutes) * time.Minute
	starts := make([]time.Time, 0, int(windowEnd.Sub(windowStart)/step))

	// A slot is emitted only when it ends at or before the window end;
	// partial tail slots are dropped, never clipped.
	for t := windowStart; !t.Add(step).After(windowEnd); t = t.Add(step) {
		candidate := Interval{Start: t, End: t.Add(step)}
		if _, conflict := ConflictsWith(candidate, busy); conflict {
			continue
		}
		starts = append(starts, t)
	}

	g.logger.Debug().
		Str("provider_id", providerID.String()).
		Str("day", day.Format("2006-01-02")).
		Int("free", len(starts)).
		Int("busy", len(busy)).
		Msg("slots generated")

	return starts, nil
}
