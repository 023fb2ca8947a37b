package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/neuroclinic/scheduling/internal/audit"
)

var (
	ErrInvalidRule = errors.New("invalid weekly rule")
)

// SlotCache is invalidated when availability changes so stale generated slots
// are never served.
type SlotCache interface {
	InvalidateProvider(providerID uuid.UUID)
	InvalidateDay(providerID uuid.UUID, day time.Time)
}

type Service struct {
	repo   Repository
	audit  audit.Recorder
	cache  SlotCache
	logger zerolog.Logger
}

// NewService wires the availability store. cache may be nil when no slot
// cache is running (tests, one-shot tools).
func NewService(repo Repository, rec audit.Recorder, cache SlotCache, logger zerolog.Logger) *Service {
	return &Service{repo: repo, audit: rec, cache: cache, logger: logger}
}

// SetWeeklySchedule replaces the provider's full weekly schedule. Rules are
// validated up front so a bad payload never half-applies.
func (s *Service) SetWeeklySchedule(ctx context.Context, actorID, providerID uuid.UUID, rules []WeeklyRule) error {
	seen := make(map[int]bool, len(rules))
	for i := range rules {
		rule := &rules[i]
		rule.ProviderID = providerID
		if err := validateRule(rule); err != nil {
			return err
		}
		if seen[rule.Weekday] {
			return fmt.Errorf("%w: duplicate weekday %d", ErrInvalidRule, rule.Weekday)
		}
		seen[rule.Weekday] = true
	}

	if err := s.repo.ReplaceRules(ctx, providerID, rules); err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.InvalidateProvider(providerID)
	}
	s.recordAudit(ctx, actorID, "availability.set_schedule", "weekly_rule", providerID.String(), map[string]any{
		"rule_count": len(rules),
	})
	return nil
}

func (s *Service) WeeklySchedule(ctx context.Context, providerID uuid.UUID) ([]WeeklyRule, error) {
	return s.repo.ListRules(ctx, providerID)
}

// BlockDate takes a calendar day out of the provider's availability.
func (s *Service) BlockDate(ctx context.Context, actorID, providerID uuid.UUID, day time.Time, reason string) error {
	day = DayOf(day)
	b := &BlockedDate{ProviderID: providerID, Day: day, Reason: reason}
	if err := s.repo.Block(ctx, b); err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.InvalidateDay(providerID, day)
	}
	s.recordAudit(ctx, actorID, "availability.block_date", "blocked_date", providerID.String(), map[string]any{
		"day":    day.Format("2006-01-02"),
		"reason": reason,
	})
	return nil
}

// UnblockDate is the explicit inverse of BlockDate. Omitting a date from a
// schedule update never unblocks it.
func (s *Service) UnblockDate(ctx context.Context, actorID, providerID uuid.UUID, day time.Time) error {
	day = DayOf(day)
	if err := s.repo.Unblock(ctx, providerID, day); err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.InvalidateDay(providerID, day)
	}
	s.recordAudit(ctx, actorID, "availability.unblock_date", "blocked_date", providerID.String(), map[string]any{
		"day": day.Format("2006-01-02"),
	})
	return nil
}

func (s *Service) BlockedDates(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]BlockedDate, error) {
	return s.repo.ListBlocked(ctx, providerID, DayOf(from), DayOf(to))
}

func validateRule(rule *WeeklyRule) error {
	if rule.Weekday < 0 || rule.Weekday > 6 {
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, rule.Weekday)
	}
	start, err := ParseClock(rule.StartTime)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	end, err := ParseClock(rule.EndTime)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	// start == end is a zero-length window: legal, yields no slots.
	if start > end {
		return fmt.Errorf("%w: start_time %s after end_time %s", ErrInvalidRule, rule.StartTime, rule.EndTime)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID uuid.UUID, action, entityType, entityID string, details map[string]any) {
	err := s.audit.Record(ctx, audit.Entry{
		ActorUserID: actorID,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Details:     details,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("audit record failed")
	}
}
