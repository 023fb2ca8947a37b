package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WeeklyRule is a provider's recurring working window for one weekday.
// Times are wall-clock "HH:MM" strings; there is at most one rule per
// (provider, weekday) and updates overwrite in place.
type WeeklyRule struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Weekday    int       `json:"weekday"` // 0=Sunday .. 6=Saturday
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	Enabled    bool      `json:"enabled"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BlockedDate removes a whole calendar day from a provider's availability.
// Removal is an explicit unblock operation; replacing the weekly rules never
// implicitly deletes blocked dates.
type BlockedDate struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Day        time.Time `json:"day"` // midnight, no time component
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ParseClock parses an "HH:MM" wall-clock string into minutes after midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("clock time %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock time %q has invalid hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("clock time %q has invalid minute", s)
	}
	return h*60 + m, nil
}

// DayOf truncates t to midnight in t's location.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
