package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotBlocked = errors.New("date is not blocked")
)

// Repository contains all DB interactions needed by the availability service
// and the slot generator.
type Repository interface {
	// Weekly rules (overwrite semantics per (provider, weekday)).
	UpsertRule(ctx context.Context, r *WeeklyRule) error
	ReplaceRules(ctx context.Context, providerID uuid.UUID, rules []WeeklyRule) error
	ListRules(ctx context.Context, providerID uuid.UUID) ([]WeeklyRule, error)

	// Blocked dates. Unblock is explicit; it returns ErrNotBlocked when the
	// date was not blocked to begin with.
	Block(ctx context.Context, b *BlockedDate) error
	Unblock(ctx context.Context, providerID uuid.UUID, day time.Time) error
	ListBlocked(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]BlockedDate, error)
}
