package tokens

import (
	"context"
	"sync"
	"time"

	"coursechat/backend/internal/models"
)

type PeriodType string

const (
	PeriodHour  PeriodType = "hour"
	PeriodDay   PeriodType = "day"
	PeriodWeek  PeriodType = "week"
	PeriodMonth PeriodType = "month"
)

// PeriodDuration maps a period type to its fixed window. The month window
// is a 30-day approximation, not calendar-month accurate. Unknown values
// fall back to a day, matching the site default.
func PeriodDuration(period PeriodType) time.Duration {
	switch period {
	case PeriodHour:
		return time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

type LimitConfig struct {
	Enabled bool
	Limit   int
	Period  PeriodType
}

type LimitStatus struct {
	Allowed bool      `json:"allowed"`
	Used    int       `json:"used"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// LedgerStore is the persistence collaborator for ledger rows. Get returns
// nil without error when no row exists; Put upserts on (user, period type).
type LedgerStore interface {
	Get(ctx context.Context, userID int64, period PeriodType) (*models.TokenLedgerEntry, error)
	Put(ctx context.Context, entry models.TokenLedgerEntry) error
	DeleteStale(ctx context.Context, period PeriodType, before time.Time) error
}

// Ledger tracks token consumption per user per period window. Commits for
// the same user are serialized through striped locks so concurrent requests
// cannot lose an increment; different users hash to independent stripes and
// do not block each other.
type Ledger struct {
	store LedgerStore
	locks [64]sync.Mutex
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) lock(userID int64) *sync.Mutex {
	return &l.locks[uint64(userID)%uint64(len(l.locks))]
}

// Check reports whether the user may start another completion. It lazily
// creates the current period's row but never adds usage. The gate is strict
// `used < limit`, checked before the turn that will consume tokens: actual
// usage can therefore overshoot the limit by at most one turn. That is the
// documented accounting semantics, not a bug.
func (l *Ledger) Check(ctx context.Context, cfg LimitConfig, userID int64, now time.Time) (LimitStatus, error) {
	if !cfg.Enabled {
		return LimitStatus{Allowed: true}, nil
	}

	mu := l.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	duration := PeriodDuration(cfg.Period)
	entry, err := l.store.Get(ctx, userID, cfg.Period)
	if err != nil {
		return LimitStatus{}, err
	}
	if entry == nil || !entry.PeriodStart.Add(duration).After(now) {
		fresh := models.TokenLedgerEntry{
			UserID:      userID,
			PeriodType:  string(cfg.Period),
			PeriodStart: now,
			TokensUsed:  0,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := l.store.Put(ctx, fresh); err != nil {
			return LimitStatus{}, err
		}
		entry = &fresh
	}

	// Housekeeping: rows whose period has fully elapsed. Failure here must
	// never block the request path.
	_ = l.store.DeleteStale(ctx, cfg.Period, now.Add(-duration))

	return LimitStatus{
		Allowed: entry.TokensUsed < cfg.Limit,
		Used:    entry.TokensUsed,
		Limit:   cfg.Limit,
		ResetAt: entry.PeriodStart.Add(duration),
	}, nil
}

// Commit charges tokens to the user's current period row. It is the only
// mutator of usage.
func (l *Ledger) Commit(ctx context.Context, cfg LimitConfig, userID int64, count int, now time.Time) error {
	if !cfg.Enabled || count <= 0 {
		return nil
	}

	mu := l.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	duration := PeriodDuration(cfg.Period)
	entry, err := l.store.Get(ctx, userID, cfg.Period)
	if err != nil {
		return err
	}
	if entry == nil || !entry.PeriodStart.Add(duration).After(now) {
		return l.store.Put(ctx, models.TokenLedgerEntry{
			UserID:      userID,
			PeriodType:  string(cfg.Period),
			PeriodStart: now,
			TokensUsed:  count,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	entry.TokensUsed += count
	entry.UpdatedAt = now
	return l.store.Put(ctx, *entry)
}
