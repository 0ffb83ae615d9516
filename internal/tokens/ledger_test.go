package tokens

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"coursechat/backend/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]models.TokenLedgerEntry
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]models.TokenLedgerEntry{}}
}

func storeKey(userID int64, period PeriodType) string {
	return string(period) + ":" + strconv.FormatInt(userID, 10)
}

func (m *memStore) Get(ctx context.Context, userID int64, period PeriodType) (*models.TokenLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[storeKey(userID, period)]
	if !ok {
		return nil, nil
	}
	copied := entry
	return &copied, nil
}

func (m *memStore) Put(ctx context.Context, entry models.TokenLedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[storeKey(entry.UserID, PeriodType(entry.PeriodType))] = entry
	return nil
}

func (m *memStore) DeleteStale(ctx context.Context, period PeriodType, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range m.entries {
		if entry.PeriodType == string(period) && entry.PeriodStart.Before(before) {
			delete(m.entries, key)
		}
	}
	return nil
}

func TestLedgerDisabled(t *testing.T) {
	ledger := NewLedger(newMemStore())
	status, err := ledger.Check(context.Background(), LimitConfig{Enabled: false}, 1, time.Now())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !status.Allowed || status.Limit != 0 || status.Used != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestLedgerGateAndReset(t *testing.T) {
	ledger := NewLedger(newMemStore())
	cfg := LimitConfig{Enabled: true, Limit: 100, Period: PeriodDay}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	status, err := ledger.Check(ctx, cfg, 1, now)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !status.Allowed || status.Used != 0 {
		t.Fatalf("expected fresh allow, got %+v", status)
	}

	if err := ledger.Commit(ctx, cfg, 1, 100, now); err != nil {
		t.Fatalf("commit: %v", err)
	}
	status, err = ledger.Check(ctx, cfg, 1, now)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status.Allowed {
		t.Fatalf("expected block at limit, got %+v", status)
	}
	if status.Used != 100 {
		t.Fatalf("expected used 100, got %d", status.Used)
	}
	if !status.ResetAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("unexpected reset: %v", status.ResetAt)
	}

	// Simulated clock past the period boundary.
	later := now.Add(25 * time.Hour)
	status, err = ledger.Check(ctx, cfg, 1, later)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !status.Allowed || status.Used != 0 {
		t.Fatalf("expected reset allow, got %+v", status)
	}
}

func TestLedgerStrictInequality(t *testing.T) {
	ledger := NewLedger(newMemStore())
	cfg := LimitConfig{Enabled: true, Limit: 100, Period: PeriodHour}
	now := time.Now()
	ctx := context.Background()

	if err := ledger.Commit(ctx, cfg, 2, 99, now); err != nil {
		t.Fatalf("commit: %v", err)
	}
	status, err := ledger.Check(ctx, cfg, 2, now)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !status.Allowed {
		t.Fatalf("99 < 100 must still admit a request")
	}
}

func TestLedgerConcurrentCommits(t *testing.T) {
	ledger := NewLedger(newMemStore())
	cfg := LimitConfig{Enabled: true, Limit: 1 << 30, Period: PeriodDay}
	now := time.Now()
	ctx := context.Background()

	const workers = 32
	const perWorker = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := ledger.Commit(ctx, cfg, 7, 3, now); err != nil {
					t.Errorf("commit: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	status, err := ledger.Check(ctx, cfg, 7, now)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if want := workers * perWorker * 3; status.Used != want {
		t.Fatalf("lost updates: used %d want %d", status.Used, want)
	}
}

func TestLedgerPrunesStaleRows(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store)
	cfg := LimitConfig{Enabled: true, Limit: 10, Period: PeriodHour}
	ctx := context.Background()

	old := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	if err := ledger.Commit(ctx, cfg, 3, 5, old); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// A later check from another user sweeps elapsed rows.
	if _, err := ledger.Check(ctx, cfg, 4, old.Add(3*time.Hour)); err != nil {
		t.Fatalf("check: %v", err)
	}

	entry, err := store.Get(ctx, 3, PeriodHour)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected stale row pruned, got %+v", entry)
	}
}

func TestPeriodDurationTable(t *testing.T) {
	cases := map[PeriodType]time.Duration{
		PeriodHour:  time.Hour,
		PeriodDay:   24 * time.Hour,
		PeriodWeek:  7 * 24 * time.Hour,
		PeriodMonth: 30 * 24 * time.Hour,
		"bogus":     24 * time.Hour,
	}
	for period, want := range cases {
		if got := PeriodDuration(period); got != want {
			t.Fatalf("%s: got %v want %v", period, got, want)
		}
	}
}
