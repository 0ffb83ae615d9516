package tokens

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"coursechat/backend/internal/db"
	"coursechat/backend/internal/models"
)

// PGStore persists ledger rows in Postgres. The upsert keys on
// (user_id, period_type) so at most one row per user covers "now". Put
// overwrites with the caller's computed value; the ledger's per-user
// locks serialize the surrounding read-modify-write.
type PGStore struct {
	DB *db.Store
}

func NewPGStore(store *db.Store) *PGStore {
	return &PGStore{DB: store}
}

func (s *PGStore) Get(ctx context.Context, userID int64, period PeriodType) (*models.TokenLedgerEntry, error) {
	var entry models.TokenLedgerEntry
	err := s.DB.Pool.QueryRow(ctx, `
		SELECT user_id, period_type, period_start, tokens_used, created_at, updated_at
		FROM chat_token_ledger
		WHERE user_id=$1 AND period_type=$2`, userID, string(period)).
		Scan(&entry.UserID, &entry.PeriodType, &entry.PeriodStart, &entry.TokensUsed, &entry.CreatedAt, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *PGStore) Put(ctx context.Context, entry models.TokenLedgerEntry) error {
	_, err := s.DB.Pool.Exec(ctx, `
		INSERT INTO chat_token_ledger (user_id, period_type, period_start, tokens_used, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id, period_type)
		DO UPDATE SET period_start=EXCLUDED.period_start, tokens_used=EXCLUDED.tokens_used, updated_at=EXCLUDED.updated_at`,
		entry.UserID, entry.PeriodType, entry.PeriodStart, entry.TokensUsed, entry.CreatedAt, entry.UpdatedAt)
	return err
}

func (s *PGStore) DeleteStale(ctx context.Context, period PeriodType, before time.Time) error {
	_, err := s.DB.Pool.Exec(ctx, `
		DELETE FROM chat_token_ledger WHERE period_type=$1 AND period_start < $2`, string(period), before)
	return err
}
