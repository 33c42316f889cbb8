package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/racepix/racepix/internal/database"
)

// Postgres error codes surfaced by concurrent ledger writes.
const (
	pqSerializationFailure = "40001"
	pqUniqueViolation      = "23505"
)

const ledgerRetries = 3

// LedgerRepository provides PostgreSQL-backed credit ledger storage. Every
// operation runs in a serializable transaction and retries on serialization
// failures, so concurrent batches from one user cannot lose updates.
type LedgerRepository struct {
	pool *Pool
}

func NewLedgerRepository(pool *Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func (r *LedgerRepository) Debit(ctx context.Context, userID string, amount int, reason string) (*database.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	return r.append(ctx, userID, database.EntryDebit, -amount, reason, "")
}

// Refund appends a refund entry unless one with the same idemKey already
// exists. Returns (nil, nil) when the refund was already applied.
func (r *LedgerRepository) Refund(ctx context.Context, userID string, amount int, reason, idemKey string) (*database.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	if idemKey == "" {
		return nil, errors.New("refund requires an idempotency key")
	}

	entry, err := r.append(ctx, userID, database.EntryRefund, amount, reason, idemKey)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return nil, nil
	}
	return entry, err
}

func (r *LedgerRepository) Adjust(ctx context.Context, userID string, delta int, reason string) (*database.LedgerEntry, error) {
	if delta == 0 {
		return nil, errors.New("adjustment delta must be non-zero")
	}
	return r.append(ctx, userID, database.EntryAdjustment, delta, reason, "")
}

func (r *LedgerRepository) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT balance_after FROM credit_ledger WHERE user_id = $1 ORDER BY id DESC LIMIT 1),
			0
		)
	`, userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

func (r *LedgerRepository) Recent(ctx context.Context, userID string, limit int) ([]database.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, entry_type, amount, balance_before, balance_after,
		       reason, COALESCE(idem_key, ''), created_at
		FROM credit_ledger
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []database.LedgerEntry
	for rows.Next() {
		var e database.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.BalanceBefore,
			&e.BalanceAfter, &e.Reason, &e.IdemKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return entries, nil
}

// append inserts one entry at serializable isolation. The amount is signed;
// a balance that would go negative rejects the whole transaction.
func (r *LedgerRepository) append(ctx context.Context, userID, entryType string, amount int, reason, idemKey string) (*database.LedgerEntry, error) {
	var lastErr error
	for range ledgerRetries {
		entry, err := r.appendOnce(ctx, userID, entryType, amount, reason, idemKey)
		if err == nil {
			return entry, nil
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqSerializationFailure {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("ledger append failed after %d retries: %w", ledgerRetries, lastErr)
}

func (r *LedgerRepository) appendOnce(ctx context.Context, userID, entryType string, amount int, reason, idemKey string) (*database.LedgerEntry, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if idemKey != "" {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM credit_ledger WHERE user_id = $1 AND idem_key = $2)",
			userID, idemKey,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check idempotency key: %w", err)
		}
		if exists {
			return nil, &pq.Error{Code: pqUniqueViolation}
		}
	}

	var before int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(
			(SELECT balance_after FROM credit_ledger WHERE user_id = $1 ORDER BY id DESC LIMIT 1),
			0
		)
	`, userID).Scan(&before)
	if err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}

	after := before + amount
	if after < 0 {
		return nil, database.ErrInsufficientCredits
	}

	entry := &database.LedgerEntry{
		UserID:        userID,
		Type:          entryType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reason:        reason,
		IdemKey:       idemKey,
	}

	var idem any
	if idemKey != "" {
		idem = idemKey
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO credit_ledger (user_id, entry_type, amount, balance_before, balance_after, reason, idem_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, userID, entryType, amount, before, after, reason, idem).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger entry: %w", err)
	}

	return entry, nil
}
