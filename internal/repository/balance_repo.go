package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadflow/backend/internal/models"
)

// TotalsField selects which running total a balance delta accumulates into.
type TotalsField int

const (
	TotalsNone TotalsField = iota
	TotalsPurchased
	TotalsUsed
)

// BalanceRepo owns the credit_balances table: one row per (user_id,
// credit_type) with the non-negative balance invariant enforced in SQL.
type BalanceRepo struct {
	pool *pgxpool.Pool
}

func NewBalanceRepo(pool *pgxpool.Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

const balanceColumns = `user_id, credit_type, balance, total_purchased, total_used, created_at, updated_at`

// GetOrCreateTx returns the wallet row locked for the remainder of the
// transaction, creating a zeroed row first if none exists. Idempotent.
func (r *BalanceRepo) GetOrCreateTx(ctx context.Context, tx pgx.Tx, userID int64, creditType models.CreditType) (*models.Balance, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO credit_balances (user_id, credit_type, balance, total_purchased, total_used)
		VALUES ($1, $2, 0, 0, 0)
		ON CONFLICT (user_id, credit_type) DO NOTHING
	`, userID, creditType)
	if err != nil {
		return nil, err
	}
	var b models.Balance
	err = tx.QueryRow(ctx, `
		SELECT `+balanceColumns+`
		FROM credit_balances WHERE user_id = $1 AND credit_type = $2
		FOR UPDATE
	`, userID, creditType).Scan(&b.UserID, &b.CreditType, &b.Balance, &b.TotalPurchased, &b.TotalUsed, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetForUpdateTx locks and returns the wallet row, or nil if the user has
// never been credited for this type. Deducts must not auto-create wallets.
func (r *BalanceRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, userID int64, creditType models.CreditType) (*models.Balance, error) {
	var b models.Balance
	err := tx.QueryRow(ctx, `
		SELECT `+balanceColumns+`
		FROM credit_balances WHERE user_id = $1 AND credit_type = $2
		FOR UPDATE
	`, userID, creditType).Scan(&b.UserID, &b.CreditType, &b.Balance, &b.TotalPurchased, &b.TotalUsed, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ApplyDeltaTx applies a signed delta to the wallet balance inside the
// caller's transaction and returns the new balance. The WHERE clause
// rejects any delta that would drive the balance negative; callers see
// pgx.ErrNoRows in that case and no mutation occurs. totals picks which
// running total accumulates abs(delta) alongside the balance change.
func (r *BalanceRepo) ApplyDeltaTx(ctx context.Context, tx pgx.Tx, userID int64, creditType models.CreditType, delta int64, totals TotalsField) (int64, error) {
	var q string
	switch totals {
	case TotalsPurchased:
		q = `
			UPDATE credit_balances
			SET balance = balance + $3, total_purchased = total_purchased + $3, updated_at = now()
			WHERE user_id = $1 AND credit_type = $2 AND balance + $3 >= 0
			RETURNING balance`
	case TotalsUsed:
		// delta is negative on the usage path; total_used accumulates abs(delta).
		q = `
			UPDATE credit_balances
			SET balance = balance + $3, total_used = total_used - $3, updated_at = now()
			WHERE user_id = $1 AND credit_type = $2 AND balance + $3 >= 0
			RETURNING balance`
	default:
		q = `
			UPDATE credit_balances
			SET balance = balance + $3, updated_at = now()
			WHERE user_id = $1 AND credit_type = $2 AND balance + $3 >= 0
			RETURNING balance`
	}
	var newBalance int64
	if err := tx.QueryRow(ctx, q, userID, creditType, delta).Scan(&newBalance); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// GetOrCreate is the pool-level variant for the read path. It does not lock
// the row and must never back a mutation decision.
func (r *BalanceRepo) GetOrCreate(ctx context.Context, userID int64, creditType models.CreditType) (*models.Balance, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO credit_balances (user_id, credit_type, balance, total_purchased, total_used)
		VALUES ($1, $2, 0, 0, 0)
		ON CONFLICT (user_id, credit_type) DO NOTHING
	`, userID, creditType)
	if err != nil {
		return nil, err
	}
	var b models.Balance
	err = r.pool.QueryRow(ctx, `
		SELECT `+balanceColumns+`
		FROM credit_balances WHERE user_id = $1 AND credit_type = $2
	`, userID, creditType).Scan(&b.UserID, &b.CreditType, &b.Balance, &b.TotalPurchased, &b.TotalUsed, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
