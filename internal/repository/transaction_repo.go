package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadflow/backend/internal/models"
)

// TransactionRepo owns the append-only credit_transactions table. Rows are
// immutable once written; the repo deliberately has no update or delete
// methods.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const transactionColumns = `id, user_id, credit_type, transaction_type, amount, balance_after, description, reference_id, reference_type, metadata, created_at`

// CreateTx appends a ledger entry inside the caller's transaction and fills
// in the generated id and created_at.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}
	return tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (user_id, credit_type, transaction_type, amount, balance_after, description, reference_id, reference_type, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, t.UserID, t.CreditType, t.TransactionType, t.Amount, t.BalanceAfter, t.Description, t.ReferenceID, t.ReferenceType, meta).Scan(&t.ID, &t.CreatedAt)
}

// GetByID returns the transaction, or nil if no such id exists.
func (r *TransactionRepo) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM credit_transactions WHERE id = $1
	`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns the user's transactions most recent first, optionally
// filtered by credit type.
func (r *TransactionRepo) List(ctx context.Context, userID int64, creditType *models.CreditType, limit, offset int) ([]*models.Transaction, error) {
	var rows pgx.Rows
	var err error
	if creditType != nil {
		rows, err = r.pool.Query(ctx, `
			SELECT `+transactionColumns+`
			FROM credit_transactions WHERE user_id = $1 AND credit_type = $2
			ORDER BY id DESC LIMIT $3 OFFSET $4
		`, userID, *creditType, limit, offset)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+transactionColumns+`
			FROM credit_transactions WHERE user_id = $1
			ORDER BY id DESC LIMIT $2 OFFSET $3
		`, userID, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// FindRefundOfTx returns the refund entry that reverses the given original
// transaction id, or nil if it has not been refunded. A given original id
// is referenced by at most one refund. Runs inside the caller's transaction
// so the answer is consistent with the wallet row lock the caller holds.
func (r *TransactionRepo) FindRefundOfTx(ctx context.Context, tx pgx.Tx, originalID int64) (*models.Transaction, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM credit_transactions
		WHERE transaction_type = 'refund'
		  AND (metadata->>'original_transaction_id')::bigint = $1
		LIMIT 1
	`, originalID)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UsageTotals returns the sum of abs(amount) over usage-type entries and
// the count of all entries for the wallet within [start, end].
func (r *TransactionRepo) UsageTotals(ctx context.Context, userID int64, creditType models.CreditType, start, end time.Time) (usageSum int64, txCount int64, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(ABS(amount)) FILTER (WHERE transaction_type = 'usage'), 0), COUNT(*)
		FROM credit_transactions
		WHERE user_id = $1 AND credit_type = $2
		  AND created_at >= $3 AND created_at <= $4
	`, userID, creditType, start, end).Scan(&usageSum, &txCount)
	return usageSum, txCount, err
}

func encodeMetadata(m models.Metadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var meta []byte
	err := row.Scan(&t.ID, &t.UserID, &t.CreditType, &t.TransactionType, &t.Amount, &t.BalanceAfter, &t.Description, &t.ReferenceID, &t.ReferenceType, &meta, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}
