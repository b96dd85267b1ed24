package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leadflow/backend/internal/models"
	"github.com/leadflow/backend/internal/repository"
)

// Typed failures surfaced to callers. Store errors (begin/commit/SQL) are
// wrapped and propagated as-is; the ledger never retries them.
var (
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInsufficientCredits    = errors.New("insufficient credits")
	ErrNoCreditRecord         = errors.New("no credit record for user and credit type")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrInvalidTransactionType = errors.New("only purchase and usage transactions can be refunded")
	ErrUnknownTransactionType = errors.New("transaction type must be purchase, adjustment, or refund")
	ErrAlreadyRefunded        = errors.New("transaction already refunded")
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BalanceStore is the minimal wallet-row interface the ledger needs. The
// *ForUpdate variants lock the row for the remainder of the transaction,
// serializing concurrent mutations of the same wallet.
type BalanceStore interface {
	GetOrCreateTx(ctx context.Context, tx pgx.Tx, userID int64, creditType models.CreditType) (*models.Balance, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, userID int64, creditType models.CreditType) (*models.Balance, error)
	ApplyDeltaTx(ctx context.Context, tx pgx.Tx, userID int64, creditType models.CreditType, delta int64, totals repository.TotalsField) (int64, error)
	GetOrCreate(ctx context.Context, userID int64, creditType models.CreditType) (*models.Balance, error)
}

// TransactionLog is the minimal append-only audit-log interface.
type TransactionLog interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	List(ctx context.Context, userID int64, creditType *models.CreditType, limit, offset int) ([]*models.Transaction, error)
	FindRefundOfTx(ctx context.Context, tx pgx.Tx, originalID int64) (*models.Transaction, error)
	UsageTotals(ctx context.Context, userID int64, creditType models.CreditType, start, end time.Time) (usageSum int64, txCount int64, err error)
}

// BalanceCache is the optional read-through cache consumed by GetBalance.
// Errors from any of its methods are logged and swallowed, never surfaced.
type BalanceCache interface {
	Get(ctx context.Context, userID int64, creditType models.CreditType) (int64, bool, error)
	Set(ctx context.Context, userID int64, creditType models.CreditType, balance int64) error
	Invalidate(ctx context.Context, userID int64, creditType models.CreditType) error
}

// Service is the credit ledger: atomic mutation of the wallet row and the
// transaction log as one unit, plus the read surface.
type Service interface {
	AddCredits(ctx context.Context, userID, amount int64, creditType models.CreditType, description, transactionType string, metadata models.Metadata) error
	DeductCredits(ctx context.Context, userID, amount int64, creditType models.CreditType, description string, referenceID, referenceType *string, metadata models.Metadata) error
	RefundCredits(ctx context.Context, transactionID int64) error
	AdjustCredits(ctx context.Context, userID, amount int64, creditType models.CreditType, description string, metadata models.Metadata) error
	GetBalance(ctx context.Context, userID int64, creditType models.CreditType) (int64, error)
	CheckBalance(ctx context.Context, userID int64, creditType models.CreditType, required int64) (bool, error)
	GetTransactionHistory(ctx context.Context, userID int64, creditType *models.CreditType, limit, offset int) ([]*models.Transaction, error)
	GetUsageStats(ctx context.Context, userID int64, creditType models.CreditType, start, end *time.Time) (*models.UsageStats, error)
}

type service struct {
	pool     TxBeginner
	balances BalanceStore
	txlog    TransactionLog
	cache    BalanceCache // nil disables caching
	log      *slog.Logger
}

// NewService wires the ledger from its collaborators. cache may be nil.
func NewService(pool TxBeginner, balances BalanceStore, txlog TransactionLog, cache BalanceCache, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{pool: pool, balances: balances, txlog: txlog, cache: cache, log: log}
}

var _ Service = (*service)(nil)

// AddCredits credits the wallet, creating it lazily on first touch. A
// purchase also accumulates total_purchased.
func (s *service) AddCredits(ctx context.Context, userID, amount int64, creditType models.CreditType, description, transactionType string, metadata models.Metadata) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	switch transactionType {
	case models.TransactionTypePurchase, models.TransactionTypeAdjustment, models.TransactionTypeRefund:
	default:
		// Usage entries are only ever written by DeductCredits.
		return ErrUnknownTransactionType
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.balances.GetOrCreateTx(ctx, tx, userID, creditType); err != nil {
		return err
	}
	totals := repository.TotalsNone
	if transactionType == models.TransactionTypePurchase {
		totals = repository.TotalsPurchased
	}
	newBalance, err := s.balances.ApplyDeltaTx(ctx, tx, userID, creditType, amount, totals)
	if err != nil {
		return err
	}
	if err := s.txlog.CreateTx(ctx, tx, &models.Transaction{
		UserID:          userID,
		CreditType:      creditType,
		TransactionType: transactionType,
		Amount:          amount,
		BalanceAfter:    newBalance,
		Description:     description,
		Metadata:        metadata,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.invalidate(ctx, userID, creditType)
	return nil
}

// DeductCredits debits the wallet for metered usage. The sufficiency check
// reads the durable row under its lock, never the cache. A wallet that was
// never credited fails with ErrNoCreditRecord rather than being created.
func (s *service) DeductCredits(ctx context.Context, userID, amount int64, creditType models.CreditType, description string, referenceID, referenceType *string, metadata models.Metadata) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	bal, err := s.balances.GetForUpdateTx(ctx, tx, userID, creditType)
	if err != nil {
		return err
	}
	if bal == nil {
		return ErrNoCreditRecord
	}
	if bal.Balance < amount {
		return ErrInsufficientCredits
	}
	newBalance, err := s.balances.ApplyDeltaTx(ctx, tx, userID, creditType, -amount, repository.TotalsUsed)
	if err != nil {
		// The conditional UPDATE is the last line of defense for the
		// non-negative invariant; with the row locked above it cannot
		// normally fire.
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInsufficientCredits
		}
		return err
	}
	if err := s.txlog.CreateTx(ctx, tx, &models.Transaction{
		UserID:          userID,
		CreditType:      creditType,
		TransactionType: models.TransactionTypeUsage,
		Amount:          -amount,
		BalanceAfter:    newBalance,
		Description:     description,
		ReferenceID:     referenceID,
		ReferenceType:   referenceType,
		Metadata:        metadata,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.invalidate(ctx, userID, creditType)
	return nil
}

// RefundCredits reverses a purchase or usage transaction exactly once by
// crediting abs(original.amount) back as a refund entry.
//
// NOTE: a refund always adds credits regardless of the original entry's
// direction, and reversing a usage debit does not decrement total_used.
// This matches the shipped billing behavior; do not change it without
// product sign-off on the accounting semantics.
func (s *service) RefundCredits(ctx context.Context, transactionID int64) error {
	orig, err := s.txlog.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}
	if orig == nil {
		return ErrTransactionNotFound
	}
	if orig.TransactionType != models.TransactionTypePurchase && orig.TransactionType != models.TransactionTypeUsage {
		return ErrInvalidTransactionType
	}
	refundAmount := orig.Amount
	if refundAmount < 0 {
		refundAmount = -refundAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the wallet row before the duplicate check. Concurrent refunds
	// of the same transaction target the same wallet, so the lock
	// serializes them and the loser sees the winner's committed entry.
	if _, err := s.balances.GetOrCreateTx(ctx, tx, orig.UserID, orig.CreditType); err != nil {
		return err
	}
	existing, err := s.txlog.FindRefundOfTx(ctx, tx, transactionID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyRefunded
	}
	newBalance, err := s.balances.ApplyDeltaTx(ctx, tx, orig.UserID, orig.CreditType, refundAmount, repository.TotalsNone)
	if err != nil {
		return err
	}
	if err := s.txlog.CreateTx(ctx, tx, &models.Transaction{
		UserID:          orig.UserID,
		CreditType:      orig.CreditType,
		TransactionType: models.TransactionTypeRefund,
		Amount:          refundAmount,
		BalanceAfter:    newBalance,
		Description:     fmt.Sprintf("Refund for transaction #%d", transactionID),
		Metadata: models.Metadata{
			models.MetaOriginalTransactionID: orig.ID,
			models.MetaOriginalAmount:        orig.Amount,
			models.MetaOriginalType:          orig.TransactionType,
		},
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.invalidate(ctx, orig.UserID, orig.CreditType)
	return nil
}

// AdjustCredits applies an administrative correction in either direction.
// A zero amount is a no-op.
func (s *service) AdjustCredits(ctx context.Context, userID, amount int64, creditType models.CreditType, description string, metadata models.Metadata) error {
	switch {
	case amount > 0:
		return s.AddCredits(ctx, userID, amount, creditType, description, models.TransactionTypeAdjustment, metadata)
	case amount < 0:
		refType := models.TransactionTypeAdjustment
		return s.DeductCredits(ctx, userID, -amount, creditType, description, nil, &refType, metadata)
	default:
		return nil
	}
}

// GetBalance is the cacheable read path with a bounded staleness window
// (the cache TTL). Mutation decisions never read from here.
func (s *service) GetBalance(ctx context.Context, userID int64, creditType models.CreditType) (int64, error) {
	if s.cache != nil {
		if v, ok, err := s.cache.Get(ctx, userID, creditType); err != nil {
			s.log.Warn("balance cache read failed", "user_id", userID, "credit_type", creditType, "error", err)
		} else if ok {
			return v, nil
		}
	}
	bal, err := s.balances.GetOrCreate(ctx, userID, creditType)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, creditType, bal.Balance); err != nil {
			s.log.Warn("balance cache write failed", "user_id", userID, "credit_type", creditType, "error", err)
		}
	}
	return bal.Balance, nil
}

// CheckBalance reports whether the wallet can cover the required amount.
// It is advisory only: a concurrent deduct can consume the balance between
// this check and a later DeductCredits call. Callers needing a hard
// guarantee call DeductCredits directly and branch on ErrInsufficientCredits.
func (s *service) CheckBalance(ctx context.Context, userID int64, creditType models.CreditType, required int64) (bool, error) {
	balance, err := s.GetBalance(ctx, userID, creditType)
	if err != nil {
		return false, err
	}
	return balance >= required, nil
}

func (s *service) GetTransactionHistory(ctx context.Context, userID int64, creditType *models.CreditType, limit, offset int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.txlog.List(ctx, userID, creditType, limit, offset)
}

// GetUsageStats summarizes a wallet over [start, end]. Nil bounds default
// to the wallet's creation time and now. averageDaily divides usage volume
// by whole days in the range, minimum one day.
func (s *service) GetUsageStats(ctx context.Context, userID int64, creditType models.CreditType, start, end *time.Time) (*models.UsageStats, error) {
	bal, err := s.balances.GetOrCreate(ctx, userID, creditType)
	if err != nil {
		return nil, err
	}
	from := bal.CreatedAt
	if start != nil {
		from = *start
	}
	to := time.Now()
	if end != nil {
		to = *end
	}
	usageSum, txCount, err := s.txlog.UsageTotals(ctx, userID, creditType, from, to)
	if err != nil {
		return nil, err
	}
	days := int64(to.Sub(from).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return &models.UsageStats{
		Balance:          bal.Balance,
		TotalPurchased:   bal.TotalPurchased,
		TotalUsed:        bal.TotalUsed,
		TransactionCount: txCount,
		AverageDaily:     float64(usageSum) / float64(days),
	}, nil
}

// invalidate drops the cached balance after a committed mutation. Best
// effort: a failure here leaves at most a TTL-bounded stale read and must
// never fail the mutation.
func (s *service) invalidate(ctx context.Context, userID int64, creditType models.CreditType) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID, creditType); err != nil {
		s.log.Warn("balance cache invalidation failed", "user_id", userID, "credit_type", creditType, "error", err)
	}
}
