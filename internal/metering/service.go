package metering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadflow/backend/internal/models"
)

var ErrInvalidRun = errors.New("invalid run request")

// InsertRunTxFunc enqueues a run job within the given transaction. Provided
// by main as a closure over river.Client.InsertTx.
type InsertRunTxFunc func(ctx context.Context, tx pgx.Tx, args RunJobArgs) error

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service interface {
	EnqueueRun(ctx context.Context, userID int64, args RunRequest) (uuid.UUID, error)
}

// RunRequest describes a metered automation run to enqueue.
type RunRequest struct {
	CreditType  models.CreditType `json:"credit_type"`
	Cost        int64             `json:"cost"`
	Description string            `json:"description"`
	WebhookURL  string            `json:"webhook_url"`
	Payload     json.RawMessage   `json:"payload"`
}

type service struct {
	pool      TxBeginner
	insertRun InsertRunTxFunc
}

func NewService(pool TxBeginner, insertRun InsertRunTxFunc) Service {
	return &service{pool: pool, insertRun: insertRun}
}

var _ Service = (*service)(nil)

func (s *service) EnqueueRun(ctx context.Context, userID int64, req RunRequest) (uuid.UUID, error) {
	if req.Cost <= 0 {
		return uuid.Nil, fmt.Errorf("%w: cost must be > 0", ErrInvalidRun)
	}
	if req.WebhookURL == "" {
		return uuid.Nil, fmt.Errorf("%w: webhook_url is required", ErrInvalidRun)
	}
	if !req.CreditType.Valid() {
		return uuid.Nil, fmt.Errorf("%w: unknown credit_type %q", ErrInvalidRun, req.CreditType)
	}

	runID := uuid.New()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.insertRun(ctx, tx, RunJobArgs{
		RunID:       runID,
		UserID:      userID,
		CreditType:  req.CreditType,
		Cost:        req.Cost,
		Description: req.Description,
		WebhookURL:  req.WebhookURL,
		Payload:     req.Payload,
	}); err != nil {
		return uuid.Nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return runID, nil
}
