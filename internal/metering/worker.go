package metering

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/leadflow/backend/internal/ledger"
	"github.com/leadflow/backend/internal/models"
)

// ReferenceTypeRun tags usage transactions charged by the run worker.
const ReferenceTypeRun = "automation_run"

type RunJobArgs struct {
	RunID       uuid.UUID         `json:"run_id"`
	UserID      int64             `json:"user_id"`
	CreditType  models.CreditType `json:"credit_type"`
	Cost        int64             `json:"cost"`
	Description string            `json:"description"`
	WebhookURL  string            `json:"webhook_url"`
	Payload     json.RawMessage   `json:"payload"`
}

func (RunJobArgs) Kind() string { return "run_metered_job" }

// CreditLedger is the contract the worker needs from the credit ledger.
type CreditLedger interface {
	CheckBalance(ctx context.Context, userID int64, creditType models.CreditType, required int64) (bool, error)
	DeductCredits(ctx context.Context, userID, amount int64, creditType models.CreditType, description string, referenceID, referenceType *string, metadata models.Metadata) error
}

// RunWorker executes a metered automation run: POST the payload to the
// run's webhook, then charge the user's wallet for the configured cost.
type RunWorker struct {
	river.WorkerDefaults[RunJobArgs]
	ledger     CreditLedger
	httpClient *http.Client
	log        *slog.Logger
}

func NewRunWorker(l CreditLedger, log *slog.Logger) *RunWorker {
	if log == nil {
		log = slog.Default()
	}
	return &RunWorker{
		ledger:     l,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

// Work runs the webhook first and bills on completion, so river retries of
// a failed webhook call never double-charge. The upfront balance check is
// advisory (it can race a concurrent deduct); the DeductCredits call after
// the run is the authority and cancels the job if the wallet was drained
// in the meantime.
func (w *RunWorker) Work(ctx context.Context, job *river.Job[RunJobArgs]) error {
	args := job.Args

	ok, err := w.ledger.CheckBalance(ctx, args.UserID, args.CreditType, args.Cost)
	if err != nil {
		return fmt.Errorf("balance pre-check for run %s: %w", args.RunID, err)
	}
	if !ok {
		return river.JobCancel(fmt.Errorf("insufficient %s credits for run %s", args.CreditType, args.RunID))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, args.WebhookURL, bytes.NewReader(args.Payload))
	if err != nil {
		return river.JobCancel(fmt.Errorf("bad webhook request for run %s: %w", args.RunID, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling run webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("run webhook returned status %d", resp.StatusCode)
	}

	refID := args.RunID.String()
	refType := ReferenceTypeRun
	err = w.ledger.DeductCredits(ctx, args.UserID, args.Cost, args.CreditType, args.Description, &refID, &refType, nil)
	if errors.Is(err, ledger.ErrInsufficientCredits) || errors.Is(err, ledger.ErrNoCreditRecord) {
		w.log.Warn("run completed but wallet could not cover it", "run_id", args.RunID, "user_id", args.UserID, "error", err)
		return river.JobCancel(err)
	}
	return err
}
