package metering

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/leadflow/backend/internal/ledger"
	"github.com/leadflow/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubLedger struct {
	checkOK   bool
	deductErr error

	deducted     bool
	deductedAmt  int64
	deductedRef  string
	deductedType string
}

func (s *stubLedger) CheckBalance(_ context.Context, _ int64, _ models.CreditType, _ int64) (bool, error) {
	return s.checkOK, nil
}

func (s *stubLedger) DeductCredits(_ context.Context, _, amount int64, _ models.CreditType, _ string, referenceID, referenceType *string, _ models.Metadata) error {
	if s.deductErr != nil {
		return s.deductErr
	}
	s.deducted = true
	s.deductedAmt = amount
	if referenceID != nil {
		s.deductedRef = *referenceID
	}
	if referenceType != nil {
		s.deductedType = *referenceType
	}
	return nil
}

func runJob(args RunJobArgs) *river.Job[RunJobArgs] {
	return &river.Job[RunJobArgs]{Args: args}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRunWorker_ChargesAfterSuccessfulRun(t *testing.T) {
	var gotBody []byte
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	l := &stubLedger{checkOK: true}
	w := NewRunWorker(l, nil)
	runID := uuid.New()

	err := w.Work(context.Background(), runJob(RunJobArgs{
		RunID:       runID,
		UserID:      1,
		CreditType:  models.CreditTypeEnrichment,
		Cost:        25,
		Description: "enrich batch",
		WebhookURL:  webhook.URL,
		Payload:     []byte(`{"leads":[1,2,3]}`),
	}))
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	if string(gotBody) != `{"leads":[1,2,3]}` {
		t.Errorf("webhook body = %s", gotBody)
	}
	if !l.deducted || l.deductedAmt != 25 {
		t.Errorf("expected a 25-credit deduct, got deducted=%v amount=%d", l.deducted, l.deductedAmt)
	}
	if l.deductedRef != runID.String() || l.deductedType != ReferenceTypeRun {
		t.Errorf("deduct reference = (%s, %s), want run id and %q", l.deductedRef, l.deductedType, ReferenceTypeRun)
	}
}

func TestRunWorker_CancelsWhenUnfunded(t *testing.T) {
	webhookCalled := false
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		webhookCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	l := &stubLedger{checkOK: false}
	w := NewRunWorker(l, nil)

	err := w.Work(context.Background(), runJob(RunJobArgs{
		RunID:      uuid.New(),
		UserID:     1,
		CreditType: models.CreditTypeCalling,
		Cost:       10,
		WebhookURL: webhook.URL,
	}))
	if err == nil {
		t.Fatal("expected cancellation error for unfunded run")
	}
	if webhookCalled {
		t.Error("webhook must not run when the wallet cannot cover the cost")
	}
	if l.deducted {
		t.Error("nothing should be deducted for a cancelled run")
	}
}

func TestRunWorker_WebhookFailureRetriesWithoutCharging(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer webhook.Close()

	l := &stubLedger{checkOK: true}
	w := NewRunWorker(l, nil)

	err := w.Work(context.Background(), runJob(RunJobArgs{
		RunID:      uuid.New(),
		UserID:     1,
		CreditType: models.CreditTypeScraping,
		Cost:       5,
		WebhookURL: webhook.URL,
	}))
	if err == nil {
		t.Fatal("expected error for failed webhook")
	}
	if l.deducted {
		t.Error("failed run must not be charged")
	}
}

func TestRunWorker_CancelsWhenDrainedMidRun(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	// Pre-check passes but the authoritative deduct finds the wallet drained.
	l := &stubLedger{checkOK: true, deductErr: ledger.ErrInsufficientCredits}
	w := NewRunWorker(l, nil)

	err := w.Work(context.Background(), runJob(RunJobArgs{
		RunID:      uuid.New(),
		UserID:     1,
		CreditType: models.CreditTypeCalling,
		Cost:       10,
		WebhookURL: webhook.URL,
	}))
	if err == nil {
		t.Fatal("expected cancellation error when the deduct fails")
	}
}
