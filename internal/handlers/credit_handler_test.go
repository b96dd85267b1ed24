package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leadflow/backend/internal/ledger"
	"github.com/leadflow/backend/internal/middleware"
	"github.com/leadflow/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// stubLedger implements ledger.Service with canned results and records the
// last mutating call.
type stubLedger struct {
	err     error
	balance int64
	history []*models.Transaction
	stats   *models.UsageStats

	addCalled    bool
	deductCalled bool
	refundID     int64
	adjustAmount int64
	gotUserID    int64
	gotAmount    int64
	gotType      models.CreditType
	gotTxType    string
	gotMetadata  models.Metadata
}

func (s *stubLedger) AddCredits(_ context.Context, userID, amount int64, ct models.CreditType, _ string, txType string, metadata models.Metadata) error {
	s.addCalled = true
	s.gotUserID, s.gotAmount, s.gotType, s.gotTxType, s.gotMetadata = userID, amount, ct, txType, metadata
	return s.err
}

func (s *stubLedger) DeductCredits(_ context.Context, userID, amount int64, ct models.CreditType, _ string, _, _ *string, metadata models.Metadata) error {
	s.deductCalled = true
	s.gotUserID, s.gotAmount, s.gotType, s.gotMetadata = userID, amount, ct, metadata
	return s.err
}

func (s *stubLedger) RefundCredits(_ context.Context, transactionID int64) error {
	s.refundID = transactionID
	return s.err
}

func (s *stubLedger) AdjustCredits(_ context.Context, userID, amount int64, ct models.CreditType, _ string, _ models.Metadata) error {
	s.adjustAmount = amount
	s.gotUserID, s.gotType = userID, ct
	return s.err
}

func (s *stubLedger) GetBalance(_ context.Context, userID int64, ct models.CreditType) (int64, error) {
	s.gotUserID, s.gotType = userID, ct
	return s.balance, s.err
}

func (s *stubLedger) CheckBalance(_ context.Context, _ int64, _ models.CreditType, required int64) (bool, error) {
	return s.balance >= required, s.err
}

func (s *stubLedger) GetTransactionHistory(_ context.Context, userID int64, _ *models.CreditType, _, _ int) ([]*models.Transaction, error) {
	s.gotUserID = userID
	return s.history, s.err
}

func (s *stubLedger) GetUsageStats(_ context.Context, _ int64, _ models.CreditType, _, _ *time.Time) (*models.UsageStats, error) {
	return s.stats, s.err
}

var _ ledger.Service = (*stubLedger)(nil)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var testAccount = &models.Account{ID: 7, Email: "ops@example.com"}

func doRequest(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(middleware.WithAccount(req.Context(), testAccount))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAddCredits_OK(t *testing.T) {
	l := &stubLedger{}
	h := &CreditHandler{Ledger: l}

	rec := doRequest(h.AddCredits, http.MethodPost, "/v1/credits/add",
		`{"amount":500,"credit_type":"calling","description":"top-up","transaction_type":"purchase","metadata":{"stripe_event":"evt_1"}}`)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if !l.addCalled || l.gotUserID != 7 || l.gotAmount != 500 || l.gotType != models.CreditTypeCalling {
		t.Errorf("ledger called with user=%d amount=%d type=%s", l.gotUserID, l.gotAmount, l.gotType)
	}
	if l.gotMetadata["stripe_event"] != "evt_1" {
		t.Errorf("metadata not passed through: %+v", l.gotMetadata)
	}
}

func TestAddCredits_DefaultsToPurchase(t *testing.T) {
	l := &stubLedger{}
	h := &CreditHandler{Ledger: l}

	rec := doRequest(h.AddCredits, http.MethodPost, "/v1/credits/add",
		`{"amount":100,"credit_type":"enrichment"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if l.gotTxType != models.TransactionTypePurchase {
		t.Errorf("transaction_type = %q, want purchase", l.gotTxType)
	}
}

func TestAddCredits_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"invalid json", `{`, nil, http.StatusBadRequest},
		{"unknown credit type", `{"amount":10,"credit_type":"minutes"}`, nil, http.StatusBadRequest},
		{"usage type not allowed", `{"amount":10,"credit_type":"calling","transaction_type":"usage"}`, nil, http.StatusBadRequest},
		{"invalid amount", `{"amount":0,"credit_type":"calling"}`, ledger.ErrInvalidAmount, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &CreditHandler{Ledger: &stubLedger{err: tc.err}}
			rec := doRequest(h.AddCredits, http.MethodPost, "/v1/credits/add", tc.body)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestDeductCredits_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusNoContent},
		{"insufficient", ledger.ErrInsufficientCredits, http.StatusPaymentRequired},
		{"no wallet", ledger.ErrNoCreditRecord, http.StatusNotFound},
		{"invalid amount", ledger.ErrInvalidAmount, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &CreditHandler{Ledger: &stubLedger{err: tc.err}}
			rec := doRequest(h.DeductCredits, http.MethodPost, "/v1/credits/deduct",
				`{"amount":30,"credit_type":"enrichment","description":"enrich"}`)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRefundCredits_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusNoContent},
		{"already refunded", ledger.ErrAlreadyRefunded, http.StatusConflict},
		{"not refundable", ledger.ErrInvalidTransactionType, http.StatusBadRequest},
		{"unknown transaction", ledger.ErrTransactionNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := &stubLedger{err: tc.err}
			h := &CreditHandler{Ledger: l}
			rec := doRequest(h.RefundCredits, http.MethodPost, "/v1/credits/refund", `{"transaction_id":42}`)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if l.refundID != 42 {
				t.Errorf("refund called with id %d, want 42", l.refundID)
			}
		})
	}
}

func TestAdjustCredits_PassesSignedAmount(t *testing.T) {
	l := &stubLedger{}
	h := &CreditHandler{Ledger: l}

	rec := doRequest(h.AdjustCredits, http.MethodPost, "/v1/credits/adjust",
		`{"amount":-40,"credit_type":"scraping","description":"clawback"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if l.adjustAmount != -40 {
		t.Errorf("adjust amount = %d, want -40", l.adjustAmount)
	}
}

func TestGetBalance(t *testing.T) {
	l := &stubLedger{balance: 380}
	h := &CreditHandler{Ledger: l}

	rec := doRequest(h.GetBalance, http.MethodGet, "/v1/credits/balance?credit_type=calling", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp balanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Balance != 380 || resp.CreditType != models.CreditTypeCalling {
		t.Errorf("response = %+v", resp)
	}

	rec = doRequest(h.GetBalance, http.MethodGet, "/v1/credits/balance?credit_type=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus credit_type: expected 400, got %d", rec.Code)
	}
}

func TestGetHistory(t *testing.T) {
	l := &stubLedger{history: []*models.Transaction{
		{ID: 2, Amount: -30, BalanceAfter: 70},
		{ID: 1, Amount: 100, BalanceAfter: 100},
	}}
	h := &CreditHandler{Ledger: l}

	rec := doRequest(h.GetHistory, http.MethodGet, "/v1/credits/history?credit_type=enrichment&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp []models.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 2 || resp[0].Amount != -30 {
		t.Errorf("history = %+v, want 2 entries most recent first", resp)
	}
}

func TestGetUsageStats(t *testing.T) {
	l := &stubLedger{stats: &models.UsageStats{Balance: 50, TotalUsed: 50, TransactionCount: 3, AverageDaily: 25}}
	h := &CreditHandler{Ledger: l}

	rec := doRequest(h.GetUsageStats, http.MethodGet,
		"/v1/credits/stats?credit_type=scraping&start=2026-08-01T00:00:00Z&end=2026-08-03T00:00:00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.UsageStats
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AverageDaily != 25 || resp.TransactionCount != 3 {
		t.Errorf("stats = %+v", resp)
	}

	rec = doRequest(h.GetUsageStats, http.MethodGet, "/v1/credits/stats?credit_type=scraping&start=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad start: expected 400, got %d", rec.Code)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	h := &CreditHandler{Ledger: &stubLedger{}}

	endpoints := []http.HandlerFunc{h.AddCredits, h.DeductCredits, h.RefundCredits, h.AdjustCredits, h.GetBalance, h.GetHistory, h.GetUsageStats}
	for i, fn := range endpoints {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		fn(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("endpoint %d: expected 401 without account, got %d", i, rec.Code)
		}
	}
}
