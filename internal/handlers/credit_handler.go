package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/leadflow/backend/internal/ledger"
	"github.com/leadflow/backend/internal/middleware"
	"github.com/leadflow/backend/internal/models"
)

// CreditHandler serves the /v1/credits endpoints. All routes require an
// authenticated account set by APIKeyAuth; the wallet operated on is the
// caller's own.
type CreditHandler struct {
	Ledger ledger.Service
	Logger *slog.Logger
}

// --- POST /v1/credits/add ---

type addCreditsRequest struct {
	Amount          int64             `json:"amount"`
	CreditType      models.CreditType `json:"credit_type"`
	Description     string            `json:"description"`
	TransactionType string            `json:"transaction_type"`
	Metadata        models.Metadata   `json:"metadata,omitempty"`
}

// AddCredits handles POST /v1/credits/add. Payment webhooks call this with
// transaction_type "purchase" after a confirmed charge.
func (h *CreditHandler) AddCredits(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req addCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if !req.CreditType.Valid() {
		http.Error(w, `{"error":"unknown credit_type"}`, http.StatusBadRequest)
		return
	}
	if req.TransactionType == "" {
		req.TransactionType = models.TransactionTypePurchase
	}
	if req.TransactionType != models.TransactionTypePurchase && req.TransactionType != models.TransactionTypeAdjustment {
		http.Error(w, `{"error":"transaction_type must be purchase or adjustment"}`, http.StatusBadRequest)
		return
	}

	err := h.Ledger.AddCredits(r.Context(), acc.ID, req.Amount, req.CreditType, req.Description, req.TransactionType, req.Metadata)
	if err != nil {
		h.writeLedgerError(w, "add credits", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- POST /v1/credits/deduct ---

type deductCreditsRequest struct {
	Amount        int64             `json:"amount"`
	CreditType    models.CreditType `json:"credit_type"`
	Description   string            `json:"description"`
	ReferenceID   *string           `json:"reference_id,omitempty"`
	ReferenceType *string           `json:"reference_type,omitempty"`
	Metadata      models.Metadata   `json:"metadata,omitempty"`
}

func (h *CreditHandler) DeductCredits(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req deductCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if !req.CreditType.Valid() {
		http.Error(w, `{"error":"unknown credit_type"}`, http.StatusBadRequest)
		return
	}

	err := h.Ledger.DeductCredits(r.Context(), acc.ID, req.Amount, req.CreditType, req.Description, req.ReferenceID, req.ReferenceType, req.Metadata)
	if err != nil {
		h.writeLedgerError(w, "deduct credits", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- POST /v1/credits/refund ---

type refundCreditsRequest struct {
	TransactionID int64 `json:"transaction_id"`
}

func (h *CreditHandler) RefundCredits(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req refundCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	if err := h.Ledger.RefundCredits(r.Context(), req.TransactionID); err != nil {
		h.writeLedgerError(w, "refund credits", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- POST /v1/credits/adjust ---

type adjustCreditsRequest struct {
	Amount      int64             `json:"amount"`
	CreditType  models.CreditType `json:"credit_type"`
	Description string            `json:"description"`
	Metadata    models.Metadata   `json:"metadata,omitempty"`
}

func (h *CreditHandler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req adjustCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if !req.CreditType.Valid() {
		http.Error(w, `{"error":"unknown credit_type"}`, http.StatusBadRequest)
		return
	}

	if err := h.Ledger.AdjustCredits(r.Context(), acc.ID, req.Amount, req.CreditType, req.Description, req.Metadata); err != nil {
		h.writeLedgerError(w, "adjust credits", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- GET /v1/credits/balance?credit_type= ---

type balanceResponse struct {
	CreditType models.CreditType `json:"credit_type"`
	Balance    int64             `json:"balance"`
}

func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	creditType := models.CreditType(r.URL.Query().Get("credit_type"))
	if !creditType.Valid() {
		http.Error(w, `{"error":"unknown credit_type"}`, http.StatusBadRequest)
		return
	}

	balance, err := h.Ledger.GetBalance(r.Context(), acc.ID, creditType)
	if err != nil {
		h.writeLedgerError(w, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{CreditType: creditType, Balance: balance})
}

// --- GET /v1/credits/history?credit_type=&limit=&offset= ---

func (h *CreditHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()

	var creditType *models.CreditType
	if raw := q.Get("credit_type"); raw != "" {
		ct := models.CreditType(raw)
		if !ct.Valid() {
			http.Error(w, `{"error":"unknown credit_type"}`, http.StatusBadRequest)
			return
		}
		creditType = &ct
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	history, err := h.Ledger.GetTransactionHistory(r.Context(), acc.ID, creditType, limit, offset)
	if err != nil {
		h.writeLedgerError(w, "transaction history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// --- GET /v1/credits/stats?credit_type=&start=&end= ---

func (h *CreditHandler) GetUsageStats(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	creditType := models.CreditType(q.Get("credit_type"))
	if !creditType.Valid() {
		http.Error(w, `{"error":"unknown credit_type"}`, http.StatusBadRequest)
		return
	}

	var start, end *time.Time
	if raw := q.Get("start"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, `{"error":"start must be RFC3339"}`, http.StatusBadRequest)
			return
		}
		start = &ts
	}
	if raw := q.Get("end"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, `{"error":"end must be RFC3339"}`, http.StatusBadRequest)
			return
		}
		end = &ts
	}

	stats, err := h.Ledger.GetUsageStats(r.Context(), acc.ID, creditType, start, end)
	if err != nil {
		h.writeLedgerError(w, "usage stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeLedgerError maps the ledger's typed failures onto HTTP statuses.
// Anything untyped is a store-level failure: logged and surfaced as 500 for
// the caller to retry.
func (h *CreditHandler) writeLedgerError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidTransactionType),
		errors.Is(err, ledger.ErrUnknownTransactionType):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientCredits):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrNoCreditRecord),
		errors.Is(err, ledger.ErrTransactionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrAlreadyRefunded):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.logger().Error(op, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *CreditHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
