package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/leadflow/backend/internal/models"
)

const ctxDeductKey contextKey = "parsed_deduct"

// BalanceChecker is the advisory read the middleware uses; satisfied by
// ledger.Service.
type BalanceChecker interface {
	CheckBalance(ctx context.Context, userID int64, creditType models.CreditType, required int64) (bool, error)
}

// parsedDeduct is stored in context so the handler can read the amount and
// credit type without re-parsing the body.
type parsedDeduct struct {
	Amount     int64             `json:"amount"`
	CreditType models.CreditType `json:"credit_type"`
}

// DeductAmountFromCtx returns the amount parsed by CreditCheck, or 0 if not set.
func DeductAmountFromCtx(ctx context.Context) int64 {
	if d, ok := ctx.Value(ctxDeductKey).(*parsedDeduct); ok {
		return d.Amount
	}
	return 0
}

// CreditCheck rejects obviously unfunded deduct requests early with an
// advisory balance read. It peeks "amount" and "credit_type" from the body,
// then replaces r.Body so downstream handlers can re-read it.
//
// The check is not atomic with the handler's deduct: a concurrent deduct
// can drain the wallet between the check and the handler running. The
// handler's DeductCredits call re-reads the durable balance under its row
// lock and remains the only authority; this middleware just saves a wasted
// round trip for callers that are clearly out of credits.
func CreditCheck(checker BalanceChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek parsedDeduct
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			if peek.Amount <= 0 {
				http.Error(w, `{"error":"amount must be > 0"}`, http.StatusBadRequest)
				return
			}
			if !peek.CreditType.Valid() {
				http.Error(w, fmt.Sprintf(`{"error":"unknown credit_type %q"}`, peek.CreditType), http.StatusBadRequest)
				return
			}

			ok, err := checker.CheckBalance(r.Context(), acc.ID, peek.CreditType, peek.Amount)
			if err != nil {
				http.Error(w, `{"error":"failed to check balance"}`, http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, fmt.Sprintf(`{"error":"insufficient %s credits"}`, peek.CreditType), http.StatusPaymentRequired)
				return
			}

			ctx := context.WithValue(r.Context(), ctxDeductKey, &peek)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
