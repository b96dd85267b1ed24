package main

import (
	"log/slog"
	"net/http"

	"github.com/leadflow/backend/internal/handlers"
	"github.com/leadflow/backend/internal/ledger"
	"github.com/leadflow/backend/internal/metering"
	"github.com/leadflow/backend/internal/middleware"
	"github.com/leadflow/backend/internal/repository"
)

// RegisterV1Routes adds the /v1/ credit and run endpoints to the given mux.
// Middleware chain: APIKeyAuth -> (CreditCheck on POST /v1/credits/deduct) -> handler.
func RegisterV1Routes(
	mux *http.ServeMux,
	apiKeyRepo *repository.APIKeyRepo,
	ledgerSvc ledger.Service,
	runSvc metering.Service,
	logger *slog.Logger,
) {
	ch := &handlers.CreditHandler{Ledger: ledgerSvc, Logger: logger}
	rh := &handlers.RunHandler{Runs: runSvc, Logger: logger}

	auth := middleware.APIKeyAuth(apiKeyRepo)
	creditCheck := middleware.CreditCheck(ledgerSvc)

	mux.Handle("POST /v1/credits/add", auth(http.HandlerFunc(ch.AddCredits)))
	mux.Handle("POST /v1/credits/deduct", auth(creditCheck(http.HandlerFunc(ch.DeductCredits))))
	mux.Handle("POST /v1/credits/refund", auth(http.HandlerFunc(ch.RefundCredits)))
	mux.Handle("POST /v1/credits/adjust", auth(http.HandlerFunc(ch.AdjustCredits)))

	mux.Handle("GET /v1/credits/balance", auth(http.HandlerFunc(ch.GetBalance)))
	mux.Handle("GET /v1/credits/history", auth(http.HandlerFunc(ch.GetHistory)))
	mux.Handle("GET /v1/credits/stats", auth(http.HandlerFunc(ch.GetUsageStats)))

	mux.Handle("POST /v1/runs", auth(http.HandlerFunc(rh.EnqueueRun)))
}
