package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/leadflow/backend/internal/metering"
	"github.com/leadflow/backend/internal/middleware"
)

// RunHandler serves POST /v1/runs: enqueue a metered automation run that
// will be charged against the caller's wallet when it completes.
type RunHandler struct {
	Runs   metering.Service
	Logger *slog.Logger
}

type enqueueRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func (h *RunHandler) EnqueueRun(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req metering.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	runID, err := h.Runs.EnqueueRun(r.Context(), acc.ID, req)
	if err != nil {
		if errors.Is(err, metering.ErrInvalidRun) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.log().Error("enqueue run", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueRunResponse{RunID: runID.String(), Status: "queued"})
}

func (h *RunHandler) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
