package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/stocklot-review/internal/jobs"
	"github.com/utafrali/stocklot-review/pkg/httputil"
)

// JobsHandler exposes the reconciliation jobs to external schedulers.
type JobsHandler struct {
	runner jobs.Runner
	logger *slog.Logger
}

// NewJobsHandler creates a JobsHandler.
func NewJobsHandler(runner jobs.Runner, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{runner: runner, logger: logger}
}

// UnblindResult is the response of the unblind sweep.
type UnblindResult struct {
	Unblinded int64 `json:"unblinded"`
}

// Unblind handles POST /internal/jobs/unblind
func (h *JobsHandler) Unblind(w http.ResponseWriter, r *http.Request) {
	n, err := h.runner.UnblindExpired(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, UnblindResult{Unblinded: n})
}

// Recompute handles POST /internal/jobs/recompute
func (h *JobsHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.RecomputeAll(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, summary)
}
