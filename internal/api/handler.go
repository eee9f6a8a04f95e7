package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/verdant/internal/reminder"
	"github.com/lalithlochan/verdant/internal/worker"
)

// Runner starts one reminder run on behalf of a trigger and reports its
// summary. A run skipped for a held lease returns reminder.ErrRunInProgress.
type Runner interface {
	Trigger(ctx context.Context, trigger string) (reminder.Summary, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger *zap.Logger
	runner Runner
	db     Pinger // nil skips the database check in Health
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, runner Runner, db Pinger) *Handler {
	return &Handler{
		logger: logger,
		runner: runner,
		db:     db,
	}
}

// RunReminders handles POST /v1/reminders/run.
// The run is detached from the request context so a client that hangs up
// does not leave a run half done.
func (h *Handler) RunReminders(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	summary, err := h.runner.Trigger(ctx, worker.TriggerHTTP)
	if errors.Is(err, reminder.ErrRunInProgress) {
		h.writeError(w, http.StatusConflict, "run_in_progress", "Reminder run already in progress", "Another run holds the lease. Try again once it finishes.")
		return
	}
	if err != nil {
		h.logger.Error("on-demand reminder run failed",
			zap.Error(err),
			zap.String("run_id", summary.RunID),
		)
		h.writeError(w, http.StatusInternalServerError, "run_failed", "Reminder run failed", err.Error())
		return
	}

	h.logger.Info("on-demand reminder run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("due", summary.DueCount),
		zap.Int("sent", summary.SentCount),
		zap.Int("updated", summary.UpdatedCount),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(summary)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.db.Health(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			h.writeError(w, http.StatusServiceUnavailable, "unhealthy", "Database unreachable", "")
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
