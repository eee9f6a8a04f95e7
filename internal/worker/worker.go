// Package worker drives scheduled reminder runs.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/verdant/internal/reminder"
	"github.com/lalithlochan/verdant/internal/sns"
)

// Trigger names, reported in logs and run events.
const (
	TriggerSchedule = "schedule"
	TriggerQueue    = "sqs"
	TriggerLambda   = "eventbridge"
	TriggerHTTP     = "http"
)

type Runner interface {
	Run(ctx context.Context) (reminder.Summary, error)
}

// Publisher receives a run event after every run. Optional.
type Publisher interface {
	PublishRun(ctx context.Context, ev sns.RunEvent) (string, error)
}

type Worker struct {
	runner    Runner
	publisher Publisher
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

type Config struct {
	Interval   time.Duration
	RunOnStart bool
	// RunTimeout bounds the lease, the due query and the receipt wait of a run.
	RunTimeout time.Duration
}

func New(runner Runner, publisher Publisher, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = 10 * time.Minute
	}

	return &Worker{
		runner:    runner,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs reminders every Interval until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	if w.config.RunOnStart {
		_, _ = w.RunOnce(ctx, TriggerSchedule)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reminder scheduler stopping")
			return
		case <-ticker.C:
			_, _ = w.RunOnce(ctx, TriggerSchedule)
		}
	}
}

// RunOnce performs one run and publishes its event. A run skipped because
// another run holds the lease is not an error and publishes nothing.
func (w *Worker) RunOnce(ctx context.Context, trigger string) (reminder.Summary, error) {
	summary, err := w.Trigger(ctx, trigger)
	if errors.Is(err, reminder.ErrRunInProgress) {
		return summary, nil
	}
	return summary, err
}

// Trigger is RunOnce for callers that need to tell a skipped run apart:
// reminder.ErrRunInProgress is returned unchanged.
//
// RunTimeout bounds the lease, the due query and the receipt wait. Once plants
// are selected the pipeline finishes the run regardless.
func (w *Worker) Trigger(ctx context.Context, trigger string) (reminder.Summary, error) {
	runCtx, cancel := context.WithTimeout(ctx, w.config.RunTimeout)
	defer cancel()

	logger := w.logger.With(zap.String("trigger", trigger))

	summary, err := w.runner.Run(runCtx)
	if errors.Is(err, reminder.ErrRunInProgress) {
		logger.Info("reminder run skipped, another run is in progress")
		return summary, err
	}
	if err != nil {
		logger.Error("reminder run failed", zap.String("run_id", summary.RunID), zap.Error(err))
	}

	w.publish(context.WithoutCancel(ctx), logger, sns.NewRunEvent(trigger, summary, err, w.now()))

	return summary, err
}

func (w *Worker) publish(ctx context.Context, logger *zap.Logger, ev sns.RunEvent) {
	if w.publisher == nil {
		return
	}
	if _, err := w.publisher.PublishRun(ctx, ev); err != nil {
		logger.Warn("failed to publish run event",
			zap.String("run_id", ev.RunID),
			zap.Error(err),
		)
	}
}
