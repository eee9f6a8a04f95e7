// Command reminder-lambda runs one reminder batch per EventBridge schedule
// invocation.
//
// With ENV=development it reads a single event from stdin instead of starting
// the Lambda runtime:
//
//	echo '{"source":"aws.events","detail-type":"Scheduled Event"}' | go run ./cmd/reminder-lambda
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/lalithlochan/verdant/internal/app"
	"github.com/lalithlochan/verdant/internal/config"
	"github.com/lalithlochan/verdant/internal/observ"
	"github.com/lalithlochan/verdant/internal/reminder"
	"github.com/lalithlochan/verdant/internal/worker"
)

// Handler serves scheduled invocations.
type Handler struct {
	worker *worker.Worker
	logger *zap.Logger
}

// Handle runs one batch. A failed due query is returned so the invocation is
// marked failed and EventBridge retries it.
func (h *Handler) Handle(ctx context.Context, ev events.CloudWatchEvent) (reminder.Summary, error) {
	h.logger.Info("scheduled invocation",
		zap.String("event_id", ev.ID),
		zap.String("source", ev.Source),
		zap.Time("scheduled_at", ev.Time),
	)
	return h.worker.RunOnce(ctx, worker.TriggerLambda)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observ.NewLogger(observ.LogConfig{
		Service: "reminder-lambda",
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Connections are built once per cold start and reused across invocations.
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	handler := &Handler{worker: a.Worker, logger: logger}

	if cfg.Env == "development" {
		if err := runLocal(handler, os.Stdin, os.Stdout); err != nil {
			logger.Error("local invocation failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

func runLocal(h *Handler, in io.Reader, out io.Writer) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	var ev events.CloudWatchEvent
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("parse event: %w", err)
		}
	}

	summary, err := h.Handle(context.Background(), ev)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
