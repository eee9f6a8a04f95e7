package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/verdant/internal/api"
	"github.com/lalithlochan/verdant/internal/app"
	"github.com/lalithlochan/verdant/internal/config"
	"github.com/lalithlochan/verdant/internal/observ"
	"github.com/lalithlochan/verdant/internal/sqs"
	"github.com/lalithlochan/verdant/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(observ.LogConfig{
		Service: "reminderd",
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting verdant reminder daemon",
		zap.Int("port", cfg.Port),
		zap.Duration("interval", cfg.ReminderInterval),
		zap.String("timezone", cfg.ReminderTimezone),
	)

	ctx := context.Background()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	workerCtx, workerCancel := context.WithCancel(ctx)

	// Runs finish their stages after a shutdown signal; wait for them before
	// the connections close.
	var runs sync.WaitGroup
	runs.Add(1)
	go func() {
		defer runs.Done()
		a.Worker.Start(workerCtx)
	}()
	defer func() {
		workerCancel()
		runs.Wait()
	}()
	logger.Info("reminder scheduler started")

	if cfg.SQSTriggerQueueURL != "" {
		consumer, err := sqs.NewConsumer(ctx, sqs.Config{
			Region:            cfg.AWSRegion,
			QueueURL:          cfg.SQSTriggerQueueURL,
			VisibilityTimeout: cfg.ReminderLeaseTTL,
		}, logger)
		if err != nil {
			logger.Warn("sqs trigger consumer unavailable", zap.Error(err))
		} else {
			runs.Add(1)
			go func() {
				defer runs.Done()
				consumer.Start(workerCtx, func(ctx context.Context, _ sqs.Trigger) error {
					_, err := a.Worker.RunOnce(ctx, worker.TriggerQueue)
					return err
				})
			}()
			logger.Info("sqs trigger consumer started")
		}
	}

	var limiter api.Limiter
	if rl := a.RateLimiter(cfg); rl != nil {
		limiter = rl
	}

	router := api.NewRouter(api.RouterConfig{
		Handler:   api.NewHandler(logger, a.Worker, a.DB),
		Limiter:   limiter,
		RateLimit: cfg.TriggerRateLimit,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// On-demand runs answer only once the run finishes.
		WriteTimeout: cfg.ReminderLeaseTTL + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		workerCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
