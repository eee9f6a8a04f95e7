// Package app assembles the reminder pipeline from configuration. Both the
// long-running daemon and the Lambda entry point build through it.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/verdant/internal/config"
	"github.com/lalithlochan/verdant/internal/db"
	"github.com/lalithlochan/verdant/internal/expo"
	"github.com/lalithlochan/verdant/internal/redis"
	"github.com/lalithlochan/verdant/internal/reminder"
	"github.com/lalithlochan/verdant/internal/sns"
	"github.com/lalithlochan/verdant/internal/worker"
)

// App holds the long-lived dependencies of a process.
type App struct {
	DB       *db.DB
	Redis    *redis.Client // nil when disabled or unreachable
	Pipeline *reminder.Pipeline
	Worker   *worker.Worker

	logger *zap.Logger
}

// New connects to the database and Redis and wires the pipeline. Redis and
// SNS are optional: if either is missing the app still runs, without the run
// lease or run events.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	database, err := db.New(ctx, db.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &App{DB: database, logger: logger}

	repo := db.NewRepository(database, logger)

	pushClient := expo.NewClient(expo.Config{
		BaseURL:     cfg.ExpoBaseURL,
		AccessToken: cfg.ExpoAccessToken,
		Timeout:     cfg.ExpoTimeout,
		MaxRetries:  cfg.ExpoMaxRetries,
	}, logger)

	var opts []reminder.Option
	if cfg.RedisEnabled {
		client, err := redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, runs are not protected against overlap",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			a.Redis = client
			opts = append(opts, reminder.WithLocker(redis.NewRunLease(client, logger)))
		}
	}

	a.Pipeline = reminder.New(repo, pushClient, reminder.Config{
		BatchSize:          cfg.ReminderBatchSize,
		LookupConcurrency:  cfg.ReminderLookupConcurrency,
		ReceiptConcurrency: cfg.ReminderReceiptConcurrency,
		WriteConcurrency:   cfg.ReminderWriteConcurrency,
		ReceiptDelay:       cfg.ReminderReceiptDelay,
		LeaseTTL:           cfg.ReminderLeaseTTL,
		Location:           loc,
	}, logger, opts...)

	var publisher worker.Publisher
	if cfg.SummaryTopicARN != "" {
		p, err := sns.NewPublisher(ctx, cfg.AWSRegion, cfg.SummaryTopicARN, logger)
		if err != nil {
			logger.Warn("sns publisher unavailable, run events disabled", zap.Error(err))
		} else {
			publisher = p
		}
	}

	a.Worker = worker.New(a.Pipeline, publisher, worker.Config{
		Interval:   cfg.ReminderInterval,
		RunOnStart: cfg.ReminderRunOnStart,
		// A run must not outlive its lease.
		RunTimeout: cfg.ReminderLeaseTTL,
	}, logger)

	return a, nil
}

// RateLimiter returns the trigger rate limiter, or nil without Redis.
func (a *App) RateLimiter(cfg *config.Config) *redis.RateLimiter {
	if a.Redis == nil {
		return nil
	}
	return redis.NewRateLimiter(a.Redis, a.logger, redis.RateLimitConfig{
		Limit:  cfg.TriggerRateLimit,
		Window: cfg.TriggerRateWindow,
	})
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	a.DB.Close()
}
