// Package config loads service configuration from the environment.
//
// An optional .env file in the working directory is read first; variables
// already present in the environment win. Invalid values fail Load.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port     int    `envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Env      string `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`

	// Database. DATABASE_URL wins over the individual parts when set.
	DatabaseURL string `envconfig:"DATABASE_URL" validate:"omitempty,url"`
	DBHost      string `envconfig:"DB_HOST" default:"localhost"`
	DBPort      int    `envconfig:"DB_PORT" default:"5432" validate:"min=1,max=65535"`
	DBUser      string `envconfig:"DB_USER" default:"verdant"`
	DBPassword  string `envconfig:"DB_PASSWORD"`
	DBName      string `envconfig:"DB_NAME" default:"verdant"`
	DBSSLMode   string `envconfig:"DB_SSLMODE" default:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0,ltefield=DBMaxConns"`

	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"/migrations"`

	// Redis backs the run lease and the trigger rate limiter. Both are
	// skipped when it is disabled.
	RedisEnabled  bool   `envconfig:"REDIS_ENABLED" default:"true"`
	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379" validate:"min=1,max=65535"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0" validate:"min=0"`

	// Expo push service
	ExpoBaseURL     string        `envconfig:"EXPO_BASE_URL" default:"https://exp.host" validate:"url"`
	ExpoAccessToken string        `envconfig:"EXPO_ACCESS_TOKEN"`
	ExpoTimeout     time.Duration `envconfig:"EXPO_TIMEOUT" default:"15s" validate:"min=1s"`
	ExpoMaxRetries  int           `envconfig:"EXPO_MAX_RETRIES" default:"3" validate:"min=0,max=10"`

	// Reminder runs
	ReminderBatchSize          int           `envconfig:"REMINDER_BATCH_SIZE" default:"500" validate:"min=1,max=10000"`
	ReminderInterval           time.Duration `envconfig:"REMINDER_INTERVAL" default:"1h" validate:"min=1m"`
	ReminderRunOnStart         bool          `envconfig:"REMINDER_RUN_ON_START" default:"false"`
	ReminderLeaseTTL           time.Duration `envconfig:"REMINDER_LEASE_TTL" default:"10m" validate:"min=1s"`
	ReminderReceiptDelay       time.Duration `envconfig:"REMINDER_RECEIPT_DELAY" default:"0s" validate:"min=0s,ltfield=ReminderLeaseTTL"`
	ReminderLookupConcurrency  int           `envconfig:"REMINDER_LOOKUP_CONCURRENCY" default:"10" validate:"min=1,max=100"`
	ReminderReceiptConcurrency int           `envconfig:"REMINDER_RECEIPT_CONCURRENCY" default:"4" validate:"min=1,max=100"`
	ReminderWriteConcurrency   int           `envconfig:"REMINDER_WRITE_CONCURRENCY" default:"10" validate:"min=1,max=100"`
	ReminderTimezone           string        `envconfig:"REMINDER_TIMEZONE" default:"UTC" validate:"timezone"`

	// AWS. Both integrations are off unless their target is set.
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	SQSTriggerQueueURL string `envconfig:"SQS_TRIGGER_QUEUE_URL" validate:"omitempty,url"`
	SummaryTopicARN    string `envconfig:"SUMMARY_TOPIC_ARN" validate:"omitempty,startswith=arn:"`

	// On-demand trigger rate limit, per client IP
	TriggerRateLimit  int           `envconfig:"TRIGGER_RATE_LIMIT" default:"10" validate:"min=1"`
	TriggerRateWindow time.Duration `envconfig:"TRIGGER_RATE_WINDOW" default:"1m" validate:"min=1s"`
}

// Load reads configuration from the environment (and .env if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Location returns the time zone reminder runs use to decide what "today" is.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ReminderTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid REMINDER_TIMEZONE: %w", err)
	}
	return loc, nil
}
