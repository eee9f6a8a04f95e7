package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the logger flavour.
type LogConfig struct {
	Service string
	Env     string
	Level   string
}

// NewLogger creates a structured logger based on environment. Production gets
// JSON output; everything else gets colored console output.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var config zap.Config

	if cfg.Env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapLevel, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(
		zap.String("service", cfg.Service),
		zap.String("env", cfg.Env),
	), nil
}
