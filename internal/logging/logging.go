// Package logging builds the process-wide structured logger.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.SugaredLogger from a textual level (debug, info, warn, error).
// Unknown levels fall back to info, matching the teacher's getEnv-with-default idiom.
func New(level string) *zap.SugaredLogger {
	var zlvl zapcore.Level
	if err := zlvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		zlvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zlvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Logging must never be the reason the process fails to start.
		fallback := zap.NewNop()
		return fallback.Sugar()
	}
	return logger.Sugar()
}

// NewFromEnv reads LOG_LEVEL directly, for callers that run before config.Load.
func NewFromEnv() *zap.SugaredLogger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	return New(level)
}
