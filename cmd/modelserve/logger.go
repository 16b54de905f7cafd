package main

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// newLogger builds a production logger for json output and a development
// logger for console output.
func newLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid log level")
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternalError, err, "failed to build logger")
	}
	return logger, nil
}
