// Package logging builds the zap loggers used across auditd.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "auditd"

// New returns the service logger. Development mode is a colored console
// encoder for local runs; production emits unsampled JSON tagged with
// the service name so audit pipeline logs are attributable when several
// services share a sink.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	var opts []zap.Option
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		opts = append(opts, zap.Fields(zap.String("service", serviceName)))
	}
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
