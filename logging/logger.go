// Package logging builds the zap loggers used across the service
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environments understood by New
const (
	EnvLocal       = "local"
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// New creates a zap logger suited to env. Local logs everything in a human
// friendly format, development starts at info and production emits JSON at
// warn and above.
func New(env string) (*zap.Logger, error) {
	switch env {
	case EnvLocal:
		return zap.NewDevelopment()
	case EnvDevelopment:
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		return c.Build()
	case EnvProduction:
		c := zap.NewProductionConfig()
		c.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		return c.Build()
	default:
		return nil, fmt.Errorf("unknown environment %q", env)
	}
}
