// Package logging provides structured logging for cycled.
//
// It wraps Zap with context-aware methods that append cycle correlation
// fields (project, phase, iteration) carried on the context, and supports
// a dual core writing to stdout and, optionally, an OTEL log bridge.
package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level     `koanf:"level"`
	Format string            `koanf:"format"`
	Stdout bool              `koanf:"stdout"`
	OTEL   bool              `koanf:"otel"`
	Fields map[string]string `koanf:"fields"`
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Stdout: true,
		OTEL:   false,
		Fields: map[string]string{
			"service": "cycled",
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Stdout && !c.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout or otel)")
	}
	return nil
}
