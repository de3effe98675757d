package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Underlying())
}

func TestNewLoggerInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNewLoggerNoOutputs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Stdout = false
	cfg.OTEL = false
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestContextFieldsCarryCycleCorrelation(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithProject(context.Background(), "demo")
	ctx = WithPhase(ctx, "deploying")
	ctx = WithIteration(ctx, 3)

	tl.Info(ctx, "phase started")

	tl.AssertField(t, "phase started", "project", "demo")
	tl.AssertField(t, "phase started", "phase", "deploying")

	entries := tl.FilterMessage("phase started").All()
	require.Len(t, entries, 1)
	found := false
	for _, f := range entries[0].Context {
		if f.Key == "iteration" {
			assert.Equal(t, int64(3), f.Integer)
			found = true
		}
	}
	assert.True(t, found, "iteration field missing")
}

func TestContextFieldsEmptyContext(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestChildLoggers(t *testing.T) {
	tl := NewTestLogger()

	child := tl.With(zap.String("component", "supervisor")).Named("supervisor")
	child.Warn(context.Background(), "process exited")

	entries := tl.FilterMessage("process exited").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "supervisor", entries[0].LoggerName)
	tl.AssertLogged(t, zapcore.WarnLevel, "process exited")
}

func TestFromContextDefaultsToNop(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	// Must not panic.
	logger.Info(context.Background(), "ignored")
}

func TestFromContextRoundTrip(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}
