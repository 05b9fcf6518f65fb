package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithRunIDTagsEveryLine(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := &Logger{Logger: zap.New(core), config: DefaultConfig()}

	run := base.WithRunID("run-42")
	run.Info("Reconciliation started")
	run.Logger.With(zap.String("collection", "vendors")).Warn("Reference needs manual review")
	base.Info("Starting id reconciler")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "run-42", entries[0].ContextMap()["run_id"])
	assert.Equal(t, "run-42", entries[1].ContextMap()["run_id"])
	assert.Equal(t, "vendors", entries[1].ContextMap()["collection"])
	assert.NotContains(t, entries[2].ContextMap(), "run_id")
}

func TestWithRunIDEmptyKeepsLogger(t *testing.T) {
	base := &Logger{Logger: zap.NewNop(), config: DefaultConfig()}
	assert.Same(t, base, base.WithRunID(""))
}

func TestNewLoggerLevels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = LevelWarn
	cfg.OutputPaths = []string{"stderr"}

	l, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}
