package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallysum/tally/types"
)

func TestSlogLoggerImplementsInterface(t *testing.T) {
	t.Helper()
	var _ types.Logger = (*SlogLogger)(nil)
}

func TestNewSlog(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := NewSlog(slog.New(handler))

	require.NotNil(t, logger)

	logger.Debug("debug msg", "k", "v")
	logger.Info("info msg", "count", 3)
	logger.Warn("warn msg")
	logger.Error("error msg", "err", "boom")

	out := buf.String()
	assert.Contains(t, out, "debug msg")
	assert.Contains(t, out, "info msg")
	assert.Contains(t, out, "count=3")
	assert.Contains(t, out, "warn msg")
	assert.Contains(t, out, "err=boom")
}

func TestNewSlogDefault(t *testing.T) {
	logger := NewSlogDefault()
	require.NotNil(t, logger)
}
