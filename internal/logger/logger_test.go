package logger_test

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"codeberg.org/mutker/serverpop/internal/errors"
	"codeberg.org/mutker/serverpop/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logger.LogLevel
	}{
		{"debug", logger.DebugLevel},
		{"INFO", logger.InfoLevel},
		{"", logger.InfoLevel},
		{"warning", logger.WarnLevel},
		{"warn", logger.WarnLevel},
		{"error", logger.ErrorLevel},
	}

	for _, tt := range tests {
		got, err := logger.ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := logger.ParseLevel("chatty")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestScopedLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, logger.DebugLevel)
	t.Cleanup(func() { logger.InitWithWriter(io.Discard, logger.WarnLevel) })

	log := logger.Default().With("cycle_id", "abc").With("filter", "dust2")
	log.Info().Int("servers", 3).Msg("fetched")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc", entry["cycle_id"])
	assert.Equal(t, "dust2", entry["filter"])
	assert.Equal(t, "fetched", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.EqualValues(t, 3, entry["servers"])
}

func TestErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, logger.DebugLevel)
	t.Cleanup(func() { logger.InitWithWriter(io.Discard, logger.WarnLevel) })

	err := errors.New().Wrap(errors.ErrWriteFailed, io.EOF)
	logger.ErrorWithCode(err).Msg("write failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "write_failed", entry["error_code"])
	assert.Equal(t, "EOF", entry["error"])
}

func TestNopDiscards(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, logger.DebugLevel)
	t.Cleanup(func() { logger.InitWithWriter(io.Discard, logger.WarnLevel) })

	logger.Nop().With("k", "v").Error().Msg("dropped")
	assert.Zero(t, buf.Len())
}
