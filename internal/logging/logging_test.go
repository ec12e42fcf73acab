package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"priorart/config"
	"priorart/internal/domain"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, config.LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("doc", "US1").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "US1", entry["doc"])
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, config.LoggingConfig{Level: "debug"})
	require.NoError(t, err)
	logger.Debug().Msg("chunked")
	assert.Contains(t, buf.String(), "chunked")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, config.LoggingConfig{Level: "loud"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}
