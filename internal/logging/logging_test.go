package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("info", "production", &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("login", zap.String("user_id", "u-1"))
	require.NoError(t, logger.Sync())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "login", line["msg"])
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "u-1", line["user_id"])
	assert.Contains(t, line, "timestamp")
}

func TestDevelopmentWritesConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("debug", "development", &buf)
	require.NoError(t, err)

	logger.Debug("sweep")
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "sweep")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestUnknownLevel(t *testing.T) {
	_, err := New("chatty", "production")
	assert.Error(t, err)

	logger, err := New("", "")
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
