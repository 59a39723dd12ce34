package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"tablesync/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appCfg = config.AppConfig{Name: "tablesync", Environment: "test", Version: "1.2.3"}

func TestNew_Outputs(t *testing.T) {
	t.Run("Stdout", func(t *testing.T) {
		logger, closer, err := New(config.LoggingConfig{}, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.Nil(t, closer)
	})

	t.Run("Stderr", func(t *testing.T) {
		_, closer, err := New(config.LoggingConfig{Output: "STDERR"}, appCfg)
		require.NoError(t, err)
		assert.Nil(t, closer)
	})

	t.Run("RotatingFile", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "sync.log")
		cfg := config.LoggingConfig{Output: "file", FilePath: logPath, MaxSizeMB: 1, MaxBackups: 2}
		logger, closer, err := New(cfg, appCfg)
		require.NoError(t, err)
		require.NotNil(t, closer)

		logger.Info().Str("job_id", "orders").Msg("run finished")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"job_id":"orders"`)
	})

	t.Run("FileMissingPath", func(t *testing.T) {
		_, _, err := New(config.LoggingConfig{Output: "file"}, appCfg)
		assert.ErrorIs(t, err, errNoFilePath)
	})
}

func TestNewWithWriter_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "debug"}, appCfg, &buf)
	logger.Debug().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tablesync", entry["app"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "debug", entry["level"])
	assert.Contains(t, entry, "time")
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Format: "console"}, appCfg, &buf)
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("invalid"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel(" WARN "))

	t.Setenv(LevelEnv, "error")
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("debug"))
}
