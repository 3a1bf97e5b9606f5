package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	logger, err := NewLogger(Config{Level: INFO, OutputFile: path})
	require.NoError(t, err)
	defer logger.Close()

	logger.slog.Info("startup", "component", "test")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "startup")
}

func TestRotateIfNeededRenamesOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0644))

	logger := &Logger{config: Config{OutputFile: path, MaxSize: 32, MaxBackups: 3}}
	require.NoError(t, logger.rotateIfNeeded())

	_, err := os.Stat(path + ".1")
	assert.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDefaultConfigLevels(t *testing.T) {
	assert.Equal(t, DEBUG, DefaultConfig(true).Level)
	assert.Equal(t, INFO, DefaultConfig(false).Level)
	assert.True(t, DefaultConfig(false).JSONFormat)
	assert.False(t, DefaultConfig(true).JSONFormat)
}

func TestCloseWithoutFileIsNil(t *testing.T) {
	logger, err := NewLogger(Config{Level: INFO})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
}
