package logging

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biomarker-kb-server/internal/domain"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(domain.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger, err = NewLogger(domain.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")

	logger, err := NewLogger(domain.LoggingConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	logger.Info("started")

	assert.FileExists(t, path)
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	_, err := NewLogger(domain.LoggingConfig{Level: "verbose"})
	assert.Error(t, err)

	_, err = NewLogger(domain.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
