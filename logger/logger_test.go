package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestGetCarriesComponent(t *testing.T) {
	entry := Get("store")
	assert.Equal(t, "store", entry.Data["component"])
	assert.Same(t, Get("store").Logger, entry.Logger)
}

func TestInitUpdatesExistingLoggers(t *testing.T) {
	entry := Get("reconfigured")
	file := filepath.Join(t.TempDir(), "logs", "app.log")

	require.NoError(t, Init(Options{Level: "debug", Format: "json", File: file, MaxSizeMB: 1}))
	t.Cleanup(func() { _ = Init(Options{Level: "info", Format: "text"}) })

	assert.Equal(t, logrus.DebugLevel, entry.Logger.GetLevel())
	_, ok := entry.Logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)

	entry.Info("hello")
	_, err := os.Stat(file)
	assert.NoError(t, err)
}
