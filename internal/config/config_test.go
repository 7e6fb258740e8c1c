package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 8, s.Syncback.Workers)
	assert.Equal(t, 2*time.Second, s.Syncback.PollInterval.Std())
	assert.Equal(t, "info", s.LogLevel)
}

func TestDefaultSettingsHonorsEnv(t *testing.T) {
	t.Setenv("INBOXD_SYNCBACK_WORKERS", "3")
	t.Setenv("INBOXD_LOG_LEVEL", "debug")

	s, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 3, s.Syncback.Workers)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestMergeFileOverwritesKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	doc := []byte("log_level: warn\nsyncback:\n  workers: 2\n  poll_interval: 250ms\ndatabase:\n  dsn: postgres://localhost/inboxd\n")
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	s, err := Default()
	require.NoError(t, err)
	require.NoError(t, s.MergeFile(path))

	assert.Equal(t, "warn", s.LogLevel)
	assert.Equal(t, 2, s.Syncback.Workers)
	assert.Equal(t, 250*time.Millisecond, s.Syncback.PollInterval.Std())
	assert.Equal(t, "postgres://localhost/inboxd", s.Database.DSN)
	// Keys absent from the document keep their defaults.
	assert.Equal(t, 5, s.Syncback.MaxAttempts)
}

func TestMergeFileMissingPath(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	err = s.MergeFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, ErrConfigLoad)
}

func TestMergeFileMalformedLeavesSettingsUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("syncback: [not a mapping"), 0o600))

	s, err := Default()
	require.NoError(t, err)
	before := s

	err = s.MergeFile(path)
	require.ErrorIs(t, err, ErrConfigLoad)
	assert.Equal(t, before, s, "settings mutated on failed merge")
}
