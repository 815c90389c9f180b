package config_test

import (
	"gridjobs/internal/config"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse()
	require.NoError(t, err)
	require.Equal(t, 5100, cfg.Server.Port)
	require.Equal(t, 4, cfg.Jobs.MaxWorkers)
	require.Equal(t, config.IsolationProcess, cfg.Jobs.Isolation)
	require.Equal(t, 24*time.Hour, cfg.Jobs.TaskTTL)
	require.Equal(t, filepath.Join(os.TempDir(), "gridjobs"), cfg.Jobs.ScratchRoot)
	require.Equal(t, "gridjobs:events", cfg.Redis.EventsStream)
	require.Empty(t, cfg.Redis.Addr)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("GRIDJOBS_PORT", "9000")
	t.Setenv("GRIDJOBS_SCRATCH_ROOT", "/srv/scratch")
	t.Setenv("GRIDJOBS_MAX_WORKERS", "16")
	t.Setenv("GRIDJOBS_ISOLATION", "inline")
	t.Setenv("GRIDJOBS_TASK_TTL", "90m")
	t.Setenv("Redis_Address", "localhost:6379")

	cfg, err := config.Parse()
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "/srv/scratch", cfg.Jobs.ScratchRoot)
	require.Equal(t, 16, cfg.Jobs.MaxWorkers)
	require.Equal(t, config.IsolationInline, cfg.Jobs.Isolation)
	require.Equal(t, 90*time.Minute, cfg.Jobs.TaskTTL)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestParseRejects(t *testing.T) {
	t.Run("isolation", func(t *testing.T) {
		t.Setenv("GRIDJOBS_ISOLATION", "container")
		_, err := config.Parse()
		require.Error(t, err)
	})
	t.Run("workers", func(t *testing.T) {
		t.Setenv("GRIDJOBS_MAX_WORKERS", "0")
		_, err := config.Parse()
		require.Error(t, err)
	})
	t.Run("reap interval", func(t *testing.T) {
		t.Setenv("GRIDJOBS_REAP_INTERVAL", "0s")
		_, err := config.Parse()
		require.Error(t, err)
	})
	t.Run("duration", func(t *testing.T) {
		t.Setenv("GRIDJOBS_TASK_TTL", "soon")
		_, err := config.Parse()
		require.Error(t, err)
	})
}
