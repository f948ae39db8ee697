package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "MODE", "DATA_DIR", "STORAGE_PATH", "LEGACY_DIR", "WORKER_ID",
		"WORKER_CONCURRENCY", "QUEUE_BACKEND", "QUEUE_NAME", "QUEUE_ATTEMPTS", "QUEUE_BACKOFF",
		"QUEUE_POLL_INTERVAL", "REDIS_URL", "FFMPEG_PATH", "FFPROBE_PATH", "YTDLP_PATH",
		"MAX_REQUEST_BODY_KB", "MAX_UPLOAD_MB", "SUBMIT_LIMIT", "RETENTION_INTERVAL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKER_ID", "w1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7890, cfg.Port)
	assert.Equal(t, ModeAll, cfg.Mode)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, filepath.Join("/data", "uploads"), cfg.StoragePath)
	assert.Equal(t, "w1", cfg.WorkerID)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
	assert.Equal(t, QueueSQLite, cfg.QueueBackend)
	assert.Equal(t, 3, cfg.QueueAttempts)
	assert.Equal(t, 2*time.Second, cfg.QueueBackoff)
	assert.Equal(t, 5120, cfg.MaxUploadMB)
	assert.Equal(t, 30, cfg.SubmitLimit)
	assert.Equal(t, time.Hour, cfg.RetentionInterval)
	assert.True(t, cfg.RunsAPI())
	assert.True(t, cfg.RunsWorker())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "transcoder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 8080
mode: worker
data_dir: /srv/transcoder
worker_concurrency: 4
queue_backoff: 5s
retention_interval: 0s
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port, "env wins over file")
	assert.Equal(t, ModeWorker, cfg.Mode)
	assert.Equal(t, "/srv/transcoder/uploads", cfg.StoragePath)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 5*time.Second, cfg.QueueBackoff)
	assert.Zero(t, cfg.RetentionInterval)
	assert.False(t, cfg.RunsAPI())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad port", map[string]string{"PORT": "abc"}, "invalid PORT"},
		{"bad mode", map[string]string{"MODE": "both"}, "invalid MODE"},
		{"redis without url", map[string]string{"QUEUE_BACKEND": "redis"}, "REDIS_URL"},
		{"bad backend", map[string]string{"QUEUE_BACKEND": "nats"}, "invalid QUEUE_BACKEND"},
		{"zero concurrency", map[string]string{"WORKER_CONCURRENCY": "0"}, "WORKER_CONCURRENCY"},
		{"bad backoff", map[string]string{"QUEUE_BACKOFF": "soon"}, "invalid QUEUE_BACKOFF"},
		{"negative submit limit", map[string]string{"SUBMIT_LIMIT": "-1"}, "SUBMIT_LIMIT"},
		{"negative retention", map[string]string{"RETENTION_INTERVAL": "-1h"}, "RETENTION_INTERVAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}
