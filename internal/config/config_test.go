package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate clears every key the loader reads so the host environment cannot leak in.
func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ENV_FILE", "IRIS_BASE_URL", "IRIS_WS_URL", "IRIS_EGRESS", "IRIS_EGRESS_DRYRUN", "BOT_PREFIX", "ALLOWED_ROOMS",
		"REDIS_URL", "DATABASE_URL", "GNUBG_PATH", "GNUBG_ARGS", "WORKER_COUNT", "WORKER_QUEUES",
		"JOB_TIMEOUT_SINGLE", "JOB_TIMEOUT_BATCH", "RESULT_TTL", "ADMISSION_TTL", "JOB_MAX_ATTEMPTS",
		"POLL_INTERVAL", "HEARTBEAT_INTERVAL", "HEARTBEAT_TTL", "REAP_INTERVAL", "ENGINE_SEED", "INPUT_ROOT",
	} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadRequiresIrisAndRedis(t *testing.T) {
	isolate(t)
	_, err := Load()
	require.EqualError(t, err, "IRIS_BASE_URL is required")

	t.Setenv("IRIS_BASE_URL", "http://iris:3000")
	t.Setenv("IRIS_WS_URL", "ws://iris:3000/ws")
	t.Setenv("BOT_PREFIX", "!")
	_, err = Load()
	require.EqualError(t, err, "REDIS_URL is required")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ALLOWED_ROOMS", " a, ,b ")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cfg.AllowedRooms)
	assert.Equal(t, "auto", cfg.IrisEgress)
	assert.Equal(t, 70*time.Minute, cfg.AdmissionTTL)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatTTL)
	assert.Equal(t, "input", cfg.InputRoot)
}

func TestLoadWorkerParsesDurations(t *testing.T) {
	isolate(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JOB_TIMEOUT_BATCH", "2h")
	t.Setenv("WORKER_QUEUES", "batch")
	t.Setenv("GNUBG_ARGS", "-t -q -r")
	t.Setenv("ENGINE_SEED", "42")

	cfg, err := LoadWorker()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.BatchTimeout)
	assert.Equal(t, 2*time.Hour+10*time.Minute, cfg.AdmissionTTL)
	assert.Equal(t, []string{"batch"}, cfg.WorkerQueues)
	assert.Equal(t, []string{"-t", "-q", "-r"}, cfg.GnubgArgs)
	assert.EqualValues(t, 42, cfg.EngineSeed)
}

func TestMalformedValueIsAnError(t *testing.T) {
	isolate(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("POLL_INTERVAL", "soon")
	_, err := LoadWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLL_INTERVAL")
}

func TestEnvFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.env")
	require.NoError(t, os.WriteFile(path, []byte("REDIS_URL=redis://from-file:6379\nWORKER_COUNT=4\n"), 0o644))
	t.Setenv("ENV_FILE", path)
	t.Setenv("REDIS_URL", "")
	require.NoError(t, os.Unsetenv("REDIS_URL"))
	require.NoError(t, os.Unsetenv("WORKER_COUNT"))

	cfg, err := LoadWorker()
	require.NoError(t, err)
	assert.Equal(t, "redis://from-file:6379", cfg.RedisURL)
	assert.Equal(t, 4, cfg.WorkerCount)

	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	_, err = LoadWorker()
	assert.Error(t, err, "explicit ENV_FILE must exist")
}
