package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeTemp(t, "runtime.yaml", `
workers: 4
global_queue_capacity: 2048
local_queue_capacity: 128
poll_interval: 5ms
reactor_batch: 256
tracing: true
auto_shutdown: true
`)

	opts, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, opts.Workers)
	assert.Equal(t, 2048, opts.GlobalQueueCapacity)
	assert.Equal(t, 128, opts.LocalQueueCapacity)
	assert.Equal(t, "5ms", opts.PollInterval)
	assert.Equal(t, 256, opts.ReactorBatch)
	assert.True(t, opts.Tracing)
	assert.True(t, opts.AutoShutdown)

	cfg, err := opts.Runtime()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoad_JSON(t *testing.T) {
	path := writeTemp(t, "runtime.json", `{"workers": 2, "poll_interval": "20ms"}`)

	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, opts.Workers)

	cfg, err := opts.Runtime()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, cfg.PollInterval)
	assert.False(t, cfg.AutoShutdown)
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeTemp(t, "runtime.yaml", `
workers: 2
worker_count: 4
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker_count")
}

func TestLoad_RejectsTrailingJSON(t *testing.T) {
	path := writeTemp(t, "runtime.json", `{"workers": 1}{"workers": 2}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	path := writeTemp(t, "runtime.yaml", `poll_interval: soon`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
}

func TestLoad_RejectsNegativeValues(t *testing.T) {
	path := writeTemp(t, "runtime.yaml", `workers: -1`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
}

func TestLoad_RejectsEmptyYAML(t *testing.T) {
	path := writeTemp(t, "runtime.yaml", "")

	_, err := Load(path)
	require.Error(t, err)
}

func TestOptions_ZeroValueDefersToDefaults(t *testing.T) {
	var opts Options
	cfg, err := opts.Runtime()
	require.NoError(t, err)

	assert.Zero(t, cfg.Workers)
	assert.Zero(t, cfg.PollInterval)
	assert.Nil(t, cfg.Reactor)
	assert.Nil(t, cfg.Logger)
}

func TestParse_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
