package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrum-engine/ferrum/engine/core"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, uint8(DefaultFramesInFlight), cfg.Renderer.FramesInFlight)
	assert.Equal(t, uint64(DefaultFenceTimeoutMS), cfg.Renderer.FenceTimeoutMS)
	assert.Equal(t, DefaultPresentMode, cfg.Renderer.PresentMode)
	assert.Equal(t, uint64(DefaultBlockSizeBytes), cfg.Allocator.BlockSizeBytes)
	assert.Equal(t, DefaultQueueCapacity, cfg.Submission.QueueCapacity)
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ferrum.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[engine]
name = "Ferrum Testbed"
log_level = "warn"

[renderer]
frames_in_flight = 3
present_mode = "mailbox"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Ferrum Testbed", cfg.Engine.Name)
	assert.Equal(t, core.LOG_LEVEL_WARN, cfg.ParsedLogLevel())
	assert.Equal(t, uint8(3), cfg.Renderer.FramesInFlight)
	assert.Equal(t, "mailbox", cfg.Renderer.PresentMode)

	// Untouched sections still get defaults.
	assert.Equal(t, uint64(DefaultFenceTimeoutMS), cfg.Renderer.FenceTimeoutMS)
	assert.Equal(t, DefaultRetryAttempts, cfg.Submission.RetryAttempts)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer\nframes ="), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestFramesInFlightClamped(t *testing.T) {
	cfg := &Config{}
	cfg.Renderer.FramesInFlight = 0
	cfg.ApplyDefaults()
	assert.Equal(t, uint8(2), cfg.Renderer.FramesInFlight)

	cfg = &Config{}
	cfg.Renderer.FramesInFlight = 5
	cfg.ApplyDefaults()
	assert.Equal(t, uint8(3), cfg.Renderer.FramesInFlight)

	cfg = &Config{}
	cfg.Renderer.FramesInFlight = 1
	cfg.ApplyDefaults()
	assert.Equal(t, uint8(1), cfg.Renderer.FramesInFlight)
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, 5*time.Second, cfg.FenceTimeout())
	assert.Equal(t, time.Second, cfg.AcquireTimeout())
	assert.Equal(t, 2*time.Millisecond, cfg.RetryBackoff())
}

func TestParsedLogLevel(t *testing.T) {
	cases := map[string]core.LogLevel{
		"debug":   core.LOG_LEVEL_DEBUG,
		"info":    core.LOG_LEVEL_INFO,
		"warn":    core.LOG_LEVEL_WARN,
		"error":   core.LOG_LEVEL_ERROR,
		"ERROR":   core.LOG_LEVEL_ERROR,
		"unknown": core.LOG_LEVEL_DEBUG,
	}
	for input, want := range cases {
		cfg := &Config{}
		cfg.Engine.LogLevel = input
		assert.Equal(t, want, cfg.ParsedLogLevel(), input)
	}
}
