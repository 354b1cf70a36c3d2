package config

import (
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ferrum-engine/ferrum/engine/containers"
	"github.com/ferrum-engine/ferrum/engine/core"
)

// Config is the full engine configuration, loaded from a TOML file at
// startup. Zero values are replaced by defaults in ApplyDefaults, so a
// partial (or missing) file is valid.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Renderer   RendererConfig   `toml:"renderer"`
	Allocator  AllocatorConfig  `toml:"allocator"`
	Submission SubmissionConfig `toml:"submission"`
}

type EngineConfig struct {
	Name     string `toml:"name"`
	Width    uint32 `toml:"width"`
	Height   uint32 `toml:"height"`
	LogLevel string `toml:"log_level"`
}

type RendererConfig struct {
	// Number of frames the CPU may run ahead of the GPU. Clamped to [1,3].
	FramesInFlight uint8 `toml:"frames_in_flight"`
	// Upper bound on a single in-flight fence wait. Exceeding it is treated
	// as a lost device.
	FenceTimeoutMS uint64 `toml:"fence_timeout_ms"`
	// Upper bound on a swapchain image acquisition.
	AcquireTimeoutMS uint64 `toml:"acquire_timeout_ms"`
	// Preferred present mode: "fifo", "mailbox" or "immediate". The
	// swapchain falls back along mailbox -> fifo -> immediate when the
	// preference is unavailable.
	PresentMode string `toml:"present_mode"`
}

type AllocatorConfig struct {
	// Device memory block size in bytes used by the pooled allocator.
	BlockSizeBytes uint64 `toml:"block_size_bytes"`
	// Defragmentation policy: "never" or "on_reclaim".
	DefragPolicy string `toml:"defrag_policy"`
}

type SubmissionConfig struct {
	// Capacity of each per-queue pending ring.
	QueueCapacity int `toml:"queue_capacity"`
	// How often a full device queue is retried before giving up.
	RetryAttempts int `toml:"retry_attempts"`
	// Initial backoff between retries; doubles each attempt.
	RetryBackoffMS uint64 `toml:"retry_backoff_ms"`
}

const (
	DefaultFramesInFlight   = 2
	DefaultFenceTimeoutMS   = 5000
	DefaultAcquireTimeoutMS = 1000
	DefaultPresentMode      = "fifo"
	DefaultBlockSizeBytes   = 64 * 1024 * 1024
	DefaultQueueCapacity    = 16
	DefaultRetryAttempts    = 3
	DefaultRetryBackoffMS   = 2
)

// Load reads the TOML file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			core.LogWarn("config file '%s' not found, using defaults", path)
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills every unset field and clamps frames-in-flight to the
// range the scheduler supports.
func (c *Config) ApplyDefaults() {
	if c.Engine.Name == "" {
		c.Engine.Name = "Ferrum"
	}
	if c.Engine.Width == 0 {
		c.Engine.Width = 1280
	}
	if c.Engine.Height == 0 {
		c.Engine.Height = 720
	}
	if c.Engine.LogLevel == "" {
		c.Engine.LogLevel = "debug"
	}
	if c.Renderer.FramesInFlight == 0 {
		c.Renderer.FramesInFlight = DefaultFramesInFlight
	}
	c.Renderer.FramesInFlight = containers.Clamp(c.Renderer.FramesInFlight, 1, 3)
	if c.Renderer.FenceTimeoutMS == 0 {
		c.Renderer.FenceTimeoutMS = DefaultFenceTimeoutMS
	}
	if c.Renderer.AcquireTimeoutMS == 0 {
		c.Renderer.AcquireTimeoutMS = DefaultAcquireTimeoutMS
	}
	if c.Renderer.PresentMode == "" {
		c.Renderer.PresentMode = DefaultPresentMode
	}
	if c.Allocator.BlockSizeBytes == 0 {
		c.Allocator.BlockSizeBytes = DefaultBlockSizeBytes
	}
	if c.Allocator.DefragPolicy == "" {
		c.Allocator.DefragPolicy = "never"
	}
	if c.Submission.QueueCapacity == 0 {
		c.Submission.QueueCapacity = DefaultQueueCapacity
	}
	if c.Submission.RetryAttempts == 0 {
		c.Submission.RetryAttempts = DefaultRetryAttempts
	}
	if c.Submission.RetryBackoffMS == 0 {
		c.Submission.RetryBackoffMS = DefaultRetryBackoffMS
	}
}

// FenceTimeout returns the bounded fence wait as a duration.
func (c *Config) FenceTimeout() time.Duration {
	return time.Duration(c.Renderer.FenceTimeoutMS) * time.Millisecond
}

// AcquireTimeout returns the bounded acquire wait as a duration.
func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.Renderer.AcquireTimeoutMS) * time.Millisecond
}

// RetryBackoff returns the initial submission retry backoff as a duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Submission.RetryBackoffMS) * time.Millisecond
}

// ParsedLogLevel maps the configured level string onto the core log levels.
func (c *Config) ParsedLogLevel() core.LogLevel {
	switch strings.ToLower(c.Engine.LogLevel) {
	case "info":
		return core.LOG_LEVEL_INFO
	case "warn":
		return core.LOG_LEVEL_WARN
	case "error":
		return core.LOG_LEVEL_ERROR
	default:
		return core.LOG_LEVEL_DEBUG
	}
}
