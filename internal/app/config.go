package app

import (
	"slices"
	"strings"
	"time"

	"github.com/vk/litweave/internal/cache"
	lperrors "github.com/vk/litweave/internal/errors"
	"github.com/vk/litweave/internal/fsutil"
	"github.com/vk/litweave/internal/task"
)

// DefaultWatchInterval is the polling interval of watch mode.
const DefaultWatchInterval = 500 * time.Millisecond

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Paths []string // documents or directories of documents

	LogFormat string
	LogLevel  string

	// CacheDir is the cache root. Empty means the user cache directory.
	CacheDir    string
	NoCache     bool
	Compression string
	Extensions  []string

	// MetricsPort serves /health and /metrics when positive.
	MetricsPort int

	SessionTimeout time.Duration
	InputDelay     time.Duration
	WatchInterval  time.Duration

	// WorkDir resolves relative artifact paths and command paths in session
	// keys, and is the working directory of sessions. Empty means the
	// current directory.
	WorkDir string
}

// NewConfig fills in defaults and validates cfg. Every validation failure is
// an E_USAGE error.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.Paths) == 0 {
		return nil, lperrors.New(lperrors.EUsage, "at least one document or directory is required")
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if !slices.Contains(logLevels, cfg.LogLevel) {
		return nil, lperrors.Newf(lperrors.EUsage, "invalid log-level %q: must be one of %s", cfg.LogLevel, strings.Join(logLevels, ", "))
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if !slices.Contains(logFormats, cfg.LogFormat) {
		return nil, lperrors.Newf(lperrors.EUsage, "invalid log-format %q: must be 'text' or 'json'", cfg.LogFormat)
	}

	if cfg.Compression == "" {
		cfg.Compression = cache.CodecZstd
	}
	if _, err := cache.CodecByName(cfg.Compression); err != nil {
		return nil, lperrors.Wrap(lperrors.EUsage, "invalid compression", err)
	}

	if len(cfg.Extensions) == 0 {
		cfg.Extensions = fsutil.DefaultExtensions
	}
	cfg.Extensions = slices.Clone(cfg.Extensions)
	for i, ext := range cfg.Extensions {
		if ext == "" {
			return nil, lperrors.New(lperrors.EUsage, "empty document extension")
		}
		if !strings.HasPrefix(ext, ".") {
			cfg.Extensions[i] = "." + ext
		}
	}

	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return nil, lperrors.Newf(lperrors.EUsage, "invalid metrics-port %d", cfg.MetricsPort)
	}

	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = task.DefaultDefaults.Timeout
	}
	if cfg.InputDelay == 0 {
		cfg.InputDelay = task.DefaultDefaults.InputDelay
	}
	if cfg.WatchInterval == 0 {
		cfg.WatchInterval = DefaultWatchInterval
	}
	if cfg.SessionTimeout < 0 || cfg.InputDelay < 0 || cfg.WatchInterval < 0 {
		return nil, lperrors.New(lperrors.EUsage, "durations must not be negative")
	}

	return &cfg, nil
}

// taskDefaults are the session settings of tasks that declare none.
func (c *Config) taskDefaults() task.Defaults {
	return task.Defaults{
		Timeout:    c.SessionTimeout,
		InputDelay: c.InputDelay,
		Shell:      task.DefaultDefaults.Shell,
	}
}
