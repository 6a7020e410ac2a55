// Package config provides configuration management for packd using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultBinaryPath     = "/usr/local/bin/packager"
	defaultCommandTimeout = 4 * time.Hour

	defaultCacheRoot        = "/dev/shm"
	defaultWorkspaceMaxAge  = 24 * time.Hour
	defaultUploadWorkers    = 10
	defaultUploadChunkLimit = time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Packager  PackagerConfig  `mapstructure:"packager"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Serve     ServeConfig     `mapstructure:"serve"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PackagerConfig holds settings for the external packaging binary.
type PackagerConfig struct {
	// Binary is the path to the Shaka Packager executable.
	Binary string `mapstructure:"binary"`
	// Timeout is the maximum duration a packaging run may take.
	Timeout time.Duration `mapstructure:"timeout"`
	// ForceGenericInput copies/symlinks inputs to a generic name
	// (input.<ext>) before invoking the binary. This avoids issues with
	// filenames the packager's descriptor parser cannot handle.
	ForceGenericInput bool `mapstructure:"force_generic_input"`
}

// WorkspaceConfig holds temporary workspace configuration.
type WorkspaceConfig struct {
	// Root is the base directory for per-job scratch directories.
	Root string `mapstructure:"root"`
	// CacheRoot is a fast storage tier (typically a RAM disk) used for
	// small secret files such as raw encryption keys.
	CacheRoot string `mapstructure:"cache_root"`
	// MaxAge is the age after which orphaned scratch directories are
	// removed at startup.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// UploadConfig holds artifact upload pipeline configuration.
type UploadConfig struct {
	// Workers is the maximum number of concurrently transferring chunks.
	Workers int `mapstructure:"workers"`
	// ChunkTimeout bounds a single chunk's transfer time. Zero means
	// unbounded.
	ChunkTimeout time.Duration `mapstructure:"chunk_timeout"`
	// Cleanup removes transferred source files and emptied scratch
	// directories after a successful upload.
	Cleanup bool `mapstructure:"cleanup"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ServeConfig holds settings for the dynamic manifest server.
type ServeConfig struct {
	// MediaDir is the directory published manifests and segments are
	// served and rewritten from.
	MediaDir string `mapstructure:"media_dir"`
	// BaseURL is prepended to rewritten segment/key/playlist references.
	BaseURL string `mapstructure:"base_url"`
}

// SetDefaults sets default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("packager.binary", defaultBinaryPath)
	v.SetDefault("packager.timeout", defaultCommandTimeout)
	v.SetDefault("packager.force_generic_input", false)

	v.SetDefault("workspace.root", filepathJoinTemp("packd"))
	v.SetDefault("workspace.cache_root", defaultCacheRoot)
	v.SetDefault("workspace.max_age", defaultWorkspaceMaxAge)

	v.SetDefault("upload.workers", defaultUploadWorkers)
	v.SetDefault("upload.chunk_timeout", defaultUploadChunkLimit)
	v.SetDefault("upload.cleanup", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("serve.media_dir", ".")
	v.SetDefault("serve.base_url", "")
}

// Load unmarshals the current viper state into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Packager.Binary == "" {
		return errors.New("packager.binary must not be empty")
	}
	if c.Packager.Timeout < 0 {
		return errors.New("packager.timeout must not be negative")
	}
	if c.Workspace.Root == "" {
		return errors.New("workspace.root must not be empty")
	}
	if c.Upload.Workers < 1 {
		return fmt.Errorf("upload.workers must be at least 1, got %d", c.Upload.Workers)
	}
	if c.Upload.ChunkTimeout < 0 {
		return errors.New("upload.chunk_timeout must not be negative")
	}
	return nil
}

func filepathJoinTemp(name string) string {
	return os.TempDir() + string(os.PathSeparator) + name
}
