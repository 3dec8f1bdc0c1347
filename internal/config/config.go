package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/gulp/internal/downloader"
	"github.com/ligustah/gulp/internal/units"
)

// Config defines configuration for the gulp CLI.
type Config struct {
	URL         string        `yaml:"url"`
	Output      string        `yaml:"output"`
	Workers     int           `yaml:"workers"`
	ChunkSize   int64         `yaml:"chunk_size"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
	CancelGrace time.Duration `yaml:"cancel_grace"`
	Staging     string        `yaml:"staging"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Workers:     downloader.DefaultWorkers,
		ChunkSize:   downloader.DefaultChunkSize,
		TaskTimeout: downloader.DefaultTaskTimeout,
		CancelGrace: downloader.DefaultCancelGrace,
	}
}

// yamlConfig is used for YAML unmarshaling with human-readable chunk size
// and duration strings.
type yamlConfig struct {
	URL         string `yaml:"url"`
	Output      string `yaml:"output"`
	Workers     int    `yaml:"workers"`
	ChunkSize   string `yaml:"chunk_size"`
	TaskTimeout string `yaml:"task_timeout"`
	CancelGrace string `yaml:"cancel_grace"`
	Staging     string `yaml:"staging"`
}

// LoadFromFile loads configuration from a YAML file, starting from defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.URL != "" {
		cfg.URL = yc.URL
	}
	if yc.Output != "" {
		cfg.Output = yc.Output
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.ChunkSize != "" {
		size, err := units.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if yc.TaskTimeout != "" {
		d, err := time.ParseDuration(yc.TaskTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse task_timeout: %w", err)
		}
		cfg.TaskTimeout = d
	}
	if yc.CancelGrace != "" {
		d, err := time.ParseDuration(yc.CancelGrace)
		if err != nil {
			return Config{}, fmt.Errorf("parse cancel_grace: %w", err)
		}
		cfg.CancelGrace = d
	}
	if yc.Staging != "" {
		cfg.Staging = yc.Staging
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the GULP_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("GULP_URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv("GULP_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("GULP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse GULP_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("GULP_CHUNK_SIZE"); v != "" {
		size, err := units.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse GULP_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("GULP_TASK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse GULP_TASK_TIMEOUT: %w", err)
		}
		c.TaskTimeout = d
	}
	if v := os.Getenv("GULP_CANCEL_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse GULP_CANCEL_GRACE: %w", err)
		}
		c.CancelGrace = d
	}
	if v := os.Getenv("GULP_STAGING"); v != "" {
		c.Staging = v
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.TaskTimeout < 0 {
		return errors.New("config: task_timeout must not be negative")
	}
	if c.CancelGrace < 0 {
		return errors.New("config: cancel_grace must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.URL != "" {
		c.URL = override.URL
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.TaskTimeout != 0 {
		c.TaskTimeout = override.TaskTimeout
	}
	if override.CancelGrace != 0 {
		c.CancelGrace = override.CancelGrace
	}
	if override.Staging != "" {
		c.Staging = override.Staging
	}
	return c
}
