// Package config loads the application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/scheduler"
	"github.com/quarryd/quarry/internal/storage/redisstore"
	"github.com/quarryd/quarry/internal/worker"
)

// Storage backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Server defaults.
const (
	defaultServerAddress   = ":8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SetDefaults applies default values to the config if not set.
func (c *ServerConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = defaultServerAddress
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "memory" for a single in-process node or "redis" for a
	// shared deployment.
	Backend string `mapstructure:"backend"`
}

// Validate checks the backend name.
func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendRedis:
		return nil
	default:
		return fmt.Errorf("unknown storage backend %q: must be %q or %q",
			c.Backend, BackendMemory, BackendRedis)
	}
}

// Config is the application configuration.
type Config struct {
	Logger    logger.Config     `mapstructure:"logger"`
	Server    ServerConfig      `mapstructure:"server"`
	Storage   StorageConfig     `mapstructure:"storage"`
	Redis     redisstore.Config `mapstructure:"redis"`
	Worker    worker.Config     `mapstructure:"worker"`
	Scheduler scheduler.Config  `mapstructure:"scheduler"`
}

// SetDefaults applies default values to the config if not set.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.Server.SetDefaults()
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	c.Worker.SetDefaults()
	c.Scheduler.SetDefaults()
}

// Validate checks the configuration for a runnable node.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.Storage.Backend == BackendRedis && c.Redis.Address == "" {
		return redisstore.ErrEmptyAddress
	}
	return nil
}

// Load reads the configuration file, if any, and applies environment
// variable overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
