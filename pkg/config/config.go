package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/session"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel          string        `yaml:"log_level" default:"warn"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"10s"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout" default:"5s"`
	ScanDuration      time.Duration `yaml:"scan_duration" default:"10s"`
	SubscriberBuffer  int           `yaml:"subscriber_buffer" default:"64"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error when optional is set.
func Load(path string, optional bool) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the session cannot run with
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.DisconnectTimeout <= 0 {
		return fmt.Errorf("disconnect_timeout must be positive, got %s", c.DisconnectTimeout)
	}
	if c.SubscriberBuffer < 1 {
		return fmt.Errorf("subscriber_buffer must be at least 1, got %d", c.SubscriberBuffer)
	}
	return nil
}

// SessionOptions maps the config onto session.Options
func (c *Config) SessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.ConnectTimeout = c.ConnectTimeout
	opts.DisconnectTimeout = c.DisconnectTimeout
	opts.SubscriberBuffer = c.SubscriberBuffer
	return opts
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
