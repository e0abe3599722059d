package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Scheduler SchedulerConfig `toml:"scheduler"`
	Probe     ProbeConfig     `toml:"probe"`
	Announce  AnnounceConfig  `toml:"announce"`
	Storage   StorageConfig   `toml:"storage"`
	Platforms PlatformsConfig `toml:"platforms"`
	Redis     RedisConfig     `toml:"redis"`
}

type SchedulerConfig struct {
	Interval    string `toml:"interval"`
	MaxParallel int    `toml:"max_parallel"`
	FanOutWait  string `toml:"fanout_timeout"`
}

type ProbeConfig struct {
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

type AnnounceConfig struct {
	TextLimit    int    `toml:"text_limit"`
	BroadcastTTL string `toml:"broadcast_ttl"`
}

type StorageConfig struct {
	Path string `toml:"path"`
}

type PlatformsConfig struct {
	Bluesky BlueskyPlatformSettings `toml:"bluesky"`
	Ollama  OllamaPlatformSettings  `toml:"ollama"`
}

type BlueskyPlatformSettings struct {
	Host       string `toml:"host"`
	Identifier string `toml:"identifier"`
	Password   string `toml:"password"`
}

type OllamaPlatformSettings struct {
	Enabled bool   `toml:"enabled"`
	Model   string `toml:"model"`
}

// RedisConfig is optional; with an empty Addr the correlation store falls
// back to the in-process cache.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.Scheduler.Interval == "" {
		config.Scheduler.Interval = "3m"
	}

	if _, err := time.ParseDuration(config.Scheduler.Interval); err != nil {
		return fmt.Errorf("invalid scheduler interval: %w", err)
	}

	if config.Scheduler.MaxParallel <= 0 {
		config.Scheduler.MaxParallel = 10
	}

	if config.Scheduler.FanOutWait == "" {
		config.Scheduler.FanOutWait = "30s"
	}

	if _, err := time.ParseDuration(config.Scheduler.FanOutWait); err != nil {
		return fmt.Errorf("invalid fanout timeout: %w", err)
	}

	if config.Probe.Timeout == "" {
		config.Probe.Timeout = "10s"
	}

	if _, err := time.ParseDuration(config.Probe.Timeout); err != nil {
		return fmt.Errorf("invalid probe timeout: %w", err)
	}

	if config.Announce.TextLimit <= 0 {
		config.Announce.TextLimit = 280
	}

	if config.Announce.BroadcastTTL == "" {
		config.Announce.BroadcastTTL = "6h"
	}

	if _, err := time.ParseDuration(config.Announce.BroadcastTTL); err != nil {
		return fmt.Errorf("invalid broadcast ttl: %w", err)
	}

	if config.Storage.Path == "" {
		config.Storage.Path = "./herald.db"
	}

	if config.Platforms.Bluesky.Identifier == "" {
		return fmt.Errorf("platforms.bluesky.identifier is required")
	}

	if config.Platforms.Bluesky.Password == "" {
		return fmt.Errorf("platforms.bluesky.password is required")
	}

	if config.Platforms.Bluesky.Host == "" {
		config.Platforms.Bluesky.Host = "https://bsky.social"
	}

	if config.Platforms.Ollama.Enabled && config.Platforms.Ollama.Model == "" {
		return fmt.Errorf("platforms.ollama.model is required when ollama is enabled")
	}

	return nil
}

func (c *Config) SchedulerInterval() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.Interval)
	return d
}

func (c *Config) FanOutTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.FanOutWait)
	return d
}

func (c *Config) ProbeTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Probe.Timeout)
	return d
}

func (c *Config) BroadcastTTL() time.Duration {
	d, _ := time.ParseDuration(c.Announce.BroadcastTTL)
	return d
}
