// Package config loads nanoclaw's on-disk configuration and applies
// environment variable overrides, following the home-dir + config.yaml +
// env-override layering its sibling services use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	AssistantName           string `yaml:"assistant_name"`
	Timezone                string `yaml:"timezone"`
	MainGroupFolder          string `yaml:"main_group_folder"`
	MaxConcurrentContainers int    `yaml:"max_concurrent_containers"`
	PollIntervalMS          int    `yaml:"poll_interval_ms"`
	IPCPollIntervalMS       int    `yaml:"ipc_poll_interval_ms"`
	SchedulerTickMS         int    `yaml:"scheduler_tick_ms"`
	BaseRetryMS             int    `yaml:"base_retry_ms"`
	MaxRetries              int    `yaml:"max_retries"`
	MaxTurns                int    `yaml:"max_turns"`
	ShutdownGraceMS         int    `yaml:"shutdown_grace_ms"`
	LogLevel                string `yaml:"log_level"`
	OTelEnabled             bool   `yaml:"otel_enabled"`

	TelegramBotToken string `yaml:"-"` // env only, never persisted
	GeminiAPIKey     string `yaml:"-"` // env only, never persisted
	GeminiModel      string `yaml:"gemini_model"`
}

// PollInterval returns the intake polling cadence as a time.Duration.
func (c Config) PollInterval() time.Duration { return time.Duration(c.PollIntervalMS) * time.Millisecond }

// IPCPollInterval returns the IPC watcher polling cadence.
func (c Config) IPCPollInterval() time.Duration {
	return time.Duration(c.IPCPollIntervalMS) * time.Millisecond
}

// SchedulerTick returns the task scheduler tick cadence.
func (c Config) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickMS) * time.Millisecond
}

// BaseRetry returns the base exponential backoff delay.
func (c Config) BaseRetry() time.Duration { return time.Duration(c.BaseRetryMS) * time.Millisecond }

// ShutdownGrace returns the grace period before force-killing containers.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceMS) * time.Millisecond
}

func defaultConfig() Config {
	return Config{
		AssistantName:           "nano",
		Timezone:                "UTC",
		MainGroupFolder:          "main",
		MaxConcurrentContainers: 4,
		PollIntervalMS:          3000,
		IPCPollIntervalMS:       500,
		SchedulerTickMS:         10000,
		BaseRetryMS:             5000,
		MaxRetries:              5,
		MaxTurns:                30,
		ShutdownGraceMS:         10000,
		LogLevel:                "info",
		GeminiModel:             "gemini-2.0-flash",
	}
}

// HomeDir resolves nanoclaw's home directory, honoring NANOCLAW_HOME.
func HomeDir() string {
	if override := os.Getenv("NANOCLAW_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".nanoclaw")
}

// Load reads config.yaml from the home directory (if present), applies
// environment overrides, and normalizes defaults.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create nanoclaw home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.AssistantName == "" {
		cfg.AssistantName = "nano"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.MainGroupFolder == "" {
		cfg.MainGroupFolder = "main"
	}
	if cfg.MaxConcurrentContainers <= 0 {
		cfg.MaxConcurrentContainers = 4
	}
	if cfg.PollIntervalMS <= 0 {
		cfg.PollIntervalMS = 3000
	}
	if cfg.IPCPollIntervalMS <= 0 {
		cfg.IPCPollIntervalMS = 500
	}
	if cfg.SchedulerTickMS <= 0 {
		cfg.SchedulerTickMS = 10000
	}
	if cfg.BaseRetryMS <= 0 {
		cfg.BaseRetryMS = 5000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 30
	}
	if cfg.ShutdownGraceMS <= 0 {
		cfg.ShutdownGraceMS = 10000
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.0-flash"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("NANOCLAW_ASSISTANT_NAME"); raw != "" {
		cfg.AssistantName = raw
	}
	if raw := os.Getenv("NANOCLAW_TIMEZONE"); raw != "" {
		cfg.Timezone = raw
	}
	if raw := os.Getenv("NANOCLAW_MAIN_GROUP_FOLDER"); raw != "" {
		cfg.MainGroupFolder = raw
	}
	if raw := os.Getenv("NANOCLAW_MAX_CONCURRENT_CONTAINERS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxConcurrentContainers = v
		}
	}
	if raw := os.Getenv("NANOCLAW_POLL_INTERVAL_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.PollIntervalMS = v
		}
	}
	if raw := os.Getenv("NANOCLAW_IPC_POLL_INTERVAL_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.IPCPollIntervalMS = v
		}
	}
	if raw := os.Getenv("NANOCLAW_SCHEDULER_TICK_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.SchedulerTickMS = v
		}
	}
	if raw := os.Getenv("NANOCLAW_BASE_RETRY_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.BaseRetryMS = v
		}
	}
	if raw := os.Getenv("NANOCLAW_MAX_RETRIES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxRetries = v
		}
	}
	if raw := os.Getenv("NANOCLAW_MAX_TURNS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxTurns = v
		}
	}
	if raw := os.Getenv("NANOCLAW_SHUTDOWN_GRACE_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.ShutdownGraceMS = v
		}
	}
	if raw := os.Getenv("NANOCLAW_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("NANOCLAW_OTEL"); raw != "" {
		cfg.OTelEnabled = raw == "1" || raw == "true"
	}
	if raw := os.Getenv("NANOCLAW_TELEGRAM_BOT_TOKEN"); raw != "" {
		cfg.TelegramBotToken = raw
	}
	if raw := os.Getenv("GEMINI_API_KEY"); raw != "" {
		cfg.GeminiAPIKey = raw
	}
	if raw := os.Getenv("GEMINI_MODEL"); raw != "" {
		cfg.GeminiModel = raw
	}
}
