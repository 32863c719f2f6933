package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for M74.
// It merges file defaults and environment overrides to support both local and
// deployed runs. Retry parameters are explicit settings, never hard-coded.
type Config struct {
	ServiceID string
	Version   string

	HTTPPort int
	GRPCPort int

	RedisURL    string
	RedisUseTLS string

	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	BatchSize    int
	TickInterval time.Duration

	DispatchTimeout time.Duration
	SigningSecret   string

	FlushConfirmation string
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
		Version  string `yaml:"version"`
	} `yaml:"service"`
	Dependencies struct {
		RedisURL string `yaml:"redis_url"`
	} `yaml:"dependencies"`
	Retry struct {
		MaxAttempts      int `yaml:"max_attempts"`
		BaseDelaySeconds int `yaml:"base_delay_seconds"`
		MaxDelaySeconds  int `yaml:"max_delay_seconds"`
		BatchSize        int `yaml:"batch_size"`
		TickSeconds      int `yaml:"tick_seconds"`
	} `yaml:"retry"`
	Dispatch struct {
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		SigningSecret  string `yaml:"signing_secret"`
	} `yaml:"dispatch"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:         "M74-Promotion-Relay",
		Version:           "0.1.0",
		HTTPPort:          8080,
		GRPCPort:          9090,
		MaxAttempts:       5,
		BaseDelay:         30 * time.Second,
		MaxDelay:          time.Hour,
		BatchSize:         10,
		TickInterval:      30 * time.Second,
		DispatchTimeout:   5 * time.Second,
		FlushConfirmation: "FLUSH",
	}

	if raw, err := os.ReadFile(path); err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.Version != "" {
			cfg.Version = f.Service.Version
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.Retry.MaxAttempts > 0 {
			cfg.MaxAttempts = f.Retry.MaxAttempts
		}
		if f.Retry.BaseDelaySeconds > 0 {
			cfg.BaseDelay = time.Duration(f.Retry.BaseDelaySeconds) * time.Second
		}
		if f.Retry.MaxDelaySeconds > 0 {
			cfg.MaxDelay = time.Duration(f.Retry.MaxDelaySeconds) * time.Second
		}
		if f.Retry.BatchSize > 0 {
			cfg.BatchSize = f.Retry.BatchSize
		}
		if f.Retry.TickSeconds > 0 {
			cfg.TickInterval = time.Duration(f.Retry.TickSeconds) * time.Second
		}
		if f.Dispatch.TimeoutSeconds > 0 {
			cfg.DispatchTimeout = time.Duration(f.Dispatch.TimeoutSeconds) * time.Second
		}
		if f.Dispatch.SigningSecret != "" {
			cfg.SigningSecret = f.Dispatch.SigningSecret
		}
	}

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.Version = envString("SERVICE_VERSION", cfg.Version)
	cfg.RedisURL = envString("REDIS_URL", cfg.RedisURL)
	cfg.RedisUseTLS = envString("REDIS_USE_TLS", cfg.RedisUseTLS)
	cfg.MaxAttempts = envInt("RETRY_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.BaseDelay = envDuration("RETRY_BASE_DELAY", cfg.BaseDelay)
	cfg.MaxDelay = envDuration("RETRY_MAX_DELAY", cfg.MaxDelay)
	cfg.BatchSize = envInt("RETRY_BATCH_SIZE", cfg.BatchSize)
	cfg.TickInterval = envDuration("RETRY_TICK_INTERVAL", cfg.TickInterval)
	cfg.DispatchTimeout = envDuration("DISPATCH_TIMEOUT", cfg.DispatchTimeout)
	cfg.SigningSecret = envString("PROMOTION_WEBHOOK_SECRET", cfg.SigningSecret)
	return cfg, nil
}

func envInt(name string, fallback int) int {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func envString(name, fallback string) string {
	if raw := os.Getenv(name); raw != "" {
		return raw
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(name); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			return v
		}
	}
	return fallback
}
