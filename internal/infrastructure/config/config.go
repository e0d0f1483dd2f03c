package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration.
type Config struct {
	Runtime RuntimeConfig
	Control ControlConfig
	Sandbox SandboxConfig
	SSH     SSHConfig
	Logging LogConfig
	Metrics MetricsConfig
}

// RuntimeConfig holds timing defaults for realized applications.
type RuntimeConfig struct {
	DefaultTimeout time.Duration `envconfig:"APPRUN_DEFAULT_TIMEOUT" default:"60s"`
	PollInterval   time.Duration `envconfig:"APPRUN_POLL_INTERVAL" default:"100ms"`
	DrainTimeout   time.Duration `envconfig:"APPRUN_DRAIN_TIMEOUT" default:"5s"`
	KillGrace      time.Duration `envconfig:"APPRUN_KILL_GRACE" default:"2s"`
}

// ControlConfig holds the work submission channel configuration.
type ControlConfig struct {
	Enabled   bool   `envconfig:"APPRUN_CONTROL_ENABLED" default:"true"`
	Addr      string `envconfig:"APPRUN_CONTROL_ADDR" default:"127.0.0.1:0"`
	Advertise string `envconfig:"APPRUN_CONTROL_ADVERTISE" default:""`
}

// SandboxConfig holds in-process isolated runtime limits.
type SandboxConfig struct {
	MaxCallStack int `envconfig:"APPRUN_SANDBOX_STACK" default:"1024"`
}

// SSHConfig holds remote-host execution settings.
type SSHConfig struct {
	Host             string        `envconfig:"APPRUN_SSH_HOST" default:""`
	User             string        `envconfig:"APPRUN_SSH_USER" default:""`
	KeyFile          string        `envconfig:"APPRUN_SSH_KEY_FILE" default:""`
	KnownHosts       string        `envconfig:"APPRUN_SSH_KNOWN_HOSTS" default:""`
	DialTimeout      time.Duration `envconfig:"APPRUN_SSH_DIAL_TIMEOUT" default:"10s"`
	FailureThreshold uint32        `envconfig:"APPRUN_SSH_FAILURE_THRESHOLD" default:"3"`
	Cooldown         time.Duration `envconfig:"APPRUN_SSH_COOLDOWN" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds the optional Prometheus endpoint.
type MetricsConfig struct {
	Addr string `envconfig:"APPRUN_METRICS_ADDR" default:""`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			DefaultTimeout: 60 * time.Second,
			PollInterval:   100 * time.Millisecond,
			DrainTimeout:   5 * time.Second,
			KillGrace:      2 * time.Second,
		},
		Control: ControlConfig{
			Enabled: true,
			Addr:    "127.0.0.1:0",
		},
		Sandbox: SandboxConfig{
			MaxCallStack: 1024,
		},
		SSH: SSHConfig{
			DialTimeout:      10 * time.Second,
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
