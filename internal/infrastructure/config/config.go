package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
//
// Values are resolved in three layers: built-in defaults, an optional TOML
// file, then environment variables. Environment variables win.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Docker    DockerConfig
	Exec      ExecConfig
	Session   SessionConfig
	Container ContainerConfig
	Transport TransportConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT"`
	Host string `envconfig:"HOST"`
}

// RedisConfig holds session store connection configuration.
type RedisConfig struct {
	Addr        string        `envconfig:"REDIS_ADDR"`
	Password    string        `envconfig:"REDIS_PASSWORD"`
	DB          int           `envconfig:"REDIS_DB"`
	DialTimeout time.Duration `envconfig:"REDIS_DIAL_TIMEOUT"`
}

// DockerConfig holds container runtime configuration.
type DockerConfig struct {
	Host string `envconfig:"DOCKER_HOST"`
}

// ExecConfig bounds command execution.
type ExecConfig struct {
	Timeout       time.Duration `envconfig:"EXEC_TIMEOUT"`
	OutputLimitKB int           `envconfig:"EXEC_OUTPUT_LIMIT_KB"`
	Shell         string        `envconfig:"EXEC_SHELL"`
	MaxReplyKB    int           `envconfig:"EXEC_MAX_REPLY_KB"`
}

// SessionConfig controls session persistence and eviction.
type SessionConfig struct {
	TTL           time.Duration `envconfig:"SESSION_TTL"`
	IdleTimeout   time.Duration `envconfig:"SESSION_IDLE_TIMEOUT"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL"`
}

// ContainerConfig holds defaults for provisioned containers.
type ContainerConfig struct {
	DefaultImage    string `envconfig:"CONTAINER_DEFAULT_IMAGE"`
	MemoryLimitMB   int64  `envconfig:"CONTAINER_MEMORY_LIMIT_MB"`
	CPUQuota        int64  `envconfig:"CONTAINER_CPU_QUOTA"`
	CPUPeriod       int64  `envconfig:"CONTAINER_CPU_PERIOD"`
	PidsLimit       int64  `envconfig:"CONTAINER_PIDS_LIMIT"`
	NetworkDisabled bool   `envconfig:"CONTAINER_NETWORK_DISABLED"`
}

// TransportConfig holds the chat transport boundary configuration.
type TransportConfig struct {
	CallbackURL string `envconfig:"CHAT_CALLBACK_URL"`
	Async       bool   `envconfig:"CHAT_ASYNC_REPLIES"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL"`
	Development bool   `envconfig:"LOG_DEV"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED"`
}

// Load loads configuration from environment variables on top of defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from a TOML file, then applies environment
// variable overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DB:          0,
			DialTimeout: 5 * time.Second,
		},
		Docker: DockerConfig{
			Host: "unix:///var/run/docker.sock",
		},
		Exec: ExecConfig{
			Timeout:       80 * time.Second,
			OutputLimitKB: 64,
			Shell:         "/bin/sh",
			MaxReplyKB:    4,
		},
		Session: SessionConfig{
			TTL:           24 * time.Hour,
			IdleTimeout:   24 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Container: ContainerConfig{
			DefaultImage:  "alpine:latest",
			MemoryLimitMB: 256,
			CPUQuota:      50000,
			CPUPeriod:     100000,
			PidsLimit:     64,
		},
		Transport: TransportConfig{},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
