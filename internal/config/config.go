// Package config loads trade engine configuration from file and environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Faucet     FaucetConfig     `mapstructure:"faucet"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig holds the optional read-through cache configuration.
type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

// FaucetConfig holds demo-USDC faucet configuration.
type FaucetConfig struct {
	Amount   float64       `mapstructure:"amount"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// GovernanceConfig holds proposal voting configuration.
type GovernanceConfig struct {
	Quorum float64 `mapstructure:"quorum"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file plus environment variables
// prefixed with LFG (e.g. LFG_DATABASE_URL). An empty path loads defaults
// and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("LFG")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("database.url", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "30s")

	v.SetDefault("faucet.amount", 1000.0)
	v.SetDefault("faucet.cooldown", "24h")

	v.SetDefault("governance.quorum", 10.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Faucet.Amount <= 0 {
		return fmt.Errorf("faucet.amount must be positive")
	}
	if c.Faucet.Cooldown < time.Minute {
		return fmt.Errorf("faucet.cooldown must be at least 1 minute")
	}
	if c.Governance.Quorum < 1 {
		return fmt.Errorf("governance.quorum must be at least 1")
	}
	if c.Redis.URL != "" && c.Redis.TTL < time.Second {
		return fmt.Errorf("redis.ttl must be at least 1 second")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
