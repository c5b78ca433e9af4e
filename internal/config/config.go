// Package config loads the server configuration from an optional YAML file.
// Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/erazemk/zaloga/internal/store"
)

// Config holds all server settings.
type Config struct {
	Addr    string `yaml:"addr"`
	DBPath  string `yaml:"db"`
	LogPath string `yaml:"log"`

	// StockPolicy is "reject" or "allow-negative".
	StockPolicy             string `yaml:"stock_policy"`
	StrictStatusTransitions bool   `yaml:"strict_status_transitions"`

	Auth   AuthConfig   `yaml:"auth"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Redis  RedisConfig  `yaml:"redis"`
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig configures bearer token verification. An empty secret turns
// verification off.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// KafkaConfig configures the stock change transport. With no brokers,
// changes are handled in-process.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// RedisConfig configures the shared idempotency guard. With no address,
// keys are kept in memory.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	IdempotencyTTL string `yaml:"idempotency_ttl"`
}

// AlertsConfig configures the periodic alert sweep.
type AlertsConfig struct {
	SweepInterval string `yaml:"sweep_interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Addr:        ":8080",
		DBPath:      "zaloga.sqlite3",
		StockPolicy: "reject",
		Kafka: KafkaConfig{
			Topic:   "zaloga.stock-changed",
			GroupID: "zaloga-alerts",
		},
		Redis: RedisConfig{
			IdempotencyTTL: "24h",
		},
		Alerts: AlertsConfig{
			SweepInterval: "1h",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets secrets stay out of the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ZALOGA_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("ZALOGA_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

// Validate checks values that the rest of the program parses.
func (c *Config) Validate() error {
	if _, err := store.ParseStockPolicy(c.StockPolicy); err != nil {
		return fmt.Errorf("stock_policy: %w", err)
	}
	ttl, err := c.IdempotencyTTL()
	if err != nil {
		return err
	}
	if ttl == 0 {
		return fmt.Errorf("redis.idempotency_ttl: must be positive")
	}
	if _, err := c.SweepInterval(); err != nil {
		return err
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic: required when brokers are set")
	}
	return nil
}

// IdempotencyTTL returns how long idempotency keys are kept.
func (c *Config) IdempotencyTTL() (time.Duration, error) {
	return parseDuration("redis.idempotency_ttl", c.Redis.IdempotencyTTL, 24*time.Hour)
}

// SweepInterval returns the alert sweep interval. Zero disables the sweep.
func (c *Config) SweepInterval() (time.Duration, error) {
	return parseDuration("alerts.sweep_interval", c.Alerts.SweepInterval, time.Hour)
}

func parseDuration(field, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", field)
	}
	return d, nil
}
