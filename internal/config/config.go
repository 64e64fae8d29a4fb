// Package config loads engine configuration from a YAML file with
// environment overrides for deploy-time secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Redis      RedisConfig     `yaml:"redis"`
	AMQP       AMQPConfig      `yaml:"amqp"`
	Engine     EngineConfig    `yaml:"engine"`
	Worker     WorkerConfig    `yaml:"worker"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	SES        SESConfig       `yaml:"ses"`
	Thresholds ThresholdConfig `yaml:"thresholds"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the Redis connection settings. Redis backs the work
// queue (unless AMQP is enabled), rate limiting, and distributed locks;
// leaving URL empty runs the engine on Postgres-only fallbacks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AMQPConfig selects RabbitMQ as the work queue backend.
type AMQPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	QueueName string `yaml:"queue_name"`
}

// EngineConfig tunes the dispatcher loop.
type EngineConfig struct {
	PollIntervalSeconds  int `yaml:"poll_interval_seconds"`
	LockTTLSeconds       int `yaml:"lock_ttl_seconds"`
	CompletionGraceHours int `yaml:"completion_grace_hours"`
}

// PollInterval returns the dispatcher tick interval.
func (e EngineConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSeconds) * time.Second
}

// LockTTL returns the per-campaign tick lock TTL.
func (e EngineConfig) LockTTL() time.Duration {
	return time.Duration(e.LockTTLSeconds) * time.Second
}

// CompletionGrace returns how long a finished campaign waits for late
// delivery events before transitioning to completed.
func (e EngineConfig) CompletionGrace() time.Duration {
	return time.Duration(e.CompletionGraceHours) * time.Hour
}

// WorkerConfig tunes the send worker pool.
type WorkerConfig struct {
	Concurrency   int `yaml:"concurrency"`
	MaxAttempts   int `yaml:"max_attempts"`
	BaseDelayMS   int `yaml:"base_delay_ms"`
	MaxDelayMS    int `yaml:"max_delay_ms"`
	DequeueWaitMS int `yaml:"dequeue_wait_ms"`
}

// RateLimitConfig caps outbound send rates per sending domain.
type RateLimitConfig struct {
	PerDomainPerMinute int `yaml:"per_domain_per_minute"`
	GlobalPerMinute    int `yaml:"global_per_minute"`
}

// SESConfig holds Amazon SES transport settings.
type SESConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// ThresholdConfig holds deliverability circuit-breaker thresholds.
type ThresholdConfig struct {
	BounceRateCritical float64 `yaml:"bounce_rate_critical"`
	MinSentForBreaker  int64   `yaml:"min_sent_for_breaker"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}
	if cfg.AMQP.QueueName == "" {
		cfg.AMQP.QueueName = "campaign-send-jobs"
	}
	if cfg.Engine.PollIntervalSeconds == 0 {
		cfg.Engine.PollIntervalSeconds = 30
	}
	if cfg.Engine.LockTTLSeconds == 0 {
		cfg.Engine.LockTTLSeconds = 60
	}
	if cfg.Engine.CompletionGraceHours == 0 {
		cfg.Engine.CompletionGraceHours = 24
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 8
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = 3
	}
	if cfg.Worker.BaseDelayMS == 0 {
		cfg.Worker.BaseDelayMS = 500
	}
	if cfg.Worker.MaxDelayMS == 0 {
		cfg.Worker.MaxDelayMS = 30_000
	}
	if cfg.Worker.DequeueWaitMS == 0 {
		cfg.Worker.DequeueWaitMS = 2_000
	}
	if cfg.RateLimits.PerDomainPerMinute == 0 {
		cfg.RateLimits.PerDomainPerMinute = 600
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Thresholds.BounceRateCritical == 0 {
		cfg.Thresholds.BounceRateCritical = 0.05
	}
	if cfg.Thresholds.MinSentForBreaker == 0 {
		cfg.Thresholds.MinSentForBreaker = 50
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is loaded first if present, so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		// Env-only deployments run without a config file.
		cfg = &Config{}
		cfg.applyDefaults()
	} else if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQP.URL = v
		cfg.AMQP.Enabled = true
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.SES.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.SES.SecretAccessKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	return cfg, nil
}
