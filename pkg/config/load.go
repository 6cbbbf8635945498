package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/augurhq/augur/pkg/backoff"
	"github.com/augurhq/augur/pkg/dedup"
)

// Load reads configuration from an optional YAML file and from environment
// variables with the AUGUR_ prefix (environment wins). An empty path skips
// the file entirely.
func Load(path string, logger *slog.Logger) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AUGUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	enforceMarkerTTLFloor(&cfg, logger)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("store.path", "augur.db")
	v.SetDefault("store.max_open_conns", 25)
	v.SetDefault("store.max_idle_conns", 10)
	v.SetDefault("store.conn_lifetime", 5*time.Minute)

	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("dedup.marker_ttl", 30*time.Minute)

	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.poll_interval", 250*time.Millisecond)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.retry_base", 5*time.Second)
	v.SetDefault("queue.retry_max", 5*time.Minute)
	v.SetDefault("queue.lock_duration", 5*time.Minute)
	v.SetDefault("queue.sweep_interval", 30*time.Second)
	v.SetDefault("queue.snapshot_interval", 15*time.Second)
	v.SetDefault("queue.retention_keep", 1000)
	v.SetDefault("queue.reaper_schedule", "@every 5m")

	v.SetDefault("backend.command", "augur-generate")
	v.SetDefault("backend.args", []string{})
	v.SetDefault("backend.timeout", 2*time.Minute)
	v.SetDefault("backend.max_attempts", 3)
	v.SetDefault("backend.retry_base", 2*time.Second)
	v.SetDefault("backend.retry_max", time.Minute)

	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.retry_base", time.Second)
}

// enforceMarkerTTLFloor raises the marker TTL to cover worst-case execution
// plus retry time. A marker expiring mid-execution would permit a duplicate
// job for the same fingerprint.
func enforceMarkerTTLFloor(cfg *Config, logger *slog.Logger) {
	floor := dedup.FloorTTL(
		cfg.Backend.Timeout,
		cfg.BackendRetry(),
		cfg.Queue.MaxAttempts,
		cfg.QueueRetry(),
	)
	if cfg.Dedup.MarkerTTL < floor {
		logger.Warn("dedup marker ttl below safe floor, raising",
			"configured", cfg.Dedup.MarkerTTL,
			"floor", floor)
		cfg.Dedup.MarkerTTL = floor
	}
}

// BackendRetry returns the backend's retry policy.
func (c *Config) BackendRetry() backoff.Config {
	return backoff.Config{
		MaxAttempts: c.Backend.MaxAttempts,
		Base:        c.Backend.RetryBase,
		Max:         c.Backend.RetryMax,
		Multiplier:  2.0,
	}
}

// QueueRetry returns the queue-level retry policy.
func (c *Config) QueueRetry() backoff.Config {
	return backoff.Config{
		MaxAttempts: c.Queue.MaxAttempts,
		Base:        c.Queue.RetryBase,
		Max:         c.Queue.RetryMax,
		Multiplier:  2.0,
	}
}

// WebhookRetry returns the webhook delivery retry policy.
func (c *Config) WebhookRetry() backoff.Config {
	return backoff.Config{
		MaxAttempts: c.Webhook.MaxAttempts,
		Base:        c.Webhook.RetryBase,
		Max:         time.Minute,
		Multiplier:  2.0,
	}
}
