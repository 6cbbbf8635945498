// Package config loads service configuration from environment variables and
// an optional YAML file.
package config

import (
	"time"
)

// Config holds all service configuration, grouped by concern.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"  validate:"required"`
	Store   StoreConfig   `mapstructure:"store"   validate:"required"`
	Cache   CacheConfig   `mapstructure:"cache"   validate:"required"`
	Dedup   DedupConfig   `mapstructure:"dedup"   validate:"required"`
	Queue   QueueConfig   `mapstructure:"queue"   validate:"required"`
	Backend BackendConfig `mapstructure:"backend" validate:"required"`
	Webhook WebhookConfig `mapstructure:"webhook" validate:"required"`
}

// ServerConfig contains the HTTP surface settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// StoreConfig contains the backing store settings.
type StoreConfig struct {
	Path         string        `mapstructure:"path" validate:"required"`
	MaxOpenConns int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

// CacheConfig contains result cache settings.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl" validate:"required"`
}

// DedupConfig contains in-flight tracker settings. The marker TTL is raised
// to the computed floor when configured below it, so a marker cannot expire
// before worst-case execution plus retry time.
type DedupConfig struct {
	MarkerTTL time.Duration `mapstructure:"marker_ttl" validate:"required"`
}

// QueueConfig contains queue and worker pool settings.
type QueueConfig struct {
	Concurrency      int           `mapstructure:"concurrency"       validate:"required,gte=1"`
	PollInterval     time.Duration `mapstructure:"poll_interval"     validate:"required"`
	MaxAttempts      int           `mapstructure:"max_attempts"      validate:"required,gte=1"`
	RetryBase        time.Duration `mapstructure:"retry_base"        validate:"required"`
	RetryMax         time.Duration `mapstructure:"retry_max"         validate:"required"`
	LockDuration     time.Duration `mapstructure:"lock_duration"     validate:"required"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"    validate:"required"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval" validate:"required"`
	RetentionKeep    int           `mapstructure:"retention_keep"    validate:"required,gte=1"`
	ReaperSchedule   string        `mapstructure:"reaper_schedule"   validate:"required"`
}

// BackendConfig contains external generation command settings.
type BackendConfig struct {
	Command     string        `mapstructure:"command"      validate:"required"`
	Args        []string      `mapstructure:"args"`
	Timeout     time.Duration `mapstructure:"timeout"      validate:"required"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"required,gte=1"`
	RetryBase   time.Duration `mapstructure:"retry_base"   validate:"required"`
	RetryMax    time.Duration `mapstructure:"retry_max"    validate:"required"`
}

// WebhookConfig contains delivery settings.
type WebhookConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"      validate:"required"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"required,gte=1"`
	RetryBase   time.Duration `mapstructure:"retry_base"   validate:"required"`
}
