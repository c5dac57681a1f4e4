// Package config loads forcedphot settings from defaults, an optional YAML
// file, FORCEDPHOT_* environment variables and runtime overrides, in
// increasing order of precedence.
package config

import (
	"time"

	"github.com/3leaps/forcedphot/internal/observability"
	"github.com/3leaps/forcedphot/pkg/atlas"
	"github.com/3leaps/forcedphot/pkg/photcache"
	"github.com/3leaps/forcedphot/pkg/photometry"
)

// Config is the fully resolved configuration.
type Config struct {
	Service     ServiceConfig     `mapstructure:"service"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Parse       ParseConfig       `mapstructure:"parse"`
}

// ServiceConfig configures the photometry service client.
type ServiceConfig struct {
	BaseURL          string        `mapstructure:"base_url" validate:"required,url"`
	AuthTimeout      time.Duration `mapstructure:"auth_timeout" validate:"gt=0"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	DownloadTimeout  time.Duration `mapstructure:"download_timeout" validate:"gt=0"`
	QueuedInterval   time.Duration `mapstructure:"queued_interval" validate:"gt=0"`
	StartedInterval  time.Duration `mapstructure:"started_interval" validate:"gt=0"`
	RetryInterval    time.Duration `mapstructure:"retry_interval" validate:"gt=0"`
	MaxWait          time.Duration `mapstructure:"max_wait" validate:"gt=0"`
	MaxQueueAttempts int           `mapstructure:"max_queue_attempts" validate:"gte=1"`
	RateLimitWait    time.Duration `mapstructure:"rate_limit_wait" validate:"gt=0"`
	RateLimit        float64       `mapstructure:"rate_limit" validate:"gte=0"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Backend    string        `mapstructure:"backend" validate:"oneof=file sqlite s3 memory"`
	Dir        string        `mapstructure:"dir"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	TTL        time.Duration `mapstructure:"ttl" validate:"gt=0"`
	S3         S3CacheConfig `mapstructure:"s3"`
}

// S3CacheConfig configures the shared S3 cache backend.
type S3CacheConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// CredentialsConfig holds the service account. Normally set from
// FORCEDPHOT_ATLAS_USERNAME and FORCEDPHOT_ATLAS_PASSWORD.
type CredentialsConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Profile    string `mapstructure:"profile" validate:"oneof=structured console"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// MetricsConfig configures Prometheus textfile export.
type MetricsConfig struct {
	// Textfile, when set, receives the metrics in text exposition format
	// when the command exits.
	Textfile string `mapstructure:"textfile"`
}

// BatchConfig configures forcedphot batch.
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"gte=1,lte=16"`
}

// ParseConfig tunes result table decoding.
type ParseConfig struct {
	MinSNR float64 `mapstructure:"min_snr"`
}

// ClientConfig converts the service section for atlas.NewClient.
func (c *Config) ClientConfig() atlas.Config {
	s := c.Service
	return atlas.Config{
		BaseURL:              s.BaseURL,
		AuthTimeout:          s.AuthTimeout,
		RequestTimeout:       s.RequestTimeout,
		DownloadTimeout:      s.DownloadTimeout,
		QueuedInterval:       s.QueuedInterval,
		StartedInterval:      s.StartedInterval,
		RetryInterval:        s.RetryInterval,
		MaxWait:              s.MaxWait,
		MaxQueueAttempts:     s.MaxQueueAttempts,
		DefaultRateLimitWait: s.RateLimitWait,
		RateLimit:            s.RateLimit,
	}
}

// BackendConfig converts the cache section for photcache.OpenStore.
func (c *Config) BackendConfig() photcache.BackendConfig {
	s3 := c.Cache.S3
	return photcache.BackendConfig{
		Backend:    c.Cache.Backend,
		Dir:        c.Cache.Dir,
		SQLitePath: c.Cache.SQLitePath,
		S3: photcache.S3Config{
			Bucket:          s3.Bucket,
			Prefix:          s3.Prefix,
			Region:          s3.Region,
			Endpoint:        s3.Endpoint,
			Profile:         s3.Profile,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			ForcePathStyle:  s3.ForcePathStyle,
		},
	}
}

// ServiceCredentials returns the configured account.
func (c *Config) ServiceCredentials() photometry.Credentials {
	return photometry.Credentials{
		Username: c.Credentials.Username,
		Password: c.Credentials.Password,
	}
}

// ParseOptions converts the parse section.
func (c *Config) ParseOptions() photometry.ParseOptions {
	return photometry.ParseOptions{MinSNR: c.Parse.MinSNR}
}

// LogOptions converts the logging section.
func (c *Config) LogOptions() observability.LogOptions {
	return observability.LogOptions{
		Level:      c.Logging.Level,
		Profile:    c.Logging.Profile,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}
