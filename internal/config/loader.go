package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/3leaps/forcedphot/pkg/atlas"
	"github.com/3leaps/forcedphot/pkg/photcache"
)

// AppIdentity names the application for config discovery and env mapping.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the forcedphot identity.
var DefaultIdentity = AppIdentity{
	BinaryName: "forcedphot",
	EnvPrefix:  "FORCEDPHOT_",
	ConfigName: "config",
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
	configFile  string
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// envSpec binds one environment variable to a config key.
type envSpec struct {
	Name string
	Path string
}

// SetConfigFile sets an explicit YAML config file. Empty restores discovery
// of the user config paths.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables already set win. An empty path loads ./.env when it
// exists and is otherwise a no-op.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load resolves the configuration and makes it available through GetConfig.
//
// Precedence, lowest first: defaults, config file, environment, overrides.
// Override maps are nested by section, e.g. {"cache": {"backend": "memory"}}.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the most recently loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	d := atlas.DefaultConfig()

	v.SetDefault("service.base_url", d.BaseURL)
	v.SetDefault("service.auth_timeout", d.AuthTimeout.String())
	v.SetDefault("service.request_timeout", d.RequestTimeout.String())
	v.SetDefault("service.download_timeout", d.DownloadTimeout.String())
	v.SetDefault("service.queued_interval", d.QueuedInterval.String())
	v.SetDefault("service.started_interval", d.StartedInterval.String())
	v.SetDefault("service.retry_interval", d.RetryInterval.String())
	v.SetDefault("service.max_wait", d.MaxWait.String())
	v.SetDefault("service.max_queue_attempts", d.MaxQueueAttempts)
	v.SetDefault("service.rate_limit_wait", d.DefaultRateLimitWait.String())
	v.SetDefault("service.rate_limit", 0.0)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", photcache.BackendFile)
	v.SetDefault("cache.dir", defaultCacheDir())
	v.SetDefault("cache.sqlite_path", "")
	v.SetDefault("cache.ttl", photcache.DefaultTTL.String())
	v.SetDefault("cache.s3.bucket", "")
	v.SetDefault("cache.s3.prefix", photcache.DefaultS3Prefix)
	v.SetDefault("cache.s3.region", "")
	v.SetDefault("cache.s3.endpoint", "")
	v.SetDefault("cache.s3.profile", "")
	v.SetDefault("cache.s3.access_key_id", "")
	v.SetDefault("cache.s3.secret_access_key", "")
	v.SetDefault("cache.s3.force_path_style", false)

	v.SetDefault("credentials.username", "")
	v.SetDefault("credentials.password", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("batch.concurrency", 2)

	v.SetDefault("parse.min_snr", 3.0)
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case photcache.BackendS3:
			if strings.TrimSpace(c.Cache.S3.Bucket) == "" {
				return errors.New("invalid config: cache.s3.bucket is required for the s3 backend")
			}
		case photcache.BackendFile:
			if strings.TrimSpace(c.Cache.Dir) == "" {
				return errors.New("invalid config: cache.dir is required for the file backend")
			}
		}
	}
	return nil
}

func readConfigFile(v *viper.Viper) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		return nil
	}

	for _, path := range getUserConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// getUserConfigPaths lists candidate config files, most specific first.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}

	var paths []string
	paths = append(paths, filepath.Join(".", "."+appIdentity.BinaryName+".yaml"))
	paths = append(paths, filepath.Join(xdg.ConfigHome, appIdentity.BinaryName, appIdentity.ConfigName+".yaml"))
	for _, dir := range xdg.ConfigDirs {
		paths = append(paths, filepath.Join(dir, appIdentity.BinaryName, appIdentity.ConfigName+".yaml"))
	}
	return paths
}

func getEnvSpecs() []envSpec {
	if appIdentity == nil {
		return []envSpec{}
	}

	p := appIdentity.EnvPrefix
	return []envSpec{
		{Name: p + "BASE_URL", Path: "service.base_url"},
		{Name: p + "AUTH_TIMEOUT", Path: "service.auth_timeout"},
		{Name: p + "REQUEST_TIMEOUT", Path: "service.request_timeout"},
		{Name: p + "DOWNLOAD_TIMEOUT", Path: "service.download_timeout"},
		{Name: p + "MAX_WAIT", Path: "service.max_wait"},
		{Name: p + "MAX_QUEUE_ATTEMPTS", Path: "service.max_queue_attempts"},
		{Name: p + "RATE_LIMIT", Path: "service.rate_limit"},

		{Name: p + "CACHE_ENABLED", Path: "cache.enabled"},
		{Name: p + "CACHE_BACKEND", Path: "cache.backend"},
		{Name: p + "CACHE_DIR", Path: "cache.dir"},
		{Name: p + "CACHE_SQLITE_PATH", Path: "cache.sqlite_path"},
		{Name: p + "CACHE_TTL", Path: "cache.ttl"},
		{Name: p + "CACHE_S3_BUCKET", Path: "cache.s3.bucket"},
		{Name: p + "CACHE_S3_PREFIX", Path: "cache.s3.prefix"},
		{Name: p + "CACHE_S3_REGION", Path: "cache.s3.region"},
		{Name: p + "CACHE_S3_ENDPOINT", Path: "cache.s3.endpoint"},
		{Name: p + "CACHE_S3_PROFILE", Path: "cache.s3.profile"},
		{Name: p + "CACHE_S3_FORCE_PATH_STYLE", Path: "cache.s3.force_path_style"},

		{Name: p + "ATLAS_USERNAME", Path: "credentials.username"},
		{Name: p + "ATLAS_PASSWORD", Path: "credentials.password"},

		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "LOG_FILE", Path: "logging.file"},

		{Name: p + "METRICS_TEXTFILE", Path: "metrics.textfile"},
		{Name: p + "BATCH_CONCURRENCY", Path: "batch.concurrency"},
		{Name: p + "MIN_SNR", Path: "parse.min_snr"},
	}
}

func defaultCacheDir() string {
	return filepath.Join(xdg.CacheHome, "forcedphot")
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch typed := val.(type) {
		case map[string]any:
			for fk, fv := range flatten(key, typed) {
				out[fk] = fv
			}
		case time.Duration:
			out[key] = typed.String()
		default:
			out[key] = val
		}
	}
	return out
}
