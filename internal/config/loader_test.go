package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "https://fallingstar-data.com/forcedphot", cfg.Service.BaseURL)
		assert.Equal(t, 30*time.Second, cfg.Service.AuthTimeout)
		assert.Equal(t, 5*time.Second, cfg.Service.QueuedInterval)
		assert.Equal(t, 3*time.Second, cfg.Service.StartedInterval)
		assert.Equal(t, 600*time.Second, cfg.Service.MaxWait)
		assert.Equal(t, 5, cfg.Service.MaxQueueAttempts)
		assert.Equal(t, 10*time.Second, cfg.Service.RateLimitWait)
		assert.Zero(t, cfg.Service.RateLimit)

		assert.True(t, cfg.Cache.Enabled)
		assert.Equal(t, "file", cfg.Cache.Backend)
		assert.NotEmpty(t, cfg.Cache.Dir)
		assert.Equal(t, 7*24*time.Hour, cfg.Cache.TTL)
		assert.Equal(t, "forcedphot/cache/", cfg.Cache.S3.Prefix)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)

		assert.Equal(t, 2, cfg.Batch.Concurrency)
		assert.Equal(t, 3.0, cfg.Parse.MinSNR)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"cache": map[string]any{
				"backend": "memory",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "memory", cfg.Cache.Backend)
		assert.Equal(t, "debug", cfg.Logging.Level)

		assert.Equal(t, "structured", cfg.Logging.Profile)
		assert.Equal(t, 5, cfg.Service.MaxQueueAttempts)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("FORCEDPHOT_CACHE_BACKEND", "sqlite")
		t.Setenv("FORCEDPHOT_LOG_LEVEL", "warn")
		t.Setenv("FORCEDPHOT_CACHE_ENABLED", "false")
		t.Setenv("FORCEDPHOT_ATLAS_USERNAME", "alice")
		t.Setenv("FORCEDPHOT_ATLAS_PASSWORD", "s3cret")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "sqlite", cfg.Cache.Backend)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Cache.Enabled)

		creds := cfg.ServiceCredentials()
		assert.Equal(t, "alice", creds.Username)
		assert.Equal(t, "s3cret", creds.Password)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		t.Setenv("FORCEDPHOT_BATCH_CONCURRENCY", "4")

		overrides := map[string]any{
			"batch": map[string]any{
				"concurrency": 8,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Batch.Concurrency)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "forcedphot.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
service:
  max_wait: 15m
  rate_limit: 0.5
cache:
  backend: s3
  s3:
    bucket: shared-photometry
    region: us-east-2
logging:
  level: error
`), 0o644))

		SetConfigFile(path)
		defer SetConfigFile("")

		t.Setenv("FORCEDPHOT_LOG_LEVEL", "debug")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 15*time.Minute, cfg.Service.MaxWait)
		assert.Equal(t, 0.5, cfg.Service.RateLimit)
		assert.Equal(t, "s3", cfg.Cache.Backend)
		assert.Equal(t, "shared-photometry", cfg.Cache.S3.Bucket)
		// env beats file
		assert.Equal(t, "debug", cfg.Logging.Level)

		backend := cfg.BackendConfig()
		assert.Equal(t, "shared-photometry", backend.S3.Bucket)
		assert.Equal(t, "us-east-2", backend.S3.Region)
	})

	t.Run("MissingConfigFile", func(t *testing.T) {
		SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
		defer SetConfigFile("")

		_, err := Load(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})
}

func TestLoad_Invalid(t *testing.T) {
	ctx := context.Background()
	defer func() { _, _ = Load(ctx) }()

	tests := []struct {
		name      string
		overrides map[string]any
		wantErr   string
	}{
		{
			name:      "unknown backend",
			overrides: map[string]any{"cache": map[string]any{"backend": "redis"}},
			wantErr:   "Backend",
		},
		{
			name:      "s3 without bucket",
			overrides: map[string]any{"cache": map[string]any{"backend": "s3"}},
			wantErr:   "cache.s3.bucket",
		},
		{
			name:      "bad log level",
			overrides: map[string]any{"logging": map[string]any{"level": "chatty"}},
			wantErr:   "Level",
		},
		{
			name:      "zero concurrency",
			overrides: map[string]any{"batch": map[string]any{"concurrency": 0}},
			wantErr:   "Concurrency",
		},
		{
			name:      "negative rate limit",
			overrides: map[string]any{"service": map[string]any{"rate_limit": -1.0}},
			wantErr:   "RateLimit",
		},
		{
			name:      "bad base url",
			overrides: map[string]any{"service": map[string]any{"base_url": "not a url"}},
			wantErr:   "BaseURL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(ctx, tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetConfig(t *testing.T) {
	ctx := context.Background()

	cfg, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	t.Run("GetConfigReturnsLoadedConfig", func(t *testing.T) {
		retrieved := GetConfig()
		assert.NotNil(t, retrieved)
		assert.Equal(t, cfg.Cache.Backend, retrieved.Cache.Backend)
		assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
	})
}

func TestEnvSpecs(t *testing.T) {
	ctx := context.Background()
	_, err := Load(ctx)
	require.NoError(t, err)

	specs := getEnvSpecs()
	assert.NotEmpty(t, specs)

	envVarNames := make(map[string]bool)
	for _, spec := range specs {
		envVarNames[spec.Name] = true
	}

	assert.True(t, envVarNames["FORCEDPHOT_LOG_LEVEL"], "LOG_LEVEL env var must be mapped")
	assert.True(t, envVarNames["FORCEDPHOT_ATLAS_USERNAME"], "ATLAS_USERNAME env var must be mapped")
	assert.True(t, envVarNames["FORCEDPHOT_ATLAS_PASSWORD"], "ATLAS_PASSWORD env var must be mapped")
	assert.True(t, envVarNames["FORCEDPHOT_CACHE_DIR"], "CACHE_DIR env var must be mapped")
	assert.True(t, envVarNames["FORCEDPHOT_MAX_WAIT"], "MAX_WAIT env var must be mapped")
}

func TestDurationParsing(t *testing.T) {
	ctx := context.Background()

	t.Run("DurationFromEnv", func(t *testing.T) {
		t.Setenv("FORCEDPHOT_MAX_WAIT", "45s")
		t.Setenv("FORCEDPHOT_CACHE_TTL", "72h")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 45*time.Second, cfg.Service.MaxWait)
		assert.Equal(t, 72*time.Hour, cfg.Cache.TTL)
		assert.Equal(t, 45*time.Second, cfg.ClientConfig().MaxWait)
	})

	t.Run("DurationOverride", func(t *testing.T) {
		cfg, err := Load(ctx, map[string]any{
			"service": map[string]any{"request_timeout": 90 * time.Second},
		})
		require.NoError(t, err)
		assert.Equal(t, 90*time.Second, cfg.Service.RequestTimeout)
	})
}

func TestConfigReload(t *testing.T) {
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	initial := cfg1.Service.MaxQueueAttempts

	cfg2, err := Load(ctx, map[string]any{
		"service": map[string]any{"max_queue_attempts": initial + 2},
	})
	require.NoError(t, err)
	assert.Equal(t, initial+2, cfg2.Service.MaxQueueAttempts)

	current := GetConfig()
	assert.Equal(t, cfg2.Service.MaxQueueAttempts, current.Service.MaxQueueAttempts)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atlas.env")
	require.NoError(t, os.WriteFile(path, []byte("FORCEDPHOT_ATLAS_USERNAME=bob\nFORCEDPHOT_ATLAS_PASSWORD=hunter2\n"), 0o600))

	// Registers cleanup so the variables godotenv sets do not leak.
	t.Setenv("FORCEDPHOT_ATLAS_USERNAME", "")
	t.Setenv("FORCEDPHOT_ATLAS_PASSWORD", "")
	require.NoError(t, os.Unsetenv("FORCEDPHOT_ATLAS_USERNAME"))
	require.NoError(t, os.Unsetenv("FORCEDPHOT_ATLAS_PASSWORD"))

	require.NoError(t, LoadEnvFile(path))

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.Credentials.Username)
	assert.Equal(t, "hunter2", cfg.Credentials.Password)

	assert.Error(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
}

func TestLoadEnvFile_ExistingWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atlas.env")
	require.NoError(t, os.WriteFile(path, []byte("FORCEDPHOT_ATLAS_USERNAME=from-file\n"), 0o600))

	t.Setenv("FORCEDPHOT_ATLAS_USERNAME", "from-env")
	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-env", os.Getenv("FORCEDPHOT_ATLAS_USERNAME"))
}

// resetAppIdentity resets package state for isolated tests.
// Must only be used in tests.
func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestGetUserConfigPathsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() {
		_, _ = Load(context.Background())
	}()

	paths := getUserConfigPaths()
	assert.Empty(t, paths)
}

func TestGetEnvSpecsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() {
		_, _ = Load(context.Background())
	}()

	specs := getEnvSpecs()
	assert.Empty(t, specs)
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	for _, spec := range specs {
		assert.True(t, len(spec.Name) > 0, "env var name should not be empty")
		assert.Contains(t, spec.Name, "FORCEDPHOT_", "all specs should have FORCEDPHOT_ prefix")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
	}
}

func TestFlatten(t *testing.T) {
	got := flatten("", map[string]any{
		"cache": map[string]any{
			"backend": "s3",
			"s3":      map[string]any{"bucket": "b"},
		},
		"service": map[string]any{"max_wait": 2 * time.Minute},
	})
	assert.Equal(t, map[string]any{
		"cache.backend":    "s3",
		"cache.s3.bucket":  "b",
		"service.max_wait": "2m0s",
	}, got)
}
