package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		assert.Nil(t, GetAppIdentity())
	})

	t.Run("returns identity after set", func(t *testing.T) {
		if appIdentity != nil {
			result := GetAppIdentity()
			assert.NotNil(t, result)
			assert.Equal(t, appIdentity, result)
		}
	})
}

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setDefaults()

	assert.Equal(t, "https://fallingstar-data.com/forcedphot", viper.GetString("service.base_url"))
	assert.Equal(t, "30s", viper.GetString("service.auth_timeout"))
	assert.Equal(t, "5s", viper.GetString("service.queued_interval"))
	assert.Equal(t, "3s", viper.GetString("service.started_interval"))
	assert.Equal(t, "10m0s", viper.GetString("service.max_wait"))
	assert.Equal(t, 5, viper.GetInt("service.max_queue_attempts"))

	assert.True(t, viper.GetBool("cache.enabled"))
	assert.Equal(t, "file", viper.GetString("cache.backend"))
	assert.Equal(t, "168h0m0s", viper.GetString("cache.ttl"))

	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "structured", viper.GetString("logging.profile"))

	assert.Equal(t, 2, viper.GetInt("batch.concurrency"))
	assert.Equal(t, 3.0, viper.GetFloat64("parse.min_snr"))
}

func TestFlagOverrides(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "")
	cmd.Flags().StringVar(&cacheBackend, "cache-backend", "", "")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "")

	assert.Empty(t, flagOverrides(cmd))

	require.NoError(t, cmd.Flags().Set("cache-backend", "sqlite"))
	require.NoError(t, cmd.Flags().Set("no-cache", "true"))
	require.NoError(t, cmd.Flags().Set("base-url", "http://127.0.0.1:9"))
	defer func() {
		cacheBackend, noCache, baseURL = "", false, ""
	}()

	got := flagOverrides(cmd)
	assert.Equal(t, map[string]any{
		"service": map[string]any{"base_url": "http://127.0.0.1:9"},
		"cache":   map[string]any{"backend": "sqlite", "enabled": false},
	}, got)
}
