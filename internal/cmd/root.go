// Package cmd implements the forcedphot command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/forcedphot/internal/config"
	"github.com/3leaps/forcedphot/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "none",
	BuildDate: "unknown",
}

var (
	appIdentity *config.AppIdentity

	// appConfig is resolved once per invocation in PersistentPreRunE.
	appConfig *config.Config
)

// Persistent flags.
var (
	cfgFile         string
	envFile         string
	verbose         bool
	logLevel        string
	baseURL         string
	cacheBackend    string
	cacheDir        string
	noCache         bool
	metricsTextfile string
)

var rootCmd = &cobra.Command{
	Use:   "forcedphot",
	Short: "Fetch forced photometry for astronomical transients",
	Long: `forcedphot fetches forced-photometry light curves from the ATLAS
forced photometry server.

A fetch authenticates, queues a job for a sky position and MJD window,
polls the job until it finishes, then downloads and parses the result
table. Results are cached for seven days, keyed by the rounded request.

Credentials are read from FORCEDPHOT_ATLAS_USERNAME and
FORCEDPHOT_ATLAS_PASSWORD, a dotenv file (--env-file, default ./.env) or
the credentials section of the config file.

Records are written to stdout as JSONL; logs go to stderr.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	setDefaults()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./.forcedphot.yaml or user config dir)")
	pf.StringVar(&envFile, "env-file", "", "Dotenv file with credentials (default: ./.env when present)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVar(&baseURL, "base-url", "", "Photometry service base URL")
	pf.StringVar(&cacheBackend, "cache-backend", "", "Cache backend (file|sqlite|s3|memory)")
	pf.StringVar(&cacheDir, "cache-dir", "", "Cache directory for the file and sqlite backends")
	pf.BoolVar(&noCache, "no-cache", false, "Bypass the cache for lookups and stores")
	pf.StringVar(&metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file on exit")
}

// setDefaults registers configuration defaults on the global viper instance.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity resolved at startup, or nil before
// the first command runs.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	defer observability.Sync()
	if err == nil {
		return foundry.ExitSuccess
	}

	code := exitCode(err)
	if errors.Is(err, context.Canceled) && code == foundry.ExitFailure {
		code = foundry.ExitSignalInt
	}
	if appConfig == nil {
		// Flag parsing or config failed before the logger was configured.
		fmt.Fprintln(os.Stderr, "Error:", err)
		return code
	}
	observability.CLILogger.Error("Command failed", zap.Int("exit_code", code), zap.Error(err))
	return code
}

func initConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return exitError(foundry.ExitFileNotFound, "Failed to load env file", err)
	}
	config.SetConfigFile(cfgFile)

	cfg, err := config.Load(cmd.Context(), flagOverrides(cmd))
	if err != nil {
		return exitError(ExitConfigError, "Invalid configuration", err)
	}
	appConfig = cfg

	id := config.DefaultIdentity
	appIdentity = &id

	if err := observability.InitCLILoggerWithOptions(id.BinaryName, verbose, cfg.LogOptions()); err != nil {
		return exitError(ExitConfigError, "Invalid logging configuration", err)
	}

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("base_url", cfg.Service.BaseURL),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Duration("max_wait", cfg.Service.MaxWait))
	return nil
}

// flagOverrides turns explicitly set persistent flags into config overrides.
func flagOverrides(cmd *cobra.Command) map[string]any {
	service := map[string]any{}
	cache := map[string]any{}
	logging := map[string]any{}
	metrics := map[string]any{}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		service["base_url"] = baseURL
	}
	if flags.Changed("cache-backend") {
		cache["backend"] = cacheBackend
	}
	if flags.Changed("cache-dir") {
		cache["dir"] = cacheDir
	}
	if flags.Changed("no-cache") {
		cache["enabled"] = !noCache
	}
	if flags.Changed("log-level") {
		logging["level"] = logLevel
	}
	if flags.Changed("metrics-textfile") {
		metrics["textfile"] = metricsTextfile
	}

	overrides := map[string]any{}
	for name, section := range map[string]map[string]any{
		"service": service,
		"cache":   cache,
		"logging": logging,
		"metrics": metrics,
	} {
		if len(section) > 0 {
			overrides[name] = section
		}
	}
	return overrides
}
