package cmd

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/forcedphot/internal/config"
	"github.com/3leaps/forcedphot/internal/observability"
	"github.com/3leaps/forcedphot/pkg/atlas"
	"github.com/3leaps/forcedphot/pkg/photcache"
)

var doctorAuth bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on configuration, credentials, the cache backend
and the photometry service, and suggest fixes for common issues.

Examples:
  forcedphot doctor          # Offline checks plus service reachability
  forcedphot doctor --auth   # Also request a token with the configured account`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorAuth, "auth", false, "Authenticate against the service")
}

// doctorCheck is one diagnostic step. It logs its own result.
type doctorCheck struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) (detail string, err error)
}

func doctorChecks(cfg *config.Config) []doctorCheck {
	checks := []doctorCheck{
		{name: "environment", run: checkEnvironment},
		{name: "credentials", run: checkCredentials},
		{name: "cache backend", run: checkCache},
	}
	if cfg.Cache.Backend == photcache.BackendS3 {
		checks = append(checks, doctorCheck{name: "AWS credentials", run: checkAWSCredentials})
	}
	checks = append(checks, doctorCheck{name: "service reachability", run: checkService})
	if doctorAuth {
		checks = append(checks, doctorCheck{name: "service authentication", run: checkAuth})
	}
	return checks
}

func runDoctor(cmd *cobra.Command, args []string) error {
	log := observability.CLILogger
	log.Info("=== forcedphot doctor ===")

	checks := doctorChecks(appConfig)
	failed := 0
	for i, c := range checks {
		detail, err := c.run(cmd.Context(), appConfig)
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		if err != nil {
			log.Error(prefix+" failed", zap.String("check", c.name), zap.Error(err))
			failed++
			continue
		}
		log.Info(prefix+" ok "+detail, zap.String("check", c.name))
	}

	if failed > 0 {
		log.Warn("Some checks failed. Review the output above for details.", zap.Int("failed", failed))
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", fmt.Errorf("%d of %d checks failed", failed, len(checks)))
	}
	log.Info("All checks passed.")
	return nil
}

func checkEnvironment(ctx context.Context, cfg *config.Config) (string, error) {
	return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH), nil
}

func checkCredentials(ctx context.Context, cfg *config.Config) (string, error) {
	creds := cfg.ServiceCredentials()
	if creds.Empty() {
		return "", fmt.Errorf("username or password not set (FORCEDPHOT_ATLAS_USERNAME, FORCEDPHOT_ATLAS_PASSWORD)")
	}
	return "user " + maskSecret(creds.Username), nil
}

func checkCache(ctx context.Context, cfg *config.Config) (string, error) {
	cache, err := openCache(ctx, cfg, zap.NewNop())
	if err != nil {
		return "", err
	}
	defer func() { _ = cache.Close() }()

	entries, err := cache.Entries(ctx)
	if err != nil {
		return "", fmt.Errorf("list %s cache: %w", cfg.Cache.Backend, err)
	}
	fresh := 0
	for _, e := range entries {
		if e.Fresh {
			fresh++
		}
	}
	return fmt.Sprintf("%s, %d entries (%d fresh)", cfg.Cache.Backend, len(entries), fresh), nil
}

func checkAWSCredentials(ctx context.Context, cfg *config.Config) (string, error) {
	s3 := cfg.Cache.S3
	if s3.AccessKeyID != "" {
		return "static key " + maskSecret(s3.AccessKeyID), nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if s3.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(s3.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("load AWS config: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("retrieve AWS credentials: %w", err)
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s via %s", maskSecret(creds.AccessKeyID), source), nil
}

func checkService(ctx context.Context, cfg *config.Config) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Service.BaseURL+"/", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%s returned %s", cfg.Service.BaseURL, resp.Status)
	}
	return fmt.Sprintf("%s (%s)", cfg.Service.BaseURL, resp.Status), nil
}

func checkAuth(ctx context.Context, cfg *config.Config) (string, error) {
	client := atlas.NewClient(cfg.ClientConfig(), atlas.Options{Logger: observability.CLILogger})
	if _, err := client.Authenticate(ctx, cfg.ServiceCredentials()); err != nil {
		return "", err
	}
	return "token issued", nil
}

// maskSecret masks all but the last 4 characters.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
