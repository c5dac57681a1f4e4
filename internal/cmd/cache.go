package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/forcedphot/internal/config"
	"github.com/3leaps/forcedphot/internal/observability"
	"github.com/3leaps/forcedphot/pkg/output"
	"github.com/3leaps/forcedphot/pkg/photcache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the photometry cache",
	Long: `Inspect and prune the photometry cache.

Entries are keyed by the rounded request fingerprint and are fresh for
cache.ttl (default seven days). Stale entries are ignored by fetches but
stay on disk until gc removes them.`,
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached entries as JSONL",
	Long: `List cached entries, newest first, as forcedphot.cache_entry.v1 records.

Example:
  forcedphot cache ls
  forcedphot cache ls --stale
  forcedphot cache ls --cache-backend sqlite`,
	RunE: runCacheLs,
}

var cacheGcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete stale cache entries",
	Long: `Delete cache entries older than cache.ttl.

Example:
  forcedphot cache gc --dry-run
  forcedphot cache gc`,
	RunE: runCacheGc,
}

var (
	cacheLsStale  bool
	cacheLsOutput string
	cacheGcDryRun bool
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheLsCmd)
	cacheCmd.AddCommand(cacheGcCmd)

	cacheLsCmd.Flags().BoolVar(&cacheLsStale, "stale", false, "Only list stale entries")
	cacheLsCmd.Flags().StringVarP(&cacheLsOutput, "output", "o", "", "Output destination (default: stdout)")
	cacheGcCmd.Flags().BoolVar(&cacheGcDryRun, "dry-run", false, "Count stale entries without deleting them")
}

// openCacheForCommand opens the configured cache for the cache subcommands,
// which need a store even when fetch caching is disabled.
func openCacheForCommand(ctx context.Context, cfg *config.Config) (*photcache.Cache, error) {
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	cache, err := openCache(ctx, cfg, observability.CLILogger)
	if err != nil {
		return nil, exitError(ExitConfigError, "Failed to open cache", err)
	}
	return cache, nil
}

func runCacheLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cache, err := openCacheForCommand(ctx, appConfig)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	w, cleanup, err := createWriter(cacheLsOutput)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	n, err := listCache(ctx, cache, w, cacheLsStale)
	if err != nil {
		return exitError(foundry.ExitFailure, "Failed to list cache", err)
	}
	observability.CLILogger.Debug("Listed cache entries",
		zap.String("backend", appConfig.Cache.Backend),
		zap.Int("entries", n))
	return nil
}

// listCache writes one record per entry and returns how many were written.
func listCache(ctx context.Context, cache *photcache.Cache, w output.Writer, staleOnly bool) (int, error) {
	entries, err := cache.Entries(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if staleOnly && e.Fresh {
			continue
		}
		if err := w.WriteCacheEntry(ctx, &output.CacheEntryRecord{
			Fingerprint: e.Fingerprint,
			FetchedAt:   e.FetchedAt,
			Fresh:       e.Fresh,
			Age:         e.Age,
			AgeHuman:    e.Age.Round(time.Second).String(),
			Records:     len(e.Records),
			Request:     e.Request,
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func runCacheGc(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cache, err := openCacheForCommand(ctx, appConfig)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	removed, err := cache.Prune(ctx, cacheGcDryRun)
	if err != nil {
		return exitError(foundry.ExitFailure, "Failed to prune cache", err)
	}

	msg := "Pruned stale cache entries"
	if cacheGcDryRun {
		msg = "Stale cache entries (dry run)"
	}
	observability.CLILogger.Info(msg,
		zap.String("backend", appConfig.Cache.Backend),
		zap.Int("stale", removed),
		zap.Duration("ttl", cache.TTL()))
	return nil
}
