package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/forcedphot/internal/config"
	"github.com/3leaps/forcedphot/internal/metrics"
	"github.com/3leaps/forcedphot/internal/observability"
	"github.com/3leaps/forcedphot/pkg/atlas"
	"github.com/3leaps/forcedphot/pkg/output"
	"github.com/3leaps/forcedphot/pkg/photcache"
	"github.com/3leaps/forcedphot/pkg/photometry"
)

// session is the wired pipeline for one command invocation.
type session struct {
	cfg       *config.Config
	fetcher   *atlas.Fetcher
	cache     *photcache.Cache
	collector *metrics.Collector
	logger    *zap.Logger
}

// newSession builds the cache, client and fetcher described by cfg. The
// cache is nil when caching is disabled or its backend cannot be opened.
func newSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) *session {
	s := &session{
		cfg:       cfg,
		collector: metrics.NewCollector(),
		logger:    logger,
	}

	if cfg.Cache.Enabled {
		cache, err := openCache(ctx, cfg, logger)
		if err != nil {
			logger.Warn("Cache unavailable, fetching without it",
				zap.String("backend", cfg.Cache.Backend),
				zap.Error(err))
		} else {
			s.cache = cache
		}
	}

	client := atlas.NewClient(cfg.ClientConfig(), atlas.Options{
		Logger:  logger,
		Metrics: s.collector,
	})
	s.fetcher = atlas.NewFetcher(client, atlas.FetcherOptions{
		Cache:   s.cache,
		Parse:   cfg.ParseOptions(),
		Logger:  logger,
		Metrics: s.collector,
	})
	return s
}

func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*photcache.Cache, error) {
	store, err := photcache.OpenStore(ctx, cfg.BackendConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", cfg.Cache.Backend, err)
	}
	logger.Debug("Cache opened",
		zap.String("backend", cfg.Cache.Backend),
		zap.Duration("ttl", cfg.Cache.TTL))
	return photcache.New(store, photcache.Options{TTL: cfg.Cache.TTL, Logger: logger}), nil
}

// credentials returns the configured account or an invalid-argument error.
func (s *session) credentials() (photometry.Credentials, error) {
	creds := s.cfg.ServiceCredentials()
	if creds.Empty() {
		return creds, exitError(foundry.ExitInvalidArgument, "Missing credentials",
			errors.New("set FORCEDPHOT_ATLAS_USERNAME and FORCEDPHOT_ATLAS_PASSWORD, use --env-file, or set credentials in the config file"))
	}
	return creds, nil
}

// Close flushes metrics and closes the cache.
func (s *session) Close() {
	if path := strings.TrimSpace(s.cfg.Metrics.Textfile); path != "" {
		if err := s.collector.WriteTextfile(path); err != nil {
			s.logger.Warn("Failed to write metrics", zap.String("path", path), zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close cache", zap.Error(err))
		}
	}
}

// createWriter opens the JSONL destination: stdout for "" or "-", otherwise
// a file (an optional file: prefix is stripped).
func createWriter(dest string) (*output.JSONLWriter, func(), error) {
	if dest == "" || dest == "-" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, "", output.DefaultSource)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, "", output.DefaultSource)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}

// writeResult emits one photometry record per detection followed by the
// fetch summary.
func writeResult(ctx context.Context, w output.Writer, target string, res *atlas.Result) error {
	fw := w.ForFetch(res.FetchID)
	for _, rec := range res.Records {
		if err := fw.WritePhotometry(ctx, &output.PhotometryRecord{
			Target:           target,
			Fingerprint:      res.Fingerprint,
			PhotometryRecord: rec,
		}); err != nil {
			return err
		}
	}
	return fw.WriteSummary(ctx, summaryFor(target, res))
}

func summaryFor(target string, res *atlas.Result) *output.SummaryRecord {
	sum := &output.SummaryRecord{
		Target:        target,
		Fingerprint:   res.Fingerprint,
		Request:       res.Request,
		Records:       len(res.Records),
		FromCache:     res.FromCache,
		FetchedAt:     res.FetchedAt,
		Duration:      res.Duration,
		DurationHuman: res.Duration.Round(time.Millisecond).String(),
	}
	if res.Stats != nil {
		upper, low, skipped := res.Stats.UpperLimits, res.Stats.LowSignal, res.Stats.Skipped
		sum.UpperLimits = &upper
		sum.LowSignal = &low
		sum.Skipped = &skipped
	}
	return sum
}

// writeFailure emits an error record for a failed fetch.
func writeFailure(ctx context.Context, w output.Writer, target string, err error) error {
	rec := &output.ErrorRecord{
		Code:    atlas.ErrorCode(err),
		Message: err.Error(),
		Target:  target,
	}
	var aerr *atlas.Error
	if errors.As(err, &aerr) {
		rec.StatusCode = aerr.StatusCode
		details := map[string]any{"op": aerr.Op}
		if aerr.Body != "" {
			details["body"] = aerr.Body
		}
		rec.Details = details
	}
	if werr := w.WriteError(ctx, rec); werr != nil {
		observability.CLILogger.Warn("Failed to write error record", zap.Error(werr))
		return werr
	}
	return nil
}
