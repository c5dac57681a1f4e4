package atlas

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/forcedphot/pkg/photcache"
	"github.com/3leaps/forcedphot/pkg/photometry"
)

// Result is the outcome of one fetch.
type Result struct {
	// FetchID correlates log lines and output records for this fetch.
	FetchID string

	Fingerprint string
	Records     []photometry.PhotometryRecord
	FetchedAt   time.Time
	Request     photometry.FetchRequest

	// FromCache reports a cache hit. Stats is nil for cache hits.
	FromCache bool
	Stats     *ParseStats

	Duration time.Duration
}

// ParseStats summarises rows dropped while decoding the result table.
type ParseStats struct {
	UpperLimits int `json:"upper_limits"`
	LowSignal   int `json:"low_signal"`
	Skipped     int `json:"skipped"`
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// Cache is consulted before and updated after each fetch. Nil disables
	// caching.
	Cache *photcache.Cache

	Parse photometry.ParseOptions

	Logger  *zap.Logger
	Metrics Metrics
	Now     func() time.Time

	// NewID overrides fetch id generation, for tests.
	NewID func() string
}

// Fetcher runs the cache, authenticate, submit, poll, download and parse
// pipeline for one request at a time. A Fetcher is safe for concurrent use;
// concurrent fetches share nothing but the cache.
type Fetcher struct {
	client  *Client
	cache   *photcache.Cache
	parse   photometry.ParseOptions
	logger  *zap.Logger
	metrics Metrics
	now     func() time.Time
	newID   func() string
}

// NewFetcher builds a Fetcher around client.
func NewFetcher(client *Client, opts FetcherOptions) *Fetcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	return &Fetcher{
		client:  client,
		cache:   opts.Cache,
		parse:   opts.Parse,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		newID:   opts.NewID,
	}
}

// Fetch returns photometry for req, from the cache when a fresh entry exists.
//
// Cancelling ctx stops the local pipeline; a job already submitted keeps
// running on the service.
func (f *Fetcher) Fetch(ctx context.Context, creds photometry.Credentials, req photometry.FetchRequest) (*Result, error) {
	started := f.now()
	fetchID := f.newID()
	log := f.logger.With(zap.String("fetch_id", fetchID))

	res, err := f.fetch(ctx, log, fetchID, creds, req)

	elapsed := f.now().Sub(started)
	f.metrics.FetchFinished(ErrorCode(err), elapsed)
	if err != nil {
		log.Warn("Fetch failed",
			zap.String("code", ErrorCode(err)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}
	res.Duration = elapsed
	log.Info("Fetch complete",
		zap.Int("records", len(res.Records)),
		zap.Bool("from_cache", res.FromCache),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

func (f *Fetcher) fetch(ctx context.Context, log *zap.Logger, fetchID string, creds photometry.Credentials, req photometry.FetchRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fp := photometry.Fingerprint(req)
	log = log.With(zap.String("fingerprint", fp))

	if f.cache != nil {
		if entry, ok := f.cache.Lookup(ctx, fp); ok {
			f.metrics.CacheHit()
			log.Info("Serving photometry from cache", zap.Time("fetched_at", entry.FetchedAt))
			return &Result{
				FetchID:     fetchID,
				Fingerprint: fp,
				Records:     entry.Records,
				FetchedAt:   entry.FetchedAt,
				Request:     entry.Request,
				FromCache:   true,
			}, nil
		}
		f.metrics.CacheMiss()
	}

	log.Info("Fetching photometry",
		zap.Float64("ra", req.RA),
		zap.Float64("dec", req.Dec),
		zap.Float64("mjd_min", req.Window.Min))

	token, err := f.client.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	job, err := f.client.Submit(ctx, token, req)
	if err != nil {
		return nil, err
	}
	handle, err := f.client.AwaitCompletion(ctx, token, job)
	if err != nil {
		return nil, err
	}
	parsed, err := f.client.DownloadAndParse(ctx, token, handle, f.parse)
	if err != nil {
		return nil, err
	}

	records := parsed.Records
	if records == nil {
		records = []photometry.PhotometryRecord{}
	}
	fetchedAt := f.now().UTC()

	if f.cache != nil {
		f.cache.Store(ctx, &photcache.Entry{
			Fingerprint: fp,
			Records:     records,
			FetchedAt:   fetchedAt,
			Request:     req,
		})
	}

	return &Result{
		FetchID:     fetchID,
		Fingerprint: fp,
		Records:     records,
		FetchedAt:   fetchedAt,
		Request:     req,
		Stats: &ParseStats{
			UpperLimits: parsed.UpperLimits,
			LowSignal:   parsed.LowSignal,
			Skipped:     parsed.Skipped,
		},
	}, nil
}

// String is used in log fields and summaries.
func (r *Result) String() string {
	src := "service"
	if r.FromCache {
		src = "cache"
	}
	return fmt.Sprintf("%d records for %s from %s", len(r.Records), r.Fingerprint, src)
}
