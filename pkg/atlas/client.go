// Package atlas is a client for the ATLAS forced photometry server.
//
// The service is asynchronous: a caller authenticates, queues a job for a
// sky position, polls the job's task URL until it finishes, then downloads a
// whitespace-delimited result table. Client implements each stage; Fetcher
// chains them behind a photcache.Cache.
package atlas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public ATLAS forced photometry server.
const DefaultBaseURL = "https://fallingstar-data.com/forcedphot"

// maxResponseBytes caps any single response body.
const maxResponseBytes = 64 << 20

// Config holds service endpoints, timeouts and the poll schedule.
type Config struct {
	BaseURL string

	AuthTimeout     time.Duration
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration

	QueuedInterval  time.Duration
	StartedInterval time.Duration
	RetryInterval   time.Duration
	MaxWait         time.Duration

	MaxQueueAttempts     int
	DefaultRateLimitWait time.Duration

	// RateLimit paces outgoing requests in requests per second.
	// Zero disables pacing.
	RateLimit float64

	UserAgent string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:              DefaultBaseURL,
		AuthTimeout:          30 * time.Second,
		RequestTimeout:       30 * time.Second,
		DownloadTimeout:      60 * time.Second,
		QueuedInterval:       5 * time.Second,
		StartedInterval:      3 * time.Second,
		RetryInterval:        5 * time.Second,
		MaxWait:              600 * time.Second,
		MaxQueueAttempts:     5,
		DefaultRateLimitWait: DefaultRateLimitWait,
		UserAgent:            "forcedphot",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = d.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = d.DownloadTimeout
	}
	if c.QueuedInterval <= 0 {
		c.QueuedInterval = d.QueuedInterval
	}
	if c.StartedInterval <= 0 {
		c.StartedInterval = d.StartedInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = d.MaxWait
	}
	if c.MaxQueueAttempts <= 0 {
		c.MaxQueueAttempts = d.MaxQueueAttempts
	}
	if c.DefaultRateLimitWait <= 0 {
		c.DefaultRateLimitWait = d.DefaultRateLimitWait
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	return c
}

// Metrics receives pipeline events. internal/metrics provides the
// Prometheus implementation.
type Metrics interface {
	CacheHit()
	CacheMiss()
	RateLimitWait(d time.Duration)
	FetchFinished(code string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) CacheHit()                           {}
func (nopMetrics) CacheMiss()                          {}
func (nopMetrics) RateLimitWait(time.Duration)         {}
func (nopMetrics) FetchFinished(string, time.Duration) {}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options carries the collaborators a Client uses. Zero values get
// production defaults.
type Options struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    Metrics
	Sleep      SleepFunc
	Now        func() time.Time
}

// Client talks to one ATLAS forced photometry server.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  *zap.Logger
	metrics Metrics
	sleep   SleepFunc
	now     func() time.Time
	limiter *rate.Limiter
}

// NewClient builds a Client.
func NewClient(cfg Config, opts Options) *Client {
	cfg = cfg.withDefaults()
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		cfg:     cfg,
		http:    opts.HTTPClient,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		sleep:   opts.Sleep,
		now:     opts.Now,
		limiter: limiter,
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// response is a fully read upstream reply.
type response struct {
	status int
	body   []byte
}

// do sends one request under its own timeout and reads the whole body.
func (c *Client) do(ctx context.Context, method, rawURL, token string, form url.Values, timeout time.Duration) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &response{status: resp.StatusCode, body: b}, nil
}

// isTimeout reports whether err is a request deadline rather than a caller
// cancellation.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// transportFailure converts a failed round trip into a stage error.
func transportFailure(ctx context.Context, op string, kind error, err error) *Error {
	if ctx.Err() != nil {
		return newError(op, kind, "canceled").withCause(ctx.Err())
	}
	if isTimeout(err) {
		return newError(op, kind, "request timed out").withCause(err)
	}
	return newError(op, kind, "request error").withCause(err)
}
