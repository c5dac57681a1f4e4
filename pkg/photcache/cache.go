package photcache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is the freshness horizon for cached photometry.
const DefaultTTL = 7 * 24 * time.Hour

// Options configures a Cache.
type Options struct {
	// TTL is the freshness horizon. Zero means DefaultTTL.
	TTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time

	Logger *zap.Logger
}

// Cache applies the freshness horizon on top of a Store.
//
// Cache never fails a fetch: read errors are reported as misses and write
// errors are logged and dropped.
type Cache struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// New wraps store.
func New(store Store, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache{
		store:  store,
		ttl:    opts.TTL,
		now:    opts.Now,
		logger: opts.Logger,
	}
}

// TTL returns the freshness horizon.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Fresh reports whether an entry fetched at fetchedAt is still servable.
func (c *Cache) Fresh(fetchedAt time.Time) bool {
	return c.now().Sub(fetchedAt) <= c.ttl
}

// Lookup returns the entry for fingerprint if one exists and is fresh.
// Stale entries are left in place; the next Store supersedes them.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (*Entry, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	entry, err := c.store.Load(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("Cache read failed, treating as miss",
				zap.String("fingerprint", fingerprint),
				zap.Error(err))
		}
		return nil, false
	}
	if !c.Fresh(entry.FetchedAt) {
		c.logger.Debug("Cache entry is stale",
			zap.String("fingerprint", fingerprint),
			zap.Time("fetched_at", entry.FetchedAt))
		return nil, false
	}
	return entry, true
}

// Store persists entry on a best-effort basis.
func (c *Cache) Store(ctx context.Context, entry *Entry) {
	if c == nil || c.store == nil || entry == nil {
		return
	}
	if err := c.store.Save(ctx, entry); err != nil {
		c.logger.Warn("Cache write failed",
			zap.String("fingerprint", entry.Fingerprint),
			zap.Error(err))
	}
}

// EntryStatus is a stored entry annotated with its freshness.
type EntryStatus struct {
	Entry
	Fresh bool          `json:"fresh"`
	Age   time.Duration `json:"age_ns"`
}

// Entries lists every stored entry, newest first.
func (c *Cache) Entries(ctx context.Context) ([]EntryStatus, error) {
	entries, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := c.now()
	out := make([]EntryStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryStatus{
			Entry: e,
			Fresh: now.Sub(e.FetchedAt) <= c.ttl,
			Age:   now.Sub(e.FetchedAt),
		})
	}
	return out, nil
}

// Prune deletes stale entries and returns how many were removed. With
// dryRun it only counts them.
func (c *Cache) Prune(ctx context.Context, dryRun bool) (int, error) {
	entries, err := c.store.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if c.Fresh(e.FetchedAt) {
			continue
		}
		if !dryRun {
			if err := c.store.Delete(ctx, e.Fingerprint); err != nil {
				return removed, err
			}
		}
		removed++
	}
	return removed, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}
