package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/forcedphot/pkg/atlas"
)

var _ atlas.Metrics = (*Collector)(nil)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	require.NotNil(t, c)
	require.NotNil(t, c.Registry())

	// Separate collectors own separate registries.
	assert.NotPanics(t, func() { NewCollector() })
}

func TestCollector_Cache(t *testing.T) {
	c := NewCollector()
	c.CacheHit()
	c.CacheHit()
	c.CacheMiss()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses))
}

func TestCollector_RateLimitWait(t *testing.T) {
	c := NewCollector()
	c.RateLimitWait(5 * time.Second)
	c.RateLimitWait(10 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.rateLimitWaits))
	assert.Equal(t, 15.0, testutil.ToFloat64(c.rateLimitSecs))
}

func TestCollector_FetchFinished(t *testing.T) {
	c := NewCollector()
	c.FetchFinished("", 2*time.Second)
	c.FetchFinished("", time.Second)
	c.FetchFinished(atlas.CodeTimeout, 10*time.Minute)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.fetches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetches.WithLabelValues("TIMEOUT")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.fetchDuration))
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := NewCollector()
	c.CacheMiss()
	c.FetchFinished("", time.Second)

	path := filepath.Join(t.TempDir(), "forcedphot.prom")
	require.NoError(t, c.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, "forcedphot_cache_misses_total 1")
	assert.Contains(t, out, `forcedphot_fetches_total{outcome="ok"} 1`)
	assert.Contains(t, out, "forcedphot_fetch_duration_seconds_count 1")

	err = c.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}
