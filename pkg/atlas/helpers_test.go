package atlas

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// fakeClock is advanced only by fakeSleeper.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeSleeper records requested sleeps and advances the clock instead of
// blocking.
type fakeSleeper struct {
	mu     sync.Mutex
	clock  *fakeClock
	sleeps []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	s.clock.Advance(d)
	return nil
}

func (s *fakeSleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// handlerTransport serves every request from an http.Handler, whatever the
// host, so tests can use service-shaped absolute URLs.
type handlerTransport struct {
	handler http.Handler
}

func (t handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	t.handler.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

type testEnv struct {
	clock   *fakeClock
	sleeper *fakeSleeper
	client  *Client
}

// newTestClient wires a client against handler with a fake clock and
// sleeper.
func newTestClient(baseURL string, handler http.Handler) *testEnv {
	clock := newFakeClock()
	sleeper := &fakeSleeper{clock: clock}
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	client := NewClient(cfg, Options{
		HTTPClient: &http.Client{Transport: handlerTransport{handler: handler}},
		Sleep:      sleeper.Sleep,
		Now:        clock.Now,
	})
	return &testEnv{clock: clock, sleeper: sleeper, client: client}
}

// recordingMetrics counts pipeline events.
type recordingMetrics struct {
	mu       sync.Mutex
	hits     int
	misses   int
	waits    []time.Duration
	outcomes []string
}

func (m *recordingMetrics) CacheHit() {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *recordingMetrics) CacheMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func (m *recordingMetrics) RateLimitWait(d time.Duration) {
	m.mu.Lock()
	m.waits = append(m.waits, d)
	m.mu.Unlock()
}

func (m *recordingMetrics) FetchFinished(code string, _ time.Duration) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, code)
	m.mu.Unlock()
}
