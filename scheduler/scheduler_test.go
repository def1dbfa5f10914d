package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"

	"github.com/aluiziolira/go-build-finder/catalog"
	"github.com/aluiziolira/go-build-finder/metrics"
	"github.com/aluiziolira/go-build-finder/models"
	"github.com/aluiziolira/go-build-finder/scraper"
	"github.com/aluiziolira/go-build-finder/session"
)

type fakeAdapter struct {
	name    models.Source
	items   int
	err     error
	delay   time.Duration
	onFetch func()

	calls atomic.Int64
}

func (f *fakeAdapter) Name() models.Source { return f.name }

func (f *fakeAdapter) Fetch(ctx context.Context, category models.Category, s session.Session) ([]models.CatalogItem, error) {
	if category != models.CategoryGPU {
		return nil, nil
	}
	f.calls.Add(1)
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.CatalogItem, f.items)
	for i := range out {
		out[i] = models.CatalogItem{
			Title:    fmt.Sprintf("%s gpu %d", f.name, i),
			Price:    10000 + i,
			URL:      fmt.Sprintf("https://%s.test/gpu/%d", f.name, i),
			Source:   f.name,
			Category: models.CategoryGPU,
		}
	}
	return out, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func noSessions() *session.Manager {
	return session.NewManager(nil, func(ctx context.Context, opts session.Options) (session.Session, error) {
		return nil, errors.New("fake adapters never fetch")
	})
}

func seed(store *catalog.Store, n int, at time.Time) {
	items := make([]models.CatalogItem, n)
	for i := range items {
		items[i] = models.CatalogItem{Title: "old", Price: 1, URL: fmt.Sprintf("https://old/%d", i), Source: "old", Category: models.CategoryCPU}
	}
	store.Commit(items, nil, at)
}

func newTestScheduler(store *catalog.Store, adapters []scraper.Adapter, clk *clock, sleeper *sleepRecorder, opts ...Option) *Scheduler {
	base := []Option{
		WithClock(clk.Now),
		WithSleep(sleeper.Sleep),
		WithCategories([]models.Category{models.CategoryCPU, models.CategoryGPU}),
	}
	return New(store, noSessions(), adapters, append(base, opts...)...)
}

func TestNeedsUpdate(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	store := catalog.NewStore()
	s := newTestScheduler(store, nil, clk, &sleepRecorder{})

	if !s.NeedsUpdate() {
		t.Fatalf("never refreshed catalog must be stale")
	}
	store.Touch(clk.Now())
	if s.NeedsUpdate() {
		t.Fatalf("just refreshed catalog must be fresh")
	}
	clk.Advance(time.Hour - time.Second)
	if s.NeedsUpdate() {
		t.Fatalf("catalog younger than the interval must be fresh")
	}
	clk.Advance(time.Second)
	if !s.NeedsUpdate() {
		t.Fatalf("catalog at the interval must be stale")
	}
}

func TestUpdateAllAdaptersFailRetainsCatalog(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	store := catalog.NewStore()
	seed(store, 3, clk.Now())
	before := store.Snapshot()

	clk.Advance(2 * time.Hour)
	boom := &scraper.FetchError{Kind: scraper.KindTimeout, Err: errors.New("listing never loaded")}
	adapters := []scraper.Adapter{
		&fakeAdapter{name: "dns", err: boom},
		&fakeAdapter{name: "citilink", err: boom},
		&fakeAdapter{name: "mvideo", err: boom},
	}
	path := filepath.Join(t.TempDir(), "catalog.json")
	s := newTestScheduler(store, adapters, clk, &sleepRecorder{}, WithSnapshotPath(path))

	result, err := s.Update(context.Background())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.Committed {
		t.Fatalf("failed scrape must not be committed")
	}
	if result.ErrorCount != 3 || result.ErrorsByType["timeout"] != 3 || len(result.FailedAdapters) != 3 {
		t.Fatalf("unexpected result %+v", result)
	}

	after := store.Snapshot()
	if after.Len() != 3 {
		t.Fatalf("store len = %d, want 3", after.Len())
	}
	for i := range before.Items {
		if after.Items[i] != before.Items[i] {
			t.Fatalf("item %d changed: %+v", i, after.Items[i])
		}
	}
	if !store.LastUpdate().Equal(clk.Now()) {
		t.Fatalf("last update = %v, want %v", store.LastUpdate(), clk.Now())
	}

	reloaded := catalog.NewStore()
	if err := reloaded.Load(path); err != nil {
		t.Fatalf("snapshot not saved: %v", err)
	}
	if reloaded.Len() != 3 || !reloaded.LastUpdate().Equal(clk.Now()) {
		t.Fatalf("saved snapshot len=%d last=%v", reloaded.Len(), reloaded.LastUpdate())
	}
}

func TestUpdateCommitPolicy(t *testing.T) {
	tests := []struct {
		name          string
		previous      int
		perAdapter    []int
		wantCommitted bool
		wantLen       int
	}{
		{name: "larger set replaces", previous: 3, perAdapter: []int{2, 2}, wantCommitted: true, wantLen: 4},
		{name: "equal set replaces", previous: 4, perAdapter: []int{2, 2}, wantCommitted: true, wantLen: 4},
		{name: "smaller set retained", previous: 5, perAdapter: []int{2, 2}, wantCommitted: false, wantLen: 5},
		{name: "cold start", previous: 0, perAdapter: []int{1, 0}, wantCommitted: true, wantLen: 1},
	}

	for _, tt := range tests {
		for _, parallel := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s parallel=%v", tt.name, parallel), func(t *testing.T) {
				clk := &clock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
				store := catalog.NewStore()
				if tt.previous > 0 {
					seed(store, tt.previous, clk.Now())
				}

				var adapters []scraper.Adapter
				for i, n := range tt.perAdapter {
					adapters = append(adapters, &fakeAdapter{name: models.Source(fmt.Sprintf("shop%d", i)), items: n})
				}
				s := newTestScheduler(store, adapters, clk, &sleepRecorder{}, WithParallel(parallel))

				result, err := s.Update(context.Background())
				if err != nil {
					t.Fatalf("update: %v", err)
				}
				if result.Committed != tt.wantCommitted {
					t.Fatalf("committed = %v, want %v", result.Committed, tt.wantCommitted)
				}
				if store.Len() != tt.wantLen {
					t.Fatalf("store len = %d, want %d", store.Len(), tt.wantLen)
				}
				if result.PreviousCount != tt.previous {
					t.Fatalf("previous = %d, want %d", result.PreviousCount, tt.previous)
				}
			})
		}
	}
}

func TestSequentialUpdateSleepsBetweenAdapters(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	sleeper := &sleepRecorder{}
	adapters := []scraper.Adapter{
		&fakeAdapter{name: "dns", items: 1},
		&fakeAdapter{name: "citilink", items: 1},
		&fakeAdapter{name: "mvideo", items: 1},
	}
	s := newTestScheduler(catalog.NewStore(), adapters, clk, sleeper)

	result, err := s.Update(context.Background())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(sleeper.delays) != 2 {
		t.Fatalf("courtesy delays = %d, want 2", len(sleeper.delays))
	}
	for _, d := range sleeper.delays {
		if d < 2*time.Second || d > 4*time.Second {
			t.Fatalf("courtesy delay %v outside [2s, 4s]", d)
		}
	}
	if result.ItemsBySource["citilink"] != 1 || result.ScrapedCount != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestUpdateCancellationKeepsCollectedItems(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	store := catalog.NewStore()
	seed(store, 1, clk.Now())

	ctx, cancel := context.WithCancel(context.Background())
	first := &fakeAdapter{name: "dns", items: 2, onFetch: cancel}
	second := &fakeAdapter{name: "citilink", items: 5}
	s := newTestScheduler(store, []scraper.Adapter{first, second}, clk, &sleepRecorder{})

	result, err := s.Update(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if second.calls.Load() != 0 {
		t.Fatalf("remaining adapters must not run after cancellation")
	}
	if !result.Committed || store.Len() != 2 {
		t.Fatalf("collected items must be committed: committed=%v len=%d", result.Committed, store.Len())
	}
}

func TestEnsureFreshSingleFlight(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	adapter := &fakeAdapter{name: "dns", items: 2, delay: 20 * time.Millisecond}
	store := catalog.NewStore()
	s := newTestScheduler(store, []scraper.Adapter{adapter}, clk, &sleepRecorder{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.EnsureFresh(context.Background()); err != nil {
				t.Errorf("ensure fresh: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := adapter.calls.Load(); got != 1 {
		t.Fatalf("refreshes = %d, want 1", got)
	}
	if store.Len() != 2 {
		t.Fatalf("store len = %d", store.Len())
	}

	if err := s.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if got := adapter.calls.Load(); got != 1 {
		t.Fatalf("fresh catalog must not refresh again, calls = %d", got)
	}

	clk.Advance(time.Hour)
	if err := s.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if got := adapter.calls.Load(); got != 2 {
		t.Fatalf("stale catalog must refresh, calls = %d", got)
	}
}

type countingAdapter struct {
	fakeAdapter
	retries int64
}

func (c *countingAdapter) Retries() int64 { return atomic.LoadInt64(&c.retries) }

func TestUpdateCountsAdapterRetries(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	a := &countingAdapter{fakeAdapter: fakeAdapter{name: "dns", items: 1}}
	a.onFetch = func() { atomic.AddInt64(&a.retries, 2) }

	s := newTestScheduler(catalog.NewStore(), []scraper.Adapter{a}, clk, &sleepRecorder{})
	result, err := s.Update(context.Background())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", result.RetryCount)
	}
}

func TestEnsureFreshInterruptedBeforeAnyAdapterLeavesCatalogStale(t *testing.T) {
	tests := []struct {
		name     string
		previous int
	}{
		{name: "warm store", previous: 3},
		{name: "cold store", previous: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &clock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
			store := catalog.NewStore()
			if tt.previous > 0 {
				seed(store, tt.previous, clk.Now())
			}
			lastUpdate := store.LastUpdate()
			clk.Advance(2 * time.Hour)

			adapter := &fakeAdapter{name: "dns", items: 2}
			s := newTestScheduler(store, []scraper.Adapter{adapter}, clk, &sleepRecorder{})

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if err := s.EnsureFresh(ctx); !errors.Is(err, context.Canceled) {
				t.Fatalf("expected cancellation error, got %v", err)
			}
			if !store.LastUpdate().Equal(lastUpdate) {
				t.Fatalf("last update moved to %v, want %v", store.LastUpdate(), lastUpdate)
			}
			if store.Len() != tt.previous {
				t.Fatalf("store len = %d, want %d", store.Len(), tt.previous)
			}
			if !s.NeedsUpdate() {
				t.Fatalf("catalog must stay stale after an interrupted refresh")
			}

			if err := s.EnsureFresh(context.Background()); err != nil {
				t.Fatalf("ensure fresh: %v", err)
			}
			if adapter.calls.Load() != 1 {
				t.Fatalf("next caller must refresh, calls = %d", adapter.calls.Load())
			}
			if store.Len() < 2 {
				t.Fatalf("store len = %d after refresh", store.Len())
			}
		})
	}
}

func TestRunRefreshesAndStopsWithContext(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	store := catalog.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	adapter := &fakeAdapter{name: "dns", items: 2, onFetch: cancel}
	s := newTestScheduler(store, []scraper.Adapter{adapter}, clk, &sleepRecorder{})

	c := cron.New()
	if _, err := c.AddFunc("@every 30m", func() {}); err != nil {
		t.Fatalf("add job: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, c) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancellation")
	}

	if adapter.calls.Load() != 1 || store.Len() != 2 {
		t.Fatalf("initial refresh: calls=%d len=%d", adapter.calls.Load(), store.Len())
	}
	if got := len(c.Entries()); got != 2 {
		t.Fatalf("cron entries = %d, want the existing job plus the refresh", got)
	}
}

type closeCountingSession struct {
	closed atomic.Int64
}

func (c *closeCountingSession) Fetch(ctx context.Context, req session.Request) (*session.Response, error) {
	return &session.Response{URL: req.URL, StatusCode: 200, Body: []byte("<html></html>")}, nil
}
func (c *closeCountingSession) Proxy() string     { return "" }
func (c *closeCountingSession) UserAgent() string { return "test-agent" }
func (c *closeCountingSession) Close() error {
	c.closed.Add(1)
	return nil
}

// fetchingAdapter opens its session for GPU listings, then fails.
type fetchingAdapter struct {
	err    error
	cancel context.CancelFunc
}

func (f *fetchingAdapter) Name() models.Source { return "dns" }

func (f *fetchingAdapter) Fetch(ctx context.Context, category models.Category, s session.Session) ([]models.CatalogItem, error) {
	if category != models.CategoryGPU {
		return nil, nil
	}
	if _, err := s.Fetch(ctx, session.Request{URL: "https://dns.test/gpu"}); err != nil {
		return nil, err
	}
	if f.cancel != nil {
		f.cancel()
		return nil, ctx.Err()
	}
	return nil, f.err
}

func TestUpdateReleasesSessionsOnEveryPath(t *testing.T) {
	tests := []struct {
		name   string
		cancel bool
	}{
		{name: "adapter error"},
		{name: "cancelled mid fetch", cancel: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &clock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
			m := metrics.New()

			var mu sync.Mutex
			var opened []*closeCountingSession
			factory := func(ctx context.Context, opts session.Options) (session.Session, error) {
				sess := &closeCountingSession{}
				mu.Lock()
				opened = append(opened, sess)
				mu.Unlock()
				return sess, nil
			}
			manager := session.NewManager(nil, factory, session.WithMetrics(m))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			adapter := &fetchingAdapter{err: errors.New("listing markup changed")}
			if tt.cancel {
				adapter.cancel = cancel
			}

			s := New(catalog.NewStore(), manager, []scraper.Adapter{adapter},
				WithClock(clk.Now),
				WithSleep((&sleepRecorder{}).Sleep),
				WithCategories([]models.Category{models.CategoryCPU, models.CategoryGPU}),
			)
			result, _ := s.Update(ctx)
			if result.ErrorCount != 1 {
				t.Fatalf("error count = %d, want 1", result.ErrorCount)
			}

			mu.Lock()
			defer mu.Unlock()
			if len(opened) != 1 {
				t.Fatalf("sessions opened = %d, want 1", len(opened))
			}
			if got := opened[0].closed.Load(); got != 1 {
				t.Fatalf("session closed %d times, want 1", got)
			}
			if got := testutil.ToFloat64(m.SessionsOpen); got != 0 {
				t.Fatalf("open sessions gauge = %v, want 0", got)
			}
		})
	}
}
