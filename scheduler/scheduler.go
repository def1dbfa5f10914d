// Package scheduler keeps the catalog fresh by running every source adapter
// and committing the merged result under the grow-or-retain policy.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-build-finder/catalog"
	"github.com/aluiziolira/go-build-finder/metrics"
	"github.com/aluiziolira/go-build-finder/models"
	"github.com/aluiziolira/go-build-finder/pipeline"
	"github.com/aluiziolira/go-build-finder/scraper"
	"github.com/aluiziolira/go-build-finder/session"
)

// Scheduler refreshes a catalog.Store from a set of adapters. Only one
// refresh runs at a time.
type Scheduler struct {
	store    *catalog.Store
	sessions *session.Manager
	adapters []scraper.Adapter

	categories   []models.Category
	interval     time.Duration
	throttleMin  time.Duration
	throttleMax  time.Duration
	parallel     bool
	snapshotPath string
	buildType    func(models.Source) string

	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	rand    *rand.Rand
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets how long a refresh stays fresh.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithThrottle sets the courtesy pause between adapters in sequential mode.
func WithThrottle(lo, hi time.Duration) Option {
	return func(s *Scheduler) {
		s.throttleMin = lo
		s.throttleMax = hi
	}
}

// WithParallel runs adapters concurrently.
func WithParallel(parallel bool) Option {
	return func(s *Scheduler) { s.parallel = parallel }
}

// WithSnapshotPath saves the catalog to path after every refresh.
func WithSnapshotPath(path string) Option {
	return func(s *Scheduler) { s.snapshotPath = path }
}

// WithCategories limits the categories requested from each adapter.
func WithCategories(categories []models.Category) Option {
	return func(s *Scheduler) { s.categories = categories }
}

// WithBuildType labels build listings per source.
func WithBuildType(fn func(models.Source) string) Option {
	return func(s *Scheduler) { s.buildType = fn }
}

// WithSleep replaces the courtesy delay primitive.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

// WithClock sets the clock used for freshness and lastUpdate.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRand sets the source for courtesy delay jitter.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rand = r }
}

// WithMetrics records refresh outcomes and catalog size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New builds a scheduler. Sessions are acquired from sessions once per
// adapter call and released when the call returns.
func New(store *catalog.Store, sessions *session.Manager, adapters []scraper.Adapter, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       store,
		sessions:    sessions,
		adapters:    adapters,
		categories:  models.Categories,
		interval:    time.Hour,
		throttleMin: 2 * time.Second,
		throttleMax: 4 * time.Second,
		buildType:   func(models.Source) string { return models.TypePC },
		sleep:       sleepContext,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NeedsUpdate reports whether the catalog is stale.
func (s *Scheduler) NeedsUpdate() bool {
	last := s.store.LastUpdate()
	return last.IsZero() || s.now().Sub(last) >= s.interval
}

// EnsureFresh refreshes the catalog when it is stale. Callers that arrive
// during a refresh wait for it and then see the fresh state.
func (s *Scheduler) EnsureFresh(ctx context.Context) error {
	if !s.NeedsUpdate() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.NeedsUpdate() {
		return nil
	}
	_, err := s.update(ctx)
	return err
}

// Update runs every adapter and commits the merged result. Adapter failures
// are reported in the result, not as an error. The returned error is set
// when ctx was cancelled mid-refresh or the snapshot could not be saved; the
// collected items are committed in both cases.
func (s *Scheduler) Update(ctx context.Context) (*models.RefreshResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx)
}

// Schedule registers a recurring EnsureFresh on c. Jobs run with ctx.
func (s *Scheduler) Schedule(ctx context.Context, c *cron.Cron) (cron.EntryID, error) {
	spec := "@every " + s.interval.String()
	id, err := c.AddFunc(spec, func() {
		if err := s.EnsureFresh(ctx); err != nil {
			s.logger.Error("scheduled refresh failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule refresh %q: %w", spec, err)
	}
	return id, nil
}

// Run refreshes the catalog if needed, then keeps it fresh on c until ctx is
// done. c may already carry other jobs; a nil c gets a new cron. Run stops c
// and waits for running jobs before returning.
func (s *Scheduler) Run(ctx context.Context, c *cron.Cron) error {
	if c == nil {
		c = cron.New()
	}
	if err := s.EnsureFresh(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("initial refresh failed", slog.Any("error", err))
	}

	if _, err := s.Schedule(ctx, c); err != nil {
		return err
	}
	c.Start()
	s.logger.Info("watching catalog", slog.Duration("interval", s.interval))

	<-ctx.Done()
	s.logger.Info("shutdown signal received, waiting for in-flight work to finish")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) update(ctx context.Context) (*models.RefreshResult, error) {
	result := &models.RefreshResult{
		StartTime:     s.now(),
		PreviousCount: s.store.Len(),
		ItemsBySource: make(map[models.Source]int),
		ErrorsByType:  make(map[string]int),
	}
	retriesBefore := s.totalRetries()

	p := pipeline.New(pipeline.WithBuildType(s.buildType), pipeline.WithLogger(s.logger))
	t := &tally{result: result}
	if s.parallel {
		s.runParallel(ctx, p, t)
	} else {
		s.runSequential(ctx, p, t)
	}
	items, builds := p.Close()
	stats := p.Stats()

	result.ScrapedCount = len(items) + len(builds)
	result.RetryCount = int(s.totalRetries() - retriesBefore)

	// An interrupted refresh that collected nothing leaves the catalog stale
	// so the next caller retries.
	if err := ctx.Err(); err != nil && result.ScrapedCount == 0 {
		result.EndTime = s.now()
		s.metrics.IncRefresh("interrupted")
		s.logger.Warn("refresh interrupted before any listing was collected, catalog left stale",
			slog.Int("previous", result.PreviousCount),
			slog.Any("error", err),
		)
		return result, fmt.Errorf("refresh interrupted: %w", err)
	}

	result.Committed = s.store.Commit(items, builds, s.now())
	result.EndTime = s.now()

	outcome := "committed"
	if !result.Committed {
		outcome = "retained"
	}
	s.metrics.IncRefresh(outcome)
	s.metrics.SetCatalogSize(s.store.Len())

	attrs := []any{
		slog.Int("scraped", result.ScrapedCount),
		slog.Int("previous", result.PreviousCount),
		slog.Int("errors", result.ErrorCount),
		slog.Int("retries", result.RetryCount),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("invalid", stats.Invalid),
		slog.Duration("elapsed", result.EndTime.Sub(result.StartTime)),
	}
	if result.Committed {
		s.logger.Info("catalog refreshed", attrs...)
	} else {
		s.logger.Warn("partial refresh, keeping previous catalog",
			append(attrs, slog.Any("failed", result.FailedAdapters))...)
	}

	var errs []error
	if err := ctx.Err(); err != nil {
		errs = append(errs, fmt.Errorf("refresh interrupted: %w", err))
	}
	if s.snapshotPath != "" {
		if err := s.store.Save(s.snapshotPath); err != nil {
			errs = append(errs, err)
		}
	}
	return result, errors.Join(errs...)
}

func (s *Scheduler) runSequential(ctx context.Context, p *pipeline.Pipeline, t *tally) {
	for i, a := range s.adapters {
		if i > 0 {
			if err := s.sleep(ctx, s.courtesyDelay()); err != nil {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		s.runAdapter(ctx, a, p, t)
	}
}

func (s *Scheduler) runParallel(ctx context.Context, p *pipeline.Pipeline, t *tally) {
	var g errgroup.Group
	for _, a := range s.adapters {
		g.Go(func() error {
			s.runAdapter(ctx, a, p, t)
			return nil
		})
	}
	g.Wait()
}

// runAdapter requests every category from a and hands each batch to p.
func (s *Scheduler) runAdapter(ctx context.Context, a scraper.Adapter, p *pipeline.Pipeline, t *tally) {
	for _, category := range s.categories {
		if ctx.Err() != nil {
			return
		}
		items, err := s.fetch(ctx, a, category)
		if err != nil {
			t.fail(a.Name(), category, err)
			s.logger.Error("adapter failed",
				slog.String("source", string(a.Name())),
				slog.String("category", string(category)),
				slog.Any("error", err),
			)
			continue
		}
		if len(items) == 0 {
			continue
		}
		t.add(a.Name(), len(items))
		if err := p.Process(items); err != nil {
			s.logger.Error("pipeline process error", slog.Any("error", err))
			return
		}
	}
}

func (s *Scheduler) fetch(ctx context.Context, a scraper.Adapter, category models.Category) ([]models.CatalogItem, error) {
	sess := s.sessions.Lazy()
	defer s.sessions.Release(sess)
	return a.Fetch(ctx, category, sess)
}

func (s *Scheduler) courtesyDelay() time.Duration {
	if s.throttleMax <= s.throttleMin {
		return s.throttleMin
	}
	span := int64(s.throttleMax-s.throttleMin) + 1
	if s.rand != nil {
		return s.throttleMin + time.Duration(s.rand.Int64N(span))
	}
	return s.throttleMin + time.Duration(rand.Int64N(span))
}

func (s *Scheduler) totalRetries() int64 {
	var n int64
	for _, a := range s.adapters {
		if rc, ok := a.(scraper.RetryCounter); ok {
			n += rc.Retries()
		}
	}
	return n
}

// tally collects per-adapter outcomes from concurrent workers.
type tally struct {
	mu     sync.Mutex
	result *models.RefreshResult
}

func (t *tally) add(source models.Source, n int) {
	t.mu.Lock()
	t.result.ItemsBySource[source] += n
	t.mu.Unlock()
}

func (t *tally) fail(source models.Source, category models.Category, err error) {
	t.mu.Lock()
	t.result.ErrorCount++
	t.result.ErrorsByType[scraper.ErrorType(err)]++
	t.result.FailedAdapters = append(t.result.FailedAdapters, string(source)+"/"+string(category))
	t.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
