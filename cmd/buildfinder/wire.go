package main

import (
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-build-finder/cache"
	"github.com/aluiziolira/go-build-finder/catalog"
	"github.com/aluiziolira/go-build-finder/config"
	"github.com/aluiziolira/go-build-finder/engine"
	"github.com/aluiziolira/go-build-finder/matcher"
	"github.com/aluiziolira/go-build-finder/metrics"
	"github.com/aluiziolira/go-build-finder/models"
	"github.com/aluiziolira/go-build-finder/scheduler"
	"github.com/aluiziolira/go-build-finder/scraper"
	"github.com/aluiziolira/go-build-finder/session"
)

type app struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	pool      *session.Pool
	store     *catalog.Store
	scheduler *scheduler.Scheduler
	engine    *engine.Engine
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	m := metrics.New()

	pageCache, err := cache.New(
		cache.WithTTL(cfg.CacheTTL),
		cache.WithSize(cfg.CacheSize),
		cache.WithDir(cfg.CacheDir),
		cache.WithMetrics(m),
		cache.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("page cache: %w", err)
	}

	pool := session.NewPool(cfg.ProxyListURL, cfg.UserAgents,
		session.WithPoolMetrics(m),
		session.WithPoolLogger(logger),
	)

	factory := session.HTTPFactory(nil)
	if cfg.SessionMode == config.SessionBrowser {
		factory = session.BrowserFactory(session.BrowserConfig{Headless: cfg.Headless})
	}
	sessions := session.NewManager(pool, factory,
		session.WithPageTimeout(cfg.PageTimeout),
		session.WithMetrics(m),
		session.WithLogger(logger),
	)

	specs, err := scraper.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	adapters := scraper.NewAdapters(specs,
		scraper.WithCache(pageCache),
		scraper.WithRetryPolicy(scraper.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			MinDelay:    cfg.RetryDelayMin,
			MaxDelay:    cfg.RetryDelayMax,
		}),
		scraper.WithMetrics(m),
		scraper.WithLogger(logger),
	)

	store := catalog.NewStore()
	dropped, err := store.Load(cfg.SnapshotFile)
	if err != nil {
		// A corrupt snapshot is replaced on the next refresh.
		logger.Warn("ignoring unreadable snapshot", slog.String("path", cfg.SnapshotFile), slog.Any("error", err))
	} else if dropped > 0 {
		logger.Warn("dropped invalid snapshot records", slog.String("path", cfg.SnapshotFile), slog.Int("dropped", dropped))
	}
	m.SetCatalogSize(store.Len())

	buildTypes := make(map[models.Source]string, len(specs))
	for _, spec := range specs {
		buildTypes[spec.Name] = spec.BuildType
	}
	sched := scheduler.New(store, sessions, adapters,
		scheduler.WithInterval(cfg.UpdateInterval),
		scheduler.WithThrottle(cfg.ThrottleMin, cfg.ThrottleMax),
		scheduler.WithParallel(cfg.Parallel),
		scheduler.WithSnapshotPath(cfg.SnapshotFile),
		scheduler.WithBuildType(func(s models.Source) string { return buildTypes[s] }),
		scheduler.WithMetrics(m),
		scheduler.WithLogger(logger),
	)

	var policy matcher.Policy = matcher.StrictCeiling{}
	if cfg.Policy == config.PolicyBand {
		policy = matcher.ToleranceBand{LowerRatio: cfg.BandLowerRatio}
	}
	eng := engine.New(store, sched, engine.WithPolicy(policy), engine.WithLogger(logger))

	return &app{
		cfg:       cfg,
		metrics:   m,
		pool:      pool,
		store:     store,
		scheduler: sched,
		engine:    eng,
	}, nil
}
