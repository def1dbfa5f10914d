// Package engine answers budget queries against a self-refreshing catalog.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aluiziolira/go-build-finder/catalog"
	"github.com/aluiziolira/go-build-finder/matcher"
	"github.com/aluiziolira/go-build-finder/models"
)

// ErrCatalogUnavailable means the catalog is empty and could not be
// refreshed. Callers should ask the user to try again later.
var ErrCatalogUnavailable = errors.New("engine: catalog unavailable, try again later")

// Refresher brings the catalog up to date when it is stale.
type Refresher interface {
	EnsureFresh(ctx context.Context) error
}

// Engine is the caller-facing query surface.
type Engine struct {
	store     *catalog.Store
	refresher Refresher
	matcher   *matcher.Matcher
	policy    matcher.Policy
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the budget tolerance policy. The default is
// matcher.StrictCeiling.
func WithPolicy(p matcher.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMatcher sets the random selection source.
func WithMatcher(m *matcher.Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds an engine reading store. refresher may be nil for a read-only
// catalog.
func New(store *catalog.Store, refresher Refresher, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		refresher: refresher,
		matcher:   matcher.New(nil),
		policy:    matcher.StrictCeiling{},
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// GetRandomBuild returns a random build priced within budget whose purpose
// and type match. Empty purpose or buildType match any. It returns nil, nil
// when nothing matches.
func (e *Engine) GetRandomBuild(ctx context.Context, budget int, purpose models.Purpose, buildType string) (*models.Build, error) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]*models.Build, len(snap.Builds))
	for i := range snap.Builds {
		candidates[i] = &snap.Builds[i]
	}

	picked, ok := matcher.Pick(e.matcher, candidates, matcher.Query{
		Budget:  budget,
		Purpose: purpose,
		Type:    buildType,
		Policy:  e.policy,
	})
	if !ok {
		return nil, nil
	}
	out := *picked
	out.Components = append([]models.CatalogItem(nil), picked.Components...)
	return &out, nil
}

// GetComponentByBudget returns a random component of category priced within
// budget. Unknown categories and empty results give nil, nil.
func (e *Engine) GetComponentByBudget(ctx context.Context, category string, budget int) (*models.CatalogItem, error) {
	cat, ok := models.ParseCategory(category)
	if !ok || cat == models.CategoryBuild {
		e.logger.Debug("unsupported component category", slog.String("category", category))
		return nil, nil
	}

	snap, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]*models.CatalogItem, len(snap.Items))
	for i := range snap.Items {
		candidates[i] = &snap.Items[i]
	}

	picked, ok := matcher.Pick(e.matcher, candidates, matcher.Query{
		Budget: budget,
		Type:   string(cat),
		Policy: e.policy,
	})
	if !ok {
		return nil, nil
	}
	out := *picked
	return &out, nil
}

// snapshot refreshes a stale catalog and returns the current contents. A
// failed refresh is logged and the previous snapshot served; only an empty
// catalog is an error.
func (e *Engine) snapshot(ctx context.Context) (*models.Snapshot, error) {
	if e.refresher != nil {
		if err := e.refresher.EnsureFresh(ctx); err != nil {
			e.logger.Warn("catalog refresh failed, serving previous snapshot", slog.Any("error", err))
		}
	}
	snap := e.store.Snapshot()
	if snap.Len() == 0 {
		return nil, ErrCatalogUnavailable
	}
	return snap, nil
}
