// Package scraper fetches storefront listing pages through a session and
// extracts catalog items from them.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-build-finder/cache"
	"github.com/aluiziolira/go-build-finder/metrics"
	"github.com/aluiziolira/go-build-finder/models"
	"github.com/aluiziolira/go-build-finder/parser"
	"github.com/aluiziolira/go-build-finder/session"
)

// Adapter fetches one storefront. Fetch returns nil, nil for categories the
// storefront does not list.
type Adapter interface {
	Name() models.Source
	Fetch(ctx context.Context, category models.Category, s session.Session) ([]models.CatalogItem, error)
}

// RetryCounter is implemented by adapters that track retries.
type RetryCounter interface {
	Retries() int64
}

// SelectorAdapter reads a storefront described by a SourceSpec.
type SelectorAdapter struct {
	spec    SourceSpec
	cache   *cache.Cache
	retry   RetryPolicy
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	retries atomic.Int64
}

// Option configures a SelectorAdapter.
type Option func(*SelectorAdapter)

// WithCache consults c before fetching and stores fetched pages in it.
func WithCache(c *cache.Cache) Option {
	return func(a *SelectorAdapter) { a.cache = c }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(a *SelectorAdapter) { a.retry = p }
}

// WithMetrics records requests, errors and skipped entries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *SelectorAdapter) { a.metrics = m }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *SelectorAdapter) { a.logger = l }
}

// WithClock sets the clock used for ParsedAt.
func WithClock(now func() time.Time) Option {
	return func(a *SelectorAdapter) { a.now = now }
}

// NewSelectorAdapter builds an adapter for spec.
func NewSelectorAdapter(spec SourceSpec, opts ...Option) *SelectorAdapter {
	a := &SelectorAdapter{
		spec:   spec,
		retry:  DefaultRetryPolicy(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With(slog.String("source", string(spec.Name)))
	return a
}

// NewAdapters builds one adapter per spec with shared options.
func NewAdapters(specs []SourceSpec, opts ...Option) []Adapter {
	out := make([]Adapter, 0, len(specs))
	for _, spec := range specs {
		out = append(out, NewSelectorAdapter(spec, opts...))
	}
	return out
}

func (a *SelectorAdapter) Name() models.Source { return a.spec.Name }

// Retries returns the retries made since the adapter was created.
func (a *SelectorAdapter) Retries() int64 { return a.retries.Load() }

// Fetch loads the listing for category and extracts its entries.
func (a *SelectorAdapter) Fetch(ctx context.Context, category models.Category, s session.Session) ([]models.CatalogItem, error) {
	pageURL, ok := a.spec.URLs[category]
	if !ok || !category.Valid() {
		a.logger.Debug("category not listed", slog.String("category", string(category)))
		return nil, nil
	}
	sel := a.spec.Selectors(category)

	body, cached, err := a.load(ctx, pageURL, sel.Item, s)
	if err != nil {
		return nil, err
	}

	items, err := a.extract(body, pageURL, category, sel)
	if err != nil {
		return nil, err
	}
	// Pages that yield nothing are not cached, so a markup change is retried
	// live on the next refresh.
	if !cached && len(items) > 0 {
		if err := a.cache.Put(pageURL, body); err != nil {
			a.logger.Warn("cache write failed", slog.String("url", pageURL), slog.Any("error", err))
		}
	}
	a.metrics.AddItems(string(a.spec.Name), len(items))
	a.logger.Info("listing extracted",
		slog.String("category", string(category)),
		slog.Int("items", len(items)),
	)
	return items, nil
}

// load returns the listing body and whether it came from the cache.
func (a *SelectorAdapter) load(ctx context.Context, pageURL, readySelector string, s session.Session) ([]byte, bool, error) {
	if body, ok := a.cache.Get(pageURL); ok {
		a.logger.Debug("cache hit", slog.String("url", pageURL))
		return body, true, nil
	}

	var body []byte
	retries, err := a.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		start := time.Now()
		a.metrics.IncRequest("started")
		resp, err := s.Fetch(ctx, session.Request{URL: pageURL, WaitSelector: readySelector})
		a.metrics.ObserveDuration(time.Since(start))
		if err != nil {
			classified := classifyError(err)
			a.metrics.IncError(ErrorType(classified))
			a.logger.Warn("listing fetch failed",
				slog.String("url", pageURL),
				slog.Int("attempt", attempt),
				slog.String("error_type", ErrorType(classified)),
				slog.Any("error", err),
			)
			return classified
		}
		body = resp.Body
		return nil
	})
	if retries > 0 {
		a.retries.Add(int64(retries))
		for range retries {
			a.metrics.IncRetries()
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: fetch %s: %w", a.spec.Name, pageURL, err)
	}
	return body, false, nil
}

func (a *SelectorAdapter) extract(body []byte, pageURL string, category models.Category, sel Selectors) ([]models.CatalogItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: parse %s: %w", a.spec.Name, pageURL, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%s: parse url %s: %w", a.spec.Name, pageURL, err)
	}

	parsedAt := a.now()
	var items []models.CatalogItem
	doc.Find(sel.Item).EachWithBreak(func(i int, entry *goquery.Selection) bool {
		if sel.Limit > 0 && len(items) >= sel.Limit {
			return false
		}
		item, reason, err := a.extractEntry(entry, base, category, sel)
		if err != nil {
			a.metrics.IncSkipped(reason)
			a.logger.Debug("listing entry skipped",
				slog.String("url", pageURL),
				slog.Int("index", i),
				slog.String("reason", reason),
				slog.Any("error", err),
			)
			return true
		}
		item.ParsedAt = parsedAt
		items = append(items, item)
		return true
	})
	return items, nil
}

func (a *SelectorAdapter) extractEntry(entry *goquery.Selection, base *url.URL, category models.Category, sel Selectors) (models.CatalogItem, string, error) {
	titleSel := entry.Find(sel.Title).First()
	title := parser.NormalizeTitle(titleSel.Text())
	if title == "" {
		return models.CatalogItem{}, "title", errors.New("missing title")
	}

	href := entryLink(entry, titleSel, sel.Link)
	if href == "" {
		return models.CatalogItem{}, "url", fmt.Errorf("missing link for %q", title)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return models.CatalogItem{}, "url", fmt.Errorf("bad link %q: %w", href, err)
	}

	priceText := strings.TrimSpace(entry.Find(sel.Price).First().Text())
	price, err := parser.ParsePrice(priceText)
	if err != nil {
		return models.CatalogItem{}, "price", err
	}
	if price == 0 {
		return models.CatalogItem{}, "price", fmt.Errorf("%w: zero price for %q", parser.ErrUnparsablePrice, title)
	}

	item := models.CatalogItem{
		Title:    title,
		Price:    price,
		URL:      base.ResolveReference(ref).String(),
		Source:   a.spec.Name,
		Category: category,
	}
	if category == models.CategoryBuild {
		item.Purpose = parser.InferPurpose(title, a.spec.BuildPurpose)
	}
	return item, "", nil
}

func entryLink(entry, title *goquery.Selection, linkSelector string) string {
	if linkSelector != "" {
		return strings.TrimSpace(entry.Find(linkSelector).First().AttrOr("href", ""))
	}
	if href, ok := title.Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	if href, ok := title.Find("a[href]").First().Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	if href, ok := entry.Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	return strings.TrimSpace(entry.Find("a[href]").First().AttrOr("href", ""))
}
