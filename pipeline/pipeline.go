// Package pipeline merges adapter output into one catalog through a single
// writer goroutine and exports catalogs to CSV/JSON.
package pipeline

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-build-finder/models"
	"github.com/aluiziolira/go-build-finder/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after Close.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// Stats are the merge counters of one pipeline.
type Stats struct {
	Processed  int
	Duplicates int
	Invalid    int
}

type key struct {
	source models.Source
	url    string
}

// Pipeline validates batches from concurrent adapters and merges them. Only
// the writer goroutine touches the merged set; within one pass a later item
// with the same source and URL overwrites the earlier one in place.
type Pipeline struct {
	batchCh   chan []models.CatalogItem
	done      chan struct{}
	buildType func(models.Source) string
	logger    *slog.Logger

	// owned by the writer goroutine until done is closed
	items      []models.CatalogItem
	itemIndex  map[key]int
	builds     []models.Build
	buildIndex map[key]int
	stats      Stats

	mu     sync.Mutex // guards closed
	closed bool

	closeOnce sync.Once
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBuildType labels build listings per source. The default is models.TypePC.
func WithBuildType(fn func(models.Source) string) Option {
	return func(p *Pipeline) { p.buildType = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New starts a pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		batchCh:    make(chan []models.CatalogItem, 64),
		done:       make(chan struct{}),
		buildType:  func(models.Source) string { return models.TypePC },
		logger:     slog.Default(),
		itemIndex:  make(map[key]int),
		buildIndex: make(map[key]int),
	}
	for _, o := range opts {
		o(p)
	}
	go p.writer()
	return p
}

// Process hands a batch to the writer. The slice must not be modified
// afterwards.
func (p *Pipeline) Process(items []models.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	p.batchCh <- items
	return nil
}

// Close stops accepting batches and waits for the writer to drain. It
// returns the merged items and builds.
func (p *Pipeline) Close() ([]models.CatalogItem, []models.Build) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.batchCh)
		p.mu.Unlock()
	})
	<-p.done
	return p.items, p.builds
}

// Stats returns the merge counters. Valid after Close.
func (p *Pipeline) Stats() Stats {
	<-p.done
	return p.stats
}

func (p *Pipeline) writer() {
	defer close(p.done)
	for batch := range p.batchCh {
		for i := range batch {
			p.merge(batch[i])
		}
	}
}

func (p *Pipeline) merge(item models.CatalogItem) {
	if err := parser.ValidateItem(&item); err != nil {
		p.stats.Invalid++
		p.logger.Debug("item rejected", slog.String("url", item.URL), slog.Any("error", err))
		return
	}
	p.stats.Processed++
	k := key{source: item.Source, url: item.URL}

	if item.Category == models.CategoryBuild {
		build := models.BuildFromItem(item, p.buildType(item.Source))
		if i, ok := p.buildIndex[k]; ok {
			p.stats.Duplicates++
			p.builds[i] = build
			return
		}
		p.buildIndex[k] = len(p.builds)
		p.builds = append(p.builds, build)
		return
	}

	if i, ok := p.itemIndex[k]; ok {
		p.stats.Duplicates++
		p.items[i] = item
		return
	}
	p.itemIndex[k] = len(p.items)
	p.items = append(p.items, item)
}
