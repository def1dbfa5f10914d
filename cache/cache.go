// Package cache keeps fetched listing payloads for a bounded time so repeated
// refreshes do not hit the storefronts again.
//
// Entries are keyed by the MD5 digest of the resource URL. Staleness is a
// pure function of the entry's write time and the TTL and is evaluated on
// read; nothing sweeps the cache in the background.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-build-finder/metrics"
)

const (
	// DefaultTTL is how long an entry stays valid.
	DefaultTTL = time.Hour
	// DefaultSize bounds the in-memory tier.
	DefaultSize = 512
)

// Entry is one cached payload.
type Entry struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	WrittenAt time.Time `json:"written_at"`
}

// Cache is a TTL cache with an LRU memory tier and an optional disk tier.
type Cache struct {
	ttl     time.Duration
	size    int
	dir     string
	now     func() time.Time
	mem     *lru.Cache[string, Entry]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithSize overrides the number of entries kept in memory.
func WithSize(size int) Option {
	return func(c *Cache) { c.size = size }
}

// WithDir enables the disk tier rooted at dir.
func WithDir(dir string) Option {
	return func(c *Cache) { c.dir = dir }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics records hits, misses and write failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New builds a cache. The disk directory, when set, is created on demand.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		ttl:    DefaultTTL,
		size:   DefaultSize,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.ttl <= 0 {
		return nil, fmt.Errorf("cache: ttl must be positive")
	}
	if c.size <= 0 {
		return nil, fmt.Errorf("cache: size must be positive")
	}

	mem, err := lru.New[string, Entry](c.size)
	if err != nil {
		return nil, fmt.Errorf("cache: memory tier: %w", err)
	}
	c.mem = mem

	if c.dir != "" {
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create directory %q: %w", c.dir, err)
		}
	}
	return c, nil
}

// Key returns the hex MD5 digest of url.
func Key(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Get returns the payload cached for url when one exists and is younger than
// the TTL. A nil cache always misses.
func (c *Cache) Get(url string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	key := Key(url)

	if entry, ok := c.mem.Get(key); ok {
		if c.fresh(entry) {
			c.metrics.IncCache(true)
			return entry.Payload, true
		}
		c.mem.Remove(key)
	}

	if c.dir != "" {
		entry, err := c.readDisk(key)
		if err == nil && c.fresh(entry) {
			c.mem.Add(key, entry)
			c.metrics.IncCache(true)
			return entry.Payload, true
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("cache disk read failed", slog.String("key", key), slog.Any("error", err))
		}
	}

	c.metrics.IncCache(false)
	return nil, false
}

// Put stores payload for url. The memory tier always succeeds; a disk tier
// failure is returned so callers can log it, but the cache stays usable.
func (c *Cache) Put(url string, payload []byte) error {
	if c == nil {
		return nil
	}
	entry := Entry{
		Key:       Key(url),
		Payload:   append([]byte(nil), payload...),
		WrittenAt: c.now(),
	}
	c.mem.Add(entry.Key, entry)

	if c.dir == "" {
		return nil
	}
	if err := c.writeDisk(entry); err != nil {
		c.metrics.IncCacheWriteError()
		return err
	}
	return nil
}

// Purge drops every entry from both tiers.
func (c *Cache) Purge() error {
	if c == nil {
		return nil
	}
	c.mem.Purge()
	if c.dir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("cache: list entries: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("cache: remove %q: %w", m, err)
		}
	}
	return nil
}

func (c *Cache) fresh(e Entry) bool {
	return c.now().Sub(e.WrittenAt) < c.ttl
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *Cache) readDisk(key string) (Entry, error) {
	var entry Entry
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("decode cache entry: %w", err)
	}
	if entry.Key != key {
		return entry, fmt.Errorf("cache entry key mismatch: %s", entry.Key)
	}
	return entry, nil
}

func (c *Cache) writeDisk(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, entry.Key+".*.tmp")
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cache: write entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache: close entry: %w", err)
	}
	if err := os.Rename(tmpName, c.path(entry.Key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache: commit entry: %w", err)
	}
	return nil
}
