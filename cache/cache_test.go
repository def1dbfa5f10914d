package cache

import (
	"os"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func TestKeyIsStable128BitHex(t *testing.T) {
	a := Key("https://www.dns-shop.ru/catalog/processory/")
	b := Key("https://www.dns-shop.ru/catalog/processory/")
	if a != b {
		t.Fatalf("key not stable: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("key length = %d, want 32 hex chars", len(a))
	}
	if Key("https://example.test/a") == Key("https://example.test/b") {
		t.Fatalf("distinct urls share a key")
	}
}

func TestCacheTTLBoundary(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	ttl := 3600 * time.Second

	c, err := New(WithTTL(ttl), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	const url = "https://example.test/catalog/cpu"

	tests := []struct {
		name    string
		offset  time.Duration
		wantHit bool
	}{
		{name: "immediately", offset: 0, wantHit: true},
		{name: "ttl minus one second", offset: ttl - time.Second, wantHit: true},
		{name: "exactly ttl", offset: ttl, wantHit: false},
		{name: "ttl plus one second", offset: ttl + time.Second, wantHit: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.Set(start)
			if err := c.Put(url, []byte("<html>cpu</html>")); err != nil {
				t.Fatalf("put: %v", err)
			}
			clock.Set(start.Add(tt.offset))
			if _, hit := c.Get(url); hit != tt.wantHit {
				t.Fatalf("hit = %v, want %v", hit, tt.wantHit)
			}
		})
	}
}

func TestCacheScenarioMissAfterExpiry(t *testing.T) {
	start := time.Unix(0, 0)
	clock := &fakeClock{now: start}
	c, err := New(WithTTL(3600*time.Second), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	if err := c.Put("X", []byte("payload")); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock.Set(start.Add(3601 * time.Second))
	if _, hit := c.Get("X"); hit {
		t.Fatalf("expected miss at T=3601")
	}
}

func TestCacheMissForUnknownURL(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if _, hit := c.Get("https://example.test/never"); hit {
		t.Fatalf("expected miss")
	}
}

func TestNilCacheIsAdvisory(t *testing.T) {
	var c *Cache
	if _, hit := c.Get("x"); hit {
		t.Fatalf("nil cache should miss")
	}
	if err := c.Put("x", []byte("y")); err != nil {
		t.Fatalf("nil cache put: %v", err)
	}
}

func TestCacheDiskTierSurvivesNewInstance(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}

	first, err := New(WithDir(dir), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if err := first.Put("https://example.test/gpu", []byte("gpu page")); err != nil {
		t.Fatalf("put: %v", err)
	}

	second, err := New(WithDir(dir), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	payload, hit := second.Get("https://example.test/gpu")
	if !hit || string(payload) != "gpu page" {
		t.Fatalf("disk tier: hit=%v payload=%q", hit, payload)
	}

	clock.Set(start.Add(2 * time.Hour))
	if _, hit := second.Get("https://example.test/gpu"); hit {
		t.Fatalf("stale disk entry returned")
	}
}

func TestCacheDiskWriteFailureKeepsMemoryEntry(t *testing.T) {
	dir := t.TempDir()
	c, err := New(WithDir(dir))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if err := os.WriteFile(dir, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("replace dir with file: %v", err)
	}

	if err := c.Put("https://example.test/ram", []byte("ram page")); err == nil {
		t.Fatalf("expected disk write error")
	}
	if payload, hit := c.Get("https://example.test/ram"); !hit || string(payload) != "ram page" {
		t.Fatalf("memory tier should still serve the entry")
	}
}

func TestPurge(t *testing.T) {
	dir := t.TempDir()
	c, err := New(WithDir(dir))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if err := c.Put("https://example.test/a", []byte("a")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Purge(); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, hit := c.Get("https://example.test/a"); hit {
		t.Fatalf("purged entry returned")
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := New(WithTTL(0)); err == nil {
		t.Fatalf("expected ttl error")
	}
	if _, err := New(WithSize(0)); err == nil {
		t.Fatalf("expected size error")
	}
}
