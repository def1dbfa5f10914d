package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.IncRequest("started")
	m.ObserveDuration(time.Second)
	m.AddItems("dns", 3)
	m.IncSkipped("missing_title")
	m.IncRetries()
	m.IncError("timeout")
	m.IncCache(true)
	m.IncCacheWriteError()
	m.IncRefresh("committed")
	m.SetCatalogSize(1)
	m.SetProxyPoolSize(1)
	m.SessionOpened()
	m.SessionClosed()
}

func TestCountersRecord(t *testing.T) {
	m := New()
	m.IncCache(true)
	m.IncCache(false)
	m.IncCache(false)
	m.AddItems("dns", 4)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")); got != 2 {
		t.Fatalf("cache misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ItemsScrapedTotal.WithLabelValues("dns")); got != 4 {
		t.Fatalf("items = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.SessionsOpen); got != 1 {
		t.Fatalf("open sessions = %v, want 1", got)
	}
}
