package session

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/robfig/cron/v3"

	"github.com/aluiziolira/go-build-finder/metrics"
)

// Pool holds the rotating proxy addresses and user agents handed to new
// sessions. An empty proxy list means direct connections.
type Pool struct {
	listURL string
	client  *resty.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
	intn    func(int) int

	mu         sync.RWMutex
	proxies    []string
	userAgents []string
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithTransport routes proxy list downloads through rt.
func WithTransport(rt http.RoundTripper) PoolOption {
	return func(p *Pool) { p.client.SetTransport(rt) }
}

// WithPoolMetrics reports the pool size.
func WithPoolMetrics(m *metrics.Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

// WithPoolLogger sets a custom logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithIntn replaces the random index source.
func WithIntn(intn func(int) int) PoolOption {
	return func(p *Pool) { p.intn = intn }
}

// NewPool creates a pool that downloads proxies from listURL. listURL may be
// empty, in which case the pool only rotates user agents.
func NewPool(listURL string, userAgents []string, opts ...PoolOption) *Pool {
	p := &Pool{
		listURL:    listURL,
		client:     resty.New().SetTimeout(15 * time.Second).SetRetryCount(1),
		logger:     slog.Default(),
		intn:       rand.IntN,
		userAgents: append([]string(nil), userAgents...),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Refresh replaces the proxy list with the remote one. When the list cannot
// be downloaded the current proxies are kept and the error is returned for
// logging; an empty remote list empties the pool.
func (p *Pool) Refresh(ctx context.Context) error {
	if p.listURL == "" {
		return nil
	}

	resp, err := p.client.R().SetContext(ctx).Get(p.listURL)
	if err != nil {
		return fmt.Errorf("proxy list: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("proxy list: unexpected status %d", resp.StatusCode())
	}

	proxies := ParseProxyList(resp.String())
	p.Set(proxies)
	p.logger.Info("proxy pool refreshed",
		slog.String("source", p.listURL),
		slog.Int("proxies", len(proxies)),
	)
	return nil
}

// Schedule registers a recurring Refresh on c.
func (p *Pool) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := p.Refresh(ctx); err != nil {
			p.logger.Warn("proxy pool refresh failed, keeping current list", slog.Any("error", err))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule proxy refresh: %w", err)
	}
	return id, nil
}

// Set replaces the proxy list.
func (p *Pool) Set(proxies []string) {
	p.mu.Lock()
	p.proxies = append([]string(nil), proxies...)
	n := len(p.proxies)
	p.mu.Unlock()
	p.metrics.SetProxyPoolSize(n)
}

// Proxies returns a copy of the current list.
func (p *Pool) Proxies() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.proxies...)
}

// Pick returns a random proxy ("" when the pool is empty) and a random user agent.
func (p *Pool) Pick() (proxy, userAgent string) {
	if p == nil {
		return "", ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.proxies) > 0 {
		proxy = p.proxies[p.intn(len(p.proxies))]
	}
	if len(p.userAgents) > 0 {
		userAgent = p.userAgents[p.intn(len(p.userAgents))]
	}
	return proxy, userAgent
}

// ParseProxyList reads one proxy per line. Bare host:port entries become
// http:// URLs; entries with a scheme keep it, and user:pass@ credentials
// are kept. Blank lines, comments and
// malformed entries are skipped, duplicates collapse.
func ParseProxyList(text string) []string {
	var out []string
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		normalized, ok := normalizeProxy(line)
		if !ok {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func normalizeProxy(entry string) (string, bool) {
	if !strings.Contains(entry, "://") {
		entry = "http://" + entry
	}
	u, err := url.Parse(entry)
	if err != nil {
		return "", false
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return "", false
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" {
		return "", false
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", false
	}
	out := &url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}
	return out.String(), true
}
