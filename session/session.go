// Package session hands out short-lived fetch sessions configured with a
// rotating proxy and user agent, and guarantees they are torn down.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aluiziolira/go-build-finder/metrics"
)

var (
	// ErrSessionClosed is returned by Fetch after Close.
	ErrSessionClosed = errors.New("session: closed")
	// ErrNotReady means the listing never became ready within the page timeout.
	ErrNotReady = errors.New("session: listing not ready")
)

// Request describes one page load.
type Request struct {
	URL string
	// WaitSelector must match before the page counts as loaded. Empty skips the check.
	WaitSelector string
}

// Response is the loaded page.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
}

// StatusError reports an HTTP error status.
type StatusError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d for %s: %v", e.StatusCode, e.URL, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Session loads listing pages. Close releases the underlying connections or
// browser process and is safe to call more than once.
type Session interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
	Proxy() string
	UserAgent() string
	Close() error
}

// Options configure a new session.
type Options struct {
	Proxy       string
	UserAgent   string
	PageTimeout time.Duration
}

// Factory opens a session.
type Factory func(ctx context.Context, opts Options) (Session, error)

// Manager acquires sessions from a Factory using the Pool's rotation.
type Manager struct {
	pool        *Pool
	factory     Factory
	pageTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPageTimeout bounds each page load.
func WithPageTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.pageTimeout = d }
}

// WithMetrics tracks open sessions.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager builds a Manager. pool may be nil for direct connections with
// the factory's default user agent.
func NewManager(pool *Pool, factory Factory, opts ...ManagerOption) *Manager {
	m := &Manager{
		pool:        pool,
		factory:     factory,
		pageTimeout: 20 * time.Second,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Acquire opens a session. Every successful Acquire must be paired with Release.
func (m *Manager) Acquire(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proxy, ua := m.pool.Pick()
	s, err := m.factory(ctx, Options{
		Proxy:       proxy,
		UserAgent:   ua,
		PageTimeout: m.pageTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open session (proxy=%q): %w", proxy, err)
	}
	m.metrics.SessionOpened()
	m.logger.Debug("session acquired", slog.String("proxy", proxy), slog.String("user_agent", ua))
	return &trackedSession{Session: s, manager: m}, nil
}

// Release closes s. Close errors are logged, never returned.
func (m *Manager) Release(s Session) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		m.logger.Warn("session release failed", slog.String("proxy", s.Proxy()), slog.Any("error", err))
	}
}

// With runs fn with a fresh session and releases it on every exit path,
// including panics and context cancellation.
func (m *Manager) With(ctx context.Context, fn func(Session) error) error {
	s, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer m.Release(s)
	return fn(s)
}

// Lazy returns a session that is acquired on its first Fetch, so callers
// served from cache never open a connection or browser. Release it like any
// other session.
func (m *Manager) Lazy() Session {
	return &lazySession{manager: m}
}

type lazySession struct {
	manager *Manager

	mu     sync.Mutex
	s      Session
	closed bool
}

func (l *lazySession) Fetch(ctx context.Context, req Request) (*Response, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if l.s == nil {
		s, err := l.manager.Acquire(ctx)
		if err != nil {
			l.mu.Unlock()
			return nil, err
		}
		l.s = s
	}
	s := l.s
	l.mu.Unlock()
	return s.Fetch(ctx, req)
}

func (l *lazySession) Proxy() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.s == nil {
		return ""
	}
	return l.s.Proxy()
}

func (l *lazySession) UserAgent() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.s == nil {
		return ""
	}
	return l.s.UserAgent()
}

func (l *lazySession) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.s == nil {
		return nil
	}
	return l.s.Close()
}

type trackedSession struct {
	Session
	manager *Manager
	once    sync.Once
	err     error
}

func (t *trackedSession) Close() error {
	t.once.Do(func() {
		t.err = t.Session.Close()
		t.manager.metrics.SessionClosed()
		t.manager.logger.Debug("session released", slog.String("proxy", t.Session.Proxy()))
	})
	return t.err
}

func isHTTPError(status int) bool {
	return status >= http.StatusBadRequest
}
