package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures headless Chrome sessions.
type BrowserConfig struct {
	// Bin is the Chrome binary. Empty lets the launcher find or download one.
	Bin      string
	Headless bool
}

// BrowserFactory returns a Factory that launches one Chrome process per
// session. The process is killed when the session is closed.
func BrowserFactory(cfg BrowserConfig) Factory {
	return func(ctx context.Context, opts Options) (Session, error) {
		l := launcher.New().
			Headless(cfg.Headless).
			NoSandbox(true).
			Set("disable-blink-features", "AutomationControlled").
			Set("disable-dev-shm-usage")
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		server, user, pass := splitProxyAuth(opts.Proxy)
		if server != "" {
			l = l.Proxy(server)
		}

		controlURL, err := l.Launch()
		if err != nil {
			l.Cleanup()
			return nil, fmt.Errorf("browser: launch: %w", err)
		}

		b := rod.New().ControlURL(controlURL).Context(ctx)
		if err := b.Connect(); err != nil {
			l.Kill()
			l.Cleanup()
			return nil, fmt.Errorf("browser: connect: %w", err)
		}
		// The session outlives the acquire context; later calls use their own.
		b = b.Context(context.Background())
		if user != "" {
			// Chrome ignores credentials in --proxy-server; answer the 407 challenge instead.
			wait := b.HandleAuth(user, pass)
			go func() { _ = wait() }()
		}

		return &browserSession{opts: opts, launcher: l, browser: b}, nil
	}
}

// splitProxyAuth separates user:pass@ credentials from a proxy URL.
func splitProxyAuth(raw string) (server, user, pass string) {
	if raw == "" {
		return "", "", ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw, "", ""
	}
	user = u.User.Username()
	pass, _ = u.User.Password()
	u.User = nil
	return u.String(), user, pass
}

type browserSession struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser

	mu     sync.Mutex
	closed bool
}

func (s *browserSession) Proxy() string     { return s.opts.Proxy }
func (s *browserSession) UserAgent() string { return s.opts.UserAgent }

func (s *browserSession) Fetch(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	if s.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.opts.UserAgent}); err != nil {
			return nil, fmt.Errorf("browser: set user agent: %w", err)
		}
	}

	bounded := page.Context(ctx).Timeout(s.opts.PageTimeout)
	defer bounded.CancelTimeout()
	if err := bounded.Navigate(req.URL); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", req.URL, err)
	}

	if req.WaitSelector != "" {
		if _, err := bounded.Element(req.WaitSelector); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %q on %s: %w", ErrNotReady, req.WaitSelector, req.URL, err)
			}
			return nil, fmt.Errorf("browser: wait for %q: %w", req.WaitSelector, err)
		}
	} else if err := bounded.WaitLoad(); err != nil {
		return nil, fmt.Errorf("browser: wait load %s: %w", req.URL, err)
	}

	html, err := bounded.HTML()
	if err != nil {
		return nil, fmt.Errorf("browser: read DOM: %w", err)
	}
	return &Response{URL: req.URL, StatusCode: 200, Body: []byte(html)}, nil
}

func (s *browserSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
	if err != nil {
		return fmt.Errorf("browser: close: %w", err)
	}
	return nil
}
