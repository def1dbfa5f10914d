package session

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
)

// HTTPFactory returns a Factory for plain HTTP sessions backed by colly.
// A nil transport builds a dedicated *http.Transport per session that dials
// through the session's proxy.
func HTTPFactory(transport http.RoundTripper) Factory {
	return func(ctx context.Context, opts Options) (Session, error) {
		return newHTTPSession(opts, transport)
	}
}

type httpSession struct {
	opts      Options
	transport http.RoundTripper
	owned     *http.Transport

	mu     sync.Mutex
	closed bool
}

func newHTTPSession(opts Options, transport http.RoundTripper) (*httpSession, error) {
	s := &httpSession{opts: opts, transport: transport}
	if transport != nil {
		return s, nil
	}

	proxyFunc := http.ProxyFromEnvironment
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		proxyFunc = http.ProxyURL(proxyURL)
	}
	s.owned = &http.Transport{
		Proxy: proxyFunc,
		DialContext: (&net.Dialer{
			Timeout:   opts.PageTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	s.transport = s.owned
	return s, nil
}

func (s *httpSession) Proxy() string     { return s.opts.Proxy }
func (s *httpSession) UserAgent() string { return s.opts.UserAgent }

func (s *httpSession) Fetch(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
	)
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(s.opts.PageTimeout)
	c.WithTransport(s.transport)
	if s.opts.UserAgent != "" {
		c.UserAgent = s.opts.UserAgent
	} else {
		extensions.RandomUserAgent(c)
	}
	extensions.Referer(c)

	var (
		resp     *Response
		fetchErr error
	)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	})
	c.OnResponse(func(r *colly.Response) {
		resp = &Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       r.Body,
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && isHTTPError(r.StatusCode) {
			fetchErr = &StatusError{URL: req.URL, StatusCode: r.StatusCode, Err: err}
			return
		}
		fetchErr = err
	})

	if err := c.Visit(req.URL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if resp == nil {
		return nil, fmt.Errorf("no response for %s", req.URL)
	}

	if req.WaitSelector != "" {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", req.URL, err)
		}
		if doc.Find(req.WaitSelector).Length() == 0 {
			return nil, fmt.Errorf("%w: %q not found on %s", ErrNotReady, req.WaitSelector, req.URL)
		}
	}
	return resp, nil
}

func (s *httpSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned != nil {
		s.owned.CloseIdleConnections()
	}
	return nil
}
