// Package page fetches museum HTML pages with colly and parses them for
// XPath extraction with htmlquery.
package page

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
)

const defaultTimeout = 30 * time.Second

// Waiter throttles outbound requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the collector.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Client performs single-page GETs. It is safe for concurrent use; every
// request runs on its own clone of a base collector, sharing transport and
// cookie jar.
type Client struct {
	cfg     Config
	base    *colly.Collector
	limiter Waiter
}

// New builds a Client. limiter may be nil.
func New(cfg Config, limiter Waiter) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.IgnoreRobotsTxt = true
	return &Client{cfg: cfg, base: c, limiter: limiter}
}

// Get fetches url and parses the body as HTML.
func (c *Client) Get(ctx context.Context, url string) (*html.Node, error) {
	body, err := c.GetBytes(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

// GetBytes fetches url and returns the raw body. Non-2xx responses become
// *harvest.StatusError.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, url); err != nil {
			return nil, err
		}
	}

	collector := c.base.Clone()
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(c.cfg.Timeout)
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			fetchErr = &harvest.StatusError{Code: r.StatusCode, URL: url}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fetchErr
		}
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", url, err)
		}
		return body, nil
	}
}

// Text returns the trimmed text selected by expr, or "" when nothing matches.
// expr may select an element, a text() node or an @attribute.
func Text(doc *html.Node, expr string) string {
	node, err := htmlquery.Query(doc, expr)
	if err != nil || node == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(node))
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
