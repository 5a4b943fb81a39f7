// Package collyfetcher implements the probe fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aiqso/audit-engine/internal/audit"
	"github.com/aiqso/audit-engine/internal/politeness"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

const defaultTimeout = 15 * time.Second

// Fetcher performs the single probe GET each audit starts with. It also
// captures the site's robots.txt alongside the page so the check battery
// can evaluate crawl directives without doing I/O of its own.
type Fetcher struct {
	cfg           Config
	limiter       *politeness.Limiter
	baseCollector *colly.Collector
}

// New builds a Fetcher. The limiter is optional; nil disables pacing.
func New(cfg Config, limiter *politeness.Limiter) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	// Non-2xx responses are parsed so the status after redirect
	// resolution is observable; Fetch turns them into FetchError.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
	}
}

// Fetch executes one HTTP GET and returns the page snapshot. Network
// failures and non-2xx final statuses come back as *audit.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, target string) (*audit.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, &audit.FetchError{Target: target, Err: err}
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, target); err != nil {
			return nil, err
		}
	}

	var (
		page      *audit.Page
		fetchErr  error
		redirects int
	)
	start := time.Now()

	collector := f.newCollector()
	collector.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		redirects = len(via)
		return nil
	})
	collector.OnResponse(func(r *colly.Response) {
		page = &audit.Page{
			URL:           target,
			FinalURL:      r.Request.URL.String(),
			StatusCode:    r.StatusCode,
			Headers:       r.Headers.Clone(),
			Body:          append([]byte(nil), r.Body...),
			Duration:      time.Since(start),
			RedirectCount: redirects,
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = &audit.FetchError{Target: target, StatusCode: status, Err: err}
	})

	if err := runCollector(ctx, collector, target); err != nil {
		return nil, &audit.FetchError{Target: target, Err: err}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if page == nil {
		return nil, &audit.FetchError{Target: target, Err: fmt.Errorf("no response received")}
	}
	if page.StatusCode < http.StatusOK || page.StatusCode >= http.StatusMultipleChoices {
		return nil, &audit.FetchError{Target: target, StatusCode: page.StatusCode}
	}

	page.RobotsTxt = f.fetchRobots(ctx, page.FinalURL)
	return page, nil
}

func (f *Fetcher) newCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	timeout := f.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

// fetchRobots retrieves /robots.txt for the page's origin. Failures are
// tolerated: a nil return means the file was not captured, which the
// robots checks report as skipped rather than failed.
func (f *Fetcher) fetchRobots(ctx context.Context, pageURL string) []byte {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return nil
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	var body []byte
	collector := f.newCollector()
	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode == http.StatusOK && !strings.Contains(http.DetectContentType(r.Body), "html") {
			body = append([]byte(nil), r.Body...)
		}
	})
	if err := runCollector(ctx, collector, robotsURL); err != nil {
		return nil
	}
	return body
}

func runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		return nil
	}
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
		IdleConnTimeout:       90 * time.Second,
	}
}
