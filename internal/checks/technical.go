package checks

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"

	"github.com/aiqso/audit-engine/internal/audit"
)

// HTTPS verifies the page was served over TLS after redirect resolution.
type HTTPS struct{}

func (HTTPS) ID() string       { return "https" }
func (HTTPS) Category() string { return audit.CategoryTechnical }
func (HTTPS) Weight() float64  { return 1.0 }

func (c HTTPS) Run(p *audit.Page) audit.CheckResult {
	u, err := url.Parse(p.FinalURL)
	if err != nil {
		return skipped(c, "final URL could not be parsed")
	}
	if u.Scheme != "https" {
		res := result(c, audit.StatusCritical, "page is served over "+u.Scheme)
		res.Recommendation = "Serve the site over HTTPS and redirect HTTP traffic"
		return res
	}
	return result(c, audit.StatusPass, "page is served over HTTPS")
}

// Canonical verifies a canonical link is declared and absolute.
type Canonical struct{}

func (Canonical) ID() string       { return "canonical" }
func (Canonical) Category() string { return audit.CategoryTechnical }
func (Canonical) Weight() float64  { return 0.8 }

func (c Canonical) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		res := result(c, audit.StatusWarning, "no canonical URL declared")
		res.Recommendation = "Declare a canonical link to prevent duplicate content issues"
		return res
	}
	u, err := url.Parse(href)
	if err != nil || !u.IsAbs() {
		res := result(c, audit.StatusWarning, "canonical URL is not absolute: "+truncate(href, 80))
		res.Recommendation = "Use a fully qualified canonical URL"
		return res
	}
	res := result(c, audit.StatusPass, "canonical URL declared")
	res.Details = map[string]any{"canonical": href}
	return res
}

// Noindex flags pages excluded from indexing via robots meta tag or the
// X-Robots-Tag header.
type Noindex struct{}

func (Noindex) ID() string       { return "noindex" }
func (Noindex) Category() string { return audit.CategoryTechnical }
func (Noindex) Weight() float64  { return 1.0 }

func (c Noindex) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	var source string
	doc.Find(`meta[name="robots"], meta[name="googlebot"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if content, ok := s.Attr("content"); ok && strings.Contains(strings.ToLower(content), "noindex") {
			source = "robots meta tag"
			return false
		}
		return true
	})
	if source == "" && p.Headers != nil {
		if strings.Contains(strings.ToLower(p.Headers.Get("X-Robots-Tag")), "noindex") {
			source = "X-Robots-Tag header"
		}
	}
	if source != "" {
		res := result(c, audit.StatusCritical, "page carries a noindex directive ("+source+")")
		res.Recommendation = "Remove the noindex directive if this page should rank"
		return res
	}
	return result(c, audit.StatusPass, "no noindex directive found")
}

// RobotsTxt verifies the site publishes a parseable robots.txt.
type RobotsTxt struct{}

func (RobotsTxt) ID() string       { return "robots_txt" }
func (RobotsTxt) Category() string { return audit.CategoryTechnical }
func (RobotsTxt) Weight() float64  { return 0.4 }

func (c RobotsTxt) Run(p *audit.Page) audit.CheckResult {
	if p.RobotsTxt == nil {
		res := result(c, audit.StatusWarning, "site has no robots.txt")
		res.Recommendation = "Publish a robots.txt to guide crawlers"
		return res
	}
	if _, err := robotstxt.FromBytes(p.RobotsTxt); err != nil {
		return result(c, audit.StatusWarning, "robots.txt exists but could not be parsed")
	}
	return result(c, audit.StatusPass, "robots.txt present and parseable")
}

// SitemapDeclared verifies robots.txt declares at least one sitemap.
type SitemapDeclared struct{}

func (SitemapDeclared) ID() string       { return "sitemap" }
func (SitemapDeclared) Category() string { return audit.CategoryTechnical }
func (SitemapDeclared) Weight() float64  { return 0.5 }

func (c SitemapDeclared) Run(p *audit.Page) audit.CheckResult {
	if p.RobotsTxt == nil {
		return skipped(c, "robots.txt was not captured during fetch")
	}
	robots, err := robotstxt.FromBytes(p.RobotsTxt)
	if err != nil {
		return skipped(c, "robots.txt could not be parsed")
	}
	if len(robots.Sitemaps) == 0 {
		res := result(c, audit.StatusWarning, "robots.txt declares no sitemap")
		res.Recommendation = "Add a Sitemap: line pointing at the XML sitemap"
		return res
	}
	res := result(c, audit.StatusPass, fmt.Sprintf("%d sitemap(s) declared in robots.txt", len(robots.Sitemaps)))
	res.Details = map[string]any{"sitemaps": robots.Sitemaps}
	return res
}

// Viewport verifies the mobile viewport meta tag is present.
type Viewport struct{}

func (Viewport) ID() string       { return "viewport" }
func (Viewport) Category() string { return audit.CategoryTechnical }
func (Viewport) Weight() float64  { return 0.8 }

func (c Viewport) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	content, ok := doc.Find(`meta[name="viewport"]`).First().Attr("content")
	if !ok {
		res := result(c, audit.StatusCritical, "page has no viewport meta tag")
		res.Recommendation = `Add <meta name="viewport" content="width=device-width, initial-scale=1">`
		return res
	}
	res := result(c, audit.StatusPass, "viewport meta tag present")
	res.Details = map[string]any{"content": content}
	return res
}

// StructuredData verifies JSON-LD blocks exist and contain valid JSON.
type StructuredData struct{}

func (StructuredData) ID() string       { return "structured_data" }
func (StructuredData) Category() string { return audit.CategoryTechnical }
func (StructuredData) Weight() float64  { return 0.5 }

func (c StructuredData) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	blocks := doc.Find(`script[type="application/ld+json"]`)
	if blocks.Length() == 0 {
		res := result(c, audit.StatusWarning, "no JSON-LD structured data found")
		res.Recommendation = "Add schema.org markup for rich search results"
		return res
	}
	invalid := 0
	blocks.Each(func(_ int, s *goquery.Selection) {
		if !json.Valid([]byte(s.Text())) {
			invalid++
		}
	})
	if invalid > 0 {
		return result(c, audit.StatusWarning, fmt.Sprintf("%d of %d JSON-LD blocks contain invalid JSON", invalid, blocks.Length()))
	}
	return result(c, audit.StatusPass, fmt.Sprintf("%d valid JSON-LD block(s) found", blocks.Length()))
}
