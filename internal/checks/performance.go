package checks

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aiqso/audit-engine/internal/audit"
)

// ResponseTime proxies server performance from the measured fetch time.
type ResponseTime struct{}

func (ResponseTime) ID() string       { return "response_time" }
func (ResponseTime) Category() string { return audit.CategoryPerformance }
func (ResponseTime) Weight() float64  { return 1.0 }

const (
	responseTimeGood = 600 * time.Millisecond
	responseTimeBad  = 2 * time.Second
)

func (c ResponseTime) Run(p *audit.Page) audit.CheckResult {
	if p.Duration <= 0 {
		return skipped(c, "fetch timing was not captured")
	}
	ms := p.Duration.Milliseconds()
	switch {
	case p.Duration < responseTimeGood:
		res := result(c, audit.StatusPass, fmt.Sprintf("page responded in %dms", ms))
		res.Details = map[string]any{"duration_ms": ms}
		return res
	case p.Duration < responseTimeBad:
		res := result(c, audit.StatusWarning, fmt.Sprintf("page responded in %dms, expected under %dms", ms, responseTimeGood.Milliseconds()))
		res.Details = map[string]any{"duration_ms": ms}
		return res
	default:
		res := result(c, audit.StatusCritical, fmt.Sprintf("page responded in %dms", ms))
		res.Recommendation = "Investigate server latency; responses above 2s hurt crawl budget and rankings"
		res.Details = map[string]any{"duration_ms": ms}
		return res
	}
}

// PageSize verifies the payload stays inside a reasonable budget.
type PageSize struct{}

func (PageSize) ID() string       { return "page_size" }
func (PageSize) Category() string { return audit.CategoryPerformance }
func (PageSize) Weight() float64  { return 0.8 }

const (
	pageSizeWarn = 3 << 20
	pageSizeBad  = 6 << 20
)

func (c PageSize) Run(p *audit.Page) audit.CheckResult {
	size := len(p.Body)
	mb := float64(size) / (1 << 20)
	switch {
	case size < pageSizeWarn:
		res := result(c, audit.StatusPass, fmt.Sprintf("page size is %.2f MB", mb))
		res.Details = map[string]any{"bytes": size}
		return res
	case size < pageSizeBad:
		res := result(c, audit.StatusWarning, fmt.Sprintf("page size is %.2f MB, expected under 3 MB", mb))
		res.Details = map[string]any{"bytes": size}
		return res
	default:
		res := result(c, audit.StatusCritical, fmt.Sprintf("page size is %.2f MB", mb))
		res.Recommendation = "Compress images and trim unused assets"
		res.Details = map[string]any{"bytes": size}
		return res
	}
}

// Compression verifies the response was served compressed.
type Compression struct{}

func (Compression) ID() string       { return "compression" }
func (Compression) Category() string { return audit.CategoryPerformance }
func (Compression) Weight() float64  { return 0.5 }

func (c Compression) Run(p *audit.Page) audit.CheckResult {
	if p.Headers == nil {
		return skipped(c, "response headers were not captured")
	}
	encoding := strings.ToLower(p.Headers.Get("Content-Encoding"))
	if strings.Contains(encoding, "gzip") || strings.Contains(encoding, "br") || strings.Contains(encoding, "zstd") {
		return result(c, audit.StatusPass, "response compressed with "+encoding)
	}
	res := result(c, audit.StatusWarning, "response was not compressed")
	res.Recommendation = "Enable gzip or brotli compression on the server"
	return res
}

// RenderBlockingScripts counts head scripts without async or defer.
type RenderBlockingScripts struct{}

func (RenderBlockingScripts) ID() string       { return "render_blocking_scripts" }
func (RenderBlockingScripts) Category() string { return audit.CategoryPerformance }
func (RenderBlockingScripts) Weight() float64  { return 0.6 }

func (c RenderBlockingScripts) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	blocking := 0
	doc.Find("head script[src]").Each(func(_ int, s *goquery.Selection) {
		_, async := s.Attr("async")
		_, deferred := s.Attr("defer")
		if mod, _ := s.Attr("type"); mod == "module" {
			return
		}
		if !async && !deferred {
			blocking++
		}
	})
	if blocking == 0 {
		return result(c, audit.StatusPass, "no render-blocking scripts in head")
	}
	res := result(c, audit.StatusWarning, fmt.Sprintf("%d render-blocking script(s) in head", blocking))
	res.Recommendation = "Add defer or async to head scripts, or move them before </body>"
	res.Details = map[string]any{"count": blocking}
	return res
}

// RenderBlockingStyles counts stylesheet links in head.
type RenderBlockingStyles struct{}

func (RenderBlockingStyles) ID() string       { return "render_blocking_styles" }
func (RenderBlockingStyles) Category() string { return audit.CategoryPerformance }
func (RenderBlockingStyles) Weight() float64  { return 0.4 }

const maxStylesheets = 4

func (c RenderBlockingStyles) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	count := doc.Find(`head link[rel="stylesheet"]`).Length()
	if count <= maxStylesheets {
		return result(c, audit.StatusPass, fmt.Sprintf("%d stylesheet(s) in head", count))
	}
	res := result(c, audit.StatusWarning, fmt.Sprintf("%d stylesheets in head, consider bundling", count))
	res.Details = map[string]any{"count": count}
	return res
}

// InlineStyleVolume flags unusually large inline <style> blocks.
type InlineStyleVolume struct{}

func (InlineStyleVolume) ID() string       { return "inline_style_volume" }
func (InlineStyleVolume) Category() string { return audit.CategoryPerformance }
func (InlineStyleVolume) Weight() float64  { return 0.2 }

const inlineStyleBudget = 50 << 10

func (c InlineStyleVolume) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	total := 0
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		total += len(s.Text())
	})
	if total <= inlineStyleBudget {
		return result(c, audit.StatusPass, fmt.Sprintf("%d KB of inline styles", total>>10))
	}
	res := result(c, audit.StatusWarning, fmt.Sprintf("%d KB of inline styles, expected under %d KB", total>>10, inlineStyleBudget>>10))
	res.Recommendation = "Move large style blocks into cacheable external stylesheets"
	return res
}
