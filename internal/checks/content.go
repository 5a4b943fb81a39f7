package checks

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aiqso/audit-engine/internal/audit"
)

// H1Tag verifies the page carries exactly one H1.
type H1Tag struct{}

func (H1Tag) ID() string       { return "h1_tag" }
func (H1Tag) Category() string { return audit.CategoryContent }
func (H1Tag) Weight() float64  { return 1.0 }

func (c H1Tag) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	count := doc.Find("h1").Length()
	switch {
	case count == 0:
		res := result(c, audit.StatusCritical, "page has no H1 tag")
		res.Recommendation = "Add exactly one H1 describing the page topic"
		return res
	case count > 1:
		res := result(c, audit.StatusWarning, fmt.Sprintf("page has %d H1 tags, expected 1", count))
		res.Details = map[string]any{"count": count}
		return res
	default:
		return result(c, audit.StatusPass, "page has exactly one H1 tag")
	}
}

// HeadingStructure verifies heading levels never skip downward (an H3
// directly under an H1 breaks the document outline).
type HeadingStructure struct{}

func (HeadingStructure) ID() string       { return "heading_structure" }
func (HeadingStructure) Category() string { return audit.CategoryContent }
func (HeadingStructure) Weight() float64  { return 0.6 }

func (c HeadingStructure) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	var levels []int
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		if len(name) == 2 {
			levels = append(levels, int(name[1]-'0'))
		}
	})
	if len(levels) == 0 {
		return result(c, audit.StatusWarning, "page has no headings")
	}
	last := 0
	for _, level := range levels {
		if last > 0 && level > last+1 {
			res := result(c, audit.StatusWarning, fmt.Sprintf("heading hierarchy skips from H%d to H%d", last, level))
			res.Recommendation = "Nest headings without skipping levels (H1 > H2 > H3)"
			return res
		}
		last = level
	}
	return result(c, audit.StatusPass, fmt.Sprintf("%d headings follow a valid hierarchy", len(levels)))
}

// ImageAlt verifies every image has alt text.
type ImageAlt struct{}

func (ImageAlt) ID() string       { return "image_alt" }
func (ImageAlt) Category() string { return audit.CategoryContent }
func (ImageAlt) Weight() float64  { return 0.8 }

func (c ImageAlt) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	images := doc.Find("img")
	total := images.Length()
	if total == 0 {
		return result(c, audit.StatusInfo, "page has no images")
	}
	missing := 0
	images.Each(func(_ int, s *goquery.Selection) {
		if alt, ok := s.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			missing++
		}
	})
	if missing == 0 {
		return result(c, audit.StatusPass, fmt.Sprintf("all %d images have alt text", total))
	}
	res := result(c, audit.StatusWarning, fmt.Sprintf("%d of %d images are missing alt text", missing, total))
	res.Recommendation = "Add descriptive alt attributes to every content image"
	res.Details = map[string]any{"total": total, "missing": missing}
	return res
}

// WordCount verifies the page carries enough body copy to rank on.
type WordCount struct{}

func (WordCount) ID() string       { return "word_count" }
func (WordCount) Category() string { return audit.CategoryContent }
func (WordCount) Weight() float64  { return 0.8 }

const minWords = 300

func (c WordCount) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, nav, footer, header").Remove()
	words := len(strings.Fields(body.Text()))
	if words < minWords {
		res := result(c, audit.StatusWarning, fmt.Sprintf("page has %d words of content, expected at least %d", words, minWords))
		res.Details = map[string]any{"words": words}
		return res
	}
	res := result(c, audit.StatusPass, fmt.Sprintf("page has %d words of content", words))
	res.Details = map[string]any{"words": words}
	return res
}

// DuplicateSignals flags identical title / meta description / H1 text, a
// common symptom of templated duplicate content.
type DuplicateSignals struct{}

func (DuplicateSignals) ID() string       { return "duplicate_signals" }
func (DuplicateSignals) Category() string { return audit.CategoryContent }
func (DuplicateSignals) Weight() float64  { return 0.4 }

func (c DuplicateSignals) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	title := normalizeText(doc.Find("title").First().Text())
	desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	desc = normalizeText(desc)
	h1 := normalizeText(doc.Find("h1").First().Text())

	if title == "" {
		return skipped(c, "no title to compare against")
	}
	if desc != "" && title == desc {
		res := result(c, audit.StatusWarning, "title and meta description are identical")
		res.Recommendation = "Write a distinct meta description instead of repeating the title"
		return res
	}
	if h1 != "" && title == h1 && desc != "" && desc == h1 {
		return result(c, audit.StatusWarning, "title, meta description and H1 are all identical")
	}
	return result(c, audit.StatusPass, "title, description and H1 are distinct")
}

// InternalLinks verifies the page links to at least one other page on
// the same host.
type InternalLinks struct{}

func (InternalLinks) ID() string       { return "internal_links" }
func (InternalLinks) Category() string { return audit.CategoryContent }
func (InternalLinks) Weight() float64  { return 0.4 }

func (c InternalLinks) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	base, err := url.Parse(p.FinalURL)
	if err != nil || base.Host == "" {
		return skipped(c, "final URL could not be parsed")
	}
	internal := 0
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		if u.Host == base.Host {
			internal++
		}
	})
	if internal == 0 {
		res := result(c, audit.StatusWarning, "page has no internal links")
		res.Recommendation = "Link to related pages on the same site to aid crawl discovery"
		return res
	}
	res := result(c, audit.StatusPass, fmt.Sprintf("page has %d internal links", internal))
	res.Details = map[string]any{"internal_links": internal}
	return res
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
