package checks

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aiqso/audit-engine/internal/audit"
)

// TitleLength verifies the page title exists and fits the 30-60
// character window search engines display in full.
type TitleLength struct{}

func (TitleLength) ID() string       { return "title" }
func (TitleLength) Category() string { return audit.CategoryMeta }
func (TitleLength) Weight() float64  { return 1.0 }

func (c TitleLength) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	n := len([]rune(title))
	switch {
	case n == 0:
		res := result(c, audit.StatusCritical, "page has no <title> tag")
		res.Recommendation = "Add a descriptive title of 30-60 characters"
		return res
	case n < 30 || n > 60:
		res := result(c, audit.StatusWarning, fmt.Sprintf("title is %d characters, expected 30-60", n))
		res.Details = map[string]any{"title": truncate(title, 80), "length": n}
		return res
	default:
		res := result(c, audit.StatusPass, fmt.Sprintf("title is %d characters", n))
		res.Details = map[string]any{"title": truncate(title, 80), "length": n}
		return res
	}
}

// MetaDescription verifies the meta description exists and fits the
// 120-160 character snippet window.
type MetaDescription struct{}

func (MetaDescription) ID() string       { return "meta_description" }
func (MetaDescription) Category() string { return audit.CategoryMeta }
func (MetaDescription) Weight() float64  { return 1.0 }

func (c MetaDescription) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	desc = strings.TrimSpace(desc)
	n := len([]rune(desc))
	switch {
	case n == 0:
		res := result(c, audit.StatusCritical, "page has no meta description")
		res.Recommendation = "Add a meta description of 120-160 characters"
		return res
	case n < 120 || n > 160:
		res := result(c, audit.StatusWarning, fmt.Sprintf("meta description is %d characters, expected 120-160", n))
		res.Details = map[string]any{"length": n}
		return res
	default:
		return result(c, audit.StatusPass, fmt.Sprintf("meta description is %d characters", n))
	}
}

// OpenGraphTags verifies the four Open Graph properties social networks
// need to render a share card.
type OpenGraphTags struct{}

func (OpenGraphTags) ID() string       { return "og_tags" }
func (OpenGraphTags) Category() string { return audit.CategoryMeta }
func (OpenGraphTags) Weight() float64  { return 0.5 }

func (c OpenGraphTags) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	required := []string{"og:title", "og:description", "og:image", "og:url"}
	found := map[string]bool{}
	doc.Find(`meta[property^="og:"]`).Each(func(_ int, s *goquery.Selection) {
		if prop, ok := s.Attr("property"); ok {
			found[prop] = true
		}
	})
	var missing []string
	for _, prop := range required {
		if !found[prop] {
			missing = append(missing, prop)
		}
	}
	if len(missing) == 0 {
		return result(c, audit.StatusPass, "all required Open Graph tags present")
	}
	res := result(c, audit.StatusWarning, fmt.Sprintf("%d of %d required Open Graph tags present", len(required)-len(missing), len(required)))
	res.Recommendation = "Add missing tags: " + strings.Join(missing, ", ")
	res.Details = map[string]any{"missing": missing}
	return res
}

// TwitterCardTags verifies at least one twitter: meta tag is present.
type TwitterCardTags struct{}

func (TwitterCardTags) ID() string       { return "twitter_tags" }
func (TwitterCardTags) Category() string { return audit.CategoryMeta }
func (TwitterCardTags) Weight() float64  { return 0.3 }

func (c TwitterCardTags) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	count := doc.Find(`meta[name^="twitter:"]`).Length()
	if count == 0 {
		res := result(c, audit.StatusWarning, "no Twitter card tags found")
		res.Recommendation = "Add twitter:card, twitter:title and twitter:description tags"
		return res
	}
	return result(c, audit.StatusPass, fmt.Sprintf("%d Twitter card tags found", count))
}

// LangAttribute verifies the html element declares its language.
type LangAttribute struct{}

func (LangAttribute) ID() string       { return "lang_attribute" }
func (LangAttribute) Category() string { return audit.CategoryMeta }
func (LangAttribute) Weight() float64  { return 0.4 }

func (c LangAttribute) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	lang, ok := doc.Find("html").First().Attr("lang")
	lang = strings.TrimSpace(lang)
	if !ok || lang == "" {
		res := result(c, audit.StatusWarning, "html element has no lang attribute")
		res.Recommendation = `Declare the document language, e.g. <html lang="en">`
		return res
	}
	res := result(c, audit.StatusPass, "document language is "+lang)
	res.Details = map[string]any{"lang": lang}
	return res
}

// Favicon verifies a favicon link is declared.
type Favicon struct{}

func (Favicon) ID() string       { return "favicon" }
func (Favicon) Category() string { return audit.CategoryMeta }
func (Favicon) Weight() float64  { return 0.2 }

func (c Favicon) Run(p *audit.Page) audit.CheckResult {
	doc, skip := pageDoc(c, p)
	if skip != nil {
		return *skip
	}
	if doc.Find(`link[rel="icon"], link[rel="shortcut icon"], link[rel="apple-touch-icon"]`).Length() == 0 {
		return result(c, audit.StatusWarning, "no favicon link declared")
	}
	return result(c, audit.StatusPass, "favicon declared")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
