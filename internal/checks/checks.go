// Package checks implements the SEO check battery. Every check is a pure
// function of the fetched page: parse errors and missing data degrade to a
// skipped result, never an error or panic.
package checks

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/aiqso/audit-engine/internal/audit"
)

// registry fixes the order in which checks run; Result.Checks is
// reproducible because this order never changes at runtime.
var registry = []audit.Check{
	// meta
	TitleLength{},
	MetaDescription{},
	OpenGraphTags{},
	TwitterCardTags{},
	LangAttribute{},
	Favicon{},
	// content
	H1Tag{},
	HeadingStructure{},
	ImageAlt{},
	WordCount{},
	DuplicateSignals{},
	InternalLinks{},
	// technical
	HTTPS{},
	Canonical{},
	Noindex{},
	RobotsTxt{},
	SitemapDeclared{},
	Viewport{},
	StructuredData{},
	// performance
	ResponseTime{},
	PageSize{},
	Compression{},
	RenderBlockingScripts{},
	RenderBlockingStyles{},
	InlineStyleVolume{},
	// configuration
	SecurityHeaders{},
	RedirectChain{},
}

// All returns the full battery in registration order.
func All() []audit.Check {
	out := make([]audit.Check, len(registry))
	copy(out, registry)
	return out
}

// Select returns the subset of the battery whose IDs appear in ids,
// preserving registration order. An empty ids slice selects everything.
// Unknown IDs are ignored.
func Select(ids []string) []audit.Check {
	if len(ids) == 0 {
		return All()
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []audit.Check
	for _, c := range registry {
		if want[c.ID()] {
			out = append(out, c)
		}
	}
	return out
}

// Known reports whether id names a registered check.
func Known(id string) bool {
	for _, c := range registry {
		if c.ID() == id {
			return true
		}
	}
	return false
}

func result(c audit.Check, status audit.CheckStatus, message string) audit.CheckResult {
	return audit.CheckResult{
		CheckID:  c.ID(),
		Category: c.Category(),
		Weight:   c.Weight(),
		Status:   status,
		Message:  message,
	}
}

func skipped(c audit.Check, reason string) audit.CheckResult {
	return result(c, audit.StatusSkipped, reason)
}

// pageDoc returns the shared parsed document, or a skipped result when
// the body cannot be parsed as HTML.
func pageDoc(c audit.Check, p *audit.Page) (*goquery.Document, *audit.CheckResult) {
	doc, err := p.Doc()
	if err != nil {
		res := skipped(c, "page body could not be parsed as HTML")
		return nil, &res
	}
	return doc, nil
}
