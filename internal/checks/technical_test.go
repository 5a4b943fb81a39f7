package checks

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aiqso/audit-engine/internal/audit"
)

func TestHTTPS(t *testing.T) {
	t.Parallel()

	res := HTTPS{}.Run(htmlPage(`<html></html>`))
	require.Equal(t, audit.StatusPass, res.Status)

	page := htmlPage(`<html></html>`)
	page.FinalURL = "http://example.com/"
	res = HTTPS{}.Run(page)
	require.Equal(t, audit.StatusCritical, res.Status)

	page = htmlPage(`<html></html>`)
	page.FinalURL = "://broken"
	res = HTTPS{}.Run(page)
	require.Equal(t, audit.StatusSkipped, res.Status)
}

func TestCanonical(t *testing.T) {
	t.Parallel()

	res := Canonical{}.Run(htmlPage(`<html><head><link rel="canonical" href="https://example.com/page"></head></html>`))
	require.Equal(t, audit.StatusPass, res.Status)
	require.Equal(t, "https://example.com/page", res.Details["canonical"])

	res = Canonical{}.Run(htmlPage(`<html><head><link rel="canonical" href="/page"></head></html>`))
	require.Equal(t, audit.StatusWarning, res.Status)
	require.Contains(t, res.Message, "not absolute")

	res = Canonical{}.Run(htmlPage(`<html><head></head></html>`))
	require.Equal(t, audit.StatusWarning, res.Status)
}

func TestNoindex(t *testing.T) {
	t.Parallel()

	res := Noindex{}.Run(htmlPage(`<html><head><meta name="robots" content="noindex, nofollow"></head></html>`))
	require.Equal(t, audit.StatusCritical, res.Status)
	require.Contains(t, res.Message, "robots meta tag")

	page := htmlPage(`<html><head></head></html>`)
	page.Headers.Set("X-Robots-Tag", "noindex")
	res = Noindex{}.Run(page)
	require.Equal(t, audit.StatusCritical, res.Status)
	require.Contains(t, res.Message, "X-Robots-Tag")

	res = Noindex{}.Run(htmlPage(`<html><head><meta name="robots" content="index, follow"></head></html>`))
	require.Equal(t, audit.StatusPass, res.Status)
}

func TestRobotsTxt(t *testing.T) {
	t.Parallel()

	page := htmlPage(`<html></html>`)
	res := RobotsTxt{}.Run(page)
	require.Equal(t, audit.StatusWarning, res.Status)

	page.RobotsTxt = []byte("User-agent: *\nDisallow: /private\n")
	res = RobotsTxt{}.Run(page)
	require.Equal(t, audit.StatusPass, res.Status)
}

func TestSitemapDeclared(t *testing.T) {
	t.Parallel()

	page := htmlPage(`<html></html>`)
	res := SitemapDeclared{}.Run(page)
	require.Equal(t, audit.StatusSkipped, res.Status)

	page.RobotsTxt = []byte("User-agent: *\nAllow: /\n")
	res = SitemapDeclared{}.Run(page)
	require.Equal(t, audit.StatusWarning, res.Status)

	page = htmlPage(`<html></html>`)
	page.RobotsTxt = []byte("User-agent: *\nSitemap: https://example.com/sitemap.xml\n")
	res = SitemapDeclared{}.Run(page)
	require.Equal(t, audit.StatusPass, res.Status)
}

func TestViewport(t *testing.T) {
	t.Parallel()

	res := Viewport{}.Run(htmlPage(`<html><head><meta name="viewport" content="width=device-width, initial-scale=1"></head></html>`))
	require.Equal(t, audit.StatusPass, res.Status)

	res = Viewport{}.Run(htmlPage(`<html><head></head></html>`))
	require.Equal(t, audit.StatusCritical, res.Status)
}

func TestStructuredData(t *testing.T) {
	t.Parallel()

	valid := `<html><head><script type="application/ld+json">{"@context":"https://schema.org","@type":"Organization"}</script></head></html>`
	res := StructuredData{}.Run(htmlPage(valid))
	require.Equal(t, audit.StatusPass, res.Status)

	invalid := `<html><head><script type="application/ld+json">{not json</script></head></html>`
	res = StructuredData{}.Run(htmlPage(invalid))
	require.Equal(t, audit.StatusWarning, res.Status)
	require.Contains(t, res.Message, "invalid JSON")

	res = StructuredData{}.Run(htmlPage(`<html><head></head></html>`))
	require.Equal(t, audit.StatusWarning, res.Status)
}
