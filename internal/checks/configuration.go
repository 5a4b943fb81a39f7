package checks

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/aiqso/audit-engine/internal/audit"
)

// SecurityHeaders verifies the hardening headers search engines and
// browsers reward: HSTS (HTTPS sites only), X-Content-Type-Options and a
// Content-Security-Policy.
type SecurityHeaders struct{}

func (SecurityHeaders) ID() string       { return "security_headers" }
func (SecurityHeaders) Category() string { return audit.CategoryConfiguration }
func (SecurityHeaders) Weight() float64  { return 0.6 }

func (c SecurityHeaders) Run(p *audit.Page) audit.CheckResult {
	if p.Headers == nil {
		return skipped(c, "response headers were not captured")
	}
	var missing []string
	if u, err := url.Parse(p.FinalURL); err == nil && u.Scheme == "https" {
		if p.Headers.Get("Strict-Transport-Security") == "" {
			missing = append(missing, "Strict-Transport-Security")
		}
	}
	if !strings.EqualFold(p.Headers.Get("X-Content-Type-Options"), "nosniff") {
		missing = append(missing, "X-Content-Type-Options")
	}
	if p.Headers.Get("Content-Security-Policy") == "" {
		missing = append(missing, "Content-Security-Policy")
	}
	if len(missing) == 0 {
		return result(c, audit.StatusPass, "security headers present")
	}
	res := result(c, audit.StatusWarning, fmt.Sprintf("%d security header(s) missing", len(missing)))
	res.Recommendation = "Add missing headers: " + strings.Join(missing, ", ")
	res.Details = map[string]any{"missing": missing}
	return res
}

// RedirectChain flags long redirect chains between the requested and
// final URL.
type RedirectChain struct{}

func (RedirectChain) ID() string       { return "redirect_chain" }
func (RedirectChain) Category() string { return audit.CategoryConfiguration }
func (RedirectChain) Weight() float64  { return 0.5 }

func (c RedirectChain) Run(p *audit.Page) audit.CheckResult {
	switch {
	case p.RedirectCount == 0:
		return result(c, audit.StatusPass, "no redirects")
	case p.RedirectCount <= 2:
		res := result(c, audit.StatusInfo, fmt.Sprintf("%d redirect(s) before the final URL", p.RedirectCount))
		res.Details = map[string]any{"redirects": p.RedirectCount, "final_url": p.FinalURL}
		return res
	default:
		res := result(c, audit.StatusWarning, fmt.Sprintf("%d redirects before the final URL", p.RedirectCount))
		res.Recommendation = "Collapse the redirect chain to a single hop"
		res.Details = map[string]any{"redirects": p.RedirectCount, "final_url": p.FinalURL}
		return res
	}
}
