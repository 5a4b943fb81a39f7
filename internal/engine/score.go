package engine

import (
	"math"

	"github.com/aiqso/audit-engine/internal/audit"
)

// Score computes the weighted overall score from finalized check results.
// Skipped checks are excluded from both the numerator and the denominator.
// It returns nil when every check was skipped, which is distinct from a
// zero score where checks ran and all failed.
func Score(checks []audit.CheckResult) *int {
	var earned, possible float64
	for _, c := range checks {
		if !c.Status.Counted() {
			continue
		}
		possible += c.Weight
		if c.Status.Earns() {
			earned += c.Weight
		}
	}
	if possible == 0 {
		return nil
	}
	s := int(math.Round(100 * earned / possible))
	return &s
}

// CategoryScores computes the same weighted ratio per category. Categories
// where every check was skipped are omitted.
func CategoryScores(checks []audit.CheckResult) map[string]int {
	earned := make(map[string]float64)
	possible := make(map[string]float64)
	for _, c := range checks {
		if !c.Status.Counted() {
			continue
		}
		possible[c.Category] += c.Weight
		if c.Status.Earns() {
			earned[c.Category] += c.Weight
		}
	}
	if len(possible) == 0 {
		return nil
	}
	out := make(map[string]int, len(possible))
	for cat, p := range possible {
		out[cat] = int(math.Round(100 * earned[cat] / p))
	}
	return out
}

// severityCounts tallies critical and warning results.
func severityCounts(checks []audit.CheckResult) (critical, warning int) {
	for _, c := range checks {
		switch c.Status {
		case audit.StatusCritical:
			critical++
		case audit.StatusWarning:
			warning++
		}
	}
	return critical, warning
}
