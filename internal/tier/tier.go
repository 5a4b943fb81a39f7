// Package tier defines subscription tiers and the registry that resolves
// them. Tiers are loaded from YAML definition files and control audit
// cadence, quota, feature gates and the enabled check set.
package tier

import (
	"fmt"
	"time"
)

// Cadence names how often scheduled audits recur for a tier.
type Cadence string

// Supported cadences.
const (
	CadenceRealtime Cadence = "realtime"
	CadenceDaily    Cadence = "daily"
	CadenceWeekly   Cadence = "weekly"
	CadenceMonthly  Cadence = "monthly"
)

// Interval returns the minimum gap between scheduled audits. Realtime
// returns zero, meaning a target is due on every scheduler tick.
func (c Cadence) Interval() time.Duration {
	switch c {
	case CadenceRealtime:
		return 0
	case CadenceDaily:
		return 24 * time.Hour
	case CadenceWeekly:
		return 7 * 24 * time.Hour
	case CadenceMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether c is a known cadence.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceRealtime, CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	}
	return false
}

// RateLimits bounds a tier's resource consumption. AuditsPerPeriod of
// zero or below means unlimited.
type RateLimits struct {
	AuditsPerPeriod int `mapstructure:"audits_per_period" json:"audits_per_period"`
	MaxSites        int `mapstructure:"max_sites" json:"max_sites"`
	MaxKeywords     int `mapstructure:"max_keywords" json:"max_keywords"`
}

// AuditSettings configures how audits run for a tier. An empty
// EnabledChecks list enables the full battery.
type AuditSettings struct {
	Cadence       Cadence  `mapstructure:"cadence" json:"cadence"`
	EnabledChecks []string `mapstructure:"enabled_checks" json:"enabled_checks"`
}

// Tier is one subscription level.
type Tier struct {
	Name        string          `mapstructure:"name" json:"name"`
	DisplayName string          `mapstructure:"display_name" json:"display_name"`
	RateLimits  RateLimits      `mapstructure:"rate_limits" json:"rate_limits"`
	Features    map[string]bool `mapstructure:"features" json:"features"`
	Audit       AuditSettings   `mapstructure:"audit" json:"audit"`
}

// Validate checks the definition for structural errors.
func (t Tier) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tier name is required")
	}
	if !t.Audit.Cadence.Valid() {
		return fmt.Errorf("tier %q: unknown cadence %q", t.Name, t.Audit.Cadence)
	}
	return nil
}

// HasFeature reports whether the named feature flag is enabled.
func (t Tier) HasFeature(name string) bool {
	return t.Features[name]
}
