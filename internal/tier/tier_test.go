package tier

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const starterYAML = `name: starter
display_name: Starter
rate_limits:
  audits_per_period: 10
  max_sites: 3
  max_keywords: 50
features:
  js_rendering: false
  score_drop_alerts: true
audit:
  cadence: weekly
  enabled_checks:
    - title
    - meta_description
    - https
`

const proYAML = `name: pro
display_name: Professional
rate_limits:
  audits_per_period: 200
  max_sites: 25
  max_keywords: 1000
features:
  js_rendering: true
  score_drop_alerts: true
audit:
  cadence: daily
`

func writeTierDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := writeTierDir(t, map[string]string{
		"starter.yaml": starterYAML,
		"pro.yaml":     proYAML,
		"notes.txt":    "ignored",
	})

	r, err := LoadDir(dir, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, []string{"pro", "starter"}, r.Names())

	starter, err := r.Get("starter")
	require.NoError(t, err)
	require.Equal(t, "Starter", starter.DisplayName)
	require.Equal(t, 10, starter.RateLimits.AuditsPerPeriod)
	require.Equal(t, CadenceWeekly, starter.Audit.Cadence)
	require.Equal(t, []string{"title", "meta_description", "https"}, starter.Audit.EnabledChecks)
	require.False(t, starter.HasFeature("js_rendering"))
	require.True(t, starter.HasFeature("score_drop_alerts"))
}

func TestGetUnknownTier(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(Tier{Name: "pro", Audit: AuditSettings{Cadence: CadenceDaily}})
	require.NoError(t, err)

	_, err = r.Get("enterprise")
	require.ErrorIs(t, err, ErrUnknownTier)

	_, err = r.CadenceFor("enterprise")
	require.ErrorIs(t, err, ErrUnknownTier)

	_, err = r.QuotaFor("enterprise")
	require.ErrorIs(t, err, ErrUnknownTier)

	_, err = r.IsFeatureEnabled("enterprise", "js_rendering")
	require.ErrorIs(t, err, ErrUnknownTier)
}

func TestLoadDirRejectsBadCadence(t *testing.T) {
	t.Parallel()

	dir := writeTierDir(t, map[string]string{
		"bad.yaml": "name: bad\naudit:\n  cadence: hourly\n",
	})

	_, err := LoadDir(dir, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown cadence")
}

func TestLoadDirRejectsDuplicates(t *testing.T) {
	t.Parallel()

	dir := writeTierDir(t, map[string]string{
		"a.yaml": "name: pro\naudit:\n  cadence: daily\n",
		"b.yaml": "name: pro\naudit:\n  cadence: weekly\n",
	})

	_, err := LoadDir(dir, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "defined twice")
}

func TestLoadDirRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := LoadDir(t.TempDir(), zap.NewNop())
	require.Error(t, err)
}

func TestReloadKeepsOldSetOnError(t *testing.T) {
	t.Parallel()

	dir := writeTierDir(t, map[string]string{"pro.yaml": proYAML})
	r, err := LoadDir(dir, zap.NewNop())
	require.NoError(t, err)

	// Break the directory, then reload.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pro.yaml"), []byte("name: pro\naudit:\n  cadence: nope\n"), 0o644))
	require.Error(t, r.Reload())

	// The previous set still serves.
	got, err := r.Get("pro")
	require.NoError(t, err)
	require.Equal(t, CadenceDaily, got.Audit.Cadence)
}

func TestReloadSwapsSet(t *testing.T) {
	t.Parallel()

	dir := writeTierDir(t, map[string]string{"pro.yaml": proYAML})
	r, err := LoadDir(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "starter.yaml"), []byte(starterYAML), 0o644))
	require.NoError(t, r.Reload())
	require.Equal(t, []string{"pro", "starter"}, r.Names())
}

func TestCadenceInterval(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Duration(0), CadenceRealtime.Interval())
	require.Equal(t, 24*time.Hour, CadenceDaily.Interval())
	require.Equal(t, 7*24*time.Hour, CadenceWeekly.Interval())
	require.Equal(t, 30*24*time.Hour, CadenceMonthly.Interval())
}
