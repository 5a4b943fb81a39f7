// Package dispatch executes audit jobs end to end: resolve the tier, run
// the engine, archive the raw page, persist the snapshot and publish the
// completion event. The same path serves queued scheduled jobs and
// on-demand API requests.
package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aiqso/audit-engine/internal/audit"
	"github.com/aiqso/audit-engine/internal/checks"
	"github.com/aiqso/audit-engine/internal/engine"
	"github.com/aiqso/audit-engine/internal/metrics"
	"github.com/aiqso/audit-engine/internal/tier"
)

// FeatureJSRendering gates headless promotion per tier.
const FeatureJSRendering = "js_rendering"

// TopicAuditCompleted is the event topic for finished audits.
const TopicAuditCompleted = "audit.completed"

const defaultScoreDropThreshold = 10

// AuditCompletedEvent is the payload published after every finished run.
type AuditCompletedEvent struct {
	AuditID       string    `json:"audit_id"`
	ClientID      string    `json:"client_id"`
	Target        string    `json:"target"`
	Tier          string    `json:"tier"`
	Status        string    `json:"status"`
	Score         *int      `json:"score"`
	CriticalCount int       `json:"critical_count"`
	WarningCount  int       `json:"warning_count"`
	FinishedAt    time.Time `json:"finished_at"`
	HTMLBlobURI   string    `json:"html_blob_uri,omitempty"`

	// ScoreDrop is set when the score fell at least the alert threshold
	// below the previous completed run.
	ScoreDrop *int `json:"score_drop,omitempty"`
}

// Config tunes the execution path.
type Config struct {
	// BlobPrefix prefixes archived page paths inside the blob store.
	BlobPrefix string

	// ScoreDropThreshold is the minimum score decline, in points, that
	// triggers a score-drop alert. Zero uses the default of 10.
	ScoreDropThreshold int
}

// Service runs one audit job through the full pipeline.
type Service struct {
	cfg    Config
	tiers  *tier.Registry
	runner *engine.Runner
	store  audit.SnapshotStore
	blobs  audit.BlobStore
	pub    audit.Publisher
	log    *zap.Logger
}

// NewService creates a Service. The blob store and publisher are
// optional; when nil, archival and events are skipped.
func NewService(cfg Config, tiers *tier.Registry, runner *engine.Runner, store audit.SnapshotStore, blobs audit.BlobStore, pub audit.Publisher, log *zap.Logger) *Service {
	if cfg.ScoreDropThreshold <= 0 {
		cfg.ScoreDropThreshold = defaultScoreDropThreshold
	}
	return &Service{
		cfg:    cfg,
		tiers:  tiers,
		runner: runner,
		store:  store,
		blobs:  blobs,
		pub:    pub,
		log:    log,
	}
}

// Runner exposes the underlying engine runner.
func (s *Service) Runner() *engine.Runner {
	return s.runner
}

// Execute runs one job and returns the persisted result. Tier resolution
// failures and in-flight collisions surface as errors; a failed fetch is
// a persisted failed result, not an error.
func (s *Service) Execute(ctx context.Context, job audit.Job) (audit.Result, error) {
	// The single-flight claim taken when this job was enqueued is held
	// until the snapshot is persisted. Owner-scoped, so a colliding job
	// cannot free the claim of the run that beat it.
	defer s.runner.Inflight().Release(engine.Key(job.Target), job.AuditID)

	t, err := s.tiers.Get(job.TierName)
	if err != nil {
		return audit.Result{}, fmt.Errorf("execute audit %s: %w", job.AuditID, err)
	}

	start := time.Now()
	res, err := s.runner.RunAudit(ctx, job, engine.Options{
		Checks:        checks.Select(t.Audit.EnabledChecks),
		AllowHeadless: t.HasFeature(FeatureJSRendering),
	})
	if err != nil {
		return audit.Result{}, err
	}

	s.archiveHTML(ctx, &res)

	// The previous completed run is read before this one is saved, so
	// the drop comparison never sees the new snapshot.
	drop := s.scoreDrop(ctx, res)

	if err := s.store.Save(ctx, res); err != nil {
		return audit.Result{}, fmt.Errorf("save audit %s: %w", res.ID, err)
	}

	s.publishCompleted(ctx, res, drop)
	s.observe(res, time.Since(start))

	return res, nil
}

// archiveHTML writes the raw fetched page to the blob store and records
// the URI on the result. Archival failures are logged, not fatal.
func (s *Service) archiveHTML(ctx context.Context, res *audit.Result) {
	if s.blobs == nil || len(res.HTML) == 0 {
		return
	}
	path := fmt.Sprintf("%s/%s.html", hostOf(res.Target), res.ID)
	if s.cfg.BlobPrefix != "" {
		path = strings.TrimSuffix(s.cfg.BlobPrefix, "/") + "/" + path
	}
	uri, err := s.blobs.PutObject(ctx, path, "text/html", res.HTML)
	if err != nil {
		s.log.Warn("page archive failed",
			zap.String("audit_id", res.ID),
			zap.String("path", path),
			zap.Error(err))
		return
	}
	res.HTMLBlobURI = uri
}

// scoreDrop compares against the previous completed run and returns the
// decline in points when it meets the alert threshold.
func (s *Service) scoreDrop(ctx context.Context, res audit.Result) *int {
	if res.Status != audit.StatusCompleted || res.Score == nil {
		return nil
	}
	prev, err := s.store.LatestCompleted(ctx, res.ClientID, res.Target)
	if err != nil {
		s.log.Warn("previous snapshot lookup failed",
			zap.String("audit_id", res.ID),
			zap.Error(err))
		return nil
	}
	if prev == nil || prev.Score == nil {
		return nil
	}
	delta := *prev.Score - *res.Score
	if delta < s.cfg.ScoreDropThreshold {
		return nil
	}
	s.log.Warn("score dropped",
		zap.String("audit_id", res.ID),
		zap.String("client_id", res.ClientID),
		zap.String("target", res.Target),
		zap.Int("previous", *prev.Score),
		zap.Int("current", *res.Score),
		zap.Int("drop", delta))
	return &delta
}

func (s *Service) publishCompleted(ctx context.Context, res audit.Result, drop *int) {
	if s.pub == nil {
		return
	}
	event := AuditCompletedEvent{
		AuditID:       res.ID,
		ClientID:      res.ClientID,
		Target:        res.Target,
		Tier:          res.TierName,
		Status:        string(res.Status),
		Score:         res.Score,
		CriticalCount: res.CriticalCount,
		WarningCount:  res.WarningCount,
		FinishedAt:    res.FinishedAt,
		HTMLBlobURI:   res.HTMLBlobURI,
		ScoreDrop:     drop,
	}
	if _, err := s.pub.Publish(ctx, TopicAuditCompleted, event); err != nil {
		s.log.Warn("event publish failed",
			zap.String("audit_id", res.ID),
			zap.String("topic", TopicAuditCompleted),
			zap.Error(err))
	}
}

func (s *Service) observe(res audit.Result, elapsed time.Duration) {
	metrics.ObserveAudit(res.Target, string(res.Status), elapsed, res.Score, len(res.HTML))
	for _, c := range res.Checks {
		metrics.ObserveCheck(c.CheckID, string(c.Status))
	}
}

func hostOf(target string) string {
	raw := target
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
