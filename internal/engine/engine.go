// Package engine runs single-page audits: one fetch, a deterministic
// check battery, and a finalized immutable result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aiqso/audit-engine/internal/audit"
)

// ErrAuditInFlight is returned when an audit for the same target has
// already been dispatched and not yet persisted.
var ErrAuditInFlight = errors.New("audit already in flight for target")

const defaultFetchTimeout = 30 * time.Second

// Options controls a single run.
type Options struct {
	// Checks is the battery to evaluate, in order. Empty means the
	// caller selected nothing, which yields an all-skipped run.
	Checks []audit.Check

	// AllowHeadless permits promotion to a headless render when the
	// detector flags the probe fetch.
	AllowHeadless bool
}

// Runner executes audits. The zero value is not usable; construct with
// New.
type Runner struct {
	fetcher      audit.Fetcher
	headless     audit.Fetcher
	detector     audit.Detector
	clock        audit.Clock
	ids          audit.IDGenerator
	inflight     *Inflight
	log          *zap.Logger
	fetchTimeout time.Duration
}

// New creates a Runner. The headless fetcher and detector are optional;
// when either is nil, promotion never happens.
func New(fetcher audit.Fetcher, headless audit.Fetcher, detector audit.Detector, clock audit.Clock, ids audit.IDGenerator, log *zap.Logger, fetchTimeout time.Duration) *Runner {
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	return &Runner{
		fetcher:      fetcher,
		headless:     headless,
		detector:     detector,
		clock:        clock,
		ids:          ids,
		inflight:     NewInflight(),
		log:          log,
		fetchTimeout: fetchTimeout,
	}
}

// Inflight exposes the runner's in-flight registry so the scheduler can
// consult the same single-flight state.
func (r *Runner) Inflight() *Inflight {
	return r.inflight
}

// RunAudit executes one audit for the job. It fetches the target exactly
// once (twice when promoted to headless), evaluates the battery in order,
// and returns a finalized Result. A fetch failure still produces a
// Result: status failed, a synthetic fetch_error check, and a nil score.
//
// The target's single-flight claim is keyed by the job's audit ID. Jobs
// that arrive with an ID keep the claim taken at enqueue time, and the
// dispatch pipeline releases it after the snapshot is persisted. Jobs
// without an ID get a fresh claim released when the run returns.
func (r *Runner) RunAudit(ctx context.Context, job audit.Job, opts Options) (audit.Result, error) {
	id := job.AuditID
	if id == "" {
		var err error
		if id, err = r.ids.NewID(); err != nil {
			return audit.Result{}, fmt.Errorf("assign audit id: %w", err)
		}
	}

	key := Key(job.Target)
	if !r.inflight.TryAcquire(key, id) {
		return audit.Result{}, fmt.Errorf("%s for %s: %w", id, job.Target, ErrAuditInFlight)
	}
	if job.AuditID == "" {
		defer r.inflight.Release(key, id)
	}

	res := audit.Result{
		ID:        id,
		ClientID:  job.ClientID,
		Target:    job.Target,
		TierName:  job.TierName,
		Status:    audit.StatusRunning,
		StartedAt: r.clock.Now(),
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	page, err := r.fetcher.Fetch(fetchCtx, job.Target)
	if err != nil {
		return r.finalizeFailed(res, err), nil
	}

	if opts.AllowHeadless && r.headless != nil && r.detector != nil && r.detector.ShouldPromote(page) {
		rendered, herr := r.headless.Fetch(fetchCtx, job.Target)
		if herr != nil {
			// The probe page is still auditable, keep it.
			r.log.Warn("headless promotion failed, auditing probe fetch",
				zap.String("audit_id", id),
				zap.String("target", job.Target),
				zap.Error(herr))
		} else {
			page = rendered
		}
	}

	res.Checks = make([]audit.CheckResult, 0, len(opts.Checks))
	for _, c := range opts.Checks {
		res.Checks = append(res.Checks, runCheck(c, page))
	}

	res.Score = Score(res.Checks)
	res.CategoryScores = CategoryScores(res.Checks)
	res.CriticalCount, res.WarningCount = severityCounts(res.Checks)
	res.Status = audit.StatusCompleted
	res.FinishedAt = r.clock.Now()
	res.UsedHeadless = page.UsedHeadless
	res.HTML = page.Body

	r.log.Info("audit completed",
		zap.String("audit_id", id),
		zap.String("target", job.Target),
		zap.Intp("score", res.Score),
		zap.Int("critical", res.CriticalCount),
		zap.Int("warnings", res.WarningCount),
		zap.Bool("headless", res.UsedHeadless),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))

	return res, nil
}

// finalizeFailed turns a fetch error into a failed Result with a
// synthetic fetch_error check so downstream consumers always see a
// uniform shape.
func (r *Runner) finalizeFailed(res audit.Result, err error) audit.Result {
	reason := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "fetch timed out"
	} else if errors.Is(err, context.Canceled) {
		reason = "cancelled"
	}

	res.Status = audit.StatusFailed
	res.FailureReason = reason
	res.FinishedAt = r.clock.Now()
	res.Score = nil
	res.Checks = []audit.CheckResult{{
		CheckID:  "fetch_error",
		Category: audit.CategoryTechnical,
		Status:   audit.StatusCritical,
		Weight:   0,
		Message:  "page could not be fetched: " + reason,
	}}
	res.CriticalCount = 1

	r.log.Warn("audit failed",
		zap.String("audit_id", res.ID),
		zap.String("target", res.Target),
		zap.String("reason", reason))

	return res
}

// runCheck evaluates one check and contains its panics: a panicking
// check degrades to a skipped result instead of killing the run.
func runCheck(c audit.Check, page *audit.Page) (out audit.CheckResult) {
	defer func() {
		if rec := recover(); rec != nil {
			out = audit.CheckResult{
				CheckID:  c.ID(),
				Category: c.Category(),
				Weight:   c.Weight(),
				Status:   audit.StatusSkipped,
				Message:  fmt.Sprintf("check panicked: %v", rec),
			}
		}
	}()
	return c.Run(page)
}
