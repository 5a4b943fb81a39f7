// Package scheduler decides, on a fixed tick, which registered
// client-target pairs are due for an audit and dispatches jobs for them.
// Decisions are computed fresh every tick and never persisted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aiqso/audit-engine/internal/audit"
	"github.com/aiqso/audit-engine/internal/engine"
	"github.com/aiqso/audit-engine/internal/metrics"
	"github.com/aiqso/audit-engine/internal/tier"
)

// Pair is one registered client-target combination.
type Pair struct {
	ClientID string
	Target   string
	TierName string
}

// Config tunes the scheduling loop.
type Config struct {
	// TickInterval is the gap between evaluations of the full pair set.
	TickInterval time.Duration

	// GraceWindow lets a pair that is almost due run on this tick
	// instead of waiting a full extra tick.
	GraceWindow time.Duration
}

const defaultTickInterval = time.Minute

// Scheduler evaluates registered pairs against tier cadence, quota and
// in-flight state, and enqueues jobs for the due ones.
type Scheduler struct {
	cfg      Config
	tiers    *tier.Registry
	store    audit.SnapshotStore
	ledger   audit.QuotaLedger
	queue    audit.Queue
	inflight *engine.Inflight
	clock    audit.Clock
	ids      audit.IDGenerator
	log      *zap.Logger

	mu    sync.Mutex
	pairs map[string]Pair
}

// New creates a Scheduler. The inflight registry should be the same one
// the audit runner uses, so scheduled dispatch and on-demand runs share
// single-flight state.
func New(cfg Config, tiers *tier.Registry, store audit.SnapshotStore, ledger audit.QuotaLedger, queue audit.Queue, inflight *engine.Inflight, clock audit.Clock, ids audit.IDGenerator, log *zap.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	return &Scheduler{
		cfg:      cfg,
		tiers:    tiers,
		store:    store,
		ledger:   ledger,
		queue:    queue,
		inflight: inflight,
		clock:    clock,
		ids:      ids,
		log:      log,
		pairs:    make(map[string]Pair),
	}
}

// pairKey identifies a registration. Pairs are per client, unlike the
// single-flight key, which covers a target across all clients.
func pairKey(clientID, target string) string {
	return clientID + "|" + target
}

// Register adds or updates a pair. Re-registering with a different tier
// name takes effect on the next tick.
func (s *Scheduler) Register(p Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[pairKey(p.ClientID, p.Target)] = p
}

// Deregister removes a pair. Unknown pairs are a no-op.
func (s *Scheduler) Deregister(clientID, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairs, pairKey(clientID, target))
}

// Pairs returns a snapshot of the registered pairs in a stable order.
func (s *Scheduler) Pairs() []Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Pair, 0, len(s.pairs))
	for _, p := range s.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientID != out[j].ClientID {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Run evaluates pairs on every tick until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Duration("grace_window", s.cfg.GraceWindow))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			decisions := s.Tick(ctx)
			due := 0
			for _, d := range decisions {
				if d.Due {
					due++
				}
			}
			s.log.Debug("tick evaluated",
				zap.Int("pairs", len(decisions)),
				zap.Int("dispatched", due))
		}
	}
}

// Tick evaluates every registered pair once and returns one decision per
// pair. Jobs for due pairs are enqueued and their quota recorded before
// the decision is reported.
func (s *Scheduler) Tick(ctx context.Context) []audit.ScheduleDecision {
	pairs := s.Pairs()
	decisions := make([]audit.ScheduleDecision, 0, len(pairs))
	for _, p := range pairs {
		d := s.evaluate(ctx, p)
		metrics.ObserveDecision(d.Reason)
		decisions = append(decisions, d)
	}
	return decisions
}

func (s *Scheduler) evaluate(ctx context.Context, p Pair) audit.ScheduleDecision {
	d := audit.ScheduleDecision{ClientID: p.ClientID, Target: p.Target}

	t, err := s.tiers.Get(p.TierName)
	if err != nil {
		s.log.Warn("pair references unknown tier",
			zap.String("client_id", p.ClientID),
			zap.String("target", p.Target),
			zap.String("tier", p.TierName))
		d.Reason = audit.ReasonUnknownTier
		return d
	}

	if quota := t.RateLimits.AuditsPerPeriod; quota > 0 {
		consumed, err := s.ledger.ConsumedThisPeriod(ctx, p.ClientID)
		if err != nil {
			s.log.Error("quota lookup failed", zap.String("client_id", p.ClientID), zap.Error(err))
			d.Reason = audit.ReasonDispatchFailed
			return d
		}
		if consumed >= quota {
			d.Reason = audit.ReasonQuotaExhausted
			return d
		}
	}

	reason, due := s.cadenceDue(ctx, p, t.Audit.Cadence)
	if !due {
		d.Reason = reason
		return d
	}

	if s.inflight.Active(engine.Key(p.Target)) {
		d.Reason = audit.ReasonAuditInFlight
		return d
	}

	if err := s.dispatch(ctx, p); err != nil {
		if errors.Is(err, engine.ErrAuditInFlight) {
			d.Reason = audit.ReasonAuditInFlight
			return d
		}
		s.log.Error("dispatch failed",
			zap.String("client_id", p.ClientID),
			zap.String("target", p.Target),
			zap.Error(err))
		d.Reason = audit.ReasonDispatchFailed
		return d
	}

	d.Due = true
	d.Reason = reason
	return d
}

// cadenceDue decides whether the cadence interval has elapsed since the
// last finished run. Failed runs count: a failure resets the clock the
// same as a completion, so a flapping site is not retried every tick.
func (s *Scheduler) cadenceDue(ctx context.Context, p Pair, c tier.Cadence) (string, bool) {
	last, err := s.store.LatestFinished(ctx, p.ClientID, p.Target)
	if err != nil {
		s.log.Error("snapshot lookup failed",
			zap.String("client_id", p.ClientID),
			zap.String("target", p.Target),
			zap.Error(err))
		return audit.ReasonDispatchFailed, false
	}
	if last == nil {
		return audit.ReasonNeverAudited, true
	}

	interval := c.Interval()
	if interval == 0 {
		return audit.ReasonCadenceDue, true
	}

	elapsed := s.clock.Now().Sub(last.FinishedAt)
	if elapsed >= interval-s.cfg.GraceWindow {
		return audit.ReasonCadenceDue, true
	}
	return audit.ReasonCadenceWaiting, false
}

// dispatch claims the target, enqueues a job for the pair and records
// quota consumption. The claim stays held until the worker persists the
// result, so a queued job blocks re-dispatch on later ticks. Quota is
// charged at dispatch time, not completion, so a crashed worker cannot
// grant free audits.
func (s *Scheduler) dispatch(ctx context.Context, p Pair) error {
	id, err := s.ids.NewID()
	if err != nil {
		return err
	}
	key := engine.Key(p.Target)
	if !s.inflight.TryAcquire(key, id) {
		return fmt.Errorf("%s for %s: %w", id, p.Target, engine.ErrAuditInFlight)
	}
	job := audit.Job{
		AuditID:    id,
		ClientID:   p.ClientID,
		Target:     p.Target,
		TierName:   p.TierName,
		Origin:     audit.OriginScheduled,
		EnqueuedAt: s.clock.Now(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.inflight.Release(key, id)
		return err
	}
	if err := s.ledger.RecordConsumption(ctx, p.ClientID); err != nil {
		s.log.Error("quota record failed after enqueue",
			zap.String("client_id", p.ClientID),
			zap.Error(err))
	}
	s.log.Info("audit dispatched",
		zap.String("audit_id", id),
		zap.String("client_id", p.ClientID),
		zap.String("target", p.Target),
		zap.String("tier", p.TierName))
	return nil
}
