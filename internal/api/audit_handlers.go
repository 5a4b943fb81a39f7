package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/aiqso/audit-engine/internal/audit"
	"github.com/aiqso/audit-engine/internal/engine"
)

type submitAuditRequest struct {
	ClientID string `json:"client_id"`
	Target   string `json:"target"`
	Tier     string `json:"tier"`
}

func (r submitAuditRequest) validate() error {
	if r.ClientID == "" {
		return errors.New("client_id is required")
	}
	if r.Tier == "" {
		return errors.New("tier is required")
	}
	u, err := url.Parse(r.Target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("target must be an absolute http(s) URL")
	}
	return nil
}

// submitAudit accepts an on-demand audit request. The job goes through
// the same queue as scheduled work, so tier quota, single-flight and the
// worker pool all apply.
func (s *Server) submitAudit(w http.ResponseWriter, r *http.Request) {
	var req submitAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := s.tiers.Get(req.Tier)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if quota := t.RateLimits.AuditsPerPeriod; quota > 0 {
		consumed, err := s.ledger.ConsumedThisPeriod(r.Context(), req.ClientID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "quota lookup failed")
			return
		}
		if consumed >= quota {
			writeError(w, http.StatusTooManyRequests, "audit quota exhausted for this period")
			return
		}
	}

	auditID, err := s.enqueueAudit(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, engine.ErrAuditInFlight):
			status = http.StatusConflict
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"audit_id": auditID})
}

// enqueueAudit claims the target and hands the job to the shared queue.
// The claim is held until the worker persists the result, keeping
// on-demand and scheduled dispatch under one single-flight guard.
func (s *Server) enqueueAudit(ctx context.Context, req submitAuditRequest) (string, error) {
	auditID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate audit id: %w", err)
	}
	key := engine.Key(req.Target)
	if !s.inflight.TryAcquire(key, auditID) {
		return "", fmt.Errorf("audit for this target already dispatched: %w", engine.ErrAuditInFlight)
	}
	job := audit.Job{
		AuditID:    auditID,
		ClientID:   req.ClientID,
		Target:     req.Target,
		TierName:   req.Tier,
		Origin:     audit.OriginOnDemand,
		EnqueuedAt: s.clock.Now(),
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, job); err != nil {
		s.inflight.Release(key, auditID)
		return "", fmt.Errorf("enqueue audit: %w", err)
	}
	if err := s.ledger.RecordConsumption(ctx, req.ClientID); err != nil {
		s.log.Error("quota record failed after enqueue",
			zap.String("client_id", req.ClientID),
			zap.Error(err))
	}
	return auditID, nil
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	auditID := chi.URLParam(r, "audit_id")
	res, err := s.store.Get(r.Context(), auditID)
	if err != nil {
		writeError(w, http.StatusNotFound, "audit not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// getLatestForTarget returns the most recent completed audit for a
// client's target. The host path segment is matched against both plain
// and scheme-qualified registrations.
func (s *Server) getLatestForTarget(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "client_id query parameter is required")
		return
	}

	for _, target := range targetCandidates(host) {
		res, err := s.store.LatestCompleted(r.Context(), clientID, target)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "snapshot lookup failed")
			return
		}
		if res != nil {
			writeJSON(w, http.StatusOK, res)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no completed audit for target")
}

func targetCandidates(host string) []string {
	if strings.Contains(host, "://") {
		return []string{host}
	}
	return []string{
		"https://" + host,
		"http://" + host,
		host,
	}
}
