// Package api exposes the HTTP interface for the audit service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aiqso/audit-engine/internal/audit"
	"github.com/aiqso/audit-engine/internal/engine"
	"github.com/aiqso/audit-engine/internal/metrics"
	"github.com/aiqso/audit-engine/internal/tier"
	"go.uber.org/zap"
)

// Config controls the HTTP server surface.
type Config struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
}

// Server wires HTTP handlers to the audit pipeline.
type Server struct {
	router   chi.Router
	cfg      Config
	tiers    *tier.Registry
	store    audit.SnapshotStore
	queue    audit.Queue
	ledger   audit.QuotaLedger
	inflight *engine.Inflight
	ids      audit.IDGenerator
	clock    audit.Clock
	log      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	cfg Config,
	tiers *tier.Registry,
	store audit.SnapshotStore,
	queue audit.Queue,
	ledger audit.QuotaLedger,
	inflight *engine.Inflight,
	ids audit.IDGenerator,
	clock audit.Clock,
	log *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		tiers:    tiers,
		store:    store,
		queue:    queue,
		ledger:   ledger,
		inflight: inflight,
		ids:      ids,
		clock:    clock,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/audits", s.submitAudit)
		r.Get("/audits/{audit_id}", s.getAudit)
		r.Get("/targets/{host}/latest", s.getLatestForTarget)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if len(s.tiers.Names()) == 0 {
		writeError(w, http.StatusServiceUnavailable, "tier registry is empty")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
