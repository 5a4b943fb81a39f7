// Package audit defines core types shared across the audit engine subsystems.
package audit

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// CheckStatus classifies the outcome of a single check.
type CheckStatus string

// Check status values carried on every CheckResult.
const (
	StatusPass     CheckStatus = "pass"
	StatusWarning  CheckStatus = "warning"
	StatusCritical CheckStatus = "critical"
	StatusInfo     CheckStatus = "info"
	StatusSkipped  CheckStatus = "skipped"
)

// Counted reports whether the status participates in score computation.
// Skipped checks are excluded from both sides of the score ratio.
func (s CheckStatus) Counted() bool {
	return s != StatusSkipped
}

// Earns reports whether the status contributes its weight to the score.
func (s CheckStatus) Earns() bool {
	return s == StatusPass || s == StatusInfo
}

// Check categories used for per-category sub-scores.
const (
	CategoryMeta          = "meta"
	CategoryContent       = "content"
	CategoryTechnical     = "technical"
	CategoryPerformance   = "performance"
	CategoryConfiguration = "configuration"
)

// CheckResult is the immutable output of one check evaluation.
type CheckResult struct {
	CheckID        string         `json:"check_id"`
	Category       string         `json:"category"`
	Status         CheckStatus    `json:"status"`
	Weight         float64        `json:"weight"`
	Message        string         `json:"message"`
	Recommendation string         `json:"recommendation,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// Status represents the lifecycle state of an audit run.
type Status string

// Audit run status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result is the output of one full audit run. It is created at run start,
// finalized exactly once, and immutable afterwards.
type Result struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"client_id,omitempty"`
	Target         string         `json:"target"`
	TierName       string         `json:"tier,omitempty"`
	Status         Status         `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	Checks         []CheckResult  `json:"checks"`
	Score          *int           `json:"score"`
	CategoryScores map[string]int `json:"category_scores,omitempty"`
	CriticalCount  int            `json:"critical_count"`
	WarningCount   int            `json:"warning_count"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	UsedHeadless   bool           `json:"used_headless"`
	HTMLBlobURI    string         `json:"html_blob_uri,omitempty"`

	// HTML is the fetched page body, retained for blob archival. It is
	// not part of the persisted snapshot row.
	HTML []byte `json:"-"`
}

// Page is the shared fetched representation every check observes. The
// engine fetches once per run, so all checks see the same snapshot.
type Page struct {
	URL           string
	FinalURL      string
	StatusCode    int
	Headers       http.Header
	Body          []byte
	Duration      time.Duration
	RedirectCount int
	UsedHeadless  bool

	// RobotsTxt is the body of the site's robots.txt, captured during
	// the fetch step when available. Nil means it was not captured.
	RobotsTxt []byte

	docOnce sync.Once
	doc     *goquery.Document
	docErr  error
}

// Doc parses the page body into a goquery document. The parse happens at
// most once per page; every check shares the same document.
func (p *Page) Doc() (*goquery.Document, error) {
	p.docOnce.Do(func() {
		p.doc, p.docErr = goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	})
	return p.doc, p.docErr
}

// Job is one unit of audit work handed to the dispatch pipeline.
type Job struct {
	AuditID    string    `json:"audit_id"`
	ClientID   string    `json:"client_id"`
	Target     string    `json:"target"`
	TierName   string    `json:"tier"`
	Origin     string    `json:"origin"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Job origins.
const (
	OriginScheduled = "scheduled"
	OriginOnDemand  = "on_demand"
)

// ScheduleDecision is the ephemeral outcome of one scheduler evaluation
// for a client-target pair. It is computed fresh on every tick and never
// persisted.
type ScheduleDecision struct {
	ClientID string `json:"client_id"`
	Target   string `json:"target"`
	Due      bool   `json:"due"`
	Reason   string `json:"reason"`
}

// Schedule decision reasons.
const (
	ReasonCadenceDue     = "cadence_due"
	ReasonNeverAudited   = "never_audited"
	ReasonCadenceWaiting = "cadence_not_elapsed"
	ReasonQuotaExhausted = "quota_exhausted"
	ReasonAuditInFlight  = "audit_in_flight"
	ReasonUnknownTier    = "unknown_tier"
	ReasonDispatchFailed = "dispatch_failed"
)
