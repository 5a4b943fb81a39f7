package audit

import (
	"context"
	"time"
)

// Check is one independent, stateless evaluation rule. Implementations
// must be pure functions of the fetched page: no network I/O, no shared
// mutable state, and no panics on malformed input. Evaluation failures
// degrade to a skipped CheckResult.
type Check interface {
	ID() string
	Category() string
	Weight() float64
	Run(page *Page) CheckResult
}

// Fetcher retrieves the target page once per audit run.
type Fetcher interface {
	Fetch(ctx context.Context, target string) (*Page, error)
}

// Detector decides whether a probe fetch should be promoted to a
// headless render.
type Detector interface {
	ShouldPromote(page *Page) bool
}

// SnapshotStore persists finalized audit results as append-only history.
type SnapshotStore interface {
	Save(ctx context.Context, result Result) error
	Get(ctx context.Context, auditID string) (Result, error)
	// LatestCompleted returns the most recent completed snapshot for the
	// pair, or nil when none exists.
	LatestCompleted(ctx context.Context, clientID, target string) (*Result, error)
	// LatestFinished returns the most recent completed or failed
	// snapshot; the scheduler computes cadence from its FinishedAt.
	LatestFinished(ctx context.Context, clientID, target string) (*Result, error)
}

// BlobStore writes raw page artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes audit completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// QuotaLedger tracks audit consumption per client per billing period.
type QuotaLedger interface {
	ConsumedThisPeriod(ctx context.Context, clientID string) (int, error)
	RecordConsumption(ctx context.Context, clientID string) error
}

// Queue provides enqueue/dequeue semantics for audit jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces audit IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
