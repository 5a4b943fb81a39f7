// Package memory provides in-process storage implementations, used in
// development mode and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/aiqso/audit-engine/internal/audit"
)

// ErrNotFound is returned when an audit ID does not resolve.
var ErrNotFound = errors.New("audit not found")

// SnapshotStore keeps audit results in memory. History is append-only;
// saving the same ID twice is rejected.
type SnapshotStore struct {
	mu      sync.RWMutex
	byID    map[string]audit.Result
	history map[string][]audit.Result // client|target -> results in save order
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		byID:    make(map[string]audit.Result),
		history: make(map[string][]audit.Result),
	}
}

func pairKey(clientID, target string) string {
	return clientID + "|" + target
}

// Save appends a finalized result.
func (s *SnapshotStore) Save(_ context.Context, r audit.Result) error {
	if r.ID == "" {
		return errors.New("audit id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[r.ID]; dup {
		return errors.New("audit " + r.ID + " already saved")
	}
	r.HTML = nil // the raw page is archived separately, not retained here
	s.byID[r.ID] = r
	key := pairKey(r.ClientID, r.Target)
	s.history[key] = append(s.history[key], r)
	return nil
}

// Get returns the result for the audit ID.
func (s *SnapshotStore) Get(_ context.Context, auditID string) (audit.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[auditID]
	if !ok {
		return audit.Result{}, ErrNotFound
	}
	return r, nil
}

// LatestCompleted returns the most recent completed result for the pair,
// or nil when none exists.
func (s *SnapshotStore) LatestCompleted(_ context.Context, clientID, target string) (*audit.Result, error) {
	return s.latest(clientID, target, func(r audit.Result) bool {
		return r.Status == audit.StatusCompleted
	}), nil
}

// LatestFinished returns the most recent completed or failed result for
// the pair, or nil when none exists.
func (s *SnapshotStore) LatestFinished(_ context.Context, clientID, target string) (*audit.Result, error) {
	return s.latest(clientID, target, func(r audit.Result) bool {
		return r.Status == audit.StatusCompleted || r.Status == audit.StatusFailed
	}), nil
}

func (s *SnapshotStore) latest(clientID, target string, match func(audit.Result) bool) *audit.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *audit.Result
	for _, r := range s.history[pairKey(clientID, target)] {
		if !match(r) {
			continue
		}
		if best == nil || r.FinishedAt.After(best.FinishedAt) {
			cp := r
			best = &cp
		}
	}
	return best
}
