package engine

import (
	"net/url"
	"strings"
	"sync"
)

// Inflight tracks targets with an audit dispatched or running. A claim
// covers the whole dispatched window: it is taken when a job is
// enqueued and released only after the worker has persisted the result,
// so a queued-but-not-yet-running job still blocks re-dispatch.
type Inflight struct {
	mu    sync.Mutex
	owner map[string]string
}

// NewInflight creates an empty in-flight registry.
func NewInflight() *Inflight {
	return &Inflight{owner: make(map[string]string)}
}

// Key normalizes a target URL into its single-flight key. Audits
// serialize per target, not per client: two clients registered for the
// same site never audit it concurrently. Client scoping stays on quota
// and snapshots.
func Key(target string) string {
	target = strings.TrimSpace(target)
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return strings.ToLower(target)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/")
}

// TryAcquire claims the key for the audit identified by owner. It
// reports true when the claim is taken, or when owner already holds it,
// so the claim taken at enqueue time carries through to the worker run
// of the same job.
func (f *Inflight) TryAcquire(key, owner string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, held := f.owner[key]; held {
		return owner != "" && cur == owner
	}
	f.owner[key] = owner
	return true
}

// Release clears the key when owner holds it. Releasing an unheld key,
// or one held by a different audit, is a no-op.
func (f *Inflight) Release(key, owner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner[key] == owner {
		delete(f.owner, key)
	}
}

// Active reports whether the key is currently claimed.
func (f *Inflight) Active(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, held := f.owner[key]
	return held
}
