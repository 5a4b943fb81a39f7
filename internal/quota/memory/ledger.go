// Package memory provides an in-process quota ledger keyed by calendar
// month.
package memory

import (
	"context"
	"sync"

	"github.com/aiqso/audit-engine/internal/audit"
)

// Ledger counts audit consumption per client per billing period. Periods
// are calendar months in UTC; a month rollover starts every client at
// zero without explicit resets.
type Ledger struct {
	clock audit.Clock

	mu     sync.Mutex
	counts map[string]map[string]int // clientID -> period -> count
}

// New creates an empty ledger using clock for period boundaries.
func New(clock audit.Clock) *Ledger {
	return &Ledger{
		clock:  clock,
		counts: make(map[string]map[string]int),
	}
}

func (l *Ledger) period() string {
	return l.clock.Now().UTC().Format("2006-01")
}

// ConsumedThisPeriod returns the client's audit count for the current
// billing period.
func (l *Ledger) ConsumedThisPeriod(_ context.Context, clientID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[clientID][l.period()], nil
}

// RecordConsumption adds one audit to the client's current period.
func (l *Ledger) RecordConsumption(_ context.Context, clientID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	byPeriod, ok := l.counts[clientID]
	if !ok {
		byPeriod = make(map[string]int)
		l.counts[clientID] = byPeriod
	}
	byPeriod[l.period()]++
	return nil
}
