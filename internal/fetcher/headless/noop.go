package headless

import (
	"context"
	"fmt"

	"github.com/aiqso/audit-engine/internal/audit"
)

// Noop is a placeholder headless fetcher for deployments without a
// browser. Every fetch fails, so promotion falls back to the probe page.
type Noop struct{}

// NewNoop creates a Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails.
func (Noop) Fetch(_ context.Context, target string) (*audit.Page, error) {
	return nil, fmt.Errorf("headless rendering is disabled")
}
