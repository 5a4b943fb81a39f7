package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aiqso/audit-engine/internal/audit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeIDs struct {
	next string
	err  error
}

func (f fakeIDs) NewID() (string, error) {
	return f.next, f.err
}

type fakeFetcher struct {
	mu    sync.Mutex
	page  *audit.Page
	err   error
	calls int
	block chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, target string) (*audit.Page, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDetector struct{ promote bool }

func (d fakeDetector) ShouldPromote(*audit.Page) bool { return d.promote }

type stubCheck struct {
	id       string
	category string
	weight   float64
	run      func(*audit.Page) audit.CheckResult
}

func (c stubCheck) ID() string       { return c.id }
func (c stubCheck) Category() string { return c.category }
func (c stubCheck) Weight() float64  { return c.weight }
func (c stubCheck) Run(p *audit.Page) audit.CheckResult {
	return c.run(p)
}

func passCheck(id string) stubCheck {
	c := stubCheck{id: id, category: audit.CategoryMeta, weight: 1.0}
	c.run = func(*audit.Page) audit.CheckResult {
		return audit.CheckResult{CheckID: id, Category: c.category, Weight: c.weight, Status: audit.StatusPass}
	}
	return c
}

func newTestRunner(t *testing.T, fetcher, headless audit.Fetcher, detector audit.Detector) *Runner {
	t.Helper()
	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	return New(fetcher, headless, detector, newFakeClock(start), fakeIDs{next: "audit-1"}, zap.NewNop(), 5*time.Second)
}

func testJob() audit.Job {
	return audit.Job{
		AuditID:  "audit-1",
		ClientID: "client-1",
		Target:   "https://example.com",
		TierName: "pro",
		Origin:   audit.OriginScheduled,
	}
}

func TestRunAuditCompletes(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{page: &audit.Page{
		URL:      "https://example.com",
		FinalURL: "https://example.com",
		Body:     []byte("<html><head><title>ok</title></head><body></body></html>"),
	}}
	r := newTestRunner(t, fetcher, nil, nil)

	res, err := r.RunAudit(context.Background(), testJob(), Options{
		Checks: []audit.Check{passCheck("a"), passCheck("b")},
	})
	require.NoError(t, err)

	require.Equal(t, audit.StatusCompleted, res.Status)
	require.Equal(t, "audit-1", res.ID)
	require.Len(t, res.Checks, 2)
	require.NotNil(t, res.Score)
	require.Equal(t, 100, *res.Score)
	require.False(t, res.FinishedAt.Before(res.StartedAt))
	require.Equal(t, fetcher.page.Body, res.HTML)

	// Jobs with an ID keep their claim for the dispatch pipeline to
	// release once the result is persisted.
	require.True(t, r.Inflight().Active(Key("https://example.com")))
	r.Inflight().Release(Key("https://example.com"), res.ID)
	require.False(t, r.Inflight().Active(Key("https://example.com")))
}

func TestRunAuditFetchFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	r := newTestRunner(t, fetcher, nil, nil)

	res, err := r.RunAudit(context.Background(), testJob(), Options{
		Checks: []audit.Check{passCheck("a")},
	})
	require.NoError(t, err, "a fetch failure is a failed result, not an error")

	require.Equal(t, audit.StatusFailed, res.Status)
	require.Nil(t, res.Score)
	require.Contains(t, res.FailureReason, "connection refused")
	require.Len(t, res.Checks, 1)
	require.Equal(t, "fetch_error", res.Checks[0].CheckID)
	require.Equal(t, audit.StatusCritical, res.Checks[0].Status)
	require.Equal(t, 1, res.CriticalCount)
	require.False(t, res.FinishedAt.IsZero())
}

func TestRunAuditFetchTimeout(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{block: make(chan struct{})}
	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	r := New(fetcher, nil, nil, newFakeClock(start), fakeIDs{next: "audit-1"}, zap.NewNop(), 50*time.Millisecond)

	res, err := r.RunAudit(context.Background(), testJob(), Options{
		Checks: []audit.Check{passCheck("a")},
	})
	require.NoError(t, err)

	require.Equal(t, audit.StatusFailed, res.Status)
	require.Equal(t, "fetch timed out", res.FailureReason)
	require.Nil(t, res.Score)
}

func TestRunAuditSingleFlight(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	fetcher := &fakeFetcher{
		page:  &audit.Page{Body: []byte("<html></html>")},
		block: block,
	}
	r := newTestRunner(t, fetcher, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := r.RunAudit(context.Background(), testJob(), Options{Checks: []audit.Check{passCheck("a")}})
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return r.Inflight().Active(Key("https://example.com"))
	}, time.Second, 5*time.Millisecond)

	second := testJob()
	second.AuditID = "audit-2"
	_, err := r.RunAudit(context.Background(), second, Options{Checks: []audit.Check{passCheck("a")}})
	require.ErrorIs(t, err, ErrAuditInFlight)

	close(block)
	<-done

	// The claim survives the run until its owner releases it.
	require.True(t, r.Inflight().Active(Key("https://example.com")))
	r.Inflight().Release(Key("https://example.com"), "audit-1")
	require.False(t, r.Inflight().Active(Key("https://example.com")))
}

func TestRunAuditTargetSharedAcrossClients(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	fetcher := &fakeFetcher{
		page:  &audit.Page{Body: []byte("<html></html>")},
		block: block,
	}
	r := newTestRunner(t, fetcher, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := r.RunAudit(context.Background(), testJob(), Options{Checks: []audit.Check{passCheck("a")}})
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return r.Inflight().Active(Key("https://example.com"))
	}, time.Second, 5*time.Millisecond)

	// A different client auditing the same target still collides: the
	// single-flight key covers the target, not the client-target pair.
	other := testJob()
	other.AuditID = "audit-2"
	other.ClientID = "client-2"
	_, err := r.RunAudit(context.Background(), other, Options{Checks: []audit.Check{passCheck("a")}})
	require.ErrorIs(t, err, ErrAuditInFlight)

	close(block)
	<-done
}

func TestRunAuditPanickingCheckSkips(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{page: &audit.Page{Body: []byte("<html></html>")}}
	r := newTestRunner(t, fetcher, nil, nil)

	boom := stubCheck{id: "boom", category: audit.CategoryContent, weight: 1.0}
	boom.run = func(*audit.Page) audit.CheckResult { panic("nil deref") }

	res, err := r.RunAudit(context.Background(), testJob(), Options{
		Checks: []audit.Check{passCheck("a"), boom, passCheck("b")},
	})
	require.NoError(t, err)

	require.Equal(t, audit.StatusCompleted, res.Status)
	require.Len(t, res.Checks, 3)
	require.Equal(t, audit.StatusSkipped, res.Checks[1].Status)
	require.Contains(t, res.Checks[1].Message, "nil deref")
	require.NotNil(t, res.Score)
	require.Equal(t, 100, *res.Score, "the panicked check is excluded from scoring")
}

func TestRunAuditHeadlessPromotion(t *testing.T) {
	t.Parallel()

	probe := &fakeFetcher{page: &audit.Page{Body: []byte("<html><div id=root></div></html>")}}
	rendered := &fakeFetcher{page: &audit.Page{
		Body:         []byte("<html><div id=root>hydrated</div></html>"),
		UsedHeadless: true,
	}}
	r := newTestRunner(t, probe, rendered, fakeDetector{promote: true})

	res, err := r.RunAudit(context.Background(), testJob(), Options{
		Checks:        []audit.Check{passCheck("a")},
		AllowHeadless: true,
	})
	require.NoError(t, err)

	require.True(t, res.UsedHeadless)
	require.Equal(t, rendered.page.Body, res.HTML)
	require.Equal(t, 1, probe.callCount())
	require.Equal(t, 1, rendered.callCount())
}

func TestRunAuditHeadlessNotAllowed(t *testing.T) {
	t.Parallel()

	probe := &fakeFetcher{page: &audit.Page{Body: []byte("<html></html>")}}
	rendered := &fakeFetcher{page: &audit.Page{UsedHeadless: true}}
	r := newTestRunner(t, probe, rendered, fakeDetector{promote: true})

	res, err := r.RunAudit(context.Background(), testJob(), Options{
		Checks:        []audit.Check{passCheck("a")},
		AllowHeadless: false,
	})
	require.NoError(t, err)

	require.False(t, res.UsedHeadless)
	require.Zero(t, rendered.callCount())
}

func TestRunAuditHeadlessFailureFallsBack(t *testing.T) {
	t.Parallel()

	probe := &fakeFetcher{page: &audit.Page{Body: []byte("<html>probe</html>")}}
	rendered := &fakeFetcher{err: errors.New("chrome crashed")}
	r := newTestRunner(t, probe, rendered, fakeDetector{promote: true})

	res, err := r.RunAudit(context.Background(), testJob(), Options{
		Checks:        []audit.Check{passCheck("a")},
		AllowHeadless: true,
	})
	require.NoError(t, err)

	require.Equal(t, audit.StatusCompleted, res.Status)
	require.False(t, res.UsedHeadless)
	require.Equal(t, probe.page.Body, res.HTML)
}

func TestRunAuditAssignsIDWhenMissing(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{page: &audit.Page{Body: []byte("<html></html>")}}
	r := newTestRunner(t, fetcher, nil, nil)

	job := testJob()
	job.AuditID = ""
	res, err := r.RunAudit(context.Background(), job, Options{Checks: []audit.Check{passCheck("a")}})
	require.NoError(t, err)
	require.Equal(t, "audit-1", res.ID)

	// Without an enqueue-time claim to hand back, the run releases its
	// own claim on return.
	require.False(t, r.Inflight().Active(Key("https://example.com")))
}
