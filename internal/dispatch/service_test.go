package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aiqso/audit-engine/internal/audit"
	"github.com/aiqso/audit-engine/internal/engine"
	"github.com/aiqso/audit-engine/internal/metrics"
	queuemem "github.com/aiqso/audit-engine/internal/queue/memory"
	"github.com/aiqso/audit-engine/internal/tier"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeIDs struct{ next string }

func (f fakeIDs) NewID() (string, error) { return f.next, nil }

type fakeFetcher struct {
	page *audit.Page
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, string) (*audit.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

type fakeStore struct {
	mu        sync.Mutex
	saved     []audit.Result
	completed *audit.Result
	saveErr   error
}

func (s *fakeStore) Save(_ context.Context, r audit.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, r)
	return nil
}

func (s *fakeStore) Get(context.Context, string) (audit.Result, error) {
	return audit.Result{}, errors.New("not implemented")
}

func (s *fakeStore) LatestCompleted(context.Context, string, string) (*audit.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, nil
}

func (s *fakeStore) LatestFinished(ctx context.Context, clientID, target string) (*audit.Result, error) {
	return s.LatestCompleted(ctx, clientID, target)
}

func (s *fakeStore) savedResults() []audit.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Result, len(s.saved))
	copy(out, s.saved)
	return out
}

type fakeBlobs struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (b *fakeBlobs) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.paths = append(b.paths, path)
	return "mem://" + path, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, payload)
	return "msg-1", nil
}

func (p *fakePublisher) lastEvent() (AuditCompletedEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return AuditCompletedEvent{}, false
	}
	ev, ok := p.events[len(p.events)-1].(AuditCompletedEvent)
	return ev, ok
}

func testTiers(t *testing.T) *tier.Registry {
	t.Helper()
	r, err := tier.NewRegistry(
		tier.Tier{
			Name:  "pro",
			Audit: tier.AuditSettings{Cadence: tier.CadenceDaily},
		},
		tier.Tier{
			Name:  "https-only",
			Audit: tier.AuditSettings{Cadence: tier.CadenceDaily, EnabledChecks: []string{"https"}},
		},
	)
	require.NoError(t, err)
	return r
}

func newService(t *testing.T, fetcher audit.Fetcher, store *fakeStore, blobs audit.BlobStore, pub audit.Publisher) *Service {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)}
	runner := engine.New(fetcher, nil, nil, clock, fakeIDs{next: "gen-1"}, zap.NewNop(), 5*time.Second)
	return NewService(Config{BlobPrefix: "audits"}, testTiers(t), runner, store, blobs, pub, zap.NewNop())
}

func httpsPage(scheme string) *audit.Page {
	u := scheme + "://example.com"
	return &audit.Page{
		URL:      u,
		FinalURL: u,
		Body:     []byte("<html><head><title>Example page title here</title></head><body></body></html>"),
	}
}

func testJob() audit.Job {
	return audit.Job{
		AuditID:  "audit-1",
		ClientID: "c1",
		Target:   "https://example.com",
		TierName: "https-only",
		Origin:   audit.OriginOnDemand,
	}
}

func TestExecuteCompletes(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	blobs := &fakeBlobs{}
	pub := &fakePublisher{}
	svc := newService(t, &fakeFetcher{page: httpsPage("https")}, store, blobs, pub)

	res, err := svc.Execute(context.Background(), testJob())
	require.NoError(t, err)

	require.Equal(t, audit.StatusCompleted, res.Status)
	require.NotNil(t, res.Score)
	require.Equal(t, 100, *res.Score)

	saved := store.savedResults()
	require.Len(t, saved, 1)
	require.Equal(t, "audit-1", saved[0].ID)
	require.Equal(t, "mem://audits/example.com/audit-1.html", saved[0].HTMLBlobURI)

	require.Equal(t, []string{"audits/example.com/audit-1.html"}, blobs.paths)

	ev, ok := pub.lastEvent()
	require.True(t, ok)
	require.Equal(t, TopicAuditCompleted, pub.topics[0])
	require.Equal(t, "audit-1", ev.AuditID)
	require.Equal(t, "completed", ev.Status)
	require.Nil(t, ev.ScoreDrop)

	// The single-flight claim held since enqueue is freed now that the
	// snapshot is stored.
	require.False(t, svc.runner.Inflight().Active(engine.Key("https://example.com")))
}

func TestExecuteUnknownTier(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	svc := newService(t, &fakeFetcher{page: httpsPage("https")}, store, nil, nil)

	job := testJob()
	job.TierName = "platinum"
	_, err := svc.Execute(context.Background(), job)
	require.ErrorIs(t, err, tier.ErrUnknownTier)
	require.Empty(t, store.savedResults(), "nothing is persisted for an unresolvable tier")
}

func TestExecuteFetchFailurePersisted(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	pub := &fakePublisher{}
	svc := newService(t, &fakeFetcher{err: errors.New("dns failure")}, store, nil, pub)

	res, err := svc.Execute(context.Background(), testJob())
	require.NoError(t, err, "a fetch failure persists a failed result instead of erroring")

	require.Equal(t, audit.StatusFailed, res.Status)
	require.Nil(t, res.Score)

	saved := store.savedResults()
	require.Len(t, saved, 1)
	require.Equal(t, audit.StatusFailed, saved[0].Status)

	ev, ok := pub.lastEvent()
	require.True(t, ok)
	require.Equal(t, "failed", ev.Status)
	require.Nil(t, ev.Score)
}

func TestExecuteScoreDropAlert(t *testing.T) {
	t.Parallel()

	prevScore := 100
	store := &fakeStore{completed: &audit.Result{
		ID:     "audit-0",
		Score:  &prevScore,
		Status: audit.StatusCompleted,
	}}
	pub := &fakePublisher{}

	// The https-only battery against a plain-http page scores zero.
	svc := newService(t, &fakeFetcher{page: httpsPage("http")}, store, nil, pub)

	job := testJob()
	job.Target = "http://example.com"
	res, err := svc.Execute(context.Background(), job)
	require.NoError(t, err)
	require.NotNil(t, res.Score)
	require.Equal(t, 0, *res.Score)

	ev, ok := pub.lastEvent()
	require.True(t, ok)
	require.NotNil(t, ev.ScoreDrop)
	require.Equal(t, 100, *ev.ScoreDrop)
}

func TestExecuteSmallDropNotAlerted(t *testing.T) {
	t.Parallel()

	prevScore := 105 // above any reachable score, drop of 5
	store := &fakeStore{completed: &audit.Result{Score: &prevScore, Status: audit.StatusCompleted}}
	pub := &fakePublisher{}
	svc := newService(t, &fakeFetcher{page: httpsPage("https")}, store, nil, pub)

	_, err := svc.Execute(context.Background(), testJob())
	require.NoError(t, err)

	ev, ok := pub.lastEvent()
	require.True(t, ok)
	require.Nil(t, ev.ScoreDrop, "a drop under the threshold is not alerted")
}

func TestExecuteBlobFailureNotFatal(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	blobs := &fakeBlobs{err: errors.New("bucket unavailable")}
	svc := newService(t, &fakeFetcher{page: httpsPage("https")}, store, blobs, nil)

	res, err := svc.Execute(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, res.Status)
	require.Empty(t, res.HTMLBlobURI)
	require.Len(t, store.savedResults(), 1)
}

func TestExecuteSaveFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{saveErr: errors.New("db down")}
	svc := newService(t, &fakeFetcher{page: httpsPage("https")}, store, nil, nil)

	_, err := svc.Execute(context.Background(), testJob())
	require.Error(t, err)
	require.Contains(t, err.Error(), "db down")
}

func TestWorkerProcessesQueue(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	svc := newService(t, &fakeFetcher{page: httpsPage("https")}, store, nil, nil)
	q := queuemem.New(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(2, q, svc, zap.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()

	require.NoError(t, q.Enqueue(ctx, testJob()))
	job2 := testJob()
	job2.AuditID = "audit-2"
	job2.Target = "https://other.example"
	require.NoError(t, q.Enqueue(ctx, job2))

	require.Eventually(t, func() bool {
		return len(store.savedResults()) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
