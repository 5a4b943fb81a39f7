package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aiqso/audit-engine/internal/audit"
)

func result(id string, status audit.Status, finished time.Time) audit.Result {
	return audit.Result{
		ID:         id,
		ClientID:   "c1",
		Target:     "https://example.com",
		Status:     status,
		FinishedAt: finished,
	}
}

func TestSnapshotStoreSaveAndGet(t *testing.T) {
	t.Parallel()

	s := NewSnapshotStore()
	ctx := context.Background()
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	r := result("a1", audit.StatusCompleted, now)
	r.HTML = []byte("<html></html>")
	require.NoError(t, s.Save(ctx, r))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "a1", got.ID)
	require.Nil(t, got.HTML, "raw pages are not retained in the snapshot store")

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotStoreRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	s := NewSnapshotStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Save(ctx, result("a1", audit.StatusCompleted, now)))
	require.Error(t, s.Save(ctx, result("a1", audit.StatusCompleted, now)))
	require.Error(t, s.Save(ctx, audit.Result{}))
}

func TestSnapshotStoreLatest(t *testing.T) {
	t.Parallel()

	s := NewSnapshotStore()
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, result("a1", audit.StatusCompleted, base)))
	require.NoError(t, s.Save(ctx, result("a2", audit.StatusFailed, base.Add(time.Hour))))
	require.NoError(t, s.Save(ctx, result("a3", audit.StatusPending, base.Add(2*time.Hour))))

	completed, err := s.LatestCompleted(ctx, "c1", "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, completed)
	require.Equal(t, "a1", completed.ID)

	finished, err := s.LatestFinished(ctx, "c1", "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, finished)
	require.Equal(t, "a2", finished.ID, "a failed run counts as finished")

	none, err := s.LatestFinished(ctx, "c2", "https://example.com")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestBlobStore(t *testing.T) {
	t.Parallel()

	b := NewBlobStore()
	uri, err := b.PutObject(context.Background(), "example.com/a1.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "mem://example.com/a1.html", uri)

	data, ok := b.GetObject("example.com/a1.html")
	require.True(t, ok)
	require.Equal(t, []byte("<html></html>"), data)

	_, err = b.PutObject(context.Background(), " ", "text/html", nil)
	require.Error(t, err)
}
