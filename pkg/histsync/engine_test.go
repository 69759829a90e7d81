package histsync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakefront/s3console/pkg/history"
)

type fakeRemote struct {
	mu      sync.Mutex
	pushed  [][]history.Entry
	fetched []history.Entry
	pushErr error
	ackAll  bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{ackAll: true}
}

func (f *fakeRemote) Push(_ context.Context, entries []history.Entry) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	batch := make([]history.Entry, len(entries))
	copy(batch, entries)
	f.pushed = append(f.pushed, batch)
	if !f.ackAll {
		return nil, nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

func (f *fakeRemote) Fetch(_ context.Context, limit int) ([]history.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > 0 && len(f.fetched) > limit {
		return f.fetched[:limit], nil
	}
	return f.fetched, nil
}

func (f *fakeRemote) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	return nil
}

func (f *fakeRemote) batches() [][]history.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushed
}

func newTestStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(context.Background(), history.Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedEntries(t *testing.T, s *history.Store, user history.UserID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Begin(context.Background(), user, history.OpBucketList, "", "", "")
		require.NoError(t, err)
	}
}

func TestSyncPendingDrainsInBatches(t *testing.T) {
	s := newTestStore(t)
	user := history.DeriveUserID("AKIA1234", "eu-west-3")
	remote := newFakeRemote()
	seedEntries(t, s, user, 120)

	eng := NewEngine(s, remote, user, EngineConfig{BatchSize: 50})
	require.NoError(t, eng.SyncPending(context.Background()))

	batches := remote.batches()
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 50)
	assert.Len(t, batches[1], 50)
	assert.Len(t, batches[2], 20)

	pending, err := s.PendingOldestFirst(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	cursor, err := s.LastSyncedAt(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, cursor.IsZero())
}

func TestSyncPendingFailureKeepsOutbox(t *testing.T) {
	s := newTestStore(t)
	user := history.DeriveUserID("AKIA1234", "eu-west-3")
	remote := newFakeRemote()
	remote.pushErr = errors.New("connection refused")
	seedEntries(t, s, user, 5)

	eng := NewEngine(s, remote, user, EngineConfig{})
	require.Error(t, eng.SyncPending(context.Background()))

	pending, err := s.PendingOldestFirst(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 5)

	// Next cycle retries the same batch.
	remote.pushErr = nil
	require.NoError(t, eng.SyncPending(context.Background()))
	pending, err = s.PendingOldestFirst(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFetchFromServerMergesIdempotently(t *testing.T) {
	s := newTestStore(t)
	user := history.DeriveUserID("AKIA1234", "eu-west-3")
	remote := newFakeRemote()
	remote.fetched = []history.Entry{
		{ID: "srv-1", OperationType: history.OpObjectUpload, Status: history.StatusSuccess, LogLevel: history.LevelInfo},
	}

	eng := NewEngine(s, remote, user, EngineConfig{})
	require.NoError(t, eng.FetchFromServer(context.Background()))
	require.NoError(t, eng.FetchFromServer(context.Background()))

	entries, err := s.List(context.Background(), user, history.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestClearAllLocalWinsOnRemoteFailure(t *testing.T) {
	s := newTestStore(t)
	user := history.DeriveUserID("AKIA1234", "eu-west-3")
	remote := newFakeRemote()
	seedEntries(t, s, user, 3)
	remote.pushErr = errors.New("service unavailable")

	eng := NewEngine(s, remote, user, EngineConfig{})
	require.NoError(t, eng.ClearAll(context.Background()))

	st, err := s.Stats(context.Background(), user)
	require.NoError(t, err)
	assert.Zero(t, st.Total)

	// The divergence is recorded so an operator can see it, and reset by
	// the next clean clear.
	divergence, err := s.ClearDivergence(context.Background(), user)
	require.NoError(t, err)
	assert.Contains(t, divergence, "service unavailable")

	remote.pushErr = nil
	require.NoError(t, eng.ClearAll(context.Background()))
	divergence, err = s.ClearDivergence(context.Background(), user)
	require.NoError(t, err)
	assert.Empty(t, divergence)
}

func TestRunSyncsAfterAuthDebounce(t *testing.T) {
	s := newTestStore(t)
	user := history.DeriveUserID("AKIA1234", "eu-west-3")
	remote := newFakeRemote()
	seedEntries(t, s, user, 2)

	eng := NewEngine(s, remote, user, EngineConfig{
		AuthDebounce: 10 * time.Millisecond,
		Interval:     time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)
	defer eng.Close()

	// Not authenticated yet: nothing moves.
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, remote.batches())

	eng.SetAuthenticated(true)
	require.Eventually(t, func() bool {
		return len(remote.batches()) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestCycleRespectsSyncDisabled(t *testing.T) {
	s := newTestStore(t)
	user := history.DeriveUserID("AKIA1234", "eu-west-3")
	remote := newFakeRemote()
	seedEntries(t, s, user, 2)
	require.NoError(t, s.SetSyncEnabled(context.Background(), user, false))

	eng := NewEngine(s, remote, user, EngineConfig{})
	eng.SetAuthenticated(true)
	eng.cycle(context.Background())

	assert.Empty(t, remote.batches())
}
