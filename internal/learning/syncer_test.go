package learning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/agentjj/internal/classify"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
)

// fakeStore records pushes and fails on demand. It stands in for both
// backends in adapter tests.
type fakeStore struct {
	mu       sync.Mutex
	pushes   []Record
	batches  [][]Record
	pushErr  error
	countN   int
	countErr error
	pulls    []Record
	closed   bool
}

func (f *fakeStore) Push(ctx context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, rec)
	return nil
}

func (f *fakeStore) PushBatch(ctx context.Context, recs []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.batches = append(f.batches, recs)
	f.pushes = append(f.pushes, recs...)
	return nil
}

func (f *fakeStore) Pull(ctx context.Context, tag, query string, k int) ([]Record, error) {
	return f.pulls, nil
}

func (f *fakeStore) Count(ctx context.Context, tag string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countN, f.countErr
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushErr = err
}

func (f *fakeStore) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeStore) pushedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.pushes))
	for i, rec := range f.pushes {
		ids[i] = rec.ID
	}
	return ids
}

var _ Store = (*fakeStore)(nil)

func opForSync(id string) oplog.Operation {
	op := sampleOperation()
	op.ID = id
	return op
}

func newTestAdapter(t *testing.T, store Store, opts ...AdapterOption) (*Adapter, *oplog.Log) {
	t.Helper()
	log, err := oplog.NewLog(100)
	require.NoError(t, err)
	a, err := NewAdapter(store, log, opts...)
	require.NoError(t, err)
	return a, log
}

func TestNewAdapterRequiresLog(t *testing.T) {
	t.Parallel()

	_, err := NewAdapter(&fakeStore{}, nil)
	require.Error(t, err)
}

func TestSyncOperationPushesRecord(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	a, _ := newTestAdapter(t, store)

	require.NoError(t, a.SyncOperation(context.Background(), opForSync("op-1"), ""))

	require.Equal(t, 1, store.pushCount())
	store.mu.Lock()
	rec := store.pushes[0]
	store.mu.Unlock()
	assert.Equal(t, "op-1", rec.ID)
	assert.Equal(t, DefaultTag, rec.Tag, "empty tag falls back to the default")
	assert.Equal(t, 0, a.QueueDepth())
}

func TestSyncOperationQueuesOnStoreFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{pushErr: errors.New("store down")}
	a, _ := newTestAdapter(t, store)

	err := a.SyncOperation(context.Background(), opForSync("op-1"), "team-a")
	require.ErrorIs(t, err, ErrSyncFailed)
	assert.Equal(t, 1, a.QueueDepth())
	assert.Zero(t, store.pushCount())
}

func TestSyncOperationDefersWhenRateLimited(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	a, _ := newTestAdapter(t, store, WithRateLimit(1))

	// Burst allows two immediate pushes; the third is deferred to the
	// background syncer rather than failed.
	for i := 0; i < 3; i++ {
		require.NoError(t, a.SyncOperation(context.Background(), opForSync(fmt.Sprintf("op-%d", i)), ""))
	}
	assert.Equal(t, 2, store.pushCount())
	assert.Equal(t, 1, a.QueueDepth())
}

func TestSyncOperationWithoutStoreIsNoop(t *testing.T) {
	t.Parallel()

	a, _ := newTestAdapter(t, nil)

	require.NoError(t, a.SyncOperation(context.Background(), opForSync("op-1"), ""))
	assert.Equal(t, 0, a.QueueDepth())
}

func TestSyncBatch(t *testing.T) {
	t.Parallel()

	t.Run("single store round-trip", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{}
		a, _ := newTestAdapter(t, store)

		ops := []oplog.Operation{opForSync("op-1"), opForSync("op-2"), opForSync("op-3")}
		require.NoError(t, a.SyncBatch(context.Background(), ops, "task-7"))

		store.mu.Lock()
		defer store.mu.Unlock()
		require.Len(t, store.batches, 1)
		require.Len(t, store.batches[0], 3)
		assert.Equal(t, "task-7", store.batches[0][0].Tag)
	})

	t.Run("failure queues every record", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{pushErr: errors.New("store down")}
		a, _ := newTestAdapter(t, store)

		ops := []oplog.Operation{opForSync("op-1"), opForSync("op-2")}
		err := a.SyncBatch(context.Background(), ops, "")
		require.ErrorIs(t, err, ErrSyncFailed)
		assert.Equal(t, 2, a.QueueDepth())
	})

	t.Run("empty batch", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{}
		a, _ := newTestAdapter(t, store)
		require.NoError(t, a.SyncBatch(context.Background(), nil, ""))
		assert.Zero(t, store.pushCount())
	})
}

func appendStatsOps(log *oplog.Log) {
	complexities := []classify.Complexity{
		classify.ComplexityLow, classify.ComplexityLow,
		classify.ComplexityMedium, classify.ComplexityHigh,
	}
	for i, c := range complexities {
		op := opForSync(fmt.Sprintf("op-%d", i))
		op.Success = i < 3
		op.Classification.Complexity = c
		log.Append(op)
	}
}

func TestStatisticsPrefersStoreTotal(t *testing.T) {
	t.Parallel()

	store := &fakeStore{countN: 42}
	a, log := newTestAdapter(t, store)
	appendStatsOps(log)

	stats := a.Statistics(context.Background(), "")
	assert.Equal(t, 42, stats.Total)
	assert.Equal(t, "store", stats.Source)
	assert.InDelta(t, 0.75, stats.SuccessRate, 1e-9)
	assert.Equal(t, map[string]int{"low": 2, "medium": 1, "high": 1}, stats.ByClassification)
	assert.Equal(t, 0, stats.QueueDepth)
}

func TestStatisticsFallsBackToLocalLog(t *testing.T) {
	t.Parallel()

	t.Run("store count fails", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{countErr: errors.New("store down")}
		logs := logging.NewTestLogger()
		a, log := newTestAdapter(t, store, WithAdapterLogger(logs.Logger))
		appendStatsOps(log)

		stats := a.Statistics(context.Background(), "")
		assert.Equal(t, 4, stats.Total)
		assert.Equal(t, "local", stats.Source)
		logs.AssertLogged(t, zapcore.WarnLevel, "learning store count failed")
	})

	t.Run("sync disabled", func(t *testing.T) {
		t.Parallel()
		a, log := newTestAdapter(t, nil)
		appendStatsOps(log)

		stats := a.Statistics(context.Background(), "")
		assert.Equal(t, 4, stats.Total)
		assert.Equal(t, "local", stats.Source)
	})
}

func TestPullWithoutStoreReturnsNothing(t *testing.T) {
	t.Parallel()

	a, _ := newTestAdapter(t, nil)
	got, err := a.Pull(context.Background(), "", "query", 3)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDrainOnceRecoversQueuedRecords(t *testing.T) {
	t.Parallel()

	store := &fakeStore{pushErr: errors.New("store down")}
	a, _ := newTestAdapter(t, store)

	err := a.SyncOperation(context.Background(), opForSync("op-1"), "")
	require.ErrorIs(t, err, ErrSyncFailed)
	require.Equal(t, 1, a.QueueDepth())

	store.setErr(nil)
	a.drainOnce(context.Background())

	assert.Equal(t, 0, a.QueueDepth())
	assert.Equal(t, []string{"op-1"}, store.pushedIDs())
}

func TestDrainOnceRequeuesPersistentFailures(t *testing.T) {
	t.Parallel()

	store := &fakeStore{pushErr: errors.New("store down")}
	a, _ := newTestAdapter(t, store)

	_ = a.SyncOperation(context.Background(), opForSync("op-1"), "")
	require.Equal(t, 1, a.QueueDepth())

	// Cap the drain so the test does not sit out the full backoff.
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	a.drainOnce(ctx)

	assert.Equal(t, 1, a.QueueDepth(), "still-failing record goes back in the queue")
	assert.Zero(t, store.pushCount())
}

func TestAdapterBackgroundSyncerDrainsQueue(t *testing.T) {
	t.Parallel()

	store := &fakeStore{pushErr: errors.New("store down")}
	a, _ := newTestAdapter(t, store, WithSyncInterval(20*time.Millisecond))

	_ = a.SyncOperation(context.Background(), opForSync("op-1"), "")
	require.Equal(t, 1, a.QueueDepth())

	store.setErr(nil)
	a.Start(context.Background())

	require.Eventually(t, func() bool {
		return a.QueueDepth() == 0 && store.pushCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Close())
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.True(t, store.closed)
}

func TestAdapterCloseWithoutStart(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	a, _ := newTestAdapter(t, store)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "close is idempotent")

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.True(t, store.closed)
}
