package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-import-service/internal/models"
)

func newTestTracker(t *testing.T) (*Tracker, *MemoryTaskStore) {
	t.Helper()
	store := NewMemoryTaskStore()
	tracker, err := NewTracker(context.Background(), store, "task-1", nil)
	require.NoError(t, err)
	return tracker, store
}

func TestTrackerRegistersQueued(t *testing.T) {
	_, store := newTestTracker(t)

	snap, err := store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, snap.Status)
	assert.EqualValues(t, 0, snap.Processed)
	assert.EqualValues(t, 0, snap.Invalid)
	assert.Nil(t, snap.Total)
	assert.Nil(t, snap.Percent)
	assert.Nil(t, snap.Error)
}

func TestTrackerAdvanceComputesPercent(t *testing.T) {
	ctx := context.Background()
	tracker, store := newTestTracker(t)

	tracker.SetTotal(ctx, 200)
	tracker.MarkProcessing(ctx)
	tracker.Advance(ctx, 50, 3)

	snap, err := store.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusProcessing, snap.Status)
	assert.EqualValues(t, 50, snap.Processed)
	assert.EqualValues(t, 3, snap.Invalid)
	require.NotNil(t, snap.Percent)
	assert.Equal(t, 25, *snap.Percent)
}

func TestTrackerPercentAbsentWithoutTotal(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	tracker.MarkProcessing(ctx)
	tracker.Advance(ctx, 10, 0)

	snap := tracker.Snapshot()
	assert.Nil(t, snap.Total)
	assert.Nil(t, snap.Percent)
}

func TestTrackerPercentClamped(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	// The pre-scan total can undercount; percent must not exceed 100.
	tracker.SetTotal(ctx, 10)
	tracker.Advance(ctx, 15, 0)

	snap := tracker.Snapshot()
	require.NotNil(t, snap.Percent)
	assert.Equal(t, 100, *snap.Percent)
}

func TestTrackerCompleteBackfillsTotal(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	tracker.MarkProcessing(ctx)
	tracker.Advance(ctx, 40, 5)
	tracker.MarkComplete(ctx)

	snap := tracker.Snapshot()
	assert.Equal(t, models.TaskStatusComplete, snap.Status)
	require.NotNil(t, snap.Total)
	assert.EqualValues(t, 45, *snap.Total)
	require.NotNil(t, snap.Percent)
	assert.Equal(t, 100, *snap.Percent)
}

func TestTrackerCompleteForcesFullPercent(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	// Invalid rows never advance percent, so it lands short of 100 before
	// the terminal transition.
	tracker.SetTotal(ctx, 10)
	tracker.Advance(ctx, 8, 2)
	tracker.MarkComplete(ctx)

	snap := tracker.Snapshot()
	require.NotNil(t, snap.Percent)
	assert.Equal(t, 100, *snap.Percent)
}

func TestTrackerErrorFreezesCounters(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	tracker.SetTotal(ctx, 100)
	tracker.MarkProcessing(ctx)
	tracker.Advance(ctx, 30, 2)
	tracker.MarkError(ctx, "database write failed")

	// Late mutations after the terminal transition must not land.
	tracker.Advance(ctx, 10, 1)
	tracker.MarkComplete(ctx)
	tracker.SetTotal(ctx, 500)

	snap := tracker.Snapshot()
	assert.Equal(t, models.TaskStatusError, snap.Status)
	assert.EqualValues(t, 30, snap.Processed)
	assert.EqualValues(t, 2, snap.Invalid)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "database write failed", *snap.Error)
	require.NotNil(t, snap.Percent)
	assert.Equal(t, 30, *snap.Percent)
}

func TestTrackerTerminalIdempotent(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	tracker.MarkComplete(ctx)
	first := tracker.Snapshot()

	tracker.MarkError(ctx, "too late")
	tracker.MarkComplete(ctx)

	snap := tracker.Snapshot()
	assert.Equal(t, models.TaskStatusComplete, snap.Status)
	assert.Nil(t, snap.Error)
	assert.Equal(t, first.Processed, snap.Processed)
}

func TestTrackerNegativeDeltasIgnored(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	tracker.Advance(ctx, 10, 2)
	tracker.Advance(ctx, -5, -1)

	snap := tracker.Snapshot()
	assert.EqualValues(t, 10, snap.Processed)
	assert.EqualValues(t, 2, snap.Invalid)
}

func TestMemoryTaskStoreNotFound(t *testing.T) {
	store := NewMemoryTaskStore()
	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryTaskStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTaskStore()

	total := int64(10)
	require.NoError(t, store.Put(ctx, models.TaskSnapshot{TaskID: "t", Total: &total}))

	snap, err := store.Get(ctx, "t")
	require.NoError(t, err)
	*snap.Total = 999

	again, err := store.Get(ctx, "t")
	require.NoError(t, err)
	assert.EqualValues(t, 10, *again.Total)
}
