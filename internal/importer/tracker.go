package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"product-import-service/internal/models"
)

const statusKeyPrefix = "task:status:"

// ErrTaskNotFound is returned by a TaskStore when no snapshot exists for the
// given task id.
var ErrTaskNotFound = errors.New("task not found")

// TaskStore is the durable keyed store behind the progress tracker. A status
// endpoint in a separate process only needs Get.
type TaskStore interface {
	Put(ctx context.Context, snap models.TaskSnapshot) error
	Get(ctx context.Context, taskID string) (*models.TaskSnapshot, error)
}

// RedisTaskStore keeps task snapshots as JSON under task:status:<id> with a
// TTL, so finished tasks age out on their own.
type RedisTaskStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTaskStore(client *redis.Client, ttl time.Duration) *RedisTaskStore {
	return &RedisTaskStore{client: client, ttl: ttl}
}

func (s *RedisTaskStore) Put(ctx context.Context, snap models.TaskSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%s", statusKeyPrefix, snap.TaskID)
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

func (s *RedisTaskStore) Get(ctx context.Context, taskID string) (*models.TaskSnapshot, error) {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, taskID)
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap models.TaskSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// MemoryTaskStore is a process-local TaskStore for single-instance
// deployments without Redis, and for tests.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]models.TaskSnapshot
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]models.TaskSnapshot)}
}

func (s *MemoryTaskStore) Put(ctx context.Context, snap models.TaskSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[snap.TaskID] = cloneSnapshot(snap)
	return nil
}

func (s *MemoryTaskStore) Get(ctx context.Context, taskID string) (*models.TaskSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	out := cloneSnapshot(snap)
	return &out, nil
}

func cloneSnapshot(snap models.TaskSnapshot) models.TaskSnapshot {
	out := snap
	if snap.Total != nil {
		v := *snap.Total
		out.Total = &v
	}
	if snap.Percent != nil {
		v := *snap.Percent
		out.Percent = &v
	}
	if snap.Error != nil {
		v := *snap.Error
		out.Error = &v
	}
	return out
}

// Tracker holds the authoritative state of one import task. A single writer
// (the orchestrator) advances it; any number of readers take snapshots. Every
// mutation is flushed to the TaskStore so other processes observe progress.
type Tracker struct {
	mu     sync.Mutex
	snap   models.TaskSnapshot
	store  TaskStore
	logger *logrus.Entry
}

// NewTracker registers a task in the queued state.
func NewTracker(ctx context.Context, store TaskStore, taskID string, logger *logrus.Entry) (*Tracker, error) {
	t := &Tracker{
		snap: models.TaskSnapshot{
			TaskID:    taskID,
			Status:    models.TaskStatusQueued,
			UpdatedAt: time.Now().UTC(),
		},
		store:  store,
		logger: logger,
	}
	if err := store.Put(ctx, t.snap); err != nil {
		return nil, fmt.Errorf("failed to register task: %w", err)
	}
	return t, nil
}

// SetTotal records the expected row count. No-op once processing produced a
// total or the task is terminal.
func (t *Tracker) SetTotal(ctx context.Context, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status.Terminal() || total < 0 {
		return
	}
	t.snap.Total = &total
	t.recomputePercentLocked()
	t.flushLocked(ctx)
}

// MarkProcessing transitions queued -> processing.
func (t *Tracker) MarkProcessing(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status != models.TaskStatusQueued {
		return
	}
	t.snap.Status = models.TaskStatusProcessing
	t.flushLocked(ctx)
}

// Advance atomically increments the counters and recomputes percent.
// Counters never decrease; negative deltas are ignored. Calls after a
// terminal transition are no-ops.
func (t *Tracker) Advance(ctx context.Context, processedDelta, invalidDelta int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status.Terminal() {
		return
	}
	if processedDelta > 0 {
		t.snap.Processed += processedDelta
	}
	if invalidDelta > 0 {
		t.snap.Invalid += invalidDelta
	}
	t.recomputePercentLocked()
	t.flushLocked(ctx)
}

// MarkComplete transitions to the complete state exactly once. Percent is
// forced to 100 and a previously unknown total is backfilled from the final
// counters, now that the stream length is known.
func (t *Tracker) MarkComplete(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status.Terminal() {
		return
	}
	t.snap.Status = models.TaskStatusComplete
	if t.snap.Total == nil {
		total := t.snap.Processed + t.snap.Invalid
		t.snap.Total = &total
	}
	percent := 100
	t.snap.Percent = &percent
	t.flushLocked(ctx)
}

// MarkError transitions to the error state exactly once; later calls are
// no-ops. Counters and percent stay frozen at the last committed values.
func (t *Tracker) MarkError(ctx context.Context, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status.Terminal() {
		return
	}
	t.snap.Status = models.TaskStatusError
	t.snap.Error = &message
	t.flushLocked(ctx)
}

// Snapshot returns a torn-free copy of the current state.
func (t *Tracker) Snapshot() models.TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneSnapshot(t.snap)
}

func (t *Tracker) recomputePercentLocked() {
	if t.snap.Total == nil || *t.snap.Total <= 0 {
		return
	}
	percent := int(t.snap.Processed * 100 / *t.snap.Total)
	if percent > 100 {
		percent = 100
	}
	t.snap.Percent = &percent
}

// flushLocked publishes the current state to the store. A failed write is
// logged and retried implicitly by the next flush; progress reporting must
// not fail the import.
func (t *Tracker) flushLocked(ctx context.Context) {
	t.snap.UpdatedAt = time.Now().UTC()
	if err := t.store.Put(ctx, t.snap); err != nil && t.logger != nil {
		t.logger.WithError(err).WithField("task_id", t.snap.TaskID).Warn("Failed to publish task progress")
	}
}
