package importer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"product-import-service/internal/events"
	"product-import-service/internal/metrics"
	"product-import-service/internal/models"
	"product-import-service/internal/repository"
)

const (
	DefaultBatchSize = 1000 // Default accepted rows per committed batch
	MaxBatchSize     = 2000 // Upper bound for the batch size option
	DefaultRetries   = 1    // Transient batch failures are retried once
)

// ProductStore commits one batch of deduplicated rows atomically: either the
// whole batch is durable or none of it is.
type ProductStore interface {
	UpsertBatch(ctx context.Context, items []models.ProductUpsert) (*models.UpsertStats, error)
}

// Importer owns the import pipeline: it creates tasks, runs the
// parse/validate/resolve/commit loop in a background goroutine per task, and
// publishes progress through the task store.
type Importer struct {
	store      ProductStore
	tasks      TaskStore
	logger     *logrus.Entry
	metrics    *metrics.Metrics
	events     *events.Publisher
	batchSize  int
	maxRetries int

	// newSource opens the row source for a spooled file; tests substitute it
	// to inject stream failures.
	newSource func(path string, format models.ImportFormat) (RowSource, error)

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Options configures an Importer. Zero values fall back to defaults;
// Metrics and Events may be nil.
type Options struct {
	BatchSize  int
	MaxRetries int
	Metrics    *metrics.Metrics
	Events     *events.Publisher
}

func New(store ProductStore, tasks TaskStore, logger *logrus.Logger, opts Options) *Importer {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultRetries
	}

	return &Importer{
		store:      store,
		tasks:      tasks,
		logger:     logger.WithField("component", "importer"),
		metrics:    opts.Metrics,
		events:     opts.Events,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		newSource:  openSource,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Start creates a queued task for the uploaded file and schedules the
// pipeline. It returns the task id immediately; the file is removed when the
// run finishes.
func (imp *Importer) Start(path string, format models.ImportFormat) (string, error) {
	taskID := uuid.New().String()

	tracker, err := NewTracker(context.Background(), imp.tasks, taskID, imp.logger)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	imp.mu.Lock()
	imp.cancels[taskID] = cancel
	imp.mu.Unlock()

	go imp.run(ctx, taskID, tracker, path, format)

	return taskID, nil
}

// Cancel requests that a running task stop after its in-flight batch.
// It reports whether the task was known and still running.
func (imp *Importer) Cancel(taskID string) bool {
	imp.mu.Lock()
	cancel, ok := imp.cancels[taskID]
	imp.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Status returns the durable snapshot for a task id.
func (imp *Importer) Status(ctx context.Context, taskID string) (*models.TaskSnapshot, error) {
	return imp.tasks.Get(ctx, taskID)
}

// run is the orchestrator loop. ctx only signals cancellation: it is checked
// between batches so an in-flight commit always finishes; store and tracker
// calls deliberately use a background context.
func (imp *Importer) run(ctx context.Context, taskID string, tracker *Tracker, path string, format models.ImportFormat) {
	sctx := context.Background()
	log := imp.logger.WithField("task_id", taskID)
	started := time.Now()

	defer func() {
		imp.mu.Lock()
		delete(imp.cancels, taskID)
		imp.mu.Unlock()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warn("Failed to remove uploaded file")
		}
	}()

	// The CSV total is a cheap byte scan over the spooled file; XLSX has no
	// equivalent without a full pass, so its total stays unknown.
	if format == models.ImportFormatCSV {
		if total, err := CountCSVRows(path); err == nil {
			tracker.SetTotal(sctx, total)
		}
	}

	src, err := imp.newSource(path, format)
	if err != nil {
		imp.finishError(sctx, tracker, log, fmt.Sprintf("failed to open import file: %v", err))
		return
	}
	defer src.Close()

	tracker.MarkProcessing(sctx)

	batch := make([]Row, 0, imp.batchSize)
	var pendingInvalid int64

	flush := func() error {
		if len(batch) == 0 && pendingInvalid == 0 {
			return nil
		}
		resolved, duplicates := dedupeBatch(batch)
		pendingInvalid += int64(duplicates)

		if len(resolved) > 0 {
			if err := imp.commitWithRetry(sctx, log, resolved); err != nil {
				return err
			}
		}

		tracker.Advance(sctx, int64(len(resolved)), pendingInvalid)
		imp.metrics.ObserveBatch(len(resolved), int(pendingInvalid))
		batch = batch[:0]
		pendingInvalid = 0
		return nil
	}

	for src.Scan() {
		row, rowErr := ValidateRow(src.Row())
		if rowErr != nil {
			pendingInvalid++
			log.WithFields(logrus.Fields{"line": rowErr.Line, "reason": rowErr.Reason}).Debug("Rejected row")
			continue
		}
		batch = append(batch, *row)

		if len(batch) >= imp.batchSize {
			if err := flush(); err != nil {
				imp.finishError(sctx, tracker, log, err.Error())
				return
			}
			if ctx.Err() != nil {
				imp.finishError(sctx, tracker, log, "import canceled")
				return
			}
		}
	}

	// A mid-stream read failure abandons the partial batch: processed must
	// reflect only durably committed rows.
	if err := src.Err(); err != nil {
		imp.finishError(sctx, tracker, log, fmt.Sprintf("failed to read import file: %v", err))
		return
	}

	// A cancel that lands while the final partial batch is still being
	// assembled abandons it uncommitted; one that lands during the final
	// commit lets the batch finish and count, same as mid-stream.
	if ctx.Err() != nil {
		imp.finishError(sctx, tracker, log, "import canceled")
		return
	}

	if err := flush(); err != nil {
		imp.finishError(sctx, tracker, log, err.Error())
		return
	}

	if ctx.Err() != nil {
		imp.finishError(sctx, tracker, log, "import canceled")
		return
	}

	tracker.MarkComplete(sctx)
	imp.metrics.TaskFinished(string(models.TaskStatusComplete), time.Since(started))

	snap := tracker.Snapshot()
	log.WithFields(logrus.Fields{
		"processed": snap.Processed,
		"invalid":   snap.Invalid,
		"duration":  time.Since(started).String(),
	}).Info("Import completed")

	if imp.events != nil {
		if err := imp.events.PublishImportCompleted(sctx, snap); err != nil {
			log.WithError(err).Warn("Failed to publish import completed event")
		}
	}
}

func openSource(path string, format models.ImportFormat) (RowSource, error) {
	switch format {
	case models.ImportFormatXLSX:
		return NewXLSXSource(path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return NewCSVSource(f)
	}
}

// commitWithRetry commits one batch, retrying plausibly transient store
// failures with exponential backoff. Non-transient failures and exhausted
// retries escalate to the task level.
func (imp *Importer) commitWithRetry(ctx context.Context, log *logrus.Entry, items []models.ProductUpsert) error {
	var lastErr error
	for attempt := 0; attempt <= imp.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(100*(1<<(attempt-1))) * time.Millisecond)
		}
		_, err := imp.store.UpsertBatch(ctx, items)
		if err == nil {
			return nil
		}
		lastErr = err
		if !repository.IsTransient(err) {
			break
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("Batch commit failed, retrying")
	}
	return fmt.Errorf("batch commit failed: %w", lastErr)
}

// finishError records the terminal error state.
func (imp *Importer) finishError(ctx context.Context, tracker *Tracker, log *logrus.Entry, message string) {
	tracker.MarkError(ctx, message)
	imp.metrics.TaskFinished(string(models.TaskStatusError), 0)
	log.WithField("error", message).Error("Import failed")

	if imp.events != nil {
		if err := imp.events.PublishImportFailed(ctx, tracker.Snapshot()); err != nil {
			log.WithError(err).Warn("Failed to publish import failed event")
		}
	}
}

// dedupeBatch resolves case-folded SKU collisions within one batch: the last
// occurrence in file order wins and earlier ones are counted invalid. The
// surviving row takes the slot of the first occurrence, which is irrelevant
// to the store but keeps this a single pass.
func dedupeBatch(batch []Row) ([]models.ProductUpsert, int) {
	if len(batch) == 0 {
		return nil, 0
	}

	resolved := make([]models.ProductUpsert, 0, len(batch))
	seen := make(map[string]int, len(batch))
	duplicates := 0

	for _, row := range batch {
		if idx, ok := seen[row.SKUKey]; ok {
			resolved[idx] = row.ProductUpsert
			duplicates++
			continue
		}
		seen[row.SKUKey] = len(resolved)
		resolved = append(resolved, row.ProductUpsert)
	}
	return resolved, duplicates
}
