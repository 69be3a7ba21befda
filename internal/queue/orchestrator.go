package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/domain"
	errpkg "github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/errors"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/metrics"
)

// JobRunner executes one item end-to-end. Implementations must honor the
// context for cancellation and surface user aborts as CanceledError.
type JobRunner interface {
	Run(ctx context.Context, item domain.QueueItem, progress func(stage string)) error
}

// Orchestrator owns the ordered job list and every status transition. Jobs
// execute strictly in list order, one at a time; the runner's own pipeline
// lock is the authoritative serialization, this loop is the cooperating
// scheduler. The orchestrator is the sole writer of item state and the sole
// persister.
type Orchestrator struct {
	mu              sync.Mutex
	items           []*domain.QueueItem
	completed       int
	running         bool
	stopRequested   bool
	cancelRequested map[string]struct{}
	activeKey       string
	activeCancel    context.CancelFunc

	store    *Store
	runner   JobRunner
	logger   *slog.Logger
	progress func(key, stage string)
}

// NewOrchestrator restores the persisted snapshot. Items interrupted while
// downloading are reset to queued so a process restart re-runs them.
func NewOrchestrator(store *Store, runner JobRunner, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		cancelRequested: make(map[string]struct{}),
		store:           store,
		runner:          runner,
		logger:          logger,
	}

	state := store.LoadState()
	for i := range state.Items {
		item := state.Items[i]
		if item.Status == domain.StatusDownloading {
			item.Status = domain.StatusQueued
			item.Error = ""
		}
		o.items = append(o.items, &item)
	}
	o.completed = state.Completed

	if len(o.items) > 0 {
		logger.Info("queue state restored", "items", len(o.items))
	}
	return o
}

// SetProgressObserver installs an optional stage-change observer for UI
// consumption.
func (o *Orchestrator) SetProgressObserver(fn func(key, stage string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = fn
}

// Enqueue adds an item, deduplicating on Key: an existing active entry is
// left untouched, a finished one is reset to queued. Returns true when the
// queue changed.
func (o *Orchestrator) Enqueue(item domain.QueueItem) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, existing := range o.items {
		if existing.Key != item.Key {
			continue
		}
		if existing.Status.Active() {
			return false
		}
		existing.Status = domain.StatusQueued
		existing.Error = ""
		o.persistLocked()
		return true
	}

	item.Status = domain.StatusQueued
	item.Error = ""
	copied := item
	o.items = append(o.items, &copied)
	metrics.JobsEnqueued.Inc()
	o.persistLocked()
	return true
}

// State returns the current snapshot.
func (o *Orchestrator) State() domain.QueueState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

// Start launches the sequential drain unless one is already running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errpkg.ErrQueueRunning
	}
	o.running = true
	o.stopRequested = false
	o.persistLocked()
	o.mu.Unlock()

	go func() {
		summary := o.drain(ctx)
		if summary != "" {
			o.logger.Warn("queue run finished with failures", "summary", summary)
		} else {
			o.logger.Info("queue run finished")
		}
	}()
	return nil
}

// Run executes the drain synchronously and returns the end-of-run failure
// summary, one "<fileName>: <error>" entry per failing job.
func (o *Orchestrator) Run(ctx context.Context) string {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ""
	}
	o.running = true
	o.stopRequested = false
	o.persistLocked()
	o.mu.Unlock()

	return o.drain(ctx)
}

func (o *Orchestrator) drain(ctx context.Context) string {
	var failures []string

	for {
		o.mu.Lock()
		item := o.nextQueuedLocked()
		if item == nil {
			o.mu.Unlock()
			break
		}

		if _, requested := o.cancelRequested[item.Key]; requested {
			delete(o.cancelRequested, item.Key)
			item.Status = domain.StatusCanceled
			metrics.JobsCanceled.Inc()
			o.persistLocked()
			o.mu.Unlock()
			continue
		}

		if o.stopRequested {
			o.markQueuedCanceledLocked()
			o.persistLocked()
			o.mu.Unlock()
			break
		}
		o.mu.Unlock()

		if failed := o.executeItem(ctx, item); failed != "" {
			failures = append(failures, failed)
		}
	}

	o.mu.Lock()
	o.running = false
	o.stopRequested = false
	o.persistLocked()
	o.mu.Unlock()

	return strings.Join(failures, "; ")
}

func (o *Orchestrator) nextQueuedLocked() *domain.QueueItem {
	for _, item := range o.items {
		if item.Status == domain.StatusQueued {
			return item
		}
	}
	return nil
}

func (o *Orchestrator) presentLocked(key string) bool {
	for _, item := range o.items {
		if item.Key == key {
			return true
		}
	}
	return false
}

func (o *Orchestrator) markQueuedCanceledLocked() {
	for _, item := range o.items {
		if item.Status == domain.StatusQueued {
			item.Status = domain.StatusCanceled
			metrics.JobsCanceled.Inc()
		}
	}
}

// executeItem runs one item and applies the resulting transition. It returns
// a "<fileName>: <error>" entry when the item failed, empty otherwise.
func (o *Orchestrator) executeItem(ctx context.Context, item *domain.QueueItem) string {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	// Stop, Cancel or Remove may land between the drain loop's checks and
	// this lock; re-check before committing to the run so a job queued at
	// the moment of a stop never starts.
	if !o.presentLocked(item.Key) {
		o.mu.Unlock()
		return ""
	}
	if _, requested := o.cancelRequested[item.Key]; requested || o.stopRequested {
		delete(o.cancelRequested, item.Key)
		item.Status = domain.StatusCanceled
		metrics.JobsCanceled.Inc()
		o.persistLocked()
		o.mu.Unlock()
		return ""
	}
	item.Status = domain.StatusDownloading
	item.Error = ""
	o.activeKey = item.Key
	o.activeCancel = cancel
	snapshot := *item
	observer := o.progress
	o.persistLocked()
	o.mu.Unlock()

	progress := func(stage string) {
		o.logger.Info("job progress", "key", snapshot.Key, "stage", stage)
		if observer != nil {
			observer(snapshot.Key, stage)
		}
	}

	started := time.Now()
	err := o.runner.Run(jobCtx, snapshot, progress)
	metrics.JobDuration.Observe(time.Since(started).Seconds())

	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeKey = ""
	o.activeCancel = nil
	delete(o.cancelRequested, item.Key)

	var failure string
	switch {
	case err == nil:
		o.completed++
		metrics.JobsCompleted.Inc()
		o.pruneLocked(item.Key)
		if item.DownloadMarker != "" {
			if merr := o.store.AddMarker(item.DownloadMarker); merr != nil {
				o.logger.Error("failed to persist download marker", "key", item.Key, "error", merr)
			}
		}
		o.logger.Info("job completed", "key", item.Key, "file", item.FileName)
	case errpkg.IsCanceled(err):
		item.Status = domain.StatusCanceled
		metrics.JobsCanceled.Inc()
		o.logger.Info("job canceled", "key", item.Key)
	default:
		item.Status = domain.StatusFailed
		item.Error = err.Error()
		metrics.JobsFailed.Inc()
		failure = fmt.Sprintf("%s: %s", item.FileName, err.Error())
		o.logger.Error("job failed", "key", item.Key, "file", item.FileName, "error", err)
	}

	o.persistLocked()
	return failure
}

// RunOne executes a single item in isolation, without touching sibling
// items. The target must currently be queued (use Retry first for a finished
// item).
func (o *Orchestrator) RunOne(ctx context.Context, key string) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errpkg.ErrQueueRunning
	}
	var target *domain.QueueItem
	for _, item := range o.items {
		if item.Key == key {
			target = item
			break
		}
	}
	if target == nil {
		o.mu.Unlock()
		return errpkg.ErrItemNotFound
	}
	if target.Status != domain.StatusQueued {
		o.mu.Unlock()
		return fmt.Errorf("item %s is %s, not queued", key, target.Status)
	}
	o.running = true
	o.persistLocked()
	o.mu.Unlock()

	o.executeItem(ctx, target)

	o.mu.Lock()
	o.running = false
	o.persistLocked()
	o.mu.Unlock()
	return nil
}

// Stop aborts the in-flight job and marks every not-yet-started queued item
// canceled.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.activeCancel != nil {
		o.activeCancel()
	}
	if o.running {
		o.stopRequested = true
		return
	}
	o.markQueuedCanceledLocked()
	o.persistLocked()
}

// Cancel targets a single item: an in-flight item's job context is aborted,
// a queued item is marked for cancellation at its turn so it never starts.
func (o *Orchestrator) Cancel(key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, item := range o.items {
		if item.Key != key {
			continue
		}
		switch item.Status {
		case domain.StatusDownloading:
			if o.activeKey == key && o.activeCancel != nil {
				o.activeCancel()
			}
		case domain.StatusQueued:
			if o.running {
				o.cancelRequested[key] = struct{}{}
			} else {
				item.Status = domain.StatusCanceled
				metrics.JobsCanceled.Inc()
				o.persistLocked()
			}
		}
		return nil
	}
	return errpkg.ErrItemNotFound
}

// Retry moves a failed or canceled item back to queued with its error
// cleared; sibling items are untouched.
func (o *Orchestrator) Retry(key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, item := range o.items {
		if item.Key != key {
			continue
		}
		if !item.Status.Retryable() {
			return fmt.Errorf("item %s is %s and cannot be retried", key, item.Status)
		}
		item.Status = domain.StatusQueued
		item.Error = ""
		o.persistLocked()
		return nil
	}
	return errpkg.ErrItemNotFound
}

// Remove drops one item. The in-flight item cannot be removed; cancel it
// first.
func (o *Orchestrator) Remove(key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, item := range o.items {
		if item.Key != key {
			continue
		}
		if item.Status == domain.StatusDownloading {
			return fmt.Errorf("item %s is downloading, cancel it before removing", key)
		}
		o.items = append(o.items[:i], o.items[i+1:]...)
		delete(o.cancelRequested, key)
		o.persistLocked()
		return nil
	}
	return errpkg.ErrItemNotFound
}

// Clear drops every item that is not currently downloading.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()

	kept := o.items[:0]
	for _, item := range o.items {
		if item.Status == domain.StatusDownloading {
			kept = append(kept, item)
		}
	}
	o.items = kept
	o.cancelRequested = make(map[string]struct{})
	o.persistLocked()
}

// pruneLocked removes a completed item so the persisted list only retains
// outstanding, failed or canceled work.
func (o *Orchestrator) pruneLocked(key string) {
	for i, item := range o.items {
		if item.Key == key {
			o.items = append(o.items[:i], o.items[i+1:]...)
			return
		}
	}
}

func (o *Orchestrator) stateLocked() domain.QueueState {
	items := make([]domain.QueueItem, 0, len(o.items))
	for _, item := range o.items {
		items = append(items, *item)
	}
	return domain.QueueState{
		Active:    o.running,
		Completed: o.completed,
		Total:     len(items),
		Items:     items,
		UpdatedAt: time.Now(),
	}
}

func (o *Orchestrator) persistLocked() {
	if err := o.store.SaveState(o.stateLocked()); err != nil {
		o.logger.Error("failed to persist queue state", "error", err)
	}
}
