package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/domain"
	errpkg "github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/errors"
)

// scriptedRunner returns a per-key result and can block mid-job to let tests
// interleave control operations with a run.
type scriptedRunner struct {
	mu      sync.Mutex
	results map[string]error
	ran     []string

	block   chan struct{}
	started chan string
}

func (r *scriptedRunner) Run(ctx context.Context, item domain.QueueItem, progress func(stage string)) error {
	r.mu.Lock()
	r.ran = append(r.ran, item.Key)
	r.mu.Unlock()

	if progress != nil {
		progress("downloading")
	}
	if r.started != nil {
		r.started <- item.Key
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return &errpkg.CanceledError{Stage: "downloading"}
		}
	}
	if err, ok := r.results[item.Key]; ok {
		return err
	}
	return nil
}

func (r *scriptedRunner) ranKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func newTestOrchestrator(t *testing.T, runner JobRunner) (*Orchestrator, *Store) {
	t.Helper()
	store := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrchestrator(store, runner, logger), store
}

func testItem(course, rid string) domain.QueueItem {
	return domain.QueueItem{
		Key:            domain.ItemKey(course, rid, "hd"),
		CourseDigit:    course,
		RID:            rid,
		DownloadMarker: CanonicalMarker(course, rid),
		FileName:       rid + ".mp4",
		VideoType:      "hd",
		RemuxToMP4:     true,
	}
}

func findItem(state domain.QueueState, key string) (domain.QueueItem, bool) {
	for _, item := range state.Items {
		if item.Key == key {
			return item, true
		}
	}
	return domain.QueueItem{}, false
}

func TestOrchestrator_EnqueueDeduplicates(t *testing.T) {
	o, _ := newTestOrchestrator(t, &scriptedRunner{})

	item := testItem("250", "rec-1")
	assert.True(t, o.Enqueue(item))
	assert.False(t, o.Enqueue(item), "active duplicate must not re-enqueue")
	assert.Len(t, o.State().Items, 1)
}

func TestOrchestrator_EnqueueResetsFinishedItem(t *testing.T) {
	item := testItem("250", "rec-1")
	runner := &scriptedRunner{results: map[string]error{item.Key: errors.New("boom")}}
	o, _ := newTestOrchestrator(t, runner)

	o.Enqueue(item)
	o.Run(context.Background())

	got, ok := findItem(o.State(), item.Key)
	assert.True(t, ok)
	assert.Equal(t, domain.StatusFailed, got.Status)

	assert.True(t, o.Enqueue(item), "a failed item is re-armed by enqueue")
	got, _ = findItem(o.State(), item.Key)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Empty(t, got.Error)
}

func TestOrchestrator_RunDrainsInOrderAndPrunesDone(t *testing.T) {
	runner := &scriptedRunner{}
	o, _ := newTestOrchestrator(t, runner)

	a, b := testItem("250", "rec-a"), testItem("250", "rec-b")
	o.Enqueue(a)
	o.Enqueue(b)

	summary := o.Run(context.Background())

	assert.Empty(t, summary)
	assert.Equal(t, []string{a.Key, b.Key}, runner.ranKeys())

	state := o.State()
	assert.Empty(t, state.Items, "completed items are pruned")
	assert.Equal(t, 2, state.Completed)
	assert.False(t, state.Active)
}

func TestOrchestrator_FailureSummaryAndRetention(t *testing.T) {
	a, b := testItem("250", "rec-a"), testItem("250", "rec-b")
	runner := &scriptedRunner{results: map[string]error{b.Key: errors.New("remux exploded")}}
	o, _ := newTestOrchestrator(t, runner)

	o.Enqueue(a)
	o.Enqueue(b)

	summary := o.Run(context.Background())

	assert.Equal(t, "rec-b.mp4: remux exploded", summary)

	state := o.State()
	assert.Equal(t, 1, state.Completed)
	got, ok := findItem(state, b.Key)
	assert.True(t, ok, "failed item is retained")
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "remux exploded", got.Error)
	_, ok = findItem(state, a.Key)
	assert.False(t, ok, "successful item is pruned")
}

func TestOrchestrator_CanceledJobIsNotAFailure(t *testing.T) {
	item := testItem("250", "rec-1")
	runner := &scriptedRunner{results: map[string]error{item.Key: &errpkg.CanceledError{Stage: "remuxing"}}}
	o, _ := newTestOrchestrator(t, runner)

	o.Enqueue(item)
	summary := o.Run(context.Background())

	assert.Empty(t, summary, "cancellations never appear in the failure summary")
	got, _ := findItem(o.State(), item.Key)
	assert.Equal(t, domain.StatusCanceled, got.Status)
	assert.Empty(t, got.Error)
}

func TestOrchestrator_SuccessRecordsMarker(t *testing.T) {
	item := testItem("250", "rec-1")
	o, store := newTestOrchestrator(t, &scriptedRunner{})

	o.Enqueue(item)
	o.Run(context.Background())

	markers := store.LoadMarkers()
	assert.Contains(t, markers, item.DownloadMarker)
}

func TestOrchestrator_Retry(t *testing.T) {
	item := testItem("250", "rec-1")
	runner := &scriptedRunner{results: map[string]error{item.Key: errors.New("boom")}}
	o, _ := newTestOrchestrator(t, runner)

	o.Enqueue(item)
	o.Run(context.Background())

	assert.NoError(t, o.Retry(item.Key))
	got, _ := findItem(o.State(), item.Key)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Empty(t, got.Error)

	assert.Error(t, o.Retry(item.Key), "a queued item is not retryable")
	assert.ErrorIs(t, o.Retry("missing"), errpkg.ErrItemNotFound)
}

func TestOrchestrator_CancelQueuedWhileIdle(t *testing.T) {
	item := testItem("250", "rec-1")
	o, _ := newTestOrchestrator(t, &scriptedRunner{})

	o.Enqueue(item)
	assert.NoError(t, o.Cancel(item.Key))

	got, _ := findItem(o.State(), item.Key)
	assert.Equal(t, domain.StatusCanceled, got.Status)
	assert.ErrorIs(t, o.Cancel("missing"), errpkg.ErrItemNotFound)
}

func TestOrchestrator_CancelQueuedDuringRunSkipsIt(t *testing.T) {
	a, b := testItem("250", "rec-a"), testItem("250", "rec-b")
	runner := &scriptedRunner{block: make(chan struct{}), started: make(chan string, 2)}
	o, _ := newTestOrchestrator(t, runner)

	o.Enqueue(a)
	o.Enqueue(b)
	assert.NoError(t, o.Start(context.Background()))

	<-runner.started // a is in flight
	assert.NoError(t, o.Cancel(b.Key))
	close(runner.block)

	assert.Eventually(t, func() bool { return !o.State().Active }, time.Second, 5*time.Millisecond)

	got, _ := findItem(o.State(), b.Key)
	assert.Equal(t, domain.StatusCanceled, got.Status)
	assert.NotContains(t, runner.ranKeys(), b.Key, "a pre-canceled item never starts")
}

func TestOrchestrator_CancelActiveItem(t *testing.T) {
	item := testItem("250", "rec-1")
	runner := &scriptedRunner{block: make(chan struct{}), started: make(chan string, 1)}
	o, _ := newTestOrchestrator(t, runner)

	o.Enqueue(item)
	assert.NoError(t, o.Start(context.Background()))

	<-runner.started
	assert.NoError(t, o.Cancel(item.Key))

	assert.Eventually(t, func() bool { return !o.State().Active }, time.Second, 5*time.Millisecond)
	got, _ := findItem(o.State(), item.Key)
	assert.Equal(t, domain.StatusCanceled, got.Status)
}

func TestOrchestrator_StopAbortsActiveAndSweepsQueued(t *testing.T) {
	a, b := testItem("250", "rec-a"), testItem("250", "rec-b")
	runner := &scriptedRunner{block: make(chan struct{}), started: make(chan string, 2)}
	o, _ := newTestOrchestrator(t, runner)

	o.Enqueue(a)
	o.Enqueue(b)
	assert.NoError(t, o.Start(context.Background()))

	<-runner.started
	o.Stop()

	assert.Eventually(t, func() bool { return !o.State().Active }, time.Second, 5*time.Millisecond)

	state := o.State()
	gotA, _ := findItem(state, a.Key)
	gotB, _ := findItem(state, b.Key)
	assert.Equal(t, domain.StatusCanceled, gotA.Status)
	assert.Equal(t, domain.StatusCanceled, gotB.Status)
	assert.NotContains(t, runner.ranKeys(), b.Key)
}

func TestOrchestrator_StartWhileRunningIsRejected(t *testing.T) {
	item := testItem("250", "rec-1")
	runner := &scriptedRunner{block: make(chan struct{}), started: make(chan string, 1)}
	o, _ := newTestOrchestrator(t, runner)

	o.Enqueue(item)
	assert.NoError(t, o.Start(context.Background()))
	<-runner.started

	assert.ErrorIs(t, o.Start(context.Background()), errpkg.ErrQueueRunning)

	close(runner.block)
	assert.Eventually(t, func() bool { return !o.State().Active }, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_StopBetweenScheduleAndStartCancelsItem(t *testing.T) {
	runner := &scriptedRunner{}
	o, _ := newTestOrchestrator(t, runner)

	item := testItem("250", "rec-1")
	o.Enqueue(item)

	// A stop can land after the drain loop has picked the item but before
	// it commits to downloading; the item must never reach the runner.
	o.mu.Lock()
	target := o.items[0]
	o.running = true
	o.stopRequested = true
	o.mu.Unlock()

	summary := o.executeItem(context.Background(), target)

	assert.Empty(t, summary)
	assert.Empty(t, runner.ranKeys(), "a job queued at the moment of stop must not run")
	got, _ := findItem(o.State(), item.Key)
	assert.Equal(t, domain.StatusCanceled, got.Status)
}

func TestOrchestrator_CancelBetweenScheduleAndStartCancelsItem(t *testing.T) {
	runner := &scriptedRunner{}
	o, _ := newTestOrchestrator(t, runner)

	item := testItem("250", "rec-1")
	o.Enqueue(item)

	o.mu.Lock()
	target := o.items[0]
	o.running = true
	o.cancelRequested[item.Key] = struct{}{}
	o.mu.Unlock()

	summary := o.executeItem(context.Background(), target)

	assert.Empty(t, summary)
	assert.Empty(t, runner.ranKeys())
	got, _ := findItem(o.State(), item.Key)
	assert.Equal(t, domain.StatusCanceled, got.Status)

	o.mu.Lock()
	_, pending := o.cancelRequested[item.Key]
	o.mu.Unlock()
	assert.False(t, pending, "the consumed cancel request is cleared")
}

func TestOrchestrator_RemovedItemNeverStarts(t *testing.T) {
	runner := &scriptedRunner{}
	o, _ := newTestOrchestrator(t, runner)

	item := testItem("250", "rec-1")
	o.Enqueue(item)

	o.mu.Lock()
	target := o.items[0]
	o.running = true
	o.mu.Unlock()

	assert.NoError(t, o.Remove(item.Key))

	summary := o.executeItem(context.Background(), target)

	assert.Empty(t, summary)
	assert.Empty(t, runner.ranKeys(), "a removed item must not run as an orphan")
	assert.Empty(t, o.State().Items)
}

func TestOrchestrator_RunOne(t *testing.T) {
	a, b := testItem("250", "rec-a"), testItem("250", "rec-b")
	runner := &scriptedRunner{}
	o, _ := newTestOrchestrator(t, runner)

	o.Enqueue(a)
	o.Enqueue(b)

	assert.NoError(t, o.RunOne(context.Background(), a.Key))

	assert.Equal(t, []string{a.Key}, runner.ranKeys(), "siblings stay untouched")
	state := o.State()
	assert.Equal(t, 1, state.Completed)
	got, ok := findItem(state, b.Key)
	assert.True(t, ok)
	assert.Equal(t, domain.StatusQueued, got.Status)

	assert.ErrorIs(t, o.RunOne(context.Background(), "missing"), errpkg.ErrItemNotFound)
}

func TestOrchestrator_RemoveAndClear(t *testing.T) {
	a, b := testItem("250", "rec-a"), testItem("250", "rec-b")
	o, _ := newTestOrchestrator(t, &scriptedRunner{})

	o.Enqueue(a)
	o.Enqueue(b)

	assert.NoError(t, o.Remove(a.Key))
	assert.Len(t, o.State().Items, 1)
	assert.ErrorIs(t, o.Remove(a.Key), errpkg.ErrItemNotFound)

	o.Clear()
	assert.Empty(t, o.State().Items)
}

func TestOrchestrator_RestoreResetsInterruptedDownloads(t *testing.T) {
	store := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	interrupted := testItem("250", "rec-a")
	interrupted.Status = domain.StatusDownloading
	interrupted.Error = "half done"
	failed := testItem("250", "rec-b")
	failed.Status = domain.StatusFailed
	failed.Error = "boom"

	assert.NoError(t, store.SaveState(domain.QueueState{
		Completed: 3,
		Items:     []domain.QueueItem{interrupted, failed},
	}))

	o := NewOrchestrator(store, &scriptedRunner{}, logger)

	state := o.State()
	assert.Equal(t, 3, state.Completed)

	got, _ := findItem(state, interrupted.Key)
	assert.Equal(t, domain.StatusQueued, got.Status, "interrupted download re-queued on restart")
	assert.Empty(t, got.Error)

	got, _ = findItem(state, failed.Key)
	assert.Equal(t, domain.StatusFailed, got.Status, "terminal statuses survive a restart")
	assert.Equal(t, "boom", got.Error)
}

func TestOrchestrator_StatePersistsAcrossInstances(t *testing.T) {
	store := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	o := NewOrchestrator(store, &scriptedRunner{}, logger)
	item := testItem("250", "rec-1")
	o.Enqueue(item)

	restored := NewOrchestrator(store, &scriptedRunner{}, logger)
	got, ok := findItem(restored.State(), item.Key)
	assert.True(t, ok)
	assert.Equal(t, domain.StatusQueued, got.Status)
}
