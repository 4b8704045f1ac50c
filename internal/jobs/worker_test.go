package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"imagedex/internal/storage"
	storage_mocks "imagedex/internal/storage/mocks"

	"go.uber.org/mock/gomock"
)

// recordingHandler collects processed jobs and optionally fails some of
// them. done is closed once every expected job has been seen.
type recordingHandler struct {
	mu     sync.Mutex
	jobs   []storage.ClaimedJob
	fail   map[int64]error
	expect int
	done   chan struct{}
	once   sync.Once
}

func newRecordingHandler(expect int) *recordingHandler {
	return &recordingHandler{
		fail:   map[int64]error{},
		expect: expect,
		done:   make(chan struct{}),
	}
}

func (h *recordingHandler) Kind() string { return storage.JobKindEmbedding }

func (h *recordingHandler) Process(_ context.Context, job storage.ClaimedJob) error {
	h.mu.Lock()
	h.jobs = append(h.jobs, job)
	seen := len(h.jobs)
	h.mu.Unlock()
	if seen >= h.expect {
		h.once.Do(func() { close(h.done) })
	}
	return h.fail[job.ImageID]
}

func (h *recordingHandler) processed() []storage.ClaimedJob {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]storage.ClaimedJob, len(h.jobs))
	copy(out, h.jobs)
	return out
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestWorker_RunProcessesBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := storage_mocks.NewMockJobStore(ctrl)
	batch := []storage.ClaimedJob{
		{ImageID: 1, Path: "2024/a.png"},
		{ImageID: 2, Path: "2024/b.png"},
	}

	store.EXPECT().ResetStuck(gomock.Any(), storage.JobKindEmbedding).Return(0, nil)
	store.EXPECT().Progress(gomock.Any(), storage.JobKindEmbedding).
		Return(storage.ProgressCounts{Total: 2}, nil).AnyTimes()
	store.EXPECT().Claim(gomock.Any(), storage.JobKindEmbedding, "clip-vit", 8).
		Return(batch, nil)
	store.EXPECT().Claim(gomock.Any(), storage.JobKindEmbedding, "clip-vit", 8).
		Return(nil, nil).AnyTimes()

	handler := newRecordingHandler(2)
	progress := NewProgress(storage.JobKindEmbedding)
	w := NewWorker(store, handler, progress, "clip-vit", 8, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.idleWait = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(runDone)
	}()

	waitFor(t, handler.done, "batch to process")
	cancel()
	waitFor(t, runDone, "worker to stop")

	got := handler.processed()
	if len(got) != 2 {
		t.Fatalf("processed %d jobs, want 2", len(got))
	}
	if got[0].ImageID != 1 || got[1].ImageID != 2 {
		t.Errorf("processed order = %v, want claim order", got)
	}
}

func TestWorker_FailedJobDoesNotAbortBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := storage_mocks.NewMockJobStore(ctrl)
	batch := []storage.ClaimedJob{
		{ImageID: 1, Path: "2024/a.png"},
		{ImageID: 2, Path: "2024/b.png"},
		{ImageID: 3, Path: "2024/c.png"},
	}

	store.EXPECT().ResetStuck(gomock.Any(), storage.JobKindEmbedding).Return(0, nil)
	store.EXPECT().Progress(gomock.Any(), storage.JobKindEmbedding).
		Return(storage.ProgressCounts{Total: 3}, nil).AnyTimes()
	store.EXPECT().Claim(gomock.Any(), storage.JobKindEmbedding, "", 4).
		Return(batch, nil)
	store.EXPECT().Claim(gomock.Any(), storage.JobKindEmbedding, "", 4).
		Return(nil, nil).AnyTimes()
	store.EXPECT().MarkError(gomock.Any(), int64(2), storage.JobKindEmbedding, "decode failed").
		Return(nil)

	handler := newRecordingHandler(3)
	handler.fail[2] = errors.New("decode failed")
	progress := NewProgress(storage.JobKindEmbedding)
	w := NewWorker(store, handler, progress, "", 4, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.idleWait = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(runDone)
	}()

	waitFor(t, handler.done, "batch to process")
	cancel()
	waitFor(t, runDone, "worker to stop")

	if got := len(handler.processed()); got != 3 {
		t.Fatalf("processed %d jobs, want all 3 despite the failure", got)
	}
	snap := progress.Snapshot()
	if len(snap.Errors) != 1 || snap.Errors[0] != "b.png: decode failed" {
		t.Errorf("progress errors = %v, want [b.png: decode failed]", snap.Errors)
	}
}

func TestWorker_MarkErrorRetriesOnLock(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := storage_mocks.NewMockJobStore(ctrl)
	gomock.InOrder(
		store.EXPECT().MarkError(gomock.Any(), int64(7), storage.JobKindAutoTag, "boom").
			Return(errors.New("database is locked")),
		store.EXPECT().MarkError(gomock.Any(), int64(7), storage.JobKindAutoTag, "boom").
			Return(errors.New("database is locked")),
		store.EXPECT().MarkError(gomock.Any(), int64(7), storage.JobKindAutoTag, "boom").
			Return(nil),
	)

	w := &Worker{
		kind:   storage.JobKindAutoTag,
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	w.markError(context.Background(), 7, "boom")
}

func TestWorker_MarkErrorGivesUpOnOtherErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := storage_mocks.NewMockJobStore(ctrl)
	store.EXPECT().MarkError(gomock.Any(), int64(7), storage.JobKindAutoTag, "boom").
		Return(errors.New("no such table: jobs")).Times(1)

	w := &Worker{
		kind:   storage.JobKindAutoTag,
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	w.markError(context.Background(), 7, "boom")
}

func TestWorker_PauseStopsClaiming(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := storage_mocks.NewMockJobStore(ctrl)
	store.EXPECT().ResetStuck(gomock.Any(), storage.JobKindEmbedding).Return(0, nil)
	store.EXPECT().Progress(gomock.Any(), storage.JobKindEmbedding).
		Return(storage.ProgressCounts{Total: 5}, nil).AnyTimes()
	// No Claim expectation: claiming while paused fails the test.

	handler := newRecordingHandler(1)
	progress := NewProgress(storage.JobKindEmbedding)
	w := NewWorker(store, handler, progress, "", 8, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.pausePoll = 5 * time.Millisecond

	w.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if !progress.Paused() {
		t.Error("Paused() = false, want true after Pause()")
	}
	if got := progress.Snapshot().State; got != StatePaused {
		t.Errorf("State = %q, want %q", got, StatePaused)
	}
}

func TestWorker_ResumeLiftsPause(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := storage_mocks.NewMockJobStore(ctrl)
	store.EXPECT().ResetStuck(gomock.Any(), storage.JobKindEmbedding).Return(0, nil)
	store.EXPECT().Progress(gomock.Any(), storage.JobKindEmbedding).
		Return(storage.ProgressCounts{Total: 1}, nil).AnyTimes()

	claimed := make(chan struct{})
	var claimOnce sync.Once
	store.EXPECT().Claim(gomock.Any(), storage.JobKindEmbedding, "", 8).
		DoAndReturn(func(context.Context, string, string, int) ([]storage.ClaimedJob, error) {
			claimOnce.Do(func() { close(claimed) })
			return nil, nil
		}).AnyTimes()

	handler := newRecordingHandler(1)
	progress := NewProgress(storage.JobKindEmbedding)
	w := NewWorker(store, handler, progress, "", 8, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.idleWait = 5 * time.Millisecond
	w.pausePoll = 5 * time.Millisecond

	w.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(runDone)
	}()

	time.Sleep(20 * time.Millisecond)
	w.Resume()

	waitFor(t, claimed, "claim after resume")
	cancel()
	waitFor(t, runDone, "worker to stop")

	if progress.Paused() {
		t.Error("Paused() = true, want false after Resume()")
	}
}

// gateHandler blocks inside Process until released, holding the worker
// mid-batch.
type gateHandler struct {
	started chan struct{}
	release chan struct{}
}

func (h *gateHandler) Kind() string { return storage.JobKindEmbedding }

func (h *gateHandler) Process(_ context.Context, _ storage.ClaimedJob) error {
	close(h.started)
	<-h.release
	return nil
}

func TestWorker_ResumeDuringBatchWins(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := storage_mocks.NewMockJobStore(ctrl)
	store.EXPECT().ResetStuck(gomock.Any(), storage.JobKindEmbedding).Return(0, nil)
	store.EXPECT().Progress(gomock.Any(), storage.JobKindEmbedding).
		Return(storage.ProgressCounts{Total: 1}, nil).AnyTimes()

	claimedAgain := make(chan struct{})
	var again sync.Once
	store.EXPECT().Claim(gomock.Any(), storage.JobKindEmbedding, "", 8).
		Return([]storage.ClaimedJob{{ImageID: 1, Path: "a.png"}}, nil)
	store.EXPECT().Claim(gomock.Any(), storage.JobKindEmbedding, "", 8).
		DoAndReturn(func(context.Context, string, string, int) ([]storage.ClaimedJob, error) {
			again.Do(func() { close(claimedAgain) })
			return nil, nil
		}).AnyTimes()

	handler := &gateHandler{started: make(chan struct{}), release: make(chan struct{})}
	progress := NewProgress(storage.JobKindEmbedding)
	w := NewWorker(store, handler, progress, "", 8, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.idleWait = 5 * time.Millisecond
	w.pausePoll = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(runDone)
	}()

	waitFor(t, handler.started, "batch to start")

	// Pause then resume while the batch is still in flight; the last
	// call must win once the batch completes.
	w.Pause()
	w.Resume()
	close(handler.release)

	waitFor(t, claimedAgain, "claim after resume")
	cancel()
	waitFor(t, runDone, "worker to stop")

	if progress.Paused() {
		t.Error("Paused() = true, want false after Resume()")
	}
}

func TestWorker_ResetsStuckJobsOnStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := storage_mocks.NewMockJobStore(ctrl)
	store.EXPECT().ResetStuck(gomock.Any(), storage.JobKindAutoTag).Return(3, nil)
	store.EXPECT().Progress(gomock.Any(), storage.JobKindAutoTag).
		Return(storage.ProgressCounts{Total: 3}, nil).AnyTimes()

	handler := &recordingHandler{fail: map[int64]error{}, done: make(chan struct{})}
	progress := NewProgress(storage.JobKindAutoTag)
	w := NewWorker(store, &autoTagKind{handler}, progress, "", 8, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)
}

// autoTagKind wraps a recordingHandler to report a different kind.
type autoTagKind struct {
	*recordingHandler
}

func (autoTagKind) Kind() string { return storage.JobKindAutoTag }
