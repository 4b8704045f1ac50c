package jobs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"imagedex/internal/storage"
)

// Handler processes one claimed job. On a nil return the handler has
// already written the job's terminal state; on error the worker records
// it and marks the job errored.
type Handler interface {
	Kind() string
	Process(ctx context.Context, job storage.ClaimedJob) error
}

const (
	defaultIdleWait  = 2 * time.Second
	defaultPausePoll = 500 * time.Millisecond
	// Attempts for status writes hitting storage contention.
	writeAttempts = 3
	writeBackoff  = 100 * time.Millisecond
)

// Worker drives one job kind: it claims batches, hands them to the
// handler and keeps the progress tracker current. Pause/stop are
// checked between batches only, so an in-flight batch always completes.
type Worker struct {
	id        string
	kind      string
	model     string
	batchSize int
	store     storage.JobStore
	handler   Handler
	progress  *Progress
	logger    *slog.Logger
	wake      chan struct{}
	idleWait  time.Duration
	pausePoll time.Duration
}

// NewWorker creates a Worker for the handler's job kind. model scopes
// embedding claims; pass "" for kinds that claim regardless of model.
func NewWorker(store storage.JobStore, handler Handler, progress *Progress, model string, batchSize int, logger *slog.Logger) *Worker {
	id := uuid.NewString()
	return &Worker{
		id:        id,
		kind:      handler.Kind(),
		model:     model,
		batchSize: batchSize,
		store:     store,
		handler:   handler,
		progress:  progress,
		logger:    logger.With("worker", handler.Kind(), "worker_id", id),
		wake:      make(chan struct{}, 1),
		idleWait:  defaultIdleWait,
		pausePoll: defaultPausePoll,
	}
}

// Pause suspends claiming after the current batch finishes.
func (w *Worker) Pause() {
	w.setPaused(true)
}

// Resume lifts a pause.
func (w *Worker) Resume() {
	w.setPaused(false)
}

// setPaused writes the desired state directly so the latest call wins
// even while a batch is in flight. The wake nudge shortcuts the paused
// poll; a dropped nudge only costs one poll interval.
func (w *Worker) setPaused(paused bool) {
	w.progress.SetPaused(paused)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run processes batches until ctx is cancelled. Call once; it returns
// after the in-flight batch completes.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "batch_size", w.batchSize)
	if n, err := w.store.ResetStuck(ctx, w.kind); err != nil {
		w.logger.Error("failed to reset stuck jobs", "error", err)
	} else if n > 0 {
		w.logger.Info("reset stuck jobs", "count", n)
	}
	w.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		default:
		}

		if w.progress.Paused() {
			select {
			case <-ctx.Done():
				w.logger.Info("worker stopped")
				return
			case <-w.wake:
			case <-time.After(w.pausePoll):
			}
			continue
		}

		batch, err := w.store.Claim(ctx, w.kind, w.model, w.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to claim batch", "error", err)
			w.sleep(ctx, w.idleWait)
			continue
		}
		if len(batch) == 0 {
			w.refresh(ctx)
			w.sleep(ctx, w.idleWait)
			continue
		}

		for _, job := range batch {
			w.progress.SetCurrent(job.Path)
			if err := w.handler.Process(ctx, job); err != nil {
				message := err.Error()
				w.logger.Warn("job failed", "image_id", job.ImageID, "error", message)
				w.progress.RecordError(shortPath(job.Path) + ": " + message)
				w.markError(ctx, job.ImageID, message)
			}
		}
		w.progress.SetCurrent("")
		w.refresh(ctx)
	}
}

// markError retries briefly on lock contention; a failure after one
// job's writes must not poison the rest of the batch.
func (w *Worker) markError(ctx context.Context, imageID int64, message string) {
	var err error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if err = w.store.MarkError(ctx, imageID, w.kind, message); err == nil {
			return
		}
		if !strings.Contains(strings.ToLower(err.Error()), "locked") &&
			!strings.Contains(strings.ToLower(err.Error()), "busy") {
			break
		}
		w.sleep(ctx, writeBackoff)
	}
	w.logger.Error("failed to mark job errored", "image_id", imageID, "error", err)
}

func (w *Worker) refresh(ctx context.Context) {
	counts, err := w.store.Progress(ctx, w.kind)
	if err != nil {
		w.logger.Error("failed to read progress counts", "error", err)
		return
	}
	w.progress.Update(counts)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func shortPath(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
