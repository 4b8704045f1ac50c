package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"imagedex/internal/jobs"
)

// WorkerControl pauses and resumes one worker loop.
type WorkerControl interface {
	Pause()
	Resume()
}

// ScanTrigger requests a library scan pass.
type ScanTrigger interface {
	Trigger()
}

// JobsHandler reports and controls the enrichment pipeline.
type JobsHandler struct {
	trackers map[string]*jobs.Progress
	workers  map[string]WorkerControl
	scanner  ScanTrigger
}

// NewJobsHandler creates a JobsHandler. Both maps are keyed by job
// kind; kinds missing from workers cannot be paused.
func NewJobsHandler(trackers map[string]*jobs.Progress, workers map[string]WorkerControl, scanner ScanTrigger) *JobsHandler {
	return &JobsHandler{trackers: trackers, workers: workers, scanner: scanner}
}

// JobsResponse lists every job kind's progress snapshot.
type JobsResponse struct {
	Jobs []jobs.Snapshot `json:"jobs"`
}

// Status answers GET /api/jobs.
func (h *JobsHandler) Status(w http.ResponseWriter, r *http.Request) {
	out := make([]jobs.Snapshot, 0, len(h.trackers))
	for _, tracker := range h.trackers {
		out = append(out, tracker.Snapshot())
	}
	writeJSON(w, http.StatusOK, JobsResponse{Jobs: out})
}

// Pause answers POST /api/jobs/{kind}/pause.
func (h *JobsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// Resume answers POST /api/jobs/{kind}/resume.
func (h *JobsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *JobsHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	kind := chi.URLParam(r, "kind")
	worker, ok := h.workers[kind]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown job kind")
		return
	}
	if paused {
		worker.Pause()
	} else {
		worker.Resume()
	}
	state := jobs.StateRunning
	if paused {
		state = jobs.StatePaused
	}
	writeJSON(w, http.StatusOK, map[string]string{"kind": kind, "state": state})
}

// Scan answers POST /api/scan, queuing a rescan pass.
func (h *JobsHandler) Scan(w http.ResponseWriter, r *http.Request) {
	if h.scanner == nil {
		writeError(w, http.StatusNotFound, "Scanner disabled")
		return
	}
	h.scanner.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
