// Package jobs runs the background enrichment pipeline: claim-based
// workers, progress tracking and the model handlers that fill in
// embeddings, auto tags and ratings.
package jobs

import (
	"sync"
	"time"

	"imagedex/internal/storage"
)

// Worker states reported in a progress snapshot.
const (
	StateRunning = "running"
	StatePaused  = "paused"
	StateIdle    = "idle"
)

const (
	historyLimit   = 60
	errorLimit     = 20
	snapshotErrors = 5
	// Minimum sample spacing for a rate estimate; shorter gaps give
	// unstable numbers on bursty batches.
	minRateWindow = 1.0
)

type sample struct {
	at        float64
	completed int
}

// Progress tracks one job kind's counters, a rolling completion history
// for rate estimation and the most recent error messages. Safe for
// concurrent use.
type Progress struct {
	mu      sync.Mutex
	kind    string
	counts  storage.ProgressCounts
	current string
	history []sample
	errors  []string
	paused  bool
	updated float64
	now     func() float64
}

// NewProgress creates a Progress tracker for one job kind.
func NewProgress(kind string) *Progress {
	return &Progress{kind: kind, now: nowSeconds}
}

// Snapshot is the externally visible progress state.
type Snapshot struct {
	Kind        string   `json:"kind"`
	State       string   `json:"state"`
	Total       int      `json:"total"`
	Completed   int      `json:"completed"`
	Processing  int      `json:"processing"`
	Queued      int      `json:"queued"`
	ErrorCount  int      `json:"error_count"`
	CurrentPath string   `json:"current_path,omitempty"`
	RatePerMin  float64  `json:"rate_per_min"`
	// ETASeconds is zero when no rate estimate is available.
	ETASeconds float64 `json:"eta_seconds,omitempty"`
	Errors     []string `json:"errors"`
	UpdatedAt  float64  `json:"last_update"`
}

// Update refreshes the counters and records a history sample.
func (p *Progress) Update(counts storage.ProgressCounts) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts = counts
	p.updated = p.now()
	p.recordHistory(counts.Completed)
}

// SetCurrent records the path being processed, for display only.
func (p *Progress) SetCurrent(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = path
}

// RecordError appends to the rolling error list.
func (p *Progress) RecordError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, message)
	if len(p.errors) > errorLimit {
		p.errors = p.errors[len(p.errors)-errorLimit:]
	}
}

// SetPaused flips the paused flag reported by Snapshot.
func (p *Progress) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
}

// Paused reports the paused flag.
func (p *Progress) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Snapshot returns the current state with rate and ETA estimates.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	rate, eta := p.rateETA()
	state := StateIdle
	switch {
	case p.paused:
		state = StatePaused
	case p.counts.Processing > 0 || p.counts.Queued() > 0:
		state = StateRunning
	}

	recent := p.errors
	if len(recent) > snapshotErrors {
		recent = recent[len(recent)-snapshotErrors:]
	}
	errs := make([]string, len(recent))
	copy(errs, recent)

	return Snapshot{
		Kind:        p.kind,
		State:       state,
		Total:       p.counts.Total,
		Completed:   p.counts.Completed,
		Processing:  p.counts.Processing,
		Queued:      p.counts.Queued(),
		ErrorCount:  p.counts.Errors,
		CurrentPath: p.current,
		RatePerMin:  rate,
		ETASeconds:  eta,
		Errors:      errs,
		UpdatedAt:   p.updated,
	}
}

// recordHistory appends a (time, completed) sample. A repeat of the
// same count only refreshes the timestamp, so the history spans as much
// wall time as possible.
func (p *Progress) recordHistory(completed int) {
	now := p.now()
	if n := len(p.history); n > 0 && p.history[n-1].completed == completed {
		p.history[n-1] = sample{at: now, completed: completed}
		return
	}
	p.history = append(p.history, sample{at: now, completed: completed})
	if len(p.history) > historyLimit {
		p.history = p.history[len(p.history)-historyLimit:]
	}
}

// rateETA scans backwards for the most recent sample pair far enough
// apart to give a stable per-minute rate, then projects the remaining
// work. Callers must hold p.mu.
func (p *Progress) rateETA() (float64, float64) {
	if len(p.history) == 0 {
		return 0, 0
	}
	latest := p.history[len(p.history)-1]
	rate := 0.0
	for i := len(p.history) - 2; i >= 0; i-- {
		deltaCount := latest.completed - p.history[i].completed
		deltaTime := latest.at - p.history[i].at
		if deltaCount > 0 && deltaTime >= minRateWindow {
			rate = float64(deltaCount) / deltaTime * 60.0
			break
		}
	}
	remaining := p.counts.Queued() + p.counts.Processing
	if rate <= 0 || remaining <= 0 {
		return rate, 0
	}
	return rate, float64(remaining) / rate * 60.0
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
