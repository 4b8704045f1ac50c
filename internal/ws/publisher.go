package ws

import (
	"context"
	"time"

	"imagedex/internal/jobs"
)

// Publisher periodically broadcasts the snapshots of every tracked
// progress instance while any of them reports activity.
type Publisher struct {
	hub      *Hub
	trackers []*jobs.Progress
	interval time.Duration
}

// NewPublisher creates a Publisher. interval <= 0 defaults to one
// second.
func NewPublisher(hub *Hub, trackers []*jobs.Progress, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Publisher{hub: hub, trackers: trackers, interval: interval}
}

// Run broadcasts snapshots on every tick until ctx is cancelled.
// Ticks with no connected clients are skipped.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.hub.ClientCount() == 0 {
				continue
			}
			p.hub.Broadcast(Message{Type: "progress", Progress: p.snapshots()})
		}
	}
}

func (p *Publisher) snapshots() []jobs.Snapshot {
	out := make([]jobs.Snapshot, 0, len(p.trackers))
	for _, tracker := range p.trackers {
		out = append(out, tracker.Snapshot())
	}
	return out
}
