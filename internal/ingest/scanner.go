package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScanResult summarizes one full library pass.
type ScanResult struct {
	Scanned int
	Failed  int
	Pruned  int
}

// Scanner walks every configured root for PNG files, ingests each one
// and prunes rows whose files are gone. One scan runs at a time; a
// trigger arriving mid-scan queues exactly one follow-up pass.
type Scanner struct {
	ingestor *Ingestor
	roots    []string
	interval time.Duration
	logger   *slog.Logger
	trigger  chan struct{}
}

// NewScanner creates a Scanner over the primary root plus any extra
// roots. interval <= 0 disables periodic rescans; Trigger still works.
func NewScanner(ingestor *Ingestor, extraRoots []string, interval time.Duration, logger *slog.Logger) *Scanner {
	roots := append([]string{ingestor.opts.PrimaryRoot}, extraRoots...)
	return &Scanner{
		ingestor: ingestor,
		roots:    roots,
		interval: interval,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests a scan pass outside the periodic schedule.
func (s *Scanner) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run scans once immediately, then waits for the rescan interval or a
// trigger, until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	for {
		s.ScanOnce(ctx)

		var tick <-chan time.Time
		if s.interval > 0 {
			tick = time.After(s.interval)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
		case <-tick:
		}
	}
}

// ScanOnce walks all roots, ingests every candidate and prunes
// database rows for files that no longer exist. A single bad file is
// logged and skipped, never aborting the pass.
func (s *Scanner) ScanOnce(ctx context.Context) ScanResult {
	scanID := uuid.NewString()
	logger := s.logger.With("scan_id", scanID)
	started := time.Now()

	candidates := s.collect(ctx, logger)
	logger.Info("scan started", "roots", len(s.roots), "candidates", len(candidates))

	var result ScanResult
	observed := make([]string, 0, len(candidates))
	for _, path := range candidates {
		if ctx.Err() != nil {
			logger.Info("scan cancelled", "scanned", result.Scanned)
			return result
		}
		if _, err := s.ingestor.IngestPath(ctx, path); err != nil {
			result.Failed++
			logger.Warn("failed to ingest file", "path", path, "error", err)
			continue
		}
		result.Scanned++
		observed = append(observed, s.ingestor.RelPath(path))
	}

	// An empty observed set would prune the whole library; a scan that
	// found nothing keeps existing rows untouched.
	if len(observed) > 0 {
		pruned, err := s.ingestor.images.DeleteMissing(ctx, observed)
		if err != nil {
			logger.Error("failed to prune missing images", "error", err)
		} else if pruned > 0 {
			result.Pruned = pruned
			logger.Info("pruned missing images", "count", pruned)
		}
	}

	logger.Info("scan complete",
		"scanned", result.Scanned,
		"failed", result.Failed,
		"pruned", result.Pruned,
		"elapsed", time.Since(started).Round(time.Millisecond))
	return result
}

// collect walks every root and returns the deduplicated PNG paths.
func (s *Scanner) collect(ctx context.Context, logger *slog.Logger) []string {
	seen := make(map[string]bool)
	var candidates []string
	for _, root := range s.roots {
		if root == "" {
			continue
		}
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				logger.Warn("failed to access path", "path", path, "error", err)
				if info != nil && info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if info.IsDir() {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(path), ".png") {
				return nil
			}
			if seen[path] {
				return nil
			}
			seen[path] = true
			candidates = append(candidates, path)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("failed to walk root", "root", root, "error", err)
		}
	}
	return candidates
}
