// Package ingest walks the library roots, parses PNG metadata into
// image and tag rows, and reconciles the enrichment job queue so the
// background workers always have a consistent picture of what is left
// to do.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"imagedex/internal/storage"
	"imagedex/internal/tags"
)

// mtimeEpsilon absorbs float rounding when comparing stored and
// stat-reported modification times.
const mtimeEpsilon = 1e-6

// Options configures an Ingestor.
type Options struct {
	// PrimaryRoot anchors relative paths; files outside it keep their
	// absolute path.
	PrimaryRoot string

	AutoTagEnabled bool
	AutoTagModel   string
	// MergeStrategy is storage.MergeMissing or storage.MergeAugment.
	MergeStrategy string

	EmbeddingEnabled bool
	EmbeddingModel   string
}

// Ingestor turns one PNG file into database rows and queued jobs.
type Ingestor struct {
	images storage.ImageStore
	tags   storage.TagStore
	jobs   storage.JobStore
	opts   Options
	logger *slog.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(images storage.ImageStore, tagStore storage.TagStore, jobs storage.JobStore, opts Options, logger *slog.Logger) *Ingestor {
	if opts.MergeStrategy == "" {
		opts.MergeStrategy = storage.MergeMissing
	}
	return &Ingestor{
		images: images,
		tags:   tagStore,
		jobs:   jobs,
		opts:   opts,
		logger: logger,
	}
}

// RelPath maps an absolute file path to its stored form: relative to
// the primary root when inside it, absolute otherwise.
func (ing *Ingestor) RelPath(absPath string) string {
	if rel, err := filepath.Rel(ing.opts.PrimaryRoot, absPath); err == nil && !isOutside(rel) {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(absPath)
}

// Resolve maps a stored path back to an absolute one.
func (ing *Ingestor) Resolve(storedPath string) string {
	if filepath.IsAbs(storedPath) {
		return storedPath
	}
	return filepath.Join(ing.opts.PrimaryRoot, filepath.FromSlash(storedPath))
}

func isOutside(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

// IngestPath ingests one file: unchanged files (same mtime and size)
// skip the metadata parse and row write entirely, but still run job
// reconciliation so out-of-band state drifts are corrected. Returns
// the image id.
func (ing *Ingestor) IngestPath(ctx context.Context, absPath string) (int64, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", absPath, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", absPath)
	}
	relPath := ing.RelPath(absPath)
	mtime := float64(info.ModTime().UnixNano()) / 1e9

	existing, err := ing.images.GetByPath(ctx, relPath)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("failed to look up %s: %w", relPath, err)
	}
	unchanged := existing != nil &&
		math.Abs(existing.MTime-mtime) < mtimeEpsilon &&
		existing.Size == info.Size()

	var (
		imageID      int64
		changed      bool
		embeddedTags bool
	)
	if unchanged {
		imageID = existing.ID
	} else {
		chunks, err := tags.ReadPNGMetadata(absPath)
		if err != nil {
			return 0, fmt.Errorf("failed to read metadata for %s: %w", absPath, err)
		}
		records, description, meta := tags.Collect(chunks)
		embeddedTags = len(records) > 0

		rec := imageFields(chunks, meta)
		rec.Path = relPath
		rec.Name = filepath.Base(absPath)
		rec.MTime = mtime
		rec.Size = info.Size()
		rec.Description = description

		imageID, changed, err = ing.images.Upsert(ctx, rec, records)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert %s: %w", relPath, err)
		}
		if changed {
			ing.logger.Debug("ingested image", "path", relPath, "tags", len(records))
		}
	}

	if ing.opts.AutoTagEnabled {
		if err := ing.reconcileAutoTag(ctx, imageID, changed, embeddedTags); err != nil {
			return 0, err
		}
	}
	if ing.opts.EmbeddingEnabled {
		if err := ing.jobs.Ensure(ctx, imageID, storage.JobKindEmbedding, ing.opts.EmbeddingModel, changed); err != nil {
			return 0, fmt.Errorf("failed to queue embedding job: %w", err)
		}
	}
	return imageID, nil
}

// reconcileAutoTag decides what the auto-tag job row for one image
// should look like after a scan pass:
//
//   - a job stuck in pending/processing/error while auto tags already
//     exist is corrected to ready instead of reprocessed;
//   - under augment, content changes, a missing rating or absent auto
//     tags all (re)queue the job;
//   - under missing, untagged images queue on change or when never
//     auto-tagged, and tagged images only queue to backfill a rating;
//   - otherwise a non-terminal job whose work is visibly done is
//     promoted to ready.
func (ing *Ingestor) reconcileAutoTag(ctx context.Context, imageID int64, changed, embeddedTags bool) error {
	status := ""
	if job, err := ing.jobs.Get(ctx, imageID, storage.JobKindAutoTag); err == nil {
		status = job.Status
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read auto-tag job: %w", err)
	}
	hasAuto, err := ing.tags.HasAutoTags(ctx, imageID)
	if err != nil {
		return fmt.Errorf("failed to check auto tags: %w", err)
	}
	hasRating, err := ing.tags.HasRatingTag(ctx, imageID)
	if err != nil {
		return fmt.Errorf("failed to check rating tag: %w", err)
	}
	missingRating := !hasRating

	inFlight := status == storage.JobPending || status == storage.JobProcessing
	if (inFlight || status == storage.JobError) && hasAuto {
		return ing.jobs.MarkReady(ctx, imageID, storage.JobKindAutoTag)
	}

	needsJob := false
	neverTagged := (status == "" || inFlight || status == storage.JobError) && !hasAuto
	if ing.opts.MergeStrategy == storage.MergeAugment {
		needsJob = changed || missingRating || neverTagged
	} else {
		if !embeddedTags {
			needsJob = changed || neverTagged
		} else if missingRating {
			needsJob = true
		}
	}

	if needsJob {
		forceReset := changed ||
			status == storage.JobError ||
			(inFlight && !hasAuto) ||
			missingRating
		if err := ing.jobs.Ensure(ctx, imageID, storage.JobKindAutoTag, ing.opts.AutoTagModel, forceReset); err != nil {
			return fmt.Errorf("failed to queue auto-tag job: %w", err)
		}
		return nil
	}

	if hasAuto && status != "" && status != storage.JobReady && status != storage.JobSkipped && !missingRating {
		return ing.jobs.MarkReady(ctx, imageID, storage.JobKindAutoTag)
	}
	return nil
}

// imageFields pulls the structured generation parameters out of the
// PNG text chunks and the decoded Comment JSON. NovelAI writes the
// generator name to Software, the model string to Source and calls the
// guidance value "scale".
func imageFields(chunks map[string]string, meta map[string]any) *storage.ImageRecord {
	rec := &storage.ImageRecord{
		Generator: chunks["Software"],
		Model:     metaString(meta, "Source", "source"),
		Sampler:   metaString(meta, "sampler"),
		Scheduler: metaString(meta, "noise_schedule", "scheduler"),
		Seed:      metaString(meta, "seed"),
	}
	if rec.Model == "" {
		rec.Model = chunks["Source"]
	}
	rec.Width = metaInt(meta, "width", chunks["Width"])
	rec.Height = metaInt(meta, "height", chunks["Height"])
	rec.Steps = metaFloat(meta, "steps")
	rec.CfgScale = metaFloat(meta, "scale", "cfg_scale")

	if len(meta) > 0 {
		if blob, err := json.Marshal(meta); err == nil {
			rec.MetadataJSON = string(blob)
		}
	}
	return rec
}

func metaString(meta map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := meta[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func metaFloat(meta map[string]any, keys ...string) float64 {
	for _, key := range keys {
		switch v := meta[key].(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func metaInt(meta map[string]any, key, chunkValue string) int64 {
	if v, ok := meta[key].(float64); ok {
		return int64(v)
	}
	if chunkValue != "" {
		if n, err := strconv.ParseInt(chunkValue, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
