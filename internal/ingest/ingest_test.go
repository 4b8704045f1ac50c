package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"imagedex/internal/storage"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func pngChunk(chunkType string, data []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(data)))
	buf.WriteString(chunkType)
	buf.Write(data)
	crc := crc32.NewIEEE()
	crc.Write([]byte(chunkType))
	crc.Write(data)
	_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	return buf.Bytes()
}

func textChunk(key, value string) []byte {
	data := append([]byte(key), 0)
	data = append(data, []byte(value)...)
	return pngChunk("tEXt", data)
}

func writePNG(t *testing.T, path string, texts map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(pngSignature)
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], 832)
	binary.BigEndian.PutUint32(ihdr[4:8], 1216)
	buf.Write(pngChunk("IHDR", ihdr))
	for key, value := range texts {
		buf.Write(textChunk(key, value))
	}
	buf.Write(pngChunk("IEND", nil))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

type fixture struct {
	db       *sql.DB
	root     string
	images   *storage.ImageRepo
	tags     *storage.TagRepo
	jobs     *storage.JobRepo
	ingestor *Ingestor
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	root := filepath.Join(dir, "library")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	opts.PrimaryRoot = root

	f := &fixture{
		db:     db,
		root:   root,
		images: storage.NewImageRepo(db),
		tags:   storage.NewTagRepo(db),
		jobs:   storage.NewJobRepo(db),
	}
	f.ingestor = NewIngestor(f.images, f.tags, f.jobs, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func novelAITexts(prompt string) map[string]string {
	return map[string]string{
		"Description": prompt,
		"Software":    "NovelAI",
		"Source":      "Stable Diffusion XL C1E1DE52",
		"Comment":     `{"prompt": "` + prompt + `", "seed": 1234, "sampler": "k_euler_ancestral", "noise_schedule": "native", "steps": 28, "scale": 5.5, "uc": "lowres, blurry"}`,
	}
}

func TestIngestPath_NewImage(t *testing.T) {
	f := newFixture(t, Options{})
	path := filepath.Join(f.root, "2024", "a.png")
	writePNG(t, path, novelAITexts("{{cute}}, blue eyes"))

	ctx := context.Background()
	id, err := f.ingestor.IngestPath(ctx, path)
	if err != nil {
		t.Fatalf("IngestPath() error = %v", err)
	}

	img, err := f.images.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if img.Path != "2024/a.png" {
		t.Errorf("Path = %q, want 2024/a.png", img.Path)
	}
	if img.Generator != "NovelAI" {
		t.Errorf("Generator = %q, want NovelAI", img.Generator)
	}
	if img.Model != "Stable Diffusion XL C1E1DE52" {
		t.Errorf("Model = %q", img.Model)
	}
	if img.Sampler != "k_euler_ancestral" || img.Scheduler != "native" {
		t.Errorf("sampler/scheduler = %q/%q", img.Sampler, img.Scheduler)
	}
	if img.Seed != "1234" {
		t.Errorf("Seed = %q, want 1234", img.Seed)
	}
	if img.Steps != 28 || img.CfgScale != 5.5 {
		t.Errorf("steps/cfg = %v/%v", img.Steps, img.CfgScale)
	}
	if img.Width != 832 || img.Height != 1216 {
		t.Errorf("dimensions = %dx%d, want 832x1216", img.Width, img.Height)
	}

	records, err := f.tags.ForImages(ctx, []int64{id})
	if err != nil {
		t.Fatalf("ForImages() error = %v", err)
	}
	var sawCute, sawNegative bool
	for _, rec := range records[id] {
		if rec.Norm == "cute" && rec.Weight > 1.2 {
			sawCute = true
		}
		if rec.Norm == "lowres" && rec.Kind == "negative" {
			sawNegative = true
		}
	}
	if !sawCute {
		t.Error("expected strong-emphasis cute tag from the prompt")
	}
	if !sawNegative {
		t.Error("expected negative tag from uc")
	}
}

func TestIngestPath_UnchangedSkipsRewrite(t *testing.T) {
	f := newFixture(t, Options{})
	path := filepath.Join(f.root, "a.png")
	writePNG(t, path, novelAITexts("cute"))

	ctx := context.Background()
	id1, err := f.ingestor.IngestPath(ctx, path)
	if err != nil {
		t.Fatalf("IngestPath() error = %v", err)
	}
	before, err := f.images.GetByID(ctx, id1)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	id2, err := f.ingestor.IngestPath(ctx, path)
	if err != nil {
		t.Fatalf("IngestPath() second pass error = %v", err)
	}
	if id2 != id1 {
		t.Errorf("second ingest id = %d, want %d", id2, id1)
	}
	after, err := f.images.GetByID(ctx, id1)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if after.MTime != before.MTime || after.Size != before.Size {
		t.Errorf("unchanged file was rewritten: %+v vs %+v", after, before)
	}
}

func TestIngestPath_ChangedContentForceResetsJobs(t *testing.T) {
	f := newFixture(t, Options{
		AutoTagEnabled:   true,
		AutoTagModel:     "wd-tagger",
		MergeStrategy:    storage.MergeAugment,
		EmbeddingEnabled: true,
		EmbeddingModel:   "clip-vit",
	})
	path := filepath.Join(f.root, "a.png")
	writePNG(t, path, novelAITexts("cute"))

	ctx := context.Background()
	id, err := f.ingestor.IngestPath(ctx, path)
	if err != nil {
		t.Fatalf("IngestPath() error = %v", err)
	}

	// Simulate finished enrichment.
	if err := f.jobs.StoreVector(ctx, id, "clip-vit", storage.EncodeVector([]float32{1, 0})); err != nil {
		t.Fatalf("StoreVector() error = %v", err)
	}
	if err := f.tags.UpdateRatingFromScores(ctx, id, map[string]float64{"general": 0.9}, "wd-tagger"); err != nil {
		t.Fatalf("UpdateRatingFromScores() error = %v", err)
	}
	if err := f.jobs.MarkReady(ctx, id, storage.JobKindAutoTag); err != nil {
		t.Fatalf("MarkReady() error = %v", err)
	}

	// Rewrite the file with new content and a bumped mtime.
	writePNG(t, path, novelAITexts("smile, long hair"))
	future := time.Now().Add(5 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	if _, err := f.ingestor.IngestPath(ctx, path); err != nil {
		t.Fatalf("IngestPath() after change error = %v", err)
	}

	embed, err := f.jobs.Get(ctx, id, storage.JobKindEmbedding)
	if err != nil {
		t.Fatalf("Get(embedding) error = %v", err)
	}
	if embed.Status != storage.JobPending {
		t.Errorf("embedding status = %q, want pending after content change", embed.Status)
	}
	if len(embed.Vector) != 0 {
		t.Error("embedding vector should be cleared on force reset")
	}
	autotag, err := f.jobs.Get(ctx, id, storage.JobKindAutoTag)
	if err != nil {
		t.Fatalf("Get(autotag) error = %v", err)
	}
	if autotag.Status != storage.JobPending {
		t.Errorf("auto-tag status = %q, want pending after content change", autotag.Status)
	}
}

func TestReconcileAutoTag(t *testing.T) {
	type setup struct {
		jobStatus string // "" for no row
		autoTags  bool
		ratingTag bool
	}
	tests := []struct {
		name         string
		strategy     string
		changed      bool
		embeddedTags bool
		setup        setup
		wantStatus   string // "" for no row
	}{
		{
			name:       "stuck pending with auto tags corrected to ready",
			strategy:   storage.MergeMissing,
			setup:      setup{jobStatus: storage.JobPending, autoTags: true, ratingTag: true},
			wantStatus: storage.JobReady,
		},
		{
			name:       "errored with auto tags corrected to ready",
			strategy:   storage.MergeMissing,
			setup:      setup{jobStatus: storage.JobError, autoTags: true, ratingTag: true},
			wantStatus: storage.JobReady,
		},
		{
			name:       "augment queues untagged image",
			strategy:   storage.MergeAugment,
			setup:      setup{ratingTag: true},
			wantStatus: storage.JobPending,
		},
		{
			name:       "augment requeues ready job missing a rating",
			strategy:   storage.MergeAugment,
			setup:      setup{jobStatus: storage.JobReady, autoTags: true},
			wantStatus: storage.JobPending,
		},
		{
			name:         "missing leaves manually tagged image alone",
			strategy:     storage.MergeMissing,
			embeddedTags: true,
			setup:        setup{ratingTag: true},
			wantStatus:   "",
		},
		{
			name:         "missing backfills rating for manually tagged image",
			strategy:     storage.MergeMissing,
			embeddedTags: true,
			setup:        setup{},
			wantStatus:   storage.JobPending,
		},
		{
			name:       "missing queues untagged image without a job row",
			strategy:   storage.MergeMissing,
			setup:      setup{ratingTag: true},
			wantStatus: storage.JobPending,
		},
		{
			name:       "ready job with rating stays ready",
			strategy:   storage.MergeMissing,
			setup:      setup{jobStatus: storage.JobReady, autoTags: true, ratingTag: true},
			wantStatus: storage.JobReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{
				AutoTagEnabled: true,
				AutoTagModel:   "wd-tagger",
				MergeStrategy:  tt.strategy,
			})
			ctx := context.Background()

			img := &storage.ImageRecord{Path: "a.png", Name: "a.png", MTime: 1700000000, Size: 10}
			id, _, err := f.images.Upsert(ctx, img, nil)
			if err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}

			if tt.setup.jobStatus != "" {
				if err := f.jobs.Ensure(ctx, id, storage.JobKindAutoTag, "wd-tagger", false); err != nil {
					t.Fatalf("Ensure() error = %v", err)
				}
				switch tt.setup.jobStatus {
				case storage.JobReady:
					if err := f.jobs.MarkReady(ctx, id, storage.JobKindAutoTag); err != nil {
						t.Fatalf("MarkReady() error = %v", err)
					}
				case storage.JobError:
					if err := f.jobs.MarkError(ctx, id, storage.JobKindAutoTag, "boom"); err != nil {
						t.Fatalf("MarkError() error = %v", err)
					}
				}
			}
			if tt.setup.autoTags {
				if _, err := f.db.Exec(
					`INSERT INTO tags (image_id, tag, norm, kind, emphasis, weight, raw, source)
					 VALUES (?, 'cute', 'cute', 'prompt', 'normal', 0.9, '', 'auto')`, id); err != nil {
					t.Fatalf("insert auto tag: %v", err)
				}
			}
			if tt.setup.ratingTag {
				if err := f.tags.StoreRating(ctx, id, "general", 0.9, nil); err != nil {
					t.Fatalf("StoreRating() error = %v", err)
				}
			}

			if err := f.ingestor.reconcileAutoTag(ctx, id, tt.changed, tt.embeddedTags); err != nil {
				t.Fatalf("reconcileAutoTag() error = %v", err)
			}

			job, err := f.jobs.Get(ctx, id, storage.JobKindAutoTag)
			if tt.wantStatus == "" {
				if err == nil {
					t.Errorf("job status = %q, want no job row", job.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if job.Status != tt.wantStatus {
				t.Errorf("job status = %q, want %q", job.Status, tt.wantStatus)
			}
		})
	}
}

func TestRelPathAndResolve(t *testing.T) {
	f := newFixture(t, Options{})

	inside := filepath.Join(f.root, "2024", "a.png")
	if got := f.ingestor.RelPath(inside); got != "2024/a.png" {
		t.Errorf("RelPath(inside) = %q, want 2024/a.png", got)
	}
	if got := f.ingestor.Resolve("2024/a.png"); got != inside {
		t.Errorf("Resolve() = %q, want %q", got, inside)
	}

	outside := "/elsewhere/b.png"
	if got := f.ingestor.RelPath(outside); got != outside {
		t.Errorf("RelPath(outside) = %q, want absolute path kept", got)
	}
	if got := f.ingestor.Resolve(outside); got != outside {
		t.Errorf("Resolve(absolute) = %q, want unchanged", got)
	}
}
