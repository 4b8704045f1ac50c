package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_tag_store.go -package=mocks imagedex/internal/storage TagStore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"imagedex/internal/tags"
)

// Merge strategies for auto-sourced tags.
const (
	MergeMissing = "missing"
	MergeAugment = "augment"
)

// ApplyResult reports what an auto-tag merge did.
type ApplyResult string

const (
	ApplyApplied ApplyResult = "applied"
	ApplySkipped ApplyResult = "skipped"
	ApplyMissing ApplyResult = "missing"
)

// TagStore defines the interface for tag mutation and lookup beyond
// the embedded set managed by ImageStore.Upsert.
type TagStore interface {
	// ApplyAutoTags merges model-produced tags into the image's tag set
	// using the given strategy. Non-auto rows are never touched.
	ApplyAutoTags(ctx context.Context, imageID int64, records []tags.Record, strategy string) (ApplyResult, error)
	// HasAutoTags reports whether any auto-sourced tag exists for the image.
	HasAutoTags(ctx context.Context, imageID int64) (bool, error)
	// HasManualTags reports whether any non-auto tag exists for the image.
	HasManualTags(ctx context.Context, imageID int64) (bool, error)
	// HasRatingTag reports whether a rating-kind tag exists for the image.
	HasRatingTag(ctx context.Context, imageID int64) (bool, error)
	// UpdateRatingFromScores picks the best-scoring label, writes the
	// image rating columns and upserts the rating job row to ready.
	UpdateRatingFromScores(ctx context.Context, imageID int64, scores map[string]float64, model string) error
	// StoreRating overrides the stored rating decision, replacing any
	// non-auto rating tag with a dbrating row.
	StoreRating(ctx context.Context, imageID int64, rating string, confidence float64, scores map[string]float64) error
	// ForImages returns display tags grouped by image id.
	ForImages(ctx context.Context, imageIDs []int64) (map[int64][]tags.Record, error)
	// RatingCounts returns image counts per rating norm.
	RatingCounts(ctx context.Context) (map[string]int, error)
}

// TagRepo provides methods for tag operations.
// It implements the TagStore interface.
type TagRepo struct {
	db *sql.DB
}

// NewTagRepo creates a new TagRepo.
func NewTagRepo(db *sql.DB) *TagRepo {
	return &TagRepo{db: db}
}

// ApplyAutoTags merges model-produced tags using the given strategy.
//
// missing: only add tags whose (kind, norm) is absent from any source;
// if the image already has any manual tag the whole application is
// skipped.
//
// augment: diff the incoming auto set against the stored auto-sourced
// rows and apply the minimal insert/update/delete so that applying the
// same result twice is a no-op; rows from other sources are never
// touched.
func (r *TagRepo) ApplyAutoTags(ctx context.Context, imageID int64, records []tags.Record, strategy string) (ApplyResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ApplySkipped, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM images WHERE id = ?", imageID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ApplyMissing, nil
	}
	if err != nil {
		return ApplySkipped, fmt.Errorf("failed to look up image: %w", err)
	}

	type key struct{ kind, norm string }
	type storedTag struct {
		tag    string
		weight float64
		source string
	}
	stored := make(map[key]storedTag)
	rows, err := tx.QueryContext(ctx,
		"SELECT kind, norm, tag, weight, source FROM tags WHERE image_id = ?", imageID)
	if err != nil {
		return ApplySkipped, fmt.Errorf("failed to query existing tags: %w", err)
	}
	manualPresent := false
	for rows.Next() {
		var k key
		var st storedTag
		if err := rows.Scan(&k.kind, &k.norm, &st.tag, &st.weight, &st.source); err != nil {
			_ = rows.Close()
			return ApplySkipped, fmt.Errorf("failed to scan tag: %w", err)
		}
		stored[k] = st
		if st.source != tags.SourceAuto {
			manualPresent = true
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return ApplySkipped, fmt.Errorf("row iteration error: %w", err)
	}

	// Negative-weight results never land; confidence scores are [0,1]
	// so this only filters defective model output.
	incoming := make(map[key]tags.Record, len(records))
	for _, rec := range records {
		if rec.Weight < 0 {
			continue
		}
		incoming[key{rec.Kind, rec.Norm}] = rec
	}

	applied := false
	switch strategy {
	case MergeMissing:
		if manualPresent {
			return ApplySkipped, nil
		}
		for k, rec := range incoming {
			if _, ok := stored[k]; ok {
				continue
			}
			if err := insertAutoTag(ctx, tx, imageID, rec); err != nil {
				return ApplySkipped, err
			}
			applied = true
		}
	default: // augment
		for k, rec := range incoming {
			st, ok := stored[k]
			switch {
			case !ok:
				if err := insertAutoTag(ctx, tx, imageID, rec); err != nil {
					return ApplySkipped, err
				}
				applied = true
			case st.source == tags.SourceAuto && (st.weight != rec.Weight || st.tag != rec.Tag):
				if _, err := tx.ExecContext(ctx,
					`UPDATE tags SET tag=?, emphasis=?, weight=?, raw=?
					 WHERE image_id=? AND kind=? AND norm=? AND source=?`,
					rec.Tag, rec.Emphasis, rec.Weight, rec.Raw,
					imageID, k.kind, k.norm, tags.SourceAuto); err != nil {
					return ApplySkipped, fmt.Errorf("failed to update auto tag: %w", err)
				}
				applied = true
			}
		}
		for k, st := range stored {
			if st.source != tags.SourceAuto {
				continue
			}
			if _, ok := incoming[k]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM tags WHERE image_id=? AND kind=? AND norm=? AND source=?",
				imageID, k.kind, k.norm, tags.SourceAuto); err != nil {
				return ApplySkipped, fmt.Errorf("failed to delete stale auto tag: %w", err)
			}
			applied = true
		}
	}

	if err := tx.Commit(); err != nil {
		return ApplySkipped, fmt.Errorf("failed to commit auto tags: %w", err)
	}
	if !applied {
		return ApplySkipped, nil
	}
	return ApplyApplied, nil
}

func insertAutoTag(ctx context.Context, tx *sql.Tx, imageID int64, rec tags.Record) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tags (image_id, tag, norm, kind, emphasis, weight, raw, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		imageID, rec.Tag, rec.Norm, rec.Kind, rec.Emphasis, rec.Weight, rec.Raw, tags.SourceAuto)
	if err != nil {
		return fmt.Errorf("failed to insert auto tag: %w", err)
	}
	return nil
}

// HasAutoTags reports whether any auto-sourced tag exists for the image.
func (r *TagRepo) HasAutoTags(ctx context.Context, imageID int64) (bool, error) {
	return r.exists(ctx,
		"SELECT 1 FROM tags WHERE image_id = ? AND source = ? LIMIT 1",
		imageID, tags.SourceAuto)
}

// HasManualTags reports whether any non-auto tag exists for the image.
func (r *TagRepo) HasManualTags(ctx context.Context, imageID int64) (bool, error) {
	return r.exists(ctx,
		"SELECT 1 FROM tags WHERE image_id = ? AND source != ? LIMIT 1",
		imageID, tags.SourceAuto)
}

// HasRatingTag reports whether a rating-kind tag exists for the image.
func (r *TagRepo) HasRatingTag(ctx context.Context, imageID int64) (bool, error) {
	return r.exists(ctx,
		"SELECT 1 FROM tags WHERE image_id = ? AND kind = ? LIMIT 1",
		imageID, tags.KindRating)
}

func (r *TagRepo) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query tags: %w", err)
	}
	return true, nil
}

// UpdateRatingFromScores picks the best-scoring label out of the rating
// score map, writes it to the image's rating columns and upserts the
// rating job row to ready in one transaction.
func (r *TagRepo) UpdateRatingFromScores(ctx context.Context, imageID int64, scores map[string]float64, model string) error {
	if len(scores) == 0 {
		return nil
	}
	bestLabel, bestScore := bestRating(scores)
	scoresJSON, err := marshalScores(scores)
	if err != nil {
		return err
	}
	now := unixNow()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		"UPDATE images SET rating=?, rating_confidence=?, rating_updated=? WHERE id=?",
		bestLabel, bestScore, now, imageID); err != nil {
		return fmt.Errorf("failed to update image rating: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (image_id, kind, status, model, rating, confidence, scores_json, error, queued_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		 ON CONFLICT (image_id, kind) DO UPDATE SET
		 status=excluded.status, model=excluded.model, rating=excluded.rating,
		 confidence=excluded.confidence, scores_json=excluded.scores_json,
		 error=NULL, updated_at=excluded.updated_at`,
		imageID, JobKindRating, JobReady, model, bestLabel, bestScore, scoresJSON, now, now); err != nil {
		return fmt.Errorf("failed to upsert rating job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rating: %w", err)
	}
	return nil
}

// StoreRating overrides the stored rating decision: image columns are
// rewritten, any non-auto rating tag is replaced with a dbrating row,
// and the rating job row keeps its previous score map when no new one
// is supplied.
func (r *TagRepo) StoreRating(ctx context.Context, imageID int64, rating string, confidence float64, scores map[string]float64) error {
	now := unixNow()

	var scoresJSON any
	if len(scores) > 0 {
		s, err := marshalScores(scores)
		if err != nil {
			return err
		}
		scoresJSON = s
	} else {
		var existing sql.NullString
		err := r.db.QueryRowContext(ctx,
			"SELECT scores_json FROM jobs WHERE image_id = ? AND kind = ?",
			imageID, JobKindRating).Scan(&existing)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to query rating job: %w", err)
		}
		if existing.Valid {
			scoresJSON = existing.String
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		"UPDATE images SET rating=?, rating_confidence=?, rating_updated=? WHERE id=?",
		rating, confidence, now, imageID); err != nil {
		return fmt.Errorf("failed to update image rating: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM tags WHERE image_id=? AND kind=? AND source!=?",
		imageID, tags.KindRating, tags.SourceAuto); err != nil {
		return fmt.Errorf("failed to delete rating tag: %w", err)
	}
	display := "rating:" + rating
	norm := strings.ToLower(rating)
	raw := fmt.Sprintf("dbrating:%s:%.3f", display, confidence)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tags (image_id, tag, norm, kind, emphasis, weight, raw, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		imageID, display, norm, tags.KindRating, tags.EmphasisNormal, confidence, raw, tags.SourceDBRating); err != nil {
		return fmt.Errorf("failed to insert rating tag: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE jobs SET rating=?, confidence=?, scores_json=?, updated_at=? WHERE image_id=? AND kind=?",
		rating, confidence, scoresJSON, now, imageID, JobKindRating); err != nil {
		return fmt.Errorf("failed to update rating job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rating: %w", err)
	}
	return nil
}

// ForImages returns display tags grouped by image id, limited to the
// kinds the presentation layer shows.
func (r *TagRepo) ForImages(ctx context.Context, imageIDs []int64) (map[int64][]tags.Record, error) {
	grouped := make(map[int64][]tags.Record)
	if len(imageIDs) == 0 {
		return grouped, nil
	}
	placeholders := strings.Repeat("?,", len(imageIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(imageIDs))
	for i, id := range imageIDs {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT image_id, tag, norm, kind, emphasis, weight, source FROM tags WHERE image_id IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	shown := map[string]bool{
		tags.KindPrompt:    true,
		tags.KindCharacter: true,
		tags.KindNegative:  true,
		tags.KindRating:    true,
	}
	for rows.Next() {
		var imageID int64
		var rec tags.Record
		if err := rows.Scan(&imageID, &rec.Tag, &rec.Norm, &rec.Kind, &rec.Emphasis, &rec.Weight, &rec.Source); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		if !shown[rec.Kind] {
			continue
		}
		if rec.Source == "" {
			rec.Source = tags.SourceEmbedded
		}
		grouped[imageID] = append(grouped[imageID], rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return grouped, nil
}

// RatingCounts returns image counts per rating norm.
func (r *TagRepo) RatingCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT norm, COUNT(DISTINCT image_id) FROM tags WHERE kind = ? GROUP BY norm",
		tags.KindRating)
	if err != nil {
		return nil, fmt.Errorf("failed to query rating counts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var norm string
		var freq int
		if err := rows.Scan(&norm, &freq); err != nil {
			return nil, fmt.Errorf("failed to scan rating count: %w", err)
		}
		counts[strings.ToLower(norm)] = freq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return counts, nil
}

func bestRating(scores map[string]float64) (string, float64) {
	labels := make([]string, 0, len(scores))
	for label := range scores {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	bestLabel := ""
	bestScore := 0.0
	for _, label := range labels {
		if bestLabel == "" || scores[label] > bestScore {
			bestLabel = strings.ToLower(label)
			bestScore = scores[label]
		}
	}
	return bestLabel, bestScore
}

func marshalScores(scores map[string]float64) (string, error) {
	normalized := make(map[string]float64, len(scores))
	for label, value := range scores {
		normalized[strings.ToLower(label)] = value
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rating scores: %w", err)
	}
	return string(data), nil
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
