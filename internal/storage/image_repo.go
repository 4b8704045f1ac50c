package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_image_store.go -package=mocks imagedex/internal/storage ImageStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"imagedex/internal/tags"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// ImageStore defines the interface for image storage operations.
type ImageStore interface {
	// GetByPath gets an image by its library-relative path.
	// Returns nil and ErrNotFound if not found.
	GetByPath(ctx context.Context, relPath string) (*ImageRecord, error)
	// GetByID gets an image by id. Returns nil and ErrNotFound if not found.
	GetByID(ctx context.Context, id int64) (*ImageRecord, error)
	// Upsert inserts or updates an image row plus its embedded tag set.
	// Returns the image id and whether anything changed.
	Upsert(ctx context.Context, img *ImageRecord, tagSet []tags.Record) (int64, bool, error)
	// DeleteMissing removes every image whose path is not in keep.
	// Jobs and tags cascade. Returns the number of deleted rows.
	DeleteMissing(ctx context.Context, keep []string) (int, error)
	// List returns images ordered by mtime descending then id descending.
	List(ctx context.Context, limit, offset int) ([]*ImageRecord, error)
}

// ImageRepo provides methods for image operations.
// It implements the ImageStore interface.
type ImageRepo struct {
	db *sql.DB
}

// NewImageRepo creates a new ImageRepo.
func NewImageRepo(db *sql.DB) *ImageRepo {
	return &ImageRepo{db: db}
}

const imageColumns = `id, path, name, mtime, size,
	COALESCE(width, 0), COALESCE(height, 0),
	COALESCE(seed, ''), COALESCE(model, ''), COALESCE(sampler, ''),
	COALESCE(scheduler, ''), COALESCE(generator, ''),
	COALESCE(steps, 0), COALESCE(cfg_scale, 0),
	COALESCE(description, ''), COALESCE(metadata_json, ''),
	COALESCE(rating, ''), COALESCE(rating_confidence, 0), COALESCE(rating_updated, 0)`

func scanImage(row interface{ Scan(...any) error }) (*ImageRecord, error) {
	var img ImageRecord
	err := row.Scan(
		&img.ID, &img.Path, &img.Name, &img.MTime, &img.Size,
		&img.Width, &img.Height,
		&img.Seed, &img.Model, &img.Sampler,
		&img.Scheduler, &img.Generator,
		&img.Steps, &img.CfgScale,
		&img.Description, &img.MetadataJSON,
		&img.Rating, &img.RatingConf, &img.RatingAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan image: %w", err)
	}
	return &img, nil
}

// GetByPath gets an image by its library-relative path.
// Returns nil and ErrNotFound if not found.
func (r *ImageRepo) GetByPath(ctx context.Context, relPath string) (*ImageRecord, error) {
	return scanImage(r.db.QueryRowContext(ctx,
		"SELECT "+imageColumns+" FROM images WHERE path = ?", relPath))
}

// GetByID gets an image by id. Returns nil and ErrNotFound if not found.
func (r *ImageRepo) GetByID(ctx context.Context, id int64) (*ImageRecord, error) {
	return scanImage(r.db.QueryRowContext(ctx,
		"SELECT "+imageColumns+" FROM images WHERE id = ?", id))
}

// Upsert inserts or updates an image row and reconciles its embedded
// tag set in the same transaction: tags whose norm disappeared are
// deleted, new norms inserted, surviving norms updated in place so the
// FTS index rows stay aligned with the tag rows.
func (r *ImageRepo) Upsert(ctx context.Context, img *ImageRecord, tagSet []tags.Record) (int64, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var imageID int64
	changed := false

	var existingID int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM images WHERE path = ?", img.Path).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO images
			 (path, name, mtime, size, width, height, seed, model, sampler, scheduler, generator, steps, cfg_scale, description, metadata_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			img.Path, img.Name, img.MTime, img.Size,
			nullInt(img.Width), nullInt(img.Height),
			nullStr(img.Seed), nullStr(img.Model), nullStr(img.Sampler),
			nullStr(img.Scheduler), nullStr(img.Generator),
			nullFloat(img.Steps), nullFloat(img.CfgScale),
			nullStr(img.Description), nullStr(img.MetadataJSON),
		)
		if err != nil {
			return 0, false, fmt.Errorf("failed to insert image: %w", err)
		}
		imageID, err = res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("failed to read inserted image id: %w", err)
		}
		changed = true
	case err != nil:
		return 0, false, fmt.Errorf("failed to look up image: %w", err)
	default:
		res, err := tx.ExecContext(ctx,
			`UPDATE images SET
			 name=?, mtime=?, size=?, width=?, height=?, seed=?, model=?, sampler=?, scheduler=?, generator=?, steps=?, cfg_scale=?, description=?, metadata_json=?
			 WHERE path=?`,
			img.Name, img.MTime, img.Size,
			nullInt(img.Width), nullInt(img.Height),
			nullStr(img.Seed), nullStr(img.Model), nullStr(img.Sampler),
			nullStr(img.Scheduler), nullStr(img.Generator),
			nullFloat(img.Steps), nullFloat(img.CfgScale),
			nullStr(img.Description), nullStr(img.MetadataJSON),
			img.Path,
		)
		if err != nil {
			return 0, false, fmt.Errorf("failed to update image: %w", err)
		}
		imageID = existingID
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			changed = true
		}
	}

	tagsChanged, err := reconcileTags(ctx, tx, imageID, tagSet)
	if err != nil {
		return 0, false, err
	}
	changed = changed || tagsChanged

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit image upsert: %w", err)
	}
	img.ID = imageID
	return imageID, changed, nil
}

// reconcileTags diffs the stored tag set for the image against tagSet
// by norm and applies the minimal delete/insert/update.
func reconcileTags(ctx context.Context, tx *sql.Tx, imageID int64, tagSet []tags.Record) (bool, error) {
	if len(tagSet) == 0 {
		res, err := tx.ExecContext(ctx, "DELETE FROM tags WHERE image_id = ?", imageID)
		if err != nil {
			return false, fmt.Errorf("failed to clear tags: %w", err)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	}

	rows, err := tx.QueryContext(ctx, "SELECT norm FROM tags WHERE image_id = ?", imageID)
	if err != nil {
		return false, fmt.Errorf("failed to query existing tags: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var norm string
		if err := rows.Scan(&norm); err != nil {
			_ = rows.Close()
			return false, fmt.Errorf("failed to scan tag norm: %w", err)
		}
		existing[norm] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("row iteration error: %w", err)
	}

	incoming := make(map[string]bool, len(tagSet))
	for _, t := range tagSet {
		incoming[t.Norm] = true
	}

	var toDelete []any
	for norm := range existing {
		if !incoming[norm] {
			toDelete = append(toDelete, norm)
		}
	}
	changed := len(toDelete) > 0
	if len(toDelete) > 0 {
		placeholders := strings.Repeat("?,", len(toDelete))
		placeholders = placeholders[:len(placeholders)-1]
		args := append([]any{imageID}, toDelete...)
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM tags WHERE image_id = ? AND norm IN ("+placeholders+")", args...); err != nil {
			return false, fmt.Errorf("failed to delete stale tags: %w", err)
		}
	}

	for _, t := range tagSet {
		source := t.Source
		if source == "" {
			source = tags.SourceEmbedded
		}
		if existing[t.Norm] {
			if _, err := tx.ExecContext(ctx,
				`UPDATE tags SET tag=?, kind=?, emphasis=?, weight=?, raw=?, source=?
				 WHERE image_id=? AND norm=?`,
				t.Tag, t.Kind, t.Emphasis, t.Weight, t.Raw, source, imageID, t.Norm); err != nil {
				return false, fmt.Errorf("failed to update tag: %w", err)
			}
			changed = true
		} else {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tags (image_id, tag, norm, kind, emphasis, weight, raw, source)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				imageID, t.Tag, t.Norm, t.Kind, t.Emphasis, t.Weight, t.Raw, source); err != nil {
				return false, fmt.Errorf("failed to insert tag: %w", err)
			}
			changed = true
		}
	}

	return changed, nil
}

// DeleteMissing removes every image whose path is not in keep.
func (r *ImageRepo) DeleteMissing(ctx context.Context, keep []string) (int, error) {
	if len(keep) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(keep))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(keep))
	for i, p := range keep {
		args[i] = p
	}
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM images WHERE path NOT IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete missing images: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted images: %w", err)
	}
	return int(n), nil
}

// List returns images ordered by mtime descending then id descending.
// limit <= 0 returns all rows.
func (r *ImageRepo) List(ctx context.Context, limit, offset int) ([]*ImageRecord, error) {
	query := "SELECT " + imageColumns + " FROM images ORDER BY mtime DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var images []*ImageRecord
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return images, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
