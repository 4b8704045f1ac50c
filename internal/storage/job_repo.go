package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_job_store.go -package=mocks imagedex/internal/storage JobStore

import (
	"context"
	"database/sql"
	"fmt"
)

// Length cap for stored job error messages.
const maxJobError = 500

// JobStore defines the interface for enrichment job bookkeeping.
type JobStore interface {
	// Ensure creates the job row idempotently. An existing row with a
	// matching model and non-stale status is left alone; a model change,
	// an error/missing status or forceReset moves it back to pending.
	Ensure(ctx context.Context, imageID int64, kind, model string, forceReset bool) error
	// Claim atomically marks up to limit oldest pending jobs of the kind
	// as processing and returns them. A job is never handed to two
	// concurrent claimants.
	Claim(ctx context.Context, kind, model string, limit int) ([]ClaimedJob, error)
	// MarkReady marks a job ready and clears its error.
	MarkReady(ctx context.Context, imageID int64, kind string) error
	// MarkSkipped marks a job skipped.
	MarkSkipped(ctx context.Context, imageID int64, kind string) error
	// MarkError marks a job errored with a truncated message.
	MarkError(ctx context.Context, imageID int64, kind, message string) error
	// ResetStuck returns jobs left in processing (prior crash) to pending.
	ResetStuck(ctx context.Context, kind string) (int, error)
	// Get returns the job row. Returns nil and ErrNotFound if absent.
	Get(ctx context.Context, imageID int64, kind string) (*JobRecord, error)
	// Progress summarizes job rows of the kind.
	Progress(ctx context.Context, kind string) (ProgressCounts, error)
	// StoreVector marks an embedding job ready and stores its vector.
	StoreVector(ctx context.Context, imageID int64, model string, vector []byte) error
	// ReadyVectors streams (image id, vector) pairs for ready embedding
	// jobs of the model.
	ReadyVectors(ctx context.Context, model string, fn func(imageID int64, vector []byte) error) error
	// Vector returns the ready embedding vector for one image, or
	// ErrNotFound when none exists.
	Vector(ctx context.Context, imageID int64, model string) ([]byte, error)
	// PurgeVectors deletes all embedding jobs of the model.
	PurgeVectors(ctx context.Context, model string) error
}

// JobRepo provides methods for job operations.
// It implements the JobStore interface.
type JobRepo struct {
	db *sql.DB
}

// NewJobRepo creates a new JobRepo.
func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{db: db}
}

// Ensure creates the job row idempotently, resetting it to pending only
// when the model changed, the prior run errored, or forceReset is set.
// A ready/skipped row with the current model is never regressed.
func (r *JobRepo) Ensure(ctx context.Context, imageID int64, kind, model string, forceReset bool) error {
	now := unixNow()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var status, storedModel string
	err = tx.QueryRowContext(ctx,
		"SELECT status, model FROM jobs WHERE image_id = ? AND kind = ?",
		imageID, kind).Scan(&status, &storedModel)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO jobs (image_id, kind, status, model, queued_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			imageID, kind, JobPending, model, now, now); err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up job: %w", err)
	default:
		if forceReset || storedModel != model || status == JobError {
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET status=?, model=?, error=NULL, vector=NULL, queued_at=?, updated_at=?
				 WHERE image_id=? AND kind=?`,
				JobPending, model, now, now, imageID, kind); err != nil {
				return fmt.Errorf("failed to reset job: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job: %w", err)
	}
	return nil
}

// Claim selects up to limit oldest pending jobs of the kind and marks
// them processing inside one transaction, so no other claimant can see
// the same rows. Embedding claims are additionally scoped to the model,
// matching the reset-on-model-change rule in Ensure.
func (r *JobRepo) Claim(ctx context.Context, kind, model string, limit int) ([]ClaimedJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `SELECT j.image_id, i.path, i.mtime FROM jobs j
		JOIN images i ON i.id = j.image_id
		WHERE j.kind = ? AND j.status = ?`
	args := []any{kind, JobPending}
	if model != "" {
		query += " AND j.model = ?"
		args = append(args, model)
	}
	query += " ORDER BY j.queued_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	var batch []ClaimedJob
	for rows.Next() {
		var job ClaimedJob
		if err := rows.Scan(&job.ImageID, &job.Path, &job.MTime); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		batch = append(batch, job)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	if len(batch) == 0 {
		return nil, tx.Commit()
	}

	now := unixNow()
	for _, job := range batch {
		if _, err := tx.ExecContext(ctx,
			"UPDATE jobs SET status=?, updated_at=? WHERE image_id=? AND kind=?",
			JobProcessing, now, job.ImageID, kind); err != nil {
			return nil, fmt.Errorf("failed to mark job processing: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return batch, nil
}

// MarkReady marks a job ready and clears its error.
func (r *JobRepo) MarkReady(ctx context.Context, imageID int64, kind string) error {
	return r.setStatus(ctx, imageID, kind, JobReady, nil)
}

// MarkSkipped marks a job skipped.
func (r *JobRepo) MarkSkipped(ctx context.Context, imageID int64, kind string) error {
	return r.setStatus(ctx, imageID, kind, JobSkipped, nil)
}

// MarkError marks a job errored with a truncated message.
func (r *JobRepo) MarkError(ctx context.Context, imageID int64, kind, message string) error {
	if len(message) > maxJobError {
		message = message[:maxJobError]
	}
	return r.setStatus(ctx, imageID, kind, JobError, &message)
}

func (r *JobRepo) setStatus(ctx context.Context, imageID int64, kind, status string, message *string) error {
	var err error
	if message != nil {
		_, err = r.db.ExecContext(ctx,
			"UPDATE jobs SET status=?, error=?, updated_at=? WHERE image_id=? AND kind=?",
			status, *message, unixNow(), imageID, kind)
	} else {
		_, err = r.db.ExecContext(ctx,
			"UPDATE jobs SET status=?, error=NULL, updated_at=? WHERE image_id=? AND kind=?",
			status, unixNow(), imageID, kind)
	}
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// ResetStuck returns jobs left in processing by a prior crash to
// pending. Run once per kind at startup, before any worker claims.
func (r *JobRepo) ResetStuck(ctx context.Context, kind string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET status=?, updated_at=? WHERE kind=? AND status=?",
		JobPending, unixNow(), kind, JobProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset jobs: %w", err)
	}
	return int(n), nil
}

// Get returns the job row. Returns nil and ErrNotFound if absent.
func (r *JobRepo) Get(ctx context.Context, imageID int64, kind string) (*JobRecord, error) {
	var job JobRecord
	var errMsg, rating, scores sql.NullString
	var confidence sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT image_id, kind, status, model, error, queued_at, updated_at, vector, rating, confidence, scores_json
		 FROM jobs WHERE image_id = ? AND kind = ?`,
		imageID, kind,
	).Scan(&job.ImageID, &job.Kind, &job.Status, &job.Model, &errMsg,
		&job.QueuedAt, &job.UpdatedAt, &job.Vector, &rating, &confidence, &scores)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	job.Error = errMsg.String
	job.Rating = rating.String
	job.Confidence = confidence.Float64
	job.ScoresJSON = scores.String
	return &job, nil
}

// Progress summarizes job rows of the kind. Completed counts ready and
// skipped rows; processing counts only claimed rows, so
// ProgressCounts.Queued equals the pending backlog.
func (r *JobRepo) Progress(ctx context.Context, kind string) (ProgressCounts, error) {
	var counts ProgressCounts
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END)
		 FROM jobs WHERE kind = ?`,
		JobReady, JobSkipped, JobProcessing, JobError, kind,
	).Scan(&counts.Total, &nullCount{&counts.Completed}, &nullCount{&counts.Processing}, &nullCount{&counts.Errors})
	if err != nil {
		return ProgressCounts{}, fmt.Errorf("failed to query job progress: %w", err)
	}
	return counts, nil
}

// nullCount scans a SUM() that is NULL on empty tables as zero.
type nullCount struct {
	dst *int
}

func (n *nullCount) Scan(value any) error {
	if value == nil {
		*n.dst = 0
		return nil
	}
	switch v := value.(type) {
	case int64:
		*n.dst = int(v)
	case float64:
		*n.dst = int(v)
	default:
		return fmt.Errorf("unexpected count type %T", value)
	}
	return nil
}

// StoreVector marks an embedding job ready and stores its vector.
func (r *JobRepo) StoreVector(ctx context.Context, imageID int64, model string, vector []byte) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET status=?, model=?, vector=?, error=NULL, updated_at=? WHERE image_id=? AND kind=?",
		JobReady, model, vector, unixNow(), imageID, JobKindEmbedding)
	if err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}
	return nil
}

// ReadyVectors streams (image id, vector) pairs for ready embedding
// jobs of the model.
func (r *JobRepo) ReadyVectors(ctx context.Context, model string, fn func(imageID int64, vector []byte) error) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT image_id, vector FROM jobs WHERE kind=? AND model=? AND status=? AND vector IS NOT NULL",
		JobKindEmbedding, model, JobReady)
	if err != nil {
		return fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var imageID int64
		var vector []byte
		if err := rows.Scan(&imageID, &vector); err != nil {
			return fmt.Errorf("failed to scan vector: %w", err)
		}
		if err := fn(imageID, vector); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	return nil
}

// Vector returns the ready embedding vector for one image.
func (r *JobRepo) Vector(ctx context.Context, imageID int64, model string) ([]byte, error) {
	var vector []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT vector FROM jobs WHERE image_id=? AND kind=? AND model=? AND status=? AND vector IS NOT NULL",
		imageID, JobKindEmbedding, model, JobReady).Scan(&vector)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query vector: %w", err)
	}
	return vector, nil
}

// PurgeVectors deletes all embedding jobs of the model.
func (r *JobRepo) PurgeVectors(ctx context.Context, model string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE kind=? AND model=?", JobKindEmbedding, model)
	if err != nil {
		return fmt.Errorf("failed to purge vectors: %w", err)
	}
	return nil
}
