package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"receipt-scan-service/internal/entity"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrJobFinalized is returned when a write targets a job that already reached a terminal state.
	ErrJobFinalized = errors.New("job already finalized")
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

type NewJob struct {
	ID          uuid.UUID
	UserID      string
	ImageKey    string
	ContentType string
	ImageSize   int64
}

func (r *JobRepository) Create(ctx context.Context, in NewJob) (*entity.Job, error) {
	const q = `
INSERT INTO receipt_jobs (id, user_id, status, progress, image_key, content_type, image_size)
VALUES ($1, $2, 'waiting', 0, $3, $4, $5)
RETURNING created_at, updated_at;
`
	job := &entity.Job{
		ID:          in.ID,
		UserID:      in.UserID,
		Status:      entity.StatusWaiting,
		ImageKey:    in.ImageKey,
		ContentType: in.ContentType,
		ImageSize:   in.ImageSize,
	}
	if err := r.pool.QueryRow(ctx, q, in.ID, in.UserID, in.ImageKey, in.ContentType, in.ImageSize).
		Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `
SELECT id, user_id, status, progress, image_key, content_type, image_size,
       result, error, created_at, updated_at, finished_at
FROM receipt_jobs
WHERE id = $1;
`
	var (
		job         entity.Job
		statusText  string
		resultBytes []byte
	)
	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&job.ID,
		&job.UserID,
		&statusText,
		&job.Progress,
		&job.ImageKey,
		&job.ContentType,
		&job.ImageSize,
		&resultBytes, // NULL => nil
		&job.Error,   // NULL => nil
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.FinishedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	job.Status = entity.JobStatus(statusText)
	if resultBytes != nil {
		job.Result = json.RawMessage(resultBytes)
	}
	return &job, nil
}

// MarkActive moves a waiting job to active. Calling it on an active job is a no-op
// so a redelivered job can be picked up again.
func (r *JobRepository) MarkActive(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE receipt_jobs
SET status = 'active', updated_at = now()
WHERE id = $1 AND status IN ('waiting', 'active');
`
	return r.execPending(ctx, id, q, id)
}

// UpdateProgress never lowers the stored value: progress observed by readers is non-decreasing.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	const q = `
UPDATE receipt_jobs
SET progress = GREATEST(progress, $2), updated_at = now()
WHERE id = $1 AND status IN ('waiting', 'active');
`
	return r.execPending(ctx, id, q, id, clampProgress(progress))
}

// Complete is the single terminal success write. The status predicate makes it a
// compare-and-set: a second completion or a completion after failure affects no row.
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	const q = `
UPDATE receipt_jobs
SET status = 'completed', progress = 100, result = $2, error = NULL,
    finished_at = now(), updated_at = now()
WHERE id = $1 AND status IN ('waiting', 'active');
`
	return r.execPending(ctx, id, q, id, result)
}

func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, errText string) error {
	const q = `
UPDATE receipt_jobs
SET status = 'failed', error = $2, result = NULL,
    finished_at = now(), updated_at = now()
WHERE id = $1 AND status IN ('waiting', 'active');
`
	return r.execPending(ctx, id, q, id, errText)
}

// DeleteFinishedBefore removes terminal jobs finished before cutoff and returns their image keys.
// Pending jobs are never removed regardless of age.
func (r *JobRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	const q = `
DELETE FROM receipt_jobs
WHERE id IN (
    SELECT id FROM receipt_jobs
    WHERE status IN ('completed', 'failed') AND finished_at < $1
    ORDER BY finished_at
    LIMIT $2
)
RETURNING image_key;
`
	rows, err := r.pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *JobRepository) execPending(ctx context.Context, id uuid.UUID, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// nothing updated: either the job is gone or it is already terminal
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM receipt_jobs WHERE id = $1);`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrJobFinalized
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
