package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"receipt-scan-service/internal/entity"
	"receipt-scan-service/internal/extraction"
	"receipt-scan-service/internal/logging"
	"receipt-scan-service/internal/receipt"
	"receipt-scan-service/internal/repository/postgresql"
)

// Progress checkpoints. Each stage moves the job into the band of the step
// label that describes the work that follows.
const (
	progressStarted   = 2
	progressDecoded   = 7
	progressCatalog   = 10
	progressExtracted = 50
	progressStore     = 55
	progressItemsDone = 89
	progressFinalized = 90
)

type JobRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	MarkActive(ctx context.Context, id uuid.UUID) error
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error
	Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	Fail(ctx context.Context, id uuid.UUID, errText string) error
}

type CatalogReader interface {
	ListStores(ctx context.Context, userID string) ([]entity.Store, error)
	ListItemCategories(ctx context.Context, userID string) ([]entity.ItemCategory, error)
}

type ImageReader interface {
	GetImage(ctx context.Context, key string) ([]byte, error)
}

// Publisher fans snapshots out to live subscribers. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, snap entity.Snapshot) error
}

// stageError carries the message stored on the job next to the underlying cause.
type stageError struct {
	stage string
	msg   string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failStage(stage, msg string, err error) error {
	return &stageError{stage: stage, msg: msg, err: err}
}

type Processor struct {
	repo       JobRepo
	catalog    CatalogReader
	images     ImageReader
	extractor  extraction.Extractor
	publisher  Publisher
	log        *slog.Logger
	jobTimeout time.Duration
}

func NewProcessor(repo JobRepo, catalog CatalogReader, images ImageReader, extractor extraction.Extractor, publisher Publisher, log *slog.Logger, jobTimeout time.Duration) *Processor {
	if jobTimeout <= 0 {
		jobTimeout = 3 * time.Minute
	}
	return &Processor{
		repo:       repo,
		catalog:    catalog,
		images:     images,
		extractor:  extractor,
		publisher:  publisher,
		log:        logging.Component(log, "processor"),
		jobTimeout: jobTimeout,
	}
}

// Process runs one job to a terminal state. A nil error means the queue entry can
// be acknowledged: the job finished, was already terminal, or no longer exists.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()
	log := p.log.With(logging.FieldJobID, jobID)

	id, err := uuid.Parse(jobID)
	if err != nil {
		log.Error("invalid job id in queue", logging.FieldError, err)
		return nil
	}

	job, err := p.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			log.Warn("job no longer exists, skipping")
			return nil
		}
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status.Terminal() {
		log.Info("job already finished, skipping redelivery", logging.FieldStatus, job.Status)
		return nil
	}
	log = log.With(logging.FieldUserID, job.UserID)

	if err := p.repo.MarkActive(ctx, id); err != nil {
		if errors.Is(err, postgresql.ErrJobFinalized) || errors.Is(err, postgresql.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("mark active: %w", err)
	}
	log.Info("job started", logging.FieldStatus, entity.StatusActive)

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	result, runErr := p.safeRun(jobCtx, job, log)
	// terminal writes must land even when the job or worker context is done
	writeCtx := context.WithoutCancel(ctx)

	if runErr != nil && interrupted(ctx, jobCtx) {
		// shutdown: the job stays active and unacked, the reaper redelivers it
		log.Warn("job interrupted by shutdown, left for redelivery", logging.FieldError, runErr)
		return fmt.Errorf("job interrupted: %w", ctx.Err())
	}

	if runErr != nil {
		msg := failureMessage(runErr, jobCtx)
		if err := p.repo.Fail(writeCtx, id, msg); err != nil {
			if errors.Is(err, postgresql.ErrJobFinalized) || errors.Is(err, postgresql.ErrNotFound) {
				log.Warn("job left active state before failure was recorded", logging.FieldError, runErr)
				return nil
			}
			return fmt.Errorf("record failure: %w", err)
		}
		p.publish(writeCtx, entity.Snapshot{JobID: jobID, Status: entity.StatusFailed, Error: msg})
		log.Error("job failed",
			logging.FieldStatus, entity.StatusFailed,
			logging.FieldError, runErr,
			logging.FieldDuration, time.Since(start).Milliseconds(),
		)
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		_ = p.repo.Fail(writeCtx, id, "could not encode scan result")
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := p.repo.Complete(writeCtx, id, data); err != nil {
		if errors.Is(err, postgresql.ErrJobFinalized) {
			log.Warn("job was finalized concurrently, result discarded")
			return nil
		}
		return fmt.Errorf("complete job: %w", err)
	}
	p.publish(writeCtx, entity.Snapshot{JobID: jobID, Status: entity.StatusCompleted, Data: data})

	log.Info("job completed",
		logging.FieldStatus, entity.StatusCompleted,
		"items", len(result.Items),
		logging.FieldDuration, time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Processor) safeRun(ctx context.Context, job *entity.Job, log *slog.Logger) (res *entity.ScanResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failStage("internal", "unexpected error while processing receipt", fmt.Errorf("panic: %v", r))
		}
	}()
	return p.run(ctx, job, log)
}

func (p *Processor) run(ctx context.Context, job *entity.Job, log *slog.Logger) (*entity.ScanResult, error) {
	if err := p.progress(ctx, job, progressStarted); err != nil {
		return nil, err
	}

	// 1. read and decode the image
	img, err := p.images.GetImage(ctx, job.ImageKey)
	if err != nil {
		return nil, failStage("read", "could not read receipt image", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, failStage("decode", "receipt image could not be decoded", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, failStage("decode", "receipt image is empty", errors.New("zero image dimensions"))
	}
	log.Debug("stage done", logging.FieldStage, "decode", "width", cfg.Width, "height", cfg.Height)
	if err := p.progress(ctx, job, progressDecoded); err != nil {
		return nil, err
	}

	// 2. load matching context
	stores, err := p.catalog.ListStores(ctx, job.UserID)
	if err != nil {
		return nil, failStage("catalog", "could not load your stores", err)
	}
	categories, err := p.catalog.ListItemCategories(ctx, job.UserID)
	if err != nil {
		return nil, failStage("catalog", "could not load your item categories", err)
	}
	matcher := receipt.NewMatcher(stores, categories)
	log.Debug("stage done", logging.FieldStage, "catalog", "stores", len(stores), "categories", len(categories))
	if err := p.progress(ctx, job, progressCatalog); err != nil {
		return nil, err
	}

	// 3. extraction
	raw, err := p.extractor.Extract(ctx, extraction.Request{
		Image:           img,
		ContentType:     job.ContentType,
		KnownCategories: matcher.CategoryNames(),
	})
	if err != nil {
		return nil, failStage("extract", "could not extract receipt data", err)
	}
	log.Debug("stage done", logging.FieldStage, "extract", "items", len(raw.Items))
	if err := p.progress(ctx, job, progressExtracted); err != nil {
		return nil, err
	}

	// 4. store
	location := ""
	if raw.StoreLocation != nil {
		location = *raw.StoreLocation
	}
	res := &entity.ScanResult{
		Store:             matcher.MatchStore(raw.StoreName, location),
		RecordedAt:        receipt.ParseRecordedAt(raw.RecordedAt),
		SuggestedCategory: raw.Category,
		RawText:           raw.Text,
		Confidence:        raw.Confidence,
	}
	log.Debug("stage done", logging.FieldStage, "store", "matched", res.Store.Matched)
	if err := p.progress(ctx, job, progressStore); err != nil {
		return nil, err
	}

	// 5. items
	res.Items = make([]entity.ItemCandidate, 0, len(raw.Items))
	span := progressItemsDone - progressStore
	for i, ri := range raw.Items {
		if err := ctx.Err(); err != nil {
			return nil, failStage("items", "receipt processing timed out", err)
		}
		item, ok := receipt.Item(ri)
		if ok {
			item.Category = matcher.MatchCategory(item.Name, ri.CategoryHint)
			res.Items = append(res.Items, item)
		}
		if err := p.progress(ctx, job, progressStore+span*(i+1)/len(raw.Items)); err != nil {
			return nil, err
		}
	}
	if err := p.progress(ctx, job, progressItemsDone); err != nil {
		return nil, err
	}

	// 6. finalize
	receipt.Finalize(res)
	if err := p.progress(ctx, job, progressFinalized); err != nil {
		return nil, err
	}
	return res, nil
}

// progress stores a checkpoint and publishes it. Only losing the job aborts the
// run; a failed write is logged and the next checkpoint catches up.
func (p *Processor) progress(ctx context.Context, job *entity.Job, value int) error {
	if value <= job.Progress {
		return nil
	}
	if err := p.repo.UpdateProgress(ctx, job.ID, value); err != nil {
		if errors.Is(err, postgresql.ErrJobFinalized) || errors.Is(err, postgresql.ErrNotFound) {
			return failStage("progress", "job is no longer active", err)
		}
		p.log.Warn("progress update failed", logging.FieldJobID, job.ID, logging.FieldProgress, value, logging.FieldError, err)
		return nil
	}
	job.Progress = value
	p.publish(ctx, entity.Snapshot{JobID: job.ID.String(), Status: entity.StatusActive, Progress: &value})
	return nil
}

func (p *Processor) publish(ctx context.Context, snap entity.Snapshot) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, snap); err != nil {
		p.log.Warn("publish snapshot failed", logging.FieldJobID, snap.JobID, logging.FieldError, err)
	}
}

// interrupted reports whether the worker itself was stopped, as opposed to the
// job running out of its own time budget.
func interrupted(ctx, jobCtx context.Context) bool {
	return ctx.Err() != nil && !errors.Is(jobCtx.Err(), context.DeadlineExceeded)
}

func failureMessage(err error, jobCtx context.Context) string {
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return "receipt processing timed out"
	}
	var se *stageError
	if errors.As(err, &se) {
		return se.msg
	}
	return "could not process receipt"
}
