package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"receipt-scan-service/internal/blob"
	"receipt-scan-service/internal/entity"
	"receipt-scan-service/internal/repository/postgresql"
)

// DefaultMaxUploadBytes bounds a receipt image.
const DefaultMaxUploadBytes int64 = 10 << 20

var (
	ErrInvalidFile     = errors.New("invalid file")
	ErrFileTooLarge    = fmt.Errorf("%w: file too large", ErrInvalidFile)
	ErrUnsupportedType = fmt.Errorf("%w: only image/jpeg and image/png are accepted", ErrInvalidFile)
	ErrEmptyFile       = fmt.Errorf("%w: file is empty", ErrInvalidFile)
)

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Ports (implementations: postgresql.JobRepository, redis queue, blob.MinioStore).
type JobRepository interface {
	Create(ctx context.Context, in postgresql.NewJob) (*entity.Job, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Fail(ctx context.Context, id uuid.UUID, errText string) error
}

// JobQueue only adds jobs; claiming belongs to the worker side of Queue.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

type ImageStore interface {
	PutImage(ctx context.Context, key, contentType string, content []byte) error
	DeleteImage(ctx context.Context, key string) error
}

type ScanService struct {
	repo     JobRepository
	queue    JobQueue
	images   ImageStore
	maxBytes int64
}

func NewScanService(repo JobRepository, queue JobQueue, images ImageStore, maxUploadBytes int64) *ScanService {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &ScanService{repo: repo, queue: queue, images: images, maxBytes: maxUploadBytes}
}

func (s *ScanService) MaxUploadBytes() int64 { return s.maxBytes }

type SubmitRequest struct {
	UserID string
	// DeclaredType is the part's Content-Type header; it may be empty.
	DeclaredType string
	Image        io.Reader
}

// Submit validates the image, stores it and enqueues a waiting job.
// Validation errors wrap ErrInvalidFile and leave no job behind.
func (s *ScanService) Submit(ctx context.Context, req SubmitRequest) (*entity.Job, error) {
	if req.UserID == "" {
		return nil, errors.New("user id is required")
	}

	data, err := io.ReadAll(io.LimitReader(req.Image, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrFileTooLarge
	}
	contentType, err := CheckImage(data, req.DeclaredType)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	key := blob.ImageKey(id.String())
	if err := s.images.PutImage(ctx, key, contentType, data); err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	job, err := s.repo.Create(ctx, postgresql.NewJob{
		ID:          id,
		UserID:      req.UserID,
		ImageKey:    key,
		ContentType: contentType,
		ImageSize:   int64(len(data)),
	})
	if err != nil {
		_ = s.images.DeleteImage(context.WithoutCancel(ctx), key)
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, id.String()); err != nil {
		// no worker will ever see it: resolve the job instead of leaving it waiting
		_ = s.repo.Fail(context.WithoutCancel(ctx), id, "could not enqueue job")
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Status returns the caller's view of a job. Malformed ids, unknown ids and jobs
// owned by someone else all read as not_found.
func (s *ScanService) Status(ctx context.Context, userID, rawID string) (entity.Snapshot, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return entity.NotFoundSnapshot(rawID), nil
	}

	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			return entity.NotFoundSnapshot(rawID), nil
		}
		return entity.Snapshot{}, err
	}
	if job.UserID != userID {
		return entity.NotFoundSnapshot(rawID), nil
	}
	return job.Snapshot(), nil
}

// CheckImage returns the content type data is stored with. The declared type is
// only trusted to reject; the accepted type always comes from sniffing the bytes.
func CheckImage(data []byte, declared string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}

	if declared != "" {
		mt, _, err := mime.ParseMediaType(declared)
		if err != nil {
			return "", ErrUnsupportedType
		}
		mt = strings.ToLower(mt)
		if mt != "application/octet-stream" && !allowedTypes[mt] {
			return "", ErrUnsupportedType
		}
	}

	sniffed := http.DetectContentType(data)
	if !allowedTypes[sniffed] {
		return "", ErrUnsupportedType
	}
	return sniffed, nil
}
