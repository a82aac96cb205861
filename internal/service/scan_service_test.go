package service_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"receipt-scan-service/internal/entity"
	"receipt-scan-service/internal/repository/postgresql"
	"receipt-scan-service/internal/service"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
)

type fakeRepo struct {
	jobs      map[uuid.UUID]*entity.Job
	createErr error
	failed    map[uuid.UUID]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: map[uuid.UUID]*entity.Job{}, failed: map[uuid.UUID]string{}}
}

func (r *fakeRepo) Create(ctx context.Context, in postgresql.NewJob) (*entity.Job, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	now := time.Now().UTC()
	j := &entity.Job{
		ID:          in.ID,
		UserID:      in.UserID,
		Status:      entity.StatusWaiting,
		ImageKey:    in.ImageKey,
		ContentType: in.ContentType,
		ImageSize:   in.ImageSize,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.jobs[in.ID] = j
	return j, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	return j, nil
}

func (r *fakeRepo) Fail(ctx context.Context, id uuid.UUID, errText string) error {
	r.failed[id] = errText
	if j, ok := r.jobs[id]; ok {
		j.Status = entity.StatusFailed
		j.Error = &errText
	}
	return nil
}

type fakeQueue struct {
	enqueuedIDs []string
	enqueueErr  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueuedIDs = append(q.enqueuedIDs, jobID)
	return nil
}

type fakeImages struct {
	objects map[string][]byte
	types   map[string]string
	deleted []string
}

func newFakeImages() *fakeImages {
	return &fakeImages{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeImages) PutImage(ctx context.Context, key, contentType string, content []byte) error {
	f.objects[key] = content
	f.types[key] = contentType
	return nil
}

func (f *fakeImages) DeleteImage(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}

func TestScanService_Submit_CreatesWaitingJobAndEnqueues(t *testing.T) {
	repo, queue, images := newFakeRepo(), &fakeQueue{}, newFakeImages()
	svc := service.NewScanService(repo, queue, images, 0)

	job, err := svc.Submit(context.Background(), service.SubmitRequest{
		UserID:       "u1",
		DeclaredType: "image/png",
		Image:        bytes.NewReader(pngHeader),
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if job.Status != entity.StatusWaiting {
		t.Fatalf("expected waiting, got %s", job.Status)
	}
	if len(queue.enqueuedIDs) != 1 || queue.enqueuedIDs[0] != job.ID.String() {
		t.Fatalf("expected enqueue of %s, got %#v", job.ID, queue.enqueuedIDs)
	}
	key := "receipts/" + job.ID.String()
	if job.ImageKey != key {
		t.Fatalf("expected image key %s, got %s", key, job.ImageKey)
	}
	if images.types[key] != "image/png" {
		t.Fatalf("expected stored type image/png, got %q", images.types[key])
	}
}

func TestScanService_Submit_OctetStreamIsSniffed(t *testing.T) {
	repo, queue, images := newFakeRepo(), &fakeQueue{}, newFakeImages()
	svc := service.NewScanService(repo, queue, images, 0)

	job, err := svc.Submit(context.Background(), service.SubmitRequest{
		UserID:       "u1",
		DeclaredType: "application/octet-stream",
		Image:        bytes.NewReader(jpegHeader),
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if job.ContentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", job.ContentType)
	}
}

func TestScanService_Submit_RejectsBeforeCreatingJob(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		data     []byte
		maxBytes int64
		want     error
	}{
		{name: "too large", declared: "image/png", data: append(append([]byte{}, pngHeader...), make([]byte, 64)...), maxBytes: 32, want: service.ErrFileTooLarge},
		{name: "declared gif", declared: "image/gif", data: pngHeader, want: service.ErrUnsupportedType},
		{name: "pdf bytes", declared: "image/png", data: []byte("%PDF-1.7\n"), want: service.ErrUnsupportedType},
		{name: "empty", declared: "image/png", data: nil, want: service.ErrEmptyFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, queue, images := newFakeRepo(), &fakeQueue{}, newFakeImages()
			svc := service.NewScanService(repo, queue, images, tt.maxBytes)

			_, err := svc.Submit(context.Background(), service.SubmitRequest{
				UserID:       "u1",
				DeclaredType: tt.declared,
				Image:        bytes.NewReader(tt.data),
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, service.ErrInvalidFile) {
				t.Fatalf("expected error to wrap ErrInvalidFile, got %v", err)
			}
			if len(repo.jobs) != 0 || len(queue.enqueuedIDs) != 0 || len(images.objects) != 0 {
				t.Fatalf("expected nothing stored, got jobs=%d enqueued=%d images=%d",
					len(repo.jobs), len(queue.enqueuedIDs), len(images.objects))
			}
		})
	}
}

func TestScanService_Submit_EnqueueFailureFailsJob(t *testing.T) {
	repo, images := newFakeRepo(), newFakeImages()
	queue := &fakeQueue{enqueueErr: errors.New("redis down")}
	svc := service.NewScanService(repo, queue, images, 0)

	_, err := svc.Submit(context.Background(), service.SubmitRequest{
		UserID: "u1",
		Image:  bytes.NewReader(pngHeader),
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(repo.failed) != 1 {
		t.Fatalf("expected job to be failed, got %#v", repo.failed)
	}
	for _, reason := range repo.failed {
		if reason != "could not enqueue job" {
			t.Fatalf("unexpected failure reason %q", reason)
		}
	}
}

func TestScanService_Submit_CreateFailureRemovesImage(t *testing.T) {
	repo, queue, images := newFakeRepo(), &fakeQueue{}, newFakeImages()
	repo.createErr = errors.New("db down")
	svc := service.NewScanService(repo, queue, images, 0)

	_, err := svc.Submit(context.Background(), service.SubmitRequest{
		UserID: "u1",
		Image:  bytes.NewReader(pngHeader),
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(images.deleted) != 1 || len(images.objects) != 0 {
		t.Fatalf("expected orphan image removed, deleted=%#v", images.deleted)
	}
	if len(queue.enqueuedIDs) != 0 {
		t.Fatalf("expected no enqueue, got %#v", queue.enqueuedIDs)
	}
}

func TestScanService_Status(t *testing.T) {
	repo := newFakeRepo()
	svc := service.NewScanService(repo, &fakeQueue{}, newFakeImages(), 0)

	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	repo.jobs[id] = &entity.Job{ID: id, UserID: "u1", Status: entity.StatusActive, Progress: 40}

	snap, err := svc.Status(context.Background(), "u1", id.String())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if snap.Status != entity.StatusActive || snap.Progress == nil || *snap.Progress != 40 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	for _, tc := range []struct{ user, id string }{
		{"u2", id.String()},                            // someone else's job
		{"u1", "22222222-2222-2222-2222-222222222222"}, // unknown
		{"u1", "not-a-uuid"},                           // malformed
	} {
		snap, err := svc.Status(context.Background(), tc.user, tc.id)
		if err != nil {
			t.Fatalf("expected nil error for %s, got %v", tc.id, err)
		}
		if snap.Status != entity.StatusNotFound || snap.JobID != tc.id {
			t.Fatalf("expected not_found for user=%s id=%s, got %+v", tc.user, tc.id, snap)
		}
	}
}

func TestCheckImage_DeclaredTypeWithParams(t *testing.T) {
	ct, err := service.CheckImage(jpegHeader, "Image/JPEG; charset=binary")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if ct != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", ct)
	}
}
