package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"receipt-scan-service/internal/entity"
	"receipt-scan-service/internal/logging"
	"receipt-scan-service/internal/notify"
	"receipt-scan-service/internal/service"
)

// multipartOverhead is the slack allowed on top of the image for multipart framing.
const multipartOverhead = 1 << 20

// Check is a readiness probe of one dependency.
type Check func(ctx context.Context) error

type Handler struct {
	scanSvc   *service.ScanService
	hub       *notify.Hub
	checks    map[string]Check
	heartbeat time.Duration
	log       *slog.Logger
}

func NewHandler(scanSvc *service.ScanService, hub *notify.Hub, checks map[string]Check, log *slog.Logger) *Handler {
	return &Handler{
		scanSvc:   scanSvc,
		hub:       hub,
		checks:    checks,
		heartbeat: 15 * time.Second,
		log:       logging.Component(log, "http"),
	}
}

type submitResp struct {
	JobID  string           `json:"jobId"`
	Status entity.JobStatus `json:"status"`
}

// SubmitReceipt godoc
// @Summary Submit a receipt image for scanning
// @Description Validates the image (JPEG or PNG, at most 10 MiB), stores it and enqueues a scan job. Processing happens in the background.
// @Tags receipts
// @Accept multipart/form-data
// @Produce json
// @Param X-User-ID header string true "caller id"
// @Param file formData file true "receipt image"
// @Success 202 {object} submitResp
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Failure 413 {object} apiError
// @Failure 415 {object} apiError
// @Failure 500 {object} apiError
// @Router /receipts/process [post]
func (h *Handler) SubmitReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.scanSvc.MaxUploadBytes()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		writeErr(w, http.StatusBadRequest, "expected a multipart/form-data body")
		return
	}

	var part io.ReadCloser
	var declared string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			writeErr(w, http.StatusBadRequest, "file field is required")
			return
		}
		if err != nil {
			h.writeSubmitError(w, err)
			return
		}
		if p.FormName() == "file" {
			part, declared = p, p.Header.Get("Content-Type")
			break
		}
		_ = p.Close()
	}
	defer part.Close()

	job, err := h.scanSvc.Submit(r.Context(), service.SubmitRequest{
		UserID:       userFrom(r.Context()),
		DeclaredType: declared,
		Image:        part,
	})
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	h.log.Info("receipt submitted",
		logging.FieldJobID, job.ID,
		logging.FieldUserID, job.UserID,
		"content_type", job.ContentType,
		"size", job.ImageSize,
	)
	writeJSON(w, http.StatusAccepted, submitResp{JobID: job.ID.String(), Status: job.Status})
}

func (h *Handler) writeSubmitError(w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig), errors.Is(err, service.ErrFileTooLarge):
		writeErr(w, http.StatusRequestEntityTooLarge, service.ErrFileTooLarge.Error())
	case errors.Is(err, service.ErrUnsupportedType):
		writeErr(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrInvalidFile):
		writeErr(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("submit receipt", logging.FieldError, err)
		writeErr(w, http.StatusInternalServerError, "could not submit receipt")
	}
}

// GetJobStatus godoc
// @Summary Get scan job status
// @Description Unknown, expired and foreign job ids answer 200 with status not_found.
// @Tags receipts
// @Produce json
// @Param X-User-ID header string true "caller id"
// @Param jobId path string true "job id"
// @Success 200 {object} entity.Snapshot
// @Failure 401 {object} apiError
// @Failure 500 {object} apiError
// @Router /receipts/jobs/{jobId} [get]
func (h *Handler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.scanSvc.Status(r.Context(), userFrom(r.Context()), chi.URLParam(r, "jobId"))
	if err != nil {
		h.log.Error("job status", logging.FieldError, err)
		writeErr(w, http.StatusInternalServerError, "could not read job status")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// StreamJob godoc
// @Summary Stream scan job progress
// @Description Server-sent events: the current snapshot first, then every change until the job is terminal.
// @Tags receipts
// @Produce text/event-stream
// @Param X-User-ID header string true "caller id"
// @Param jobId path string true "job id"
// @Success 200 {object} entity.Snapshot
// @Failure 401 {object} apiError
// @Router /receipts/jobs/{jobId}/events [get]
func (h *Handler) StreamJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	// subscribe before reading so no change between the read and the stream is lost
	updates, unsubscribe := h.hub.Subscribe(jobID)
	defer unsubscribe()

	snap, err := h.scanSvc.Status(ctx, userFrom(ctx), jobID)
	if err != nil {
		h.log.Error("job status", logging.FieldError, err)
		writeErr(w, http.StatusInternalServerError, "could not read job status")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	if err := writeEvent(w, rc, snap); err != nil || !snap.Status.Pending() {
		return
	}
	last := snap

	ping := time.NewTicker(h.heartbeat)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := writeHeartbeat(w, rc); err != nil {
				return
			}
		case next := <-updates:
			if stale(last, next) {
				continue
			}
			if err := writeEvent(w, rc, next); err != nil {
				return
			}
			if next.Status.Terminal() {
				return
			}
			last = next
		}
	}
}

// stale reports whether next would show a client older progress than it has seen.
func stale(last, next entity.Snapshot) bool {
	if !next.Status.Pending() {
		return false
	}
	if last.Status == entity.StatusActive && next.Status == entity.StatusWaiting {
		return true
	}
	return last.Progress != nil && next.Progress != nil && *next.Progress < *last.Progress
}

// Ready godoc
// @Summary Readiness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /ready [get]
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	out := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			out[name] = err.Error()
			continue
		}
		out[name] = "ok"
	}
	writeJSON(w, status, out)
}
