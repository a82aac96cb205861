// Package client is the consumer side of the scan API: an HTTP client for the
// submission and status endpoints and the Poller that drives a scan to its result.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"receipt-scan-service/internal/entity"
)

var (
	ErrBusy        = errors.New("a scan is already in progress")
	ErrInvalidFile = errors.New("invalid file")
	ErrJobNotFound = errors.New("job not found")
	ErrTimeout     = errors.New("timed out waiting for receipt processing")
)

// JobFailedError carries the reason the server recorded for a failed job.
type JobFailedError struct {
	Reason string
}

func (e *JobFailedError) Error() string {
	if e.Reason == "" {
		return "Failed to process receipt"
	}
	return e.Reason
}

// APIError is a non-2xx answer from the scan API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scan api status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps upload rejections to ErrInvalidFile.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return ErrInvalidFile
	}
	return nil
}

type SubmitResponse struct {
	JobID  string           `json:"jobId"`
	Status entity.JobStatus `json:"status"`
}

// API is the slice of the scan service the Poller needs.
type API interface {
	Submit(ctx context.Context, filename, contentType string, content []byte) (SubmitResponse, error)
	Status(ctx context.Context, jobID string) (entity.Snapshot, error)
}

type HTTPAPI struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

func NewHTTPAPI(baseURL, userID string, timeout time.Duration) *HTTPAPI {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAPI) Submit(ctx context.Context, filename, contentType string, content []byte) (SubmitResponse, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	pw, err := mw.CreatePart(hdr)
	if err != nil {
		return SubmitResponse{}, err
	}
	if _, err := pw.Write(content); err != nil {
		return SubmitResponse{}, err
	}
	if err := mw.Close(); err != nil {
		return SubmitResponse{}, err
	}

	var out SubmitResponse
	err = a.do(ctx, http.MethodPost, "/receipts/process", mw.FormDataContentType(), body, &out)
	return out, err
}

func (a *HTTPAPI) Status(ctx context.Context, jobID string) (entity.Snapshot, error) {
	var out entity.Snapshot
	err := a.do(ctx, http.MethodGet, "/receipts/jobs/"+url.PathEscape(jobID), "", nil, &out)
	return out, err
}

func (a *HTTPAPI) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-User-ID", a.userID)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scan api http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
