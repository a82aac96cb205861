package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusWaiting   JobStatus = "waiting"
	StatusActive    JobStatus = "active"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	// StatusNotFound is never stored; it is what readers report for an unknown id.
	StatusNotFound JobStatus = "not_found"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Pending reports whether the job still waits for or is being processed by a worker.
func (s JobStatus) Pending() bool {
	return s == StatusWaiting || s == StatusActive
}

type Job struct {
	ID          uuid.UUID       `json:"id"`
	UserID      string          `json:"user_id"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	ImageKey    string          `json:"image_key"`
	ContentType string          `json:"content_type"`
	ImageSize   int64           `json:"image_size"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// Snapshot is the read-only view handed to status readers and progress subscribers.
type Snapshot struct {
	JobID    string          `json:"jobId"`
	Status   JobStatus       `json:"status"`
	Progress *int            `json:"progress,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Snapshot hides fields that have no meaning for the job's current status:
// progress only while pending, data only when completed, error only when failed.
func (j *Job) Snapshot() Snapshot {
	s := Snapshot{JobID: j.ID.String(), Status: j.Status}
	switch j.Status {
	case StatusWaiting, StatusActive:
		p := j.Progress
		s.Progress = &p
	case StatusCompleted:
		s.Data = j.Result
	case StatusFailed:
		if j.Error != nil {
			s.Error = *j.Error
		}
	}
	return s
}

func NotFoundSnapshot(jobID string) Snapshot {
	return Snapshot{JobID: jobID, Status: StatusNotFound}
}
