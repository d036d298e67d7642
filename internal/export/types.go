package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Format is the output encoding of an export
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a user-supplied format string
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON:
		return Format(s), nil
	}
	return "", &ValidationError{Field: "format", Message: fmt.Sprintf("unsupported format %q (want csv or json)", s)}
}

// Status is the workflow state of one export session
type Status string

const (
	StatusIdle      Status = "idle"
	StatusExporting Status = "exporting"
	StatusPolling   Status = "polling"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// JobState is the lifecycle of a backend export job, as reported by polling
type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Valid reports whether s is a known job state
func (s JobState) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

func (s *JobState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !JobState(raw).Valid() {
		return fmt.Errorf("unknown export job state %q", raw)
	}
	*s = JobState(raw)
	return nil
}

// JobStatus is one poll result for an async export job
type JobStatus struct {
	ID           string   `json:"id"`
	Status       JobState `json:"status"`
	Progress     float64  `json:"progress"` // 0-100
	ErrorMessage *string  `json:"error_message,omitempty"`
}

// JobHandle is returned when an async export job is enqueued
type JobHandle struct {
	JobID string `json:"job_id"`
}

// Adapter supplies the export operations for one concrete resource. It is
// created per export target and holds no mutable state.
type Adapter interface {
	Name() string
	TotalRows() int
	DownloadStream(ctx context.Context, format Format) ([]byte, error)
	CreateAsyncJob(ctx context.Context, format Format) (JobHandle, error)
	GetJobStatus(ctx context.Context, jobID string) (JobStatus, error)
	DownloadJob(ctx context.Context, jobID string) ([]byte, error)
}

// State is a snapshot of an orchestrator
type State struct {
	Format   Format  `json:"format"`
	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`
	JobID    string  `json:"job_id,omitempty"`
	Error    string  `json:"error,omitempty"`
	FilePath string  `json:"file_path,omitempty"` // set once a download was written
	Async    bool    `json:"async"`
}

var (
	// ErrBusy is returned when an operation is not allowed while an export runs
	ErrBusy = errors.New("export already in progress")
	// ErrNotReady is returned when downloading before an async job completed
	ErrNotReady = errors.New("export result not ready")
	// ErrClosed is returned for operations on a closed orchestrator
	ErrClosed = errors.New("export session closed")
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
