package exports

import (
	"buildguard-desktop/internal/export"
)

// OpenRequest opens an export session for one resource
type OpenRequest struct {
	ProfileID string        `json:"profile_id"`
	Target    export.Target `json:"target"`
	Format    string        `json:"format,omitempty"` // defaults to csv
}

// SessionEvent is emitted as "export:{session_id}" on every state change
type SessionEvent struct {
	SessionID    string       `json:"session_id"`
	ResourceName string       `json:"resource_name"`
	State        export.State `json:"state"`
}

// HeadlessRequest runs an export to completion without a user present
type HeadlessRequest struct {
	ProfileID string        `json:"profile_id"`
	Target    export.Target `json:"target"`
	Format    string        `json:"format"`
	Trigger   string        `json:"trigger"` // scheduled, cli
	Upload    bool          `json:"upload"`  // copy the saved file to object storage
}

// HistoryEntry is one row of the export history listing
type HistoryEntry struct {
	SessionID    string  `json:"session_id"`
	ProfileID    string  `json:"profile_id"`
	ResourceType string  `json:"resource_type"`
	ResourceName string  `json:"resource_name"`
	Format       string  `json:"format"`
	Mode         string  `json:"mode"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	JobID        string  `json:"job_id,omitempty"`
	Error        string  `json:"error,omitempty"`
	FilePath     string  `json:"file_path,omitempty"`
	Location     string  `json:"location,omitempty"`
	Trigger      string  `json:"trigger"`
	StartedAt    string  `json:"started_at"`   // ISO 8601
	CompletedAt  *string `json:"completed_at"` // ISO 8601 or null
	Summary      string  `json:"summary"`
}
