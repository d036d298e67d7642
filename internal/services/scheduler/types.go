package scheduler

import "buildguard-desktop/internal/export"

// JobListResponse represents a scheduled export in list responses
type JobListResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ProfileID string  `json:"profile_id"`
	Cron      string  `json:"cron"`
	Timezone  string  `json:"timezone"`
	Enabled   bool    `json:"enabled"`
	Target    string  `json:"target"`      // resource name from the payload
	LastRunAt *string `json:"last_run_at"` // ISO 8601 format
	NextRun   *string `json:"next_run"`    // ISO 8601 format
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// UpsertJobRequest represents a request to create or update a scheduled export
type UpsertJobRequest struct {
	Name      string      `json:"name" validate:"required,max=255"`
	ProfileID string      `json:"profile_id" validate:"required"`
	Cron      string      `json:"cron" validate:"required"`
	Timezone  string      `json:"timezone"`
	Enabled   bool        `json:"enabled"`
	Payload   interface{} `json:"payload"` // ExportJobPayload as map, struct or JSON string
}

// ExportJobPayload is what a scheduled export runs
type ExportJobPayload struct {
	Target export.Target `json:"target"`
	Format string        `json:"format"`
	Upload bool          `json:"upload,omitempty"` // copy the file to object storage
}
