package export

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"buildguard-desktop/internal/api"
)

// ResourceType identifies which kind of backend resource an adapter exports
type ResourceType string

const (
	ResourceDatasetVersion ResourceType = "dataset_version"
	ResourceRepository     ResourceType = "repository"
	ResourceScenarioSplit  ResourceType = "scenario_split"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// Target describes the resource an export session is bound to
type Target struct {
	Type       ResourceType `json:"resource_type"`
	ResourceID string       `json:"resource_id"`
	SubID      string       `json:"sub_id,omitempty"` // version id for datasets, split name for scenarios
	Name       string       `json:"name"`
	TotalRows  int          `json:"total_rows"`
}

// Validate checks the target before any request is made
func (t *Target) Validate() error {
	switch t.Type {
	case ResourceDatasetVersion, ResourceScenarioSplit:
		if !idPattern.MatchString(t.SubID) {
			return &ValidationError{"sub_id", "invalid or missing identifier"}
		}
	case ResourceRepository:
	default:
		return &ValidationError{"resource_type", fmt.Sprintf("unknown resource type %q", t.Type)}
	}
	if !idPattern.MatchString(t.ResourceID) {
		return &ValidationError{"resource_id", "invalid or missing identifier"}
	}
	if t.Name == "" {
		return &ValidationError{"name", "required"}
	}
	if t.TotalRows < 0 {
		return &ValidationError{"total_rows", "must not be negative"}
	}
	return nil
}

// basePath is the backend route that owns the export endpoints of the target
func (t *Target) basePath() string {
	switch t.Type {
	case ResourceDatasetVersion:
		return fmt.Sprintf("datasets/%s/versions/%s", url.PathEscape(t.ResourceID), url.PathEscape(t.SubID))
	case ResourceScenarioSplit:
		return fmt.Sprintf("scenarios/%s/splits/%s", url.PathEscape(t.ResourceID), url.PathEscape(t.SubID))
	default:
		return fmt.Sprintf("repositories/%s/builds", url.PathEscape(t.ResourceID))
	}
}

// HTTPAdapter implements Adapter against the backend export routes:
//
//	GET  {base}/export?format=         streamed payload
//	POST {base}/export/async           {"format"} -> {"job_id"}
//	GET  exports/jobs/{job_id}         job status
//	GET  exports/jobs/{job_id}/download
type HTTPAdapter struct {
	client *api.Client
	target Target
}

// NewAdapter binds an adapter to one target
func NewAdapter(client *api.Client, target Target) (*HTTPAdapter, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return &HTTPAdapter{client: client, target: target}, nil
}

func (a *HTTPAdapter) Name() string   { return a.target.Name }
func (a *HTTPAdapter) TotalRows() int { return a.target.TotalRows }

func (a *HTTPAdapter) DownloadStream(ctx context.Context, format Format) ([]byte, error) {
	return a.client.GetBytes(ctx, a.target.basePath()+"/export", map[string]string{
		"format": string(format),
	})
}

func (a *HTTPAdapter) CreateAsyncJob(ctx context.Context, format Format) (JobHandle, error) {
	var handle JobHandle
	err := a.client.PostJSON(ctx, a.target.basePath()+"/export/async", map[string]string{
		"format": string(format),
	}, &handle)
	if err != nil {
		return JobHandle{}, err
	}
	if handle.JobID == "" {
		return JobHandle{}, fmt.Errorf("backend returned no job_id")
	}
	return handle, nil
}

// GetJobStatus always hits the backend; job status must never come from cache
func (a *HTTPAdapter) GetJobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	var status JobStatus
	if err := a.client.GetJSON(ctx, "exports/jobs/"+url.PathEscape(jobID), nil, &status); err != nil {
		return JobStatus{}, err
	}
	return status, nil
}

func (a *HTTPAdapter) DownloadJob(ctx context.Context, jobID string) ([]byte, error) {
	return a.client.GetBytes(ctx, "exports/jobs/"+url.PathEscape(jobID)+"/download", nil)
}
