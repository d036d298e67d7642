package catalog

import (
	"strconv"

	"buildguard-desktop/internal/models"
)

// Dataset is a collection of build records prepared for feature extraction
type Dataset struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name"`
	Description      string                  `json:"description"`
	RowCount         int                     `json:"row_count"`
	FeatureCount     int                     `json:"feature_count"`
	ExtractionStatus models.ExtractionStatus `json:"extraction_status"`
	CreatedAt        string                  `json:"created_at"`
	UpdatedAt        string                  `json:"updated_at"`
}

// DatasetVersion is an immutable snapshot of a dataset
type DatasetVersion struct {
	ID        string                  `json:"id"`
	DatasetID string                  `json:"dataset_id"`
	Version   int                     `json:"version"`
	RowCount  int                     `json:"row_count"`
	Status    models.ExtractionStatus `json:"status"`
	CreatedAt string                  `json:"created_at"`
}

// Repository is a source repository whose CI builds are ingested
type Repository struct {
	ID              string              `json:"id"`
	FullName        string              `json:"full_name"`
	Provider        string              `json:"provider"` // github, gitlab
	DefaultBranch   string              `json:"default_branch"`
	BuildCount      int                 `json:"build_count"`
	LastBuildStatus *models.BuildStatus `json:"last_build_status"` // null before the first build
}

// Build is one CI run of a repository
type Build struct {
	ID              string             `json:"id"`
	RepositoryID    string             `json:"repository_id"`
	Number          int                `json:"number"`
	Branch          string             `json:"branch"`
	CommitSHA       string             `json:"commit_sha"`
	Status          models.BuildStatus `json:"status"`
	DurationSeconds float64            `json:"duration_seconds"`
	RiskScore       *float64           `json:"risk_score"` // null until predicted
	StartedAt       string             `json:"started_at"`
	FinishedAt      *string            `json:"finished_at"`
}

// BuildPage is one page of a repository's build history
type BuildPage struct {
	Items    []Build `json:"items"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

// BuildQuery filters a build history listing
type BuildQuery struct {
	Status   models.BuildStatus `json:"status,omitempty"`
	Branch   string             `json:"branch,omitempty"`
	Page     int                `json:"page,omitempty"`
	PageSize int                `json:"page_size,omitempty"`
}

func (q BuildQuery) params() map[string]string {
	params := map[string]string{}
	if q.Status != "" {
		params["status"] = string(q.Status)
	}
	if q.Branch != "" {
		params["branch"] = q.Branch
	}
	if q.Page > 0 {
		params["page"] = strconv.Itoa(q.Page)
	}
	if q.PageSize > 0 {
		params["page_size"] = strconv.Itoa(q.PageSize)
	}
	return params
}

// Scenario is an ML training scenario generated from a dataset
type Scenario struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	DatasetID   string                `json:"dataset_id"`
	Status      models.ScenarioStatus `json:"status"`
	Splits      []ScenarioSplit       `json:"splits"`
	CreatedAt   string                `json:"created_at"`
}

// ScenarioSplit is a generated partition of a scenario (train, validation, test)
type ScenarioSplit struct {
	Name     string `json:"name"`
	RowCount int    `json:"row_count"`
}

// QualityReport is the code quality and security scan summary of a repository
type QualityReport struct {
	RepositoryID    string         `json:"repository_id"`
	Score           float64        `json:"score"` // 0-100
	Vulnerabilities int            `json:"vulnerabilities"`
	CodeSmells      int            `json:"code_smells"`
	Coverage        *float64       `json:"coverage"`
	Issues          []QualityIssue `json:"issues"`
	GeneratedAt     string         `json:"generated_at"`
}

// QualityIssue is a single finding of a scan
type QualityIssue struct {
	Severity string `json:"severity"`
	Rule     string `json:"rule"`
	Message  string `json:"message"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// DAGNode is a feature in the dependency graph
type DAGNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"` // raw, derived, target
}

// DAGEdge says that To is computed from From
type DAGEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// FeatureDAG is the feature dependency graph as served by the backend
type FeatureDAG struct {
	Nodes []DAGNode `json:"nodes"`
	Edges []DAGEdge `json:"edges"`
}

// DatasetOverview bundles what the dataset page shows
type DatasetOverview struct {
	Dataset    Dataset          `json:"dataset"`
	Versions   []DatasetVersion `json:"versions"`
	Graph      *DAGView         `json:"graph"`
	GraphError string           `json:"graph_error,omitempty"`
}

// DAGView is a FeatureDAG with render layers attached
type DAGView struct {
	FeatureDAG
	Layers [][]string `json:"layers"` // node ids per depth
}
