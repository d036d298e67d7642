package models

import (
	"time"
)

// ExportMode records which path an export took
type ExportMode string

const (
	ExportModeSync  ExportMode = "sync"
	ExportModeAsync ExportMode = "async"
)

// ExportRecord is the persisted history of one export session
type ExportRecord struct {
	ID           string     `gorm:"primaryKey" json:"id"` // session ID
	ProfileID    string     `gorm:"index;column:profile_id" json:"profile_id"`
	ResourceType string     `gorm:"not null;column:resource_type" json:"resource_type"` // dataset_version, repository, scenario_split
	ResourceID   string     `gorm:"not null;column:resource_id" json:"resource_id"`
	ResourceName string     `gorm:"not null;column:resource_name" json:"resource_name"`
	Format       string     `gorm:"not null;default:csv" json:"format"`
	Mode         ExportMode `gorm:"column:mode" json:"mode"`
	Status       string     `gorm:"not null;default:idle" json:"status"` // idle, exporting, polling, completed, error
	Progress     float64    `gorm:"not null;default:0" json:"progress"`  // 0-100
	JobID        string     `gorm:"column:job_id" json:"job_id,omitempty"`
	Error        string     `gorm:"type:text" json:"error,omitempty"`
	FilePath     string     `gorm:"column:file_path" json:"file_path,omitempty"`
	Location     string     `gorm:"column:location" json:"location,omitempty"`
	Trigger      string     `gorm:"default:manual" json:"trigger"` // manual, scheduled, cli
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (ExportRecord) TableName() string {
	return "export_records"
}
