package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectionProfile is a saved BuildGuard backend the client can talk to
type ConnectionProfile struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"unique;not null" json:"name"`
	Owner       string    `json:"owner"`
	BaseURL     string    `gorm:"not null;column:base_url" json:"base_url"`
	APITokenEnc string    `gorm:"column:api_token_enc" json:"-"` // Encrypted, never expose in JSON
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (cp *ConnectionProfile) BeforeCreate(tx *gorm.DB) error {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (ConnectionProfile) TableName() string {
	return "connection_profiles"
}
