package settings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"buildguard-desktop/internal/api"
	"buildguard-desktop/internal/validate"
)

const endpoint = "settings"

// ClientSource resolves the backend client of a connection profile
type ClientSource interface {
	Client(profileID string) (*api.Client, error)
}

// Settings is the backend's admin settings record
type Settings struct {
	RetentionDays            int     `json:"retention_days" validate:"gte=1"`
	RiskThreshold            float64 `json:"risk_threshold" validate:"gte=0,lte=1"` // builds above are flagged
	MaxConcurrentExtractions int     `json:"max_concurrent_extractions" validate:"gte=1"`
	DefaultExportFormat      string  `json:"default_export_format" validate:"oneof=csv json"`
	SMTPHost                 string  `json:"smtp_host" validate:"omitempty,hostname_port|hostname"`
	SlackWebhookConfigured   bool    `json:"slack_webhook_configured"`
	MaintenanceMode          bool    `json:"maintenance_mode"`
	UpdatedAt                string  `json:"updated_at,omitempty"`
}

// Validate checks a settings update before it is sent
func (s *Settings) Validate() error {
	return validate.Struct(s)
}

// Service reads and updates admin settings
type Service struct {
	ctx     context.Context
	clients ClientSource
}

// NewService creates a new settings service
func NewService(ctx context.Context, clients ClientSource) *Service {
	return &Service{ctx: ctx, clients: clients}
}

// GetSettings returns the settings record, served from cache when fresh
func (s *Service) GetSettings(profileID string) (*Settings, error) {
	client, err := s.clients.Client(profileID)
	if err != nil {
		return nil, err
	}

	var out Settings
	if err := client.GetCached(s.ctx, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &out, nil
}

// UpdateSettings replaces the settings record and invalidates cached reads
func (s *Service) UpdateSettings(profileID string, update Settings) (*Settings, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	client, err := s.clients.Client(profileID)
	if err != nil {
		return nil, err
	}

	var out Settings
	err = client.PutJSON(s.ctx, endpoint, update, &out)
	// A failed write may still have been applied
	client.Invalidate(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}

	zap.S().Infof("Updated admin settings for profile %s", profileID)
	return &out, nil
}
