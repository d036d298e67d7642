package notifications

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"buildguard-desktop/internal/api"
)

const endpoint = "notifications/preferences"

// ClientSource resolves the backend client of a connection profile
type ClientSource interface {
	Client(profileID string) (*api.Client, error)
}

// Service manages per-user notification preferences
type Service struct {
	ctx     context.Context
	clients ClientSource
}

// NewService creates a new notifications service
func NewService(ctx context.Context, clients ClientSource) *Service {
	return &Service{ctx: ctx, clients: clients}
}

// GetPreferences returns preferences for every event type. Types the backend
// has no entry for get their defaults; types it knows but this client does
// not are dropped.
func (s *Service) GetPreferences(profileID string) (Preferences, error) {
	client, err := s.clients.Client(profileID)
	if err != nil {
		return nil, err
	}

	var wire wirePreferences
	if err := client.GetCached(s.ctx, endpoint, nil, &wire); err != nil {
		return nil, fmt.Errorf("failed to get notification preferences: %w", err)
	}

	prefs, unknown := wire.known()
	if len(unknown) > 0 {
		sort.Strings(unknown)
		zap.S().Warnf("Ignoring unknown notification event types: %v", unknown)
	}
	return prefs.complete(), nil
}

// UpdatePreferences stores prefs. Missing event types are sent with their
// defaults so the stored map is always exhaustive.
func (s *Service) UpdatePreferences(profileID string, prefs Preferences) (Preferences, error) {
	if err := prefs.Validate(); err != nil {
		return nil, err
	}

	client, err := s.clients.Client(profileID)
	if err != nil {
		return nil, err
	}

	full := prefs.complete()
	wire := wirePreferences{Preferences: make(map[string]Channels, len(full))}
	for e, ch := range full {
		wire.Preferences[string(e)] = ch
	}

	err = client.PutJSON(s.ctx, endpoint, wire, nil)
	client.Invalidate(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to update notification preferences: %w", err)
	}
	return full, nil
}

// SetChannel toggles one channel of one event type
func (s *Service) SetChannel(profileID string, event EventType, channel Channel, enabled bool) (Preferences, error) {
	if !event.Valid() {
		return nil, fmt.Errorf("unknown event type %q", event)
	}

	prefs, err := s.GetPreferences(profileID)
	if err != nil {
		return nil, err
	}

	ch := prefs[event]
	if err := ch.Set(channel, enabled); err != nil {
		return nil, err
	}
	prefs[event] = ch

	return s.UpdatePreferences(profileID, prefs)
}
