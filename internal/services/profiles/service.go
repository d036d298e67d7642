package profiles

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"buildguard-desktop/internal/api"
	"buildguard-desktop/internal/crypto"
	"buildguard-desktop/internal/models"
)

// Service manages saved backend profiles and the API clients built from them
type Service struct {
	db         *gorm.DB
	clientOpts []api.Option

	clientsMu sync.Mutex
	clients   map[string]*api.Client // profileID -> client, shared so the response cache is too
}

// NewService creates a new profile service. opts are applied to every client.
func NewService(db *gorm.DB, opts ...api.Option) *Service {
	return &Service{
		db:         db,
		clientOpts: opts,
		clients:    make(map[string]*api.Client),
	}
}

// List returns all connection profiles
func (s *Service) List() ([]models.ConnectionProfile, error) {
	var profiles []models.ConnectionProfile
	if err := s.db.Order("name").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

// Get retrieves a specific connection profile by ID
func (s *Service) Get(profileID string) (*models.ConnectionProfile, error) {
	var profile models.ConnectionProfile
	if err := s.db.Where("id = ?", profileID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("profile not found: %s", profileID)
		}
		return nil, err
	}
	return &profile, nil
}

// Create saves a new profile with its token encrypted
func (s *Service) Create(req ProfileRequest) (*models.ConnectionProfile, error) {
	baseURL, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	profile := &models.ConnectionProfile{
		Name:    strings.TrimSpace(req.Name),
		Owner:   req.Owner,
		BaseURL: baseURL,
	}
	if req.APIToken != "" {
		if profile.APITokenEnc, err = sealToken(req.APIToken); err != nil {
			return nil, err
		}
	}

	if err := s.db.Create(profile).Error; err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	zap.S().Infof("Created profile %s (%s)", profile.Name, profile.BaseURL)
	return profile, nil
}

// Update changes an existing profile. An empty token keeps the stored one.
func (s *Service) Update(profileID string, req ProfileRequest) error {
	profile, err := s.Get(profileID)
	if err != nil {
		return err
	}
	baseURL, err := validateRequest(req)
	if err != nil {
		return err
	}

	profile.Name = strings.TrimSpace(req.Name)
	profile.Owner = req.Owner
	profile.BaseURL = baseURL
	if req.APIToken != "" {
		if profile.APITokenEnc, err = sealToken(req.APIToken); err != nil {
			return err
		}
	}

	if err := s.db.Save(profile).Error; err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	s.forget(profileID)
	return nil
}

// Delete removes a profile
func (s *Service) Delete(profileID string) error {
	if err := s.db.Where("id = ?", profileID).Delete(&models.ConnectionProfile{}).Error; err != nil {
		return err
	}
	s.forget(profileID)
	return nil
}

// Client returns the API client for a profile, creating it on first use
func (s *Service) Client(profileID string) (*api.Client, error) {
	s.clientsMu.Lock()
	client, ok := s.clients[profileID]
	s.clientsMu.Unlock()
	if ok {
		return client, nil
	}

	profile, err := s.Get(profileID)
	if err != nil {
		return nil, err
	}

	token := ""
	if profile.APITokenEnc != "" {
		if token, err = crypto.DecryptSecret(profile.APITokenEnc); err != nil {
			return nil, fmt.Errorf("failed to decrypt API token: %w", err)
		}
	}

	client = api.NewClient(profile.BaseURL, token, s.clientOpts...)

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if existing, ok := s.clients[profileID]; ok {
		return existing, nil
	}
	s.clients[profileID] = client
	return client, nil
}

// TestConnection checks a backend URL and token without saving anything
func (s *Service) TestConnection(ctx context.Context, req TestConnectionRequest) TestConnectionResponse {
	baseURL, err := normalizeBaseURL(req.BaseURL)
	if err != nil {
		return TestConnectionResponse{Success: false, Error: err.Error()}
	}

	opts := append([]api.Option{}, s.clientOpts...)
	client := api.NewClient(baseURL, req.APIToken, append(opts, api.WithRetries(0))...)

	var user currentUser
	if err := client.GetJSON(ctx, "auth/me", nil, &user); err != nil {
		var errorMsg string
		switch api.StatusCode(err) {
		case 0:
			errorMsg = fmt.Sprintf("Connection failed: %v", err)
		case http.StatusUnauthorized:
			errorMsg = "Invalid or expired API token"
		case http.StatusForbidden:
			errorMsg = "Access forbidden (check token permissions)"
		case http.StatusNotFound:
			errorMsg = "Server not found or invalid URL"
		default:
			errorMsg = err.Error()
		}
		return TestConnectionResponse{Success: false, Error: errorMsg}
	}

	userName := user.FullName
	if userName == "" {
		userName = user.Username
	}
	if userName == "" {
		userName = user.Email
	}
	if userName == "" {
		userName = "Connected User"
	}

	return TestConnectionResponse{Success: true, UserName: userName, Role: user.Role}
}

func (s *Service) forget(profileID string) {
	s.clientsMu.Lock()
	delete(s.clients, profileID)
	s.clientsMu.Unlock()
}

func validateRequest(req ProfileRequest) (string, error) {
	if strings.TrimSpace(req.Name) == "" {
		return "", errors.New("profile name is required")
	}
	return normalizeBaseURL(req.BaseURL)
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("invalid base URL %q (want http(s)://host[/path])", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func sealToken(token string) (string, error) {
	if !crypto.IsInitialized() {
		return "", errors.New("encryption system not initialized - cannot save tokens")
	}
	enc, err := crypto.EncryptSecret(token)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt API token: %w", err)
	}
	return enc, nil
}
