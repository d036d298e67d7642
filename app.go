package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"buildguard-desktop/internal/bootstrap"
	"buildguard-desktop/internal/config"
	"buildguard-desktop/internal/events"
	"buildguard-desktop/internal/export"
	"buildguard-desktop/internal/logging"
	"buildguard-desktop/internal/models"
	"buildguard-desktop/internal/services/catalog"
	"buildguard-desktop/internal/services/exports"
	"buildguard-desktop/internal/services/live"
	"buildguard-desktop/internal/services/notifications"
	"buildguard-desktop/internal/services/profiles"
	"buildguard-desktop/internal/services/scheduler"
	"buildguard-desktop/internal/services/settings"
)

// App struct - main application state
type App struct {
	ctx      context.Context
	services *bootstrap.Services
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{}
}

// startup is called when the app starts. The context is saved
// so we can call the runtime methods
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if _, err := logging.Init(cfg.LogLevel, false); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	zap.S().Info("Application starting up...")

	services, err := bootstrap.Open(ctx, cfg, events.NewWailsEmitter(ctx))
	if err != nil {
		zap.S().Fatalf("FATAL: %v", err)
	}
	a.services = services

	if err := services.Scheduler.Start(); err != nil {
		zap.S().Warnf("Failed to start scheduler: %v", err)
	} else {
		zap.S().Info("Scheduler service initialized and started")
	}

	zap.S().Info("Startup complete")
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	zap.S().Info("Application shutting down...")

	if a.services != nil {
		if err := a.services.Close(); err != nil {
			zap.S().Warnf("Error during shutdown: %v", err)
		}
	}

	zap.S().Info("Shutdown complete")
	_ = zap.L().Sync()
}

// ====================================================================================
// WAILS-BOUND METHODS - Exposed to Frontend
// ====================================================================================

// Profile Management Methods

// ListProfiles returns all connection profiles
func (a *App) ListProfiles() ([]models.ConnectionProfile, error) {
	return a.services.Profiles.List()
}

// GetProfile retrieves a specific connection profile by ID
func (a *App) GetProfile(profileID string) (*models.ConnectionProfile, error) {
	return a.services.Profiles.Get(profileID)
}

// CreateProfile creates a new connection profile
// NOTE: Frontend should call TestConnection() before calling this method
func (a *App) CreateProfile(req profiles.ProfileRequest) (*models.ConnectionProfile, error) {
	return a.services.Profiles.Create(req)
}

// UpdateProfile updates an existing connection profile. An empty token keeps the stored one.
func (a *App) UpdateProfile(profileID string, req profiles.ProfileRequest) error {
	return a.services.Profiles.Update(profileID, req)
}

// DeleteProfile deletes a connection profile
func (a *App) DeleteProfile(profileID string) error {
	return a.services.Profiles.Delete(profileID)
}

// TestConnection checks a base URL and token against the backend
func (a *App) TestConnection(req profiles.TestConnectionRequest) profiles.TestConnectionResponse {
	return a.services.Profiles.TestConnection(a.ctx, req)
}

// ====================================================================================
// EXPORT OPERATIONS
// ====================================================================================

// OpenExport opens an export session and returns its id. State changes are
// emitted as "export:{id}".
func (a *App) OpenExport(req exports.OpenRequest) (string, error) {
	return a.services.Exports.OpenExport(req)
}

// SetExportFormat changes the format of an idle or finished session
func (a *App) SetExportFormat(sessionID, format string) (export.State, error) {
	return a.services.Exports.SetFormat(sessionID, format)
}

// StartExport begins the export
func (a *App) StartExport(sessionID string) (export.State, error) {
	return a.services.Exports.StartExport(sessionID)
}

// RetryExport restarts a failed export
func (a *App) RetryExport(sessionID string) (export.State, error) {
	return a.services.Exports.RetryExport(sessionID)
}

// DownloadExport saves a completed async export
func (a *App) DownloadExport(sessionID string) (export.State, error) {
	return a.services.Exports.DownloadExport(sessionID)
}

// GetExportState returns the current session state
func (a *App) GetExportState(sessionID string) (export.State, error) {
	return a.services.Exports.GetExportState(sessionID)
}

// CloseExport discards a session
func (a *App) CloseExport(sessionID string) error {
	return a.services.Exports.CloseExport(sessionID)
}

// ListExportHistory returns recent export runs
func (a *App) ListExportHistory(limit int) ([]exports.HistoryEntry, error) {
	return a.services.Exports.ListExportHistory(limit)
}

// ExportHistory renders recent export runs as csv or json
func (a *App) ExportHistory(format string, limit int) (string, error) {
	return a.services.Exports.ExportHistory(format, limit)
}

// ====================================================================================
// CATALOG OPERATIONS
// ====================================================================================

// ListDatasets lists datasets, optionally filtered by search
func (a *App) ListDatasets(profileID, search string) ([]catalog.Dataset, error) {
	return a.services.Catalog.ListDatasets(profileID, search)
}

// GetDataset retrieves one dataset
func (a *App) GetDataset(profileID, datasetID string) (*catalog.Dataset, error) {
	return a.services.Catalog.GetDataset(profileID, datasetID)
}

// ListDatasetVersions lists the versions of a dataset
func (a *App) ListDatasetVersions(profileID, datasetID string) ([]catalog.DatasetVersion, error) {
	return a.services.Catalog.ListDatasetVersions(profileID, datasetID)
}

// ListRepositories lists ingested repositories
func (a *App) ListRepositories(profileID string) ([]catalog.Repository, error) {
	return a.services.Catalog.ListRepositories(profileID)
}

// ListBuilds lists one page of a repository's builds
func (a *App) ListBuilds(profileID, repositoryID string, query catalog.BuildQuery) (*catalog.BuildPage, error) {
	return a.services.Catalog.ListBuilds(profileID, repositoryID, query)
}

// GetBuild retrieves one build
func (a *App) GetBuild(profileID, buildID string) (*catalog.Build, error) {
	return a.services.Catalog.GetBuild(profileID, buildID)
}

// ListScenarios lists training scenarios
func (a *App) ListScenarios(profileID string) ([]catalog.Scenario, error) {
	return a.services.Catalog.ListScenarios(profileID)
}

// GetScenario retrieves one scenario
func (a *App) GetScenario(profileID, scenarioID string) (*catalog.Scenario, error) {
	return a.services.Catalog.GetScenario(profileID, scenarioID)
}

// GetQualityReport retrieves a repository's scan summary
func (a *App) GetQualityReport(profileID, repositoryID string) (*catalog.QualityReport, error) {
	return a.services.Catalog.GetQualityReport(profileID, repositoryID)
}

// GetFeatureDAG retrieves a dataset's feature graph with render layers
func (a *App) GetFeatureDAG(profileID, datasetID string) (*catalog.DAGView, error) {
	return a.services.Catalog.GetFeatureDAG(profileID, datasetID)
}

// GetDatasetOverview loads a dataset with its versions and feature graph
func (a *App) GetDatasetOverview(profileID, datasetID string) (*catalog.DatasetOverview, error) {
	return a.services.Catalog.GetDatasetOverview(profileID, datasetID)
}

// RefreshCatalog drops cached reads of a profile
func (a *App) RefreshCatalog(profileID string) error {
	return a.services.Catalog.Refresh(profileID)
}

// ====================================================================================
// SETTINGS AND NOTIFICATIONS
// ====================================================================================

// GetSettings returns the admin settings record
func (a *App) GetSettings(profileID string) (*settings.Settings, error) {
	return a.services.Settings.GetSettings(profileID)
}

// UpdateSettings replaces the admin settings record
func (a *App) UpdateSettings(profileID string, update settings.Settings) (*settings.Settings, error) {
	return a.services.Settings.UpdateSettings(profileID, update)
}

// GetNotificationPreferences returns channels for every event type
func (a *App) GetNotificationPreferences(profileID string) (notifications.Preferences, error) {
	return a.services.Notifications.GetPreferences(profileID)
}

// UpdateNotificationPreferences stores channels for every event type
func (a *App) UpdateNotificationPreferences(profileID string, prefs notifications.Preferences) (notifications.Preferences, error) {
	return a.services.Notifications.UpdatePreferences(profileID, prefs)
}

// SetNotificationChannel toggles one channel of one event type
func (a *App) SetNotificationChannel(profileID string, event notifications.EventType, channel notifications.Channel, enabled bool) (notifications.Preferences, error) {
	return a.services.Notifications.SetChannel(profileID, event, channel, enabled)
}

// ====================================================================================
// LIVE PROGRESS
// ====================================================================================

// Watch subscribes to a backend event stream. Updates are emitted as "live:{id}".
func (a *App) Watch(profileID, path string) (string, error) {
	return a.services.Live.Watch(profileID, path)
}

// Unwatch closes a stream subscription
func (a *App) Unwatch(watchID string) error {
	return a.services.Live.Unwatch(watchID)
}

// ListWatches returns open stream subscriptions
func (a *App) ListWatches() []live.WatchInfo {
	return a.services.Live.ListWatches()
}

// ====================================================================================
// SCHEDULER SERVICE OPERATIONS
// ====================================================================================

// ListScheduledJobs retrieves all scheduled exports
func (a *App) ListScheduledJobs() ([]scheduler.JobListResponse, error) {
	return a.services.Scheduler.ListJobs()
}

// UpsertScheduledJob creates or updates a scheduled export
func (a *App) UpsertScheduledJob(req scheduler.UpsertJobRequest) (string, error) {
	return a.services.Scheduler.UpsertJob(req)
}

// DeleteScheduledJob removes a scheduled export
func (a *App) DeleteScheduledJob(jobID string) error {
	return a.services.Scheduler.DeleteJob(jobID)
}

// RunScheduledJob runs a scheduled export now
func (a *App) RunScheduledJob(jobID string) error {
	return a.services.Scheduler.RunNow(jobID)
}
