// Package bootstrap wires configuration, storage and services for both the
// desktop shell and the command line.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"buildguard-desktop/internal/api"
	"buildguard-desktop/internal/config"
	"buildguard-desktop/internal/crypto"
	"buildguard-desktop/internal/database"
	"buildguard-desktop/internal/events"
	"buildguard-desktop/internal/metrics"
	"buildguard-desktop/internal/services/catalog"
	"buildguard-desktop/internal/services/exports"
	"buildguard-desktop/internal/services/live"
	"buildguard-desktop/internal/services/notifications"
	"buildguard-desktop/internal/services/profiles"
	"buildguard-desktop/internal/services/scheduler"
	"buildguard-desktop/internal/services/settings"
	"buildguard-desktop/internal/storage"
)

// Services holds every initialized service
type Services struct {
	Config        *config.Config
	DB            *gorm.DB
	Profiles      *profiles.Service
	Exports       *exports.Service
	Scheduler     *scheduler.Service
	Catalog       *catalog.Service
	Settings      *settings.Service
	Notifications *notifications.Service
	Live          *live.Service
	Metrics       *metrics.Collector
}

// Open initializes encryption and the database, then builds the services.
// The scheduler is created but not started.
func Open(ctx context.Context, cfg *config.Config, emitter events.Emitter) (*Services, error) {
	// Profiles cannot be saved or read without encryption
	if err := crypto.Init(); err != nil {
		return nil, fmt.Errorf("encryption initialization failed: %w", err)
	}
	zap.S().Info("Encryption initialized successfully")

	db, err := database.Init(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	zap.S().Info("Database initialized successfully")

	s := &Services{Config: cfg, DB: db, Metrics: metrics.New()}

	s.Profiles = profiles.NewService(db,
		api.WithTimeout(cfg.HTTPTimeout),
		api.WithRateLimit(cfg.HTTPRateLimit, cfg.HTTPRateBurst),
	)

	exportOpts := exports.Options{
		AsyncThreshold: cfg.Export.AsyncThreshold,
		PollInterval:   cfg.Export.PollInterval,
		DownloadDir:    cfg.DownloadDir,
		Metrics:        s.Metrics,
	}
	if cfg.Storage.Enabled() {
		uploader, err := storage.NewUploader(cfg.Storage)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to initialize object storage: %w", err)
		}
		exportOpts.Uploader = uploader
		zap.S().Infof("Exports can be uploaded to bucket %s", cfg.Storage.Bucket)
	}
	s.Exports = exports.NewService(db, ctx, s.Profiles, emitter, exportOpts)

	s.Scheduler = scheduler.NewService(db, ctx, s.Exports)
	s.Scheduler.SetMetrics(s.Metrics)
	s.Catalog = catalog.NewService(ctx, s.Profiles)
	s.Settings = settings.NewService(ctx, s.Profiles)
	s.Notifications = notifications.NewService(ctx, s.Profiles)
	s.Live = live.NewService(ctx, s.Profiles, emitter, cfg.Stream.ReconnectDelay)
	s.Live.SetMetrics(s.Metrics)

	if cfg.MetricsAddr != "" {
		s.Metrics.StartServer(cfg.MetricsAddr)
	}

	zap.S().Info("Services initialized")
	return s, nil
}

// Close stops background work, the metrics server and the database. Every
// step runs; their errors are combined.
func (s *Services) Close() error {
	var result *multierror.Error

	if s.Live != nil {
		s.Live.UnwatchAll()
	}
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Exports != nil {
		s.Exports.CloseAll()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Metrics.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("metrics server: %w", err))
	}
	if err := database.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("database: %w", err))
	}

	return result.ErrorOrNil()
}
