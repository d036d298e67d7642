package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"buildguard-desktop/internal/config"
	"buildguard-desktop/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultSQLitePath = "./buildguard.db"

var DB *gorm.DB

// Init opens the database named by cfg.DatabaseURL and runs auto-migration
func Init(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := openDialector(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	// Configure GORM logger
	gormLogger := logger.Default.LogMode(logger.Warn)
	if strings.EqualFold(cfg.LogLevel, "debug") {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	DB, err = gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	zap.S().Infof("Database connection pool configured: max_open=%d, max_idle=%d, max_lifetime=%v",
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)

	// Health check
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := AutoMigrate(DB); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	zap.S().Info("Database initialized successfully")
	return DB, nil
}

func openDialector(databaseURL string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dbPath := strings.TrimPrefix(databaseURL, "sqlite://")

		// The default path lives in the user config directory
		if dbPath == defaultSQLitePath {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get user config directory: %w", err)
			}

			appDir := filepath.Join(configDir, "buildguard")
			if err := os.MkdirAll(appDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create app directory: %w", err)
			}

			dbPath = filepath.Join(appDir, "buildguard.db")
			zap.S().Infof("Using database at: %s", dbPath)
		}
		return sqlite.Open(dbPath), nil

	case strings.HasPrefix(databaseURL, "postgresql://"), strings.HasPrefix(databaseURL, "postgres://"):
		return postgres.Open(databaseURL), nil
	}
	return nil, fmt.Errorf("unsupported database URL format: %s", databaseURL)
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ConnectionProfile{},
		&models.ExportRecord{},
		&models.ScheduledExport{},
	)
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// GetDB returns the database instance (helper for services)
func GetDB() *gorm.DB {
	return DB
}
