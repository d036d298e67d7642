package database

import (
	"path/filepath"
	"testing"

	"buildguard-desktop/internal/config"
	"buildguard-desktop/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Run("Should open sqlite file and migrate", func(t *testing.T) {
		cfg := config.Default()
		cfg.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "test.db")

		db, err := Init(cfg)
		require.NoError(t, err)
		defer Close()

		assert.True(t, db.Migrator().HasTable(&models.ConnectionProfile{}))
		assert.True(t, db.Migrator().HasTable(&models.ExportRecord{}))
		assert.True(t, db.Migrator().HasTable(&models.ScheduledExport{}))
		assert.Same(t, db, GetDB())

		profile := models.ConnectionProfile{Name: "staging", BaseURL: "http://localhost:8000"}
		require.NoError(t, db.Create(&profile).Error)
		assert.NotEmpty(t, profile.ID, "BeforeCreate assigns an id")
	})

	t.Run("Should reject unknown scheme", func(t *testing.T) {
		cfg := config.Default()
		cfg.DatabaseURL = "mysql://localhost/buildguard"

		_, err := Init(cfg)
		assert.ErrorContains(t, err, "unsupported database URL format")
	})
}
