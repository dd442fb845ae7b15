package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/notes"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OpenSQLite establishes the SQLite connection backing the note store, creating the
// parent directory when needed, and brings the schema up to date.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	// AutoMigrate only adds missing tables and columns, so store files written by
	// older versions reopen with their data intact.
	if err := db.AutoMigrate(&notes.Note{}, &notes.Setting{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := seedDefaultSettings(db); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

func seedDefaultSettings(db *gorm.DB) error {
	defaults := []notes.Setting{
		{Key: notes.SettingTheme, Value: notes.DefaultTheme},
		{Key: notes.SettingDefaultOpacity, Value: "0.95"},
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&defaults).Error
}
