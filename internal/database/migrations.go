package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillNoteMode   = "2025-01-14_backfill_note_mode"
	migrationClampStoredOpacity = "2025-02-02_clamp_stored_opacity"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillNoteMode, apply: backfillNoteMode},
		{name: migrationClampStoredOpacity, apply: clampStoredOpacity},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillNoteMode repairs rows written before the mode column existed.
func backfillNoteMode(db *gorm.DB) error {
	return db.Model(&notes.Note{}).
		Where("mode IS NULL OR mode NOT IN ?", []string{string(notes.ModeText), string(notes.ModeTodo)}).
		Update("mode", string(notes.ModeText)).Error
}

// clampStoredOpacity brings rows written by direct store callers back into range.
func clampStoredOpacity(db *gorm.DB) error {
	if err := db.Model(&notes.Note{}).
		Where("opacity < ?", notes.MinOpacity).
		Update("opacity", notes.MinOpacity).Error; err != nil {
		return err
	}
	return db.Model(&notes.Note{}).
		Where("opacity > ?", notes.MaxOpacity).
		Update("opacity", notes.MaxOpacity).Error
}
