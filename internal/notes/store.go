package notes

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opStoreNew        = "notes.store.new"
	opCreateNote      = "notes.store.create_note"
	opGetNote         = "notes.store.get_note"
	opGetAllNotes     = "notes.store.get_all_notes"
	opGetOpenNotes    = "notes.store.get_open_notes"
	opUpdateNote      = "notes.store.update_note"
	opSetOpen         = "notes.store.set_open"
	opDeleteNote      = "notes.store.delete_note"
	opGetSetting      = "notes.store.get_setting"
	opSetSetting      = "notes.store.set_setting"
	opGetSettings     = "notes.store.get_settings"
	queryNoteID       = "id = ?"
	orderCreatedAtAsc = "created_at ASC, id ASC"
)

var noOpLogger = zap.NewNop()

// StoreConfig describes the dependencies of the note store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store is the durable home of notes and settings. Every operation holds one mutex
// for its full duration, so writes against the single underlying connection never
// interleave.
type Store struct {
	mu         sync.Mutex
	closed     bool
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Close stops the store from accepting further operations. The database handle is
// owned by the caller and is not closed here.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Store) acquire(operation string) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, newStoreError(operation, "closed", ErrStoreClosed)
	}
	return s.mu.Unlock, nil
}

// CreateNote inserts a fresh open text note at the given position. Its opacity comes
// from the default_opacity setting, falling back to DefaultOpacity when the setting
// is missing or unparsable. Options seed fields in the same insert.
func (s *Store) CreateNote(ctx context.Context, posX, posY int, options ...CreateOption) (Note, error) {
	release, err := s.acquire(opCreateNote)
	if err != nil {
		return Note{}, err
	}
	defer release()

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateNote, "id_generation_failed", err)
		return Note{}, newStoreError(opCreateNote, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	note := Note{
		ID:          noteID,
		Mode:        ModeText,
		PosX:        posX,
		PosY:        posY,
		Width:       DefaultWidth,
		Height:      DefaultHeight,
		Opacity:     s.defaultOpacityLocked(ctx),
		IsOpen:      true,
		IsMinimized: false,
		AlwaysOnTop: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, option := range options {
		option(&note)
	}

	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreateNote, "insert_failed", err, zap.String("note_id", noteID))
		return Note{}, newStoreError(opCreateNote, "insert_failed", err)
	}

	return note, nil
}

// GetNote returns the note with the given id, or nil when no such note exists.
func (s *Store) GetNote(ctx context.Context, noteID string) (*Note, error) {
	release, err := s.acquire(opGetNote)
	if err != nil {
		return nil, err
	}
	defer release()

	var note Note
	err = s.db.WithContext(ctx).Where(queryNoteID, noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opGetNote, "query_failed", err, zap.String("note_id", noteID))
		return nil, newStoreError(opGetNote, "query_failed", err)
	}
	return &note, nil
}

// GetAllNotes returns every note ordered by creation time, oldest first.
func (s *Store) GetAllNotes(ctx context.Context) ([]Note, error) {
	release, err := s.acquire(opGetAllNotes)
	if err != nil {
		return nil, err
	}
	defer release()

	var notes []Note
	if err := s.db.WithContext(ctx).Order(orderCreatedAtAsc).Find(&notes).Error; err != nil {
		s.logError(opGetAllNotes, "query_failed", err)
		return nil, newStoreError(opGetAllNotes, "query_failed", err)
	}
	return notes, nil
}

// GetOpenNotes returns the notes marked open, oldest first.
func (s *Store) GetOpenNotes(ctx context.Context) ([]Note, error) {
	release, err := s.acquire(opGetOpenNotes)
	if err != nil {
		return nil, err
	}
	defer release()

	var notes []Note
	if err := s.db.WithContext(ctx).Where("is_open = ?", true).Order(orderCreatedAtAsc).Find(&notes).Error; err != nil {
		s.logError(opGetOpenNotes, "query_failed", err)
		return nil, newStoreError(opGetOpenNotes, "query_failed", err)
	}
	return notes, nil
}

// UpdateNote applies the present fields of update inside one transaction. Each field
// write refreshes updated_at; if any write fails the whole call is rolled back.
func (s *Store) UpdateNote(ctx context.Context, noteID string, update NoteUpdate) error {
	release, err := s.acquire(opUpdateNote)
	if err != nil {
		return err
	}
	defer release()

	now := s.clock().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Note
		err := tx.Select("id").Where(queryNoteID, noteID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewNotFoundError(opUpdateNote, noteID)
		}
		if err != nil {
			s.logError(opUpdateNote, "note_select_failed", err, zap.String("note_id", noteID))
			return newStoreError(opUpdateNote, "note_select_failed", err)
		}

		for _, write := range update.fieldWrites() {
			err := tx.Model(&Note{}).
				Where(queryNoteID, noteID).
				Updates(map[string]any{write.column: write.value, "updated_at": now}).Error
			if err != nil {
				s.logError(opUpdateNote, "field_write_failed", err,
					zap.String("note_id", noteID),
					zap.String("field", write.column),
					zap.String("fields", update.fieldNames()))
				return newStoreError(opUpdateNote, "field_write_failed", err)
			}
		}
		return nil
	})
}

// SetOpen marks whether a note should have a materialized window.
func (s *Store) SetOpen(ctx context.Context, noteID string, open bool) error {
	release, err := s.acquire(opSetOpen)
	if err != nil {
		return err
	}
	defer release()

	result := s.db.WithContext(ctx).Model(&Note{}).
		Where(queryNoteID, noteID).
		Updates(map[string]any{"is_open": open, "updated_at": s.clock().UTC()})
	if result.Error != nil {
		s.logError(opSetOpen, "update_failed", result.Error, zap.String("note_id", noteID))
		return newStoreError(opSetOpen, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return NewNotFoundError(opSetOpen, noteID)
	}
	return nil
}

// DeleteNote removes a note record permanently.
func (s *Store) DeleteNote(ctx context.Context, noteID string) error {
	release, err := s.acquire(opDeleteNote)
	if err != nil {
		return err
	}
	defer release()

	result := s.db.WithContext(ctx).Where(queryNoteID, noteID).Delete(&Note{})
	if result.Error != nil {
		s.logError(opDeleteNote, "delete_failed", result.Error, zap.String("note_id", noteID))
		return newStoreError(opDeleteNote, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return NewNotFoundError(opDeleteNote, noteID)
	}
	return nil
}

// GetSetting returns the raw value stored for key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	release, err := s.acquire(opGetSetting)
	if err != nil {
		return "", err
	}
	defer release()

	return s.getSettingLocked(ctx, key)
}

// SetSetting inserts or replaces the value stored for key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	release, err := s.acquire(opSetSetting)
	if err != nil {
		return err
	}
	defer release()

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&Setting{Key: key, Value: value}).Error
	if err != nil {
		s.logError(opSetSetting, "upsert_failed", err, zap.String("key", key))
		return newStoreError(opSetSetting, "upsert_failed", err)
	}
	return nil
}

// GetSettings returns the typed settings view, substituting defaults for missing or
// unparsable values.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	release, err := s.acquire(opGetSettings)
	if err != nil {
		return Settings{}, err
	}
	defer release()

	theme, err := s.getSettingLocked(ctx, SettingTheme)
	if err != nil {
		if !errors.Is(err, ErrSettingNotFound) {
			s.logger.Warn("theme setting unreadable", zap.Error(err))
		}
		theme = DefaultTheme
	}

	return Settings{
		Theme:          theme,
		DefaultOpacity: s.defaultOpacityLocked(ctx),
	}, nil
}

func (s *Store) getSettingLocked(ctx context.Context, key string) (string, error) {
	var setting Setting
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", newServiceError(opGetSetting, "not_found", ErrSettingNotFound, errors.New(key))
	}
	if err != nil {
		s.logError(opGetSetting, "query_failed", err, zap.String("key", key))
		return "", newStoreError(opGetSetting, "query_failed", err)
	}
	return setting.Value, nil
}

func (s *Store) defaultOpacityLocked(ctx context.Context) float64 {
	raw, err := s.getSettingLocked(ctx, SettingDefaultOpacity)
	if err != nil {
		return DefaultOpacity
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.logger.Warn("default opacity setting unparsable", zap.String("value", raw), zap.Error(err))
		return DefaultOpacity
	}
	return ClampOpacity(value)
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notes store error", attrs...)
}
