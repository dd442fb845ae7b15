// Package commands is the validated boundary the front-end calls into. Each
// operation persists through the store first and then reconciles live windows.
package commands

import (
	"context"
	"errors"
	"strconv"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/notes"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/reconcile"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/validation"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/windows"
	"go.uber.org/zap"
)

const (
	DefaultPosX = 100
	DefaultPosY = 100
)

var (
	errMissingStore      = errors.New("commands: store is required")
	errMissingReconciler = errors.New("commands: reconciler is required")
	errMissingWindows    = errors.New("commands: window manager is required")
)

// Store is the persistence surface the command layer depends on.
type Store interface {
	reconcile.NoteStore
	GetSettings(ctx context.Context) (notes.Settings, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Config describes the dependencies of a Service.
type Config struct {
	Store      Store
	Reconciler *reconcile.Reconciler
	Windows    windows.Manager
	Validator  *validation.Validator
	Logger     *zap.Logger
}

// Service implements the boundary operations.
type Service struct {
	store      Store
	reconciler *reconcile.Reconciler
	windows    windows.Manager
	validator  *validation.Validator
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Reconciler == nil {
		return nil, errMissingReconciler
	}
	if cfg.Windows == nil {
		return nil, errMissingWindows
	}
	validator := cfg.Validator
	if validator == nil {
		validator = validation.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      cfg.Store,
		reconciler: cfg.Reconciler,
		windows:    cfg.Windows,
		validator:  validator,
		logger:     logger,
	}, nil
}

// UpdateNoteRequest carries a partial note update; nil fields are left untouched.
type UpdateNoteRequest struct {
	Title       *string  `json:"title"`
	Content     *string  `json:"content"`
	Mode        *string  `json:"mode" validate:"omitnil,oneof=text todo"`
	PosX        *int     `json:"pos_x"`
	PosY        *int     `json:"pos_y"`
	Width       *int     `json:"width"`
	Height      *int     `json:"height"`
	Opacity     *float64 `json:"opacity"`
	AlwaysOnTop *bool    `json:"always_on_top"`
}

type setThemeRequest struct {
	Theme string `json:"theme" validate:"required,max=64"`
}

// CreateNote persists a new note at the given position (default 100,100) and opens
// its window. If the window cannot be created the note stays persisted and is
// restored on the next start.
func (s *Service) CreateNote(ctx context.Context, posX, posY *int) (notes.Note, error) {
	x, y := DefaultPosX, DefaultPosY
	if posX != nil {
		x = *posX
	}
	if posY != nil {
		y = *posY
	}

	note, err := s.store.CreateNote(ctx, x, y)
	if err != nil {
		return notes.Note{}, err
	}
	if err := s.reconciler.EnsureWindowFor(note); err != nil {
		s.logger.Warn("note persisted without a window",
			zap.String("note_id", note.ID),
			zap.Error(err))
		return notes.Note{}, err
	}
	return note, nil
}

// GetNote returns the note or nil when it does not exist.
func (s *Service) GetNote(ctx context.Context, noteID string) (*notes.Note, error) {
	return s.store.GetNote(ctx, noteID)
}

// GetAllNotes returns every note, oldest first.
func (s *Service) GetAllNotes(ctx context.Context) ([]notes.Note, error) {
	return s.store.GetAllNotes(ctx)
}

// UpdateNote validates the mode, clamps opacity and size, and persists the fields
// present in the request.
func (s *Service) UpdateNote(ctx context.Context, noteID string, request UpdateNoteRequest) error {
	if err := s.validator.Validate(request); err != nil {
		return err
	}

	update := notes.NoteUpdate{
		Title:       request.Title,
		Content:     request.Content,
		PosX:        request.PosX,
		PosY:        request.PosY,
		AlwaysOnTop: request.AlwaysOnTop,
	}
	if request.Mode != nil {
		mode, err := notes.ParseMode(*request.Mode)
		if err != nil {
			return err
		}
		update.Mode = &mode
	}
	if request.Width != nil {
		width := notes.ClampWidth(*request.Width)
		update.Width = &width
	}
	if request.Height != nil {
		height := notes.ClampHeight(*request.Height)
		update.Height = &height
	}
	if request.Opacity != nil {
		opacity := notes.ClampOpacity(*request.Opacity)
		update.Opacity = &opacity
	}

	return s.store.UpdateNote(ctx, noteID, update)
}

// CloseNote marks the note closed and closes its window. Closing a closed or unknown
// note is not an error.
func (s *Service) CloseNote(ctx context.Context, noteID string) error {
	return s.reconciler.CloseWindowFor(ctx, noteID)
}

// DeleteNote removes the note record and closes its window.
func (s *Service) DeleteNote(ctx context.Context, noteID string) error {
	return s.reconciler.DeleteWindowFor(ctx, noteID)
}

// OpenNote marks the note open and materializes its window.
func (s *Service) OpenNote(ctx context.Context, noteID string) (notes.Note, error) {
	return s.reconciler.OpenWindowFor(ctx, noteID)
}

// SetOpacity persists the opacity of the note shown in the invoking window.
func (s *Service) SetOpacity(ctx context.Context, windowLabel string, opacity float64) error {
	noteID, err := noteIDForWindow(windowLabel)
	if err != nil {
		return err
	}
	clamped := notes.ClampOpacity(opacity)
	return s.store.UpdateNote(ctx, noteID, notes.NoteUpdate{Opacity: &clamped})
}

// SetAlwaysOnTop applies always-on-top to the invoking window and then persists it.
func (s *Service) SetAlwaysOnTop(ctx context.Context, windowLabel string, onTop bool) error {
	noteID, err := noteIDForWindow(windowLabel)
	if err != nil {
		return err
	}
	if window, ok := s.windows.Window(windowLabel); ok {
		if err := window.SetAlwaysOnTop(onTop); err != nil {
			return err
		}
	}
	return s.store.UpdateNote(ctx, noteID, notes.NoteUpdate{AlwaysOnTop: &onTop})
}

// GetSettings returns the settings bag with defaults applied.
func (s *Service) GetSettings(ctx context.Context) (notes.Settings, error) {
	return s.store.GetSettings(ctx)
}

// SetTheme stores the UI theme name.
func (s *Service) SetTheme(ctx context.Context, theme string) error {
	if err := s.validator.Validate(setThemeRequest{Theme: theme}); err != nil {
		return err
	}
	return s.store.SetSetting(ctx, notes.SettingTheme, theme)
}

// SetDefaultOpacity stores the clamped opacity used for newly created notes.
func (s *Service) SetDefaultOpacity(ctx context.Context, opacity float64) error {
	clamped := notes.ClampOpacity(opacity)
	return s.store.SetSetting(ctx, notes.SettingDefaultOpacity, strconv.FormatFloat(clamped, 'f', -1, 64))
}

// MinimizeAll minimizes every live note window. Per-window failures are logged.
func (s *Service) MinimizeAll(_ context.Context) error {
	for _, window := range windows.NoteWindows(s.windows) {
		if err := window.Minimize(); err != nil {
			s.logWindowFailure("minimize_all", window.Label(), err)
		}
	}
	return nil
}

// ShowAll restores and shows every live note window. Per-window failures are logged.
func (s *Service) ShowAll(_ context.Context) error {
	for _, window := range windows.NoteWindows(s.windows) {
		if err := window.Unminimize(); err != nil {
			s.logWindowFailure("show_all", window.Label(), err)
		}
		if err := window.Show(); err != nil {
			s.logWindowFailure("show_all", window.Label(), err)
		}
	}
	return nil
}

// SetAllOpacity persists the clamped opacity on every note and notifies each live
// window. Store failures abort; notification failures are logged.
func (s *Service) SetAllOpacity(ctx context.Context, opacity float64) error {
	clamped := notes.ClampOpacity(opacity)
	allNotes, err := s.store.GetAllNotes(ctx)
	if err != nil {
		return err
	}
	for _, note := range allNotes {
		if err := s.store.UpdateNote(ctx, note.ID, notes.NoteUpdate{Opacity: &clamped}); err != nil {
			return err
		}
		label := windows.LabelForNote(note.ID)
		window, ok := s.windows.Window(label)
		if !ok {
			continue
		}
		if err := window.Emit(windows.EventOpacityUpdated, clamped); err != nil {
			s.logWindowFailure("set_all_opacity", label, err)
		}
	}
	return nil
}

func (s *Service) logWindowFailure(operation, label string, err error) {
	s.logger.Warn("window operation failed",
		zap.String("operation", operation),
		zap.String("window_label", label),
		zap.Error(err))
}

func noteIDForWindow(label string) (string, error) {
	noteID, ok := windows.NoteIDFromLabel(label)
	if !ok {
		return "", notes.NewValidationError("window", label, "invoking window is not a note window: "+strconv.Quote(label))
	}
	return noteID, nil
}
