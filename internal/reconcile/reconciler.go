// Package reconcile keeps the set of live note windows consistent with the
// persisted note records.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/notes"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/windows"
	"go.uber.org/zap"
)

const (
	WelcomeTitle   = "Welcome"
	WelcomeContent = "Welcome to HoverThought HUD!\n\nUse + to create notes\nUse the menu to see all notes"

	bootstrapPosX = 100
	bootstrapPosY = 100
)

// FallbackPolicy selects the note force-opened when no window survives startup.
type FallbackPolicy string

const (
	// FallbackOldest picks the first note in created_at ascending order.
	FallbackOldest FallbackPolicy = "oldest"
	// FallbackNewest picks the last note in created_at ascending order.
	FallbackNewest FallbackPolicy = "newest"
)

// InvariantAction reports what EnforceVisibleWindowInvariant had to do.
type InvariantAction string

const (
	InvariantSatisfied InvariantAction = "satisfied"
	InvariantBootstrap InvariantAction = "bootstrap"
	InvariantForceOpen InvariantAction = "force_open"
)

// InvariantOutcome describes the result of EnforceVisibleWindowInvariant.
type InvariantOutcome struct {
	Action InvariantAction
	NoteID string
}

// NoteStore is the persistence surface the Reconciler depends on.
type NoteStore interface {
	CreateNote(ctx context.Context, posX, posY int, options ...notes.CreateOption) (notes.Note, error)
	GetNote(ctx context.Context, noteID string) (*notes.Note, error)
	GetAllNotes(ctx context.Context) ([]notes.Note, error)
	GetOpenNotes(ctx context.Context) ([]notes.Note, error)
	UpdateNote(ctx context.Context, noteID string, update notes.NoteUpdate) error
	SetOpen(ctx context.Context, noteID string, open bool) error
	DeleteNote(ctx context.Context, noteID string) error
}

// TokenIssuer hands each new window the credential it uses to call the bridge.
type TokenIssuer interface {
	IssueWindowToken(label string) (string, error)
}

// Config describes the dependencies of a Reconciler.
type Config struct {
	Store    NoteStore
	Windows  windows.Manager
	Tokens   TokenIssuer
	Fallback FallbackPolicy
	Logger   *zap.Logger
}

// Reconciler maps note records to window lifecycle operations. It, not the store, is
// authoritative for whether a note currently has a live window. Lifecycle operations
// are serialized so the record and the window table change together.
type Reconciler struct {
	mu       sync.Mutex
	store    NoteStore
	windows  windows.Manager
	tokens   TokenIssuer
	fallback FallbackPolicy
	logger   *zap.Logger
}

// New validates the configuration and constructs a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, errors.New("reconcile: store is required")
	}
	if cfg.Windows == nil {
		return nil, errors.New("reconcile: window manager is required")
	}
	fallback := cfg.Fallback
	switch fallback {
	case "":
		fallback = FallbackOldest
	case FallbackOldest, FallbackNewest:
	default:
		return nil, fmt.Errorf("reconcile: unknown fallback policy %q", fallback)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:    cfg.Store,
		windows:  cfg.Windows,
		tokens:   cfg.Tokens,
		fallback: fallback,
		logger:   logger,
	}, nil
}

// EnsureWindowFor creates the note's window unless one is already live.
func (r *Reconciler) EnsureWindowFor(note notes.Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureWindow(note)
}

// OpenWindowFor marks the note open and materializes its window.
func (r *Reconciler) OpenWindowFor(ctx context.Context, noteID string) (notes.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SetOpen(ctx, noteID, true); err != nil {
		return notes.Note{}, err
	}
	note, err := r.store.GetNote(ctx, noteID)
	if err != nil {
		return notes.Note{}, err
	}
	if note == nil {
		return notes.Note{}, notes.NewNotFoundError("reconcile.open_window_for", noteID)
	}
	if err := r.ensureWindow(*note); err != nil {
		return notes.Note{}, err
	}
	return *note, nil
}

func (r *Reconciler) ensureWindow(note notes.Note) error {
	label := windows.LabelForNote(note.ID)
	if _, exists := r.windows.Window(label); exists {
		return nil
	}

	spec := windows.SpecForNote(note)
	if r.tokens != nil {
		token, err := r.tokens.IssueWindowToken(label)
		if err != nil {
			return &windows.Error{Label: label, Op: "issue_token", Err: err}
		}
		spec.BridgeToken = token
	}

	if _, err := r.windows.Create(spec); err != nil {
		if errors.Is(err, windows.ErrWindowExists) {
			return nil
		}
		return err
	}
	r.logger.Debug("note window created", zap.String("note_id", note.ID))
	return nil
}

// CloseWindowFor marks the note closed and then closes its window if one is live.
// The store write comes first so a failed window close still restores correctly.
func (r *Reconciler) CloseWindowFor(ctx context.Context, noteID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SetOpen(ctx, noteID, false); err != nil {
		if !errors.Is(err, notes.ErrNoteNotFound) {
			return err
		}
		r.logger.Debug("closing note without a record", zap.String("note_id", noteID))
	}
	return r.closeWindow(noteID)
}

// DeleteWindowFor deletes the note record and then closes its window if one is live.
func (r *Reconciler) DeleteWindowFor(ctx context.Context, noteID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.DeleteNote(ctx, noteID); err != nil {
		if !errors.Is(err, notes.ErrNoteNotFound) {
			return err
		}
		r.logger.Debug("deleting note without a record", zap.String("note_id", noteID))
	}
	return r.closeWindow(noteID)
}

// RestoreOnStartup creates one window per open note. A window failure for one note
// is logged and does not stop the others.
func (r *Reconciler) RestoreOnStartup(ctx context.Context) (int, error) {
	openNotes, err := r.store.GetOpenNotes(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, note := range openNotes {
		if err := r.EnsureWindowFor(note); err != nil {
			r.logger.Warn("failed to restore note window",
				zap.String("note_id", note.ID),
				zap.Error(err))
			continue
		}
		restored++
	}
	r.logger.Info("note windows restored",
		zap.Int("open_notes", len(openNotes)),
		zap.Int("restored", restored))
	return restored, nil
}

// EnforceVisibleWindowInvariant guarantees at least one note window after startup.
// With no notes at all it creates a welcome note; with notes but no live window it
// force-opens the note chosen by the fallback policy.
func (r *Reconciler) EnforceVisibleWindowInvariant(ctx context.Context) (InvariantOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	allNotes, err := r.store.GetAllNotes(ctx)
	if err != nil {
		return InvariantOutcome{}, err
	}

	if len(allNotes) == 0 {
		return r.bootstrapWelcomeNote(ctx)
	}

	if len(windows.NoteWindows(r.windows)) > 0 {
		return InvariantOutcome{Action: InvariantSatisfied}, nil
	}

	selected := allNotes[0]
	if r.fallback == FallbackNewest {
		selected = allNotes[len(allNotes)-1]
	}
	if err := r.store.SetOpen(ctx, selected.ID, true); err != nil {
		return InvariantOutcome{}, err
	}
	selected.IsOpen = true
	if err := r.ensureWindow(selected); err != nil {
		r.logger.Warn("failed to force-open fallback note window",
			zap.String("note_id", selected.ID),
			zap.Error(err))
	}
	r.logger.Info("fallback note opened",
		zap.String("note_id", selected.ID),
		zap.String("policy", string(r.fallback)))
	return InvariantOutcome{Action: InvariantForceOpen, NoteID: selected.ID}, nil
}

func (r *Reconciler) bootstrapWelcomeNote(ctx context.Context) (InvariantOutcome, error) {
	note, err := r.store.CreateNote(ctx, bootstrapPosX, bootstrapPosY,
		notes.WithTitle(WelcomeTitle),
		notes.WithContent(WelcomeContent))
	if err != nil {
		return InvariantOutcome{}, err
	}

	if err := r.ensureWindow(note); err != nil {
		r.logger.Warn("failed to open welcome note window",
			zap.String("note_id", note.ID),
			zap.Error(err))
	}
	r.logger.Info("welcome note created", zap.String("note_id", note.ID))
	return InvariantOutcome{Action: InvariantBootstrap, NoteID: note.ID}, nil
}

func (r *Reconciler) closeWindow(noteID string) error {
	window, ok := r.windows.Window(windows.LabelForNote(noteID))
	if !ok {
		return nil
	}
	if err := window.Close(); err != nil {
		if errors.Is(err, windows.ErrWindowClosed) {
			return nil
		}
		return err
	}
	return nil
}
