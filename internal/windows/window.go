// Package windows defines the contract between the note core and the desktop
// windowing toolkit, and keeps the table of live note windows.
package windows

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/notes"
)

const (
	// LabelPrefix marks windows that materialize a note.
	LabelPrefix = "note-"
	// Title is the native title given to every note window.
	Title = "HoverThought HUD"
	// EventOpacityUpdated notifies a note window that its opacity changed in bulk.
	EventOpacityUpdated = "opacity-updated"
)

var (
	// ErrWindow marks a failure creating or manipulating a live window.
	ErrWindow = errors.New("windows: window operation failed")
	// ErrWindowExists indicates that a window with the requested label is already live.
	ErrWindowExists = errors.New("windows: window already exists")
	// ErrWindowClosed indicates an operation on a window that is no longer live.
	ErrWindowClosed = errors.New("windows: window closed")
)

// Error describes a failed window operation.
type Error struct {
	Label string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("window %s: %s: %v", e.Label, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches ErrWindow so callers can tell window failures from store failures.
func (e *Error) Is(target error) bool {
	return target == ErrWindow
}

// LabelForNote derives the window label of a note.
func LabelForNote(noteID string) string {
	return LabelPrefix + noteID
}

// NoteIDFromLabel extracts the note id from a note window label.
func NoteIDFromLabel(label string) (string, bool) {
	noteID, ok := strings.CutPrefix(label, LabelPrefix)
	if !ok || noteID == "" {
		return "", false
	}
	return noteID, true
}

// RouteForNote is the front-end route that renders a note.
func RouteForNote(noteID string) string {
	return "/#/note/" + noteID
}

// Spec describes a window to create.
type Spec struct {
	Label       string  `json:"label"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	MinWidth    int     `json:"min_width"`
	MinHeight   int     `json:"min_height"`
	Opacity     float64 `json:"opacity"`
	AlwaysOnTop bool    `json:"always_on_top"`
	Decorations bool    `json:"decorations"`
	Transparent bool    `json:"transparent"`
	Visible     bool    `json:"visible"`
	BridgeToken string  `json:"bridge_token"`
}

// State is the creation spec of a live window overlaid with its current native
// state, so a reconnecting shell can redraw what it missed.
type State struct {
	Spec
	Minimized bool `json:"minimized"`
}

// SpecForNote builds the creation spec of a note window from its persisted attributes.
// Note windows are undecorated, transparent, and always start visible.
func SpecForNote(note notes.Note) Spec {
	return Spec{
		Label:       LabelForNote(note.ID),
		Title:       Title,
		URL:         RouteForNote(note.ID),
		X:           note.PosX,
		Y:           note.PosY,
		Width:       note.Width,
		Height:      note.Height,
		MinWidth:    notes.MinWidth,
		MinHeight:   notes.MinHeight,
		Opacity:     notes.ClampOpacity(note.Opacity),
		AlwaysOnTop: note.AlwaysOnTop,
		Decorations: false,
		Transparent: true,
		Visible:     true,
	}
}

// Window is one live on-screen surface.
type Window interface {
	Label() string
	Show() error
	Hide() error
	Minimize() error
	Unminimize() error
	Close() error
	SetAlwaysOnTop(onTop bool) error
	Emit(event string, payload any) error
	IsVisible() bool
	IsMinimized() bool
}

// Manager enumerates and creates live windows.
type Manager interface {
	Window(label string) (Window, bool)
	Windows() []Window
	Create(spec Spec) (Window, error)
}

// Driver performs the native side of window operations. Implementations must not
// call back into the Registry synchronously.
type Driver interface {
	Create(spec Spec) error
	Show(label string) error
	Hide(label string) error
	Minimize(label string) error
	Unminimize(label string) error
	Close(label string) error
	SetAlwaysOnTop(label string, onTop bool) error
	Emit(label, event string, payload any) error
}

// Publisher fans window events out to front-end listeners.
type Publisher interface {
	Publish(label, event string, payload any)
}

// NoteWindows filters a window snapshot down to note windows.
func NoteWindows(manager Manager) []Window {
	all := manager.Windows()
	filtered := make([]Window, 0, len(all))
	for _, window := range all {
		if strings.HasPrefix(window.Label(), LabelPrefix) {
			filtered = append(filtered, window)
		}
	}
	return filtered
}
