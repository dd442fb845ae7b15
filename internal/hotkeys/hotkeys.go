// Package hotkeys maps global key chords captured by the desktop shell to note
// actions.
package hotkeys

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/notes"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/visibility"
	"go.uber.org/zap"
)

// Action names what a chord triggers.
type Action string

const (
	ActionCreateNote       Action = "create-note"
	ActionToggleVisibility Action = "toggle-visibility"
)

var (
	// ErrUnboundChord indicates that no action is bound to the delivered chord.
	ErrUnboundChord = errors.New("hotkeys: chord is not bound")
	// ErrInvalidChord indicates a chord that cannot be parsed.
	ErrInvalidChord = errors.New("hotkeys: invalid chord")
)

var modifierOrder = map[string]int{"ctrl": 0, "alt": 1, "shift": 2, "super": 3}

var modifierAliases = map[string]string{
	"control":          "ctrl",
	"ctl":              "ctrl",
	"commandorcontrol": "ctrl",
	"cmdorctrl":        "ctrl",
	"option":           "alt",
	"cmd":              "super",
	"command":          "super",
	"meta":             "super",
	"win":              "super",
}

// Binding ties a chord to an action.
type Binding struct {
	Chord  string
	Action Action
}

// DefaultBindings returns the default global bindings.
func DefaultBindings() []Binding {
	return []Binding{
		{Chord: "ctrl+shift+n", Action: ActionCreateNote},
		{Chord: "ctrl+shift+h", Action: ActionToggleVisibility},
	}
}

// NormalizeChord lowercases a chord, resolves modifier aliases and sorts modifiers so
// "Shift+Ctrl+N" and "ctrl+shift+n" compare equal. A chord needs exactly one
// non-modifier key.
func NormalizeChord(raw string) (string, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(raw)), "+")
	modifiers := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	key := ""
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidChord, raw)
		}
		if alias, ok := modifierAliases[part]; ok {
			part = alias
		}
		if _, isModifier := modifierOrder[part]; isModifier {
			if !seen[part] {
				seen[part] = true
				modifiers = append(modifiers, part)
			}
			continue
		}
		if key != "" {
			return "", fmt.Errorf("%w: %q has more than one key", ErrInvalidChord, raw)
		}
		key = part
	}
	if key == "" {
		return "", fmt.Errorf("%w: %q has no key", ErrInvalidChord, raw)
	}
	sort.Slice(modifiers, func(i, j int) bool {
		return modifierOrder[modifiers[i]] < modifierOrder[modifiers[j]]
	})
	return strings.Join(append(modifiers, key), "+"), nil
}

// NoteCreator creates a note with its window at the default position.
type NoteCreator interface {
	CreateNote(ctx context.Context, posX, posY *int) (notes.Note, error)
}

// VisibilityToggler flips the show/hide-all state.
type VisibilityToggler interface {
	Toggle() visibility.State
}

// RouterConfig describes the collaborators of a Router.
type RouterConfig struct {
	Creator    NoteCreator
	Visibility VisibilityToggler
	Logger     *zap.Logger
}

// Router resolves delivered chords to actions and runs their handlers.
type Router struct {
	mu         sync.RWMutex
	bindings   map[string]Action
	creator    NoteCreator
	visibility VisibilityToggler
	logger     *zap.Logger
}

// NewRouter constructs a Router with the given bindings.
func NewRouter(cfg RouterConfig, bindings []Binding) (*Router, error) {
	if cfg.Creator == nil {
		return nil, errors.New("hotkeys: note creator is required")
	}
	if cfg.Visibility == nil {
		return nil, errors.New("hotkeys: visibility toggler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := &Router{
		creator:    cfg.Creator,
		visibility: cfg.Visibility,
		logger:     logger,
	}
	if err := router.Rebind(bindings); err != nil {
		return nil, err
	}
	return router, nil
}

// Rebind atomically replaces the bindings. On error the previous bindings stay.
func (r *Router) Rebind(bindings []Binding) error {
	next := make(map[string]Action, len(bindings))
	for _, binding := range bindings {
		chord, err := NormalizeChord(binding.Chord)
		if err != nil {
			return err
		}
		if existing, ok := next[chord]; ok && existing != binding.Action {
			return fmt.Errorf("%w: %q bound to both %s and %s", ErrInvalidChord, chord, existing, binding.Action)
		}
		next[chord] = binding.Action
	}
	r.mu.Lock()
	r.bindings = next
	r.mu.Unlock()
	r.logger.Info("hotkeys bound", zap.Int("bindings", len(next)))
	return nil
}

// Bindings returns the normalized chord table.
func (r *Router) Bindings() map[string]Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]Action, len(r.bindings))
	for chord, action := range r.bindings {
		snapshot[chord] = action
	}
	return snapshot
}

// Dispatch runs the action bound to chord. Handler failures are logged and do not
// surface to the caller; only unknown or malformed chords return an error.
func (r *Router) Dispatch(ctx context.Context, chord string) (Action, error) {
	normalized, err := NormalizeChord(chord)
	if err != nil {
		return "", err
	}
	r.mu.RLock()
	action, ok := r.bindings[normalized]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnboundChord, normalized)
	}

	switch action {
	case ActionCreateNote:
		note, err := r.creator.CreateNote(ctx, nil, nil)
		if err != nil {
			r.logger.Error("hotkey handler failed",
				zap.String("action", string(action)),
				zap.Error(err))
			break
		}
		r.logger.Debug("note created from hotkey", zap.String("note_id", note.ID))
	case ActionToggleVisibility:
		state := r.visibility.Toggle()
		r.logger.Debug("note visibility toggled", zap.String("state", string(state)))
	}
	return action, nil
}

// ConfiguredBindings builds the binding table from configured chords.
func ConfiguredBindings(createNote, toggleVisibility string) []Binding {
	return []Binding{
		{Chord: createNote, Action: ActionCreateNote},
		{Chord: toggleVisibility, Action: ActionToggleVisibility},
	}
}
