// Package visibility implements the process-wide show/hide toggle for note windows.
// The toggle never touches persisted state; it only sweeps the live window set.
package visibility

import (
	"sync/atomic"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/windows"
	"go.uber.org/zap"
)

// State is the current toggle position.
type State string

const (
	Visible State = "visible"
	Hidden  State = "hidden"
)

// Controller owns the notes-visible flag. Windows created while Hidden start
// visible; a toggle is a one-shot sweep over the windows live at that moment.
type Controller struct {
	hidden  atomic.Bool
	windows windows.Manager
	logger  *zap.Logger
}

// NewController returns a Controller in the Visible state.
func NewController(manager windows.Manager, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{windows: manager, logger: logger}
}

// State reports the current toggle position.
func (c *Controller) State() State {
	if c.hidden.Load() {
		return Hidden
	}
	return Visible
}

// Toggle flips the state and sweeps every live note window accordingly, returning the
// new state. Per-window failures are logged and skipped.
func (c *Controller) Toggle() State {
	for {
		wasHidden := c.hidden.Load()
		if c.hidden.CompareAndSwap(wasHidden, !wasHidden) {
			if wasHidden {
				c.showAll()
				return Visible
			}
			c.hideAll()
			return Hidden
		}
	}
}

func (c *Controller) hideAll() {
	for _, window := range windows.NoteWindows(c.windows) {
		if err := window.Hide(); err != nil {
			c.logger.Debug("failed to hide note window",
				zap.String("window_label", window.Label()),
				zap.Error(err))
		}
	}
}

func (c *Controller) showAll() {
	for _, window := range windows.NoteWindows(c.windows) {
		if err := window.Unminimize(); err != nil {
			c.logger.Debug("failed to unminimize note window",
				zap.String("window_label", window.Label()),
				zap.Error(err))
		}
		if err := window.Show(); err != nil {
			c.logger.Debug("failed to show note window",
				zap.String("window_label", window.Label()),
				zap.Error(err))
		}
	}
}
