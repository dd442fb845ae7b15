package server

import (
	"github.com/MarcoPoloResearchLab/hoverthought/internal/auth"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/windows"
)

// Shell-bound events that ask the desktop shell to perform native window work.
const (
	EventWindowCreate      = "window-create"
	EventWindowShow        = "window-show"
	EventWindowHide        = "window-hide"
	EventWindowMinimize    = "window-minimize"
	EventWindowUnminimize  = "window-unminimize"
	EventWindowClose       = "window-close"
	EventWindowAlwaysOnTop = "window-always-on-top"
)

// ShellDriver implements windows.Driver by streaming native window operations to the
// desktop shell's event stream. An operation the shell stream does not accept fails,
// so the Registry never records state the shell did not receive. Window-addressed
// emits are delivered by the Registry's publisher, so Emit is a no-op here.
type ShellDriver struct {
	events *EventDispatcher
}

// NewShellDriver returns a driver that publishes on the shell subject.
func NewShellDriver(events *EventDispatcher) *ShellDriver {
	return &ShellDriver{events: events}
}

type windowOp struct {
	Label       string `json:"label"`
	AlwaysOnTop *bool  `json:"always_on_top,omitempty"`
}

func (d *ShellDriver) Create(spec windows.Spec) error {
	return d.events.Deliver(auth.ShellSubject, EventWindowCreate, spec)
}

func (d *ShellDriver) Show(label string) error {
	return d.publish(EventWindowShow, windowOp{Label: label})
}

func (d *ShellDriver) Hide(label string) error {
	return d.publish(EventWindowHide, windowOp{Label: label})
}

func (d *ShellDriver) Minimize(label string) error {
	return d.publish(EventWindowMinimize, windowOp{Label: label})
}

func (d *ShellDriver) Unminimize(label string) error {
	return d.publish(EventWindowUnminimize, windowOp{Label: label})
}

func (d *ShellDriver) Close(label string) error {
	return d.publish(EventWindowClose, windowOp{Label: label})
}

func (d *ShellDriver) SetAlwaysOnTop(label string, onTop bool) error {
	return d.publish(EventWindowAlwaysOnTop, windowOp{Label: label, AlwaysOnTop: &onTop})
}

func (d *ShellDriver) Emit(string, string, any) error {
	return nil
}

func (d *ShellDriver) publish(event string, op windowOp) error {
	return d.events.Deliver(auth.ShellSubject, event, op)
}
