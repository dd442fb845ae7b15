// Package windowstest provides a scriptable windows.Driver for tests.
package windowstest

import (
	"sync"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/windows"
)

// Call records one native operation received by the Driver.
type Call struct {
	Op      string
	Label   string
	Event   string
	Payload any
}

// Driver records native calls and fails the operations it is told to fail.
type Driver struct {
	mu       sync.Mutex
	calls    []Call
	failures map[string]map[string]error
	holds    map[string]*hold
	created  map[string]windows.Spec
}

type hold struct {
	entered chan string
	gate    chan struct{}
}

// NewDriver constructs an empty recording Driver.
func NewDriver() *Driver {
	return &Driver{
		failures: make(map[string]map[string]error),
		holds:    make(map[string]*hold),
		created:  make(map[string]windows.Spec),
	}
}

// Fail makes every future op on label return err. An empty label matches all windows.
func (d *Driver) Fail(op, label string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures[op] == nil {
		d.failures[op] = make(map[string]error)
	}
	d.failures[op][label] = err
}

// Hold blocks every future op call until release runs. Each held call sends its
// label on entered before it blocks.
func (d *Driver) Hold(op string) (<-chan string, func()) {
	h := &hold{entered: make(chan string, 64), gate: make(chan struct{})}
	d.mu.Lock()
	d.holds[op] = h
	d.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			d.mu.Lock()
			if d.holds[op] == h {
				delete(d.holds, op)
			}
			d.mu.Unlock()
			close(h.gate)
		})
	}
	return h.entered, release
}

// Calls returns the recorded calls for op, or all calls when op is empty.
func (d *Driver) Calls(op string) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	calls := make([]Call, 0, len(d.calls))
	for _, call := range d.calls {
		if op == "" || call.Op == op {
			calls = append(calls, call)
		}
	}
	return calls
}

// Created returns the spec a window was created with.
func (d *Driver) Created(label string) (windows.Spec, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	spec, ok := d.created[label]
	return spec, ok
}

func (d *Driver) Create(spec windows.Spec) error {
	if err := d.record(Call{Op: "create", Label: spec.Label}); err != nil {
		return err
	}
	d.mu.Lock()
	d.created[spec.Label] = spec
	d.mu.Unlock()
	return nil
}

func (d *Driver) Show(label string) error {
	return d.record(Call{Op: "show", Label: label})
}

func (d *Driver) Hide(label string) error {
	return d.record(Call{Op: "hide", Label: label})
}

func (d *Driver) Minimize(label string) error {
	return d.record(Call{Op: "minimize", Label: label})
}

func (d *Driver) Unminimize(label string) error {
	return d.record(Call{Op: "unminimize", Label: label})
}

func (d *Driver) Close(label string) error {
	return d.record(Call{Op: "close", Label: label})
}

func (d *Driver) SetAlwaysOnTop(label string, onTop bool) error {
	return d.record(Call{Op: "set_always_on_top", Label: label, Payload: onTop})
}

func (d *Driver) Emit(label, event string, payload any) error {
	return d.record(Call{Op: "emit", Label: label, Event: event, Payload: payload})
}

func (d *Driver) record(call Call) error {
	d.mu.Lock()
	h := d.holds[call.Op]
	d.mu.Unlock()
	if h != nil {
		h.entered <- call.Label
		<-h.gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if failures, ok := d.failures[call.Op]; ok {
		if err, ok := failures[call.Label]; ok {
			return err
		}
		if err, ok := failures[""]; ok {
			return err
		}
	}
	d.calls = append(d.calls, call)
	return nil
}
