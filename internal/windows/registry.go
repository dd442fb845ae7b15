package windows

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// RegistryConfig describes the collaborators of a Registry.
type RegistryConfig struct {
	Driver    Driver
	Publisher Publisher
	Logger    *zap.Logger
}

// Registry is the process-wide table of live windows. A nil Driver runs it headless:
// windows are tracked and events are published, but nothing is drawn.
type Registry struct {
	mu        sync.RWMutex
	windows   map[string]*liveWindow
	driver    Driver
	publisher Publisher
	logger    *zap.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		windows:   make(map[string]*liveWindow),
		driver:    cfg.Driver,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}

// Window returns the live window with the given label.
func (r *Registry) Window(label string) (Window, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	window, ok := r.windows[label]
	if !ok {
		return nil, false
	}
	return window, true
}

// Windows returns a snapshot of the live windows sorted by label.
func (r *Registry) Windows() []Window {
	r.mu.RLock()
	snapshot := make([]*liveWindow, 0, len(r.windows))
	for _, window := range r.windows {
		snapshot = append(snapshot, window)
	}
	r.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].label < snapshot[j].label
	})
	windows := make([]Window, 0, len(snapshot))
	for _, window := range snapshot {
		windows = append(windows, window)
	}
	return windows
}

// Create materializes a window. Creation for a label is exactly-once: a second
// Create for a live label fails with ErrWindowExists.
func (r *Registry) Create(spec Spec) (Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.windows[spec.Label]; exists {
		return nil, &Error{Label: spec.Label, Op: "create", Err: ErrWindowExists}
	}
	if r.driver != nil {
		if err := r.driver.Create(spec); err != nil {
			return nil, &Error{Label: spec.Label, Op: "create", Err: err}
		}
	}

	window := &liveWindow{
		registry:    r,
		label:       spec.Label,
		spec:        spec,
		visible:     spec.Visible,
		alwaysOnTop: spec.AlwaysOnTop,
	}
	r.windows[spec.Label] = window
	r.logger.Debug("window created", zap.String("window_label", spec.Label))
	return window, nil
}

// Forget drops a window that the toolkit destroyed on its own.
func (r *Registry) Forget(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if window, ok := r.windows[label]; ok {
		window.markClosed()
		delete(r.windows, label)
	}
}

// State returns the current state of a live window.
func (r *Registry) State(label string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	window, ok := r.windows[label]
	if !ok {
		return State{}, false
	}
	return window.state(), true
}

type liveWindow struct {
	registry *Registry
	label    string
	spec     Spec

	mu          sync.Mutex
	visible     bool
	minimized   bool
	alwaysOnTop bool
	closed      bool
}

func (w *liveWindow) Label() string {
	return w.label
}

func (w *liveWindow) Show() error {
	return w.apply("show", func(driver Driver) error { return driver.Show(w.label) }, func() {
		w.visible = true
	})
}

func (w *liveWindow) Hide() error {
	return w.apply("hide", func(driver Driver) error { return driver.Hide(w.label) }, func() {
		w.visible = false
	})
}

func (w *liveWindow) Minimize() error {
	return w.apply("minimize", func(driver Driver) error { return driver.Minimize(w.label) }, func() {
		w.minimized = true
	})
}

func (w *liveWindow) Unminimize() error {
	return w.apply("unminimize", func(driver Driver) error { return driver.Unminimize(w.label) }, func() {
		w.minimized = false
	})
}

func (w *liveWindow) SetAlwaysOnTop(onTop bool) error {
	return w.apply("set_always_on_top", func(driver Driver) error { return driver.SetAlwaysOnTop(w.label, onTop) }, func() {
		w.alwaysOnTop = onTop
	})
}

// Close holds the registry lock across the native close so no lookup observes a
// closing window as live.
func (w *liveWindow) Close() error {
	registry := w.registry
	registry.mu.Lock()
	defer registry.mu.Unlock()

	err := w.apply("close", func(driver Driver) error { return driver.Close(w.label) }, func() {
		w.closed = true
		w.visible = false
	})
	if err != nil {
		return err
	}
	if registry.windows[w.label] == w {
		delete(registry.windows, w.label)
	}
	registry.logger.Debug("window closed", zap.String("window_label", w.label))
	return nil
}

func (w *liveWindow) Emit(event string, payload any) error {
	err := w.apply("emit", func(driver Driver) error { return driver.Emit(w.label, event, payload) }, func() {})
	if err != nil {
		return err
	}
	if w.registry.publisher != nil {
		w.registry.publisher.Publish(w.label, event, payload)
	}
	return nil
}

func (w *liveWindow) IsVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

func (w *liveWindow) IsMinimized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.minimized
}

func (w *liveWindow) state() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	spec := w.spec
	spec.Visible = w.visible
	spec.AlwaysOnTop = w.alwaysOnTop
	return State{Spec: spec, Minimized: w.minimized}
}

func (w *liveWindow) markClosed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.visible = false
}

func (w *liveWindow) apply(op string, native func(Driver) error, commit func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return &Error{Label: w.label, Op: op, Err: ErrWindowClosed}
	}
	if driver := w.registry.driver; driver != nil {
		if err := native(driver); err != nil {
			return &Error{Label: w.label, Op: op, Err: err}
		}
	}
	commit()
	return nil
}
