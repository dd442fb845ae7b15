package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/notes"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/notes/notestest"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/windows"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/windows/windowstest"
	"gorm.io/gorm"
)

type staticTokens struct{}

func (staticTokens) IssueWindowToken(label string) (string, error) {
	return "token-for-" + label, nil
}

type testHarness struct {
	store      *notes.Store
	db         *gorm.DB
	driver     *windowstest.Driver
	registry   *windows.Registry
	reconciler *Reconciler
}

func newHarness(t *testing.T, fallback FallbackPolicy) *testHarness {
	t.Helper()
	store, db := notestest.NewStore(t)
	driver := windowstest.NewDriver()
	registry := windows.NewRegistry(windows.RegistryConfig{Driver: driver})
	reconciler, err := New(Config{
		Store:    store,
		Windows:  registry,
		Tokens:   staticTokens{},
		Fallback: fallback,
	})
	if err != nil {
		t.Fatalf("failed to construct reconciler: %v", err)
	}
	return &testHarness{store: store, db: db, driver: driver, registry: registry, reconciler: reconciler}
}

// restart simulates a process restart: the live window table is rebuilt from scratch
// against the same store.
func (h *testHarness) restart(t *testing.T) {
	t.Helper()
	h.driver = windowstest.NewDriver()
	h.registry = windows.NewRegistry(windows.RegistryConfig{Driver: h.driver})
	reconciler, err := New(Config{Store: h.store, Windows: h.registry, Fallback: h.reconciler.fallback})
	if err != nil {
		t.Fatalf("failed to construct reconciler: %v", err)
	}
	h.reconciler = reconciler
	if _, err := h.reconciler.RestoreOnStartup(context.Background()); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if _, err := h.reconciler.EnforceVisibleWindowInvariant(context.Background()); err != nil {
		t.Fatalf("invariant enforcement failed: %v", err)
	}
}

func (h *testHarness) hasWindow(noteID string) bool {
	_, ok := h.registry.Window(windows.LabelForNote(noteID))
	return ok
}

func TestNewRejectsUnknownFallback(t *testing.T) {
	store, _ := notestest.NewStore(t)
	_, err := New(Config{Store: store, Windows: windows.NewRegistry(windows.RegistryConfig{}), Fallback: "random"})
	if err == nil {
		t.Fatalf("expected error for unknown fallback policy")
	}
}

func TestEnsureWindowForIsIdempotent(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	note, err := h.store.CreateNote(context.Background(), 10, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for range 3 {
		if err := h.reconciler.EnsureWindowFor(note); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(h.driver.Calls("create")) != 1 {
		t.Fatalf("expected one native create, got %d", len(h.driver.Calls("create")))
	}
	spec, ok := h.driver.Created(windows.LabelForNote(note.ID))
	if !ok {
		t.Fatalf("expected spec to be recorded")
	}
	if spec.X != 10 || spec.Y != 20 || spec.Width != 300 || spec.Height != 200 || !spec.AlwaysOnTop || !spec.Visible {
		t.Fatalf("unexpected spec %#v", spec)
	}
	if spec.BridgeToken != "token-for-note-"+note.ID {
		t.Fatalf("expected bridge token to be attached, got %q", spec.BridgeToken)
	}
}

func TestCloseWindowForMarksClosedEvenWhenWindowCloseFails(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	ctx := context.Background()
	note, _ := h.store.CreateNote(ctx, 0, 0)
	if err := h.reconciler.EnsureWindowFor(note); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.driver.Fail("close", windows.LabelForNote(note.ID), errors.New("window manager busy"))
	err := h.reconciler.CloseWindowFor(ctx, note.ID)
	if !errors.Is(err, windows.ErrWindow) {
		t.Fatalf("expected window error, got %v", err)
	}

	stored, _ := h.store.GetNote(ctx, note.ID)
	if stored.IsOpen {
		t.Fatalf("expected note to be marked closed before the window close")
	}
}

func TestCloseWindowForToleratesMissingRecordAndWindow(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	if err := h.reconciler.CloseWindowFor(context.Background(), "missing"); err != nil {
		t.Fatalf("expected closing a missing note to succeed, got %v", err)
	}
}

func TestDeleteWindowForRemovesRecordAndWindow(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	ctx := context.Background()
	note, _ := h.store.CreateNote(ctx, 0, 0)
	_ = h.reconciler.EnsureWindowFor(note)

	if err := h.reconciler.DeleteWindowFor(ctx, note.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.hasWindow(note.ID) {
		t.Fatalf("expected window to be closed")
	}
	stored, _ := h.store.GetNote(ctx, note.ID)
	if stored != nil {
		t.Fatalf("expected record to be deleted")
	}
}

func TestOpenWindowForReportsMissingNote(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	if _, err := h.reconciler.OpenWindowFor(context.Background(), "missing"); !errors.Is(err, notes.ErrNoteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOpenWaitsForCloseInFlight(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	ctx := context.Background()
	note, _ := h.store.CreateNote(ctx, 0, 0)
	if err := h.reconciler.EnsureWindowFor(note); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entered, release := h.driver.Hold("close")
	closed := make(chan error, 1)
	go func() {
		closed <- h.reconciler.CloseWindowFor(ctx, note.ID)
	}()
	<-entered

	opened := make(chan error, 1)
	go func() {
		_, err := h.reconciler.OpenWindowFor(ctx, note.ID)
		opened <- err
	}()
	select {
	case err := <-opened:
		t.Fatalf("expected open to wait for the close in flight, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	release()
	if err := <-closed; err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := <-opened; err != nil {
		t.Fatalf("open failed: %v", err)
	}
	stored, _ := h.store.GetNote(ctx, note.ID)
	if !stored.IsOpen || !h.hasWindow(note.ID) {
		t.Fatalf("expected open record with a live window, got open=%v window=%v", stored.IsOpen, h.hasWindow(note.ID))
	}
}

func TestRestoreOnStartupSkipsBrokenWindows(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	ctx := context.Background()
	first, _ := h.store.CreateNote(ctx, 0, 0)
	second, _ := h.store.CreateNote(ctx, 0, 0)
	closed, _ := h.store.CreateNote(ctx, 0, 0)
	_ = h.store.SetOpen(ctx, closed.ID, false)

	h.driver.Fail("create", windows.LabelForNote(first.ID), errors.New("broken surface"))
	restored, err := h.reconciler.RestoreOnStartup(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restored != 1 {
		t.Fatalf("expected one restored window, got %d", restored)
	}
	if h.hasWindow(first.ID) || !h.hasWindow(second.ID) || h.hasWindow(closed.ID) {
		t.Fatalf("unexpected live window set %v", h.registry.Windows())
	}
}

func TestCloseThenRestartDoesNotRestore(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	ctx := context.Background()
	kept, _ := h.store.CreateNote(ctx, 0, 0)
	closed, _ := h.store.CreateNote(ctx, 0, 0)
	_ = h.reconciler.EnsureWindowFor(kept)
	_ = h.reconciler.EnsureWindowFor(closed)

	if err := h.reconciler.CloseWindowFor(ctx, closed.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.restart(t)
	if h.hasWindow(closed.ID) || !h.hasWindow(kept.ID) {
		t.Fatalf("expected only the kept note to be restored")
	}

	if err := h.store.SetOpen(ctx, closed.ID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.restart(t)
	if !h.hasWindow(closed.ID) {
		t.Fatalf("expected reopened note to be restored")
	}
}

func TestEnforceInvariantBootstrapsWelcomeNote(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	ctx := context.Background()

	outcome, err := h.reconciler.EnforceVisibleWindowInvariant(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Action != InvariantBootstrap {
		t.Fatalf("expected bootstrap, got %s", outcome.Action)
	}

	all, _ := h.store.GetAllNotes(ctx)
	if len(all) != 1 {
		t.Fatalf("expected exactly one note, got %d", len(all))
	}
	if all[0].Title != WelcomeTitle || all[0].Content != WelcomeContent || !all[0].IsOpen {
		t.Fatalf("unexpected welcome note %#v", all[0])
	}
	if !h.hasWindow(all[0].ID) {
		t.Fatalf("expected welcome note window")
	}
}

func TestEnforceInvariantBootstrapWritesWelcomeNoteOnce(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	ctx := context.Background()

	// Any follow-up write would leave a blank note behind.
	trigger := `CREATE TRIGGER reject_updates BEFORE UPDATE ON notes
		BEGIN SELECT RAISE(ABORT, 'updates rejected'); END;`
	if err := h.db.Exec(trigger).Error; err != nil {
		t.Fatalf("failed to install trigger: %v", err)
	}

	if _, err := h.reconciler.EnforceVisibleWindowInvariant(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all, _ := h.store.GetAllNotes(ctx)
	if len(all) != 1 || all[0].Title != WelcomeTitle || all[0].Content != WelcomeContent {
		t.Fatalf("expected a single complete welcome note, got %#v", all)
	}
}

func TestEnforceInvariantForceOpensOldestNote(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	ctx := context.Background()
	oldest, _ := h.store.CreateNote(ctx, 0, 0)
	newest, _ := h.store.CreateNote(ctx, 0, 0)
	_ = h.store.SetOpen(ctx, oldest.ID, false)
	_ = h.store.SetOpen(ctx, newest.ID, false)

	outcome, err := h.reconciler.EnforceVisibleWindowInvariant(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Action != InvariantForceOpen || outcome.NoteID != oldest.ID {
		t.Fatalf("expected oldest note to be force-opened, got %#v", outcome)
	}
	all, _ := h.store.GetAllNotes(ctx)
	if len(all) != 2 {
		t.Fatalf("expected no new note, got %d notes", len(all))
	}
	stored, _ := h.store.GetNote(ctx, oldest.ID)
	if !stored.IsOpen || !h.hasWindow(oldest.ID) || h.hasWindow(newest.ID) {
		t.Fatalf("expected only the oldest note to be open with a window")
	}
}

func TestEnforceInvariantNewestPolicy(t *testing.T) {
	h := newHarness(t, FallbackNewest)
	ctx := context.Background()
	oldest, _ := h.store.CreateNote(ctx, 0, 0)
	newest, _ := h.store.CreateNote(ctx, 0, 0)
	_ = h.store.SetOpen(ctx, oldest.ID, false)
	_ = h.store.SetOpen(ctx, newest.ID, false)

	outcome, err := h.reconciler.EnforceVisibleWindowInvariant(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.NoteID != newest.ID || !h.hasWindow(newest.ID) {
		t.Fatalf("expected newest note to be force-opened, got %#v", outcome)
	}
}

func TestEnforceInvariantNoopWhenWindowLive(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	ctx := context.Background()
	note, _ := h.store.CreateNote(ctx, 0, 0)
	_ = h.reconciler.EnsureWindowFor(note)

	outcome, err := h.reconciler.EnforceVisibleWindowInvariant(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Action != InvariantSatisfied {
		t.Fatalf("expected no action, got %#v", outcome)
	}
}

func TestEnforceInvariantSurfacesStoreErrors(t *testing.T) {
	h := newHarness(t, FallbackOldest)
	h.store.Close()
	_, err := h.reconciler.EnforceVisibleWindowInvariant(context.Background())
	if !errors.Is(err, notes.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
}
