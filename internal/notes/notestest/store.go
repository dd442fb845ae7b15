// Package notestest builds SQLite-backed note stores for tests in other packages.
package notestest

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/database"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Clock advances by one second on every reading, starting at a fixed instant.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a Clock positioned at 2023-11-14T22:13:20Z.
func NewClock() *Clock {
	return &Clock{current: time.Unix(1700000000, 0).UTC()}
}

// Now returns the next instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

// NewStore opens a fresh migrated database in a temp directory and wraps it in a Store.
func NewStore(t *testing.T) (*notes.Store, *gorm.DB) {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "notary.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	store, err := notes.NewStore(notes.StoreConfig{
		Database:   db,
		Clock:      NewClock().Now,
		IDProvider: notes.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct notes store: %v", err)
	}
	return store, db
}
