package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/reconcile"
)

func TestLoadDerivesDatabasePathFromDataDir(t *testing.T) {
	configViper := NewViper()
	dataDir := t.TempDir()
	configViper.Set("data.dir", dataDir)

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabasePath != filepath.Join(dataDir, "notary.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.BridgeTokenTTL != 0 {
		t.Fatalf("expected process-lifetime tokens by default, got ttl %v", cfg.BridgeTokenTTL)
	}
	if cfg.FallbackNote != reconcile.FallbackOldest {
		t.Fatalf("expected oldest fallback by default, got %q", cfg.FallbackNote)
	}
	if cfg.CreateNoteHotkey != "ctrl+shift+n" || cfg.ToggleHotkey != "ctrl+shift+h" {
		t.Fatalf("unexpected default hotkeys %q %q", cfg.CreateNoteHotkey, cfg.ToggleHotkey)
	}
}

func TestLoadKeepsExplicitDatabasePath(t *testing.T) {
	configViper := NewViper()
	configViper.Set("data.dir", t.TempDir())
	configViper.Set("database.path", "/tmp/custom.db")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabasePath != "/tmp/custom.db" {
		t.Fatalf("expected explicit database path, got %q", cfg.DatabasePath)
	}
}

func TestLoadRejectsUnknownFallbackPolicy(t *testing.T) {
	configViper := NewViper()
	configViper.Set("data.dir", t.TempDir())
	configViper.Set("startup.fallback_note", "random")

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for unknown fallback policy")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("HOVERTHOUGHT_BRIDGE_ADDRESS", "127.0.0.1:9999")
	configViper := NewViper()
	configViper.Set("data.dir", t.TempDir())

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BridgeAddress != "127.0.0.1:9999" {
		t.Fatalf("expected env override, got %q", cfg.BridgeAddress)
	}
}

func TestLoadRejectsNegativeTokenTTL(t *testing.T) {
	configViper := NewViper()
	configViper.Set("data.dir", t.TempDir())
	configViper.Set("bridge.token_ttl_minutes", -5)

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for negative token ttl")
	}
}

func TestLoadReadsTokenTTLAndFallback(t *testing.T) {
	configViper := NewViper()
	configViper.Set("data.dir", t.TempDir())
	configViper.Set("bridge.token_ttl_minutes", 90)
	configViper.Set("startup.fallback_note", " Newest ")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BridgeTokenTTL != 90*time.Minute {
		t.Fatalf("unexpected token ttl %v", cfg.BridgeTokenTTL)
	}
	if cfg.FallbackNote != reconcile.FallbackNewest {
		t.Fatalf("expected newest fallback, got %q", cfg.FallbackNote)
	}
}
