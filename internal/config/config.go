package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/reconcile"
	"github.com/spf13/viper"
)

const (
	envPrefix              = "HOVERTHOUGHT"
	appDirectoryName       = "hoverthought"
	databaseFileName       = "notary.db"
	defaultBridgeAddress   = "127.0.0.1:7313"
	defaultLogLevel        = "info"
	defaultCreateHotkey    = "ctrl+shift+n"
	defaultToggleHotkey    = "ctrl+shift+h"
	defaultFallbackNote    = reconcile.FallbackOldest

	// Zero keeps bridge tokens valid for the whole process lifetime.
	defaultTokenTTLMinutes = 0
)

// AppConfig captures runtime configuration for the desktop notes process.
type AppConfig struct {
	DataDir             string
	DatabasePath        string
	LogLevel            string
	BridgeAddress       string
	BridgeSigningSecret string
	BridgeTokenTTL      time.Duration
	CreateNoteHotkey    string
	ToggleHotkey        string
	FallbackNote        reconcile.FallbackPolicy
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("data.dir", defaultDataDir())
	configViper.SetDefault("database.path", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("bridge.address", defaultBridgeAddress)
	configViper.SetDefault("bridge.signing_secret", "")
	configViper.SetDefault("bridge.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("hotkeys.create_note", defaultCreateHotkey)
	configViper.SetDefault("hotkeys.toggle_visibility", defaultToggleHotkey)
	configViper.SetDefault("startup.fallback_note", string(defaultFallbackNote))
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DataDir:             strings.TrimSpace(configViper.GetString("data.dir")),
		DatabasePath:        strings.TrimSpace(configViper.GetString("database.path")),
		LogLevel:            configViper.GetString("log.level"),
		BridgeAddress:       configViper.GetString("bridge.address"),
		BridgeSigningSecret: configViper.GetString("bridge.signing_secret"),
		BridgeTokenTTL:      time.Duration(configViper.GetInt("bridge.token_ttl_minutes")) * time.Minute,
		CreateNoteHotkey:    configViper.GetString("hotkeys.create_note"),
		ToggleHotkey:        configViper.GetString("hotkeys.toggle_visibility"),
		FallbackNote:        reconcile.FallbackPolicy(strings.ToLower(strings.TrimSpace(configViper.GetString("startup.fallback_note")))),
	}

	if cfg.DatabasePath == "" && cfg.DataDir != "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, databaseFileName)
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.BridgeAddress) == "" {
		return fmt.Errorf("bridge.address is required")
	}
	if c.BridgeTokenTTL < 0 {
		return fmt.Errorf("bridge.token_ttl_minutes must not be negative")
	}
	if strings.TrimSpace(c.CreateNoteHotkey) == "" || strings.TrimSpace(c.ToggleHotkey) == "" {
		return fmt.Errorf("hotkeys.create_note and hotkeys.toggle_visibility are required")
	}
	switch c.FallbackNote {
	case reconcile.FallbackOldest, reconcile.FallbackNewest:
	default:
		return fmt.Errorf("startup.fallback_note must be %q or %q, got %q", reconcile.FallbackOldest, reconcile.FallbackNewest, c.FallbackNote)
	}
	return nil
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		return appDirectoryName
	}
	return filepath.Join(base, appDirectoryName)
}
