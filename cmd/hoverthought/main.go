package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/auth"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/commands"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/config"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/database"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/hotkeys"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/logging"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/notes"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/reconcile"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/server"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/validation"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/visibility"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/windows"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shellTokenFileName = "bridge.token"
	shutdownTimeout    = 10 * time.Second
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hoverthought",
		Short: "HoverThought floating notes core",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("data-dir", defaults.GetString("data.dir"), "Directory holding the notes database and bridge token")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path (defaults to <data-dir>/notary.db)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("bridge-address", defaults.GetString("bridge.address"), "Front-end bridge listen address")
	cmd.PersistentFlags().String("signing-secret", "", "Bridge token signing secret (random per launch when empty)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("bridge.token_ttl_minutes"), "Bridge token TTL in minutes (0 keeps tokens valid until exit)")
	cmd.PersistentFlags().String("fallback-note", defaults.GetString("startup.fallback_note"), "Note force-opened when no window survives startup (oldest, newest)")

	bindFlag(cmd, "data.dir", "data-dir")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "bridge.address", "bridge-address")
	bindFlag(cmd, "bridge.signing_secret", "signing-secret")
	bindFlag(cmd, "bridge.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "startup.fallback_note", "fallback-note")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func run(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, level, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := notes.NewStore(notes.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: notes.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	signingSecret := []byte(appConfig.BridgeSigningSecret)
	if len(signingSecret) == 0 {
		if signingSecret, err = auth.NewSigningSecret(); err != nil {
			return err
		}
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: signingSecret,
		TokenTTL:      appConfig.BridgeTokenTTL,
	})
	if err != nil {
		return err
	}

	events := server.NewEventDispatcher()
	registry := windows.NewRegistry(windows.RegistryConfig{
		Driver:    server.NewShellDriver(events),
		Publisher: events,
		Logger:    logger,
	})

	reconciler, err := reconcile.New(reconcile.Config{
		Store:    store,
		Windows:  registry,
		Tokens:   tokens,
		Fallback: appConfig.FallbackNote,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	commandService, err := commands.NewService(commands.Config{
		Store:      store,
		Reconciler: reconciler,
		Windows:    registry,
		Validator:  validation.New(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	visibilityController := visibility.NewController(registry, logger)
	hotkeyRouter, err := hotkeys.NewRouter(hotkeys.RouterConfig{
		Creator:    commandService,
		Visibility: visibilityController,
		Logger:     logger,
	}, hotkeys.ConfiguredBindings(appConfig.CreateNoteHotkey, appConfig.ToggleHotkey))
	if err != nil {
		return err
	}

	watchConfig(logger, level, hotkeyRouter)

	if _, err := reconciler.RestoreOnStartup(ctx); err != nil {
		logger.Error("failed to restore note windows", zap.Error(err))
	}
	if _, err := reconciler.EnforceVisibleWindowInvariant(ctx); err != nil {
		logger.Error("failed to guarantee a visible note window", zap.Error(err))
	}

	if err := writeShellToken(appConfig.DataDir, tokens); err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:   tokens,
		Commands: commandService,
		Hotkeys:  hotkeyRouter,
		Events:   events,
		Windows:  registry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.BridgeAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		logger.Info("bridge starting", zap.String("address", appConfig.BridgeAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// watchConfig re-applies the log level and hotkey bindings when the config file changes.
func watchConfig(logger *zap.Logger, level zap.AtomicLevel, router *hotkeys.Router) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(event fsnotify.Event) {
		reloaded, err := config.Load(viper.GetViper())
		if err != nil {
			logger.Warn("ignoring invalid config change", zap.String("file", event.Name), zap.Error(err))
			return
		}
		level.SetLevel(logging.ParseLevel(reloaded.LogLevel))
		if err := router.Rebind(hotkeys.ConfiguredBindings(reloaded.CreateNoteHotkey, reloaded.ToggleHotkey)); err != nil {
			logger.Warn("ignoring invalid hotkey bindings", zap.Error(err))
		}
		logger.Info("config reloaded", zap.String("file", event.Name))
	})
	viper.WatchConfig()
}

func writeShellToken(dataDir string, tokens *auth.TokenIssuer) error {
	token, err := tokens.IssueWindowToken(auth.ShellSubject)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(dataDir, shellTokenFileName)
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("write shell token: %w", err)
	}
	return nil
}
