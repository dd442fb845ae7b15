// Package server exposes the note commands to the front-end over a localhost HTTP
// bridge and streams window events as server-sent events.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/auth"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/commands"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/hotkeys"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/notes"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/windows"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const windowLabelContextKey = "hoverthought_window_label"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingCommands       = errors.New("commands dependency required")
	errMissingHotkeys        = errors.New("hotkey dispatcher dependency required")
	errMissingEvents         = errors.New("event dispatcher dependency required")
	errMissingWindows        = errors.New("window directory dependency required")
)

// TokenValidator resolves the calling window from a request.
type TokenValidator interface {
	ValidateRequest(r *http.Request) (string, error)
}

// NoteCommands is the boundary the bridge forwards to.
type NoteCommands interface {
	CreateNote(ctx context.Context, posX, posY *int) (notes.Note, error)
	GetNote(ctx context.Context, noteID string) (*notes.Note, error)
	GetAllNotes(ctx context.Context) ([]notes.Note, error)
	UpdateNote(ctx context.Context, noteID string, request commands.UpdateNoteRequest) error
	CloseNote(ctx context.Context, noteID string) error
	DeleteNote(ctx context.Context, noteID string) error
	OpenNote(ctx context.Context, noteID string) (notes.Note, error)
	SetOpacity(ctx context.Context, windowLabel string, opacity float64) error
	SetAlwaysOnTop(ctx context.Context, windowLabel string, onTop bool) error
	GetSettings(ctx context.Context) (notes.Settings, error)
	SetTheme(ctx context.Context, theme string) error
	SetDefaultOpacity(ctx context.Context, opacity float64) error
	MinimizeAll(ctx context.Context) error
	ShowAll(ctx context.Context) error
	SetAllOpacity(ctx context.Context, opacity float64) error
}

// HotkeyDispatcher runs the action bound to a captured chord.
type HotkeyDispatcher interface {
	Dispatch(ctx context.Context, chord string) (hotkeys.Action, error)
}

// WindowDirectory exposes the live window table to the desktop shell.
type WindowDirectory interface {
	Windows() []windows.Window
	State(label string) (windows.State, bool)
	Forget(label string)
}

// Dependencies describes the collaborators of the bridge handler.
type Dependencies struct {
	Tokens            TokenValidator
	Commands          NoteCommands
	Hotkeys           HotkeyDispatcher
	Events            *EventDispatcher
	Windows           WindowDirectory
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin router serving the bridge.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Commands == nil {
		return nil, errMissingCommands
	}
	if deps.Hotkeys == nil {
		return nil, errMissingHotkeys
	}
	if deps.Events == nil {
		return nil, errMissingEvents
	}
	if deps.Windows == nil {
		return nil, errMissingWindows
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:            deps.Tokens,
		commands:          deps.Commands,
		hotkeys:           deps.Hotkeys,
		events:            deps.Events,
		windows:           deps.Windows,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/notes", handler.handleCreateNote)
	protected.GET("/notes", handler.handleListNotes)
	protected.GET("/notes/:id", handler.handleGetNote)
	protected.PATCH("/notes/:id", handler.handleUpdateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)
	protected.POST("/notes/:id/close", handler.handleCloseNote)
	protected.POST("/notes/:id/open", handler.handleOpenNote)

	protected.POST("/window/opacity", handler.handleSetOpacity)
	protected.POST("/window/always-on-top", handler.handleSetAlwaysOnTop)

	protected.POST("/windows/minimize-all", handler.handleMinimizeAll)
	protected.POST("/windows/show-all", handler.handleShowAll)
	protected.POST("/windows/opacity", handler.handleSetAllOpacity)

	protected.GET("/settings", handler.handleGetSettings)
	protected.PUT("/settings/theme", handler.handleSetTheme)
	protected.PUT("/settings/default-opacity", handler.handleSetDefaultOpacity)

	protected.GET("/events", handler.handleEvents)

	shell := protected.Group("/")
	shell.Use(requireShell)
	shell.POST("/hotkeys", handler.handleHotkey)
	shell.GET("/windows", handler.handleListWindows)
	shell.DELETE("/windows/:label", handler.handleForgetWindow)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	tokens            TokenValidator
	commands          NoteCommands
	hotkeys           HotkeyDispatcher
	events            *EventDispatcher
	windows           WindowDirectory
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

type createNoteRequest struct {
	PosX *int `json:"pos_x"`
	PosY *int `json:"pos_y"`
}

type opacityRequest struct {
	Opacity *float64 `json:"opacity"`
}

type alwaysOnTopRequest struct {
	AlwaysOnTop *bool `json:"always_on_top"`
}

type themeRequest struct {
	Theme string `json:"theme"`
}

type hotkeyRequest struct {
	Chord string `json:"chord"`
}

type hotkeyResponse struct {
	Action hotkeys.Action `json:"action"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var request createNoteRequest
	if !h.bindOptionalJSON(c, &request) {
		return
	}
	note, err := h.commands.CreateNote(c.Request.Context(), request.PosX, request.PosY)
	if err != nil {
		h.writeError(c, "create_note", err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	allNotes, err := h.commands.GetAllNotes(c.Request.Context())
	if err != nil {
		h.writeError(c, "get_all_notes", err)
		return
	}
	c.JSON(http.StatusOK, allNotes)
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	note, err := h.commands.GetNote(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get_note", err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	var request commands.UpdateNoteRequest
	if !h.bindJSON(c, &request) {
		return
	}
	if err := h.commands.UpdateNote(c.Request.Context(), c.Param("id"), request); err != nil {
		h.writeError(c, "update_note", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	if err := h.commands.DeleteNote(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, "delete_note", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCloseNote(c *gin.Context) {
	if err := h.commands.CloseNote(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, "close_note", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleOpenNote(c *gin.Context) {
	note, err := h.commands.OpenNote(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "open_note", err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleSetOpacity(c *gin.Context) {
	opacity, ok := h.bindOpacity(c)
	if !ok {
		return
	}
	if err := h.commands.SetOpacity(c.Request.Context(), c.GetString(windowLabelContextKey), opacity); err != nil {
		h.writeError(c, "set_opacity", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSetAlwaysOnTop(c *gin.Context) {
	var request alwaysOnTopRequest
	if !h.bindJSON(c, &request) {
		return
	}
	if request.AlwaysOnTop == nil {
		h.writeError(c, "set_always_on_top", notes.NewValidationError("always_on_top", "", "always_on_top is required"))
		return
	}
	if err := h.commands.SetAlwaysOnTop(c.Request.Context(), c.GetString(windowLabelContextKey), *request.AlwaysOnTop); err != nil {
		h.writeError(c, "set_always_on_top", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleMinimizeAll(c *gin.Context) {
	if err := h.commands.MinimizeAll(c.Request.Context()); err != nil {
		h.writeError(c, "minimize_all", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleShowAll(c *gin.Context) {
	if err := h.commands.ShowAll(c.Request.Context()); err != nil {
		h.writeError(c, "show_all", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSetAllOpacity(c *gin.Context) {
	opacity, ok := h.bindOpacity(c)
	if !ok {
		return
	}
	if err := h.commands.SetAllOpacity(c.Request.Context(), opacity); err != nil {
		h.writeError(c, "set_all_opacity", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	settings, err := h.commands.GetSettings(c.Request.Context())
	if err != nil {
		h.writeError(c, "get_settings", err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *httpHandler) handleSetTheme(c *gin.Context) {
	var request themeRequest
	if !h.bindJSON(c, &request) {
		return
	}
	if err := h.commands.SetTheme(c.Request.Context(), request.Theme); err != nil {
		h.writeError(c, "set_theme", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSetDefaultOpacity(c *gin.Context) {
	opacity, ok := h.bindOpacity(c)
	if !ok {
		return
	}
	if err := h.commands.SetDefaultOpacity(c.Request.Context(), opacity); err != nil {
		h.writeError(c, "set_default_opacity", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleHotkey(c *gin.Context) {
	var request hotkeyRequest
	if !h.bindJSON(c, &request) {
		return
	}
	action, err := h.hotkeys.Dispatch(c.Request.Context(), request.Chord)
	if err != nil {
		h.writeError(c, "hotkey", err)
		return
	}
	c.JSON(http.StatusOK, hotkeyResponse{Action: action})
}

func (h *httpHandler) handleListWindows(c *gin.Context) {
	live := h.windows.Windows()
	states := make([]windows.State, 0, len(live))
	for _, window := range live {
		if state, ok := h.windows.State(window.Label()); ok {
			states = append(states, state)
		}
	}
	c.JSON(http.StatusOK, states)
}

// handleForgetWindow is called by the shell when the toolkit destroyed a window on
// its own.
func (h *httpHandler) handleForgetWindow(c *gin.Context) {
	label := c.Param("label")
	h.windows.Forget(label)
	h.logger.Debug("window forgotten", zap.String("window_label", label))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	label := c.GetString(windowLabelContextKey)
	stream, cleanup := h.events.Subscribe(c.Request.Context(), label)
	defer cleanup()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.Event, message.Payload)
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(eventHeartbeat, gin.H{"ts": tick.UTC().Unix()})
			return true
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	subject, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("bridge token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "bridge.unauthorized"})
		return
	}
	c.Set(windowLabelContextKey, subject)
	c.Next()
}

func requireShell(c *gin.Context) {
	if c.GetString(windowLabelContextKey) != auth.ShellSubject {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": "bridge.forbidden"})
		return
	}
	c.Next()
}

func (h *httpHandler) bindJSON(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "bridge.invalid_request"})
		return false
	}
	return true
}

func (h *httpHandler) bindOptionalJSON(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "bridge.invalid_request"})
		return false
	}
	return true
}

func (h *httpHandler) bindOpacity(c *gin.Context) (float64, bool) {
	var request opacityRequest
	if !h.bindJSON(c, &request) {
		return 0, false
	}
	if request.Opacity == nil {
		h.writeError(c, "opacity", notes.NewValidationError("opacity", "", "opacity is required"))
		return 0, false
	}
	return *request.Opacity, true
}

type codedError interface {
	Code() string
}

func (h *httpHandler) writeError(c *gin.Context, operation string, err error) {
	status := http.StatusInternalServerError
	code := "bridge.internal_error"
	switch {
	case errors.Is(err, notes.ErrValidation),
		errors.Is(err, hotkeys.ErrInvalidChord),
		errors.Is(err, hotkeys.ErrUnboundChord):
		status = http.StatusBadRequest
		code = "bridge.invalid_request"
	case errors.Is(err, notes.ErrNoteNotFound):
		status = http.StatusNotFound
		code = "bridge.not_found"
	case errors.Is(err, windows.ErrWindow):
		code = "bridge.window_failed"
	}
	var coded codedError
	if errors.As(err, &coded) {
		code = coded.Code()
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("bridge command failed",
			zap.String("operation", operation),
			zap.String("window_label", c.GetString(windowLabelContextKey)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code})
}
