package notes

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode enumerates the editors a note can be displayed with.
type Mode string

const (
	// ModeText renders the note as free text.
	ModeText Mode = "text"
	// ModeTodo renders the note as a checklist.
	ModeTodo Mode = "todo"
)

const (
	MinOpacity     = 0.3
	MaxOpacity     = 1.0
	DefaultOpacity = 0.95

	MinWidth      = 200
	MinHeight     = 150
	DefaultWidth  = 300
	DefaultHeight = 200

	DefaultTheme = "light"

	SettingTheme          = "theme"
	SettingDefaultOpacity = "default_opacity"
)

// ParseMode validates raw input and returns a Mode.
func ParseMode(rawInput string) (Mode, error) {
	switch Mode(rawInput) {
	case ModeText, ModeTodo:
		return Mode(rawInput), nil
	default:
		return "", NewValidationError("mode", rawInput,
			fmt.Sprintf("invalid mode: %q. Must be %q or %q", rawInput, ModeText, ModeTodo))
	}
}

// String returns the underlying mode name.
func (m Mode) String() string {
	return string(m)
}

// ClampOpacity bounds an opacity value to [MinOpacity, MaxOpacity].
func ClampOpacity(value float64) float64 {
	if math.IsNaN(value) {
		return DefaultOpacity
	}
	return math.Min(math.Max(value, MinOpacity), MaxOpacity)
}

// ClampWidth floors a window width at MinWidth.
func ClampWidth(value int) int {
	return max(value, MinWidth)
}

// ClampHeight floors a window height at MinHeight.
func ClampHeight(value int) int {
	return max(value, MinHeight)
}

// Note models one persisted sticky note and the attributes of its window.
type Note struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Title       string    `gorm:"column:title;type:text;not null;default:''" json:"title"`
	Content     string    `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Mode        Mode      `gorm:"column:mode;size:16;not null;default:'text'" json:"mode"`
	PosX        int       `gorm:"column:pos_x;not null" json:"pos_x"`
	PosY        int       `gorm:"column:pos_y;not null" json:"pos_y"`
	Width       int       `gorm:"column:width;not null" json:"width"`
	Height      int       `gorm:"column:height;not null" json:"height"`
	Opacity     float64   `gorm:"column:opacity;not null" json:"opacity"`
	IsOpen      bool      `gorm:"column:is_open;not null;index:idx_notes_open_created,priority:1" json:"is_open"`
	IsMinimized bool      `gorm:"column:is_minimized;not null;default:false" json:"is_minimized"`
	AlwaysOnTop bool      `gorm:"column:always_on_top;not null" json:"always_on_top"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_notes_open_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Setting is one row of the singleton key/value settings bag.
type Setting struct {
	Key   string `gorm:"column:key;primaryKey;size:64;not null"`
	Value string `gorm:"column:value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Setting) TableName() string {
	return "settings"
}

// Settings is the typed view of the settings bag.
type Settings struct {
	Theme          string  `json:"theme"`
	DefaultOpacity float64 `json:"default_opacity"`
}

// CreateOption seeds a field of a note before it is inserted.
type CreateOption func(*Note)

// WithTitle seeds the title of a new note.
func WithTitle(title string) CreateOption {
	return func(note *Note) {
		note.Title = title
	}
}

// WithContent seeds the content of a new note.
func WithContent(content string) CreateOption {
	return func(note *Note) {
		note.Content = content
	}
}

// NoteUpdate carries the fields of a partial note update; nil fields are left untouched.
type NoteUpdate struct {
	Title       *string
	Content     *string
	Mode        *Mode
	PosX        *int
	PosY        *int
	Width       *int
	Height      *int
	Opacity     *float64
	AlwaysOnTop *bool
}

// IsEmpty reports whether the update carries no fields.
func (u NoteUpdate) IsEmpty() bool {
	return len(u.fieldWrites()) == 0
}

type fieldWrite struct {
	column string
	value  any
}

// fieldWrites lists the column writes in a stable order. Opacity is clamped here so
// that no write path can persist an out-of-range value.
func (u NoteUpdate) fieldWrites() []fieldWrite {
	writes := make([]fieldWrite, 0, 9)
	if u.Title != nil {
		writes = append(writes, fieldWrite{column: "title", value: *u.Title})
	}
	if u.Content != nil {
		writes = append(writes, fieldWrite{column: "content", value: *u.Content})
	}
	if u.Mode != nil {
		writes = append(writes, fieldWrite{column: "mode", value: string(*u.Mode)})
	}
	if u.PosX != nil {
		writes = append(writes, fieldWrite{column: "pos_x", value: *u.PosX})
	}
	if u.PosY != nil {
		writes = append(writes, fieldWrite{column: "pos_y", value: *u.PosY})
	}
	if u.Width != nil {
		writes = append(writes, fieldWrite{column: "width", value: *u.Width})
	}
	if u.Height != nil {
		writes = append(writes, fieldWrite{column: "height", value: *u.Height})
	}
	if u.Opacity != nil {
		writes = append(writes, fieldWrite{column: "opacity", value: ClampOpacity(*u.Opacity)})
	}
	if u.AlwaysOnTop != nil {
		writes = append(writes, fieldWrite{column: "always_on_top", value: *u.AlwaysOnTop})
	}
	return writes
}

func (u NoteUpdate) fieldNames() string {
	writes := u.fieldWrites()
	names := make([]string, 0, len(writes))
	for _, write := range writes {
		names = append(names, write.column)
	}
	return strings.Join(names, ",")
}
