package element

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable marks a transient platform failure: the node went stale,
	// its process exited or its window closed while we were looking at it.
	ErrUnavailable = errors.New("element unavailable")
	// ErrInvalidArgument marks programming misuse of the abstraction.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrClosed is returned when an enumerator is requested from a closed accessor.
	ErrClosed = errors.New("sibling accessor closed")
)

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// Type is the structural kind of a node.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeLabel
	TypeTextField
	TypeButton
	TypeLink
	TypeCheckBox
	TypeComboBox
	TypeList
	TypeListItem
	TypeMenu
	TypeMenuItem
	TypeTab
	TypeTable
	TypeImage
	TypeDocument
	TypeContainer
	TypeTopLevel
	TypeScreen
)

var typeNames = [...]string{
	TypeUnknown:   "unknown",
	TypeLabel:     "label",
	TypeTextField: "text_field",
	TypeButton:    "button",
	TypeLink:      "link",
	TypeCheckBox:  "check_box",
	TypeComboBox:  "combo_box",
	TypeList:      "list",
	TypeListItem:  "list_item",
	TypeMenu:      "menu",
	TypeMenuItem:  "menu_item",
	TypeTab:       "tab",
	TypeTable:     "table",
	TypeImage:     "image",
	TypeDocument:  "document",
	TypeContainer: "container",
	TypeTopLevel:  "top_level",
	TypeScreen:    "screen",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return typeNames[TypeUnknown]
}

// ParseType maps a type name back to a Type. Unknown names yield TypeUnknown.
func ParseType(s string) Type {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range typeNames {
		if name == s {
			return Type(i)
		}
	}
	return TypeUnknown
}

// MarshalText implements encoding.TextMarshaler so records serialize by name.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	*t = ParseType(string(b))
	return nil
}

// Interactive reports whether a user can act on nodes of this type directly.
func (t Type) Interactive() bool {
	switch t {
	case TypeTextField, TypeButton, TypeLink, TypeCheckBox, TypeComboBox, TypeMenuItem, TypeTab:
		return true
	}
	return false
}

// Textual reports whether nodes of this type mostly carry readable text.
func (t Type) Textual() bool {
	return t == TypeLabel || t == TypeTextField || t == TypeDocument || t == TypeListItem
}

// Rect is a bounding rectangle in screen coordinates.
type Rect struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Empty reports a zero or negative area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Center returns the midpoint of the rectangle.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Element is one node of an accessibility tree.
//
// ID, Type, Name, Rect, Offscreen, ProcessID and WindowHandle are cheap
// snapshot accessors. Text, Parent and Children may block on an
// out-of-process call; on a transient failure they return the empty value
// together with an error wrapping ErrUnavailable, and never panic because
// the tree changed.
type Element interface {
	ID() string
	Type() Type
	Name() string
	Rect() Rect
	Offscreen() bool
	ProcessID() int
	WindowHandle() uintptr

	// Text returns at most maxLength runes of the node's text. A negative
	// maxLength means unbounded and zero returns "".
	Text(ctx context.Context, maxLength int) (string, error)
	// Parent returns nil without error for a root.
	Parent(ctx context.Context) (Element, error)
	Children(ctx context.Context) ([]Element, error)
	// Siblings returns a fresh, inert accessor each call.
	Siblings() *SiblingAccessor
}

// Shortcut is a key chord such as "Ctrl+Shift+A".
type Shortcut string

// Keys splits the chord into its key names.
func (s Shortcut) Keys() []string {
	parts := strings.Split(string(s), "+")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

// Actor is implemented by elements that support point operations.
type Actor interface {
	Invoke(ctx context.Context) error
	SetText(ctx context.Context, text string) error
	SendShortcut(ctx context.Context, shortcut Shortcut) error
	// Capture returns a PNG image of the element.
	Capture(ctx context.Context) ([]byte, error)
}

// HasText checks for any text with a length-1 fetch. A failed fetch is an
// error, not an empty text.
func HasText(ctx context.Context, el Element) (bool, error) {
	text, err := el.Text(ctx, 1)
	if err != nil {
		return false, err
	}
	return text != "", nil
}

// Truncate cuts s to maxLength runes. Negative maxLength leaves s untouched.
func Truncate(s string, maxLength int) string {
	if maxLength < 0 {
		return s
	}
	if maxLength == 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == maxLength {
			return s[:i]
		}
		n++
	}
	return s
}

// maxPathDepth bounds Path on trees that report a parent cycle.
const maxPathDepth = 256

// Path walks parents from el to the root and returns the ids root first.
// A parent lookup failure ends the walk early.
func Path(ctx context.Context, el Element) []string {
	var ids []string
	seen := make(map[string]bool)
	for cur := el; cur != nil && len(ids) < maxPathDepth; {
		if seen[cur.ID()] {
			break
		}
		seen[cur.ID()] = true
		ids = append(ids, cur.ID())
		parent, err := cur.Parent(ctx)
		if err != nil {
			break
		}
		cur = parent
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}
