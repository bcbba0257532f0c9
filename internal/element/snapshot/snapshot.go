// Package snapshot provides an in-memory element tree loaded from a YAML or
// JSON document. It backs offline selection runs and the engine tests, and
// can inject the platform failures a live accessibility tree produces.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"uicontext-mcp-server/internal/element"

	"gopkg.in/yaml.v3"
)

// Node is one entry of a snapshot document.
type Node struct {
	ID        string       `yaml:"id" json:"id"`
	Type      string       `yaml:"type" json:"type"`
	Name      string       `yaml:"name,omitempty" json:"name,omitempty"`
	Text      string       `yaml:"text,omitempty" json:"text,omitempty"`
	Rect      element.Rect `yaml:"rect" json:"rect"`
	Offscreen bool         `yaml:"offscreen,omitempty" json:"offscreen,omitempty"`
	PID       int          `yaml:"pid,omitempty" json:"pid,omitempty"`
	Window    uint64       `yaml:"window,omitempty" json:"window,omitempty"`
	Children  []*Node      `yaml:"children,omitempty" json:"children,omitempty"`

	// Fault injection.
	FailChildren bool `yaml:"fail_children,omitempty" json:"fail_children,omitempty"`
	FailText     bool `yaml:"fail_text,omitempty" json:"fail_text,omitempty"`
	FailSiblings bool `yaml:"fail_siblings,omitempty" json:"fail_siblings,omitempty"`
	FailParent   bool `yaml:"fail_parent,omitempty" json:"fail_parent,omitempty"`
}

type entry struct {
	node     *Node
	parentID string
	elem     *Elem
}

// Tree is an immutable arena of snapshot nodes keyed by id.
type Tree struct {
	rootID  string
	entries map[string]*entry

	opened atomic.Int64
	closed atomic.Int64
	reads  atomic.Int64
}

// Load reads a snapshot document from disk.
func Load(path string) (*Tree, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML (or JSON) snapshot document.
func Parse(raw []byte) (*Tree, error) {
	var root Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return New(&root)
}

// New indexes a node hierarchy. Ids must be non-empty and unique.
func New(root *Node) (*Tree, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: nil root", element.ErrInvalidArgument)
	}
	t := &Tree{rootID: root.ID, entries: make(map[string]*entry)}
	if err := t.index(root, ""); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) index(n *Node, parentID string) error {
	if n.ID == "" {
		return fmt.Errorf("%w: node without id under %q", element.ErrInvalidArgument, parentID)
	}
	if _, dup := t.entries[n.ID]; dup {
		return fmt.Errorf("%w: duplicate node id %q", element.ErrInvalidArgument, n.ID)
	}
	e := &entry{node: n, parentID: parentID}
	e.elem = &Elem{tree: t, e: e}
	t.entries[n.ID] = e
	for _, c := range n.Children {
		if c == nil {
			continue
		}
		if err := t.index(c, n.ID); err != nil {
			return err
		}
	}
	return nil
}

// Root returns the top of the tree.
func (t *Tree) Root() element.Element {
	return t.entries[t.rootID].elem
}

// Find returns the element with the given id.
func (t *Tree) Find(id string) (element.Element, bool) {
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	return e.elem, true
}

// Len is the number of nodes in the tree.
func (t *Tree) Len() int { return len(t.entries) }

// Resources reports how many sibling sets were opened and closed.
func (t *Tree) Resources() (opened, closed int64) {
	return t.opened.Load(), t.closed.Load()
}

// Leaked is the number of sibling sets opened but never closed.
func (t *Tree) Leaked() int64 {
	return t.opened.Load() - t.closed.Load()
}

// Reads counts Text and Children calls, for asserting how often the tree was touched.
func (t *Tree) Reads() int64 {
	return t.reads.Load()
}

// Elem implements element.Element over a snapshot node.
type Elem struct {
	tree *Tree
	e    *entry
}

var _ element.Element = (*Elem)(nil)

func (el *Elem) ID() string            { return el.e.node.ID }
func (el *Elem) Type() element.Type    { return element.ParseType(el.e.node.Type) }
func (el *Elem) Name() string          { return el.e.node.Name }
func (el *Elem) Rect() element.Rect    { return el.e.node.Rect }
func (el *Elem) Offscreen() bool       { return el.e.node.Offscreen }
func (el *Elem) ProcessID() int        { return el.e.node.PID }
func (el *Elem) WindowHandle() uintptr { return uintptr(el.e.node.Window) }
func (el *Elem) Siblings() *element.SiblingAccessor {
	return element.NewSiblingAccessor(el.openSiblings)
}

func (el *Elem) Text(_ context.Context, maxLength int) (string, error) {
	el.tree.reads.Add(1)
	if el.e.node.FailText {
		return "", element.Unavailable("text "+el.ID(), nil)
	}
	return element.Truncate(el.e.node.Text, maxLength), nil
}

func (el *Elem) Parent(_ context.Context) (element.Element, error) {
	if el.e.node.FailParent {
		return nil, element.Unavailable("parent "+el.ID(), nil)
	}
	p, ok := el.tree.entries[el.e.parentID]
	if !ok {
		return nil, nil
	}
	return p.elem, nil
}

func (el *Elem) Children(_ context.Context) ([]element.Element, error) {
	el.tree.reads.Add(1)
	if el.e.node.FailChildren {
		return nil, element.Unavailable("children "+el.ID(), nil)
	}
	out := make([]element.Element, 0, len(el.e.node.Children))
	for _, c := range el.e.node.Children {
		if c == nil {
			continue
		}
		out = append(out, el.tree.entries[c.ID].elem)
	}
	return out, nil
}

func (el *Elem) openSiblings(_ context.Context) (element.SiblingSet, error) {
	if el.e.node.FailSiblings {
		return nil, element.Unavailable("siblings "+el.ID(), nil)
	}
	var items []element.Element
	if p, ok := el.tree.entries[el.e.parentID]; ok {
		for _, c := range p.node.Children {
			if c != nil {
				items = append(items, el.tree.entries[c.ID].elem)
			}
		}
	}
	el.tree.opened.Add(1)
	return element.NewStaticSet(items, el.ID(), func() error {
		el.tree.closed.Add(1)
		return nil
	}), nil
}
