package browser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"uicontext-mcp-server/internal/element"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// ErrEmptyTree is returned when Chrome reports no unignored accessibility nodes.
var ErrEmptyTree = errors.New("accessibility tree is empty")

// BoxFunc resolves the border box of a DOM node in page coordinates.
type BoxFunc func(ctx context.Context, backend proto.DOMBackendNodeID) (element.Rect, error)

// AXTree is one capture of a page's accessibility tree. Ignored nodes are
// collapsed so that their children hang off the nearest unignored ancestor.
// Structure is fixed at capture time; rectangles are fetched lazily the
// first time a node's Rect is asked for.
type AXTree struct {
	ctx      context.Context
	page     *rod.Page
	box      BoxFunc
	viewport element.Rect
	logger   *zap.Logger

	nodes map[string]*AXElement
	order []string
	root  string
}

// AXElement adapts one accessibility node to element.Element and element.Actor.
type AXElement struct {
	tree     *AXTree
	id       string
	role     string
	typ      element.Type
	name     string
	value    string
	desc     string
	focused  bool
	backend  proto.DOMBackendNodeID
	parent   string
	children []string

	rectOnce sync.Once
	rect     element.Rect
}

// Capture fetches the full accessibility tree of page together with the
// layout viewport used for offscreen detection.
func Capture(ctx context.Context, page *rod.Page, logger *zap.Logger) (*AXTree, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := page.Context(ctx)

	res, err := proto.AccessibilityGetFullAXTree{}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("get accessibility tree: %w", err)
	}

	var viewport element.Rect
	if lm, err := (proto.PageGetLayoutMetrics{}).Call(p); err == nil && lm.CSSLayoutViewport != nil {
		vp := lm.CSSLayoutViewport
		viewport = element.Rect{
			X:      float64(vp.PageX),
			Y:      float64(vp.PageY),
			Width:  float64(vp.ClientWidth),
			Height: float64(vp.ClientHeight),
		}
	} else if err != nil {
		logger.Debug("layout metrics unavailable", zap.Error(err))
	}

	tree, err := NewAXTree(res.Nodes, viewport, PageBoxes(p))
	if err != nil {
		return nil, err
	}
	tree.ctx = ctx
	tree.page = p
	tree.logger = logger
	logger.Debug("accessibility tree captured",
		zap.Int("raw_nodes", len(res.Nodes)),
		zap.Int("nodes", len(tree.nodes)))
	return tree, nil
}

// PageBoxes resolves border boxes through DOM.getBoxModel on page.
func PageBoxes(page *rod.Page) BoxFunc {
	return func(ctx context.Context, backend proto.DOMBackendNodeID) (element.Rect, error) {
		res, err := proto.DOMGetBoxModel{BackendNodeID: backend}.Call(page.Context(ctx))
		if err != nil {
			return element.Rect{}, err
		}
		if res.Model == nil {
			return element.Rect{}, fmt.Errorf("no box model for backend node %d", backend)
		}
		return QuadRect(res.Model.Border), nil
	}
}

// NewAXTree builds a tree from raw protocol nodes. box may be nil, in which
// case every rectangle is empty.
func NewAXTree(raw []*proto.AccessibilityAXNode, viewport element.Rect, box BoxFunc) (*AXTree, error) {
	t := &AXTree{
		ctx:      context.Background(),
		box:      box,
		viewport: viewport,
		logger:   zap.NewNop(),
		nodes:    make(map[string]*AXElement, len(raw)),
	}

	byID := make(map[string]*proto.AccessibilityAXNode, len(raw))
	for _, n := range raw {
		if n != nil {
			byID[string(n.NodeID)] = n
		}
	}

	// Roots are nodes whose parent is absent from the capture.
	var roots []string
	for _, n := range raw {
		if n == nil {
			continue
		}
		if _, ok := byID[string(n.ParentID)]; n.ParentID == "" || !ok {
			roots = append(roots, string(n.NodeID))
		}
	}

	visiting := make(map[string]bool)
	var build func(id, parent string) []string
	build = func(id, parent string) []string {
		n, ok := byID[id]
		if !ok || visiting[id] {
			return nil
		}
		if _, done := t.nodes[id]; done {
			return nil
		}
		visiting[id] = true
		defer delete(visiting, id)

		if n.Ignored {
			var lifted []string
			for _, c := range n.ChildIDs {
				lifted = append(lifted, build(string(c), parent)...)
			}
			return lifted
		}

		el := newAXElement(t, n, parent)
		t.nodes[id] = el
		t.order = append(t.order, id)
		for _, c := range n.ChildIDs {
			el.children = append(el.children, build(string(c), id)...)
		}
		return []string{id}
	}

	var top []string
	for _, r := range roots {
		top = append(top, build(r, "")...)
	}
	if len(top) == 0 {
		return nil, ErrEmptyTree
	}
	t.root = top[0]
	// Extra unignored roots are attached under the first one.
	if len(top) > 1 {
		root := t.nodes[t.root]
		for _, id := range top[1:] {
			t.nodes[id].parent = t.root
			root.children = append(root.children, id)
		}
	}
	return t, nil
}

func newAXElement(t *AXTree, n *proto.AccessibilityAXNode, parent string) *AXElement {
	el := &AXElement{
		tree:    t,
		id:      string(n.NodeID),
		role:    axString(n.Role),
		name:    axString(n.Name),
		value:   axString(n.Value),
		desc:    axString(n.Description),
		backend: n.BackendDOMNodeID,
		parent:  parent,
	}
	el.typ = RoleType(el.role)
	for _, p := range n.Properties {
		if p != nil && string(p.Name) == "focused" && axString(p.Value) == "true" {
			el.focused = true
		}
	}
	return el
}

func axString(v *proto.AccessibilityAXValue) string {
	if v == nil {
		return ""
	}
	s := v.Value.String()
	if s == "null" {
		return ""
	}
	return strings.TrimSpace(s)
}

// RoleType maps a Chrome accessibility role to a structural type.
func RoleType(role string) element.Type {
	switch strings.ToLower(role) {
	case "button", "togglebutton", "popupbutton":
		return element.TypeButton
	case "link":
		return element.TypeLink
	case "textbox", "searchbox", "textfield", "spinbutton":
		return element.TypeTextField
	case "checkbox", "switch", "radio":
		return element.TypeCheckBox
	case "combobox":
		return element.TypeComboBox
	case "list", "listbox", "tree", "radiogroup":
		return element.TypeList
	case "listitem", "option", "treeitem":
		return element.TypeListItem
	case "menu", "menubar":
		return element.TypeMenu
	case "menuitem", "menuitemcheckbox", "menuitemradio":
		return element.TypeMenuItem
	case "tab":
		return element.TypeTab
	case "table", "grid", "treegrid":
		return element.TypeTable
	case "img", "image", "figure":
		return element.TypeImage
	case "document", "article", "main":
		return element.TypeDocument
	case "statictext", "text", "labeltext", "heading", "paragraph", "label", "legend", "caption":
		return element.TypeLabel
	case "rootwebarea", "webarea", "dialog", "alertdialog", "window":
		return element.TypeTopLevel
	}
	return element.TypeContainer
}

// QuadRect returns the bounding rectangle of a DOM quad.
func QuadRect(q proto.DOMQuad) element.Rect {
	if len(q) < 8 {
		return element.Rect{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i+1 < len(q); i += 2 {
		minX, maxX = math.Min(minX, q[i]), math.Max(maxX, q[i])
		minY, maxY = math.Min(minY, q[i+1]), math.Max(maxY, q[i+1])
	}
	return element.Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Intersects reports whether two non-empty rectangles overlap.
func Intersects(a, b element.Rect) bool {
	if a.Empty() || b.Empty() {
		return false
	}
	return a.X < b.X+b.Width && b.X < a.X+a.Width && a.Y < b.Y+b.Height && b.Y < a.Y+a.Height
}

// Root returns the top unignored node.
func (t *AXTree) Root() element.Element { return t.nodes[t.root] }

// Len reports the number of unignored nodes.
func (t *AXTree) Len() int { return len(t.nodes) }

// Find looks a node up by accessibility node id.
func (t *AXTree) Find(id string) (element.Element, bool) {
	el, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	return el, true
}

// Focused returns the node Chrome reports as focused, if any.
func (t *AXTree) Focused() (element.Element, bool) {
	for _, id := range t.order {
		if el := t.nodes[id]; el.focused {
			return el, true
		}
	}
	return nil, false
}

// FindByName returns the first node, in document order, whose name matches
// name case-insensitively. A non-empty role narrows the match.
func (t *AXTree) FindByName(role, name string) (element.Element, bool) {
	for _, id := range t.order {
		el := t.nodes[id]
		if role != "" && !strings.EqualFold(el.role, role) {
			continue
		}
		if strings.EqualFold(el.name, strings.TrimSpace(name)) {
			return el, true
		}
	}
	return nil, false
}

func (el *AXElement) ID() string            { return el.id }
func (el *AXElement) Type() element.Type    { return el.typ }
func (el *AXElement) Name() string          { return el.name }
func (el *AXElement) ProcessID() int        { return 0 }
func (el *AXElement) WindowHandle() uintptr { return 0 }

// Role returns the raw Chrome role.
func (el *AXElement) Role() string { return el.role }

// Rect resolves the node's border box on first use. Nodes without a DOM
// node, or whose box cannot be read, inherit their parent's rectangle. A
// box that reads back empty stays empty.
func (el *AXElement) Rect() element.Rect {
	el.rectOnce.Do(func() {
		t := el.tree
		if t.box != nil && el.backend != 0 {
			r, err := t.box(t.ctx, el.backend)
			if err == nil {
				el.rect = r
				return
			}
			t.logger.Debug("box model unavailable", zap.String("node", el.id), zap.Error(err))
		}
		if p, ok := t.nodes[el.parent]; ok {
			el.rect = p.Rect()
		}
	})
	return el.rect
}

// Offscreen reports a rectangle entirely outside the layout viewport. With
// no viewport known nothing is offscreen.
func (el *AXElement) Offscreen() bool {
	vp := el.tree.viewport
	if vp.Empty() {
		return false
	}
	r := el.Rect()
	if r.Empty() {
		return false
	}
	return !Intersects(r, vp)
}

// Text prefers the node's value, then its name, then its description.
func (el *AXElement) Text(ctx context.Context, maxLength int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", element.Unavailable("text "+el.id, err)
	}
	return element.Truncate(coalesceNonEmpty(el.value, el.name, el.desc), maxLength), nil
}

func (el *AXElement) Parent(ctx context.Context) (element.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, element.Unavailable("parent "+el.id, err)
	}
	p, ok := el.tree.nodes[el.parent]
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (el *AXElement) Children(ctx context.Context) ([]element.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, element.Unavailable("children "+el.id, err)
	}
	out := make([]element.Element, 0, len(el.children))
	for _, id := range el.children {
		out = append(out, el.tree.nodes[id])
	}
	return out, nil
}

func (el *AXElement) Siblings() *element.SiblingAccessor {
	return element.NewSiblingAccessor(func(ctx context.Context) (element.SiblingSet, error) {
		var items []element.Element
		if p, ok := el.tree.nodes[el.parent]; ok {
			for _, id := range p.children {
				items = append(items, el.tree.nodes[id])
			}
		}
		return element.NewStaticSet(items, el.id, nil), nil
	})
}

// resolve turns the node into a live Rod element.
func (el *AXElement) resolve(ctx context.Context) (*rod.Element, error) {
	t := el.tree
	if t.page == nil {
		return nil, element.Unavailable("resolve "+el.id, errors.New("tree has no page"))
	}
	if el.backend == 0 {
		return nil, fmt.Errorf("resolve %s: %w: node has no DOM backing", el.id, element.ErrInvalidArgument)
	}
	p := t.page.Context(ctx)
	res, err := proto.DOMResolveNode{BackendNodeID: el.backend}.Call(p)
	if err != nil {
		return nil, element.Unavailable("resolve "+el.id, err)
	}
	rel, err := p.ElementFromObject(res.Object)
	if err != nil {
		return nil, element.Unavailable("resolve "+el.id, err)
	}
	return rel, nil
}

// Invoke clicks the node.
func (el *AXElement) Invoke(ctx context.Context) error {
	rel, err := el.resolve(ctx)
	if err != nil {
		return err
	}
	if err := rel.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return element.Unavailable("invoke "+el.id, err)
	}
	return nil
}

// SetText replaces the node's editable text.
func (el *AXElement) SetText(ctx context.Context, text string) error {
	rel, err := el.resolve(ctx)
	if err != nil {
		return err
	}
	if err := rel.SelectAllText(); err != nil {
		el.tree.logger.Debug("select all failed", zap.String("node", el.id), zap.Error(err))
	}
	if err := rel.Input(text); err != nil {
		return element.Unavailable("set text "+el.id, err)
	}
	return nil
}

// SendShortcut focuses the node and presses the chord.
func (el *AXElement) SendShortcut(ctx context.Context, shortcut element.Shortcut) error {
	keys, err := ParseShortcut(shortcut)
	if err != nil {
		return err
	}
	rel, err := el.resolve(ctx)
	if err != nil {
		return err
	}
	if err := rel.Focus(); err != nil {
		return element.Unavailable("focus "+el.id, err)
	}
	last := len(keys) - 1
	if err := el.tree.page.Context(ctx).KeyActions().Press(keys[:last]...).Type(keys[last]).Do(); err != nil {
		return element.Unavailable("shortcut "+el.id, err)
	}
	return nil
}

// Capture screenshots the node as PNG.
func (el *AXElement) Capture(ctx context.Context) ([]byte, error) {
	rel, err := el.resolve(ctx)
	if err != nil {
		return nil, err
	}
	img, err := rel.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, element.Unavailable("capture "+el.id, err)
	}
	return img, nil
}

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"space":      input.Space,
	"delete":     input.Delete,
	"del":        input.Delete,
	"arrowup":    input.ArrowUp,
	"up":         input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"down":       input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"left":       input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"right":      input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"ctrl":       input.ControlLeft,
	"control":    input.ControlLeft,
	"alt":        input.AltLeft,
	"option":     input.AltLeft,
	"shift":      input.ShiftLeft,
	"meta":       input.MetaLeft,
	"cmd":        input.MetaLeft,
	"win":        input.MetaLeft,
}

// ParseShortcut maps a chord such as "Ctrl+Shift+A" to Rod keys. Every key
// but the last is held while the last one is typed.
func ParseShortcut(s element.Shortcut) ([]input.Key, error) {
	names := s.Keys()
	if len(names) == 0 {
		return nil, fmt.Errorf("empty shortcut: %w", element.ErrInvalidArgument)
	}
	keys := make([]input.Key, 0, len(names))
	for _, name := range names {
		if k, ok := namedKeys[strings.ToLower(name)]; ok {
			keys = append(keys, k)
			continue
		}
		r := []rune(name)
		if len(r) != 1 {
			return nil, fmt.Errorf("unknown key %q: %w", name, element.ErrInvalidArgument)
		}
		keys = append(keys, input.Key(r[0]))
	}
	return keys, nil
}
