package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"uicontext-mcp-server/internal/element"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = `
id: win
type: top_level
name: Settings
rect: {x: 0, y: 0, width: 800, height: 600}
pid: 4242
window: 65552
children:
  - id: search
    type: text_field
    name: Search
    text: wifi
    rect: {x: 10, y: 10, width: 200, height: 24}
  - id: list
    type: list
    rect: {x: 10, y: 40, width: 200, height: 400}
    fail_children: true
  - id: ok
    type: button
    name: OK
    rect: {x: 700, y: 560, width: 80, height: 24}
    fail_text: true
`

func mustParse(t *testing.T) *Tree {
	t.Helper()
	tree, err := Parse([]byte(doc))
	require.NoError(t, err)
	return tree
}

func TestParse(t *testing.T) {
	tree := mustParse(t)
	assert.Equal(t, 4, tree.Len())

	root := tree.Root()
	assert.Equal(t, "win", root.ID())
	assert.Equal(t, element.TypeTopLevel, root.Type())
	assert.Equal(t, 4242, root.ProcessID())
	assert.Equal(t, uintptr(65552), root.WindowHandle())

	search, ok := tree.Find("search")
	require.True(t, ok)
	assert.Equal(t, element.TypeTextField, search.Type())
	assert.Equal(t, element.Rect{X: 10, Y: 10, Width: 200, Height: 24}, search.Rect())

	_, ok = tree.Find("missing")
	assert.False(t, ok)
}

func TestNavigation(t *testing.T) {
	ctx := context.Background()
	tree := mustParse(t)

	kids, err := tree.Root().Children(ctx)
	require.NoError(t, err)
	ids := make([]string, len(kids))
	for i, k := range kids {
		ids[i] = k.ID()
	}
	assert.Equal(t, []string{"search", "list", "ok"}, ids)

	parent, err := kids[0].Parent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "win", parent.ID())

	parent, err = tree.Root().Parent(ctx)
	require.NoError(t, err)
	assert.Nil(t, parent)

	assert.Equal(t, []string{"win", "list"}, element.Path(ctx, kids[1]))
}

func TestText(t *testing.T) {
	ctx := context.Background()
	tree := mustParse(t)
	search, _ := tree.Find("search")

	text, err := search.Text(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, "wifi", text)

	text, err = search.Text(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "wi", text)
	has, err := element.HasText(ctx, search)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, int64(3), tree.Reads())
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	tree := mustParse(t)

	list, _ := tree.Find("list")
	kids, err := list.Children(ctx)
	assert.Nil(t, kids)
	assert.ErrorIs(t, err, element.ErrUnavailable)

	ok, _ := tree.Find("ok")
	text, err := ok.Text(ctx, 10)
	assert.Empty(t, text)
	assert.ErrorIs(t, err, element.ErrUnavailable)
}

func TestSiblings(t *testing.T) {
	ctx := context.Background()
	tree := mustParse(t)
	list, _ := tree.Find("list")

	acc := list.Siblings()
	fwd, err := acc.Forward(ctx)
	require.NoError(t, err)
	bwd, err := acc.Backward(ctx)
	require.NoError(t, err)

	next, ok := fwd.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "ok", next.ID())
	prev, ok := bwd.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "search", prev.ID())

	opened, closed := tree.Resources()
	assert.Equal(t, int64(1), opened)
	assert.Equal(t, int64(0), closed)
	assert.Equal(t, int64(1), tree.Leaked())

	require.NoError(t, fwd.Close())
	require.NoError(t, acc.Close())
	assert.Equal(t, int64(1), tree.Leaked())
	require.NoError(t, bwd.Close())
	assert.Equal(t, int64(0), tree.Leaked())
}

func TestSiblingsFailure(t *testing.T) {
	tree, err := New(&Node{
		ID:   "root",
		Type: "container",
		Children: []*Node{
			{ID: "a", Type: "label", FailSiblings: true},
		},
	})
	require.NoError(t, err)

	a, _ := tree.Find("a")
	acc := a.Siblings()
	defer acc.Close()
	_, err = acc.Forward(context.Background())
	assert.ErrorIs(t, err, element.ErrUnavailable)
	assert.Equal(t, int64(0), tree.Leaked())
}

func TestNewRejectsBadIDs(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, element.ErrInvalidArgument)

	_, err = New(&Node{ID: "a", Children: []*Node{{ID: "a"}}})
	assert.ErrorIs(t, err, element.ErrInvalidArgument)

	_, err = New(&Node{ID: "a", Children: []*Node{{Name: "anonymous"}}})
	assert.ErrorIs(t, err, element.ErrInvalidArgument)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"r","type":"screen","children":[{"id":"c","type":"label","text":"hi"}]}`), 0o644))

	tree, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, tree.Len())
	assert.Equal(t, element.TypeScreen, tree.Root().Type())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
