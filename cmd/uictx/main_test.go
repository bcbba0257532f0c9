package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = `
id: win
type: top_level
text: Settings
rect: {x: 0, y: 0, width: 400, height: 300}
children:
  - {id: search, type: text_field, name: Search, text: wifi, rect: {x: 5, y: 5, width: 200, height: 20}}
  - {id: ok, type: button, text: OK, rect: {x: 5, y: 40, width: 50, height: 20}}
  - {id: cancel, type: button, text: Cancel, rect: {x: 60, y: 40, width: 50, height: 20}}
`

func writeDoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ui.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

type decoded struct {
	Items []struct {
		ID     string `json:"id"`
		Tokens int    `json:"tokens"`
	} `json:"items"`
	TotalTokens   int    `json:"total_tokens"`
	Budget        int    `json:"budget"`
	TraversalID   string `json:"traversal_id"`
	TraversalPath string `json:"traversal_path"`
}

func runCLI(t *testing.T, args ...string) decoded {
	t.Helper()
	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), args, &stdout, io.Discard))
	var out decoded
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	return out
}

func TestRunDefaultsToRoot(t *testing.T) {
	out := runCLI(t, "-snapshot", writeDoc(t))
	require.NotEmpty(t, out.Items)
	assert.Equal(t, "win", out.Items[0].ID)
	assert.Equal(t, 2000, out.Budget)
	assert.Len(t, out.Items, 4)
	assert.Empty(t, out.TraversalID)
}

func TestRunAnchorsAndBudget(t *testing.T) {
	out := runCLI(t, "-snapshot", writeDoc(t), "-anchor", "ok, cancel", "-budget", "50", "-policy", "skip")
	require.NotEmpty(t, out.Items)
	assert.Contains(t, []string{"ok", "cancel"}, out.Items[0].ID)
	assert.Equal(t, 50, out.Budget)
	assert.LessOrEqual(t, out.TotalTokens, 50)
}

func TestRunSavesTraversal(t *testing.T) {
	dir := t.TempDir()
	out := runCLI(t, "-snapshot", writeDoc(t), "-anchor", "search", "-save", dir)
	require.NotEmpty(t, out.TraversalID)
	assert.Equal(t, dir, filepath.Dir(out.TraversalPath))

	raw, err := os.ReadFile(out.TraversalPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), out.TraversalID)
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, run(ctx, nil, io.Discard, io.Discard))
	assert.Error(t, run(ctx, []string{"-snapshot", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard, io.Discard))
	assert.ErrorContains(t, run(ctx, []string{"-snapshot", writeDoc(t), "-anchor", "ghost"}, io.Discard, io.Discard), "ghost")
	assert.Error(t, run(ctx, []string{"-snapshot", writeDoc(t), "-policy", "random"}, io.Discard, io.Discard))
	assert.Error(t, run(ctx, []string{"-snapshot", writeDoc(t), "-budget", "-5"}, io.Discard, io.Discard))
}
