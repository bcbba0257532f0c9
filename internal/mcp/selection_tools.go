package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"uicontext-mcp-server/internal/browser"
	"uicontext-mcp-server/internal/config"
	"uicontext-mcp-server/internal/element"
	"uicontext-mcp-server/internal/element/snapshot"
	"uicontext-mcp-server/internal/metrics"
	"uicontext-mcp-server/internal/recorder"
	"uicontext-mcp-server/internal/selection"

	"go.uber.org/zap"
)

// selector runs one selection for a tool call: it applies per-call
// overrides, records the traversal when asked and reports metrics.
type selector struct {
	cfg     config.Config
	engine  *selection.Engine
	store   *recorder.Store
	metrics *metrics.Collector
	logger  *zap.Logger
}

func (s *selector) run(ctx context.Context, anchors []element.Element, args map[string]interface{}) (map[string]interface{}, error) {
	budget := getIntArg(args, "budget", s.cfg.Selection.DefaultBudget)
	engine := s.engine
	if raw := getStringArg(args, "policy"); raw != "" {
		policy, err := selection.ParsePolicy(raw)
		if err != nil {
			return nil, err
		}
		engine = engine.With(selection.WithPolicy(policy))
	}
	policy := engine.Options().Policy

	var observers []recorder.Observer
	var rec *recorder.Recorder
	if getBoolArg(args, "record", s.cfg.Recorder.Enable) {
		rec = recorder.New(selection.Algorithm, budget)
		observers = append(observers, rec)
	}
	if s.metrics != nil {
		observers = append(observers, s.metrics.Observer())
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Selection.GetTimeout())
	defer cancel()

	start := time.Now()
	res, err := engine.Select(ctx, selection.Request{
		Anchors:  anchors,
		Budget:   budget,
		Observer: recorder.Tee(observers...),
	})
	if s.metrics != nil {
		s.metrics.RecordSelection(policy, res, err, time.Since(start))
	}
	if err != nil && !errors.Is(err, selection.ErrCancelled) {
		return nil, err
	}

	payload := map[string]interface{}{
		"policy": policy.String(),
		"result": res,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	if rec != nil {
		path, saveErr := s.store.Save(rec)
		if saveErr != nil {
			s.logger.Warn("failed to save traversal", zap.String("traversal_id", rec.ID()), zap.Error(saveErr))
			payload["record_error"] = saveErr.Error()
		} else {
			payload["traversal_id"] = rec.ID()
			payload["traversal_path"] = path
		}
	}
	return payload, nil
}

// anchorSchema is shared by the selection tools.
func anchorSchema(extra map[string]interface{}) map[string]interface{} {
	props := map[string]interface{}{
		"anchors": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Node ids to start from. Several anchors are seeded together.",
		},
		"budget": map[string]interface{}{
			"type":        "integer",
			"description": "Token budget for the selection (default: selection.default_budget)",
		},
		"policy": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"prune", "skip"},
			"description": "What to do with a node that does not fit: prune its subtree or skip it and keep expanding",
		},
		"record": map[string]interface{}{
			"type":        "boolean",
			"description": "Save the traversal session for list-traversals/query-traversal",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
}

// lookupAnchors resolves ids through find; unknown ids are an error.
func lookupAnchors(ids []string, find func(string) (element.Element, bool)) ([]element.Element, error) {
	anchors := make([]element.Element, 0, len(ids))
	for _, id := range ids {
		el, ok := find(id)
		if !ok {
			return nil, fmt.Errorf("unknown anchor %q", id)
		}
		anchors = append(anchors, el)
	}
	return anchors, nil
}

// SelectUIContextTool selects the accessibility nodes around an anchor on a
// live page.
type SelectUIContextTool struct {
	sessions *browser.SessionManager
	selector *selector
}

func (t *SelectUIContextTool) Name() string { return "select-ui-context" }
func (t *SelectUIContextTool) Description() string {
	return `Select the most relevant accessibility nodes around an anchor, within a token budget.

Starting from the anchor, the walk expands to parents, children and nearby
siblings in best-first order. Each node's text is charged against the budget;
offscreen, zero-size and duplicate nodes are skipped.

ANCHOR (first match wins):
1. anchors: explicit AX node ids
2. anchor_name (+ optional anchor_role): first node with that accessible name
3. the focused node
4. the page root

Returns: {result: {items: [{id, type, name, rect, text, score, tokens}],
total_tokens, budget, steps}, traversal_id?}
A selection cut short by its timeout returns the partial result plus "error".`
}
func (t *SelectUIContextTool) InputSchema() map[string]interface{} {
	schema := anchorSchema(map[string]interface{}{
		"session_id": map[string]interface{}{
			"type":        "string",
			"description": "Session whose page is captured",
		},
		"anchor_name": map[string]interface{}{
			"type":        "string",
			"description": "Accessible name of the anchor (case-insensitive)",
		},
		"anchor_role": map[string]interface{}{
			"type":        "string",
			"description": "Optional AX role narrowing anchor_name (e.g. button, textbox)",
		},
	})
	schema["required"] = []string{"session_id"}
	return schema
}
func (t *SelectUIContextTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	page, ok := t.sessions.Page(sessionID)
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}

	// Rects are fetched lazily under the capture context, so it has to
	// outlive the selection.
	cfg := t.selector.cfg
	ctx, cancel := context.WithTimeout(ctx, cfg.Browser.GetCaptureTimeout()+cfg.Selection.GetTimeout())
	defer cancel()

	tree, err := browser.Capture(ctx, page, t.selector.logger)
	if err != nil {
		return nil, err
	}
	meta := touchSession(ctx, t.sessions, sessionID, page, t.selector.logger)

	anchors, err := t.anchors(tree, args)
	if err != nil {
		return nil, err
	}

	payload, err := t.selector.run(ctx, anchors, args)
	if err != nil {
		return nil, err
	}
	payload["session_id"] = sessionID
	payload["url"] = meta.URL
	payload["title"] = meta.Title
	payload["nodes"] = tree.Len()
	return payload, nil
}

func (t *SelectUIContextTool) anchors(tree *browser.AXTree, args map[string]interface{}) ([]element.Element, error) {
	if ids := getStringSliceArg(args, "anchors"); len(ids) > 0 {
		return lookupAnchors(ids, tree.Find)
	}
	if name := getStringArg(args, "anchor_name"); name != "" {
		role := getStringArg(args, "anchor_role")
		el, ok := tree.FindByName(role, name)
		if !ok {
			return nil, fmt.Errorf("no node named %q", name)
		}
		return []element.Element{el}, nil
	}
	if el, ok := tree.Focused(); ok {
		return []element.Element{el}, nil
	}
	return []element.Element{tree.Root()}, nil
}

// SelectSnapshotTool runs a selection over a snapshot document on disk.
type SelectSnapshotTool struct {
	selector *selector
}

func (t *SelectSnapshotTool) Name() string { return "select-snapshot" }
func (t *SelectSnapshotTool) Description() string {
	return `Run a selection over a saved UI snapshot (YAML or JSON) instead of a live page.

WHEN TO USE:
- Reproducing a selection offline
- Tuning budget and policy without a browser

Anchors default to the snapshot root. Output matches select-ui-context.`
}
func (t *SelectSnapshotTool) InputSchema() map[string]interface{} {
	schema := anchorSchema(map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Path of the snapshot document",
		},
	})
	schema["required"] = []string{"path"}
	return schema
}
func (t *SelectSnapshotTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path := getStringArg(args, "path")
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	tree, err := snapshot.Load(path)
	if err != nil {
		return nil, err
	}

	anchors := []element.Element{tree.Root()}
	if ids := getStringSliceArg(args, "anchors"); len(ids) > 0 {
		if anchors, err = lookupAnchors(ids, tree.Find); err != nil {
			return nil, err
		}
	}

	payload, err := t.selector.run(ctx, anchors, args)
	if err != nil {
		return nil, err
	}
	payload["nodes"] = tree.Len()
	return payload, nil
}
