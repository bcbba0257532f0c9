package mcp

import (
	"context"
	"encoding/base64"
	"fmt"

	"uicontext-mcp-server/internal/browser"
	"uicontext-mcp-server/internal/config"
	"uicontext-mcp-server/internal/element"

	"go.uber.org/zap"
)

// ActElementTool performs a point operation on one accessibility node.
type ActElementTool struct {
	sessions *browser.SessionManager
	cfg      config.BrowserConfig
	logger   *zap.Logger
}

func (t *ActElementTool) Name() string { return "act-element" }
func (t *ActElementTool) Description() string {
	return `Act on a node returned by select-ui-context.

ACTIONS:
- invoke:   click the node
- set_text: replace the node's text with "text"
- shortcut: press a key chord such as "Ctrl+A" or "Shift+Tab" ("keys")
- capture:  PNG screenshot of the node, base64 encoded

Node ids are accessibility node ids and stay valid while the page's DOM
does; after navigation run select-ui-context again.`
}
func (t *ActElementTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session owning the node",
			},
			"node_id": map[string]interface{}{
				"type":        "string",
				"description": "Accessibility node id",
			},
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"invoke", "set_text", "shortcut", "capture"},
				"description": "Operation to perform",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Text for set_text",
			},
			"keys": map[string]interface{}{
				"type":        "string",
				"description": "Key chord for shortcut, modifiers joined with +",
			},
		},
		"required": []string{"session_id", "node_id", "action"},
	}
}
func (t *ActElementTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	nodeID := getStringArg(args, "node_id")
	action := getStringArg(args, "action")
	if sessionID == "" || nodeID == "" {
		return nil, fmt.Errorf("session_id and node_id are required")
	}

	var op func(context.Context, element.Actor) (map[string]interface{}, error)
	switch action {
	case "invoke":
		op = func(ctx context.Context, a element.Actor) (map[string]interface{}, error) {
			return nil, a.Invoke(ctx)
		}
	case "set_text":
		text := getStringArg(args, "text")
		op = func(ctx context.Context, a element.Actor) (map[string]interface{}, error) {
			return nil, a.SetText(ctx, text)
		}
	case "shortcut":
		keys := element.Shortcut(getStringArg(args, "keys"))
		if _, err := browser.ParseShortcut(keys); err != nil {
			return nil, err
		}
		op = func(ctx context.Context, a element.Actor) (map[string]interface{}, error) {
			return nil, a.SendShortcut(ctx, keys)
		}
	case "capture":
		op = func(ctx context.Context, a element.Actor) (map[string]interface{}, error) {
			png, err := a.Capture(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"mime_type":    "image/png",
				"image_base64": base64.StdEncoding.EncodeToString(png),
			}, nil
		}
	default:
		return nil, fmt.Errorf("unknown action %q (want invoke, set_text, shortcut or capture)", action)
	}

	page, ok := t.sessions.Page(sessionID)
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.GetCaptureTimeout())
	defer cancel()

	tree, err := browser.Capture(ctx, page, t.logger)
	if err != nil {
		return nil, err
	}
	el, ok := tree.Find(nodeID)
	if !ok {
		return nil, fmt.Errorf("node not found: %s", nodeID)
	}
	actor, ok := el.(element.Actor)
	if !ok {
		return nil, fmt.Errorf("node %s does not support actions", nodeID)
	}

	payload, err := op(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", action, nodeID, err)
	}
	meta := touchSession(ctx, t.sessions, sessionID, page, t.logger)
	return actPayload(ctx, sessionID, meta.URL, el, action, payload), nil
}

// actPayload reports a completed action. path lists the node's ancestry,
// root first.
func actPayload(ctx context.Context, sessionID, url string, el element.Element, action string, extra map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{}
	for k, v := range extra {
		payload[k] = v
	}
	payload["session_id"] = sessionID
	payload["url"] = url
	payload["node_id"] = el.ID()
	payload["path"] = element.Path(ctx, el)
	payload["action"] = action
	payload["status"] = "ok"
	return payload
}
