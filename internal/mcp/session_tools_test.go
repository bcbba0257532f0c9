package mcp

import (
	"context"
	"errors"
	"testing"

	"uicontext-mcp-server/internal/browser"
	"uicontext-mcp-server/internal/config"
)

func TestSessionToolMetadata(t *testing.T) {
	tests := []struct {
		tool     Tool
		name     string
		required []string
	}{
		{&LaunchBrowserTool{}, "launch-browser", nil},
		{&ShutdownBrowserTool{}, "shutdown-browser", nil},
		{&ListSessionsTool{}, "list-sessions", nil},
		{&CreateSessionTool{}, "create-session", nil},
		{&AttachSessionTool{}, "attach-session", []string{"target_id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if name := tt.tool.Name(); name != tt.name {
				t.Errorf("expected name %q, got %q", tt.name, name)
			}
			if desc := tt.tool.Description(); desc == "" {
				t.Error("expected non-empty description")
			}
			schema := tt.tool.InputSchema()
			if schema["type"] != "object" {
				t.Errorf("expected object schema, got %v", schema["type"])
			}
			if _, ok := schema["properties"].(map[string]interface{}); !ok {
				t.Error("expected properties in schema")
			}
			if tt.required == nil {
				return
			}
			required, _ := schema["required"].([]string)
			if len(required) != len(tt.required) || required[0] != tt.required[0] {
				t.Errorf("expected required %v, got %v", tt.required, required)
			}
		})
	}
}

func TestCreateSessionToolSchema(t *testing.T) {
	schema := (&CreateSessionTool{}).InputSchema()
	props := schema["properties"].(map[string]interface{})
	urlProp, ok := props["url"].(map[string]interface{})
	if !ok {
		t.Fatal("expected url property in schema")
	}
	if urlProp["type"] != "string" {
		t.Errorf("expected url type 'string', got %v", urlProp["type"])
	}
}

func TestSessionToolsWithoutBrowser(t *testing.T) {
	sessions := browser.NewSessionManager(config.BrowserConfig{}, nil)
	ctx := context.Background()

	t.Run("list-sessions returns empty list", func(t *testing.T) {
		result, err := (&ListSessionsTool{sessions: sessions}).Execute(ctx, nil)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		list, ok := result.(map[string]interface{})["sessions"].([]browser.Session)
		if !ok {
			t.Fatalf("expected []browser.Session, got %T", result.(map[string]interface{})["sessions"])
		}
		if len(list) != 0 {
			t.Errorf("expected no sessions, got %d", len(list))
		}
	})

	t.Run("create-session needs a browser", func(t *testing.T) {
		_, err := (&CreateSessionTool{sessions: sessions}).Execute(ctx, map[string]interface{}{"url": "about:blank"})
		if !errors.Is(err, browser.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("attach-session requires target_id", func(t *testing.T) {
		_, err := (&AttachSessionTool{sessions: sessions}).Execute(ctx, map[string]interface{}{})
		if err == nil || err.Error() != "target_id is required" {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("attach-session needs a browser", func(t *testing.T) {
		_, err := (&AttachSessionTool{sessions: sessions}).Execute(ctx, map[string]interface{}{"target_id": "fake-target"})
		if !errors.Is(err, browser.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("shutdown-browser is a no-op", func(t *testing.T) {
		result, err := (&ShutdownBrowserTool{sessions: sessions}).Execute(ctx, nil)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if status := result.(map[string]interface{})["status"]; status != "stopped" {
			t.Errorf("expected status stopped, got %v", status)
		}
	})
}
