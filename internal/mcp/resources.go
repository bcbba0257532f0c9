package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"uictx://about",
			"UI Context About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info and the active selection defaults."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"uictx://traversal/{id}",
			"Traversal Session",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("A saved traversal session: every node discovered and every step taken."),
		),
		s.handleTraversalResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	opts := s.selector.engine.Options()
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"selection": map[string]interface{}{
			"default_budget":     s.cfg.Selection.DefaultBudget,
			"policy":             opts.Policy.String(),
			"estimator":          s.cfg.Selection.Estimator,
			"sibling_window":     opts.SiblingWindow,
			"max_ancestor_depth": opts.MaxAncestorDepth,
			"max_steps":          opts.MaxSteps,
		},
		"traversal_dir": s.store.Dir(),
		"notes": []string{
			"Resources are read-only context endpoints; use tools for actions.",
			"Run select-ui-context with record=true to save a traversal, then read uictx://traversal/{id}.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonResource(request.Params.URI, payload)
}

func (s *Server) handleTraversalResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := argString(request.Params.Arguments["id"])
	if id == "" {
		return nil, fmt.Errorf("missing id")
	}
	sess, err := s.store.Load(id)
	if err != nil {
		return nil, err
	}
	return jsonResource(request.Params.URI, sess)
}

func jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}
