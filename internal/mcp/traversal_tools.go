package mcp

import (
	"context"
	"fmt"
	"sort"

	"uicontext-mcp-server/internal/config"
	"uicontext-mcp-server/internal/mangle"
	"uicontext-mcp-server/internal/recorder"

	"go.uber.org/zap"
)

type ListTraversalsTool struct {
	store *recorder.Store
}

func (t *ListTraversalsTool) Name() string { return "list-traversals" }
func (t *ListTraversalsTool) Description() string {
	return `List saved traversal sessions, newest first.

A traversal is saved when a selection runs with record=true (or with
recorder.enable in the config). Use the id with query-traversal or read
uictx://traversal/{id}.

Returns: {traversals: [{id, path, saved_at}], dir}`
}
func (t *ListTraversalsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum entries to return (default: all)",
			},
		},
	}
}
func (t *ListTraversalsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	entries, err := t.store.List()
	if err != nil {
		return nil, err
	}
	if limit := getIntArg(args, "limit", 0); limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []recorder.Entry{}
	}
	return map[string]interface{}{
		"traversals": entries,
		"dir":        t.store.Dir(),
	}, nil
}

// QueryTraversalTool loads one saved traversal into a fresh Datalog engine
// and answers a query over it.
type QueryTraversalTool struct {
	store  *recorder.Store
	cfg    config.MangleConfig
	logger *zap.Logger
}

func (t *QueryTraversalTool) Name() string { return "query-traversal" }
func (t *QueryTraversalTool) Description() string {
	return `Ask Datalog questions about a saved traversal.

FACTS:
- ui_node(Id, Type, Name, IsAnchor)
- ui_interactive(Id)
- ui_child(Parent, Child)
- traversal_step(Index, Id, Action, Tokens)

DERIVED (builtin rules plus mangle.schema_path):
- selected(Id), excluded(Id), pruned(Id), anchor(Id)
- selected_interactive(Id), unvisited_child(Parent, Child)
- missed_interactive(Id), truncated_anchor(Id)

EXAMPLES:
- predicate: "missed_interactive"
- query: "traversal_step(I, Id, \"prune\", T)"
- rules: "costly(Id) :- traversal_step(_, Id, \"visit\", T), T >= 500." then predicate "costly"

With neither query nor predicate, returns the declared predicates, their arities
and how many facts the traversal loaded for each base predicate.`
}
func (t *QueryTraversalTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Traversal id from list-traversals",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Datalog atom with variables, e.g. selected(Id)",
			},
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Return every fact of this predicate",
			},
			"rules": map[string]interface{}{
				"type":        "string",
				"description": "Extra rules added before the traversal is loaded",
			},
		},
		"required": []string{"id"},
	}
}
func (t *QueryTraversalTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "id")
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	sess, err := t.store.Load(id)
	if err != nil {
		return nil, err
	}

	engine, err := mangle.NewEngine(t.cfg, t.logger)
	if err != nil {
		return nil, err
	}
	if !engine.Ready() {
		return nil, fmt.Errorf("traversal analysis unavailable: %w", mangle.ErrNotReady)
	}
	if rules := getStringArg(args, "rules"); rules != "" {
		if err := engine.AddRule(rules); err != nil {
			return nil, fmt.Errorf("invalid rules: %w", err)
		}
	}
	if err := engine.LoadSession(ctx, sess); err != nil {
		return nil, err
	}

	if query := getStringArg(args, "query"); query != "" {
		results, err := engine.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		if results == nil {
			results = []mangle.QueryResult{}
		}
		return map[string]interface{}{
			"id":      id,
			"query":   query,
			"results": results,
			"count":   len(results),
		}, nil
	}

	if predicate := getStringArg(args, "predicate"); predicate != "" {
		facts, err := engine.Evaluate(ctx, predicate)
		if err != nil {
			return nil, err
		}
		rows := make([][]interface{}, 0, len(facts))
		for _, f := range facts {
			rows = append(rows, f.Args)
		}
		return map[string]interface{}{
			"id":        id,
			"predicate": predicate,
			"facts":     rows,
			"count":     len(rows),
		}, nil
	}

	arities := engine.Predicates()
	names := make([]string, 0, len(arities))
	for name := range arities {
		names = append(names, name)
	}
	sort.Strings(names)
	return map[string]interface{}{
		"id":          id,
		"predicates":  names,
		"arities":     arities,
		"fact_counts": engine.FactCounts(),
	}, nil
}
