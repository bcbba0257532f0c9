package mangle

import (
	"context"

	"uicontext-mcp-server/internal/recorder"
)

// FactsFromSession flattens a recorded traversal into ui_node, ui_interactive,
// ui_child and traversal_step facts.
func FactsFromSession(sess *recorder.Session) []Fact {
	if sess == nil {
		return nil
	}
	ts := sess.CreatedAt
	facts := make([]Fact, 0, len(sess.Nodes)*2+len(sess.Steps))
	for _, n := range sess.Nodes {
		facts = append(facts, Fact{
			Predicate: "ui_node",
			Args:      []interface{}{n.ID, n.Type.String(), n.Name, n.IsAnchor},
			Timestamp: ts,
		})
		if n.Type.Interactive() {
			facts = append(facts, Fact{Predicate: "ui_interactive", Args: []interface{}{n.ID}, Timestamp: ts})
		}
		for _, c := range n.ChildIDs {
			facts = append(facts, Fact{Predicate: "ui_child", Args: []interface{}{n.ID, c}, Timestamp: ts})
		}
	}
	for _, st := range sess.Steps {
		facts = append(facts, Fact{
			Predicate: "traversal_step",
			Args:      []interface{}{st.Index, st.NodeID, string(st.Action), st.AccumulatedTokens},
			Timestamp: ts,
		})
	}
	return facts
}

// LoadSession replaces the fact base with the facts of sess.
func (e *Engine) LoadSession(ctx context.Context, sess *recorder.Session) error {
	e.Reset()
	return e.AddFacts(ctx, FactsFromSession(sess))
}
