package selection

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"uicontext-mcp-server/internal/element"
	"uicontext-mcp-server/internal/element/snapshot"
	"uicontext-mcp-server/internal/recorder"

	"pgregory.net/rapid"
)

var words = []string{"", "", "ok", "cancel", "name", "search settings", "設定", "ok", "a much longer label for a field"}

var kinds = []string{"container", "label", "button", "text_field", "list", "list_item", "image", "top_level"}

type generated struct {
	root    *snapshot.Node
	anchors []string
	budget  int
	opts    Options
}

func drawTree(t *rapid.T) generated {
	n := rapid.IntRange(1, 40).Draw(t, "nodes")
	nodes := make([]*snapshot.Node, n)
	for i := range nodes {
		node := &snapshot.Node{
			ID:   fmt.Sprintf("n%d", i),
			Type: rapid.SampledFrom(kinds).Draw(t, "type"),
			Name: rapid.SampledFrom(words).Draw(t, "name"),
			Text: rapid.SampledFrom(words).Draw(t, "text"),
		}
		if rapid.IntRange(0, 9).Draw(t, "area") > 0 {
			node.Rect = element.Rect{Width: 10, Height: 10}
		}
		node.Offscreen = rapid.IntRange(0, 9).Draw(t, "offscreen") == 0
		node.FailChildren = rapid.IntRange(0, 14).Draw(t, "failChildren") == 0
		node.FailText = rapid.IntRange(0, 14).Draw(t, "failText") == 0
		node.FailSiblings = rapid.IntRange(0, 9).Draw(t, "failSiblings") == 0
		node.FailParent = rapid.IntRange(0, 14).Draw(t, "failParent") == 0
		nodes[i] = node
		if i > 0 {
			p := nodes[rapid.IntRange(0, i-1).Draw(t, "parent")]
			p.Children = append(p.Children, node)
		}
	}

	count := rapid.IntRange(1, 3).Draw(t, "anchors")
	anchors := make([]string, count)
	for i := range anchors {
		anchors[i] = nodes[rapid.IntRange(0, n-1).Draw(t, "anchor")].ID
	}

	policy := PolicyPrune
	if rapid.Bool().Draw(t, "skip") {
		policy = PolicySkip
	}
	return generated{
		root:    nodes[0],
		anchors: anchors,
		budget:  rapid.IntRange(1, 60).Draw(t, "budget"),
		opts: Options{
			Policy:           policy,
			SiblingWindow:    rapid.IntRange(-1, 4).Draw(t, "window"),
			MaxAncestorDepth: rapid.IntRange(-1, 3).Draw(t, "ancestors"),
			MaxSteps:         rapid.IntRange(0, 30).Draw(t, "maxSteps"),
		},
	}
}

type run struct {
	res   *Result
	sess  *recorder.Session
	tree  *snapshot.Tree
	trace []byte
}

func selectOnce(t *rapid.T, g generated, observe bool) run {
	tree, err := snapshot.New(g.root)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	anchors := make([]element.Element, len(g.anchors))
	for i, id := range g.anchors {
		anchors[i], _ = tree.Find(id)
	}

	var rec *recorder.Recorder
	req := Request{Anchors: anchors, Budget: g.budget}
	if observe {
		rec = recorder.New(Algorithm, g.budget)
		req.Observer = rec
	}
	res, err := NewEngine(WithOptions(g.opts)).Select(context.Background(), req)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	out := run{res: res, tree: tree}
	if rec != nil {
		out.sess = rec.Session()
		out.trace, _ = json.Marshal(out.sess.Steps)
	}
	return out
}

func TestSelectionProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := drawTree(t)
		a := selectOnce(t, g, true)

		// Budget is a hard bound and the total is the sum of the items.
		sum := 0
		for _, it := range a.res.Items {
			sum += it.Tokens
		}
		if sum != a.res.TotalTokens {
			t.Fatalf("items sum to %d, total says %d", sum, a.res.TotalTokens)
		}
		if a.res.TotalTokens > g.budget {
			t.Fatalf("total %d exceeds budget %d", a.res.TotalTokens, g.budget)
		}
		if g.opts.MaxSteps > 0 && a.res.Steps > g.opts.MaxSteps {
			t.Fatalf("%d steps exceed cap %d", a.res.Steps, g.opts.MaxSteps)
		}

		// At most one terminal action per node, always after its enqueue.
		enqueued := map[string]bool{}
		terminal := map[string]recorder.Action{}
		visits := 0
		for i, st := range a.sess.Steps {
			if st.Index != i {
				t.Fatalf("step %d has index %d", i, st.Index)
			}
			if st.Action == recorder.ActionEnqueue {
				if enqueued[st.NodeID] {
					t.Fatalf("%s enqueued twice", st.NodeID)
				}
				enqueued[st.NodeID] = true
				continue
			}
			if !enqueued[st.NodeID] {
				t.Fatalf("%s decided before it was enqueued", st.NodeID)
			}
			if prev, dup := terminal[st.NodeID]; dup {
				t.Fatalf("%s got %s after %s", st.NodeID, st.Action, prev)
			}
			terminal[st.NodeID] = st.Action
			if st.Action == recorder.ActionVisit {
				visits++
			}
			if st.AccumulatedTokens > g.budget {
				t.Fatalf("accumulated %d exceeds budget", st.AccumulatedTokens)
			}
		}
		if len(terminal) != a.res.Steps {
			t.Fatalf("result reports %d steps, recorder saw %d", a.res.Steps, len(terminal))
		}
		if visits != len(a.res.Items) {
			t.Fatalf("%d visits but %d items", visits, len(a.res.Items))
		}
		for _, it := range a.res.Items {
			if terminal[it.ID] != recorder.ActionVisit {
				t.Fatalf("item %s was not visited", it.ID)
			}
		}
		if g.opts.Policy == PolicySkip {
			for id, act := range terminal {
				if act == recorder.ActionPrune {
					t.Fatalf("%s pruned under skip policy", id)
				}
			}
		}

		// Every sibling set acquired during the walk was released.
		if leaked := a.tree.Leaked(); leaked != 0 {
			t.Fatalf("%d sibling sets leaked", leaked)
		}

		// Same input, same output and same trace.
		b := selectOnce(t, g, true)
		ra, _ := json.Marshal(a.res)
		rb, _ := json.Marshal(b.res)
		if string(ra) != string(rb) {
			t.Fatalf("selection not deterministic:\n%s\n%s", ra, rb)
		}
		if string(a.trace) != string(b.trace) {
			t.Fatalf("trace not deterministic")
		}

		// Recording does not change the selection.
		c := selectOnce(t, g, false)
		rc, _ := json.Marshal(c.res)
		if string(ra) != string(rc) {
			t.Fatalf("recorder changed the selection:\n%s\n%s", ra, rc)
		}
	})
}
