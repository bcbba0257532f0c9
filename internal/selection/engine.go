// Package selection picks a token-bounded slice of an accessibility tree
// around one or more anchor nodes.
//
// The engine runs a best-first walk: anchors seed a frontier at a high
// score, each popped node is read, costed and then visited, skipped or
// pruned, and its neighbors are scored into the frontier. Ties pop in
// discovery order, so the same snapshot, anchors, budget and strategies
// always produce the same selection and the same step log.
package selection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"uicontext-mcp-server/internal/element"
	"uicontext-mcp-server/internal/recorder"
	"uicontext-mcp-server/internal/tokens"

	"go.uber.org/zap"
)

// Algorithm names the traversal in recorded sessions.
const Algorithm = "best-first"

var (
	ErrInvalidBudget = errors.New("token budget must be positive")
	ErrNoAnchors     = errors.New("at least one anchor is required")
	ErrNilAnchor     = errors.New("anchor is nil")
	ErrCancelled     = errors.New("selection cancelled")
)

// Policy decides what happens to a node that does not fit the remaining budget.
type Policy int

const (
	// PolicyPrune excludes the node and its whole subtree, then keeps
	// searching the frontier for cheaper nodes.
	PolicyPrune Policy = iota
	// PolicySkip excludes the node but still expands its children.
	PolicySkip
)

func (p Policy) String() string {
	if p == PolicySkip {
		return "skip"
	}
	return "prune"
}

// ParsePolicy accepts "prune" and "skip"; empty means prune.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "prune":
		return PolicyPrune, nil
	case "skip":
		return PolicySkip, nil
	}
	return PolicyPrune, fmt.Errorf("unknown over-budget policy %q", s)
}

// Options tune the walk. Zero values fall back to the defaults below.
type Options struct {
	Policy           Policy
	MaxTextLength    int
	SiblingWindow    int
	MaxAncestorDepth int
	// MaxSteps caps terminal decisions; 0 means unlimited.
	MaxSteps int
}

const (
	DefaultMaxTextLength    = 2000
	DefaultSiblingWindow    = 3
	DefaultMaxAncestorDepth = 2
)

// Request is the input of one selection.
type Request struct {
	Anchors []element.Element
	Budget  int
	// Scorer, Estimator and Observer override the engine defaults when set.
	Scorer    Scorer
	Estimator tokens.Estimator
	Observer  recorder.Observer
}

// Item is one selected node.
type Item struct {
	ID     string       `json:"id"`
	Type   element.Type `json:"type"`
	Name   string       `json:"name,omitempty"`
	Rect   element.Rect `json:"rect"`
	Text   string       `json:"text"`
	Score  float64      `json:"score"`
	Tokens int          `json:"tokens"`
}

// Result is the ordered selection, in Visit order.
type Result struct {
	Items       []Item `json:"items"`
	TotalTokens int    `json:"total_tokens"`
	Budget      int    `json:"budget"`
	// Steps counts terminal decisions (visit, skip, prune).
	Steps     int  `json:"steps"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// Outcome is delivered by SelectAsync.
type Outcome struct {
	Result *Result
	Err    error
}

// Engine holds immutable defaults; every Select call owns its own state, so
// one Engine may serve concurrent selections.
type Engine struct {
	opts      Options
	scorer    Scorer
	estimator tokens.Estimator
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithOptions(o Options) Option { return func(e *Engine) { e.opts = o } }

func WithPolicy(p Policy) Option { return func(e *Engine) { e.opts.Policy = p } }

func WithScorer(s Scorer) Option { return func(e *Engine) { e.scorer = s } }

func WithEstimator(t tokens.Estimator) Option { return func(e *Engine) { e.estimator = t } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine builds an engine with the default scorer and heuristic estimator.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		scorer:    DefaultScorer(),
		estimator: tokens.Heuristic{},
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.opts.MaxTextLength == 0 {
		e.opts.MaxTextLength = DefaultMaxTextLength
	}
	if e.opts.SiblingWindow == 0 {
		e.opts.SiblingWindow = DefaultSiblingWindow
	}
	if e.opts.MaxAncestorDepth == 0 {
		e.opts.MaxAncestorDepth = DefaultMaxAncestorDepth
	}
	return e
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// With returns a copy of the engine with opts applied on top of its settings.
func (e *Engine) With(opts ...Option) *Engine {
	c := *e
	for _, o := range opts {
		o(&c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return &c
}

// Select walks the tree around req.Anchors and returns the nodes that fit
// req.Budget. Node-level failures are absorbed into the step log. Invalid
// requests fail before any tree access. On cancellation the partial result
// is returned together with an error wrapping ErrCancelled and ctx.Err().
func (e *Engine) Select(ctx context.Context, req Request) (*Result, error) {
	if req.Budget <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBudget, req.Budget)
	}
	if len(req.Anchors) == 0 {
		return nil, ErrNoAnchors
	}
	for i, a := range req.Anchors {
		if a == nil {
			return nil, fmt.Errorf("%w: index %d", ErrNilAnchor, i)
		}
	}

	t := &traversal{
		ctx:       ctx,
		opts:      e.opts,
		scorer:    e.scorer,
		estimator: e.estimator,
		observer:  recorder.Observer(recorder.Nop{}),
		logger:    e.logger,
		budget:    req.Budget,
		arena:     make(map[string]*node),
		emitted:   make(map[string]bool),
		res:       &Result{Items: []Item{}, Budget: req.Budget},
	}
	if req.Scorer != nil {
		t.scorer = req.Scorer
	}
	if req.Estimator != nil {
		t.estimator = req.Estimator
	}
	if req.Observer != nil {
		t.observer = req.Observer
	}

	start := time.Now()
	t.seed(req.Anchors)
	err := t.run()
	e.logger.Debug("selection finished",
		zap.Int("anchors", len(req.Anchors)),
		zap.Int("budget", req.Budget),
		zap.Int("items", len(t.res.Items)),
		zap.Int("tokens", t.res.TotalTokens),
		zap.Int("steps", t.res.Steps),
		zap.Int("discovered", len(t.arena)),
		zap.Bool("cancelled", t.res.Cancelled),
		zap.Duration("elapsed", time.Since(start)))
	return t.res, err
}

// SelectAsync runs Select on its own goroutine. The returned channel
// yields exactly one Outcome and is then closed; cancel ctx to abort.
func (e *Engine) SelectAsync(ctx context.Context, req Request) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		res, err := e.Select(ctx, req)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}

// node is an arena entry: value fields are captured once at discovery.
type node struct {
	el        element.Element
	id        string
	typ       element.Type
	name      string
	rect      element.Rect
	offscreen bool
	anchor    bool
	relation  Relation
	distance  int
	// ascent counts consecutive parent hops from the anchor.
	ascent  int
	score   float64
	visited bool
}

type neighbor struct {
	el       element.Element
	relation Relation
	offset   int
	// edge is the parent/child link to record: {parent, child}.
	edge [2]string
}

type traversal struct {
	ctx       context.Context
	opts      Options
	scorer    Scorer
	estimator tokens.Estimator
	observer  recorder.Observer
	logger    *zap.Logger

	budget   int
	arena    map[string]*node
	frontier frontier
	seq      int
	emitted  map[string]bool
	res      *Result

	// interrupted is set when a read failed because ctx was cancelled.
	interrupted bool
}

func (t *traversal) remaining() int { return t.budget - t.res.TotalTokens }

func (t *traversal) seed(anchors []element.Element) {
	for _, a := range anchors {
		t.discover(a, nil, Candidate{Relation: RelationAnchor}, [2]string{}, "anchor")
	}
}

// run pops the frontier until it drains, the budget or step cap is spent,
// or ctx is cancelled. Cancellation is reported only when it stopped the
// loop or cut a node read short; a walk that finished on its own is not
// cancelled by a ctx that expires afterwards.
func (t *traversal) run() error {
	for t.frontier.Len() > 0 {
		if t.remaining() <= 0 || (t.opts.MaxSteps > 0 && t.res.Steps >= t.opts.MaxSteps) {
			break
		}
		if t.ctx.Err() != nil {
			return t.cancelled()
		}
		ent := t.frontier.pop()
		n := t.arena[ent.id]
		if n == nil || n.visited {
			continue
		}
		n.visited = true
		t.process(n)
	}
	if t.interrupted {
		return t.cancelled()
	}
	return nil
}

func (t *traversal) cancelled() error {
	t.res.Cancelled = true
	return fmt.Errorf("%w: %w", ErrCancelled, t.ctx.Err())
}

// readFailed marks the walk interrupted when a failed read was caused by
// cancellation rather than by the tree.
func (t *traversal) readFailed() {
	if t.ctx.Err() != nil {
		t.interrupted = true
	}
}

func (t *traversal) process(n *node) {
	var text string
	has, err := element.HasText(t.ctx, n.el)
	if err == nil && has {
		text, err = n.el.Text(t.ctx, t.opts.MaxTextLength)
	}
	if err != nil {
		t.readFailed()
		t.logger.Debug("text unavailable", zap.String("node", n.id), zap.Error(err))
		t.step(n, recorder.ActionSkip, "error reading text: "+err.Error())
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = strings.TrimSpace(n.name)
	}
	cost := t.estimator.Estimate(text)
	if cost < 0 {
		cost = 0
	}

	if reason := t.ineligible(n, text); reason != "" {
		next, note := t.neighbors(n)
		t.step(n, recorder.ActionSkip, reason+note)
		t.enqueue(n, next)
		return
	}

	if cost > t.remaining() {
		reason := fmt.Sprintf("over budget: cost %d > remaining %d", cost, t.remaining())
		if t.opts.Policy == PolicyPrune {
			t.step(n, recorder.ActionPrune, reason)
			return
		}
		next, note := t.neighbors(n)
		t.step(n, recorder.ActionSkip, reason+note)
		t.enqueue(n, next)
		return
	}

	next, note := t.neighbors(n)
	t.res.TotalTokens += cost
	if text != "" {
		t.emitted[text] = true
	}
	t.res.Items = append(t.res.Items, Item{
		ID:     n.id,
		Type:   n.typ,
		Name:   n.name,
		Rect:   n.rect,
		Text:   text,
		Score:  n.score,
		Tokens: cost,
	})
	t.step(n, recorder.ActionVisit, fmt.Sprintf("fits budget: cost %d", cost)+note)
	t.enqueue(n, next)
}

// ineligible returns a skip reason for nodes excluded regardless of budget.
func (t *traversal) ineligible(n *node, text string) string {
	switch {
	case n.offscreen:
		return "offscreen"
	case n.rect.Empty() && n.typ != element.TypeTopLevel && n.typ != element.TypeScreen:
		return "zero area"
	case text != "" && t.emitted[text]:
		return "duplicate text"
	}
	return ""
}

// neighbors reads the nodes to enqueue after n and a note describing any
// read failures. Failures leave the corresponding neighbors out.
func (t *traversal) neighbors(n *node) ([]neighbor, string) {
	var (
		out   []neighbor
		notes []string
	)

	children, err := n.el.Children(t.ctx)
	if err != nil {
		t.readFailed()
		t.logger.Debug("children unavailable", zap.String("node", n.id), zap.Error(err))
		notes = append(notes, "children error: "+err.Error())
	}
	for _, c := range children {
		if c != nil {
			out = append(out, neighbor{el: c, relation: RelationChild, edge: [2]string{n.id, c.ID()}})
		}
	}

	climb := n.anchor || (n.relation == RelationParent && n.ascent < t.opts.MaxAncestorDepth)
	if !climb {
		return out, joinNotes(notes)
	}

	parent, err := n.el.Parent(t.ctx)
	if err != nil {
		t.readFailed()
		t.logger.Debug("parent unavailable", zap.String("node", n.id), zap.Error(err))
		notes = append(notes, "parent error: "+err.Error())
	}
	parentID := ""
	if parent != nil {
		parentID = parent.ID()
	}

	if n.anchor {
		sibs, err := t.siblings(n)
		if err != nil {
			t.readFailed()
		}
		if err != nil && t.ctx.Err() == nil {
			t.logger.Debug("siblings unavailable", zap.String("node", n.id), zap.Error(err))
			notes = append(notes, "siblings error: "+err.Error())
		}
		for i := range sibs {
			sibs[i].edge = [2]string{parentID, sibs[i].el.ID()}
		}
		out = append(out, sibs...)
	}
	if parent != nil {
		out = append(out, neighbor{el: parent, relation: RelationParent, edge: [2]string{parentID, n.id}})
	}
	return out, joinNotes(notes)
}

// siblings enumerates up to SiblingWindow siblings on each side of n,
// nearest first, alternating backward and forward. The accessor and both
// enumerators are closed before it returns, whatever the exit path.
func (t *traversal) siblings(n *node) ([]neighbor, error) {
	if t.opts.SiblingWindow < 0 {
		return nil, nil
	}
	acc := n.el.Siblings()
	if acc == nil {
		return nil, nil
	}
	defer acc.Close()

	bwd, err := acc.Backward(t.ctx)
	if err != nil {
		return nil, err
	}
	defer bwd.Close()
	fwd, err := acc.Forward(t.ctx)
	if err != nil {
		return nil, err
	}
	defer fwd.Close()

	var out []neighbor
	for d := 1; d <= t.opts.SiblingWindow; d++ {
		if err := t.ctx.Err(); err != nil {
			return out, err
		}
		if el, ok := bwd.Next(t.ctx); ok && el != nil {
			out = append(out, neighbor{el: el, relation: RelationSibling, offset: bwd.Distance()})
		}
		if el, ok := fwd.Next(t.ctx); ok && el != nil {
			out = append(out, neighbor{el: el, relation: RelationSibling, offset: fwd.Distance()})
		}
	}
	if err := bwd.Err(); err != nil {
		return out, err
	}
	return out, fwd.Err()
}

func (t *traversal) enqueue(from *node, next []neighbor) {
	for _, nb := range next {
		c := Candidate{
			Relation:    nb.relation,
			Distance:    from.distance + 1,
			Offset:      nb.offset,
			ParentScore: from.score,
		}
		reason := fmt.Sprintf("%s of %s", nb.relation, from.id)
		if nb.relation == RelationSibling {
			reason = fmt.Sprintf("sibling of %s at offset %d", from.id, nb.offset)
		}
		t.discover(nb.el, from, c, nb.edge, reason)
	}
}

// discover captures el into the arena and pushes it onto the frontier the
// first time its id is seen. Later sightings only add the tree edge.
func (t *traversal) discover(el element.Element, from *node, c Candidate, edge [2]string, reason string) {
	id := el.ID()
	if edge[0] != "" && edge[1] != "" {
		t.observer.RegisterEdge(edge[0], edge[1])
	}
	if _, seen := t.arena[id]; seen {
		return
	}

	n := &node{
		el:        el,
		id:        id,
		typ:       el.Type(),
		name:      el.Name(),
		rect:      el.Rect(),
		offscreen: el.Offscreen(),
		anchor:    c.Relation == RelationAnchor,
		relation:  c.Relation,
		distance:  c.Distance,
	}
	if from != nil && c.Relation == RelationParent {
		n.ascent = from.ascent + 1
	}

	c.ID, c.Type, c.Rect, c.Offscreen = n.id, n.typ, n.rect, n.offscreen
	n.score = sanitize(t.scorer.Score(c))

	t.arena[id] = n
	t.frontier.push(frontierEntry{score: n.score, seq: t.seq, id: id})
	t.seq++

	score := n.score
	t.observer.RegisterNode(recorder.NodeRecord{
		ID:       id,
		Type:     n.typ,
		Name:     n.name,
		Rect:     n.rect,
		IsAnchor: n.anchor,
		Score:    &score,
	})
	t.observer.RecordStep(recorder.StepRecord{
		NodeID:            id,
		Action:            recorder.ActionEnqueue,
		Score:             n.score,
		Reason:            reason,
		AccumulatedTokens: t.res.TotalTokens,
		FrontierSize:      t.frontier.Len(),
	})
}

func (t *traversal) step(n *node, action recorder.Action, reason string) {
	t.res.Steps++
	t.observer.RecordStep(recorder.StepRecord{
		NodeID:            n.id,
		Action:            action,
		Score:             n.score,
		Reason:            reason,
		AccumulatedTokens: t.res.TotalTokens,
		FrontierSize:      t.frontier.Len(),
	})
}

func sanitize(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return score
}

func joinNotes(notes []string) string {
	if len(notes) == 0 {
		return ""
	}
	return "; " + strings.Join(notes, "; ")
}
