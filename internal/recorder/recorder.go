package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"uicontext-mcp-server/internal/element"

	"github.com/google/uuid"
)

// ErrAlreadySaved is returned by a second SaveSession on the same recorder.
var ErrAlreadySaved = errors.New("traversal session already saved")

// Action is the decision taken for a node during a traversal.
type Action string

const (
	ActionEnqueue Action = "enqueue"
	ActionVisit   Action = "visit"
	ActionSkip    Action = "skip"
	ActionPrune   Action = "prune"
)

// Terminal reports whether the action ends a node's life in the traversal.
func (a Action) Terminal() bool {
	return a == ActionVisit || a == ActionSkip || a == ActionPrune
}

// NodeRecord is the first sighting of a node.
type NodeRecord struct {
	ID       string       `json:"id"`
	Type     element.Type `json:"type"`
	Name     string       `json:"name,omitempty"`
	Rect     element.Rect `json:"rect"`
	ChildIDs []string     `json:"child_ids,omitempty"`
	IsAnchor bool         `json:"is_anchor"`
	Score    *float64     `json:"score,omitempty"`
}

// StepRecord is one traversal decision.
type StepRecord struct {
	Index             int     `json:"index"`
	NodeID            string  `json:"node_id"`
	Action            Action  `json:"action"`
	Score             float64 `json:"score"`
	Reason            string  `json:"reason"`
	AccumulatedTokens int     `json:"accumulated_tokens"`
	FrontierSize      int     `json:"frontier_size"`
}

// Session is the complete record of one traversal.
type Session struct {
	ID         string       `json:"id"`
	Algorithm  string       `json:"algorithm"`
	TokenLimit int          `json:"token_limit"`
	CreatedAt  time.Time    `json:"created_at"`
	Nodes      []NodeRecord `json:"nodes"`
	Steps      []StepRecord `json:"steps"`
}

// Observer receives traversal activity. Implementations must not influence
// the traversal; the engine ignores anything they do.
type Observer interface {
	RegisterNode(rec NodeRecord)
	RegisterEdge(parentID, childID string)
	RecordStep(step StepRecord)
}

// Nop is the default observer.
type Nop struct{}

func (Nop) RegisterNode(NodeRecord)     {}
func (Nop) RegisterEdge(string, string) {}
func (Nop) RecordStep(StepRecord)       {}

// Tee fans traversal activity out to several observers in order.
// Nil observers are dropped.
func Tee(observers ...Observer) Observer {
	var out tee
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	}
	return out
}

type tee []Observer

func (t tee) RegisterNode(rec NodeRecord) {
	for _, o := range t {
		o.RegisterNode(rec)
	}
}

func (t tee) RegisterEdge(parentID, childID string) {
	for _, o := range t {
		o.RegisterEdge(parentID, childID)
	}
}

func (t tee) RecordStep(step StepRecord) {
	for _, o := range t {
		o.RecordStep(step)
	}
}

type edge struct{ parent, child string }

// Recorder collects one traversal in memory and saves it at most once.
// It is safe for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	id         string
	algorithm  string
	tokenLimit int
	createdAt  time.Time

	order []string
	nodes map[string]NodeRecord
	edges []edge
	seen  map[edge]bool
	steps []StepRecord
	saved bool
}

// New creates a recorder for one traversal.
func New(algorithm string, tokenLimit int) *Recorder {
	return &Recorder{
		id:         uuid.NewString(),
		algorithm:  algorithm,
		tokenLimit: tokenLimit,
		createdAt:  time.Now().UTC(),
		nodes:      make(map[string]NodeRecord),
		seen:       make(map[edge]bool),
	}
}

// ID is the session id used when the recording is saved.
func (r *Recorder) ID() string { return r.id }

// RegisterNode records a node the first time its id is seen.
func (r *Recorder) RegisterNode(rec NodeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[rec.ID]; ok {
		return
	}
	rec.ChildIDs = append([]string(nil), rec.ChildIDs...)
	if rec.Score != nil {
		s := *rec.Score
		rec.Score = &s
	}
	r.nodes[rec.ID] = rec
	r.order = append(r.order, rec.ID)
}

// RegisterEdge appends a parent/child link discovered after the parent was registered.
func (r *Recorder) RegisterEdge(parentID, childID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := edge{parentID, childID}
	if r.seen[e] {
		return
	}
	r.seen[e] = true
	r.edges = append(r.edges, e)
}

// RecordStep appends a step and assigns it the next index.
func (r *Recorder) RecordStep(step StepRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	step.Index = len(r.steps)
	r.steps = append(r.steps, step)
}

// Session builds an independent copy of everything recorded so far.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Session{
		ID:         r.id,
		Algorithm:  r.algorithm,
		TokenLimit: r.tokenLimit,
		CreatedAt:  r.createdAt,
		Nodes:      make([]NodeRecord, 0, len(r.order)),
		Steps:      append(make([]StepRecord, 0, len(r.steps)), r.steps...),
	}
	index := make(map[string]int, len(r.order))
	for _, id := range r.order {
		rec := r.nodes[id]
		rec.ChildIDs = append([]string(nil), rec.ChildIDs...)
		index[id] = len(s.Nodes)
		s.Nodes = append(s.Nodes, rec)
	}
	for _, e := range r.edges {
		i, ok := index[e.parent]
		if !ok || contains(s.Nodes[i].ChildIDs, e.child) {
			continue
		}
		s.Nodes[i].ChildIDs = append(s.Nodes[i].ChildIDs, e.child)
	}
	return s
}

// SaveSession writes the session as indented JSON. Only the first call writes.
func (r *Recorder) SaveSession(w io.Writer) error {
	if err := r.claim(); err != nil {
		return err
	}
	return r.encode(w)
}

// SaveSessionFile writes the session to path, creating parent directories.
// The write is claimed before the file is created, so a losing concurrent
// call leaves nothing on disk. If the file cannot be written it is removed
// and the session may be saved again.
func (r *Recorder) SaveSessionFile(path string) error {
	if err := r.claim(); err != nil {
		return err
	}
	if err := r.writeFile(path); err != nil {
		r.mu.Lock()
		r.saved = false
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Recorder) writeFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.encode(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func (r *Recorder) claim() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved {
		return ErrAlreadySaved
	}
	r.saved = true
	return nil
}

func (r *Recorder) encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.Session()); err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
