package selection

import (
	"math"

	"uicontext-mcp-server/internal/element"
)

// Relation is how a candidate was reached from the node that discovered it.
type Relation uint8

const (
	RelationAnchor Relation = iota
	RelationChild
	RelationSibling
	RelationParent
)

func (r Relation) String() string {
	switch r {
	case RelationAnchor:
		return "anchor"
	case RelationChild:
		return "child"
	case RelationSibling:
		return "sibling"
	case RelationParent:
		return "parent"
	}
	return "unknown"
}

// Candidate is what a Scorer sees about a newly discovered node.
type Candidate struct {
	ID        string
	Type      element.Type
	Rect      element.Rect
	Offscreen bool
	Relation  Relation
	// Distance is the number of hops from the anchor along the discovery path.
	Distance int
	// Offset is the sibling distance from the anchor, for RelationSibling.
	Offset int
	// ParentScore is the score of the node that discovered this one.
	ParentScore float64
}

// Scorer assigns frontier priority. It must be a pure function of the candidate.
type Scorer interface {
	Score(c Candidate) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(c Candidate) float64

func (f ScorerFunc) Score(c Candidate) float64 { return f(c) }

// WeightedScorer multiplies the discovering node's score by a relation decay
// and a type weight. Anchors start at AnchorScore.
type WeightedScorer struct {
	AnchorScore      float64
	DepthDecay       float64
	SiblingDecay     float64
	ParentDecay      float64
	OffscreenPenalty float64
	InteractiveBoost float64
	TextBoost        float64
}

// DefaultScorer favors the anchor's own subtree, then its nearest siblings,
// then its ancestors.
func DefaultScorer() WeightedScorer {
	return WeightedScorer{
		AnchorScore:      1000,
		DepthDecay:       0.8,
		SiblingDecay:     0.7,
		ParentDecay:      0.5,
		OffscreenPenalty: 0.25,
		InteractiveBoost: 1.2,
		TextBoost:        1.1,
	}
}

func (w WeightedScorer) Score(c Candidate) float64 {
	if c.Relation == RelationAnchor {
		return w.AnchorScore
	}
	s := c.ParentScore
	switch c.Relation {
	case RelationChild:
		s *= w.DepthDecay
	case RelationSibling:
		off := c.Offset
		if off < 1 {
			off = 1
		}
		s *= math.Pow(w.SiblingDecay, float64(off))
	case RelationParent:
		s *= w.ParentDecay
	}
	switch {
	case c.Type.Interactive():
		s *= w.InteractiveBoost
	case c.Type.Textual():
		s *= w.TextBoost
	}
	if c.Offscreen {
		s *= w.OffscreenPenalty
	}
	return s
}
