package selection

import (
	"container/heap"
	"math"
	"testing"

	"uicontext-mcp-server/internal/element"

	"github.com/stretchr/testify/assert"
)

func TestWeightedScorer(t *testing.T) {
	w := DefaultScorer()
	tests := []struct {
		name string
		c    Candidate
		want float64
	}{
		{"anchor", Candidate{Relation: RelationAnchor, ParentScore: 5}, 1000},
		{"child container", Candidate{Relation: RelationChild, Type: element.TypeContainer, ParentScore: 100}, 80},
		{"child button", Candidate{Relation: RelationChild, Type: element.TypeButton, ParentScore: 100}, 96},
		{"child label", Candidate{Relation: RelationChild, Type: element.TypeLabel, ParentScore: 100}, 88},
		{"sibling near", Candidate{Relation: RelationSibling, Type: element.TypeContainer, Offset: 1, ParentScore: 100}, 70},
		{"sibling far", Candidate{Relation: RelationSibling, Type: element.TypeContainer, Offset: 2, ParentScore: 100}, 49},
		{"parent", Candidate{Relation: RelationParent, Type: element.TypeContainer, ParentScore: 100}, 50},
		{"offscreen child", Candidate{Relation: RelationChild, Type: element.TypeContainer, Offscreen: true, ParentScore: 100}, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, w.Score(tt.c), 1e-9)
		})
	}
}

func TestScorerFunc(t *testing.T) {
	s := ScorerFunc(func(c Candidate) float64 { return float64(c.Distance) })
	assert.Equal(t, 3.0, s.Score(Candidate{Distance: 3}))
}

func TestRelationString(t *testing.T) {
	assert.Equal(t, "anchor", RelationAnchor.String())
	assert.Equal(t, "child", RelationChild.String())
	assert.Equal(t, "sibling", RelationSibling.String())
	assert.Equal(t, "parent", RelationParent.String())
	assert.Equal(t, "unknown", Relation(42).String())
}

func TestFrontierOrder(t *testing.T) {
	var f frontier
	heap.Init(&f)
	f.push(frontierEntry{score: 1, seq: 0, id: "low"})
	f.push(frontierEntry{score: 5, seq: 1, id: "tie-first"})
	f.push(frontierEntry{score: 9, seq: 2, id: "high"})
	f.push(frontierEntry{score: 5, seq: 3, id: "tie-second"})
	f.push(frontierEntry{score: sanitize(math.NaN()), seq: 4, id: "nan"})

	var got []string
	for f.Len() > 0 {
		got = append(got, f.pop().id)
	}
	assert.Equal(t, []string{"high", "tie-first", "tie-second", "low", "nan"}, got)
}
