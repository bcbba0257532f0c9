package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func TestHeuristic(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"one rune", "a", 1},
		{"four runes", "abcd", 1},
		{"five runes", "abcde", 2},
		{"ideographs", "設定", 2},
		{"mixed", "OK 確認", 3},
	}
	h := Heuristic{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Estimate(tt.text))
		})
	}
}

func TestHeuristicCharsPerToken(t *testing.T) {
	assert.Equal(t, 5, Heuristic{CharsPerToken: 2}.Estimate("abcdefghij"))
}

func TestHeuristicProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.String().Draw(t, "a")
		b := rapid.String().Draw(t, "b")
		h := Heuristic{}
		if h.Estimate(a) != h.Estimate(a) {
			t.Fatalf("estimate not deterministic")
		}
		if h.Estimate(a+b) < h.Estimate(a) {
			t.Fatalf("appending text lowered the estimate")
		}
		if a != "" && h.Estimate(a) < 1 {
			t.Fatalf("non-empty text cost nothing")
		}
	})
}

func TestFunc(t *testing.T) {
	e := Func(func(s string) int { return len(s) * 10 })
	assert.Equal(t, 30, e.Estimate("abc"))
}

func TestNew(t *testing.T) {
	e, err := New("", "", nil)
	require.NoError(t, err)
	assert.IsType(t, Heuristic{}, e)

	e, err = New("TikToken", "", zap.NewNop())
	require.NoError(t, err)
	tk, ok := e.(*Tiktoken)
	require.True(t, ok)
	assert.Equal(t, "cl100k_base", tk.Encoding())

	_, err = New("words", "", nil)
	assert.Error(t, err)
}

func TestTiktokenEmpty(t *testing.T) {
	assert.Equal(t, 0, NewTiktoken("", nil).Estimate(""))
}

func TestTiktokenUnknownEncodingFallsBack(t *testing.T) {
	tk := NewTiktoken("no_such_encoding", zap.NewNop())
	assert.Equal(t, Heuristic{}.Estimate("hello world"), tk.Estimate("hello world"))
}
