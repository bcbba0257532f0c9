// Package tokens estimates how many model tokens a piece of UI text costs.
package tokens

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Estimator returns the token cost of text. Implementations must be pure:
// the same text always costs the same.
type Estimator interface {
	Estimate(text string) int
}

// Func adapts a plain function to Estimator.
type Func func(text string) int

func (f Func) Estimate(text string) int { return f(text) }

// Heuristic approximates BPE tokenizers without a vocabulary: ideographic
// runes cost one token each, everything else CharsPerToken runes per token.
type Heuristic struct {
	CharsPerToken float64
}

func (h Heuristic) Estimate(text string) int {
	if text == "" {
		return 0
	}
	per := h.CharsPerToken
	if per <= 0 {
		per = 4
	}
	var wide, narrow int
	for _, r := range text {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			wide++
		} else {
			narrow++
		}
	}
	return wide + int(math.Ceil(float64(narrow)/per))
}

// Tiktoken counts tokens with a BPE encoding. The encoding is loaded on
// first use; if it cannot be loaded the estimator falls back to Heuristic
// for the rest of its life.
type Tiktoken struct {
	encoding string
	logger   *zap.Logger

	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback Heuristic
}

// NewTiktoken returns an estimator for the named encoding (e.g. cl100k_base).
func NewTiktoken(encoding string, logger *zap.Logger) *Tiktoken {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiktoken{encoding: encoding, logger: logger}
}

func (t *Tiktoken) init() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.logger.Warn("tiktoken encoding unavailable, using heuristic estimate",
				zap.String("encoding", t.encoding), zap.Error(err))
			return
		}
		t.enc = enc
	})
}

func (t *Tiktoken) Estimate(text string) int {
	if text == "" {
		return 0
	}
	t.init()
	if t.enc == nil {
		return t.fallback.Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Encoding returns the configured encoding name.
func (t *Tiktoken) Encoding() string { return t.encoding }

// New builds the estimator named by kind: "heuristic" or "tiktoken".
func New(kind, encoding string, logger *zap.Logger) (Estimator, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "heuristic":
		return Heuristic{}, nil
	case "tiktoken":
		return NewTiktoken(encoding, logger), nil
	default:
		return nil, fmt.Errorf("unknown token estimator %q", kind)
	}
}
