package selection

import (
	"fmt"

	"uicontext-mcp-server/internal/config"
	"uicontext-mcp-server/internal/tokens"

	"go.uber.org/zap"
)

// NewEngineFromConfig builds an engine from the selection section of the
// server config. A scorer section left entirely at zero uses DefaultScorer.
func NewEngineFromConfig(cfg config.SelectionConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy, err := ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	estimator, err := tokens.New(cfg.Estimator, cfg.Encoding, logger)
	if err != nil {
		return nil, fmt.Errorf("selection estimator: %w", err)
	}

	scorer := DefaultScorer()
	if cfg.Scorer != (config.ScorerConfig{}) {
		s := cfg.Scorer
		scorer = WeightedScorer{
			AnchorScore:      s.AnchorScore,
			DepthDecay:       s.DepthDecay,
			SiblingDecay:     s.SiblingDecay,
			ParentDecay:      s.ParentDecay,
			OffscreenPenalty: s.OffscreenPenalty,
			InteractiveBoost: s.InteractiveBoost,
			TextBoost:        s.TextBoost,
		}
	}

	return NewEngine(
		WithOptions(Options{
			Policy:           policy,
			MaxTextLength:    cfg.MaxTextLength,
			SiblingWindow:    cfg.SiblingWindow,
			MaxAncestorDepth: cfg.MaxAncestorDepth,
			MaxSteps:         cfg.MaxSteps,
		}),
		WithScorer(scorer),
		WithEstimator(estimator),
		WithLogger(logger.With(zap.String("component", "selection"))),
	), nil
}
