// Package fusion turns a list of per-backend candidates into a single
// identity decision using threshold (τ) and margin (δ) rules.
package fusion

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/idfuse/internal/model"
)

// Params holds the process-wide fusion parameters, fixed at startup.
type Params struct {
	// Threshold is the minimum score for a positive read (τ).
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	// Margin is the minimum separation between the top two candidates
	// required to avoid an ambiguous decision (δ).
	Margin float64 `yaml:"margin" mapstructure:"margin"`
}

// Validate rejects parameters outside [0,1]. A bad τ/δ pair must keep the
// service from entering steady state.
func (p Params) Validate() error {
	if p.Threshold < 0 || p.Threshold > 1 {
		return eris.Errorf("fusion: threshold %v outside [0,1]", p.Threshold)
	}
	if p.Margin < 0 || p.Margin > 1 {
		return eris.Errorf("fusion: margin %v outside [0,1]", p.Margin)
	}
	return nil
}

// Engine applies the fusion rules. It holds no per-request state and is
// safe for concurrent use.
type Engine struct {
	params Params
}

// NewEngine creates an Engine with validated parameters.
func NewEngine(p Params) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{params: p}, nil
}

// Params returns the engine's parameters.
func (e *Engine) Params() Params {
	return e.params
}

// Fuse ranks the candidates and applies the decision rules:
//
//  1. no candidates → unknown
//  2. top below τ → unknown
//  3. only the top clears τ → identified
//  4. top two both clear τ: gap ≥ δ → identified, otherwise ambiguous
//
// It is a total function: every input yields exactly one decision. The
// returned slice is the ranked candidate list (score descending, input
// order preserved on ties); the input slice is not modified.
func (e *Engine) Fuse(candidates []model.Candidate) (model.Decision, *model.Identity, []model.Candidate) {
	ranked := make([]model.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) == 0 {
		return model.DecisionUnknown, nil, ranked
	}

	top := ranked[0]
	if top.Score < e.params.Threshold {
		zap.L().Debug("fusion: top score below threshold",
			zap.Float64("top", top.Score),
			zap.Float64("threshold", e.params.Threshold),
		)
		return model.DecisionUnknown, nil, ranked
	}

	if len(ranked) == 1 || ranked[1].Score < e.params.Threshold {
		return model.DecisionIdentified, &model.Identity{Name: top.Name, Score: top.Score}, ranked
	}

	gap := top.Score - ranked[1].Score
	if gap >= e.params.Margin {
		return model.DecisionIdentified, &model.Identity{Name: top.Name, Score: top.Score}, ranked
	}

	zap.L().Debug("fusion: top scores too close",
		zap.Float64("gap", gap),
		zap.Float64("margin", e.params.Margin),
	)
	return model.DecisionAmbiguous, nil, ranked
}

// Stats summarizes a candidate list for observability. Pure; no side
// effects on fusion itself.
type Stats struct {
	TotalCandidates int     `json:"total_candidates"`
	AboveThreshold  int     `json:"above_threshold"`
	MaxScore        float64 `json:"max_score"`
	MeanScore       float64 `json:"avg_score"`
	ScoreSpread     float64 `json:"score_spread"`
}

// Stats computes summary statistics over the candidate list. Spread is 0
// for one or fewer candidates.
func (e *Engine) Stats(candidates []model.Candidate) Stats {
	s := Stats{TotalCandidates: len(candidates)}
	if len(candidates) == 0 {
		return s
	}

	minScore := candidates[0].Score
	var sum float64
	for _, c := range candidates {
		sum += c.Score
		if c.Score > s.MaxScore {
			s.MaxScore = c.Score
		}
		if c.Score < minScore {
			minScore = c.Score
		}
		if c.Score >= e.params.Threshold {
			s.AboveThreshold++
		}
	}
	s.MeanScore = sum / float64(len(candidates))
	if len(candidates) > 1 {
		s.ScoreSpread = s.MaxScore - minScore
	}
	return s
}
