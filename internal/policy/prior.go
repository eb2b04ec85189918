package policy

import (
	"context"
	"fmt"
	"math"
)

// PriorPolicy ignores the observation and picks the legal action with the
// highest fixed prior score. Ties go to the lowest index. It is immutable and
// safe for concurrent use.
type PriorPolicy struct {
	observationSize int
	scores          []float64
}

// NewPrior builds a policy over len(scores) actions.
func NewPrior(observationSize int, scores []float64) (*PriorPolicy, error) {
	if observationSize <= 0 {
		return nil, fmt.Errorf("observation size must be positive, got %d", observationSize)
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("prior needs at least one action")
	}
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("prior score %d is not finite", i)
		}
	}
	out := make([]float64, len(scores))
	copy(out, scores)
	return &PriorPolicy{observationSize: observationSize, scores: out}, nil
}

// Uniform is a prior with equal scores, so it always plays the first legal action.
func Uniform(observationSize, actionCount int) (*PriorPolicy, error) {
	return NewPrior(observationSize, make([]float64, actionCount))
}

func (p *PriorPolicy) Decide(ctx context.Context, observation []int, mask []float64) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if len(observation) != p.observationSize {
		return Decision{}, fmt.Errorf("observation length %d, want %d", len(observation), p.observationSize)
	}
	if len(mask) != len(p.scores) {
		return Decision{}, fmt.Errorf("mask length %d, want %d", len(mask), len(p.scores))
	}

	best, bestScore := -1, math.Inf(-1)
	for i, s := range p.scores {
		v := s + mask[i]
		if math.IsInf(v, -1) || math.IsNaN(v) {
			continue
		}
		if best < 0 || v > bestScore {
			best, bestScore = i, v
		}
	}
	if best < 0 {
		return Decision{}, ErrNoLegalAction
	}

	scores := make([]float64, len(p.scores))
	copy(scores, p.scores)
	return Decision{Action: best, Scores: scores}, nil
}

func (p *PriorPolicy) Describe(ctx context.Context) (Shape, error) {
	return Shape{ObservationSize: p.observationSize, ActionCount: len(p.scores)}, nil
}

func (p *PriorPolicy) Reentrant() bool { return true }
