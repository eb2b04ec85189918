package golden

import (
	"context"
	"fmt"

	"github.com/Alice227USSR/sotuken/policy-bridge/internal/mask"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/policy"
)

// #region types
// CheckResult captures the outcome of replaying the golden reference through
// a policy.
type CheckResult struct {
	Action        int    `json:"action" yaml:"action"`
	Expected      *int   `json:"expected_action,omitempty" yaml:"expected_action,omitempty"`
	Drift         bool   `json:"drift" yaml:"drift"`
	IllegalAction bool   `json:"illegal_action" yaml:"illegal_action"`
	LegalCount    int    `json:"legal_count" yaml:"legal_count"`
	Convention    string `json:"mask_convention" yaml:"mask_convention"`

	// set when a live request was compared against the reference
	Validation *Report `json:"validation,omitempty" yaml:"validation,omitempty"`
}

// Passed reports no drift, a legal action and, if present, a matching live input.
func (r CheckResult) Passed() bool {
	if r.Drift || r.IllegalAction {
		return false
	}
	return r.Validation == nil || r.Validation.Match()
}

// #endregion types

// #region check
// Check asks p for the reference's action and compares it with the recorded
// expected action. A reference without one can only fail on legality.
func Check(ctx context.Context, p policy.Policy, ref *Reference, actionCount int) (CheckResult, error) {
	canonical, err := mask.Normalize(ref.LegalActions, actionCount)
	if err != nil {
		return CheckResult{}, fmt.Errorf("golden mask: %w", err)
	}
	d, err := p.Decide(ctx, ref.Observation, canonical)
	if err != nil {
		return CheckResult{}, fmt.Errorf("golden decide: %w", err)
	}
	if d.Action < 0 || d.Action >= actionCount {
		return CheckResult{}, fmt.Errorf("golden decide: action %d outside [0,%d)", d.Action, actionCount)
	}

	res := CheckResult{
		Action:        d.Action,
		Expected:      ref.ExpectedAction,
		IllegalAction: !mask.IsLegal(canonical[d.Action]),
		LegalCount:    mask.CountLegal(canonical),
		Convention:    mask.Detect(ref.LegalActions).String(),
	}
	if ref.ExpectedAction != nil && *ref.ExpectedAction != d.Action {
		res.Drift = true
	}
	return res, nil
}

// #endregion check

// #region capture
// Capture normalizes a recorded input, asks p for its action, and returns the
// reference to persist: canonical mask plus the chosen action as expectation.
func Capture(ctx context.Context, p policy.Policy, observation []int, rawMask []float64, actionCount int) (*Reference, error) {
	canonical, err := mask.Normalize(rawMask, actionCount)
	if err != nil {
		return nil, fmt.Errorf("capture mask: %w", err)
	}
	d, err := p.Decide(ctx, observation, canonical)
	if err != nil {
		return nil, fmt.Errorf("capture decide: %w", err)
	}
	if d.Action < 0 || d.Action >= actionCount {
		return nil, fmt.Errorf("capture decide: action %d outside [0,%d)", d.Action, actionCount)
	}

	obs := make([]int, len(observation))
	copy(obs, observation)
	action := d.Action
	return &Reference{
		Observation:    obs,
		LegalActions:   canonical,
		ExpectedAction: &action,
	}, nil
}

// #endregion capture
