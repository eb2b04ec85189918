// Package policy defines the action-selection contract the bridge calls, a
// local prior policy, and a gRPC transport for a policy hosted elsewhere.
package policy

import (
	"context"
	"errors"
	"sync"
)

// #region types
// Decision is a policy's answer for one observation.
type Decision struct {
	Action int
	Scores []float64 // raw per-action scores before masking; nil if the policy exposes none
}

// Shape is the pair of input widths a policy was built for.
type Shape struct {
	ObservationSize int
	ActionCount     int
}

// ErrNoLegalAction is returned when the canonical mask marks every action illegal.
var ErrNoLegalAction = errors.New("no legal action in mask")

// #endregion types

// #region interfaces
// Policy chooses an action index given an observation and a canonical
// additive legality mask (0.0 legal, -Inf illegal).
type Policy interface {
	Decide(ctx context.Context, observation []int, mask []float64) (Decision, error)
}

// Describer is implemented by policies that can report their input widths.
type Describer interface {
	Describe(ctx context.Context) (Shape, error)
}

// Reentrant is implemented by policies that tolerate concurrent Decide calls.
type Reentrant interface {
	Reentrant() bool
}

// #endregion interfaces

// #region exclusive
type exclusive struct {
	mu     sync.Mutex
	policy Policy
}

// Exclusive serializes Decide calls on p. A policy that reports itself
// reentrant is returned unchanged.
func Exclusive(p Policy) Policy {
	if r, ok := p.(Reentrant); ok && r.Reentrant() {
		return p
	}
	return &exclusive{policy: p}
}

func (e *exclusive) Decide(ctx context.Context, observation []int, mask []float64) (Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy.Decide(ctx, observation, mask)
}

// #endregion exclusive
