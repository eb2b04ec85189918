// Package rules describes the game's action space and observation layout.
package rules

// #region engine

// Engine gives the fixed widths of the policy's inputs and the human-readable
// label of every action index.
type Engine interface {
	ObservationSize() int
	ActionCount() int
	Label(action int) string
	Labels() []string
}

// Auditor is implemented by engines that can recompute the legal actions from
// an observation vector alone.
type Auditor interface {
	LegalMask(observation []int) ([]float64, error)
}

// #endregion engine
