// Package mask converts the legality masks that arrive on the wire into the
// additive form the policy consumes: 0.0 for a legal action, -Inf for an
// illegal one.
//
// Clients have historically sent three conventions without any version flag,
// so Normalize detects the convention with an ordered cascade (first match wins):
//
//  1. any element is -Inf: additive. -Inf stays illegal, every other value is legal.
//  2. every element lies in [0, 1]: binary. A value > 0.5 is legal; 0.5 itself is illegal.
//  3. otherwise: a strictly positive value is legal, anything else is illegal.
//
// The cascade is heuristic. An all-ones mask is read as binary even though the
// positive rule would give the same answer; a mask such as [0, 2] falls through
// to the positive rule.
//
// Normalize is idempotent on canonical masks with one exception: an all-legal
// mask [0, 0, ...] carries no -Inf, reads as binary, and comes back all illegal.
package mask

import (
	"fmt"
	"math"
)

// #region convention

// Convention identifies how a raw mask encodes legality.
type Convention int

const (
	ConventionAdditive Convention = iota
	ConventionBinary
	ConventionPositive
)

func (c Convention) String() string {
	switch c {
	case ConventionAdditive:
		return "additive"
	case ConventionBinary:
		return "binary"
	default:
		return "positive"
	}
}

const binaryThreshold = 0.5

// Legal and Illegal are the two canonical mask values.
var (
	Legal   = 0.0
	Illegal = math.Inf(-1)
)

// #endregion convention

// #region errors

// ShapeError reports an observation or mask whose length does not match the
// fixed width the policy expects.
type ShapeError struct {
	Field string
	Got   int
	Want  int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s length must be %d, got %d", e.Field, e.Want, e.Got)
}

// #endregion errors

// #region normalize

// Detect returns the convention the cascade selects for raw.
func Detect(raw []float64) Convention {
	for _, v := range raw {
		if math.IsInf(v, -1) {
			return ConventionAdditive
		}
	}
	for _, v := range raw {
		if !(v >= 0 && v <= 1) {
			return ConventionPositive
		}
	}
	return ConventionBinary
}

// Normalize returns the canonical form of raw. The length must equal
// actionCount exactly; nothing is padded or truncated.
func Normalize(raw []float64, actionCount int) ([]float64, error) {
	if len(raw) != actionCount {
		return nil, &ShapeError{Field: "legal_actions", Got: len(raw), Want: actionCount}
	}
	return Canonicalize(raw), nil
}

// Canonicalize applies the detection cascade without a length check.
func Canonicalize(raw []float64) []float64 {
	conv := Detect(raw)
	out := make([]float64, len(raw))
	for i, v := range raw {
		if legalUnder(conv, v) {
			out[i] = Legal
		} else {
			out[i] = Illegal
		}
	}
	return out
}

func legalUnder(conv Convention, v float64) bool {
	switch conv {
	case ConventionAdditive:
		return !math.IsInf(v, -1)
	case ConventionBinary:
		return v > binaryThreshold
	default:
		return v > 0
	}
}

// #endregion normalize

// #region helpers

// IsLegal reports whether a canonical mask value marks a legal action.
func IsLegal(v float64) bool {
	return !math.IsInf(v, -1)
}

// LegalIndices lists the legal positions of a canonical mask.
func LegalIndices(canonical []float64) []int {
	var out []int
	for i, v := range canonical {
		if IsLegal(v) {
			out = append(out, i)
		}
	}
	return out
}

// IllegalIndices lists the illegal positions of a canonical mask.
func IllegalIndices(canonical []float64) []int {
	var out []int
	for i, v := range canonical {
		if !IsLegal(v) {
			out = append(out, i)
		}
	}
	return out
}

// CountLegal counts legal positions of a canonical mask.
func CountLegal(canonical []float64) int {
	n := 0
	for _, v := range canonical {
		if IsLegal(v) {
			n++
		}
	}
	return n
}

// IsCanonical reports whether every value is exactly 0.0 or -Inf.
func IsCanonical(m []float64) bool {
	for _, v := range m {
		if v != Legal && !math.IsInf(v, -1) {
			return false
		}
	}
	return true
}

// #endregion helpers
