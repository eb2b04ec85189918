package golden

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/Alice227USSR/sotuken/policy-bridge/internal/mask"
)

// #region validator-config

const (
	maskTolerance = 1e-9
	sampleSize    = 10
)

// #endregion validator-config

// #region report-types

// Diff is one differing position with both values.
type Diff struct {
	Index  int     `json:"index" yaml:"index"`
	Live   float64 `json:"live" yaml:"live"`
	Golden float64 `json:"golden" yaml:"golden"`
}

// Block is the sum-based comparison of one contiguous observation range.
type Block struct {
	Index     int     `json:"index" yaml:"index"`
	Name      string  `json:"name" yaml:"name"`
	Start     int     `json:"start" yaml:"start"`
	End       int     `json:"end" yaml:"end"`
	LiveSum   float64 `json:"live_sum" yaml:"live_sum"`
	GoldenSum float64 `json:"golden_sum" yaml:"golden_sum"`
}

// Equal reports whether both sums agree.
func (b Block) Equal() bool { return b.LiveSum == b.GoldenSum }

// Report is the outcome of one comparison against the golden reference.
type Report struct {
	ShapeMismatch        bool  `json:"shape_mismatch" yaml:"shape_mismatch"`
	LiveObservationLen   int   `json:"live_observation_len" yaml:"live_observation_len"`
	GoldenObservationLen int   `json:"golden_observation_len" yaml:"golden_observation_len"`
	LiveMaskLen          int   `json:"live_mask_len" yaml:"live_mask_len"`
	GoldenMaskLen        int   `json:"golden_mask_len" yaml:"golden_mask_len"`
	ObservationDiffs     []int `json:"observation_diffs,omitempty" yaml:"observation_diffs,omitempty"`
	MaskDiffs            []int `json:"mask_diffs,omitempty" yaml:"mask_diffs,omitempty"`

	// first diffs of each kind, with values
	ObservationSamples []Diff  `json:"observation_samples,omitempty" yaml:"observation_samples,omitempty"`
	MaskSamples        []Diff  `json:"mask_samples,omitempty" yaml:"mask_samples,omitempty"`
	Blocks             []Block `json:"blocks,omitempty" yaml:"blocks,omitempty"`
}

// Match reports a perfect match of both observation and mask.
func (r Report) Match() bool {
	return !r.ShapeMismatch && len(r.ObservationDiffs) == 0 && len(r.MaskDiffs) == 0
}

// #endregion report-types

// #region validator

// Validator compares live inputs against one golden reference. It is read-only
// after construction and safe for concurrent use.
type Validator struct {
	ref          *Reference
	goldenCanon  []float64
	goldenFloats []float64
	blocks       []int
}

// NewValidator binds a validator to ref. blocks are lengths of contiguous
// observation ranges for the block summary; nil disables it.
func NewValidator(ref *Reference, blocks []int) *Validator {
	gf := make([]float64, len(ref.Observation))
	for i, v := range ref.Observation {
		gf[i] = float64(v)
	}
	return &Validator{
		ref:          ref,
		goldenCanon:  mask.Canonicalize(ref.LegalActions),
		goldenFloats: gf,
		blocks:       blocks,
	}
}

// Reference returns the bound golden reference.
func (v *Validator) Reference() *Reference { return v.ref }

// Compare diffs the live observation and raw mask against the reference.
// Each mask is judged under its own convention, so a difference in encoding
// alone is not reported.
func (v *Validator) Compare(obs []int, rawMask []float64) Report {
	r := Report{
		LiveObservationLen:   len(obs),
		GoldenObservationLen: len(v.ref.Observation),
		LiveMaskLen:          len(rawMask),
		GoldenMaskLen:        len(v.ref.LegalActions),
	}
	if r.LiveObservationLen != r.GoldenObservationLen || r.LiveMaskLen != r.GoldenMaskLen {
		r.ShapeMismatch = true
		return r
	}

	for i, live := range obs {
		if live != v.ref.Observation[i] {
			r.ObservationDiffs = append(r.ObservationDiffs, i)
			if len(r.ObservationSamples) < sampleSize {
				r.ObservationSamples = append(r.ObservationSamples, Diff{
					Index: i, Live: float64(live), Golden: float64(v.ref.Observation[i]),
				})
			}
		}
	}

	liveCanon := mask.Canonicalize(rawMask)
	for i, live := range rawMask {
		golden := v.ref.LegalActions[i]
		if !valuesDiffer(live, golden) {
			continue
		}
		if !mask.IsLegal(liveCanon[i]) && !mask.IsLegal(v.goldenCanon[i]) {
			continue
		}
		r.MaskDiffs = append(r.MaskDiffs, i)
		if len(r.MaskSamples) < sampleSize {
			r.MaskSamples = append(r.MaskSamples, Diff{Index: i, Live: live, Golden: golden})
		}
	}

	if len(r.ObservationDiffs) > 0 && len(v.blocks) > 0 {
		r.Blocks = v.blockSummary(obs)
	}
	return r
}

func valuesDiffer(a, b float64) bool {
	if a == b || (math.IsNaN(a) && math.IsNaN(b)) {
		return false
	}
	if isFinite(a) != isFinite(b) {
		return true
	}
	if !isFinite(a) {
		return true
	}
	return math.Abs(a-b) > maskTolerance
}

func isFinite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

// blockSummary walks the block lengths in order, clipped to the observation.
func (v *Validator) blockSummary(obs []int) []Block {
	live := make([]float64, len(obs))
	for i, x := range obs {
		live[i] = float64(x)
	}

	var out []Block
	start := 0
	for bi, n := range v.blocks {
		if start >= len(obs) {
			break
		}
		end := min(start+n, len(obs))
		out = append(out, Block{
			Index:     bi,
			Name:      fmt.Sprintf("block#%d", bi),
			Start:     start,
			End:       end,
			LiveSum:   floats.Sum(live[start:end]),
			GoldenSum: floats.Sum(v.goldenFloats[start:end]),
		})
		start = end
	}
	return out
}

// #endregion validator
