// Package intent explains a chosen action after the fact: it reads the policy's
// scores under the same mask and labels the choice for the logs.
package intent

// #region imports
import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// #endregion

// #region keywords

var hintMarkers = []string{"REVEAL", "HINT"}

var rankFiveMarkers = []string{" RANK 5", "RANK=5", " 5)"}

var discardMarkers = []string{"DISCARD"}

// playPrefixes only match at the start of the move text; "PLAY" also appears
// inside "PLAYER" in reveal moves.
var playPrefixes = []string{"PLAY", "(PLAY"}

// #endregion

// #region classifier

// Classifier labels decisions. It holds no state beyond its config.
type Classifier struct {
	config Config
}

// NewClassifier creates a classifier; zero fields fall back to DefaultConfig.
func NewClassifier(config Config) *Classifier {
	def := DefaultConfig()
	if config.TopK <= 0 {
		config.TopK = def.TopK
	}
	if config.SafeThreshold <= 0 {
		config.SafeThreshold = def.SafeThreshold
	}
	return &Classifier{config: config}
}

// Classify builds the record for chosen. scores are the policy's raw scores and
// canonicalMask the additive mask the policy decided under; labels may be nil.
func (c *Classifier) Classify(scores, canonicalMask []float64, chosen int, labels []string) (Record, error) {
	if len(scores) == 0 {
		return Record{}, &Error{Reason: "policy exposed no scores"}
	}
	if len(scores) != len(canonicalMask) {
		return Record{}, &Error{Reason: fmt.Sprintf("%d scores for %d mask entries", len(scores), len(canonicalMask))}
	}
	if chosen < 0 || chosen >= len(scores) {
		return Record{}, &Error{Reason: fmt.Sprintf("chosen action %d outside [0,%d)", chosen, len(scores))}
	}

	masked := make([]float64, len(scores))
	floats.AddTo(masked, scores, canonicalMask)
	probs := softmax(masked)

	confidence := clamp01(probs[chosen])
	move := labelFor(labels, chosen)

	return Record{
		Label:        classifyMove(move, confidence, c.config.SafeThreshold),
		Confidence:   confidence,
		ChosenAction: chosen,
		Move:         move,
		TopK:         topK(masked, probs, labels, c.config.TopK),
	}, nil
}

// #endregion

// #region classify-move

func classifyMove(move string, confidence, threshold float64) Label {
	upper := strings.ToUpper(move)

	switch {
	case containsAny(upper, hintMarkers):
		if containsAny(upper, rankFiveMarkers) {
			return LabelSaveHint
		}
		return LabelPlayHint
	case containsAny(upper, discardMarkers):
		if confidence >= threshold {
			return LabelSafeDiscard
		}
		return LabelRiskyDiscard
	case hasAnyPrefix(upper, playPrefixes):
		if confidence >= threshold {
			return LabelSafePlay
		}
		return LabelRiskyPlay
	}
	return LabelUnknown
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// #endregion

// #region math

// softmax subtracts the max before exponentiating. A distribution that cannot
// be normalized (every entry -Inf, NaN, or a zero sum) comes back all zero.
func softmax(masked []float64) []float64 {
	probs := make([]float64, len(masked))
	peak := floats.Max(masked)
	if math.IsInf(peak, 0) || math.IsNaN(peak) {
		return probs
	}
	for i, v := range masked {
		probs[i] = math.Exp(v - peak)
	}
	sum := floats.Sum(probs)
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return make([]float64, len(masked))
	}
	floats.Scale(1/sum, probs)
	return probs
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// topK returns up to k legal candidates by descending masked score; equal
// scores keep ascending action order.
func topK(masked, probs []float64, labels []string, k int) []Candidate {
	idx := make([]int, 0, len(masked))
	for i, v := range masked {
		if math.IsInf(v, -1) || math.IsNaN(v) {
			continue
		}
		idx = append(idx, i)
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(masked[b], masked[a])
	})
	if len(idx) > k {
		idx = idx[:k]
	}

	out := make([]Candidate, len(idx))
	for i, a := range idx {
		out[i] = Candidate{
			Action:      a,
			Move:        labelFor(labels, a),
			Score:       masked[a],
			Probability: probs[a],
		}
	}
	return out
}

func labelFor(labels []string, action int) string {
	if action >= 0 && action < len(labels) {
		return labels[action]
	}
	return strconv.Itoa(action)
}

// #endregion
