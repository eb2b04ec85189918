package intent

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// #region label
// Label is the coarse category assigned to an already-chosen action.
type Label string

const (
	LabelSaveHint     Label = "SAVE_HINT"
	LabelPlayHint     Label = "PLAY_HINT"
	LabelSafeDiscard  Label = "SAFE_DISCARD"
	LabelRiskyDiscard Label = "RISKY_DISCARD"
	LabelSafePlay     Label = "SAFE_PLAY"
	LabelRiskyPlay    Label = "RISKY_PLAY"
	LabelUnknown      Label = "UNKNOWN"
)

// #endregion label

// #region config
// Config holds classifier knobs.
type Config struct {
	TopK          int     // alternatives reported, by descending masked score
	SafeThreshold float64 // confidence at or above which a play/discard is "safe"
}

// DefaultConfig returns the thresholds used in production logging.
func DefaultConfig() Config {
	return Config{
		TopK:          3,
		SafeThreshold: 0.80,
	}
}

// #endregion config

// #region record
// Candidate is one of the top-scoring legal actions.
type Candidate struct {
	Action      int     `json:"action"`
	Move        string  `json:"move"`
	Score       float64 `json:"q"`
	Probability float64 `json:"p"`
}

// Record explains one decision. It is built after the action is chosen and is
// only ever logged.
type Record struct {
	Label        Label       `json:"intent_type"`
	Confidence   float64     `json:"confidence"`
	ChosenAction int         `json:"chosen_action"`
	Move         string      `json:"move"`
	TopK         []Candidate `json:"topk"`
}

func (c Candidate) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("action", c.Action)
	enc.AddString("move", c.Move)
	enc.AddFloat64("q", c.Score)
	enc.AddFloat64("p", c.Probability)
	return nil
}

type candidates []Candidate

func (cs candidates) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, c := range cs {
		if err := enc.AppendObject(c); err != nil {
			return err
		}
	}
	return nil
}

func (r Record) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("intent_type", string(r.Label))
	enc.AddFloat64("confidence", r.Confidence)
	enc.AddInt("chosen_action", r.ChosenAction)
	enc.AddString("move", r.Move)
	return enc.AddArray("topk", candidates(r.TopK))
}

// #endregion record

// #region errors
// Error reports inputs the classifier cannot interpret. Callers log it and
// carry on; it never fails a decision.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("intent classification: %s", e.Reason)
}

// #endregion errors
