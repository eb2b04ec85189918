// Package golden holds the captured reference input the live client is checked
// against, and the tooling that compares, captures and replays it.
package golden

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Alice227USSR/sotuken/policy-bridge/internal/wire"
)

// #region reference-types

// Reference is a known-good observation/mask pair, optionally with the action
// the policy chose for it when it was captured.
type Reference struct {
	Observation    []int
	LegalActions   []float64
	ExpectedAction *int
}

// file is the on-disk form. Observation cells may have been written as floats
// and mask entries as bare or quoted non-finite tokens.
type file struct {
	Observation    wire.Numbers `json:"observation"`
	LegalActions   wire.Numbers `json:"legal_actions"`
	ExpectedAction *int         `json:"expected_action,omitempty"`
}

// #endregion reference-types

// #region reference-io

// Load reads and parses a golden reference file.
func Load(path string) (*Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read golden %s: %w", path, err)
	}
	ref, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse golden %s: %w", path, err)
	}
	return ref, nil
}

// Parse decodes a golden reference document.
func Parse(data []byte) (*Reference, error) {
	var f file
	dec := json.NewDecoder(bytes.NewReader(wire.Sanitize(data)))
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	if f.Observation == nil || f.LegalActions == nil {
		return nil, fmt.Errorf("missing observation or legal_actions")
	}
	obs, err := f.Observation.Ints()
	if err != nil {
		return nil, fmt.Errorf("observation: %w", err)
	}
	return &Reference{
		Observation:    obs,
		LegalActions:   f.LegalActions.Floats(),
		ExpectedAction: f.ExpectedAction,
	}, nil
}

// Save writes ref to path as indented JSON. Non-finite mask entries are
// written as strings so any JSON reader can load the file.
func Save(path string, ref *Reference) error {
	data, err := json.MarshalIndent(file{
		Observation:    wire.FromInts(ref.Observation),
		LegalActions:   wire.Numbers(ref.LegalActions),
		ExpectedAction: ref.ExpectedAction,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode golden: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write golden %s: %w", path, err)
	}
	return nil
}

// #endregion reference-io
