package golden

import (
	"context"
	"io/fs"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alice227USSR/sotuken/policy-bridge/internal/policy"
)

var ninf = math.Inf(-1)

func intPtr(v int) *int { return &v }

// helper: small reference with a canonical mask.
func sampleReference() *Reference {
	return &Reference{
		Observation:    []int{1, 0, 0, 1, 1, 0, 1, 0},
		LegalActions:   []float64{0, ninf, 0, ninf},
		ExpectedAction: intPtr(2),
	}
}

// #region reference-io

func TestSaveLoad_RoundTripsNegativeInfinity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden.json")
	want := sampleReference()

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_PythonStyleFile(t *testing.T) {
	data := []byte(`{"observation": [1.0, 0.0, 1.0], "legal_actions": [0.0, -Infinity, "-inf"]}`)
	got, err := Parse(data)
	require.NoError(t, err)
	want := &Reference{Observation: []int{1, 0, 1}, LegalActions: []float64{0, ninf, ninf}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Errors(t *testing.T) {
	for _, data := range []string{
		`{"legal_actions": [0]}`,
		`{"observation": [1]}`,
		`{"observation": [NaN], "legal_actions": [0]}`,
		`not json`,
	} {
		_, err := Parse([]byte(data))
		assert.Error(t, err, data)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

// #endregion reference-io

// #region validator

func TestCompare_PerfectMatch(t *testing.T) {
	ref := sampleReference()
	v := NewValidator(ref, nil)

	r := v.Compare(ref.Observation, ref.LegalActions)
	assert.True(t, r.Match(), "report %+v", r)
}

func TestCompare_DifferentConventionSameLegality(t *testing.T) {
	ref := sampleReference()
	v := NewValidator(ref, nil)

	// Same legal set in binary form. Illegal slots agree; legal slots differ in value.
	r := v.Compare(ref.Observation, []float64{1, 0, 1, 0})
	want := []int{0, 2}
	if diff := cmp.Diff(want, r.MaskDiffs); diff != "" {
		t.Errorf("mask diffs (-want +got):\n%s", diff)
	}
}

func TestCompare_BothIllegalIgnored(t *testing.T) {
	ref := &Reference{Observation: []int{0}, LegalActions: []float64{0.9, 0, 0.3}}
	v := NewValidator(ref, nil)

	r := v.Compare([]int{0}, []float64{0.9, 0.1, 0.2})
	assert.Empty(t, r.MaskDiffs)
}

func TestCompare_ShapeMismatch(t *testing.T) {
	v := NewValidator(sampleReference(), nil)

	r := v.Compare([]int{1, 0}, []float64{0, 0, 0, 0})
	want := Report{
		ShapeMismatch:        true,
		LiveObservationLen:   2,
		GoldenObservationLen: 8,
		LiveMaskLen:          4,
		GoldenMaskLen:        4,
	}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("report (-want +got):\n%s", diff)
	}
	assert.False(t, r.Match(), "shape mismatch must not match")
}

func TestCompare_DiffsAndBlocks(t *testing.T) {
	ref := sampleReference()
	v := NewValidator(ref, []int{3, 3, 10})

	live := append([]int(nil), ref.Observation...)
	live[1] = 1 // block#0
	live[6] = 0 // block#2, clipped to [6:8)
	r := v.Compare(live, []float64{0, ninf, ninf, ninf})

	if diff := cmp.Diff([]int{1, 6}, r.ObservationDiffs); diff != "" {
		t.Errorf("observation diffs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2}, r.MaskDiffs); diff != "" {
		t.Errorf("mask diffs (-want +got):\n%s", diff)
	}

	wantBlocks := []Block{
		{Index: 0, Name: "block#0", Start: 0, End: 3, LiveSum: 2, GoldenSum: 1},
		{Index: 1, Name: "block#1", Start: 3, End: 6, LiveSum: 2, GoldenSum: 2},
		{Index: 2, Name: "block#2", Start: 6, End: 8, LiveSum: 0, GoldenSum: 1},
	}
	if diff := cmp.Diff(wantBlocks, r.Blocks); diff != "" {
		t.Errorf("blocks (-want +got):\n%s", diff)
	}
	assert.False(t, r.Blocks[0].Equal())
	assert.True(t, r.Blocks[1].Equal())

	wantSamples := []Diff{{Index: 1, Live: 1, Golden: 0}, {Index: 6, Live: 0, Golden: 1}}
	if diff := cmp.Diff(wantSamples, r.ObservationSamples); diff != "" {
		t.Errorf("samples (-want +got):\n%s", diff)
	}
}

func TestCompare_SamplesCapped(t *testing.T) {
	ref := &Reference{Observation: make([]int, 30), LegalActions: []float64{0}}
	v := NewValidator(ref, nil)

	live := make([]int, 30)
	for i := range live {
		live[i] = 1
	}
	r := v.Compare(live, []float64{0})
	assert.Len(t, r.ObservationDiffs, 30)
	assert.Len(t, r.ObservationSamples, sampleSize)
}

func TestCompare_DoesNotMutateInputs(t *testing.T) {
	ref := sampleReference()
	v := NewValidator(ref, []int{4, 4})
	obs := []int{0, 0, 0, 0, 0, 0, 0, 0}
	raw := []float64{1, 0, 1, 0}
	obsCopy := append([]int(nil), obs...)
	rawCopy := append([]float64(nil), raw...)

	v.Compare(obs, raw)
	if diff := cmp.Diff(obsCopy, obs); diff != "" {
		t.Errorf("observation mutated:\n%s", diff)
	}
	if diff := cmp.Diff(rawCopy, raw); diff != "" {
		t.Errorf("mask mutated:\n%s", diff)
	}
	if diff := cmp.Diff(sampleReference(), ref); diff != "" {
		t.Errorf("reference mutated:\n%s", diff)
	}
}

// #endregion validator

// #region check

func TestCheck_NoDrift(t *testing.T) {
	p, err := policy.NewPrior(8, []float64{1, 9, 5, 0})
	require.NoError(t, err)
	res, err := Check(context.Background(), p, sampleReference(), 4)
	require.NoError(t, err)
	want := CheckResult{Action: 2, Expected: intPtr(2), LegalCount: 2, Convention: "additive"}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}
	assert.True(t, res.Passed())
}

func TestCheck_Drift(t *testing.T) {
	p, err := policy.Uniform(8, 4)
	require.NoError(t, err)
	res, err := Check(context.Background(), p, sampleReference(), 4)
	require.NoError(t, err)
	assert.True(t, res.Drift)
	assert.Equal(t, 0, res.Action)
	assert.False(t, res.Passed())
}

func TestCheck_MaskWidth(t *testing.T) {
	p, err := policy.Uniform(8, 5)
	require.NoError(t, err)
	_, err = Check(context.Background(), p, sampleReference(), 5)
	assert.Error(t, err, "mask width")
}

func TestCapture(t *testing.T) {
	p, err := policy.NewPrior(3, []float64{0, 2, 1})
	require.NoError(t, err)
	obs := []int{1, 1, 0}
	ref, err := Capture(context.Background(), p, obs, []float64{1, 0, 1}, 3)
	require.NoError(t, err)
	want := &Reference{
		Observation:    []int{1, 1, 0},
		LegalActions:   []float64{0, ninf, 0},
		ExpectedAction: intPtr(2),
	}
	if diff := cmp.Diff(want, ref, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("captured reference (-want +got):\n%s", diff)
	}
	obs[0] = 7
	assert.Equal(t, 1, ref.Observation[0], "capture must copy the observation")
}

// #endregion check
