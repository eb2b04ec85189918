package inference

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Alice227USSR/sotuken/policy-bridge/internal/golden"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/intent"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/mask"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/policy"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/rules"
)

var ninf = math.Inf(-1)

// #region fakes

// tinyEngine has a 4-cell observation and 4 actions.
type tinyEngine struct{}

var tinyLabels = []string{"(Discard 0)", "(Play 0)", "(Reveal player +1 color R)", "(Reveal player +1 rank 5)"}

func (tinyEngine) ObservationSize() int { return 4 }
func (tinyEngine) ActionCount() int     { return 4 }
func (tinyEngine) Label(a int) string {
	if a < 0 || a >= len(tinyLabels) {
		return strconv.Itoa(a)
	}
	return tinyLabels[a]
}
func (tinyEngine) Labels() []string { return append([]string(nil), tinyLabels...) }

// fixedPolicy returns a fixed decision and records the mask it saw.
type fixedPolicy struct {
	decision policy.Decision
	err      error
	seen     []float64
}

func (f *fixedPolicy) Decide(ctx context.Context, observation []int, m []float64) (policy.Decision, error) {
	f.seen = append([]float64(nil), m...)
	return f.decision, f.err
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// #endregion fakes

func TestDecide_NormalizesBeforePolicy(t *testing.T) {
	p := &fixedPolicy{decision: policy.Decision{Action: 2}}
	svc := NewService(p, tinyEngine{}, Config{})

	res, err := svc.Decide(context.Background(), []int{1, 0, 0, 1}, []float64{1, 0, 1, 0.5}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Action)
	assert.Equal(t, []float64{0, ninf, 0, ninf}, p.seen)
	assert.Equal(t, p.seen, res.Mask)
	assert.Nil(t, res.Intent)
	assert.Nil(t, res.Validation)
}

func TestDecide_ShapeErrors(t *testing.T) {
	p := &fixedPolicy{}
	svc := NewService(p, tinyEngine{}, Config{})
	ctx := context.Background()

	_, err := svc.Decide(ctx, []int{1, 0}, []float64{0, 0, 0, 0}, Options{})
	var se *mask.ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "observation", se.Field)

	_, err = svc.Decide(ctx, []int{1, 0, 0, 1}, []float64{0, 0}, Options{})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "legal_actions", se.Field)
	assert.Nil(t, p.seen, "policy must not run on bad input")
}

func TestDecide_PolicyErrors(t *testing.T) {
	ctx := context.Background()
	obs := []int{0, 0, 0, 0}
	m := []float64{0, 0, 0, 0}

	boom := errors.New("boom")
	svc := NewService(&fixedPolicy{err: boom}, tinyEngine{}, Config{})
	_, err := svc.Decide(ctx, obs, m, Options{})
	var pe *PolicyError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, boom)

	svc = NewService(&fixedPolicy{decision: policy.Decision{Action: 4}}, tinyEngine{}, Config{})
	_, err = svc.Decide(ctx, obs, m, Options{})
	assert.True(t, errors.As(err, &pe))
}

func TestDecide_IllegalActionWarns(t *testing.T) {
	log, logs := observed()
	svc := NewService(&fixedPolicy{decision: policy.Decision{Action: 1}}, tinyEngine{}, Config{Logger: log})

	res, err := svc.Decide(context.Background(), []int{0, 0, 0, 0}, []float64{0, ninf, 0, 0}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Action)
	assert.Equal(t, 1, logs.FilterMessage("policy chose an action the mask marks illegal").Len())
}

func TestDecide_ZeroLegalWarns(t *testing.T) {
	log, logs := observed()
	svc := NewService(&fixedPolicy{decision: policy.Decision{Action: 0}}, tinyEngine{}, Config{Logger: log})

	_, err := svc.Decide(context.Background(), []int{0, 0, 0, 0}, []float64{0, 0, 0, 0}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("mask marks every action illegal").Len())
}

func TestDecide_VerboseMask(t *testing.T) {
	log, logs := observed()
	svc := NewService(&fixedPolicy{decision: policy.Decision{Action: 0}}, tinyEngine{}, Config{Logger: log})
	obs := []int{0, 0, 0, 0}

	_, err := svc.Decide(context.Background(), obs, []float64{1, 1, 0, 0}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, logs.FilterMessage("MASKCHK").Len())

	reqLog, reqLogs := observed()
	_, err = svc.Decide(context.Background(), obs, []float64{1, 1, 0, 0}, Options{VerboseMask: true, Logger: reqLog})
	require.NoError(t, err)
	assert.Equal(t, 1, reqLogs.FilterMessage("MASKCHK").Len())
}

func TestDecide_IntentNeverFailsDecision(t *testing.T) {
	log, logs := observed()
	cfg := Config{Classifier: intent.NewClassifier(intent.DefaultConfig()), Logger: log}

	// no scores exposed: classification is skipped, decision stands
	svc := NewService(&fixedPolicy{decision: policy.Decision{Action: 3}}, tinyEngine{}, cfg)
	res, err := svc.Decide(context.Background(), []int{0, 0, 0, 0}, []float64{1, 1, 1, 1}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Action)
	assert.Nil(t, res.Intent)
	assert.Equal(t, 1, logs.FilterMessage("intent classification skipped").Len())

	svc = NewService(&fixedPolicy{decision: policy.Decision{Action: 3, Scores: []float64{0, 0, 0, 9}}}, tinyEngine{}, cfg)
	res, err = svc.Decide(context.Background(), []int{0, 0, 0, 0}, []float64{1, 1, 1, 1}, Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Intent)
	assert.Equal(t, intent.LabelSaveHint, res.Intent.Label)
	assert.Equal(t, 3, res.Intent.ChosenAction)
	assert.Greater(t, res.Intent.Confidence, 0.99)
	assert.Equal(t, 1, logs.FilterMessage("INTENT").Len())
}

func TestDecide_GoldenValidationAndDrift(t *testing.T) {
	expected := 0
	ref := &golden.Reference{
		Observation:    []int{1, 0, 1, 0},
		LegalActions:   []float64{0, 0, ninf, ninf},
		ExpectedAction: &expected,
	}
	log, logs := observed()
	svc := NewService(&fixedPolicy{decision: policy.Decision{Action: 1}}, tinyEngine{}, Config{
		Validator: golden.NewValidator(ref, nil),
		Logger:    log,
	})

	res, err := svc.Decide(context.Background(), []int{1, 0, 1, 0}, []float64{0, 0, ninf, ninf}, Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Validation)
	assert.True(t, res.Validation.Match())
	assert.Equal(t, 1, res.Action, "validation must not change the action")
	assert.Equal(t, 1, logs.FilterMessage("action drifted from golden expectation").Len())

	res, err = svc.Decide(context.Background(), []int{0, 0, 1, 0}, []float64{0, 0, ninf, ninf}, Options{})
	require.NoError(t, err)
	assert.False(t, res.Validation.Match())
	assert.Equal(t, 1, logs.FilterMessage("action drifted from golden expectation").Len(), "drift only logged on an exact match")
}

func TestDecide_ShapeMismatchReportedBeforeRejection(t *testing.T) {
	engine, err := rules.NewHanabi(rules.DefaultHanabiConfig())
	require.NoError(t, err)
	prior, err := policy.Uniform(engine.ObservationSize(), engine.ActionCount())
	require.NoError(t, err)
	ref := &golden.Reference{
		Observation:  make([]int, engine.ObservationSize()),
		LegalActions: make([]float64, engine.ActionCount()),
	}
	log, logs := observed()
	svc := NewService(prior, engine, Config{Validator: golden.NewValidator(ref, nil), Logger: log})

	_, err = svc.Decide(context.Background(), make([]int, 600), make([]float64, engine.ActionCount()), Options{})
	var se *mask.ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "observation", se.Field)

	entries := logs.FilterMessage("OBSCHK shape mismatch").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(600), entries[0].ContextMap()["obs_live"])
	assert.Equal(t, int64(engine.ObservationSize()), entries[0].ContextMap()["obs_golden"])
}

func TestDecide_LegalityAudit(t *testing.T) {
	engine, err := rules.NewHanabi(rules.DefaultHanabiConfig())
	require.NoError(t, err)
	log, logs := observed()
	prior, err := policy.Uniform(engine.ObservationSize(), engine.ActionCount())
	require.NoError(t, err)
	svc := NewService(prior, engine, Config{AuditLegality: true, Logger: log})

	// empty observation: no own cards are missing, no information tokens, no
	// visible opponent cards, so only discards and plays are legal
	obs := make([]int, engine.ObservationSize())
	allLegal := make([]float64, engine.ActionCount())
	for i := range allLegal {
		allLegal[i] = 1
	}
	res, err := svc.Decide(context.Background(), obs, allLegal, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Action)

	warn := logs.FilterMessage("LEGALCHK mask disagrees with observation").All()
	require.Len(t, warn, 1)
	assert.Len(t, warn[0].ContextMap()["legal_in_mask_only"], 10)
}
