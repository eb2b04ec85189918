// Package inference turns one decoded request into an action: it normalizes
// the mask, runs the advisory checks, asks the policy, and explains the choice.
package inference

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Alice227USSR/sotuken/policy-bridge/internal/golden"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/intent"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/logging"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/mask"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/policy"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/rules"
)

// #region types
// Config selects the optional stages of Decide. Nil components are skipped.
type Config struct {
	Classifier    *intent.Classifier
	Validator     *golden.Validator
	AuditLegality bool
	Logger        *zap.Logger
}

// Options are per-request switches.
type Options struct {
	VerboseMask bool
	Logger      *zap.Logger // request-scoped logger; the service logger if nil
}

// Result carries the chosen action and the advisory output that led to it.
// Only Action is part of the client contract.
type Result struct {
	Action     int
	Mask       []float64
	Intent     *intent.Record
	Validation *golden.Report
}

// PolicyError wraps a failure of the policy itself, as opposed to bad input.
type PolicyError struct {
	Err error
}

func (e *PolicyError) Error() string { return fmt.Sprintf("policy: %v", e.Err) }

func (e *PolicyError) Unwrap() error { return e.Err }

// #endregion types

// #region service
// Service is safe for concurrent use when its policy is.
type Service struct {
	policy     policy.Policy
	engine     rules.Engine
	labels     []string
	classifier *intent.Classifier
	validator  *golden.Validator
	audit      bool
	log        *zap.Logger
}

// NewService binds a policy to the engine whose widths and labels it uses.
func NewService(p policy.Policy, engine rules.Engine, cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		policy:     p,
		engine:     engine,
		labels:     engine.Labels(),
		classifier: cfg.Classifier,
		validator:  cfg.Validator,
		audit:      cfg.AuditLegality,
		log:        log,
	}
}

// Decide compares the request with the golden reference, validates its shape,
// normalizes the mask, and returns the policy's action. Validation, legality
// audit and intent classification only log; none of them can change or fail
// the decision.
func (s *Service) Decide(ctx context.Context, observation []int, rawMask []float64, opts Options) (Result, error) {
	log := s.log
	if opts.Logger != nil {
		log = opts.Logger
	}

	// Validation runs before the width checks: a wrong-shaped request still
	// gets its OBSCHK report before it is rejected.
	var report *golden.Report
	if s.validator != nil {
		r := s.validator.Compare(observation, rawMask)
		logging.Validation(log, r)
		report = &r
	}

	if want := s.engine.ObservationSize(); len(observation) != want {
		return Result{}, &mask.ShapeError{Field: "observation", Got: len(observation), Want: want}
	}
	canonical, err := mask.Normalize(rawMask, s.engine.ActionCount())
	if err != nil {
		return Result{}, err
	}

	if opts.VerboseMask {
		logging.MaskCheck(log, rawMask, canonical)
	}
	if mask.CountLegal(canonical) == 0 {
		log.Warn("mask marks every action illegal", zap.Stringer("convention", mask.Detect(rawMask)))
	}

	if s.audit {
		s.auditLegality(log, observation, canonical)
	}

	d, err := s.policy.Decide(ctx, observation, canonical)
	if err != nil {
		return Result{}, &PolicyError{Err: err}
	}
	if d.Action < 0 || d.Action >= len(canonical) {
		return Result{}, &PolicyError{Err: fmt.Errorf("action %d outside [0,%d)", d.Action, len(canonical))}
	}
	if !mask.IsLegal(canonical[d.Action]) {
		log.Warn("policy chose an action the mask marks illegal",
			zap.Int("action", d.Action),
			zap.String("move", s.label(d.Action)),
		)
	}
	if report != nil && report.Match() {
		if exp := s.validator.Reference().ExpectedAction; exp != nil && *exp != d.Action {
			log.Warn("action drifted from golden expectation",
				zap.Int("action", d.Action),
				zap.Int("expected", *exp),
			)
		}
	}

	return Result{
		Action:     d.Action,
		Mask:       canonical,
		Intent:     s.explain(log, d, canonical),
		Validation: report,
	}, nil
}

// #endregion service

// #region advisory
func (s *Service) auditLegality(log *zap.Logger, observation []int, canonical []float64) {
	auditor, ok := s.engine.(rules.Auditor)
	if !ok {
		return
	}
	recomputed, err := auditor.LegalMask(observation)
	if err != nil {
		log.Warn("legality audit skipped", zap.Error(err))
		return
	}
	logging.LegalityAudit(log, canonical, recomputed)
}

// explain never fails the decision: errors and panics are logged and dropped.
func (s *Service) explain(log *zap.Logger, d policy.Decision, canonical []float64) (rec *intent.Record) {
	if s.classifier == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("intent classification panicked", zap.Any("panic", r))
			rec = nil
		}
	}()

	r, err := s.classifier.Classify(d.Scores, canonical, d.Action, s.labels)
	if err != nil {
		log.Warn("intent classification skipped", zap.Error(err))
		return nil
	}
	logging.Intent(log, r)
	return &r
}

func (s *Service) label(action int) string {
	return s.engine.Label(action)
}

// #endregion advisory
