package logging

import (
	"go.uber.org/zap"

	"github.com/Alice227USSR/sotuken/policy-bridge/internal/golden"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/intent"
	"github.com/Alice227USSR/sotuken/policy-bridge/internal/mask"
)

// #region mask-check
// MaskCheck logs the raw and applied mask of one request. Emitted only while
// verbose mask logging is on.
func MaskCheck(log *zap.Logger, raw, applied []float64) {
	log.Info("MASKCHK",
		zap.Stringer("convention", mask.Detect(raw)),
		zap.Float64s("raw", raw),
		zap.Float64s("applied", applied),
		zap.Ints("illegal", mask.IllegalIndices(applied)),
		zap.Int("legal_count", mask.CountLegal(applied)),
	)
}

// #endregion mask-check

// #region intent
// Intent logs the explanation of a chosen action.
func Intent(log *zap.Logger, rec intent.Record) {
	log.Info("INTENT", zap.Object("intent", rec))
}

// #endregion intent

// #region validation
// Validation logs a golden comparison: one line for a match, a warning with
// the head of each diff kind otherwise.
func Validation(log *zap.Logger, r golden.Report) {
	if r.Match() {
		log.Info("OBSCHK perfect match")
		return
	}
	if r.ShapeMismatch {
		log.Warn("OBSCHK shape mismatch",
			zap.Int("obs_live", r.LiveObservationLen),
			zap.Int("obs_golden", r.GoldenObservationLen),
			zap.Int("legal_live", r.LiveMaskLen),
			zap.Int("legal_golden", r.GoldenMaskLen),
		)
		return
	}

	fields := []zap.Field{
		zap.Int("obs_diff", len(r.ObservationDiffs)),
		zap.Int("legal_diff", len(r.MaskDiffs)),
	}
	if len(r.ObservationSamples) > 0 {
		fields = append(fields, zap.Any("obs_samples", r.ObservationSamples))
	}
	if len(r.MaskSamples) > 0 {
		fields = append(fields, zap.Any("legal_samples", r.MaskSamples))
	}
	log.Warn("OBSCHK mismatch", fields...)

	for _, b := range r.Blocks {
		mark := "OK"
		if !b.Equal() {
			mark = "DIFF"
		}
		log.Info("OBSCHK block",
			zap.String("block", b.Name),
			zap.Int("start", b.Start),
			zap.Int("end", b.End),
			zap.Float64("sum_live", b.LiveSum),
			zap.Float64("sum_golden", b.GoldenSum),
			zap.String("result", mark),
		)
	}
}

// #endregion validation

// #region legality-audit
// LegalityAudit logs actions whose legality in the received mask disagrees
// with the legality recomputed from the observation.
func LegalityAudit(log *zap.Logger, received, recomputed []float64) {
	var extra, missing []int
	for i := range received {
		if i >= len(recomputed) {
			break
		}
		gotLegal, wantLegal := mask.IsLegal(received[i]), mask.IsLegal(recomputed[i])
		switch {
		case gotLegal && !wantLegal:
			extra = append(extra, i)
		case !gotLegal && wantLegal:
			missing = append(missing, i)
		}
	}
	if len(extra) == 0 && len(missing) == 0 {
		log.Debug("LEGALCHK consistent")
		return
	}
	log.Warn("LEGALCHK mask disagrees with observation",
		zap.Ints("legal_in_mask_only", extra),
		zap.Ints("legal_in_observation_only", missing),
	)
}

// #endregion legality-audit
