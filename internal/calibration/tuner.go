package calibration

import (
	"fmt"
	"time"

	"turnover/internal/model"
	"turnover/internal/types"
)

// TunerConfig controls the online correction step.
type TunerConfig struct {
	PrecisionTarget    float64
	PrecisionTolerance float64
	HighStep           float64
	HighMin            float64
	HighMax            float64
	LearningRate       float64
}

// DefaultTunerConfig returns the production controller settings.
func DefaultTunerConfig() TunerConfig {
	return TunerConfig{
		PrecisionTarget:    0.70,
		PrecisionTolerance: 0.05,
		HighStep:           0.02,
		HighMin:            0.40,
		HighMax:            0.90,
		LearningRate:       0.03,
	}
}

// tunedDecimals is the precision parameters are stored with after an
// online step.
const tunedDecimals = 4

// OnlineTuner nudges the parameters with the outcomes realized on one day.
type OnlineTuner struct {
	cfg TunerConfig
}

// NewOnlineTuner creates an OnlineTuner.
func NewOnlineTuner(cfg TunerConfig) *OnlineTuner {
	return &OnlineTuner{cfg: cfg}
}

// Tune runs the long-horizon gradient step and the short-horizon threshold
// controller over the predictions realized on date. It returns the updated
// parameters and one record per parameter touched. Unrealized predictions
// and interpolated horizons are ignored.
func (t *OnlineTuner) Tune(date time.Time, realized []types.Prediction, params types.ModelParameters) (types.ModelParameters, []types.TuningRecord) {
	var records []types.TuningRecord

	params, recs := t.stepLong(date, realized, params)
	records = append(records, recs...)

	params, recs = t.adjustShortThreshold(date, realized, params)
	records = append(records, recs...)

	return params, records
}

// stepLong takes one averaged Brier-loss gradient step on the long-horizon
// alpha and beta. The derivative uses the corrected probability p in place
// of the raw sigmoid output, so it approximates the true gradient.
func (t *OnlineTuner) stepLong(date time.Time, realized []types.Prediction, params types.ModelParameters) (types.ModelParameters, []types.TuningRecord) {
	var sumA, sumB float64
	n := 0
	for _, p := range realized {
		if !p.Realized() || p.Bucket() != types.BucketLong {
			continue
		}
		y := 0.0
		if *p.ActualOut {
			y = 1
		}
		g := 2 * (p.POut - y) * p.POut * (1 - p.POut)
		sumA += g
		sumB += g * model.WeekdayBase(p.TargetDate.Weekday())
		n++
	}
	if n == 0 {
		return params, nil
	}

	gradA := sumA / float64(n)
	gradB := sumB / float64(n)
	before := params
	params.AlphaLong = roundTo(params.AlphaLong-t.cfg.LearningRate*gradA, tunedDecimals)
	params.BetaLong = roundTo(params.BetaLong-t.cfg.LearningRate*gradB, tunedDecimals)

	explanation := fmt.Sprintf("brier gradient step n=%d", n)
	return params, []types.TuningRecord{
		{Date: date, Bucket: types.BucketLong, Name: types.ParamAlphaLong, Before: before.AlphaLong, After: params.AlphaLong, Explanation: explanation},
		{Date: date, Bucket: types.BucketLong, Name: types.ParamBetaLong, Before: before.BetaLong, After: params.BetaLong, Explanation: explanation},
	}
}

// ShortPrecision is the share of realized short-horizon predictions with
// p >= high that actually checked out. An empty selection counts as 1, so a
// cutoff nobody clears is never raised further.
func ShortPrecision(realized []types.Prediction, high float64) (precision float64, selected int, samples int) {
	tp := 0
	for _, p := range realized {
		if !p.Realized() || p.Bucket() != types.BucketShort {
			continue
		}
		samples++
		if p.POut < high {
			continue
		}
		selected++
		if *p.ActualOut {
			tp++
		}
	}
	if selected == 0 {
		return 1.0, 0, samples
	}
	return float64(tp) / float64(selected), selected, samples
}

// adjustShortThreshold moves HighShort one step toward the precision target.
// A move that would leave [HighMin, HighMax] is clamped and still recorded.
func (t *OnlineTuner) adjustShortThreshold(date time.Time, realized []types.Prediction, params types.ModelParameters) (types.ModelParameters, []types.TuningRecord) {
	precision, selected, samples := ShortPrecision(realized, params.HighShort)
	if samples == 0 {
		return params, nil
	}

	before := params.HighShort
	var requested float64
	var reason string
	switch {
	case precision < t.cfg.PrecisionTarget-t.cfg.PrecisionTolerance:
		requested = before + t.cfg.HighStep
		reason = "raise cutoff"
	case precision > t.cfg.PrecisionTarget+t.cfg.PrecisionTolerance:
		requested = before - t.cfg.HighStep
		reason = "relax cutoff"
	default:
		return params, nil
	}

	after := roundTo(clamp(requested, t.cfg.HighMin, t.cfg.HighMax), tunedDecimals)
	clamped := roundTo(requested, tunedDecimals) != after
	if after == before && !clamped {
		return params, nil
	}
	explanation := fmt.Sprintf("%s: precision=%.2f selected=%d n=%d", reason, precision, selected, samples)
	if clamped {
		explanation += fmt.Sprintf(" (clamped to [%.2f, %.2f])", t.cfg.HighMin, t.cfg.HighMax)
	}

	params.HighShort = after
	return params, []types.TuningRecord{{
		Date:        date,
		Bucket:      types.BucketShort,
		Name:        types.ParamHighShort,
		Before:      before,
		After:       after,
		Explanation: explanation,
	}}
}
