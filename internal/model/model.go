// Package model holds the checkout probability model and the threshold
// classifier that turns its output into labels.
//
// The model is a logistic curve over a fixed weekday seasonality score,
// calibrated separately for the next-day horizon and for horizons of a week
// or more. Horizons in between interpolate linearly. Two post-hoc corrections
// (a horizon multiplier and a second weekday factor) are applied after the
// sigmoid and are never part of the learned parameters.
package model

import (
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"turnover/internal/types"
)

// weekdayBase is the a-priori seasonality signal fed into the logistic input.
var weekdayBase = [7]float64{
	time.Sunday:    0.9,
	time.Monday:    0.6,
	time.Tuesday:   0.45,
	time.Wednesday: 0.45,
	time.Thursday:  0.5,
	time.Friday:    0.8,
	time.Saturday:  1.0,
}

// weekdayFactor is the secondary multiplicative correction applied after
// the sigmoid.
var weekdayFactor = [7]float64{
	time.Sunday:    1.0,
	time.Monday:    0.95,
	time.Tuesday:   0.90,
	time.Wednesday: 0.90,
	time.Thursday:  0.95,
	time.Friday:    1.0,
	time.Saturday:  1.05,
}

// Horizon multipliers applied after the sigmoid.
const (
	ShortHorizonCorrection = 0.6
	LongHorizonCorrection  = 1.1
)

// WeekdayBase returns the seasonality score of wd.
func WeekdayBase(wd time.Weekday) float64 {
	return weekdayBase[wd]
}

// WeekdayFactor returns the post-hoc weekday multiplier of wd.
func WeekdayFactor(wd time.Weekday) float64 {
	return weekdayFactor[wd]
}

// HorizonCorrection returns the post-hoc multiplier for horizon h.
// Interpolated horizons are not corrected.
func HorizonCorrection(h int) float64 {
	switch {
	case h == types.ShortHorizon:
		return ShortHorizonCorrection
	case h >= types.LongHorizon:
		return LongHorizonCorrection
	default:
		return 1.0
	}
}

// HorizonParams is the parameter set resolved for one horizon.
type HorizonParams struct {
	Alpha float64
	Beta  float64
	High  float64
}

// ParamsForHorizon resolves alpha, beta and the positive threshold for h.
// h <= 1 returns the short set and h >= 7 the long set unchanged; anything
// between blends them with ratio (h-1)/6.
func ParamsForHorizon(p types.ModelParameters, h int) HorizonParams {
	short := HorizonParams{Alpha: p.AlphaShort, Beta: p.BetaShort, High: p.HighShort}
	long := HorizonParams{Alpha: p.AlphaLong, Beta: p.BetaLong, High: p.HighLong}
	if h <= types.ShortHorizon {
		return short
	}
	if h >= types.LongHorizon {
		return long
	}
	ratio := float64(h-1) / 6
	return HorizonParams{
		Alpha: interpolate(short.Alpha, long.Alpha, ratio),
		Beta:  interpolate(short.Beta, long.Beta, ratio),
		High:  interpolate(short.High, long.High, ratio),
	}
}

func interpolate(short, long, ratio float64) float64 {
	return (1-ratio)*short + ratio*long
}

// Sigmoid is the logistic function. It saturates to 0 or 1 for extreme z
// instead of overflowing. NaN maps to 0.5.
func Sigmoid(z float64) float64 {
	if math.IsNaN(z) {
		return 0.5
	}
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// RawProbability is the uncorrected model output sigmoid(alpha + beta*w).
func RawProbability(alpha, beta, weekdayScore float64) float64 {
	return Sigmoid(alpha + beta*weekdayScore)
}

// Observation is what the probability model needs to know about one room
// on one target date.
type Observation struct {
	Out     bool
	Stay    bool
	Weekday time.Weekday
	Horizon int
}

// CheckoutProbability returns p_out in [0,1]. A confirmed checkout is 1 and
// a confirmed midday stay is 0; otherwise the calibrated model decides.
func CheckoutProbability(obs Observation, p types.ModelParameters) float64 {
	if obs.Out {
		return 1.0
	}
	if obs.Stay {
		return 0.0
	}
	hp := ParamsForHorizon(p, obs.Horizon)
	prob := RawProbability(hp.Alpha, hp.Beta, WeekdayBase(obs.Weekday))
	prob *= HorizonCorrection(obs.Horizon)
	prob *= WeekdayFactor(obs.Weekday)
	return clamp01(prob)
}

// Classify maps a probability to a label. Ties resolve upward.
func Classify(prob, high, borderline float64) types.Label {
	switch {
	case prob >= high:
		return types.LabelPositive
	case prob >= borderline:
		return types.LabelBorderline
	default:
		return types.LabelNone
	}
}

// Predict runs the probability model and the threshold classifier with the
// horizon-resolved threshold.
func Predict(obs Observation, p types.ModelParameters) (float64, types.Label) {
	prob := CheckoutProbability(obs, p)
	high := ParamsForHorizon(p, obs.Horizon).High
	return prob, Classify(prob, high, p.Borderline)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

var validate = validator.New()

// Validate checks that the thresholds are usable probabilities and that no
// parameter is NaN or infinite.
func Validate(p types.ModelParameters) error {
	for name, v := range p.Named() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidParams,
				fmt.Sprintf("parameter %s is not finite", name),
				nil,
				map[string]any{"parameter": name},
			)
		}
	}
	if err := validate.Struct(p); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidParams, "model parameters out of range", err)
	}
	return nil
}
