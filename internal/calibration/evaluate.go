// Package calibration closes the feedback loop of the forecast: stored
// predictions are realized against observed checkouts, scored per horizon
// bucket, and used to adjust the model parameters online (every run) and
// offline (periodic batch training).
//
// Everything here is pure. Persistence and logging belong to the caller.
package calibration

import (
	"math"
	"time"

	"turnover/internal/forecast"
	"turnover/internal/occupancy"
	"turnover/internal/types"
)

// Outcomes classifies every room on date and reports whether it checked out.
// Rooms are keyed by ID.
func Outcomes(rooms []forecast.RoomTimeline, date time.Time, loc *time.Location) map[int64]bool {
	actual := make(map[int64]bool, len(rooms))
	for _, rt := range rooms {
		actual[rt.Room.ID] = occupancy.Classify(rt.Timeline, date, loc).Out
	}
	return actual
}

// Realize fills ActualOut and Correct on the predictions whose room has a
// known outcome. Predictions for rooms absent from actual are returned
// unchanged. The input slice is not modified.
func Realize(preds []types.Prediction, actual map[int64]bool) []types.Prediction {
	out := make([]types.Prediction, len(preds))
	for i, p := range preds {
		if y, ok := actual[p.RoomID]; ok {
			correct := p.PredictedPositive() == y
			p.ActualOut = &y
			p.Correct = &correct
		}
		out[i] = p
	}
	return out
}

type confusion struct {
	tp, fp, tn, fn int
}

func (c *confusion) add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.tp++
	case predicted:
		c.fp++
	case actual:
		c.fn++
	default:
		c.tn++
	}
}

func (c confusion) n() int {
	return c.tp + c.fp + c.tn + c.fn
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func (c confusion) accuracy() float64  { return ratio(c.tp+c.tn, c.n()) }
func (c confusion) precision() float64 { return ratio(c.tp, c.tp+c.fp) }
func (c confusion) recall() float64    { return ratio(c.tp, c.tp+c.fn) }

func f1(prec, rec float64) float64 {
	if prec+rec == 0 {
		return 0
	}
	return 2 * prec * rec / (prec + rec)
}

// Evaluate scores the realized predictions of one realization date per
// tracked bucket. Interpolated horizons are ignored and buckets without any
// realized prediction produce no row. Zero denominators yield 0.
func Evaluate(date time.Time, preds []types.Prediction) []types.AccuracyMetrics {
	matrices := make(map[types.Bucket]*confusion, len(types.TrainableBuckets))
	for _, b := range types.TrainableBuckets {
		matrices[b] = &confusion{}
	}
	for _, p := range preds {
		if !p.Realized() {
			continue
		}
		m, ok := matrices[p.Bucket()]
		if !ok {
			continue
		}
		m.add(p.PredictedPositive(), *p.ActualOut)
	}

	var out []types.AccuracyMetrics
	for _, b := range types.TrainableBuckets {
		m := matrices[b]
		if m.n() == 0 {
			continue
		}
		prec, rec := m.precision(), m.recall()
		out = append(out, types.AccuracyMetrics{
			Date:      date,
			Bucket:    b,
			N:         m.n(),
			Accuracy:  m.accuracy(),
			Precision: prec,
			Recall:    rec,
			F1:        f1(prec, rec),
		})
	}
	return out
}

// roundTo rounds v half away from zero to the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
