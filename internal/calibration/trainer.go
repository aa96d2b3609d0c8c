package calibration

import (
	"fmt"
	"math"
	"time"

	"turnover/internal/model"
	"turnover/internal/types"
)

// TrainerConfig controls the offline batch fit.
type TrainerConfig struct {
	WindowDays      int
	LearningRate    float64
	Epochs          int
	MinSamples      int
	TargetPrecision float64
	// Grid bounds for the short-horizon threshold search, inclusive.
	GridMin  float64
	GridMax  float64
	GridStep float64
	// Result bounds for the fitted threshold.
	HighMin float64
	HighMax float64
}

// DefaultTrainerConfig returns the production training settings.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		WindowDays:      45,
		LearningRate:    0.05,
		Epochs:          400,
		MinSamples:      120,
		TargetPrecision: 0.70,
		GridMin:         0.30,
		GridMax:         0.90,
		GridStep:        0.01,
		HighMin:         0.30,
		HighMax:         0.90,
	}
}

// earlyStopGradient ends gradient descent once both components are below it.
const earlyStopGradient = 1e-5

// trainedDecimals is the precision fitted parameters are stored with.
const trainedDecimals = 6

// SamplesFromPredictions reduces realized predictions to training samples.
func SamplesFromPredictions(preds []types.Prediction) []types.TrainingSample {
	samples := make([]types.TrainingSample, 0, len(preds))
	for _, p := range preds {
		if !p.Realized() {
			continue
		}
		label := 0
		if *p.ActualOut {
			label = 1
		}
		samples = append(samples, types.TrainingSample{
			WeekdayScore: model.WeekdayBase(p.TargetDate.Weekday()),
			Label:        label,
			RunDate:      p.RunDate,
			TargetDate:   p.TargetDate,
		})
	}
	return samples
}

// FitResult is the outcome of one logistic fit.
type FitResult struct {
	Alpha  float64
	Beta   float64
	Epochs int
	// Converged is true when the early-stop criterion ended the fit.
	Converged bool
}

// FitLogistic runs full-batch gradient descent on the log loss of
// sigmoid(alpha + beta*w), starting from (alpha, beta).
func FitLogistic(samples []types.TrainingSample, alpha, beta, learningRate float64, epochs int) FitResult {
	res := FitResult{Alpha: alpha, Beta: beta}
	if len(samples) == 0 {
		return res
	}
	n := float64(len(samples))
	for epoch := 0; epoch < epochs; epoch++ {
		var gradA, gradB float64
		for _, s := range samples {
			diff := model.RawProbability(res.Alpha, res.Beta, s.WeekdayScore) - float64(s.Label)
			gradA += diff
			gradB += diff * s.WeekdayScore
		}
		gradA /= n
		gradB /= n
		res.Alpha -= learningRate * gradA
		res.Beta -= learningRate * gradB
		res.Epochs = epoch + 1
		if math.Abs(gradA) < earlyStopGradient && math.Abs(gradB) < earlyStopGradient {
			res.Converged = true
			break
		}
	}
	return res
}

// ThresholdMetrics scores one cutoff of the raw model output.
type ThresholdMetrics struct {
	Threshold float64
	Precision float64
	Recall    float64
	Accuracy  float64
	Positives int
}

// EvaluateThreshold scores sigmoid(alpha + beta*w) >= threshold against the
// labels. An empty selection has precision 0 here.
func EvaluateThreshold(samples []types.TrainingSample, alpha, beta, threshold float64) ThresholdMetrics {
	var c confusion
	for _, s := range samples {
		c.add(model.RawProbability(alpha, beta, s.WeekdayScore) >= threshold, s.Label == 1)
	}
	return ThresholdMetrics{
		Threshold: threshold,
		Precision: c.precision(),
		Recall:    c.recall(),
		Accuracy:  c.accuracy(),
		Positives: c.tp + c.fp,
	}
}

// thresholdGrid lists the candidate cutoffs from lo to hi inclusive.
// Values are built from integer steps to avoid accumulated drift.
func thresholdGrid(lo, hi, step float64) []float64 {
	if step <= 0 || hi < lo {
		return nil
	}
	n := int(math.Round((hi - lo) / step))
	grid := make([]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		grid = append(grid, roundTo(lo+float64(i)*step, 4))
	}
	return grid
}

// SearchThreshold picks, among grid cutoffs whose precision reaches target,
// the one with the smallest precision; ties keep the lower cutoff. The
// second return value is false when no cutoff qualifies, in which case the
// metrics describe the fallback threshold unchanged.
//
// The chosen cutoff rises with target only while precision is non-decreasing
// in the cutoff; a dip in precision can make a higher target pick a lower
// cutoff.
func (t *Trainer) SearchThreshold(samples []types.TrainingSample, alpha, beta, target, fallback float64) (ThresholdMetrics, bool) {
	var best *ThresholdMetrics
	for _, thr := range thresholdGrid(t.cfg.GridMin, t.cfg.GridMax, t.cfg.GridStep) {
		m := EvaluateThreshold(samples, alpha, beta, thr)
		if m.Precision < target {
			continue
		}
		if best == nil || m.Precision < best.Precision {
			best = &m
		}
	}
	if best != nil {
		return *best, true
	}
	return EvaluateThreshold(samples, alpha, beta, fallback), false
}

// SkipNote explains why a bucket was left untouched.
type SkipNote struct {
	Bucket  types.Bucket
	Samples int
	Reason  string
}

// TrainingResult is what one training invocation recommends. Params holds
// the production parameters with every record applied; whether it is
// persisted is the caller's decision.
type TrainingResult struct {
	Params  types.ModelParameters
	Records []types.TuningRecord
	Skipped []SkipNote
	// Threshold is set when the short bucket ran its cutoff search.
	Threshold *ThresholdMetrics
}

// Trainer refits the model from a window of realized samples.
type Trainer struct {
	cfg TrainerConfig
}

// NewTrainer creates a Trainer.
func NewTrainer(cfg TrainerConfig) *Trainer {
	return &Trainer{cfg: cfg}
}

// Config returns the trainer settings.
func (t *Trainer) Config() TrainerConfig {
	return t.cfg
}

// Train fits every requested bucket independently, warm-starting from the
// production parameters. A bucket with fewer than MinSamples samples is
// skipped with a note instead of producing a noisy update.
func (t *Trainer) Train(date time.Time, samples map[types.Bucket][]types.TrainingSample, buckets []types.Bucket, params types.ModelParameters) TrainingResult {
	res := TrainingResult{Params: params}
	for _, b := range buckets {
		set := samples[b]
		if len(set) < t.cfg.MinSamples {
			res.Skipped = append(res.Skipped, SkipNote{
				Bucket:  b,
				Samples: len(set),
				Reason:  fmt.Sprintf("insufficient samples (%d < %d)", len(set), t.cfg.MinSamples),
			})
			continue
		}
		switch b {
		case types.BucketShort:
			t.trainShort(date, set, &res)
		case types.BucketLong:
			t.trainLong(date, set, &res)
		}
	}
	return res
}

func (t *Trainer) trainShort(date time.Time, set []types.TrainingSample, res *TrainingResult) {
	before := res.Params
	fit := FitLogistic(set, before.AlphaShort, before.BetaShort, t.cfg.LearningRate, t.cfg.Epochs)
	res.Params.AlphaShort = roundTo(fit.Alpha, trainedDecimals)
	res.Params.BetaShort = roundTo(fit.Beta, trainedDecimals)

	note := fitNote(len(set), fit)
	res.Records = append(res.Records,
		types.TuningRecord{Date: date, Bucket: types.BucketShort, Name: types.ParamAlphaShort, Before: before.AlphaShort, After: res.Params.AlphaShort, Explanation: note},
		types.TuningRecord{Date: date, Bucket: types.BucketShort, Name: types.ParamBetaShort, Before: before.BetaShort, After: res.Params.BetaShort, Explanation: note},
	)

	m, found := t.SearchThreshold(set, fit.Alpha, fit.Beta, t.cfg.TargetPrecision, before.HighShort)
	res.Threshold = &m
	res.Params.HighShort = clamp(roundTo(m.Threshold, trainedDecimals), t.cfg.HighMin, t.cfg.HighMax)

	explanation := fmt.Sprintf("precision=%.2f recall=%.2f acc=%.2f", m.Precision, m.Recall, m.Accuracy)
	if !found {
		explanation += fmt.Sprintf(" (target %.2f not reached, kept current cutoff)", t.cfg.TargetPrecision)
	}
	res.Records = append(res.Records, types.TuningRecord{
		Date:        date,
		Bucket:      types.BucketShort,
		Name:        types.ParamHighShort,
		Before:      before.HighShort,
		After:       res.Params.HighShort,
		Explanation: explanation,
	})
}

func (t *Trainer) trainLong(date time.Time, set []types.TrainingSample, res *TrainingResult) {
	before := res.Params
	fit := FitLogistic(set, before.AlphaLong, before.BetaLong, t.cfg.LearningRate, t.cfg.Epochs)
	res.Params.AlphaLong = roundTo(fit.Alpha, trainedDecimals)
	res.Params.BetaLong = roundTo(fit.Beta, trainedDecimals)

	note := fitNote(len(set), fit)
	res.Records = append(res.Records,
		types.TuningRecord{Date: date, Bucket: types.BucketLong, Name: types.ParamAlphaLong, Before: before.AlphaLong, After: res.Params.AlphaLong, Explanation: note},
		types.TuningRecord{Date: date, Bucket: types.BucketLong, Name: types.ParamBetaLong, Before: before.BetaLong, After: res.Params.BetaLong, Explanation: note},
	)
}

func fitNote(samples int, fit FitResult) string {
	if fit.Converged {
		return fmt.Sprintf("samples=%d epochs=%d converged", samples, fit.Epochs)
	}
	return fmt.Sprintf("samples=%d epochs=%d", samples, fit.Epochs)
}
