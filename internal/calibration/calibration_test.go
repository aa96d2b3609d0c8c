package calibration

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnover/internal/forecast"
	"turnover/internal/model"
	"turnover/internal/types"
)

var kst = time.FixedZone("KST", 9*60*60)

// 2025-01-11 is a Saturday.
var realizationDate = time.Date(2025, time.January, 11, 0, 0, 0, 0, kst)

func boolPtr(b bool) *bool { return &b }

func realized(h int, p float64, label types.Label, actual bool) types.Prediction {
	return types.Prediction{
		RoomID:     1,
		RunDate:    realizationDate.AddDate(0, 0, -h),
		TargetDate: realizationDate,
		Horizon:    h,
		POut:       p,
		Label:      label,
		ActualOut:  boolPtr(actual),
	}
}

func TestOutcomesAndRealize(t *testing.T) {
	rooms := forecast.Prepare([]types.Room{
		{ID: 1, Intervals: []types.Interval{{
			Start: time.Date(2025, 1, 9, 15, 0, 0, 0, kst),
			End:   time.Date(2025, 1, 11, 11, 0, 0, 0, kst),
		}}},
		{ID: 2},
	})
	actual := Outcomes(rooms, realizationDate, kst)
	assert.Equal(t, map[int64]bool{1: true, 2: false}, actual)

	preds := []types.Prediction{
		{RoomID: 1, Horizon: 1, Label: types.LabelPositive},
		{RoomID: 2, Horizon: 7, Label: types.LabelPositive},
		{RoomID: 3, Horizon: 1, Label: types.LabelNone},
	}
	got := Realize(preds, actual)

	require.Len(t, got, 3)
	require.True(t, got[0].Realized())
	assert.True(t, *got[0].ActualOut)
	assert.True(t, *got[0].Correct)
	assert.False(t, *got[1].ActualOut)
	assert.False(t, *got[1].Correct)
	assert.False(t, got[2].Realized(), "rooms missing from the load stay unrealized")
	assert.Nil(t, preds[0].ActualOut, "input must not be modified")
}

func TestEvaluate(t *testing.T) {
	preds := []types.Prediction{
		realized(1, 0.9, types.LabelPositive, true),
		realized(1, 0.8, types.LabelPositive, false),
		realized(1, 0.3, types.LabelNone, true),
		realized(1, 0.2, types.LabelNone, false),
		realized(3, 0.9, types.LabelPositive, true),
		realized(7, 0.1, types.LabelNone, false),
		{Horizon: 1, Label: types.LabelPositive},
	}

	got := Evaluate(realizationDate, preds)
	require.Len(t, got, 2)

	short := got[0]
	assert.Equal(t, types.BucketShort, short.Bucket)
	assert.Equal(t, 4, short.N)
	assert.InDelta(t, 0.5, short.Accuracy, 1e-12)
	assert.InDelta(t, 0.5, short.Precision, 1e-12)
	assert.InDelta(t, 0.5, short.Recall, 1e-12)
	assert.InDelta(t, 0.5, short.F1, 1e-12)

	long := got[1]
	assert.Equal(t, types.BucketLong, long.Bucket)
	assert.Equal(t, 1, long.N)
	assert.Equal(t, 1.0, long.Accuracy)
	assert.Zero(t, long.Precision)
	assert.Zero(t, long.Recall)
	assert.Zero(t, long.F1)
}

func TestEvaluate_NoRealizedRows(t *testing.T) {
	assert.Empty(t, Evaluate(realizationDate, []types.Prediction{{Horizon: 1}}))
}

// The long-horizon step differentiates through the corrected probability
// (after the horizon and weekday multipliers) as if it were the sigmoid
// output. This is a known approximation of the Brier gradient and is kept.
func TestOnlineTuner_LongStepUsesCorrectedProbability(t *testing.T) {
	tuner := NewOnlineTuner(DefaultTunerConfig())
	params := types.DefaultModelParameters()

	got, records := tuner.Tune(realizationDate, []types.Prediction{realized(7, 0.8, types.LabelPositive, false)}, params)

	// g = 2*(0.8-0)*0.8*0.2 = 0.256, weekday base of Saturday = 1.0
	assert.Equal(t, 0.1423, got.AlphaLong)
	assert.Equal(t, 1.0123, got.BetaLong)
	require.Len(t, records, 2)
	assert.Equal(t, types.ParamAlphaLong, records[0].Name)
	assert.Equal(t, 0.15, records[0].Before)
	assert.InDelta(t, -0.0077, records[0].Delta(), 1e-9)
	assert.Equal(t, types.ParamBetaLong, records[1].Name)

	// The exact derivative would use the raw sigmoid, which differs.
	raw := model.RawProbability(params.AlphaLong, params.BetaLong, 1.0)
	assert.NotEqual(t, raw, 0.8)
}

func TestOnlineTuner_LongStepWeekdayWeight(t *testing.T) {
	tuner := NewOnlineTuner(DefaultTunerConfig())
	p := realized(7, 0.5, types.LabelBorderline, true)
	p.TargetDate = time.Date(2025, time.January, 8, 0, 0, 0, 0, kst) // Wednesday, base 0.45

	got, _ := tuner.Tune(p.TargetDate, []types.Prediction{p}, types.DefaultModelParameters())

	// g = 2*(0.5-1)*0.25 = -0.25
	assert.Equal(t, 0.1575, got.AlphaLong)
	assert.Equal(t, 1.0234, got.BetaLong)
}

func TestOnlineTuner_ShortThreshold(t *testing.T) {
	many := func(n, outs int, p float64) []types.Prediction {
		var preds []types.Prediction
		for i := 0; i < n; i++ {
			preds = append(preds, realized(1, p, types.LabelPositive, i < outs))
		}
		return preds
	}

	tests := []struct {
		name        string
		high        float64
		preds       []types.Prediction
		wantHigh    float64
		wantRecords int
		wantText    string
	}{
		{name: "low precision raises", high: 0.65, preds: many(4, 1, 0.7), wantHigh: 0.67, wantRecords: 1, wantText: "raise"},
		{name: "high precision relaxes", high: 0.65, preds: many(2, 2, 0.7), wantHigh: 0.63, wantRecords: 1, wantText: "relax"},
		{name: "within tolerance holds", high: 0.65, preds: many(10, 7, 0.7), wantHigh: 0.65},
		{name: "empty selection counts as precise", high: 0.65, preds: many(3, 0, 0.5), wantHigh: 0.63, wantRecords: 1, wantText: "precision=1.00"},
		{name: "raise clamped at max", high: 0.89, preds: many(4, 0, 0.95), wantHigh: 0.90, wantRecords: 1, wantText: "clamped"},
		{name: "pinned at max still recorded", high: 0.90, preds: many(4, 0, 0.95), wantHigh: 0.90, wantRecords: 1, wantText: "clamped"},
		{name: "relax clamped at min", high: 0.41, preds: many(2, 2, 0.7), wantHigh: 0.40, wantRecords: 1, wantText: "clamped"},
		{name: "no short samples", high: 0.65, preds: []types.Prediction{realized(3, 0.7, types.LabelPositive, false)}, wantHigh: 0.65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := types.DefaultModelParameters()
			params.HighShort = tt.high

			got, records := NewOnlineTuner(DefaultTunerConfig()).Tune(realizationDate, tt.preds, params)

			assert.InDelta(t, tt.wantHigh, got.HighShort, 1e-9)
			require.Len(t, records, tt.wantRecords)
			if tt.wantRecords > 0 {
				assert.Equal(t, types.ParamHighShort, records[0].Name)
				assert.Equal(t, types.BucketShort, records[0].Bucket)
				assert.Equal(t, tt.high, records[0].Before)
				assert.Contains(t, records[0].Explanation, tt.wantText)
			}
		})
	}
}

func TestShortPrecision_EmptySelection(t *testing.T) {
	prec, selected, n := ShortPrecision([]types.Prediction{realized(1, 0.2, types.LabelNone, true)}, 0.65)
	assert.Equal(t, 1.0, prec)
	assert.Zero(t, selected)
	assert.Equal(t, 1, n)
}

// graded builds ten samples per weekday score with the given number
// of checkouts. Higher scores check out more often.
func graded() []types.TrainingSample {
	groups := []struct {
		score     float64
		positives int
	}{
		{0.45, 3}, {0.5, 4}, {0.6, 5}, {0.8, 7}, {0.9, 8}, {1.0, 9},
	}
	var out []types.TrainingSample
	for _, g := range groups {
		for i := 0; i < 10; i++ {
			label := 0
			if i < g.positives {
				label = 1
			}
			out = append(out, types.TrainingSample{WeekdayScore: g.score, Label: label})
		}
	}
	return out
}

func TestThresholdGridInclusive(t *testing.T) {
	grid := thresholdGrid(0.30, 0.90, 0.01)
	require.Len(t, grid, 61)
	assert.Equal(t, 0.30, grid[0])
	assert.Equal(t, 0.63, grid[33])
	assert.Equal(t, 0.90, grid[60])
}

func TestEvaluateThreshold_EmptySelectionIsZero(t *testing.T) {
	m := EvaluateThreshold(graded(), 0, 1, 0.99)
	assert.Zero(t, m.Precision)
	assert.Zero(t, m.Positives)
	assert.InDelta(t, 24.0/60.0, m.Accuracy, 1e-12)
}

func TestSearchThreshold(t *testing.T) {
	tr := NewTrainer(DefaultTrainerConfig())
	samples := graded()

	m, found := tr.SearchThreshold(samples, 0, 1, 0.70, 0.65)
	require.True(t, found)
	assert.Equal(t, 0.63, m.Threshold)
	assert.InDelta(t, 0.725, m.Precision, 1e-12)

	m, found = tr.SearchThreshold(samples, 0, 1, 0.85, 0.65)
	require.True(t, found)
	assert.Equal(t, 0.69, m.Threshold)

	m, found = tr.SearchThreshold(samples, 0, 1, 0.95, 0.65)
	assert.False(t, found)
	assert.Equal(t, 0.65, m.Threshold)
}

// The selected cutoff only rises with the target when precision does not
// fall as the cutoff rises, which graded() guarantees.
func TestSearchThreshold_MonotonicInTargetWhenPrecisionRisesWithThreshold(t *testing.T) {
	tr := NewTrainer(DefaultTrainerConfig())
	samples := graded()

	prev := 0.0
	for _, target := range []float64{0.5, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9} {
		m, found := tr.SearchThreshold(samples, 0, 1, target, 0.65)
		require.True(t, found, "target %.2f", target)
		assert.GreaterOrEqual(t, m.Threshold, prev, "target %.2f", target)
		prev = m.Threshold
	}
}

// Picking the smallest qualifying precision can move the cutoff down when a
// higher target is asked for and precision dips at some cutoff. Known
// behavior of the selection rule, kept as is.
func TestSearchThreshold_NonMonotonicPrecisionCanLowerThreshold(t *testing.T) {
	tr := NewTrainer(DefaultTrainerConfig())
	var samples []types.TrainingSample
	for i := 0; i < 10; i++ {
		samples = append(samples, types.TrainingSample{WeekdayScore: 0.45, Label: 1})
	}
	for i := 0; i < 10; i++ {
		label := 0
		if i < 7 {
			label = 1
		}
		samples = append(samples, types.TrainingSample{WeekdayScore: 0.5, Label: label})
	}

	// sigmoid(0.45) ~ 0.611 and sigmoid(0.5) ~ 0.622: cutoffs up to 0.61 keep
	// both groups (17/20), 0.62 keeps only the second (7/10).
	low, found := tr.SearchThreshold(samples, 0, 1, 0.70, 0.65)
	require.True(t, found)
	assert.Equal(t, 0.62, low.Threshold)
	assert.InDelta(t, 0.70, low.Precision, 1e-12)

	high, found := tr.SearchThreshold(samples, 0, 1, 0.80, 0.65)
	require.True(t, found)
	assert.Equal(t, 0.30, high.Threshold)
	assert.InDelta(t, 0.85, high.Precision, 1e-12)

	assert.Less(t, high.Threshold, low.Threshold)
}

func TestFitLogistic(t *testing.T) {
	t.Run("balanced data converges immediately at zero", func(t *testing.T) {
		samples := []types.TrainingSample{{WeekdayScore: 1, Label: 1}, {WeekdayScore: 1, Label: 0}}
		res := FitLogistic(samples, 0, 0, 0.05, 400)
		assert.True(t, res.Converged)
		assert.Equal(t, 1, res.Epochs)
		assert.Zero(t, res.Alpha)
	})

	t.Run("all checkouts push the curve up", func(t *testing.T) {
		samples := []types.TrainingSample{{WeekdayScore: 0.5, Label: 1}, {WeekdayScore: 1, Label: 1}}
		res := FitLogistic(samples, 0.12, 0.94, 0.05, 400)
		assert.Greater(t, res.Alpha, 0.12)
		assert.Greater(t, res.Beta, 0.94)
		assert.Equal(t, 400, res.Epochs)
	})

	t.Run("no samples keeps the warm start", func(t *testing.T) {
		res := FitLogistic(nil, 0.3, 0.7, 0.05, 400)
		assert.Equal(t, FitResult{Alpha: 0.3, Beta: 0.7}, res)
	})

	t.Run("gradient descent reduces log loss", func(t *testing.T) {
		samples := graded()
		res := FitLogistic(samples, 0.12, 0.94, 0.05, 400)
		assert.Less(t, logLoss(samples, res.Alpha, res.Beta), logLoss(samples, 0.12, 0.94))
	})
}

func logLoss(samples []types.TrainingSample, alpha, beta float64) float64 {
	var sum float64
	for _, s := range samples {
		p := model.RawProbability(alpha, beta, s.WeekdayScore)
		if s.Label == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(len(samples))
}

func TestTrainer_SkipsInsufficientBuckets(t *testing.T) {
	tr := NewTrainer(DefaultTrainerConfig())
	params := types.DefaultModelParameters()

	res := tr.Train(realizationDate, map[types.Bucket][]types.TrainingSample{
		types.BucketShort: graded(),
	}, types.TrainableBuckets, params)

	assert.Equal(t, params, res.Params)
	assert.Empty(t, res.Records)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, types.BucketShort, res.Skipped[0].Bucket)
	assert.Equal(t, 60, res.Skipped[0].Samples)
	assert.Equal(t, types.BucketLong, res.Skipped[1].Bucket)
	assert.Zero(t, res.Skipped[1].Samples)
	assert.Nil(t, res.Threshold)
}

func TestTrainer_TrainsBothBuckets(t *testing.T) {
	cfg := DefaultTrainerConfig()
	cfg.MinSamples = 50
	tr := NewTrainer(cfg)
	params := types.DefaultModelParameters()

	res := tr.Train(realizationDate, map[types.Bucket][]types.TrainingSample{
		types.BucketShort: graded(),
		types.BucketLong:  graded(),
	}, types.TrainableBuckets, params)

	assert.Empty(t, res.Skipped)
	require.Len(t, res.Records, 5)
	names := []string{}
	for _, r := range res.Records {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		types.ParamAlphaShort, types.ParamBetaShort, types.ParamHighShort,
		types.ParamAlphaLong, types.ParamBetaLong,
	}, names)
	require.NotNil(t, res.Threshold)
	assert.GreaterOrEqual(t, res.Params.HighShort, cfg.HighMin)
	assert.LessOrEqual(t, res.Params.HighShort, cfg.HighMax)
	assert.Equal(t, params.Borderline, res.Params.Borderline)
	assert.Equal(t, params.HighLong, res.Params.HighLong)
	assert.Equal(t, res.Params.AlphaShort, res.Records[0].After)
}

func TestTrainer_OnlySelectedBuckets(t *testing.T) {
	cfg := DefaultTrainerConfig()
	cfg.MinSamples = 1
	res := NewTrainer(cfg).Train(realizationDate, map[types.Bucket][]types.TrainingSample{
		types.BucketShort: graded(),
		types.BucketLong:  graded(),
	}, []types.Bucket{types.BucketLong}, types.DefaultModelParameters())

	require.Len(t, res.Records, 2)
	assert.Equal(t, types.BucketLong, res.Records[0].Bucket)
	assert.Nil(t, res.Threshold)
}

func TestSamplesFromPredictions(t *testing.T) {
	preds := []types.Prediction{
		realized(1, 0.7, types.LabelPositive, true),
		{Horizon: 1, TargetDate: realizationDate},
	}
	got := SamplesFromPredictions(preds)

	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].WeekdayScore)
	assert.Equal(t, 1, got[0].Label)
}
