package scheduler

import (
	"errors"
	"testing"
	"time"

	"turnover/internal/calibration"
	"turnover/internal/forecast"
	"turnover/internal/report"
	"turnover/internal/types"
)

func localDay(d, h int) time.Time {
	return time.Date(2025, time.January, d, h, 0, 0, 0, kst)
}

type forecastFixture struct {
	rooms     *mockRoomSource
	params    *mockParamStore
	tuning    *mockTuningLog
	preds     *mockPredictionStore
	accuracy  *mockAccuracyStore
	publisher *mockPublisher
	svc       *ForecastService
}

func newForecastFixture() *forecastFixture {
	f := &forecastFixture{
		rooms: &mockRoomSource{rooms: []types.Room{
			{
				ID:           1,
				Key:          types.RoomKey{Sector: "A", Building: "B1", Room: "101"},
				CheckoutTime: types.NewClockTime(11, 0),
				Intervals:    []types.Interval{{Start: localDay(8, 15), End: localDay(10, 11)}},
			},
			{
				ID:           2,
				Key:          types.RoomKey{Sector: "A", Building: "B1", Room: "102"},
				CheckoutTime: types.NewClockTime(11, 0),
				Intervals: []types.Interval{
					{Start: localDay(12, 15), End: localDay(11, 11)}, // inverted, dropped
				},
			},
		}},
		params:    &mockParamStore{params: types.DefaultModelParameters()},
		tuning:    &mockTuningLog{},
		accuracy:  &mockAccuracyStore{},
		publisher: &mockPublisher{},
		preds: &mockPredictionStore{byTarget: []types.Prediction{
			{RoomID: 1, RunDate: localDay(9, 0), TargetDate: localDay(10, 0), Horizon: 1, POut: 0.8, Label: types.LabelPositive},
			{RoomID: 2, RunDate: localDay(9, 0), TargetDate: localDay(10, 0), Horizon: 1, POut: 0.7, Label: types.LabelPositive},
		}},
	}
	f.svc = NewForecastService(ForecastServiceConfig{
		Rooms:       f.rooms,
		Params:      f.params,
		Tuning:      f.tuning,
		Predictions: f.preds,
		Accuracy:    f.accuracy,
		Publisher:   f.publisher,
		Forecaster:  forecast.NewForecaster(kst),
		Tuner:       calibration.NewOnlineTuner(calibration.DefaultTunerConfig()),
		Window:      forecast.Window{Start: 1, End: 8},
		Logger:      testLogger(),
	})
	f.svc.newRunID = func() string { return "run-1" }
	return f
}

func TestForecastService_Run(t *testing.T) {
	f := newForecastFixture()
	runDate := localDay(10, 0)

	res, err := f.svc.Run(ctx(), runDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Rooms != 2 || res.Dropped != 1 {
		t.Errorf("expected 2 rooms with 1 dropped interval, got %d rooms, %d dropped", res.Rooms, res.Dropped)
	}
	if !f.rooms.asOf[0].Equal(runDate) {
		t.Errorf("rooms loaded as of %v, want %v", f.rooms.asOf[0], runDate)
	}

	// Realization: room 1 checked out on D0, room 2 did not.
	if res.Realized != 2 || len(f.preds.outcomes) != 2 {
		t.Fatalf("expected 2 realized predictions, got %d", res.Realized)
	}
	for _, p := range f.preds.outcomes {
		want := p.RoomID == 1
		if *p.ActualOut != want {
			t.Errorf("room %d: actual_out = %v, want %v", p.RoomID, *p.ActualOut, want)
		}
	}

	metrics := f.accuracy.replaced[runDate]
	if len(metrics) != 1 || metrics[0].Bucket != types.BucketShort {
		t.Fatalf("expected one short-bucket accuracy row, got %+v", metrics)
	}
	if metrics[0].Precision != 0.5 || metrics[0].Recall != 1 {
		t.Errorf("unexpected accuracy: %+v", metrics[0])
	}

	// Short precision 0.5 is below the band, so the cutoff is raised.
	if len(res.Tuning) != 1 || res.Tuning[0].Name != types.ParamHighShort {
		t.Fatalf("expected one d1_high record, got %+v", res.Tuning)
	}
	if res.Params.HighShort != 0.67 {
		t.Errorf("expected tuned d1_high 0.67, got %v", res.Params.HighShort)
	}
	if len(f.params.saved) != 1 || f.params.saved[0].HighShort != 0.67 {
		t.Errorf("expected tuned parameters saved once, got %+v", f.params.saved)
	}
	if len(f.tuning.inserted) != 1 || !f.tuning.inserted[0].applied {
		t.Errorf("expected tuning records logged as applied, got %+v", f.tuning.inserted)
	}

	// 2 rooms x 8 offsets, forecast with the tuned parameters.
	if len(f.preds.inserted) != 16 {
		t.Fatalf("expected 16 stored predictions, got %d", len(f.preds.inserted))
	}
	if len(res.Totals) != 8 {
		t.Errorf("expected 8 daily totals, got %d", len(res.Totals))
	}

	if len(f.publisher.runs) != 1 {
		t.Fatalf("expected one publish, got %d", len(f.publisher.runs))
	}
	snap := f.publisher.runs[0].Snapshot
	if snap.RunID != "run-1" || !snap.RunDate.Equal(runDate) {
		t.Errorf("unexpected snapshot header: %s %v", snap.RunID, snap.RunDate)
	}
	if snap.Params.HighShort != 0.67 {
		t.Errorf("snapshot should carry tuned parameters, got %v", snap.Params.HighShort)
	}
}

func TestForecastService_Run_NothingToRealize(t *testing.T) {
	f := newForecastFixture()
	f.preds.byTarget = nil

	res, err := f.svc.Run(ctx(), localDay(10, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Accuracy) != 0 || len(f.accuracy.replaced) != 0 {
		t.Errorf("expected no accuracy rows, got %+v", res.Accuracy)
	}
	if len(res.Tuning) != 0 || len(f.params.saved) != 0 {
		t.Errorf("expected no tuning without realized predictions")
	}
	if len(f.preds.inserted) != 16 {
		t.Errorf("expected forecast to proceed, got %d predictions", len(f.preds.inserted))
	}
}

func TestForecastService_Run_SelfHealsMissingParameters(t *testing.T) {
	f := newForecastFixture()
	f.preds.byTarget = nil
	f.params.missing = []string{types.ParamBorderline}

	if _, err := f.svc.Run(ctx(), localDay(10, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.params.saved) != 1 {
		t.Fatalf("expected defaults written back once, got %d saves", len(f.params.saved))
	}
	if f.params.saved[0] != types.DefaultModelParameters() {
		t.Errorf("unexpected saved parameters: %+v", f.params.saved[0])
	}
}

func TestForecastService_Run_InvalidParametersFallBackToDefaults(t *testing.T) {
	f := newForecastFixture()
	f.preds.byTarget = nil
	bad := types.DefaultModelParameters()
	bad.HighShort = 1.5
	f.params.params = bad

	res, err := f.svc.Run(ctx(), localDay(10, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Params != types.DefaultModelParameters() {
		t.Errorf("expected defaults, got %+v", res.Params)
	}
	if len(f.params.saved) != 0 {
		t.Errorf("invalid stored parameters must not be overwritten implicitly")
	}
}

func TestForecastService_Run_RoomLoadError(t *testing.T) {
	f := newForecastFixture()
	f.rooms.err = types.NewAppError(types.ErrCodeInternalDB, "failed to query rooms", errors.New("connection refused"))

	_, err := f.svc.Run(ctx(), localDay(10, 0))
	if err == nil {
		t.Fatal("expected error")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeInternalDB {
		t.Errorf("expected wrapped database error, got %v", err)
	}
	if len(f.preds.inserted) != 0 {
		t.Errorf("nothing should be stored after a failed load")
	}
}

func TestForecastService_Run_PublishFailureDoesNotFailRun(t *testing.T) {
	f := newForecastFixture()
	f.publisher.result = report.Result{Failures: map[string]error{report.TargetSnapshot: errors.New("access denied")}}

	res, err := f.svc.Run(ctx(), localDay(10, 0))
	if err != nil {
		t.Fatalf("publish failures must not fail the run: %v", err)
	}
	if res.Report == nil || len(res.Report.Failures) != 1 {
		t.Errorf("expected publish failure to be reported, got %+v", res.Report)
	}
}

func TestForecastService_Run_WithoutPublisher(t *testing.T) {
	f := newForecastFixture()
	f.svc.publisher = nil

	res, err := f.svc.Run(ctx(), localDay(10, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Report != nil {
		t.Errorf("expected no report result without a publisher")
	}
}
