package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"turnover/internal/calibration"
	"turnover/internal/forecast"
	"turnover/internal/report"
	"turnover/internal/types"
)

// RoomSource loads the managed rooms with their raw reservation intervals.
type RoomSource interface {
	ListRooms(ctx context.Context, asOf time.Time) ([]types.Room, types.RoomLoadStats, error)
}

// PredictionStore persists predictions and their realized outcomes.
type PredictionStore interface {
	InsertRun(ctx context.Context, preds []types.Prediction) (int64, error)
	ListByTargetDate(ctx context.Context, date time.Time) ([]types.Prediction, error)
	UpdateOutcomes(ctx context.Context, preds []types.Prediction) (int64, error)
	ListRealized(ctx context.Context, bucket types.Bucket, from, to time.Time) ([]types.Prediction, error)
}

// AccuracyStore persists the daily per-bucket accuracy.
type AccuracyStore interface {
	ReplaceForDate(ctx context.Context, date time.Time, metrics []types.AccuracyMetrics) error
}

// ReportPublisher fans a finished run out to the reporting targets.
type ReportPublisher interface {
	Publish(ctx context.Context, run report.Run) report.Result
}

// ForecastServiceConfig holds the dependencies of a ForecastService.
// Publisher may be nil.
type ForecastServiceConfig struct {
	Rooms       RoomSource
	Params      ParameterStore
	Tuning      TuningLog
	Predictions PredictionStore
	Accuracy    AccuracyStore
	Publisher   ReportPublisher
	Forecaster  *forecast.Forecaster
	Tuner       *calibration.OnlineTuner
	Window      forecast.Window
	Logger      *slog.Logger
}

// ForecastService runs the daily batch: realize, evaluate, tune, forecast,
// persist and publish.
type ForecastService struct {
	rooms       RoomSource
	params      ParameterStore
	tuning      TuningLog
	predictions PredictionStore
	accuracy    AccuracyStore
	publisher   ReportPublisher
	forecaster  *forecast.Forecaster
	tuner       *calibration.OnlineTuner
	window      forecast.Window
	logger      *slog.Logger
	newRunID    func() string
}

// NewForecastService creates a ForecastService.
func NewForecastService(cfg ForecastServiceConfig) *ForecastService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ForecastService{
		rooms:       cfg.Rooms,
		params:      cfg.Params,
		tuning:      cfg.Tuning,
		predictions: cfg.Predictions,
		accuracy:    cfg.Accuracy,
		publisher:   cfg.Publisher,
		forecaster:  cfg.Forecaster,
		tuner:       cfg.Tuner,
		window:      cfg.Window,
		logger:      logger,
		newRunID:    func() string { return uuid.New().String() },
	}
}

// ForecastRunResult summarizes one forecast run.
type ForecastRunResult struct {
	RunID       string
	RunDate     time.Time
	Rooms       int
	Stats       types.RoomLoadStats
	Dropped     int
	Realized    int
	Accuracy    []types.AccuracyMetrics
	Tuning      []types.TuningRecord
	Params      types.ModelParameters
	Predictions []types.Prediction
	Summaries   []types.GroupSummary
	Totals      []types.DailyTotal
	Report      *report.Result
}

// Run executes the batch for runDate. Tuned parameters take effect for the
// forecasts of the same run. Publishing failures are logged and never fail
// the run.
func (s *ForecastService) Run(ctx context.Context, runDate time.Time) (*ForecastRunResult, error) {
	res := &ForecastRunResult{RunID: s.newRunID(), RunDate: runDate}
	logger := s.logger.With("run_id", res.RunID, "run_date", runDate.Format(time.DateOnly))

	params, err := loadParameters(ctx, s.params, logger)
	if err != nil {
		return nil, err
	}

	raw, stats, err := s.rooms.ListRooms(ctx, runDate)
	if err != nil {
		return nil, fmt.Errorf("loading rooms: %w", err)
	}
	res.Stats = stats
	if stats.BadCheckoutTimes > 0 || stats.SkippedReservations > 0 {
		logger.WarnContext(ctx, "bad calendar rows",
			"bad_checkout_times", stats.BadCheckoutTimes,
			"skipped_reservations", stats.SkippedReservations,
		)
	}

	rooms := forecast.Prepare(raw)
	res.Rooms = len(rooms)
	for _, rt := range rooms {
		if rt.Dropped == 0 {
			continue
		}
		res.Dropped += rt.Dropped
		logger.WarnContext(ctx, "dropped invalid reservation intervals",
			"room", rt.Room.Key.String(),
			"dropped", rt.Dropped,
		)
	}

	// D0: realize every stored prediction that targeted today.
	stored, err := s.predictions.ListByTargetDate(ctx, runDate)
	if err != nil {
		return nil, fmt.Errorf("loading predictions for %s: %w", runDate.Format(time.DateOnly), err)
	}
	actual := calibration.Outcomes(rooms, runDate, s.forecaster.Location())
	realized := calibration.Realize(stored, actual)
	updated, err := s.predictions.UpdateOutcomes(ctx, realized)
	if err != nil {
		return nil, fmt.Errorf("storing outcomes: %w", err)
	}
	res.Realized = int(updated)

	res.Accuracy = calibration.Evaluate(runDate, realized)
	if len(res.Accuracy) > 0 {
		if err := s.accuracy.ReplaceForDate(ctx, runDate, res.Accuracy); err != nil {
			return nil, fmt.Errorf("storing accuracy: %w", err)
		}
	}
	for _, m := range res.Accuracy {
		logger.InfoContext(ctx, "forecast accuracy",
			"horizon", string(m.Bucket),
			"n", m.N,
			"accuracy", m.Accuracy,
			"precision", m.Precision,
			"recall", m.Recall,
			"f1", m.F1,
		)
	}

	tuned, records := s.tuner.Tune(runDate, realized, params)
	if len(records) > 0 {
		if err := commitParameters(ctx, s.params, s.tuning, tuned, records); err != nil {
			return nil, err
		}
		params = tuned
		logRecords(ctx, logger, "online tuning applied", records)
	}
	res.Tuning = records
	res.Params = params

	preds := s.forecaster.Forecast(rooms, runDate, s.window, params)
	if _, err := s.predictions.InsertRun(ctx, preds); err != nil {
		return nil, fmt.Errorf("storing predictions: %w", err)
	}
	res.Summaries = forecast.Summarize(preds)
	res.Totals = forecast.Totals(res.Summaries)
	forecast.SortForDisplay(preds)
	res.Predictions = preds

	for _, t := range res.Totals {
		logger.InfoContext(ctx, "forecast total",
			"date", t.Date.Format(time.DateOnly),
			"out", t.OutCount,
			"early", t.EarlyCount,
			"p50", t.P50,
			"low", t.Low,
			"high", t.High,
			"total", t.TotalCount,
		)
	}

	if s.publisher != nil {
		pub := s.publisher.Publish(ctx, report.Run{
			Task:    string(TaskForecast),
			Rooms:   res.Rooms,
			Dropped: res.Dropped,
			Snapshot: &report.Snapshot{
				RunID:       res.RunID,
				RunDate:     runDate,
				GeneratedAt: time.Now().UTC(),
				Params:      params,
				Summaries:   res.Summaries,
				Totals:      res.Totals,
				Predictions: preds,
				Accuracy:    res.Accuracy,
				Tuning:      records,
			},
		})
		res.Report = &pub
	}

	logger.InfoContext(ctx, "forecast run complete",
		"rooms", res.Rooms,
		"predictions", len(preds),
		"realized", res.Realized,
		"tuning_records", len(records),
	)
	return res, nil
}
