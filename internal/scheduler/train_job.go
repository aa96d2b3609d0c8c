package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"turnover/internal/calibration"
	"turnover/internal/types"
)

// TrainingServiceConfig holds the dependencies of a TrainingService.
type TrainingServiceConfig struct {
	Predictions PredictionStore
	Params      ParameterStore
	Tuning      TuningLog
	Logger      *slog.Logger
}

// TrainingService runs the offline batch fit over the realized window.
type TrainingService struct {
	predictions PredictionStore
	params      ParameterStore
	tuning      TuningLog
	logger      *slog.Logger
}

// NewTrainingService creates a TrainingService.
func NewTrainingService(cfg TrainingServiceConfig) *TrainingService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TrainingService{
		predictions: cfg.Predictions,
		params:      cfg.Params,
		tuning:      cfg.Tuning,
		logger:      logger,
	}
}

// TrainingRun describes one training invocation.
type TrainingRun struct {
	RunDate time.Time
	Buckets []types.Bucket
	Mode    types.TrainingMode
	Config  calibration.TrainerConfig
}

// TrainingRunResult is the outcome of a training invocation.
type TrainingRunResult struct {
	calibration.TrainingResult
	Mode    types.TrainingMode
	Samples map[types.Bucket]int
	Applied bool
}

// Run fits every requested bucket on the predictions made in the
// Config.WindowDays days before RunDate (inclusive of RunDate). In shadow
// mode the recommendations are only logged; in apply mode they are saved
// and logged to the tuning table.
func (s *TrainingService) Run(ctx context.Context, run TrainingRun) (*TrainingRunResult, error) {
	logger := s.logger.With("run_date", run.RunDate.Format(time.DateOnly), "mode", string(run.Mode))

	params, err := loadParameters(ctx, s.params, logger)
	if err != nil {
		return nil, err
	}

	from := run.RunDate.AddDate(0, 0, -run.Config.WindowDays)
	to := run.RunDate.AddDate(0, 0, 1)
	samples := make(map[types.Bucket][]types.TrainingSample, len(run.Buckets))
	counts := make(map[types.Bucket]int, len(run.Buckets))
	for _, b := range run.Buckets {
		preds, err := s.predictions.ListRealized(ctx, b, from, to)
		if err != nil {
			return nil, fmt.Errorf("loading %s training samples: %w", b, err)
		}
		samples[b] = calibration.SamplesFromPredictions(preds)
		counts[b] = len(samples[b])
		logger.InfoContext(ctx, "training samples loaded",
			"horizon", string(b),
			"samples", counts[b],
			"from", from.Format(time.DateOnly),
		)
	}

	trainer := calibration.NewTrainer(run.Config)
	trained := trainer.Train(run.RunDate, samples, run.Buckets, params)
	for _, skip := range trained.Skipped {
		logger.WarnContext(ctx, "training skipped",
			"horizon", string(skip.Bucket),
			"samples", skip.Samples,
			"reason", skip.Reason,
		)
	}
	if m := trained.Threshold; m != nil {
		logger.InfoContext(ctx, "short cutoff search",
			"threshold", m.Threshold,
			"precision", m.Precision,
			"recall", m.Recall,
			"accuracy", m.Accuracy,
			"positives", m.Positives,
		)
	}

	res := &TrainingRunResult{TrainingResult: trained, Mode: run.Mode, Samples: counts}
	if len(trained.Records) == 0 {
		logger.InfoContext(ctx, "no parameter recommendations")
		return res, nil
	}

	if run.Mode != types.ModeApply {
		logRecords(ctx, logger, "shadow recommendation", trained.Records)
		return res, nil
	}

	if err := commitParameters(ctx, s.params, s.tuning, trained.Params, trained.Records); err != nil {
		return nil, err
	}
	res.Applied = true
	logRecords(ctx, logger, "training applied", trained.Records)
	return res, nil
}
