package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"turnover/internal/calibration"
	"turnover/internal/forecast"
	"turnover/internal/types"
)

// DefaultLockTTL covers a forecast run with margin.
const DefaultLockTTL = 15 * time.Minute

// ForecastRunner runs the daily forecast batch.
type ForecastRunner interface {
	Run(ctx context.Context, runDate time.Time) (*ForecastRunResult, error)
}

// TrainingRunner runs the offline trainer.
type TrainingRunner interface {
	Run(ctx context.Context, run TrainingRun) (*TrainingRunResult, error)
}

// JobLocker abstracts the distributed lock.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string, runDate time.Time) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Multiplexer routes a JobPayload to its service under the shared job lock
// and records the execution in job history. It backs both the scheduler
// Lambda and the job-runner CLI.
type Multiplexer struct {
	Forecast        ForecastRunner
	Training        TrainingRunner
	JobLock         JobLocker
	JobHistory      JobHistorian
	Forecaster      *forecast.Forecaster
	TrainerDefaults calibration.TrainerConfig
	WorkerID        string
	LockTTL         time.Duration
	Logger          *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Outcome is what one Handle call did.
type Outcome struct {
	Task     TaskType
	RunDate  time.Time
	Status   string
	Items    int
	Message  string
	Forecast *ForecastRunResult
	Training *TrainingRunResult
}

// Status values of an Outcome; they match the job history statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Handle validates the payload, resolves the run date, takes the lock and
// dispatches. A held lock is not an error: the outcome is "skipped".
func (m *Multiplexer) Handle(ctx context.Context, payload JobPayload) (*Outcome, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	ttl := m.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	if payload.Task == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "empty task type in job payload", nil)
	}
	if payload.Task != TaskForecast && payload.Task != TaskTrain {
		return nil, types.NewAppError(types.ErrCodeValidationUnknownTask, fmt.Sprintf("unknown task type: %q", payload.Task), nil)
	}

	runDate, err := ResolveRunDate(m.Forecaster, now(), payload.ReferenceTime, payload.AllowBackfill)
	if err != nil {
		return nil, err
	}

	var training TrainingRun
	if payload.Task == TaskTrain {
		training, err = m.trainingRun(payload, runDate)
		if err != nil {
			return nil, err
		}
	}

	taskStr := string(payload.Task)
	logger = logger.With("task", taskStr, "run_date", runDate.Format(time.DateOnly), "worker_id", m.WorkerID)
	out := &Outcome{Task: payload.Task, RunDate: runDate}

	lockID := ParamsLockID
	acquired, err := m.JobLock.Acquire(ctx, lockID, m.WorkerID, ttl)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock", "lock_id", lockID, "error", err)
		return nil, fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock not acquired, another worker is processing", "lock_id", lockID)
		out.Status = StatusSkipped
		out.Message = fmt.Sprintf("skipped: lock %s held by another worker", lockID)
		return out, nil
	}
	defer func() {
		if err := m.JobLock.Release(context.WithoutCancel(ctx), lockID, m.WorkerID); err != nil {
			logger.WarnContext(ctx, "failed to release job lock", "lock_id", lockID, "error", err)
		}
	}()

	// History failures are logged and never block the task.
	jobID, err := m.JobHistory.Start(ctx, taskStr, runDate)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history", "error", err)
		jobID = 0
	}

	execErr := m.dispatch(ctx, payload.Task, runDate, training, out)

	out.Status = StatusSuccess
	if execErr != nil {
		out.Status = StatusFailed
	}
	if jobID != 0 {
		if finishErr := m.JobHistory.Finish(context.WithoutCancel(ctx), jobID, out.Status, out.Items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "job_id", jobID, "error", finishErr)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed", "error", execErr)
		return out, fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	out.Message = fmt.Sprintf("task %s complete for %s: %d items", taskStr, runDate.Format(time.DateOnly), out.Items)
	logger.InfoContext(ctx, out.Message, "items", out.Items)
	return out, nil
}

func (m *Multiplexer) dispatch(ctx context.Context, task TaskType, runDate time.Time, training TrainingRun, out *Outcome) error {
	switch task {
	case TaskForecast:
		if m.Forecast == nil {
			return errors.New("forecast service not configured")
		}
		res, err := m.Forecast.Run(ctx, runDate)
		if err != nil {
			return err
		}
		out.Forecast = res
		out.Items = len(res.Predictions)
		return nil

	case TaskTrain:
		if m.Training == nil {
			return errors.New("training service not configured")
		}
		res, err := m.Training.Run(ctx, training)
		if err != nil {
			return err
		}
		out.Training = res
		out.Items = len(res.Records)
		return nil
	}
	return fmt.Errorf("unknown task type: %q", task)
}

// trainingRun resolves the payload's bucket selection and overrides.
func (m *Multiplexer) trainingRun(p JobPayload, runDate time.Time) (TrainingRun, error) {
	buckets, err := types.ParseBuckets(p.Buckets)
	if err != nil {
		return TrainingRun{}, err
	}
	cfg := m.TrainerDefaults
	if p.WindowDays > 0 {
		cfg.WindowDays = p.WindowDays
	}
	if p.LearningRate > 0 {
		cfg.LearningRate = p.LearningRate
	}
	if p.Epochs > 0 {
		cfg.Epochs = p.Epochs
	}
	if p.MinSamples > 0 {
		cfg.MinSamples = p.MinSamples
	}
	if p.TargetPrecision > 0 {
		if p.TargetPrecision > 1 {
			return TrainingRun{}, types.NewAppError(types.ErrCodeValidationInvalidParams,
				fmt.Sprintf("target precision %.2f out of range (0,1]", p.TargetPrecision), nil)
		}
		cfg.TargetPrecision = p.TargetPrecision
	}
	return TrainingRun{RunDate: runDate, Buckets: buckets, Mode: p.Mode(), Config: cfg}, nil
}
