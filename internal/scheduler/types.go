// Package scheduler implements the scheduled jobs of the checkout forecast.
//
// This file defines the shared types of the task multiplexer. They are used
// both by the services in this package and by the cmd/scheduler Lambda
// handler and the cmd/tools/job-runner CLI.
package scheduler

import (
	"time"

	"turnover/internal/types"
)

// TaskType identifies which service handles a scheduled event.
type TaskType string

const (
	// TaskForecast realizes yesterday's predictions for D0, tunes online,
	// and forecasts the configured window.
	TaskForecast TaskType = "forecast"
	// TaskTrain refits the model offline from the realized window.
	TaskTrain TaskType = "train"
)

// Tasks lists every supported task in display order.
var Tasks = []TaskType{TaskForecast, TaskTrain}

// Description returns a one-line summary used by the job-runner listing.
func (t TaskType) Description() string {
	switch t {
	case TaskForecast:
		return "realize D0 outcomes, tune parameters online, forecast the window and publish the report"
	case TaskTrain:
		return "refit alpha/beta per horizon bucket and search the short cutoff (shadow unless apply)"
	}
	return ""
}

// ParamsLockID is the job lock shared by every task that reads and saves the
// model parameters. It carries no run date, so a backfill for one day and
// the daily run for another still exclude each other; the date is kept in
// job history only.
const ParamsLockID = "calibration:params"

// JobPayload is the JSON payload sent by EventBridge (or the job-runner) to
// the scheduler.
//
//	{
//	  "task": "train",
//	  "reference_time": "2025-01-10T06:00:00+09:00",
//	  "allow_backfill": true,
//	  "apply": true,
//	  "buckets": "short"
//	}
type JobPayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now". A reference time outside the current
	// local day is only honoured together with AllowBackfill.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
	AllowBackfill bool       `json:"allow_backfill,omitempty"`

	// Training overrides. Zero values keep the configured defaults.
	Apply           bool    `json:"apply,omitempty"`
	Buckets         string  `json:"buckets,omitempty"`
	WindowDays      int     `json:"window_days,omitempty"`
	LearningRate    float64 `json:"learning_rate,omitempty"`
	Epochs          int     `json:"epochs,omitempty"`
	MinSamples      int     `json:"min_samples,omitempty"`
	TargetPrecision float64 `json:"target_precision,omitempty"`
}

// Mode returns the training mode the payload asks for.
func (p JobPayload) Mode() types.TrainingMode {
	if p.Apply {
		return types.ModeApply
	}
	return types.ModeShadow
}
