// Package config defines the process configuration of the turnover jobs.
// Configuration is loaded once at process start (Lambda cold start or CLI
// launch) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails the load.
package config

import (
	"time"

	"turnover/internal/calibration"
	"turnover/internal/forecast"
	"turnover/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used for credentials in configuration.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the section they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"turnover-scheduler"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database      DatabaseConfig
	AWS           AWSConfig
	Forecast      ForecastConfig
	Tuning        TuningConfig
	Training      TrainingConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"5s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds the reporting targets. An empty bucket or queue disables
// that target.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ap-northeast-2"`

	ReportBucket       string `envconfig:"REPORT_BUCKET"`
	ForecastReadyQueue string `envconfig:"SQS_FORECAST_READY" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// ForecastConfig holds the batch window.
type ForecastConfig struct {
	Timezone    string `envconfig:"TIMEZONE" default:"Asia/Seoul" validate:"required,timezone"`
	StartOffset int    `envconfig:"START_OFFSET" default:"1" validate:"gte=1"`
	EndOffset   int    `envconfig:"END_OFFSET" default:"8" validate:"gtefield=StartOffset"`
}

// Location loads the configured timezone.
func (c ForecastConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidTimezone, "unknown timezone "+c.Timezone, err)
	}
	return loc, nil
}

// Window returns the forecast offsets.
func (c ForecastConfig) Window() forecast.Window {
	return forecast.Window{Start: c.StartOffset, End: c.EndOffset}
}

// TuningConfig holds the online controller settings.
type TuningConfig struct {
	PrecisionTarget    float64 `envconfig:"PRECISION_TARGET" default:"0.70" validate:"gt=0,lte=1"`
	PrecisionTolerance float64 `envconfig:"PRECISION_TOLERANCE" default:"0.05" validate:"gte=0,lt=1"`
	HighStep           float64 `envconfig:"HIGH_STEP" default:"0.02" validate:"gt=0,lt=1"`
	HighMin            float64 `envconfig:"HIGH_MIN" default:"0.40" validate:"gt=0,lte=1"`
	HighMax            float64 `envconfig:"HIGH_MAX" default:"0.90" validate:"gtefield=HighMin,lte=1"`
	LearningRate       float64 `envconfig:"ONLINE_LEARNING_RATE" default:"0.03" validate:"gt=0"`
}

// Tuner converts the section into the controller settings.
func (c TuningConfig) Tuner() calibration.TunerConfig {
	return calibration.TunerConfig{
		PrecisionTarget:    c.PrecisionTarget,
		PrecisionTolerance: c.PrecisionTolerance,
		HighStep:           c.HighStep,
		HighMin:            c.HighMin,
		HighMax:            c.HighMax,
		LearningRate:       c.LearningRate,
	}
}

// TrainingConfig holds the offline trainer defaults. Job payloads and CLI
// flags may override them per run.
type TrainingConfig struct {
	WindowDays      int     `envconfig:"TRAIN_WINDOW_DAYS" default:"45" validate:"gte=1"`
	LearningRate    float64 `envconfig:"TRAIN_LEARNING_RATE" default:"0.05" validate:"gt=0"`
	Epochs          int     `envconfig:"TRAIN_EPOCHS" default:"400" validate:"gte=1"`
	MinSamples      int     `envconfig:"TRAIN_MIN_SAMPLES" default:"120" validate:"gte=1"`
	TargetPrecision float64 `envconfig:"TRAIN_TARGET_PRECISION" default:"0.70" validate:"gt=0,lte=1"`
}

// Trainer converts the section into trainer settings. Grid and result
// bounds keep their built-in values.
func (c TrainingConfig) Trainer() calibration.TrainerConfig {
	cfg := calibration.DefaultTrainerConfig()
	cfg.WindowDays = c.WindowDays
	cfg.LearningRate = c.LearningRate
	cfg.Epochs = c.Epochs
	cfg.MinSamples = c.MinSamples
	cfg.TargetPrecision = c.TargetPrecision
	return cfg
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Turnover"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
