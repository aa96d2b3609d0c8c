// Package app wires configuration, Postgres, AWS clients and the job
// services into a scheduler.Multiplexer. It is shared by the scheduler
// Lambda and the job-runner CLI so both run the same stack.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"turnover/internal/calibration"
	"turnover/internal/config"
	"turnover/internal/db"
	"turnover/internal/forecast"
	"turnover/internal/report"
	"turnover/internal/scheduler"
)

// NewLogger creates a JSON slog.Logger on stdout for the given level name.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// NewPool opens and pings the connection pool.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pcfg.MaxConns = int32(cfg.MaxConns)
	pcfg.MinConns = int32(cfg.MinConns)
	pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	pcfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	pcfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// NewAWSConfig loads the SDK configuration, pointing every client at
// EndpointURL when one is set (LocalStack).
func NewAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewPublisher builds the report publisher from the configured targets.
// Targets without a bucket or queue are left out. Nil is returned when no
// target is configured.
func NewPublisher(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) *report.Publisher {
	pub := &report.Publisher{Logger: logger}
	if cfg.AWS.ReportBucket != "" {
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWS.EndpointURL != ""
		})
		pub.Snapshots = report.NewSnapshotStore(client, cfg.AWS.ReportBucket)
	}
	if cfg.AWS.ForecastReadyQueue != "" {
		pub.Notifier = report.NewReadyNotifier(sqs.NewFromConfig(awsCfg), cfg.AWS.ForecastReadyQueue)
	}
	if cfg.Observability.EnableMetrics {
		pub.Metrics = report.NewMetricsPublisher(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace)
	}
	if pub.Snapshots == nil && pub.Notifier == nil && pub.Metrics == nil {
		return nil
	}
	return pub
}

// Deps are the externally created resources a Multiplexer runs on.
type Deps struct {
	Config    *config.Config
	DB        db.DBTX
	Publisher *report.Publisher
	WorkerID  string
	Logger    *slog.Logger
}

// NewMultiplexer builds the repositories and services and returns the task
// multiplexer.
func NewMultiplexer(d Deps) (*scheduler.Multiplexer, error) {
	loc, err := d.Config.Forecast.Location()
	if err != nil {
		return nil, err
	}
	forecaster := forecast.NewForecaster(loc)

	params := db.NewParameterRepository(d.DB)
	tuning := db.NewTuningRepository(d.DB)
	predictions := db.NewPredictionRepository(d.DB)

	var publisher scheduler.ReportPublisher
	if d.Publisher != nil {
		publisher = d.Publisher
	}

	return &scheduler.Multiplexer{
		Forecast: scheduler.NewForecastService(scheduler.ForecastServiceConfig{
			Rooms:       db.NewRoomRepository(d.DB),
			Params:      params,
			Tuning:      tuning,
			Predictions: predictions,
			Accuracy:    db.NewAccuracyRepository(d.DB),
			Publisher:   publisher,
			Forecaster:  forecaster,
			Tuner:       calibration.NewOnlineTuner(d.Config.Tuning.Tuner()),
			Window:      d.Config.Forecast.Window(),
			Logger:      d.Logger,
		}),
		Training: scheduler.NewTrainingService(scheduler.TrainingServiceConfig{
			Predictions: predictions,
			Params:      params,
			Tuning:      tuning,
			Logger:      d.Logger,
		}),
		JobLock:         db.NewJobLockRepository(d.DB),
		JobHistory:      db.NewJobHistoryRepository(d.DB),
		Forecaster:      forecaster,
		TrainerDefaults: d.Config.Training.Trainer(),
		WorkerID:        d.WorkerID,
		LockTTL:         scheduler.DefaultLockTTL,
		Logger:          d.Logger,
	}, nil
}
