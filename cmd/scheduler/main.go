// Package main is the entrypoint for the scheduler Lambda function.
//
// EventBridge rules send a JSON scheduler.JobPayload naming the task
// ("forecast" daily, "train" weekly in shadow mode). The handler hands the
// payload to the task multiplexer, which resolves the run date, takes the
// per-date job lock, runs the service and records job history.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"turnover/internal/app"
	"turnover/internal/config"
	"turnover/internal/scheduler"
)

// TaskHandler runs one job payload.
type TaskHandler interface {
	Handle(ctx context.Context, payload scheduler.JobPayload) (*scheduler.Outcome, error)
}

// Handler adapts a TaskHandler to the Lambda signature.
type Handler struct {
	Tasks  TaskHandler
	Logger *slog.Logger
}

// Handle runs the payload and returns the outcome message. Failed tasks
// return an error so the invocation is marked failed and retried by
// EventBridge.
func (h *Handler) Handle(ctx context.Context, payload scheduler.JobPayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "scheduler handler invoked",
		"task", string(payload.Task),
		"allow_backfill", payload.AllowBackfill,
	)

	out, err := h.Tasks.Handle(ctx, payload)
	if err != nil {
		return "", err
	}
	return out.Message, nil
}

func main() {
	bootLogger := app.NewLogger("info")
	bootLogger.Info("scheduler Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.LogLevel).With("service", cfg.Service, "version", cfg.Build.Version)

	ctx := context.Background()

	pool, err := app.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	awsCfg, err := app.NewAWSConfig(ctx, cfg.AWS)
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	// One worker id per Lambda instance for lock ownership.
	workerID := uuid.New().String()

	mux, err := app.NewMultiplexer(app.Deps{
		Config:    cfg,
		DB:        pool,
		Publisher: app.NewPublisher(cfg, awsCfg, logger),
		WorkerID:  workerID,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to build task multiplexer", "error", err)
		os.Exit(1)
	}

	handler := &Handler{Tasks: mux, Logger: logger}
	logger.Info("scheduler Lambda initialized",
		"worker_id", workerID,
		"timezone", cfg.Forecast.Timezone,
	)

	lambda.Start(handler.Handle)
}
