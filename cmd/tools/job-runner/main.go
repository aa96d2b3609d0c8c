// Package main implements the job-runner CLI for invoking the scheduler
// tasks directly, bypassing the AWS Lambda shim.
//
// It is meant for local runs, manual backfills and shadow training reviews.
// The flags build a scheduler.JobPayload which is either printed (--dry-run)
// or handed to the same task multiplexer the Lambda uses.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=forecast
//	go run ./cmd/tools/job-runner --task=forecast --reference-time=2025-01-10T06:00:00+09:00 --allow-backfill
//	go run ./cmd/tools/job-runner --task=train --horizon=short --days=60
//	go run ./cmd/tools/job-runner --task=train --apply --target-precision=0.75
//	go run ./cmd/tools/job-runner --dry-run --task=train
//	go run ./cmd/tools/job-runner --list
//
// Configuration is read like the Lambda's (environment, .env, SSM pointers).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"turnover/internal/app"
	"turnover/internal/config"
	"turnover/internal/scheduler"
	"turnover/internal/types"
)

type options struct {
	list    bool
	dryRun  bool
	payload scheduler.JobPayload
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var (
		opts    options
		refTime string
	)
	fs := flag.NewFlagSet("job-runner", flag.ContinueOnError)
	fs.SetOutput(stderr)

	task := fs.String("task", "", "Task to execute (forecast, train)")
	fs.StringVar(&refTime, "reference-time", "", "Override \"now\" (RFC3339, e.g. 2025-01-10T06:00:00+09:00)")
	fs.BoolVar(&opts.list, "list", false, "List all available tasks and exit")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Print the JSON payload without executing")
	fs.BoolVar(&opts.payload.AllowBackfill, "allow-backfill", false, "Accept a reference time on a past day")

	fs.BoolVar(&opts.payload.Apply, "apply", false, "train: save the fitted parameters (default is shadow)")
	fs.StringVar(&opts.payload.Buckets, "horizon", "both", "train: horizon buckets to fit (short, long, both)")
	fs.IntVar(&opts.payload.WindowDays, "days", 0, "train: sample window in days (0 keeps the configured value)")
	fs.Float64Var(&opts.payload.LearningRate, "learning-rate", 0, "train: gradient descent step (0 keeps the configured value)")
	fs.IntVar(&opts.payload.Epochs, "epochs", 0, "train: gradient descent epochs (0 keeps the configured value)")
	fs.IntVar(&opts.payload.MinSamples, "min-samples", 0, "train: minimum samples per bucket (0 keeps the configured value)")
	fs.Float64Var(&opts.payload.TargetPrecision, "target-precision", 0, "train: precision goal of the cutoff search (0 keeps the configured value)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(stderr, "Run scheduler tasks directly, bypassing Lambda.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nUse --list to see all available tasks.\n")
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.list {
		return opts, nil
	}

	if *task == "" {
		return opts, errors.New("--task is required")
	}
	opts.payload.Task = scheduler.TaskType(*task)
	if opts.payload.Task.Description() == "" {
		return opts, fmt.Errorf("unknown task %q", *task)
	}

	if refTime != "" {
		t, err := time.Parse(time.RFC3339, refTime)
		if err != nil {
			return opts, fmt.Errorf("invalid --reference-time %q (expected RFC3339): %w", refTime, err)
		}
		opts.payload.ReferenceTime = &t
	}

	if opts.payload.Task != scheduler.TaskTrain {
		opts.payload.Apply = false
		opts.payload.Buckets = ""
	}
	return opts, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		printAvailableTasks(os.Stderr)
		os.Exit(1)
	}

	if opts.list {
		printAvailableTasks(os.Stderr)
		return
	}
	if opts.dryRun {
		if err := printPayload(os.Stdout, opts.payload); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Load .env file for local development (non-fatal if missing).
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out, err := execute(ctx, opts.payload)
	if out != nil {
		printOutcome(os.Stdout, out)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// execute wires the same stack as the Lambda and runs one payload.
func execute(ctx context.Context, payload scheduler.JobPayload) (*scheduler.Outcome, error) {
	var provider config.SecretProvider = config.NewEnvVarProvider()
	if env := os.Getenv("APP_ENV"); env != "" && env != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger := app.NewLogger(cfg.LogLevel)

	pool, err := app.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	defer pool.Close()
	logger.Info("database connection established")

	awsCfg, err := app.NewAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	mux, err := app.NewMultiplexer(app.Deps{
		Config:    cfg,
		DB:        pool,
		Publisher: app.NewPublisher(cfg, awsCfg, logger),
		WorkerID:  "job-runner-" + uuid.New().String(),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return mux.Handle(ctx, payload)
}

func printAvailableTasks(w io.Writer) {
	fmt.Fprintf(w, "Available tasks:\n\n")
	for _, t := range scheduler.Tasks {
		fmt.Fprintf(w, "  %-9s  %s\n", t, t.Description())
	}
	fmt.Fprintln(w)
}

func printPayload(w io.Writer, payload scheduler.JobPayload) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printOutcome renders the run summary for an operator.
func printOutcome(w io.Writer, out *scheduler.Outcome) {
	fmt.Fprintf(w, "%s %s: %s\n", out.Task, out.RunDate.Format(time.DateOnly), out.Status)
	if out.Message != "" {
		fmt.Fprintln(w, out.Message)
	}

	if f := out.Forecast; f != nil {
		fmt.Fprintf(w, "\nrun %s: %d rooms, %d realized, %d dropped intervals\n", f.RunID, f.Rooms, f.Realized, f.Dropped)
		printAccuracy(w, f.Accuracy)
		printRecords(w, "online tuning", f.Tuning)
		printTotals(w, f.Totals)
		if f.Report != nil {
			fmt.Fprintf(w, "\nreport: %s (%d failed targets)\n", f.Report.SnapshotKey, len(f.Report.Failures))
		}
	}

	if r := out.Training; r != nil {
		fmt.Fprintf(w, "\nmode %s, samples d1=%d d7=%d\n", r.Mode, r.Samples[types.BucketShort], r.Samples[types.BucketLong])
		for _, s := range r.Skipped {
			fmt.Fprintf(w, "skipped %s: %s\n", s.Bucket, s.Reason)
		}
		if m := r.Threshold; m != nil {
			fmt.Fprintf(w, "d1 cutoff %.2f: precision=%.3f recall=%.3f accuracy=%.3f positives=%d\n",
				m.Threshold, m.Precision, m.Recall, m.Accuracy, m.Positives)
		}
		title := "shadow recommendations"
		if r.Applied {
			title = "applied"
		}
		printRecords(w, title, r.Records)
	}
}

func printAccuracy(w io.Writer, metrics []types.AccuracyMetrics) {
	if len(metrics) == 0 {
		return
	}
	fmt.Fprintln(w, "\naccuracy:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "horizon\tn\tacc\tprec\trec\tf1")
	for _, m := range metrics {
		fmt.Fprintf(tw, "%s\t%d\t%.4f\t%.4f\t%.4f\t%.4f\n", m.Bucket, m.N, m.Accuracy, m.Precision, m.Recall, m.F1)
	}
	tw.Flush()
}

func printRecords(w io.Writer, title string, records []types.TuningRecord) {
	if len(records) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "variable\tbefore\tafter\tdelta\texplanation")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%.6f\t%.6f\t%+.6f\t%s\n", r.Name, r.Before, r.After, r.Delta(), r.Explanation)
	}
	tw.Flush()
}

func printTotals(w io.Writer, totals []types.DailyTotal) {
	if len(totals) == 0 {
		return
	}
	fmt.Fprintln(w, "\ntotals:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "date\tout\tearly\tp50\tlow\thigh\tpotential\ttotal")
	for _, t := range totals {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			t.Date.Format(time.DateOnly), t.OutCount, t.EarlyCount, t.P50, t.Low, t.High, t.PotentialCount, t.TotalCount)
	}
	tw.Flush()
}
