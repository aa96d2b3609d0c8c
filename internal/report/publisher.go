package report

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Target names used in Result.Failures and logs.
const (
	TargetSnapshot = "snapshot"
	TargetNotify   = "notify"
	TargetMetrics  = "metrics"
)

// Publisher fans a finished run out to every configured target. Nil targets
// are skipped.
type Publisher struct {
	Snapshots *SnapshotStore
	Notifier  *ReadyNotifier
	Metrics   *MetricsPublisher
	Logger    *slog.Logger
}

// Run describes what Publish sends.
type Run struct {
	Task     string
	Snapshot *Snapshot
	Rooms    int
	Dropped  int
}

// Result reports the outcome per target. Failures is empty when every
// configured target succeeded.
type Result struct {
	SnapshotKey string
	Failures    map[string]error
	Duration    time.Duration
}

// Publish uploads the snapshot and then announces it, while metrics are
// emitted concurrently. A failing target is logged and recorded in the
// result; it never cancels the others and Publish itself does not fail.
func (p *Publisher) Publish(ctx context.Context, run Run) Result {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	var (
		mu  sync.Mutex
		res = Result{Failures: make(map[string]error)}
	)
	fail := func(target string, err error) {
		logger.WarnContext(ctx, "report target failed",
			"target", target,
			"run_id", run.Snapshot.RunID,
			"error", err,
		)
		mu.Lock()
		res.Failures[target] = err
		mu.Unlock()
	}

	var g errgroup.Group

	g.Go(func() error {
		var key string
		if p.Snapshots != nil {
			k, err := p.Snapshots.Put(ctx, run.Snapshot)
			if err != nil {
				fail(TargetSnapshot, err)
			} else {
				key = k
				mu.Lock()
				res.SnapshotKey = k
				mu.Unlock()
			}
		}
		if p.Notifier != nil {
			msg := ReadyMessage{
				RunID:       run.Snapshot.RunID,
				RunDate:     run.Snapshot.RunDate.Format(time.DateOnly),
				SnapshotKey: key,
				Rooms:       run.Rooms,
				Predictions: len(run.Snapshot.Predictions),
				Totals:      run.Snapshot.Totals,
			}
			if err := p.Notifier.Notify(ctx, msg); err != nil {
				fail(TargetNotify, err)
			}
		}
		return nil
	})

	if p.Metrics != nil {
		g.Go(func() error {
			data := RunData(run.Task, run.Rooms, run.Dropped)
			data = append(data, AccuracyData(run.Snapshot.Accuracy)...)
			if err := p.Metrics.Put(ctx, data); err != nil {
				fail(TargetMetrics, err)
			}
			return nil
		})
	}

	// Goroutines record failures instead of returning them.
	_ = g.Wait()

	res.Duration = time.Since(start)
	logger.InfoContext(ctx, "report published",
		"run_id", run.Snapshot.RunID,
		"snapshot_key", res.SnapshotKey,
		"failed_targets", len(res.Failures),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res
}
