package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"turnover/internal/model"
	"turnover/internal/types"
)

// ParameterStore loads and saves the production model parameters.
type ParameterStore interface {
	// Load returns the stored parameters laid over the defaults and the
	// names that were filled from the defaults.
	Load(ctx context.Context) (types.ModelParameters, []string, error)
	Save(ctx context.Context, params types.ModelParameters) error
}

// TuningLog appends parameter change records.
type TuningLog interface {
	Insert(ctx context.Context, records []types.TuningRecord, applied bool) error
}

// loadParameters reads the production parameters. Missing names are filled
// from the defaults and written back; a stored set that fails validation is
// replaced by the defaults for this run only.
func loadParameters(ctx context.Context, store ParameterStore, logger *slog.Logger) (types.ModelParameters, error) {
	params, missing, err := store.Load(ctx)
	if err != nil {
		return params, fmt.Errorf("loading model parameters: %w", err)
	}

	if err := model.Validate(params); err != nil {
		logger.WarnContext(ctx, "stored model parameters invalid, using defaults",
			"error", err,
		)
		return types.DefaultModelParameters(), nil
	}

	if len(missing) > 0 {
		logger.WarnContext(ctx, "model parameters missing, filled from defaults",
			"missing", missing,
		)
		if err := store.Save(ctx, params); err != nil {
			return params, fmt.Errorf("saving defaulted model parameters: %w", err)
		}
	}
	return params, nil
}

// commitParameters validates and saves params, then logs records as applied.
func commitParameters(ctx context.Context, store ParameterStore, log TuningLog, params types.ModelParameters, records []types.TuningRecord) error {
	if err := model.Validate(params); err != nil {
		return fmt.Errorf("refusing to save tuned parameters: %w", err)
	}
	if err := store.Save(ctx, params); err != nil {
		return fmt.Errorf("saving tuned parameters: %w", err)
	}
	if err := log.Insert(ctx, records, true); err != nil {
		return fmt.Errorf("logging tuning records: %w", err)
	}
	return nil
}

func logRecords(ctx context.Context, logger *slog.Logger, msg string, records []types.TuningRecord) {
	for _, r := range records {
		logger.InfoContext(ctx, msg,
			"horizon", string(r.Bucket),
			"variable", r.Name,
			"before", r.Before,
			"after", r.After,
			"delta", r.Delta(),
			"explanation", r.Explanation,
		)
	}
}
