package db

import (
	"context"
	"time"

	"turnover/internal/types"
)

// AccuracyRepository stores the per-bucket daily accuracy rows in
// forecast_accuracy.
type AccuracyRepository struct {
	db DBTX
}

// NewAccuracyRepository creates a new AccuracyRepository.
func NewAccuracyRepository(db DBTX) *AccuracyRepository {
	return &AccuracyRepository{db: db}
}

// ReplaceForDate deletes the rows of date and inserts metrics in their
// place, so re-evaluating a day is idempotent. Ratios are stored rounded to
// four decimals. Pass a pgx.Tx as DBTX to make the replacement atomic.
func (r *AccuracyRepository) ReplaceForDate(ctx context.Context, date time.Time, metrics []types.AccuracyMetrics) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM forecast_accuracy WHERE eval_date = $1`, date); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear accuracy rows", err)
	}

	for i := range metrics {
		m := &metrics[i]
		_, err := r.db.Exec(ctx,
			`INSERT INTO forecast_accuracy
			 (eval_date, horizon, n, accuracy, precision, recall, f1, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
			date,
			string(m.Bucket),
			m.N,
			round4(m.Accuracy),
			round4(m.Precision),
			round4(m.Recall),
			round4(m.F1),
		)
		if err != nil {
			return types.NewAppErrorWithDetails(types.ErrCodeInternalDB, "failed to insert accuracy row", err,
				map[string]any{"horizon": string(m.Bucket)})
		}
	}
	return nil
}
