package db

import (
	"context"
	"sort"

	"turnover/internal/types"
)

// ParameterRepository stores the production model parameters in the
// model_variable table, one row per named value.
type ParameterRepository struct {
	db DBTX
}

// NewParameterRepository creates a new ParameterRepository.
func NewParameterRepository(db DBTX) *ParameterRepository {
	return &ParameterRepository{db: db}
}

// Load returns the stored parameters laid over the defaults. The second
// return value lists the names that had no row and were filled from the
// defaults, sorted. Rows with unknown names are ignored. Range checks are
// left to the caller.
func (r *ParameterRepository) Load(ctx context.Context) (types.ModelParameters, []string, error) {
	params := types.DefaultModelParameters()

	rows, err := r.db.Query(ctx, `SELECT name, value FROM model_variable`)
	if err != nil {
		return params, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query model parameters", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var (
			name  string
			value float64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return params, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan model parameter", err)
		}
		if next, ok := params.With(name, value); ok {
			params = next
			seen[name] = true
		}
	}
	if err := rows.Err(); err != nil {
		return params, nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating model parameters", err)
	}

	var missing []string
	for name := range params.Named() {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return params, missing, nil
}

// Save upserts every named parameter. Values are written in name order.
func (r *ParameterRepository) Save(ctx context.Context, params types.ModelParameters) error {
	named := params.Named()
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		_, err := r.db.Exec(ctx,
			`INSERT INTO model_variable (name, value, updated_at)
			 VALUES ($1, $2, NOW())
			 ON CONFLICT (name) DO UPDATE SET
			   value = EXCLUDED.value,
			   updated_at = EXCLUDED.updated_at`,
			name,
			named[name],
		)
		if err != nil {
			return types.NewAppErrorWithDetails(types.ErrCodeInternalDB, "failed to save model parameter", err,
				map[string]any{"name": name})
		}
	}
	return nil
}

// TuningRepository appends parameter change records to the model_tuning
// table. Records produced in shadow mode are stored with applied = false.
type TuningRepository struct {
	db DBTX
}

// NewTuningRepository creates a new TuningRepository.
func NewTuningRepository(db DBTX) *TuningRepository {
	return &TuningRepository{db: db}
}

// Insert stores the records in order. Values are rounded to four decimals
// and the delta to six.
func (r *TuningRepository) Insert(ctx context.Context, records []types.TuningRecord, applied bool) error {
	for i := range records {
		rec := &records[i]
		_, err := r.db.Exec(ctx,
			`INSERT INTO model_tuning
			 (tuned_on, horizon, variable, before_value, after_value, delta, explanation, applied, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
			rec.Date,
			string(rec.Bucket),
			rec.Name,
			round4(rec.Before),
			round4(rec.After),
			roundTo(rec.Delta(), 6),
			rec.Explanation,
			applied,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to insert tuning record", err)
		}
	}
	return nil
}
