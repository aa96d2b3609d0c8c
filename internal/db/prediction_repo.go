package db

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"turnover/internal/types"
)

// PredictionRepository stores per-room forecasts in forecast_predictions,
// keyed by (room_id, run_date, target_date). Rows are written once per run
// and later backfilled with the observed outcome.
type PredictionRepository struct {
	db DBTX
}

// NewPredictionRepository creates a new PredictionRepository.
func NewPredictionRepository(db DBTX) *PredictionRepository {
	return &PredictionRepository{db: db}
}

const predictionColumns = `room_id, run_date, target_date, horizon, sector, building, room_no,
	p_out, label, is_out, is_stay, has_checkin, is_early, out_at, actual_out, correct`

// InsertRun writes the predictions of one run in a single statement. A rerun
// of the same run date overwrites the previous rows and clears any outcome
// already recorded for them. Returns the number of rows written.
func (r *PredictionRepository) InsertRun(ctx context.Context, preds []types.Prediction) (int64, error) {
	if len(preds) == 0 {
		return 0, nil
	}

	n := len(preds)
	var (
		roomIDs   = make([]int64, n)
		runDates  = make([]time.Time, n)
		targets   = make([]time.Time, n)
		horizons  = make([]int32, n)
		sectors   = make([]string, n)
		buildings = make([]string, n)
		roomNos   = make([]string, n)
		probs     = make([]float64, n)
		labels    = make([]string, n)
		outs      = make([]bool, n)
		stays     = make([]bool, n)
		checkIns  = make([]bool, n)
		earlies   = make([]bool, n)
		outAts    = make([]*time.Time, n)
	)
	for i, p := range preds {
		roomIDs[i] = p.RoomID
		runDates[i] = p.RunDate
		targets[i] = p.TargetDate
		horizons[i] = int32(p.Horizon)
		sectors[i] = p.Room.Sector
		buildings[i] = p.Room.Building
		roomNos[i] = p.Room.Room
		probs[i] = round4(p.POut)
		labels[i] = p.Label.Code()
		outs[i] = p.Out
		stays[i] = p.Stay
		checkIns[i] = p.CheckIn
		earlies[i] = p.Early
		outAts[i] = p.OutAt
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO forecast_predictions
		 (room_id, run_date, target_date, horizon, sector, building, room_no,
		  p_out, label, is_out, is_stay, has_checkin, is_early, out_at, created_at)
		 SELECT u.*, NOW()
		 FROM unnest($1::bigint[], $2::date[], $3::date[], $4::int[], $5::text[], $6::text[], $7::text[],
		             $8::float8[], $9::text[], $10::bool[], $11::bool[], $12::bool[], $13::bool[], $14::timestamptz[]) AS u
		 ON CONFLICT (room_id, run_date, target_date) DO UPDATE SET
		   horizon = EXCLUDED.horizon,
		   sector = EXCLUDED.sector,
		   building = EXCLUDED.building,
		   room_no = EXCLUDED.room_no,
		   p_out = EXCLUDED.p_out,
		   label = EXCLUDED.label,
		   is_out = EXCLUDED.is_out,
		   is_stay = EXCLUDED.is_stay,
		   has_checkin = EXCLUDED.has_checkin,
		   is_early = EXCLUDED.is_early,
		   out_at = EXCLUDED.out_at,
		   actual_out = NULL,
		   correct = NULL,
		   created_at = EXCLUDED.created_at`,
		roomIDs, runDates, targets, horizons, sectors, buildings, roomNos,
		probs, labels, outs, stays, checkIns, earlies, outAts,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to insert predictions", err)
	}
	return tag.RowsAffected(), nil
}

// ListByTargetDate returns every stored prediction whose target is date,
// across all run dates.
func (r *PredictionRepository) ListByTargetDate(ctx context.Context, date time.Time) ([]types.Prediction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+predictionColumns+`
		 FROM forecast_predictions
		 WHERE target_date = $1
		 ORDER BY run_date, room_id`,
		date,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query predictions by target date", err)
	}
	return scanPredictions(rows)
}

// UpdateOutcomes backfills actual_out and correct for the realized
// predictions. Unrealized entries are ignored. Returns the number of rows
// updated.
func (r *PredictionRepository) UpdateOutcomes(ctx context.Context, preds []types.Prediction) (int64, error) {
	var (
		roomIDs  []int64
		runDates []time.Time
		targets  []time.Time
		actuals  []bool
		corrects []bool
	)
	for _, p := range preds {
		if !p.Realized() || p.Correct == nil {
			continue
		}
		roomIDs = append(roomIDs, p.RoomID)
		runDates = append(runDates, p.RunDate)
		targets = append(targets, p.TargetDate)
		actuals = append(actuals, *p.ActualOut)
		corrects = append(corrects, *p.Correct)
	}
	if len(roomIDs) == 0 {
		return 0, nil
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE forecast_predictions AS p
		 SET actual_out = u.actual_out, correct = u.correct
		 FROM unnest($1::bigint[], $2::date[], $3::date[], $4::bool[], $5::bool[])
		   AS u(room_id, run_date, target_date, actual_out, correct)
		 WHERE p.room_id = u.room_id
		   AND p.run_date = u.run_date
		   AND p.target_date = u.target_date`,
		roomIDs, runDates, targets, actuals, corrects,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to update prediction outcomes", err)
	}
	return tag.RowsAffected(), nil
}

// ListRealized returns the realized predictions of bucket made by runs whose
// run date lies in [from, to).
func (r *PredictionRepository) ListRealized(ctx context.Context, bucket types.Bucket, from, to time.Time) ([]types.Prediction, error) {
	lo, hi, err := horizonRange(bucket)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+predictionColumns+`
		 FROM forecast_predictions
		 WHERE actual_out IS NOT NULL
		   AND run_date >= $1 AND run_date < $2
		   AND horizon BETWEEN $3 AND $4
		 ORDER BY run_date, target_date, room_id`,
		from,
		to,
		lo,
		hi,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query realized predictions", err)
	}
	return scanPredictions(rows)
}

// horizonRange maps a trainable bucket to its inclusive horizon bounds.
func horizonRange(bucket types.Bucket) (int, int, error) {
	switch bucket {
	case types.BucketShort:
		return types.ShortHorizon, types.ShortHorizon, nil
	case types.BucketLong:
		return types.LongHorizon, math.MaxInt16, nil
	}
	return 0, 0, types.NewAppError(types.ErrCodeValidationInvalidBucket,
		fmt.Sprintf("bucket %q has no stored samples", bucket), nil)
}

func scanPredictions(rows pgx.Rows) ([]types.Prediction, error) {
	defer rows.Close()

	var preds []types.Prediction
	for rows.Next() {
		var (
			p     types.Prediction
			label string
		)
		if err := rows.Scan(
			&p.RoomID,
			&p.RunDate,
			&p.TargetDate,
			&p.Horizon,
			&p.Room.Sector,
			&p.Room.Building,
			&p.Room.Room,
			&p.POut,
			&label,
			&p.Out,
			&p.Stay,
			&p.CheckIn,
			&p.Early,
			&p.OutAt,
			&p.ActualOut,
			&p.Correct,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan prediction", err)
		}
		parsed, err := types.ParseLabel(label)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "stored prediction has an unknown label", err)
		}
		p.Label = parsed
		preds = append(preds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating predictions", err)
	}
	return preds, nil
}
