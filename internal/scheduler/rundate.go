package scheduler

import (
	"fmt"
	"time"

	"turnover/internal/forecast"
	"turnover/internal/types"
)

// ResolveRunDate returns the local run date D0 for a job. Without a
// reference time D0 is today. A reference time on another local day is a
// backfill and is rejected unless allowBackfill is set.
func ResolveRunDate(f *forecast.Forecaster, now time.Time, ref *time.Time, allowBackfill bool) (time.Time, error) {
	today := f.RunDate(now)
	if ref == nil {
		return today, nil
	}
	runDate := f.RunDate(*ref)
	if !runDate.Equal(today) && !allowBackfill {
		return time.Time{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationRunDate,
			fmt.Sprintf("reference date %s is not today (%s); set allow_backfill to rerun a past day",
				runDate.Format(time.DateOnly), today.Format(time.DateOnly)),
			nil,
			map[string]any{"run_date": runDate.Format(time.DateOnly), "today": today.Format(time.DateOnly)},
		)
	}
	return runDate, nil
}
