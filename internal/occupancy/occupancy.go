// Package occupancy turns a room's raw reservation intervals into a merged
// timeline and answers day-level occupancy questions against it.
//
// All functions are pure. Day boundaries are computed in the location the
// caller passes, so the same timeline can be probed for any calendar.
package occupancy

import (
	"sort"
	"time"

	"turnover/internal/types"
)

// Status is the occupancy of one room on one local calendar day.
type Status struct {
	// Out is true when some stay ends within the day.
	Out bool
	// Stay is true when some stay strictly contains local noon.
	Stay bool
	// CheckIn is true when some stay starts within the day.
	CheckIn bool
	// OutAt is the earliest checkout instant of the day, nil unless Out.
	OutAt *time.Time
}

// Merge sorts intervals by start and collapses strictly overlapping ones.
// Intervals that touch (b.Start == a.End) stay separate so that a same-day
// turnover is still seen as a checkout. Invalid intervals are dropped one by
// one and counted in the second return value; the valid ones are still merged.
// The input slice is not modified.
func Merge(intervals []types.Interval) (types.Timeline, int) {
	valid := make([]types.Interval, 0, len(intervals))
	dropped := 0
	for _, iv := range intervals {
		if !iv.Valid() {
			dropped++
			continue
		}
		valid = append(valid, iv)
	}
	if len(valid) == 0 {
		return types.Timeline{}, dropped
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Start.Before(valid[j].Start)
	})

	merged := make(types.Timeline, 0, len(valid))
	cur := valid[0]
	for _, next := range valid[1:] {
		if next.Start.Before(cur.End) {
			if next.End.After(cur.End) {
				cur.End = next.End
			}
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	merged = append(merged, cur)
	return merged, dropped
}

// DayBounds returns local midnight of date's calendar day in loc and the
// following midnight. The half-open range [start, end) is the day.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	local := date.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// LocalNoon returns 12:00 of date's calendar day in loc.
func LocalNoon(date time.Time, loc *time.Location) time.Time {
	local := date.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, loc)
}

// Classify reports the occupancy of timeline on date's calendar day in loc.
// Out and Stay are computed independently; no exclusivity is enforced.
func Classify(timeline types.Timeline, date time.Time, loc *time.Location) Status {
	dayStart, dayEnd := DayBounds(date, loc)
	noon := LocalNoon(date, loc)

	var st Status
	for _, iv := range timeline {
		if inDay(iv.End, dayStart, dayEnd) {
			if !st.Out || iv.End.Before(*st.OutAt) {
				end := iv.End.In(loc)
				st.OutAt = &end
			}
			st.Out = true
		}
		if iv.Start.Before(noon) && noon.Before(iv.End) {
			st.Stay = true
		}
		if inDay(iv.Start, dayStart, dayEnd) {
			st.CheckIn = true
		}
	}
	return st
}

// Early reports whether a confirmed checkout counts as early: the room's
// nominal checkout time is before noon.
func Early(st Status, checkout types.ClockTime) bool {
	return st.Out && checkout.Before(types.Noon)
}

func inDay(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
