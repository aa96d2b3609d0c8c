// Package forecast runs the forward path of the engine: every room's merged
// timeline is probed on each target date, scored by the probability model,
// labelled, and rolled up into per-group summaries.
package forecast

import (
	"sort"
	"time"

	"turnover/internal/model"
	"turnover/internal/occupancy"
	"turnover/internal/types"
)

// RoomTimeline pairs a room with its merged occupancy timeline.
type RoomTimeline struct {
	Room     types.Room
	Timeline types.Timeline
	// Dropped counts the raw intervals rejected while merging.
	Dropped int
}

// Prepare merges the raw intervals of every room. Rooms with unusable
// intervals keep whatever remained valid, down to an empty timeline.
func Prepare(rooms []types.Room) []RoomTimeline {
	out := make([]RoomTimeline, 0, len(rooms))
	for _, r := range rooms {
		tl, dropped := occupancy.Merge(r.Intervals)
		out = append(out, RoomTimeline{Room: r, Timeline: tl, Dropped: dropped})
	}
	return out
}

// Horizon converts a day offset from the run date into a model horizon.
// Offsets below one are forecast as next-day.
func Horizon(offset int) int {
	if offset < types.ShortHorizon {
		return types.ShortHorizon
	}
	return offset
}

// Window is the set of day offsets forecast in one run, inclusive.
type Window struct {
	Start int
	End   int
}

// Offsets lists every offset in the window in ascending order.
func (w Window) Offsets() []int {
	if w.End < w.Start {
		return nil
	}
	offsets := make([]int, 0, w.End-w.Start+1)
	for o := w.Start; o <= w.End; o++ {
		offsets = append(offsets, o)
	}
	return offsets
}

// Forecaster produces predictions for a run date in a fixed calendar.
type Forecaster struct {
	loc *time.Location
}

// NewForecaster returns a Forecaster that resolves days in loc.
func NewForecaster(loc *time.Location) *Forecaster {
	if loc == nil {
		loc = time.UTC
	}
	return &Forecaster{loc: loc}
}

// Location returns the calendar the forecaster uses.
func (f *Forecaster) Location() *time.Location {
	return f.loc
}

// RunDate returns local midnight of the day containing now.
func (f *Forecaster) RunDate(now time.Time) time.Time {
	start, _ := occupancy.DayBounds(now, f.loc)
	return start
}

// Predict scores one room on one target date.
func (f *Forecaster) Predict(rt RoomTimeline, runDate time.Time, offset int, params types.ModelParameters) types.Prediction {
	target := runDate.AddDate(0, 0, offset)
	h := Horizon(offset)
	st := occupancy.Classify(rt.Timeline, target, f.loc)

	prob, label := model.Predict(model.Observation{
		Out:     st.Out,
		Stay:    st.Stay,
		Weekday: target.In(f.loc).Weekday(),
		Horizon: h,
	}, params)

	return types.Prediction{
		RoomID:     rt.Room.ID,
		Room:       rt.Room.Key,
		RunDate:    runDate,
		TargetDate: target,
		Horizon:    h,
		POut:       prob,
		Label:      label,
		Out:        st.Out,
		Stay:       st.Stay,
		CheckIn:    st.CheckIn,
		Early:      occupancy.Early(st, rt.Room.CheckoutTime),
		OutAt:      st.OutAt,
	}
}

// Forecast scores every room on every offset of the window. Predictions are
// ordered by target date, then by room in input order.
func (f *Forecaster) Forecast(rooms []RoomTimeline, runDate time.Time, window Window, params types.ModelParameters) []types.Prediction {
	offsets := window.Offsets()
	preds := make([]types.Prediction, 0, len(rooms)*len(offsets))
	for _, offset := range offsets {
		for _, rt := range rooms {
			preds = append(preds, f.Predict(rt, runDate, offset, params))
		}
	}
	return preds
}

// SortForDisplay orders predictions the way room detail listings show them:
// date, sector, confirmed checkouts first, building, room.
func SortForDisplay(preds []types.Prediction) {
	sort.SliceStable(preds, func(i, j int) bool {
		a, b := preds[i], preds[j]
		if !a.TargetDate.Equal(b.TargetDate) {
			return a.TargetDate.Before(b.TargetDate)
		}
		if a.Room.Sector != b.Room.Sector {
			return a.Room.Sector < b.Room.Sector
		}
		if a.Out != b.Out {
			return a.Out
		}
		if a.Room.Building != b.Room.Building {
			return a.Room.Building < b.Room.Building
		}
		return a.Room.Room < b.Room.Room
	})
}
