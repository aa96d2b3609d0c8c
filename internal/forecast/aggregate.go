package forecast

import (
	"math"
	"sort"
	"time"

	"turnover/internal/types"
)

// zScore80 is the one-sided 90% z-score; mu ± zScore80*sigma is the 80%
// central interval of the checkout count.
const zScore80 = 1.28

type groupDateKey struct {
	group types.GroupKey
	date  int64
}

type groupAcc struct {
	date      time.Time
	out       int
	early     int
	mu        float64
	variance  float64
	potential int
	total     int
}

// Summarize rolls predictions up per (sector, building, target date).
// Rows are ordered by date, then sector ascending, checkout count
// descending, building ascending.
func Summarize(preds []types.Prediction) []types.GroupSummary {
	accs := make(map[groupDateKey]*groupAcc)
	var keys []groupDateKey

	for _, p := range preds {
		k := groupDateKey{group: p.Room.Group(), date: p.TargetDate.Unix()}
		acc, ok := accs[k]
		if !ok {
			acc = &groupAcc{date: p.TargetDate}
			accs[k] = acc
			keys = append(keys, k)
		}
		if p.Out {
			acc.out++
		}
		if p.Early {
			acc.early++
		}
		acc.mu += p.POut
		acc.variance += p.POut * (1 - p.POut)
		positive := p.PredictedPositive()
		if positive {
			acc.potential++
		}
		if p.Out || positive {
			acc.total++
		}
	}

	out := make([]types.GroupSummary, 0, len(keys))
	for _, k := range keys {
		acc := accs[k]
		sigma := math.Sqrt(math.Max(0, acc.variance))
		out = append(out, types.GroupSummary{
			Sector:         k.group.Sector,
			Building:       k.group.Building,
			Date:           acc.date,
			OutCount:       acc.out,
			EarlyCount:     acc.early,
			Mu:             acc.mu,
			Variance:       acc.variance,
			P50:            int(math.RoundToEven(acc.mu)),
			Low:            int(math.Max(0, math.Floor(acc.mu-zScore80*sigma))),
			High:           int(math.Ceil(acc.mu + zScore80*sigma)),
			PotentialCount: acc.potential,
			TotalCount:     acc.total,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Sector != b.Sector {
			return a.Sector < b.Sector
		}
		if a.OutCount != b.OutCount {
			return a.OutCount > b.OutCount
		}
		return a.Building < b.Building
	})
	return out
}

// Totals sums the group rows of each date into one row per date, ordered
// by date.
func Totals(summaries []types.GroupSummary) []types.DailyTotal {
	byDate := make(map[int64]*types.DailyTotal)
	var order []int64
	for _, s := range summaries {
		k := s.Date.Unix()
		t, ok := byDate[k]
		if !ok {
			t = &types.DailyTotal{Date: s.Date}
			byDate[k] = t
			order = append(order, k)
		}
		t.OutCount += s.OutCount
		t.EarlyCount += s.EarlyCount
		t.P50 += s.P50
		t.Low += s.Low
		t.High += s.High
		t.PotentialCount += s.PotentialCount
		t.TotalCount += s.TotalCount
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]types.DailyTotal, 0, len(order))
	for _, k := range order {
		out = append(out, *byDate[k])
	}
	return out
}
