package types

import (
	"fmt"
	"time"
)

// RoomKey identifies a managed room. Sector and building group rooms for
// aggregation; Room is the room number or its configured display name.
type RoomKey struct {
	Sector   string `json:"sector"`
	Building string `json:"building"`
	Room     string `json:"room"`
}

// String renders the key as "sector/building/room" for logs.
func (k RoomKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Sector, k.Building, k.Room)
}

// GroupKey is the aggregation key of a room: one (sector, building) pair.
type GroupKey struct {
	Sector   string `json:"sector"`
	Building string `json:"building"`
}

// Group returns the aggregation key the room belongs to.
func (k RoomKey) Group() GroupKey {
	return GroupKey{Sector: k.Sector, Building: k.Building}
}

// Interval is one reservation's occupancy span. Both instants are
// timezone-aware and Start must precede End.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether the interval has both instants set and Start < End.
func (iv Interval) Valid() bool {
	return !iv.Start.IsZero() && !iv.End.IsZero() && iv.Start.Before(iv.End)
}

// Timeline is the merged, sorted, non-overlapping occupancy of one room.
// For consecutive intervals a, b: a.End <= b.Start.
type Timeline []Interval

// ClockTime is a time-of-day in minutes after midnight.
type ClockTime int

// NewClockTime builds a ClockTime from an hour and a minute.
func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClockTime parses a "HH:MM" string. Trailing content is rejected.
func ParseClockTime(s string) (ClockTime, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("expected format HH:MM, got %q", s)
	}
	var hour, minute int
	n, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil || n != 2 {
		return 0, fmt.Errorf("expected format HH:MM, got %q", s)
	}
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour %d out of range [0,23]", hour)
	}
	if minute < 0 || minute > 59 {
		return 0, fmt.Errorf("minute %d out of range [0,59]", minute)
	}
	return NewClockTime(hour, minute), nil
}

// Before reports whether c is strictly earlier in the day than other.
func (c ClockTime) Before(other ClockTime) bool {
	return c < other
}

// String renders the time as HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Noon is 12:00, the cutoff for early checkouts and the midday occupancy probe.
const Noon = ClockTime(12 * 60)

// UnknownCheckout stands in for a checkout time that could not be read. It
// is not before Noon, so such a room never reports an early checkout.
const UnknownCheckout = Noon

// Room is one managed room with its nominal checkout time and the raw
// (pre-merge) reservation intervals from every calendar feed. Rooms are
// loaded once per run and never mutated mid-run.
type Room struct {
	ID           int64      `json:"id"`
	Key          RoomKey    `json:"key"`
	CheckoutTime ClockTime  `json:"checkout_time"`
	Intervals    []Interval `json:"intervals"`
}

// ModelParameters is the full calibration state of the checkout model.
// Short parameters apply at horizon 1, long parameters at horizon 7 and
// beyond; Borderline is shared by every horizon.
type ModelParameters struct {
	AlphaShort float64 `json:"alpha_short"`
	BetaShort  float64 `json:"beta_short"`
	HighShort  float64 `json:"high_short" validate:"gt=0,lte=1"`
	AlphaLong  float64 `json:"alpha_long"`
	BetaLong   float64 `json:"beta_long"`
	HighLong   float64 `json:"high_long" validate:"gt=0,lte=1"`
	Borderline float64 `json:"borderline" validate:"gt=0,lte=1"`
}

// Parameter names as stored in the parameter table and tuning log.
const (
	ParamAlphaShort = "d1_alpha"
	ParamBetaShort  = "d1_beta"
	ParamHighShort  = "d1_high"
	ParamAlphaLong  = "d7_alpha"
	ParamBetaLong   = "d7_beta"
	ParamHighLong   = "d7_high"
	ParamBorderline = "borderline"
)

// DefaultModelParameters returns the parameters used when the store holds
// nothing (or holds an invalid record).
func DefaultModelParameters() ModelParameters {
	return ModelParameters{
		AlphaShort: 0.12,
		BetaShort:  0.94,
		HighShort:  0.65,
		AlphaLong:  0.15,
		BetaLong:   1.02,
		HighLong:   0.68,
		Borderline: 0.40,
	}
}

// Named flattens the parameters into their stored names.
func (p ModelParameters) Named() map[string]float64 {
	return map[string]float64{
		ParamAlphaShort: p.AlphaShort,
		ParamBetaShort:  p.BetaShort,
		ParamHighShort:  p.HighShort,
		ParamAlphaLong:  p.AlphaLong,
		ParamBetaLong:   p.BetaLong,
		ParamHighLong:   p.HighLong,
		ParamBorderline: p.Borderline,
	}
}

// With returns a copy of p with the named parameter set to value.
// Unknown names leave p unchanged and report false.
func (p ModelParameters) With(name string, value float64) (ModelParameters, bool) {
	switch name {
	case ParamAlphaShort:
		p.AlphaShort = value
	case ParamBetaShort:
		p.BetaShort = value
	case ParamHighShort:
		p.HighShort = value
	case ParamAlphaLong:
		p.AlphaLong = value
	case ParamBetaLong:
		p.BetaLong = value
	case ParamHighLong:
		p.HighLong = value
	case ParamBorderline:
		p.Borderline = value
	default:
		return p, false
	}
	return p, true
}

// Prediction is one room's forecast for one target date. ActualOut and
// Correct stay nil until the target date is realized.
type Prediction struct {
	RoomID     int64     `json:"room_id"`
	Room       RoomKey   `json:"room"`
	RunDate    time.Time `json:"run_date"`
	TargetDate time.Time `json:"target_date"`
	Horizon    int       `json:"horizon"`
	POut       float64   `json:"p_out"`
	Label      Label     `json:"label"`

	// Occupancy flags for the target date as seen at run time.
	Out     bool       `json:"out"`
	Stay    bool       `json:"stay"`
	CheckIn bool       `json:"check_in"`
	Early   bool       `json:"early"`
	OutAt   *time.Time `json:"out_at,omitempty"`

	ActualOut *bool `json:"actual_out,omitempty"`
	Correct   *bool `json:"correct,omitempty"`
}

// PredictedPositive reports whether the prediction carries the positive label.
func (p Prediction) PredictedPositive() bool {
	return p.Label == LabelPositive
}

// Realized reports whether the outcome has been backfilled.
func (p Prediction) Realized() bool {
	return p.ActualOut != nil
}

// Bucket returns the horizon bucket the prediction is tracked under.
func (p Prediction) Bucket() Bucket {
	return BucketForHorizon(p.Horizon)
}

// TrainingSample is a realized prediction reduced to the model input and
// the observed outcome (1 = checked out).
type TrainingSample struct {
	WeekdayScore float64   `json:"weekday_score"`
	Label        int       `json:"label"`
	RunDate      time.Time `json:"run_date"`
	TargetDate   time.Time `json:"target_date"`
}

// GroupSummary aggregates one (sector, building, date) group. Mu and
// Variance describe the expected count of checkouts under a normal
// approximation; Low/High bound the 80% central interval.
type GroupSummary struct {
	Sector         string    `json:"sector"`
	Building       string    `json:"building"`
	Date           time.Time `json:"date"`
	OutCount       int       `json:"out"`
	EarlyCount     int       `json:"early"`
	Mu             float64   `json:"mu"`
	Variance       float64   `json:"variance"`
	P50            int       `json:"p50"`
	Low            int       `json:"low"`
	High           int       `json:"high"`
	PotentialCount int       `json:"potential"`
	TotalCount     int       `json:"total"`
}

// DailyTotal sums every group summary of one date.
type DailyTotal struct {
	Date           time.Time `json:"date"`
	OutCount       int       `json:"out"`
	EarlyCount     int       `json:"early"`
	P50            int       `json:"p50"`
	Low            int       `json:"low"`
	High           int       `json:"high"`
	PotentialCount int       `json:"potential"`
	TotalCount     int       `json:"total"`
}

// TuningRecord documents one parameter change (or recommendation).
type TuningRecord struct {
	Date        time.Time `json:"date"`
	Bucket      Bucket    `json:"horizon"`
	Name        string    `json:"variable"`
	Before      float64   `json:"before"`
	After       float64   `json:"after"`
	Explanation string    `json:"explanation"`
}

// Delta is After - Before.
func (r TuningRecord) Delta() float64 {
	return r.After - r.Before
}

// AccuracyMetrics is the confusion-matrix summary of one horizon bucket on
// one realization date.
type AccuracyMetrics struct {
	Date      time.Time `json:"date"`
	Bucket    Bucket    `json:"horizon"`
	N         int       `json:"n"`
	Accuracy  float64   `json:"acc"`
	Precision float64   `json:"prec"`
	Recall    float64   `json:"rec"`
	F1        float64   `json:"f1"`
}

// RoomLoadStats counts the bad calendar rows seen while loading rooms.
type RoomLoadStats struct {
	// BadCheckoutTimes counts rooms kept with UnknownCheckout because their
	// checkout time did not parse.
	BadCheckoutTimes int `json:"bad_checkout_times"`
	// SkippedReservations have a missing bound or belong to no active room.
	SkippedReservations int `json:"skipped_reservations"`
}
