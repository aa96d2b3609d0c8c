package types

import (
	"encoding/json"
	"fmt"
)

// Label is the confidence class of a prediction. Values are ordered:
// LabelNone < LabelBorderline < LabelPositive.
type Label int

const (
	LabelNone Label = iota
	LabelBorderline
	LabelPositive
)

// String renders the label with the marks used on staffing sheets.
func (l Label) String() string {
	switch l {
	case LabelPositive:
		return "○"
	case LabelBorderline:
		return "△"
	default:
		return ""
	}
}

// Code returns the stable identifier stored in the database.
func (l Label) Code() string {
	switch l {
	case LabelPositive:
		return "positive"
	case LabelBorderline:
		return "borderline"
	default:
		return "none"
	}
}

// ParseLabel accepts either the stored code or the rendered mark.
func ParseLabel(s string) (Label, error) {
	switch s {
	case "positive", "○":
		return LabelPositive, nil
	case "borderline", "△":
		return LabelBorderline, nil
	case "none", "":
		return LabelNone, nil
	}
	return LabelNone, fmt.Errorf("unknown label %q", s)
}

func (l Label) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Code())
}

func (l *Label) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLabel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Bucket groups horizons for accuracy tracking and training.
type Bucket string

const (
	BucketShort        Bucket = "d1"
	BucketLong         Bucket = "d7"
	BucketInterpolated Bucket = "interp"
)

// Horizon boundaries. Horizons strictly between the two are interpolated.
const (
	ShortHorizon = 1
	LongHorizon  = 7
)

// BucketForHorizon maps a horizon in days to its bucket.
func BucketForHorizon(h int) Bucket {
	switch {
	case h <= ShortHorizon:
		return BucketShort
	case h >= LongHorizon:
		return BucketLong
	default:
		return BucketInterpolated
	}
}

// Tracked reports whether the bucket takes part in evaluation and training.
func (b Bucket) Tracked() bool {
	return b == BucketShort || b == BucketLong
}

// TrainableBuckets lists the buckets the trainer and evaluator cover, in
// processing order.
var TrainableBuckets = []Bucket{BucketShort, BucketLong}

// ParseBuckets expands a CLI selection ("short", "long", "both") into buckets.
func ParseBuckets(s string) ([]Bucket, error) {
	switch s {
	case "short", string(BucketShort):
		return []Bucket{BucketShort}, nil
	case "long", string(BucketLong):
		return []Bucket{BucketLong}, nil
	case "both", "all", "":
		return []Bucket{BucketShort, BucketLong}, nil
	}
	return nil, NewAppError(ErrCodeValidationInvalidBucket, fmt.Sprintf("unknown horizon selection %q", s), nil)
}

// TrainingMode selects whether trainer recommendations are persisted.
type TrainingMode string

const (
	ModeShadow TrainingMode = "shadow"
	ModeApply  TrainingMode = "apply"
)
