package types

// Telemetry metric names for CloudWatch.
const (
	// Metric Names
	MetricAccuracy         = "Accuracy"
	MetricPrecision        = "Precision"
	MetricRecall           = "Recall"
	MetricF1               = "F1"
	MetricEvaluated        = "EvaluatedPredictions"
	MetricForecastRooms    = "ForecastRooms"
	MetricDroppedIntervals = "DroppedIntervals"

	// Dimension Keys
	DimHorizon = "Horizon"
	DimTask    = "Task"

	// Metric Namespace
	MetricNamespace = "Turnover"
)
