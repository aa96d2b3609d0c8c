package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"turnover/internal/types"
)

// S3API is the subset of the S3 client used to store snapshots.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SQSAPI is the subset of the SQS client used for run notifications.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// CloudWatchAPI abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// SnapshotStore uploads run snapshots to one bucket.
type SnapshotStore struct {
	client S3API
	bucket string
}

// NewSnapshotStore creates a SnapshotStore.
func NewSnapshotStore(client S3API, bucket string) *SnapshotStore {
	return &SnapshotStore{client: client, bucket: bucket}
}

// Put compresses snap and writes it under SnapshotKey. Returns the key.
func (s *SnapshotStore) Put(ctx context.Context, snap *Snapshot) (string, error) {
	body, err := EncodeSnapshot(snap)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode snapshot", err)
	}

	key := SnapshotKey(snap.RunDate, snap.RunID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
		Metadata: map[string]string{
			"run-id":   snap.RunID,
			"run-date": snap.RunDate.Format(time.DateOnly),
		},
	})
	if err != nil {
		return "", types.NewAppErrorWithDetails(types.ErrCodeUpstreamStorage, "failed to upload snapshot", err,
			map[string]any{"bucket": s.bucket, "key": key})
	}
	return key, nil
}

// ReadyMessage announces a finished forecast run to downstream consumers.
type ReadyMessage struct {
	RunID       string             `json:"run_id"`
	RunDate     string             `json:"run_date"`
	SnapshotKey string             `json:"snapshot_key,omitempty"`
	Rooms       int                `json:"rooms"`
	Predictions int                `json:"predictions"`
	Totals      []types.DailyTotal `json:"totals"`
}

// ReadyNotifier sends ReadyMessages to one queue.
type ReadyNotifier struct {
	client   SQSAPI
	queueURL string
}

// NewReadyNotifier creates a ReadyNotifier.
func NewReadyNotifier(client SQSAPI, queueURL string) *ReadyNotifier {
	return &ReadyNotifier{client: client, queueURL: queueURL}
}

// Notify sends msg as a JSON body.
func (n *ReadyNotifier) Notify(ctx context.Context, msg ReadyMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal ready message: %w", err)
	}
	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"run_date": {DataType: aws.String("String"), StringValue: aws.String(msg.RunDate)},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue, "failed to send forecast ready message", err)
	}
	return nil
}

// MetricsPublisher emits run and accuracy metrics to CloudWatch.
type MetricsPublisher struct {
	client    CloudWatchAPI
	namespace string
}

// NewMetricsPublisher creates a MetricsPublisher. An empty namespace falls
// back to types.MetricNamespace.
func NewMetricsPublisher(client CloudWatchAPI, namespace string) *MetricsPublisher {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &MetricsPublisher{client: client, namespace: namespace}
}

// AccuracyData builds one datum per ratio and bucket plus the evaluated
// count, all dimensioned by horizon bucket.
func AccuracyData(metrics []types.AccuracyMetrics) []cwtypes.MetricDatum {
	var data []cwtypes.MetricDatum
	for _, m := range metrics {
		dims := []cwtypes.Dimension{{Name: aws.String(types.DimHorizon), Value: aws.String(string(m.Bucket))}}
		ts := aws.Time(m.Date)
		for _, v := range []struct {
			name  string
			value float64
			unit  cwtypes.StandardUnit
		}{
			{types.MetricAccuracy, m.Accuracy, cwtypes.StandardUnitNone},
			{types.MetricPrecision, m.Precision, cwtypes.StandardUnitNone},
			{types.MetricRecall, m.Recall, cwtypes.StandardUnitNone},
			{types.MetricF1, m.F1, cwtypes.StandardUnitNone},
			{types.MetricEvaluated, float64(m.N), cwtypes.StandardUnitCount},
		} {
			data = append(data, cwtypes.MetricDatum{
				MetricName: aws.String(v.name),
				Value:      aws.Float64(v.value),
				Unit:       v.unit,
				Timestamp:  ts,
				Dimensions: dims,
			})
		}
	}
	return data
}

// RunData builds the per-task run size metrics.
func RunData(task string, rooms, dropped int) []cwtypes.MetricDatum {
	dims := []cwtypes.Dimension{{Name: aws.String(types.DimTask), Value: aws.String(task)}}
	return []cwtypes.MetricDatum{
		{MetricName: aws.String(types.MetricForecastRooms), Value: aws.Float64(float64(rooms)), Unit: cwtypes.StandardUnitCount, Dimensions: dims},
		{MetricName: aws.String(types.MetricDroppedIntervals), Value: aws.Float64(float64(dropped)), Unit: cwtypes.StandardUnitCount, Dimensions: dims},
	}
}

// maxDatumsPerCall keeps each request well under the PutMetricData limit.
const maxDatumsPerCall = 500

// Put sends data in as few PutMetricData calls as the API allows.
func (p *MetricsPublisher) Put(ctx context.Context, data []cwtypes.MetricDatum) error {
	for i := 0; i < len(data); i += maxDatumsPerCall {
		end := min(i+maxDatumsPerCall, len(data))
		_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: data[i:end],
		})
		if err != nil {
			return types.NewAppError(types.ErrCodeUpstreamMetrics, "failed to put metric data", err)
		}
	}
	return nil
}
