// Package telemetry implements types.MetricsRecorder for Prometheus (long
// running API service) and CloudWatch (Lambda workers).
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"geowatch/internal/types"
)

// maxDatumsPerCall is the PutMetricData batch limit.
const maxDatumsPerCall = 1000

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRecorder buffers datums in memory and publishes them on Flush.
// Workers flush once per invocation so recording never blocks the hot path.
//
// Metrics emitted:
//   - ReportProcessed: Dims {Outcome}
//   - EventDetected / EventSuppressed: Dims {EventType}
//   - AlertCreated: Dims {Level}
//   - DeliveryAttempt: Dims {Channel, Outcome}
//   - DeliveryLatency: Dims {Channel}, milliseconds
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

var _ types.MetricsRecorder = (*CloudWatchRecorder)(nil)

// NewCloudWatchRecorder creates a recorder publishing to namespace. An empty
// namespace uses types.MetricNamespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (m *CloudWatchRecorder) add(name string, value float64, unit cwtypes.StandardUnit, dims ...string) {
	d := cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now().UTC()),
	}
	for i := 0; i+1 < len(dims); i += 2 {
		d.Dimensions = append(d.Dimensions, cwtypes.Dimension{
			Name:  aws.String(dims[i]),
			Value: aws.String(dims[i+1]),
		})
	}
	m.mu.Lock()
	m.pending = append(m.pending, d)
	m.mu.Unlock()
}

func (m *CloudWatchRecorder) ReportProcessed(outcome string) {
	m.add(types.MetricReportProcessed, 1, cwtypes.StandardUnitCount, types.DimOutcome, outcome)
}

func (m *CloudWatchRecorder) EventDetected(kind types.EventKind) {
	m.add(types.MetricEventDetected, 1, cwtypes.StandardUnitCount, types.DimEventType, string(kind))
}

func (m *CloudWatchRecorder) EventSuppressed(kind types.EventKind) {
	m.add(types.MetricEventSuppressed, 1, cwtypes.StandardUnitCount, types.DimEventType, string(kind))
}

func (m *CloudWatchRecorder) AlertCreated(level types.AlertLevel) {
	m.add(types.MetricAlertCreated, 1, cwtypes.StandardUnitCount, types.DimLevel, levelLabel(level))
}

func (m *CloudWatchRecorder) DeliveryAttempt(channel types.ChannelType, success bool, latency time.Duration) {
	m.add(types.MetricDeliveryAttempt, 1, cwtypes.StandardUnitCount,
		types.DimChannel, string(channel),
		types.DimOutcome, outcomeLabel(success),
	)
	m.add(types.MetricDeliveryLatency, float64(latency.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		types.DimChannel, string(channel),
	)
}

// Pending returns the number of buffered datums.
func (m *CloudWatchRecorder) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Flush publishes buffered datums in chunks. Failed chunks are logged and
// dropped; metrics never fail the caller.
func (m *CloudWatchRecorder) Flush(ctx context.Context) {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	for start := 0; start < len(batch); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(batch) {
			end = len(batch)
		}
		input := &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: batch[start:end],
		}
		if _, err := m.client.PutMetricData(ctx, input); err != nil {
			m.logger.Error("failed to publish metrics",
				"error", err.Error(),
				"datums", end-start,
			)
		}
	}
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

// levelLabel keeps label values stable for unknown levels.
func levelLabel(level types.AlertLevel) string {
	if level == "" {
		return "UNKNOWN"
	}
	return string(level)
}
