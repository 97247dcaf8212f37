package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"geowatch/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// maxDelaySeconds is the SQS DelaySeconds ceiling.
const maxDelaySeconds = 900

// DispatchPublisher sends DispatchMessages to the notify queue.
type DispatchPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewDispatchPublisher creates a publisher targeting queueURL.
func NewDispatchPublisher(client SQSSender, queueURL string, logger types.Logger) *DispatchPublisher {
	return &DispatchPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish serializes msg and sends it with the given delay, clamped to
// [0, 900] seconds.
func (p *DispatchPublisher) Publish(ctx context.Context, msg types.DispatchMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("dispatch publisher: failed to marshal message: %w", err)
	}

	delaySec := int32(delay.Seconds())
	if delaySec > maxDelaySeconds {
		delaySec = maxDelaySeconds
	}
	if delaySec < 0 {
		delaySec = 0
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
	}
	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("dispatch publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.Info("dispatch message published",
		"alert_id", msg.AlertID,
		"retry_count", msg.RetryCount,
		"delay_seconds", delaySec,
		"trace_id", msg.TraceID,
	)
	return nil
}

// Requeue publishes the next attempt for a failed delivery. RetryCount is
// incremented before serialization so the consumer sees the attempt number.
func (p *DispatchPublisher) Requeue(ctx context.Context, msg types.DispatchMessage, policy RetryPolicy) error {
	delay := CalculateNextRetry(policy, msg.RetryCount)
	msg.RetryCount++
	return p.Publish(ctx, msg, delay)
}

// QueueDispatcher implements AlertDispatcher by publishing to the notify
// queue instead of delivering in-process.
type QueueDispatcher struct {
	publisher *DispatchPublisher
	timeout   time.Duration
	logger    types.Logger
}

var _ types.AlertDispatcher = (*QueueDispatcher)(nil)

// NewQueueDispatcher wraps publisher. Each publish is bounded by timeout.
func NewQueueDispatcher(publisher *DispatchPublisher, timeout time.Duration, logger types.Logger) *QueueDispatcher {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &QueueDispatcher{publisher: publisher, timeout: timeout, logger: logger}
}

// DispatchAsync publishes synchronously under a short timeout; a failed
// publish leaves the alert PENDING for the retry sweeper.
func (q *QueueDispatcher) DispatchAsync(a *types.Alert) {
	if err := q.Dispatch(context.Background(), a); err != nil {
		q.logger.Error("Dispatch enqueue failed, alert left pending", "alert_id", a.ID, "error", err)
	}
}

// Dispatch hands a to the notify queue. Delivery and the notify-field
// write-back happen in the notify worker.
func (q *QueueDispatcher) Dispatch(ctx context.Context, a *types.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	return q.publisher.Publish(ctx, types.DispatchMessage{
		AlertID:        a.ID,
		OrganizationID: a.OrganizationID,
		RetryCount:     a.NotifyRetryCount,
		TraceID:        a.EventID,
	}, 0)
}
