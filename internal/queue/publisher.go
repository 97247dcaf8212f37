// Package queue provides the SQS producer that hands location reports from
// the API to the location worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"geowatch/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// LocationPublisher enqueues reports on the locations queue instead of
// evaluating them in-process. It satisfies the API's report submitter.
type LocationPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewLocationPublisher creates a publisher targeting queueURL.
func NewLocationPublisher(client SQSSender, queueURL string, logger *slog.Logger) *LocationPublisher {
	return &LocationPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Submit serializes report as a LocationMessage and sends it. The subject ID
// travels as a message attribute so consumers and DLQ tooling can filter
// without decoding the body.
func (p *LocationPublisher) Submit(ctx context.Context, report types.LocationReport) error {
	msg := types.LocationMessage{
		SubjectID:      report.SubjectID,
		DeviceID:       report.DeviceID,
		OrganizationID: report.OrganizationID,
		Lat:            report.Lat,
		Lon:            report.Lon,
		Timestamp:      report.Timestamp,
		TraceID:        uuid.NewString(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal LocationMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"subject_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(report.SubjectID),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send LocationMessage to %s: %w", p.queueURL, err)
	}

	p.logger.DebugContext(ctx, "location message sent",
		"subject_id", msg.SubjectID,
		"device_id", msg.DeviceID,
		"trace_id", msg.TraceID,
	)
	return nil
}
