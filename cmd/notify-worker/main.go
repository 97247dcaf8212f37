// Package main is the entrypoint for the Notify Worker Lambda function.
//
// The Notify Worker consumes DispatchMessages from the notifications SQS queue.
// For each message it loads the alert, performs one delivery attempt through
// the configured channel and writes the outcome back to the alert row. A
// failed attempt below the retry cap is re-published with an exponential
// backoff delay; the message itself is always acknowledged.
//
// Handler flow per message:
//  1. Unmarshal DispatchMessage. Malformed bodies are acknowledged.
//  2. Load the alert. A missing alert is acknowledged; other load errors are
//     returned in batchItemFailures for SQS redelivery.
//  3. Skip alerts already delivered or past the retry cap.
//  4. Dispatch. On failure, Requeue with delay when attempts < cap.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"geowatch/internal/app"
	"geowatch/internal/db"
	"geowatch/internal/logging"
	"geowatch/internal/notifications/core"
	"geowatch/internal/types"
)

// AlertLoader reads the alert named by a DispatchMessage.
type AlertLoader interface {
	GetByID(ctx context.Context, id string) (*types.Alert, error)
}

// Deliverer performs one delivery attempt and records its outcome.
type Deliverer interface {
	Dispatch(ctx context.Context, a *types.Alert) error
}

// Requeuer re-publishes a message with backoff.
type Requeuer interface {
	Requeue(ctx context.Context, msg types.DispatchMessage, policy core.RetryPolicy) error
}

// Handler holds the dependencies for the notify worker Lambda handler.
type Handler struct {
	alerts    AlertLoader
	deliverer Deliverer
	requeuer  Requeuer
	policy    core.RetryPolicy
	flush     func(context.Context)
	logger    types.Logger
}

// Handle processes an SQS event containing one or more dispatch messages.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}
	defer h.flush(ctx)

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}
	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.DispatchMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil || msg.AlertID == "" {
		h.logger.Error("dropping malformed dispatch message", "message_id", record.MessageId, "error", err)
		return nil
	}
	log := h.logger.With(
		"alert_id", msg.AlertID,
		"retry_count", msg.RetryCount,
		"trace_id", msg.TraceID,
	)

	alert, err := h.alerts.GetByID(ctx, msg.AlertID)
	if errors.Is(err, types.ErrNotFound) {
		log.Warn("alert no longer exists, dropping message")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load alert %s: %w", msg.AlertID, err)
	}

	if alert.NotifyStatus == types.NotifySuccess {
		log.Info("alert already delivered")
		return nil
	}
	// A first attempt always runs. Retries stop at the cap, matching the
	// sweeper's ListRetryable bound.
	if alert.NotifyRetryCount > 0 && alert.NotifyRetryCount >= h.policy.MaxAttempts {
		log.Warn("retry cap reached, not delivering", "attempts", alert.NotifyRetryCount)
		return nil
	}

	sendErr := h.deliverer.Dispatch(ctx, alert)
	if sendErr == nil {
		return nil
	}

	// The write-back may have failed; never count fewer attempts than the
	// message already carried.
	attempts := alert.NotifyRetryCount
	if attempts <= msg.RetryCount {
		attempts = msg.RetryCount + 1
	}
	if attempts >= h.policy.MaxAttempts {
		log.Warn("delivery failed, retries exhausted", "attempts", attempts, "error", sendErr.Error())
		return nil
	}

	next := msg
	next.RetryCount = attempts - 1
	if err := h.requeuer.Requeue(ctx, next, h.policy); err != nil {
		// The alert stays FAILED under the cap, so the API's retry sweeper
		// picks it up.
		log.Error("requeue failed", "error", err.Error())
		return nil
	}
	log.Info("delivery failed, requeued", "attempts", attempts, "error", sendErr.Error())
	return nil
}

func main() {
	ctx := context.Background()

	cfg, err := app.LoadConfig(ctx)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)
	log := logging.NewSlog(logger).With("component", "notify-worker")
	logger.Info("Notify Worker Lambda initializing (cold start)", "version", cfg.Build.Version)

	if cfg.AWS.NotifyQueue == "" {
		logger.Error("SQS_NOTIFICATIONS is required")
		os.Exit(1)
	}

	awsCfg, err := app.LoadAWS(ctx, cfg.AWS)
	if err != nil {
		logger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}
	metrics, flush := app.NewWorkerMetrics(cfg.Observability, cloudwatch.NewFromConfig(awsCfg), log)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	alerts := db.NewAlertRepository(pool)

	channel, err := app.NewChannel(cfg.Dispatch, log)
	if err != nil {
		logger.Error("Failed to create notification channel", "error", err)
		os.Exit(1)
	}
	// Only the synchronous Dispatch path is used, so one idle worker suffices.
	deliverer := core.NewDispatcher(channel, alerts, metrics, log, nil, core.DispatcherConfig{
		Workers:        1,
		QueueDepth:     1,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout,
	})

	policy := core.AlertRetryPolicy
	policy.MaxAttempts = cfg.Dispatch.MaxRetries

	handler := &Handler{
		alerts:    alerts,
		deliverer: deliverer,
		requeuer:  core.NewDispatchPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.NotifyQueue, log),
		policy:    policy,
		flush:     flush,
		logger:    log,
	}
	lambda.Start(handler.Handle)
}
