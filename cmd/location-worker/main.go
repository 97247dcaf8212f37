// Package main is the entrypoint for the Location Worker Lambda function.
//
// The Location Worker consumes LocationMessages from the locations SQS queue.
// Each SQS batch is decoded and handed to the detection pipeline as one
// ProcessBatch call, so reports for the same subject are evaluated in
// timestamp order. Alerts are handed to the notify queue through the
// QueueDispatcher; delivery happens in the notify worker.
//
// Failure handling uses SQS partial batch responses:
//   - Undecodable bodies and invalid reports are logged and acknowledged.
//     Redelivery cannot fix them.
//   - Reports that failed on a store or catalog error are returned in
//     batchItemFailures so SQS redelivers only those messages.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"geowatch/internal/app"
	"geowatch/internal/db"
	"geowatch/internal/engine"
	"geowatch/internal/logging"
	"geowatch/internal/types"
)

// BatchProcessor is implemented by engine.Pipeline.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, reports []types.LocationReport) engine.BatchResult
}

// Handler holds the dependencies for the location worker Lambda handler.
type Handler struct {
	pipeline BatchProcessor
	flush    func(context.Context)
	logger   types.Logger
}

// Handle processes one SQS event.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}
	defer h.flush(ctx)

	reports := make([]types.LocationReport, 0, len(sqsEvent.Records))
	messageIDs := make([]string, 0, len(sqsEvent.Records))
	for _, record := range sqsEvent.Records {
		var msg types.LocationMessage
		if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
			h.logger.Error("failed to unmarshal location message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			continue
		}
		reports = append(reports, msg.Report())
		messageIDs = append(messageIDs, record.MessageId)
	}
	if len(reports) == 0 {
		return response, nil
	}

	result := h.pipeline.ProcessBatch(ctx, reports)

	for _, f := range result.Failures {
		log := h.logger.With("message_id", messageIDs[f.Index], "subject_id", f.SubjectID)
		if errors.Is(f.Err, engine.ErrInvalidReport) {
			log.Warn("dropping invalid location report", "error", f.Err.Error())
			continue
		}
		log.Error("location report failed, requesting redelivery", "error", f.Err.Error())
		response.BatchItemFailures = append(response.BatchItemFailures,
			events.SQSBatchItemFailure{ItemIdentifier: messageIDs[f.Index]},
		)
	}

	h.logger.Info("location batch processed",
		"received", len(sqsEvent.Records),
		"processed", result.Processed,
		"events", result.Events,
		"alerts", result.Alerts,
		"redeliver", len(response.BatchItemFailures),
	)
	return response, nil
}

func main() {
	ctx := context.Background()

	cfg, err := app.LoadConfig(ctx)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)
	log := logging.NewSlog(logger).With("component", "location-worker")
	logger.Info("Location Worker Lambda initializing (cold start)", "version", cfg.Build.Version)

	if cfg.AWS.NotifyQueue == "" {
		logger.Error("SQS_NOTIFICATIONS is required")
		os.Exit(1)
	}

	awsCfg, err := app.LoadAWS(ctx, cfg.AWS)
	if err != nil {
		logger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	metrics, flush := app.NewWorkerMetrics(cfg.Observability, cloudwatch.NewFromConfig(awsCfg), log)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	store, _, err := app.OpenStore(ctx, cfg, types.RealClock{}, log)
	if err != nil {
		logger.Error("Failed to connect to state store", "error", err)
		os.Exit(1)
	}

	alerts := db.NewAlertRepository(pool)
	dispatcher, _, err := app.NewDispatcher(cfg, sqsClient, alerts, metrics, log)
	if err != nil {
		logger.Error("Failed to create dispatcher", "error", err)
		os.Exit(1)
	}

	eng := app.NewEngine(cfg, pool, store, alerts, dispatcher, metrics, log)
	if err := eng.Catalog.Refresh(ctx); err != nil {
		logger.Warn("Initial fence load failed, loading lazily", "error", err)
	}
	go eng.Catalog.RunRefresher(ctx, cfg.Engine.RefreshInterval)

	handler := &Handler{pipeline: eng.Pipeline, flush: flush, logger: log}
	lambda.Start(handler.Handle)
}
