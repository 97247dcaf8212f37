// Package main is the entrypoint for the Retry Sweeper Lambda function.
//
// In Lambda deployments no long-running API replica runs the retry sweeper,
// so an EventBridge schedule invokes this function instead. Each invocation
// runs one sweep: FAILED alerts under the retry cap, and PENDING alerts that
// were never attempted, are re-dispatched once their backoff has elapsed.
//
// Handler flow:
//  1. Acquire the retry_sweep lease in job_locks. A held lease skips the run.
//  2. Record job start in job_history.
//  3. List retryable alerts and dispatch the due ones. With a notify queue
//     configured they are handed to the notify worker; otherwise delivery
//     happens in this invocation.
//  4. Record job completion and flush metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"geowatch/internal/app"
	"geowatch/internal/db"
	"geowatch/internal/logging"
	"geowatch/internal/scheduler"
	"geowatch/internal/types"
)

// Sweeper is implemented by scheduler.RetrySweeper.
type Sweeper interface {
	Sweep(ctx context.Context) (scheduler.SweepResult, error)
}

// Handler holds the dependencies for the retry sweeper Lambda handler.
type Handler struct {
	sweeper Sweeper
	flush   func(context.Context)
	logger  types.Logger
}

// Handle runs one sweep for a scheduled event.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (string, error) {
	defer h.flush(ctx)
	start := time.Now()

	res, err := h.sweeper.Sweep(ctx)
	if err != nil {
		h.logger.Error("retry sweep failed", "event_id", event.ID, "error", err.Error())
		return "", fmt.Errorf("retry sweep: %w", err)
	}
	if res.Skipped {
		h.logger.Info("retry sweep skipped, lease held by another worker", "event_id", event.ID)
		return "skipped: lease held by another worker", nil
	}

	h.logger.Info("retry sweep completed",
		"event_id", event.ID,
		"scanned", res.Scanned,
		"not_due", res.NotDue,
		"dispatched", res.Dispatched,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return fmt.Sprintf("scanned=%d dispatched=%d failed=%d not_due=%d",
		res.Scanned, res.Dispatched, res.Failed, res.NotDue), nil
}

func main() {
	ctx := context.Background()

	cfg, err := app.LoadConfig(ctx)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)
	log := logging.NewSlog(logger).With("component", "retry-sweeper")
	logger.Info("Retry Sweeper Lambda initializing (cold start)", "version", cfg.Build.Version)

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

	dispatcher, _, err := app.NewDispatcher(cfg, sqs.NewFromConfig(awsCfg), alerts, metrics, log)
	if err != nil {
		logger.Error("Failed to create dispatcher", "error", err)
		os.Exit(1)
	}

	sweeper := scheduler.NewRetrySweeper(
		alerts,
		dispatcher,
		db.NewJobLockRepository(pool, nil),
		db.NewJobHistoryRepository(pool, types.RealClock{}),
		log,
		nil,
		scheduler.SweeperConfig{
			// The lease must outlive one invocation.
			Interval:   15 * time.Minute,
			BatchSize:  cfg.Dispatch.SweepBatchSize,
			MaxRetries: cfg.Dispatch.MaxRetries,
			WorkerID:   "lambda-" + uuid.NewString()[:8],
		},
	)

	handler := &Handler{sweeper: sweeper, flush: flush, logger: log}
	lambda.Start(handler.Handle)
}
