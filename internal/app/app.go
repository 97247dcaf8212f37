// Package app holds the wiring shared by the geowatch binaries: config and
// AWS loading, key-value store selection, metrics backend selection, and the
// assembly of the detection pipeline and notification dispatcher.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"geowatch/internal/config"
	"geowatch/internal/db"
	"geowatch/internal/engine"
	"geowatch/internal/fences"
	"geowatch/internal/kv"
	"geowatch/internal/notifications/core"
	"geowatch/internal/notifications/webhook"
	"geowatch/internal/types"
)

// LoadConfig loads configuration, resolving ssm: references outside local mode.
func LoadConfig(ctx context.Context) (*config.Config, error) {
	var secrets config.SecretSource
	if os.Getenv("APP_ENV") != "local" {
		secrets = config.NewSSMSource(os.Getenv("AWS_REGION"))
	}
	return config.Load(ctx, secrets)
}

// LoadAWS loads the SDK configuration for cfg.Region. A non-empty EndpointURL
// points every client at LocalStack.
func LoadAWS(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// OpenStore connects to Redis when an address is configured. Otherwise it
// returns a memory store whose pruner runs until ctx is done. The returned
// func releases the store.
func OpenStore(ctx context.Context, cfg *config.Config, clock types.Clock, logger types.Logger) (kv.Store, func() error, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn("REDIS_ADDR not set, using in-process state store")
		m := kv.NewMemoryStore(clock)
		go m.RunPruner(ctx, cfg.Engine.MemoryPruneEvery)
		return m, func() error { return nil }, nil
	}
	r, err := kv.NewRedisStore(ctx, kv.RedisOptions{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password.Unmask(),
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		OpTimeout: cfg.Redis.OpTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

// SuccessModel builds the simulated channel's per-level probabilities.
func SuccessModel(cfg config.DispatchConfig) core.SuccessModel {
	return core.SuccessModel{
		types.LevelHigh:   cfg.SuccessHigh,
		types.LevelMedium: cfg.SuccessMedium,
		types.LevelLow:    cfg.SuccessLow,
	}
}

// NewChannel selects the delivery channel named by cfg.Channel.
func NewChannel(cfg config.DispatchConfig, logger types.Logger) (types.NotificationChannel, error) {
	switch cfg.Channel {
	case "webhook":
		return webhook.NewChannel(cfg.Webhook, logger)
	case "", "simulated":
		return core.NewSimulatedChannel(SuccessModel(cfg), nil), nil
	default:
		return nil, fmt.Errorf("unknown dispatch channel %q", cfg.Channel)
	}
}

// Dispatcher is satisfied by both the in-process pool and the queue-backed
// dispatcher.
type Dispatcher interface {
	types.AlertDispatcher
	Dispatch(ctx context.Context, a *types.Alert) error
}

// NewDispatcher hands alerts to the notify queue when one is configured and
// sqsClient is non-nil. Otherwise it starts an in-process worker pool. The
// returned func drains the pool.
func NewDispatcher(
	cfg *config.Config,
	sqsClient core.SQSSender,
	sink types.AlertSink,
	metrics types.MetricsRecorder,
	logger types.Logger,
) (Dispatcher, func(), error) {
	if cfg.AWS.NotifyQueue != "" && sqsClient != nil {
		pub := core.NewDispatchPublisher(sqsClient, cfg.AWS.NotifyQueue, logger)
		return core.NewQueueDispatcher(pub, cfg.Dispatch.AttemptTimeout, logger), func() {}, nil
	}
	ch, err := NewChannel(cfg.Dispatch, logger)
	if err != nil {
		return nil, nil, err
	}
	d := core.NewDispatcher(ch, sink, metrics, logger, nil, core.DispatcherConfig{
		Workers:        cfg.Dispatch.Workers,
		QueueDepth:     cfg.Dispatch.QueueDepth,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout,
	})
	return d, d.Close, nil
}

// Engine bundles the catalog and the pipeline built on it.
type Engine struct {
	Catalog  *fences.Catalog
	Pipeline *engine.Pipeline
}

// NewEngine assembles the detection pipeline over conn and store.
func NewEngine(
	cfg *config.Config,
	conn db.DBTX,
	store kv.Store,
	alerts types.AlertSink,
	dispatcher types.AlertDispatcher,
	metrics types.MetricsRecorder,
	logger types.Logger,
) *Engine {
	catalog := fences.NewCatalog(db.NewFenceRepository(conn), cfg.Engine.GridCellDegrees, logger)
	pipeline := engine.NewPipeline(
		catalog,
		engine.NewMembershipStore(store),
		engine.NewDeduplicator(store, cfg.Engine.EnterExitCooldown, cfg.Engine.StayCooldown),
		alerts,
		dispatcher,
		metrics,
		logger,
		nil,
		engine.Options{
			MembershipTTL:     cfg.Engine.MembershipTTL,
			EnterExitCooldown: cfg.Engine.EnterExitCooldown,
			StayCooldown:      cfg.Engine.StayCooldown,
			BatchConcurrency:  cfg.Engine.BatchConcurrency,
		},
	)
	return &Engine{Catalog: catalog, Pipeline: pipeline}
}
