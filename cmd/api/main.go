// Package main is the entry point for the GeoWatch API server.
//
// It loads configuration, connects to PostgreSQL and the state store, builds
// the detection pipeline with its lane router, dispatcher pool, retry sweeper
// and fence refresher, and serves the HTTP API until SIGINT or SIGTERM.
//
// Shutdown order: mark the server draining, stop accepting connections, drain
// the router lanes, stop background jobs, then drain the dispatcher so queued
// deliveries finish before the pools close.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geowatch/internal/api/handlers"
	"geowatch/internal/app"
	"geowatch/internal/config"
	"geowatch/internal/core"
	"geowatch/internal/db"
	"geowatch/internal/engine"
	"geowatch/internal/kv"
	"geowatch/internal/logging"
	notify "geowatch/internal/notifications/core"
	"geowatch/internal/queue"
	"geowatch/internal/scheduler"
	"geowatch/internal/stats"
	"geowatch/internal/telemetry"
	"geowatch/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := app.LoadConfig(context.Background())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.LogLevel)
	log := logging.NewSlog(logger)
	logger.Info("geowatch API starting",
		"environment", cfg.Environment,
		"build", cfg.Build.String(),
		"port", cfg.Server.Port,
	)

	// bg outlives the HTTP listener so background jobs stop only after the
	// router lanes have drained.
	bg, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	pool, err := db.NewPool(bg, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, closeStore, err := app.OpenStore(bg, cfg, types.RealClock{}, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var sqsClient *sqs.Client
	var cwClient telemetry.CloudWatchClient
	if cfg.AWS.NotifyQueue != "" || cfg.AWS.LocationQueue != "" || cfg.Observability.MetricsBackend == "cloudwatch" {
		awsCfg, err := app.LoadAWS(bg, cfg.AWS)
		if err != nil {
			return err
		}
		sqsClient = sqs.NewFromConfig(awsCfg)
		cwClient = cloudwatch.NewFromConfig(awsCfg)
	}
	metrics, flushMetrics := app.NewMetrics(cfg.Observability, reg, cwClient, log)

	alerts := db.NewAlertRepository(pool)
	var notifySender notify.SQSSender
	if sqsClient != nil {
		notifySender = sqsClient
	}
	dispatcher, closeDispatcher, err := app.NewDispatcher(cfg, notifySender, alerts, metrics, log)
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	eng := app.NewEngine(cfg, pool, store, alerts, dispatcher, metrics, log)
	if err := eng.Catalog.Refresh(bg); err != nil {
		// The catalog loads lazily on the first report if this fails.
		logger.Warn("initial fence load failed", "error", err)
	}
	go eng.Catalog.RunRefresher(bg, cfg.Engine.RefreshInterval)

	router := engine.NewRouter(eng.Pipeline, cfg.Engine.Lanes, cfg.Engine.LaneBuffer, log)
	var submitter handlers.ReportSubmitter = router
	if cfg.AWS.LocationQueue != "" {
		// Single reports go to the location worker; batches stay in-process.
		submitter = queue.NewLocationPublisher(sqsClient, cfg.AWS.LocationQueue, logger)
	}

	sweeper := scheduler.NewRetrySweeper(
		alerts,
		dispatcher,
		db.NewJobLockRepository(pool, nil),
		db.NewJobHistoryRepository(pool, types.RealClock{}),
		log,
		nil,
		scheduler.SweeperConfig{
			Interval:   cfg.Dispatch.SweepInterval,
			BatchSize:  cfg.Dispatch.SweepBatchSize,
			MaxRetries: cfg.Dispatch.MaxRetries,
			WorkerID:   workerID(),
		},
	)
	go sweeper.Run(bg)

	srv, err := newServer(cfg, logger, services{
		submitter:  submitter,
		batch:      eng.Pipeline,
		summarizer: stats.NewAggregator(db.NewStatsRepository(pool)),
		fences:     eng.Catalog,
		alerts:     alerts,
		store:      store,
		registry:   reg,
		probes:     healthChecks(pool.Ping, store.Ping, dispatcher),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return runHTTPServer(srv, cfg, logger, func(ctx context.Context) {
		router.Close()
		stopBackground()
		closeDispatcher()
		flushMetrics(ctx)
	})
}

// healthChecks covers the database and kv store, plus the delivery channel
// when alerts are dispatched in-process.
func healthChecks(dbPing, kvPing func(context.Context) error, dispatcher app.Dispatcher) []core.HealthProbe {
	checks := []core.HealthProbe{
		core.NewPingProbe("database", dbPing),
		core.NewPingProbe("kv", kvPing),
	}
	if d, ok := dispatcher.(*notify.Dispatcher); ok {
		checks = append(checks, core.NewPingProbe("notifications", d.Ping))
	}
	return checks
}

// services are the components the HTTP layer fronts.
type services struct {
	submitter  handlers.ReportSubmitter
	batch      handlers.BatchProcessor
	summarizer handlers.StatsSummarizer
	fences     handlers.FenceInvalidator
	alerts     handlers.AlertResolver
	store      kv.Store
	registry   *prometheus.Registry
	probes     []core.HealthProbe
}

// newServer builds the chassis and mounts every route.
func newServer(cfg *config.Config, logger *slog.Logger, svc services) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	clock := types.RealClock{}

	srv.HealthProbes = svc.probes
	if svc.store != nil {
		srv.IdempotencyStore = core.NewKVIdempotencyStore(svc.store)
	}
	if svc.registry != nil {
		srv.Metrics = telemetry.NewHTTPMetrics(svc.registry)
		srv.MetricsHandler = promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{})
	}

	locations := handlers.NewLocationHandler(svc.submitter, svc.batch, srv.Validator, logger, clock,
		handlers.LocationHandlerConfig{
			MaxBatchSize: cfg.Engine.MaxBatchSize,
			MaxBodyBytes: cfg.Server.MaxBodyBytes,
		})
	statsHandler := handlers.NewStatsHandler(svc.summarizer, logger, clock)
	fenceHandler := handlers.NewFenceHandler(svc.fences, logger)
	alertHandler := handlers.NewAlertHandler(svc.alerts, srv.Validator, logger, clock)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		locations.RegisterRoutes,
		statsHandler.RegisterRoutes,
		fenceHandler.RegisterRoutes,
		alertHandler.RegisterRoutes,
	)
	srv.MountRoutes()
	return srv, nil
}

// workerID identifies this replica in job_locks.
func workerID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "api-" + uuid.NewString()[:8]
}

// runHTTPServer serves until a signal or listener error, then shuts down
// gracefully. drain runs after the listener has stopped.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger, drain func(context.Context)) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	var listenErr error
	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			listenErr = fmt.Errorf("server error: %w", err)
		}
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	drain(ctx)

	if listenErr != nil {
		return listenErr
	}
	logger.Info("server stopped cleanly")
	return nil
}
