package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"geowatch/internal/config"
	"geowatch/internal/telemetry"
	"geowatch/internal/types"
)

// NewMetrics returns the recorder for cfg.MetricsBackend along with a flush
// func. Only the CloudWatch backend buffers, so flush is a no-op otherwise.
// A cloudwatch backend without a client falls back to no metrics.
func NewMetrics(
	cfg config.ObservabilityConfig,
	reg prometheus.Registerer,
	cw telemetry.CloudWatchClient,
	logger types.Logger,
) (types.MetricsRecorder, func(context.Context)) {
	nopFlush := func(context.Context) {}
	switch cfg.MetricsBackend {
	case "prometheus":
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		return telemetry.NewPrometheusRecorder(reg), nopFlush
	case "cloudwatch":
		if cw == nil {
			logger.Warn("cloudwatch metrics requested without a client, metrics disabled")
			return types.NopMetrics{}, nopFlush
		}
		rec := telemetry.NewCloudWatchRecorder(cw, cfg.MetricNamespace, logger)
		return rec, rec.Flush
	default:
		return types.NopMetrics{}, nopFlush
	}
}

// NewWorkerMetrics is NewMetrics for Lambda workers. Nothing scrapes a Lambda,
// so a prometheus backend is published to CloudWatch instead.
func NewWorkerMetrics(cfg config.ObservabilityConfig, cw telemetry.CloudWatchClient, logger types.Logger) (types.MetricsRecorder, func(context.Context)) {
	if cfg.MetricsBackend == "prometheus" {
		cfg.MetricsBackend = "cloudwatch"
	}
	return NewMetrics(cfg, nil, cw, logger)
}
