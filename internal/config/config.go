// Package config defines the global configuration structure for the GeoWatch
// service. Configuration is loaded once at process initialization and is
// immutable thereafter.
//
// Values come from the process environment, optionally seeded from a .env
// file. Outside local mode any variable whose value is an "ssm:" reference is
// replaced by the named SSM parameter before parsing. Any missing required
// value or invalid format fails startup.
package config

import (
	"time"

	"geowatch/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for GeoWatch.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"geowatch"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Engine        EngineConfig
	Dispatch      DispatchConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	MaxBodyBytes    int64         `envconfig:"HTTP_MAX_BODY_BYTES" default:"4194304"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig holds the key-value store connection. An empty Addr selects the
// in-process memory store, which is only suitable for a single replica.
type RedisConfig struct {
	Addr      string        `envconfig:"REDIS_ADDR"`
	Password  SecretString  `envconfig:"REDIS_PASSWORD"`
	DB        int           `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string        `envconfig:"REDIS_KEY_PREFIX" default:"geowatch:"`
	OpTimeout time.Duration `envconfig:"REDIS_OP_TIMEOUT" default:"500ms"`
}

// EngineConfig holds detection, deduplication, and concurrency tuning.
type EngineConfig struct {
	MembershipTTL     time.Duration `envconfig:"MEMBERSHIP_TTL" default:"24h" validate:"gt=0"`
	EnterExitCooldown time.Duration `envconfig:"DEDUP_ENTER_EXIT_COOLDOWN" default:"5m" validate:"gt=0"`
	StayCooldown      time.Duration `envconfig:"DEDUP_STAY_COOLDOWN" default:"30m" validate:"gt=0"`
	GridCellDegrees   float64       `envconfig:"FENCE_GRID_CELL_DEGREES" default:"0.05" validate:"gt=0,lte=10"`
	RefreshInterval   time.Duration `envconfig:"FENCE_REFRESH_INTERVAL" default:"5m"`
	BatchConcurrency  int           `envconfig:"BATCH_CONCURRENCY" default:"16" validate:"min=1"`
	Lanes             int           `envconfig:"ROUTER_LANES" default:"32" validate:"min=1"`
	LaneBuffer        int           `envconfig:"ROUTER_LANE_BUFFER" default:"256" validate:"min=1"`
	MaxBatchSize      int           `envconfig:"MAX_BATCH_SIZE" default:"1000" validate:"min=1"`
	MemoryPruneEvery  time.Duration `envconfig:"MEMORY_STORE_PRUNE_INTERVAL" default:"1m"`
}

// DispatchConfig holds notification dispatch settings.
type DispatchConfig struct {
	Workers        int           `envconfig:"DISPATCH_WORKERS" default:"8" validate:"min=1"`
	QueueDepth     int           `envconfig:"DISPATCH_QUEUE_DEPTH" default:"1024" validate:"min=1"`
	AttemptTimeout time.Duration `envconfig:"DISPATCH_ATTEMPT_TIMEOUT" default:"8s" validate:"gt=0"`
	MaxRetries     int           `envconfig:"DISPATCH_MAX_RETRIES" default:"5" validate:"min=0"`
	SweepInterval  time.Duration `envconfig:"DISPATCH_SWEEP_INTERVAL" default:"1m"`
	SweepBatchSize int           `envconfig:"DISPATCH_SWEEP_BATCH" default:"100" validate:"min=1"`

	// Channel selects the delivery channel: simulated or webhook.
	Channel string `envconfig:"DISPATCH_CHANNEL" default:"simulated" validate:"oneof=simulated webhook"`

	// Simulated channel success probabilities per alert level.
	SuccessHigh   float64 `envconfig:"DISPATCH_SUCCESS_HIGH" default:"1.0" validate:"gte=0,lte=1"`
	SuccessMedium float64 `envconfig:"DISPATCH_SUCCESS_MEDIUM" default:"0.9" validate:"gte=0,lte=1"`
	SuccessLow    float64 `envconfig:"DISPATCH_SUCCESS_LOW" default:"0.7" validate:"gte=0,lte=1"`

	Webhook WebhookConfig
}

// WebhookConfig holds settings for outbound webhook delivery.
type WebhookConfig struct {
	URL       string        `envconfig:"WEBHOOK_URL" validate:"omitempty,url"`
	UserAgent string        `envconfig:"WEBHOOK_USER_AGENT" default:"GeoWatch-Webhook/1.0"`
	Timeout   time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	AuthToken SecretString  `envconfig:"WEBHOOK_AUTH_TOKEN"`
	// SigningSecret enables the X-GeoWatch-Signature header when set.
	SigningSecret SecretString `envconfig:"WEBHOOK_SIGNING_SECRET"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Resource Identifiers. Empty URLs disable the queue-backed paths.
	LocationQueue string `envconfig:"SQS_LOCATIONS" validate:"omitempty,url"`
	NotifyQueue   string `envconfig:"SQS_NOTIFICATIONS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"GeoWatch"`
	// MetricsBackend selects where counters go: prometheus, cloudwatch, or none.
	MetricsBackend string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
}
