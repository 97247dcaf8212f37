package types

// Telemetry metric names for CloudWatch and Prometheus.
// All components MUST use these constants.
const (
	// Metric Names
	MetricReportProcessed  = "ReportProcessed"
	MetricEventDetected    = "EventDetected"
	MetricEventSuppressed  = "EventSuppressed"
	MetricAlertCreated     = "AlertCreated"
	MetricDeliveryAttempt  = "DeliveryAttempt"
	MetricDeliverySuccess  = "DeliverySuccess"
	MetricDeliveryFailed   = "DeliveryFailed"
	MetricDeliveryLatency  = "DeliveryLatency"
	MetricRetrySweep       = "RetrySweep"
	MetricFenceCatalogSize = "FenceCatalogSize"

	// Dimension Keys
	DimOutcome   = "Outcome"
	DimEventType = "EventType"
	DimLevel     = "Level"
	DimChannel   = "Channel"

	// Metric Namespace
	MetricNamespace = "GeoWatch"
)

// Report processing outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
	OutcomePanicked = "panicked"
)
