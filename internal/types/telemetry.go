package types

// Telemetry metric names for CloudWatch.
const (
	// Metric Names
	MetricAPILatency       = "APILatency"
	MetricAPIRequest       = "APIRequest"
	MetricWebhookProcessed = "WebhookProcessed"
	MetricQuotaExceeded    = "QuotaExceeded"
	MetricBillingDrift     = "BillingStateDrift"

	// Dimension Keys
	DimEndpoint  = "Endpoint"
	DimStatus    = "Status"
	DimEventType = "EventType"
	DimResource  = "Resource"
	DimOutcome   = "Outcome"

	// Metric Namespace
	MetricNamespace = "ModelPass"
)
