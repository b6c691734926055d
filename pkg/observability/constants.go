package observability

const (
	DefaultMetricsPath = "/metrics"
	DefaultNamespace   = "tracecore"
)
