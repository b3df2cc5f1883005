package observability

import "sync"

// Metric names recorded by the engine.
const (
	MetricOrdersCreated    = "twapd_orders_created_total"
	MetricOrdersCompleted  = "twapd_orders_completed_total"
	MetricOrdersCancelled  = "twapd_orders_cancelled_total"
	MetricOrdersFailed     = "twapd_orders_failed_total"
	MetricTranchesExecuted = "twapd_tranches_executed_total"
	MetricTranchesSkipped  = "twapd_tranches_skipped_total"
	MetricTriggersSent     = "twapd_triggers_sent_total"
	MetricTriggersDropped  = "twapd_triggers_dropped_total"
	MetricEventsJournaled  = "twapd_events_journaled_total"
	MetricEventsReplayed   = "twapd_events_replayed_total"
)

// Metrics provides counter and gauge recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var (
	metricsMu      sync.RWMutex
	defaultMetrics Metrics = noopMetrics{}
)

// SetMetrics overrides the global metrics implementation used by the engine.
func SetMetrics(metrics Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)   {}

// Count is shorthand for incrementing a counter by one on the global collector.
func Count(name string, labels map[string]string) {
	Telemetry().IncCounter(name, 1, labels)
}
