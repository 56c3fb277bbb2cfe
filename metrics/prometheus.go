package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	errorsDesc = prometheus.NewDesc(
		"respguard_errors_total",
		"Total number of recorded errors by kind",
		[]string{"kind"}, nil,
	)
	operationErrorsDesc = prometheus.NewDesc(
		"respguard_operation_errors_total",
		"Total number of recorded errors by operation",
		[]string{"operation"}, nil,
	)
	resolutionsDesc = prometheus.NewDesc(
		"respguard_resolutions_total",
		"Total number of resolved errors by strategy",
		[]string{"strategy"}, nil,
	)
	retriesDesc = prometheus.NewDesc(
		"respguard_retries_total",
		"Retried operations by outcome",
		[]string{"outcome"}, nil,
	)
	fallbacksDesc = prometheus.NewDesc(
		"respguard_fallbacks_total",
		"Fallback paths taken by outcome",
		[]string{"outcome"}, nil,
	)
	recoveryRateDesc = prometheus.NewDesc(
		"respguard_error_recovery_rate_percent",
		"Share of retried or fallback-handled operations that recovered",
		nil, nil,
	)
	retryDelayDesc = prometheus.NewDesc(
		"respguard_average_retry_delay_seconds",
		"Running mean of the delay preceding a successful retry",
		nil, nil,
	)
	eventsDesc = prometheus.NewDesc(
		"respguard_events_retained",
		"Number of error events held in the ring buffer",
		nil, nil,
	)
)

// PrometheusExporter exposes a Collector as Prometheus metrics
type PrometheusExporter struct {
	collector *Collector
}

// NewPrometheusExporter wraps c. Register the result with a prometheus.Registerer.
func NewPrometheusExporter(c *Collector) *PrometheusExporter {
	return &PrometheusExporter{collector: c}
}

// Describe implements prometheus.Collector
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- errorsDesc
	ch <- operationErrorsDesc
	ch <- resolutionsDesc
	ch <- retriesDesc
	ch <- fallbacksDesc
	ch <- recoveryRateDesc
	ch <- retryDelayDesc
	ch <- eventsDesc
}

// Collect implements prometheus.Collector
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	s := e.collector.Metrics()

	for kind, count := range s.ErrorsByType {
		ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.CounterValue, float64(count), string(kind))
	}
	for op, count := range s.ErrorsByOperation {
		ch <- prometheus.MustNewConstMetric(operationErrorsDesc, prometheus.CounterValue, float64(count), op)
	}
	for strategy, count := range s.ResolutionsByStrategy {
		ch <- prometheus.MustNewConstMetric(resolutionsDesc, prometheus.CounterValue, float64(count), strategy)
	}
	ch <- prometheus.MustNewConstMetric(retriesDesc, prometheus.CounterValue, float64(s.SuccessfulRetries), "success")
	ch <- prometheus.MustNewConstMetric(retriesDesc, prometheus.CounterValue, float64(s.FailedRetries), "failure")
	ch <- prometheus.MustNewConstMetric(fallbacksDesc, prometheus.CounterValue, float64(s.FallbackSuccesses), "success")
	ch <- prometheus.MustNewConstMetric(fallbacksDesc, prometheus.CounterValue, float64(s.FallbackFailures), "failure")
	ch <- prometheus.MustNewConstMetric(recoveryRateDesc, prometheus.GaugeValue, s.ErrorRecoveryRate)
	ch <- prometheus.MustNewConstMetric(retryDelayDesc, prometheus.GaugeValue, s.AverageRetryDelayMs/1000)
	ch <- prometheus.MustNewConstMetric(eventsDesc, prometheus.GaugeValue, float64(len(e.collector.Events())))
}
