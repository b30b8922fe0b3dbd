package splists

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle and
// the list protocol layers. A nil collector records nothing. It is safe for
// concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	batchOperations *prometheus.CounterVec
	etagRefreshes   *prometheus.CounterVec
	fieldsCreated   *prometheus.CounterVec
	pagesFetched    *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
	buildInfo   *prometheus.GaugeVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	mc := &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splists_requests_total",
				Help: "Total number of logical requests by final status",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "splists_request_duration_seconds",
				Help:    "Duration of logical requests including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "splists_requests_in_flight",
				Help: "Number of logical requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splists_retries_total",
				Help: "Total number of retries by reason",
			},
			[]string{"method", "endpoint", "reason"},
		),
		batchOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splists_batch_operations_total",
				Help: "Batch operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		etagRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splists_etag_refresh_total",
				Help: "Precondition failures repaired or abandoned",
			},
			[]string{"outcome"},
		),
		fieldsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splists_fields_created_total",
				Help: "Fields created by schema provisioning",
			},
			[]string{"list"},
		),
		pagesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splists_pages_fetched_total",
				Help: "Result pages fetched while draining collections",
			},
			[]string{"endpoint"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splists_errors_total",
				Help: "Total number of errors returned to callers",
			},
			[]string{"type", "method", "endpoint"},
		),
		buildInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "splists_build_info",
				Help: "Library build information, always 1",
			},
			[]string{"version", "commit", "go_version"},
		),
		registry: registry,
	}
	info := GetVersionInfo()
	mc.buildInfo.WithLabelValues(info["version"], info["commit"], info["go_version"]).Set(1)
	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments the retry counter for a reason.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, reason RetryReason) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(method, endpoint, string(reason)).Inc()
}

// RecordBatchResult counts one batch leg.
func (mc *MetricsCollector) RecordBatchResult(kind OpKind, ok bool) {
	if mc == nil {
		return
	}

	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	mc.batchOperations.WithLabelValues(string(kind), outcome).Inc()
}

// RecordEtagRefresh counts a 412 repair by outcome (repaired, not_found,
// missing_etag, conflict).
func (mc *MetricsCollector) RecordEtagRefresh(outcome string) {
	if mc == nil {
		return
	}

	mc.etagRefreshes.WithLabelValues(outcome).Inc()
}

// RecordFieldCreated counts a provisioned field.
func (mc *MetricsCollector) RecordFieldCreated(list string) {
	if mc == nil {
		return
	}

	mc.fieldsCreated.WithLabelValues(list).Inc()
}

// RecordPage counts a fetched result page.
func (mc *MetricsCollector) RecordPage(endpoint string) {
	if mc == nil {
		return
	}

	mc.pagesFetched.WithLabelValues(endpoint).Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// GetRegistry exposes the registerer the collector was built on.
func (mc *MetricsCollector) GetRegistry() prometheus.Registerer {
	return mc.registry
}
