package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "alarmsync_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	syncTotal        *prometheus.CounterVec
	alarmsProcessed  *prometheus.CounterVec
	activeAlarms     *prometheus.GaugeVec
	syncDuration     *prometheus.HistogramVec
	gatewayDuration  *prometheus.HistogramVec
	errorsTotal      *prometheus.CounterVec
	lastSyncTime     prometheus.Gauge
	lastSuccessTime  prometheus.Gauge
	serviceUp        prometheus.Gauge
	reportExportTime *prometheus.HistogramVec
)

// Init registers the service metrics and the bookkeeping gauges in counts.
func Init(counts Counts, logger *zap.Logger) {
	registerOnce.Do(func() {
		syncTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_total",
				Help: "Total sync operations by operation and result",
			},
			[]string{"operation", "status"},
		)
		alarmsProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarms_processed_total",
				Help: "Alarms processed by action",
			},
			[]string{"action"},
		)
		activeAlarms = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_alarms",
				Help: "Tracked alarms by sync status",
			},
			[]string{"status"},
		)
		syncDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sync_duration_seconds",
				Help:    "Sync pass duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		)
		gatewayDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alertmanager_request_duration_seconds",
				Help:    "Alertmanager request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		)
		errorsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "errors_total",
				Help: "Errors by component and type",
			},
			[]string{"component", "error_type"},
		)
		lastSyncTime = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_sync_timestamp_seconds",
			Help: "Unix time of the last finished cycle",
		})
		lastSuccessTime = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_success_timestamp_seconds",
			Help: "Unix time of the last cycle without errors",
		})
		serviceUp = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "sync_service_up",
			Help: "1 while the sync service is running",
		})
		reportExportTime = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_seconds",
				Help:    "Report export latency by format and result",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			syncTotal,
			alarmsProcessed,
			activeAlarms,
			syncDuration,
			gatewayDuration,
			errorsTotal,
			lastSyncTime,
			lastSuccessTime,
			serviceUp,
			reportExportTime,
		)

		registerDBMetrics(counts, logger)
	})
}

// ObserveSync records one pass or cycle outcome.
func ObserveSync(operation, result string, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if syncTotal != nil {
		syncTotal.WithLabelValues(operation, result).Inc()
	}
	if syncDuration != nil {
		syncDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// IncAlarmProcessed counts an applied per-alarm action.
func IncAlarmProcessed(action string) {
	if action == "" {
		action = "unknown"
	}
	if alarmsProcessed != nil {
		alarmsProcessed.WithLabelValues(action).Inc()
	}
}

// SetActiveAlarms replaces the per-status gauge values.
func SetActiveAlarms(counts map[string]int) {
	if activeAlarms == nil {
		return
	}
	activeAlarms.Reset()
	for status, n := range counts {
		if status == "" {
			status = "unknown"
		}
		activeAlarms.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveGatewayRequest records one Alertmanager round trip.
func ObserveGatewayRequest(method, endpoint string, duration time.Duration) {
	if method == "" {
		method = "unknown"
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	if gatewayDuration != nil {
		gatewayDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	}
}

// IncError increments the error counter.
func IncError(component, errorType string) {
	if component == "" {
		component = "unknown"
	}
	if errorType == "" {
		errorType = "unknown"
	}
	if errorsTotal != nil {
		errorsTotal.WithLabelValues(component, errorType).Inc()
	}
}

// MarkCycle stamps the last-cycle gauges.
func MarkCycle(at time.Time, success bool) {
	if lastSyncTime != nil {
		lastSyncTime.Set(float64(at.Unix()))
	}
	if success && lastSuccessTime != nil {
		lastSuccessTime.Set(float64(at.Unix()))
	}
}

// SetServiceUp flips the liveness gauge.
func SetServiceUp(up bool) {
	if serviceUp == nil {
		return
	}
	if up {
		serviceUp.Set(1)
		return
	}
	serviceUp.Set(0)
}

// ObserveReportExport records report rendering latency.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTime != nil {
		reportExportTime.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
