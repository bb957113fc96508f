package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const countTimeout = 5 * time.Second

// CountFunc returns a row count for a bookkeeping gauge.
type CountFunc func(ctx context.Context) (int64, error)

// Counts backs the bookkeeping gauges. Nil funcs leave their gauge unregistered.
type Counts struct {
	ErrorRecords CountFunc
	AuditRows    CountFunc
}

func registerDBMetrics(c Counts, logger *zap.Logger) {
	if c.ErrorRecords != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "error_records",
				Help: "Sync records parked in ERROR status",
			},
			func() float64 { return countValue(c.ErrorRecords, logger) },
		))
	}
	if c.AuditRows != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "audit_log_rows",
				Help: "Rows in the sync audit log",
			},
			func() float64 { return countValue(c.AuditRows, logger) },
		))
	}
}

func countValue(fn CountFunc, logger *zap.Logger) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), countTimeout)
	defer cancel()
	n, err := fn(ctx)
	if err != nil {
		if logger != nil {
			logger.Warn("metrics count failed", zap.Error(err))
		}
		return 0
	}
	if n < 0 {
		return 0
	}
	return float64(n)
}
