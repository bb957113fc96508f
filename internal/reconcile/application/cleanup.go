package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"alarm-sync/internal/audit"
	"alarm-sync/internal/config"
	"alarm-sync/internal/logger"
	"alarm-sync/internal/observability/metrics"
)

// ResolvedSweeper deletes old resolved sync records.
type ResolvedSweeper interface {
	SweepResolved(ctx context.Context, olderThan time.Time) (int64, error)
}

// AuditSweeper deletes old audit entries.
type AuditSweeper interface {
	Sweep(ctx context.Context, olderThan time.Time) (int64, error)
}

// ConfigSource yields the current configuration.
type ConfigSource interface {
	Config() *config.Config
}

// CleanupResult reports one retention sweep.
type CleanupResult struct {
	ResolvedDeleted int64     `json:"resolved_deleted"`
	AuditDeleted    int64     `json:"audit_deleted"`
	RanAt           time.Time `json:"ran_at"`
}

// Cleanup applies the retention settings.
type Cleanup struct {
	records ResolvedSweeper
	audit   AuditSweeper
	config  ConfigSource
	clock   Clock
	logger  *zap.Logger
}

// NewCleanup constructs a Cleanup.
func NewCleanup(records ResolvedSweeper, auditLog AuditSweeper, cfg ConfigSource, clock Clock, l *zap.Logger) (*Cleanup, error) {
	if records == nil || auditLog == nil || cfg == nil {
		return nil, errors.New("cleanup: nil dependency")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Cleanup{records: records, audit: auditLog, config: cfg, clock: clock, logger: logger.OrNop(l)}, nil
}

// Run sweeps resolved records and audit entries past their retention.
// A zero retention disables the corresponding sweep.
func (c *Cleanup) Run(ctx context.Context) (CleanupResult, error) {
	start := time.Now()
	cfg := c.config.Config()
	now := c.clock.Now().UTC()
	res := CleanupResult{RanAt: now}

	var errs []error
	if days := cfg.Retention.ResolvedDays; days > 0 {
		n, err := c.records.SweepResolved(ctx, now.AddDate(0, 0, -days))
		if err != nil {
			errs = append(errs, err)
		}
		res.ResolvedDeleted = n
	}
	if days := cfg.Retention.AuditDays; days > 0 {
		n, err := c.audit.Sweep(ctx, now.AddDate(0, 0, -days))
		if err != nil {
			errs = append(errs, err)
		}
		res.AuditDeleted = n
	}

	err := errors.Join(errs...)
	c.record(res, err)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		c.logger.Error("cleanup failed", zap.Error(err))
	} else {
		c.logger.Info("cleanup finished",
			zap.Int64("resolved_deleted", res.ResolvedDeleted),
			zap.Int64("audit_deleted", res.AuditDeleted),
		)
	}
	metrics.ObserveSync("cleanup", result, time.Since(start))
	return res, err
}

// record leaves a cleanup row in the audit log when the sweeper can append.
func (c *Cleanup) record(res CleanupResult, err error) {
	appender, ok := c.audit.(AuditLog)
	if !ok {
		return
	}
	payload, _ := json.Marshal(res)
	entry := audit.Entry{
		BatchID:        "cleanup_" + res.RanAt.Format(batchTimeLayout),
		Operation:      audit.OperationCleanup,
		RequestPayload: string(payload),
		CreatedAt:      res.RanAt,
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if aerr := appender.Append(ctx, entry); aerr != nil {
		c.logger.Warn("append cleanup audit failed", zap.Error(aerr))
	}
}
