// Package application runs reconciliation cycles between the alarm source and
// the alerting gateway.
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alarm-sync/internal/alarms/transform"
	"alarm-sync/internal/config"
	"alarm-sync/internal/logger"
	"alarm-sync/internal/observability/metrics"
	syncstate "alarm-sync/internal/syncstate/domain"
)

// ErrCycleInFlight is returned when a cycle is requested while one is running.
var ErrCycleInFlight = errors.New("reconcile: cycle already in flight")

const batchTimeLayout = "20060102150405"

// Engine reconciles sync records against the source and the gateway.
// At most one cycle runs at a time per Engine.
type Engine struct {
	source    AlarmSource
	store     RecordStore
	gateway   Gateway
	audit     AuditLog
	notifiers []Notifier
	clock     Clock
	logger    *zap.Logger

	cfg     atomic.Pointer[config.Config]
	xf      atomic.Pointer[transform.Transformer]
	running atomic.Bool
	wg      sync.WaitGroup

	mu     sync.Mutex
	status Status
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithNotifier adds a cycle notifier.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		if n != nil {
			e.notifiers = append(e.notifiers, n)
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger.OrNop(l)
	}
}

// NewEngine constructs an engine.
func NewEngine(cfg *config.Config, source AlarmSource, store RecordStore, gateway Gateway, auditLog AuditLog, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("reconcile: nil config")
	}
	if source == nil || store == nil || gateway == nil {
		return nil, errors.New("reconcile: nil collaborator")
	}
	if auditLog == nil {
		return nil, errors.New("reconcile: nil audit log")
	}
	e := &Engine{
		source:  source,
		store:   store,
		gateway: gateway,
		audit:   auditLog,
		clock:   systemClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.status.StartedAt = e.clock.Now()
	e.install(cfg)
	return e, nil
}

// Config returns the configuration used by the next cycle.
func (e *Engine) Config() *config.Config {
	return e.cfg.Load()
}

// Reload switches to cfg. A running cycle finishes with the configuration it started with.
func (e *Engine) Reload(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("reconcile: nil config")
	}
	if _, err := cfg.Validate(); err != nil {
		return err
	}
	e.install(cfg)
	e.logger.Info("configuration reloaded",
		zap.Duration("scan_interval", cfg.Sync.ScanInterval),
		zap.Int("batch_size", cfg.Sync.BatchSize),
		zap.String("alarm_levels", cfg.Sync.AlarmLevels),
	)
	return nil
}

func (e *Engine) install(cfg *config.Config) {
	e.xf.Store(transform.New(transform.Options{
		Severity:        cfg.Severity,
		StaticLabels:    cfg.Labels.Static(),
		CreatedBy:       cfg.Silence.CreatedBy,
		CommentTemplate: cfg.Silence.CommentTemplate,
		SilenceDuration: cfg.Silence.DefaultDuration,
	}))
	e.cfg.Store(cfg)
}

// RunCycle runs one cycle synchronously. It returns ErrCycleInFlight when
// another cycle holds the gate, and the cycle-level error when extraction failed.
func (e *Engine) RunCycle(ctx context.Context, trigger string) (CycleResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return CycleResult{}, ErrCycleInFlight
	}
	defer e.running.Store(false)
	return e.run(ctx, e.newBatchID(), trigger)
}

// TriggerCycle starts a cycle in the background and returns its batch id.
func (e *Engine) TriggerCycle(ctx context.Context, trigger string) (string, error) {
	if !e.running.CompareAndSwap(false, true) {
		return "", ErrCycleInFlight
	}
	batchID := e.newBatchID()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.running.Store(false)
		if _, err := e.run(context.WithoutCancel(ctx), batchID, trigger); err != nil {
			e.logger.Warn("triggered cycle failed", zap.String("batch_id", batchID), zap.Error(err))
		}
	}()
	return batchID, nil
}

// Wait blocks until background cycles started by TriggerCycle have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Status returns the runtime status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status
	st.Running = e.running.Load()
	if st.LastResult != nil {
		last := *st.LastResult
		st.LastResult = &last
	}
	return st
}

// Statistics aggregates the bookkeeping table and refreshes the active gauge.
func (e *Engine) Statistics(ctx context.Context) (Statistics, error) {
	stats, err := e.store.Statistics(ctx)
	if err != nil {
		return Statistics{}, err
	}
	out := Statistics{ByStatus: stats}
	counts := make(map[string]int, len(syncstate.Statuses()))
	for _, s := range syncstate.Statuses() {
		counts[string(s)] = 0
	}
	for _, s := range stats {
		out.Total += s.Count
		out.Errors += s.AlarmsWithErrors
		counts[string(s.Status)] = int(s.Count)
	}
	metrics.SetActiveAlarms(counts)
	return out, nil
}

func (e *Engine) newBatchID() string {
	return e.clock.Now().UTC().Format(batchTimeLayout) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (e *Engine) run(ctx context.Context, batchID, trigger string) (CycleResult, error) {
	cfg := e.cfg.Load()
	c := &cycle{
		cfg:     cfg,
		xf:      e.xf.Load(),
		batchID: batchID,
		now:     e.clock.Now().UTC(),
		policy: syncstate.Policy{
			UseSilenceAPI:     cfg.Silence.UseSilenceAPI,
			AutoRemoveOnClear: cfg.Silence.AutoRemoveOnClear,
		},
		logger: e.logger.With(zap.String("batch_id", batchID)),
	}
	if cfg.Sync.MaxCycleDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Sync.MaxCycleDuration)
		defer cancel()
	}

	res := CycleResult{BatchID: batchID, Trigger: trigger, StartedAt: c.now}
	c.logger.Info("sync cycle started", zap.String("trigger", trigger))

	passes := []struct {
		name config.Pass
		out  *PassResult
		run  func(context.Context, *cycle) (PassResult, error)
	}{
		{config.PassNew, &res.New, e.newPass},
		{config.PassChanged, &res.Changed, e.changedPass},
		{config.PassHeartbeat, &res.Heartbeat, e.heartbeatPass},
	}

	var cycleErr error
	for _, p := range passes {
		if ctx.Err() != nil {
			res.TimedOut = true
			break
		}
		start := time.Now()
		pr, err := p.run(ctx, c)
		pr.Duration = time.Since(start)
		*p.out = pr
		result := metrics.ResultSuccess
		if err != nil || pr.Failed > 0 {
			result = metrics.ResultError
		}
		metrics.ObserveSync(string(p.name), result, pr.Duration)
		if err != nil {
			cycleErr = fmt.Errorf("%s pass: %w", p.name, err)
			res.Error = cycleErr.Error()
			metrics.IncError("engine", "extraction")
			break
		}
	}
	if ctx.Err() != nil && cycleErr == nil {
		res.TimedOut = true
	}
	res.FinishedAt = e.clock.Now().UTC()
	metrics.ObserveSync("cycle", resultLabel(res), res.Duration())
	metrics.MarkCycle(res.FinishedAt, res.Error == "")

	e.record(res)
	e.finish(c, res)
	return res, cycleErr
}

func (e *Engine) record(res CycleResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Cycles++
	if res.Error != "" {
		e.status.FailedCycles++
	} else {
		at := res.FinishedAt
		e.status.LastSuccessAt = &at
	}
	e.status.LastResult = &res
}

func (e *Engine) finish(c *cycle, res CycleResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fields := []zap.Field{
		zap.Int("new", res.New.Succeeded),
		zap.Int("changed", res.Changed.Succeeded),
		zap.Int("heartbeat", res.Heartbeat.Succeeded),
		zap.Int("failed", res.Failures()),
		zap.Duration("duration", res.Duration()),
	}
	switch {
	case res.Error != "":
		c.logger.Error("sync cycle aborted", append(fields, zap.String("error", res.Error))...)
	case res.TimedOut:
		c.logger.Warn("sync cycle exceeded max duration", fields...)
	default:
		c.logger.Info("sync cycle finished", fields...)
	}

	if _, err := e.Statistics(ctx); err != nil {
		c.logger.Warn("refresh statistics failed", zap.Error(err))
	}
	for _, n := range e.notifiers {
		if err := n.Notify(ctx, res); err != nil {
			c.logger.Warn("cycle notify failed", zap.Error(err))
		}
	}
}

func resultLabel(res CycleResult) string {
	if res.Succeeded() {
		return metrics.ResultSuccess
	}
	return metrics.ResultError
}

// cycle is the immutable context of one run.
type cycle struct {
	cfg     *config.Config
	xf      *transform.Transformer
	batchID string
	now     time.Time
	policy  syncstate.Policy
	logger  *zap.Logger
}
