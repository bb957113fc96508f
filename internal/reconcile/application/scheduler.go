package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"alarm-sync/internal/logger"
	"alarm-sync/internal/observability/metrics"
)

const defaultCleanupEvery = 24 * time.Hour

// Scheduler triggers sync cycles on the configured scan interval and runs
// the retention cleanup once a day.
type Scheduler struct {
	engine       *Engine
	cleanup      *Cleanup
	cleanupEvery time.Duration
	logger       *zap.Logger
}

// NewScheduler constructs a Scheduler. cleanup may be nil.
func NewScheduler(engine *Engine, cleanup *Cleanup, l *zap.Logger) *Scheduler {
	return &Scheduler{
		engine:       engine,
		cleanup:      cleanup,
		cleanupEvery: defaultCleanupEvery,
		logger:       logger.OrNop(l),
	}
}

// Start runs the scheduler loop until ctx is done. The scan interval is
// re-read after every cycle so reloads apply without a restart.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.engine == nil {
		return
	}
	metrics.SetServiceUp(true)
	defer metrics.SetServiceUp(false)

	if s.engine.Config().Sync.SyncOnStartup {
		s.runOnce(ctx, TriggerStartup)
	}

	timer := time.NewTimer(s.engine.Config().Sync.ScanInterval)
	defer timer.Stop()
	lastCleanup := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runOnce(ctx, TriggerScheduled)
			if s.cleanup != nil && time.Since(lastCleanup) >= s.cleanupEvery {
				if _, err := s.cleanup.Run(ctx); err != nil {
					s.logger.Warn("scheduled cleanup failed", zap.Error(err))
				}
				lastCleanup = time.Now()
			}
			timer.Reset(s.engine.Config().Sync.ScanInterval)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, trigger string) {
	_, err := s.engine.RunCycle(ctx, trigger)
	switch {
	case err == nil:
	case errors.Is(err, ErrCycleInFlight):
		s.logger.Info("skipping scheduled cycle, previous cycle still running", zap.String("trigger", trigger))
	default:
		s.logger.Warn("scheduled cycle failed", zap.String("trigger", trigger), zap.Error(err))
	}
}
