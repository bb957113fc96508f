package application

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	alarms "alarm-sync/internal/alarms/domain"
	"alarm-sync/internal/config"
	syncstate "alarm-sync/internal/syncstate/domain"
	"alarm-sync/internal/syncstate/infrastructure/sqlstore"
)

func TestResolvedAlarmRecurringAfterRefireWindowRefires(t *testing.T) {
	h := newHarness(t, nil)
	h.source.put(activeAlarm(1, 100, 1))
	h.cycle(t)

	h.clock.Advance(time.Minute)
	h.source.setState(1, alarms.StateAutoRecovered, h.clock.Now())
	h.cycle(t)
	require.Equal(t, syncstate.StatusResolved, h.record(t, 1).Status)

	h.clock.Advance(25 * time.Hour)
	h.source.recur(1, 101, h.clock.Now())
	res := h.cycle(t)
	require.Equal(t, 1, res.New.Actions["refire"])
	require.Zero(t, res.Changed.Candidates)

	rec := h.record(t, 1)
	require.Equal(t, syncstate.StatusFiring, rec.Status)
	require.Equal(t, int64(101), rec.EventID)
	require.Equal(t, 3, rec.PushCount)
	require.Equal(t, "101", h.am.lastPush().Labels["event_id"])
	require.Empty(t, h.am.lastPush().EndsAt)
	require.Equal(t, []string{"fire", "resolve", "refire"}, h.operations(t, 1))

	h.clock.Advance(time.Minute)
	res = h.cycle(t)
	require.Zero(t, res.New.Candidates)
	require.Len(t, h.am.pushed(), 3)
}

func TestErrorRecordWithActiveSourceKeepsHeartbeat(t *testing.T) {
	h := newHarness(t, nil)
	h.source.put(activeAlarm(1, 100, 1))
	h.cycle(t)

	h.clock.Advance(time.Minute)
	h.source.setState(1, alarms.StateAutoRecovered, h.clock.Now())
	h.am.failPushes(http.StatusBadRequest)
	res := h.cycle(t)
	require.Equal(t, 1, res.Changed.Failed)
	rec := h.record(t, 1)
	require.Equal(t, syncstate.StatusError, rec.Status)
	require.Equal(t, alarms.StateUnconfirmed, rec.SourceState)

	h.source.setState(1, alarms.StateUnconfirmed, h.clock.Now())
	for i := 0; i < 5; i++ {
		h.clock.Advance(10 * time.Minute)
		res = h.cycle(t)
		require.Equal(t, 1, res.Heartbeat.Succeeded, "cycle %d", i)
	}

	rec = h.record(t, 1)
	require.Equal(t, syncstate.StatusFiring, rec.Status)
	require.Empty(t, rec.ErrorKind)
	require.Empty(t, rec.FailedDigest)
	require.True(t, rec.LastPushAt.Equal(h.clock.Now()))
	require.Len(t, h.am.pushed(), 6)
	require.Empty(t, h.am.lastPush().EndsAt)
}

func TestSilencedAlarmRefiresWithNewEvent(t *testing.T) {
	h := newHarness(t, nil)
	h.source.put(activeAlarm(1, 100, 1))
	h.cycle(t)

	h.clock.Advance(time.Minute)
	h.source.setState(1, alarms.StateManuallyCleared, h.clock.Now())
	h.cycle(t)
	require.Equal(t, syncstate.StatusSilenced, h.record(t, 1).Status)

	h.clock.Advance(time.Minute)
	h.source.recur(1, 200, h.clock.Now())
	res := h.cycle(t)
	require.Equal(t, 1, res.Changed.Actions["refire"])

	rec := h.record(t, 1)
	require.Equal(t, syncstate.StatusFiring, rec.Status)
	require.Equal(t, int64(200), rec.EventID)
	require.Empty(t, rec.SilenceID)
	alert := h.am.lastPush()
	require.Equal(t, "200", alert.Labels["event_id"])
	require.Empty(t, alert.EndsAt)
}

func TestCycleLeavesUnstartedWorkAtMaxDuration(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Sync.WorkerThreads = 1
		c.Sync.MaxCycleDuration = 50 * time.Millisecond
	})
	h.am.block = make(chan struct{})
	for id := int64(1); id <= 3; id++ {
		h.source.put(activeAlarm(id, id*100, 1))
	}

	type outcome struct {
		res CycleResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.engine.RunCycle(context.Background(), TriggerScheduled)
		done <- outcome{res, err}
	}()
	time.Sleep(150 * time.Millisecond)
	close(h.am.block)
	out := <-done

	require.NoError(t, out.err)
	require.True(t, out.res.TimedOut)
	require.Equal(t, 3, out.res.New.Candidates)
	require.Equal(t, 2, out.res.New.Succeeded)
	require.Zero(t, out.res.Changed.Candidates)
	missing, err := h.store.Get(context.Background(), 3)
	require.NoError(t, err)
	require.Nil(t, missing)

	res := h.cycle(t)
	require.False(t, res.TimedOut)
	require.Equal(t, 1, res.New.Succeeded)
	require.Equal(t, syncstate.StatusFiring, h.record(t, 3).Status)
	require.Len(t, h.am.pushed(), 3)
}

// racingStore inserts a pending record for every looked-up id right after
// the lookup, as a concurrent replica would.
type racingStore struct {
	*sqlstore.Store
	once sync.Once
	now  time.Time
}

func (s *racingStore) GetMany(ctx context.Context, ids []int64) (map[int64]*syncstate.Record, error) {
	recs, err := s.Store.GetMany(ctx, ids)
	s.once.Do(func() {
		for _, id := range ids {
			_ = s.Store.Insert(ctx, syncstate.NewPending(id, 0, s.now))
		}
	})
	return recs, err
}

func TestNewPassRecoversFromInsertConflict(t *testing.T) {
	h := newHarness(t, nil)
	h.source.put(activeAlarm(1, 100, 1))

	store := &racingStore{Store: h.store, now: h.clock.Now()}
	engine, err := NewEngine(h.engine.Config(), h.source, store, h.client, h.audit, WithClock(h.clock))
	require.NoError(t, err)

	res, err := engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, res.New.Conflicts)
	require.Equal(t, 1, res.New.Actions["fire"])

	rec := h.record(t, 1)
	require.Equal(t, syncstate.StatusFiring, rec.Status)
	require.Equal(t, int64(100), rec.EventID)
	require.Equal(t, 1, rec.PushCount)
	require.Len(t, h.am.pushed(), 1)
}
