package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarms "alarm-sync/internal/alarms/domain"
	"alarm-sync/internal/alarms/infrastructure/sqlsource"
	"alarm-sync/internal/config"
	syncstate "alarm-sync/internal/syncstate/domain"
	"alarm-sync/internal/syncstate/infrastructure/sqlstore"
)

const (
	minActivePageSize = 500
	maxActivePages    = 100
	trackPageSize     = 500
)

// work is one alarm scheduled for an action within a pass.
type work struct {
	alarm  alarms.Alarm
	rec    *syncstate.Record
	action syncstate.Action
}

// newPass fires unconfirmed alarms that have never been pushed, and refires
// resolved alarms that recur after the changed pass stopped tracking them.
func (e *Engine) newPass(ctx context.Context, c *cycle) (PassResult, error) {
	limit := c.cfg.Sync.BatchFor(config.PassNew)
	pageSize := limit
	if pageSize < minActivePageSize {
		pageSize = minActivePageSize
	}
	query := sqlsource.ActiveQuery{
		Filter: c.cfg.Filter(),
		Since:  c.now.Add(-c.cfg.Sync.History()),
		Limit:  pageSize,
	}
	refireSince := c.now.Add(-c.cfg.Sync.Refire())

	var items []work
	for page := 0; page < maxActivePages && len(items) < limit; page++ {
		p, err := e.source.FetchActiveAlarms(ctx, query)
		if err != nil {
			return PassResult{}, fmt.Errorf("fetch active alarms: %w", err)
		}
		ids := make([]int64, 0, len(p.Alarms))
		for _, a := range p.Alarms {
			ids = append(ids, a.Instance.ID)
		}
		recs, err := e.store.GetMany(ctx, ids)
		if err != nil {
			return PassResult{}, fmt.Errorf("load sync records: %w", err)
		}
		for _, a := range p.Alarms {
			rec := recs[a.Instance.ID]
			if !unpushed(rec) && !untrackedResolved(rec, refireSince) {
				continue
			}
			action := syncstate.Decide(rec, a.Instance.State, c.policy)
			if action == syncstate.ActionNone {
				continue
			}
			items = append(items, work{alarm: a, rec: rec, action: action})
			if len(items) == limit {
				break
			}
		}
		if p.Exhausted {
			break
		}
		query.AfterID = p.NextAfter
	}

	t := &tally{}
	t.res.Candidates = len(items)
	e.each(ctx, c, items, func(ctx context.Context, w work) {
		rec := w.rec
		if rec == nil {
			fresh := syncstate.NewPending(w.alarm.Instance.ID, w.alarm.Detail.EventID, c.now)
			err := e.store.Insert(ctx, fresh)
			switch {
			case err == nil:
				rec = fresh
			case errors.Is(err, syncstate.ErrConflict):
				t.conflict()
				rec, err = e.store.Get(ctx, w.alarm.Instance.ID)
				if err != nil || rec == nil || !unpushed(rec) {
					t.add(outcome{kind: outcomeSkipped, action: w.action})
					return
				}
			default:
				c.logger.Warn("insert sync record failed",
					zap.Int64("alarm_instance_id", w.alarm.Instance.ID), zap.Error(err))
				t.add(outcome{kind: outcomeFailed, action: w.action})
				return
			}
		}
		t.add(e.apply(ctx, c, rec, w.alarm, w.action))
	})
	return t.result(), nil
}

// changedPass applies source state changes of tracked records, including
// resolved and silenced alarms that returned to unconfirmed.
func (e *Engine) changedPass(ctx context.Context, c *cycle) (PassResult, error) {
	limit := c.cfg.Sync.BatchFor(config.PassChanged)

	recs := make(map[int64]*syncstate.Record)
	for _, status := range []syncstate.Status{
		syncstate.StatusPending,
		syncstate.StatusFiring,
		syncstate.StatusSilenced,
		syncstate.StatusError,
	} {
		if err := e.collect(ctx, status, sqlstore.ListOptions{}, recs); err != nil {
			return PassResult{}, err
		}
	}
	refireSince := c.now.Add(-c.cfg.Sync.Refire())
	if err := e.collect(ctx, syncstate.StatusResolved, sqlstore.ListOptions{UpdatedAfter: &refireSince}, recs); err != nil {
		return PassResult{}, err
	}
	if len(recs) == 0 {
		return PassResult{}, nil
	}

	tracked := make([]alarms.Tracked, 0, len(recs))
	for _, rec := range recs {
		tracked = append(tracked, rec.Tracked())
	}
	changes, err := e.source.FetchChangedAlarms(ctx, tracked)
	if err != nil {
		return PassResult{}, fmt.Errorf("fetch changed alarms: %w", err)
	}

	var items []work
	for _, ch := range changes {
		rec := recs[ch.Alarm.Instance.ID]
		if rec == nil {
			continue
		}
		action := syncstate.Decide(rec, ch.Alarm.Instance.State, c.policy)
		if action == syncstate.ActionNone {
			continue
		}
		items = append(items, work{alarm: ch.Alarm, rec: rec, action: action})
		if len(items) == limit {
			break
		}
	}

	t := &tally{}
	t.res.Candidates = len(items)
	e.each(ctx, c, items, func(ctx context.Context, w work) {
		t.add(e.apply(ctx, c, w.rec, w.alarm, w.action))
	})
	return t.result(), nil
}

// heartbeatPass re-sends firing alerts whose last push is older than the heartbeat interval.
func (e *Engine) heartbeatPass(ctx context.Context, c *cycle) (PassResult, error) {
	if !c.cfg.Sync.HeartbeatEnabled || c.cfg.Sync.HeartbeatInterval <= 0 {
		return PassResult{}, nil
	}
	interval := c.cfg.Sync.HeartbeatInterval
	cutoff := c.now.Add(-interval)
	limit := c.cfg.Sync.BatchFor(config.PassHeartbeat)
	var firing []*syncstate.Record
	// Error records parked on a rejected resolve still have a live alert upstream.
	for _, status := range []syncstate.Status{syncstate.StatusFiring, syncstate.StatusError} {
		page, err := e.store.ListByStatus(ctx, status, sqlstore.ListOptions{
			LastPushBefore: &cutoff,
			Limit:          limit - len(firing),
		})
		if err != nil {
			return PassResult{}, fmt.Errorf("list %s records: %w", status, err)
		}
		for _, rec := range page {
			if rec.BaseStatus() == syncstate.StatusFiring {
				firing = append(firing, rec)
			}
		}
		if len(firing) >= limit {
			break
		}
	}
	if len(firing) == 0 {
		return PassResult{}, nil
	}

	recs := make(map[int64]*syncstate.Record, len(firing))
	tracked := make([]alarms.Tracked, 0, len(firing))
	for _, rec := range firing {
		recs[rec.AlarmInstanceID] = rec
		tracked = append(tracked, rec.Tracked())
	}
	stale, err := e.source.FetchStaleFiring(ctx, tracked, interval, c.now)
	if err != nil {
		return PassResult{}, fmt.Errorf("fetch stale firing: %w", err)
	}

	items := make([]work, 0, len(stale))
	for _, a := range stale {
		rec := recs[a.Instance.ID]
		if rec == nil || !rec.NeedsHeartbeat(c.now, interval) {
			continue
		}
		items = append(items, work{alarm: a, rec: rec, action: syncstate.ActionHeartbeat})
	}

	t := &tally{}
	t.res.Candidates = len(items)
	e.each(ctx, c, items, func(ctx context.Context, w work) {
		t.add(e.apply(ctx, c, w.rec, w.alarm, w.action))
	})
	return t.result(), nil
}

// collect loads every record with status into recs.
func (e *Engine) collect(ctx context.Context, status syncstate.Status, opts sqlstore.ListOptions, recs map[int64]*syncstate.Record) error {
	opts.Limit = trackPageSize
	for {
		page, err := e.store.ListByStatus(ctx, status, opts)
		if err != nil {
			return fmt.Errorf("list %s records: %w", status, err)
		}
		for _, rec := range page {
			recs[rec.AlarmInstanceID] = rec
		}
		if len(page) < trackPageSize {
			return nil
		}
		opts.AfterID = page[len(page)-1].AlarmInstanceID
	}
}

// each runs fn over items on the worker pool. Items are detached from the
// cycle deadline once started; items not yet started when it expires are left
// for the next cycle.
func (e *Engine) each(ctx context.Context, c *cycle, items []work, fn func(context.Context, work)) {
	workers := c.cfg.Sync.WorkerThreads
	if workers <= 0 {
		workers = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	detached := context.WithoutCancel(ctx)
	for _, w := range items {
		if ctx.Err() != nil {
			break
		}
		w := w
		g.Go(func() error {
			fn(detached, w)
			return nil
		})
	}
	_ = g.Wait()
}

// untrackedResolved reports whether rec is resolved and was last updated
// before the changed pass refire window.
func untrackedResolved(rec *syncstate.Record, refireSince time.Time) bool {
	return rec != nil && rec.Status == syncstate.StatusResolved && rec.UpdatedAt.Before(refireSince)
}

// unpushed reports whether rec still needs its initial firing push.
func unpushed(rec *syncstate.Record) bool {
	if rec == nil {
		return true
	}
	switch rec.Status {
	case syncstate.StatusPending:
		return true
	case syncstate.StatusError:
		return rec.PushCount == 0
	default:
		return false
	}
}
