package application

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	alarms "alarm-sync/internal/alarms/domain"
	"alarm-sync/internal/alarms/transform"
	"alarm-sync/internal/alertmanager"
	"alarm-sync/internal/audit"
	"alarm-sync/internal/faults"
	"alarm-sync/internal/observability/metrics"
	syncstate "alarm-sync/internal/syncstate/domain"
)

type outcomeKind int

const (
	outcomeApplied outcomeKind = iota
	outcomeFailed
	outcomeSkipped
)

type outcome struct {
	kind   outcomeKind
	action syncstate.Action
}

// apply performs action for one alarm and persists the outcome. rec is
// owned by the caller's work item and is modified in place.
func (e *Engine) apply(ctx context.Context, c *cycle, rec *syncstate.Record, a alarms.Alarm, action syncstate.Action) outcome {
	start := time.Now()
	before := rec.Status
	log := c.logger.With(
		zap.Int64("alarm_instance_id", a.Instance.ID),
		zap.Int64("event_id", rec.EventID),
		zap.String("action", string(action)),
	)

	var (
		err     error
		skipped bool
	)
	switch action {
	case syncstate.ActionFire, syncstate.ActionRefire, syncstate.ActionHeartbeat:
		skipped, err = e.push(ctx, c, rec, a, action, c.xf.Firing(a, firingKey(rec, a, action)))
	case syncstate.ActionResolve:
		skipped, err = e.push(ctx, c, rec, a, action, c.xf.Resolved(a, storedKey(rec), c.now))
	case syncstate.ActionSilence:
		skipped, err = e.silence(ctx, c, rec, a)
	case syncstate.ActionUnsilence:
		skipped, err = e.unsilence(ctx, c, rec, a)
	case syncstate.ActionMarkResolved:
		rec.Succeeded(action, a.Instance.State, 0, "", c.now)
		e.appendAudit(c, rec, action, before, nil, alertmanager.Result{}, nil)
	default:
		return outcome{kind: outcomeSkipped, action: action}
	}

	if skipped {
		log.Debug("payload previously rejected, skipping")
		return outcome{kind: outcomeSkipped, action: action}
	}
	if perr := e.store.Upsert(ctx, rec); perr != nil {
		log.Error("persist sync record failed", zap.Duration("duration", time.Since(start)), zap.Error(perr))
		metrics.IncError("store", string(faults.KindOf(perr)))
		return outcome{kind: outcomeFailed, action: action}
	}
	if err != nil {
		log.Warn("dispatch failed",
			zap.Duration("duration", time.Since(start)),
			zap.String("sync_status", string(rec.Status)),
			zap.Error(err),
		)
		metrics.IncError("engine", string(faults.KindOf(err)))
		return outcome{kind: outcomeFailed, action: action}
	}
	log.Info("dispatched",
		zap.Duration("duration", time.Since(start)),
		zap.String("old_status", string(before)),
		zap.String("new_status", string(rec.Status)),
	)
	metrics.IncAlarmProcessed(string(action))
	return outcome{kind: outcomeApplied, action: action}
}

// push sends a single-alert batch and applies the result to rec.
func (e *Engine) push(ctx context.Context, c *cycle, rec *syncstate.Record, a alarms.Alarm, action syncstate.Action, alert alertmanager.Alert) (bool, error) {
	batch := []alertmanager.Alert{alert}
	payload, digest := encode(batch)
	if rec.Suppressed(digest) {
		return true, nil
	}
	before := rec.Status
	res, err := e.gateway.PushAlerts(ctx, batch)
	if err != nil {
		rec.Failed(err, digest, c.now)
	} else {
		var eventID int64
		if action != syncstate.ActionHeartbeat {
			eventID = a.Detail.EventID
		}
		rec.Succeeded(action, a.Instance.State, eventID, "", c.now)
	}
	e.appendAudit(c, rec, action, before, payload, res, err)
	return false, err
}

// silence resolves the alert and then layers a silence on its event id.
// A failure of the second step leaves the record in the silence-step error state.
func (e *Engine) silence(ctx context.Context, c *cycle, rec *syncstate.Record, a alarms.Alarm) (bool, error) {
	key := storedKey(rec)
	batch := []alertmanager.Alert{c.xf.Resolved(a, key, c.now)}
	payload, digest := encode(batch)
	if rec.Suppressed(digest) {
		return true, nil
	}
	before := rec.Status
	res, err := e.gateway.PushAlerts(ctx, batch)
	if err != nil {
		rec.Failed(err, digest, c.now)
		e.appendAudit(c, rec, syncstate.ActionSilence, before, payload, res, err)
		return false, err
	}
	e.appendAudit(c, rec, syncstate.ActionResolve, before, payload, res, nil)

	spec := c.xf.Silence(a, key, c.now)
	specPayload, _ := json.Marshal(spec)
	id, res, err := e.gateway.CreateSilence(ctx, spec)
	if err != nil {
		rec.SilenceStepFailed(err, c.now)
	} else {
		rec.Succeeded(syncstate.ActionSilence, a.Instance.State, 0, id, c.now)
	}
	e.appendAudit(c, rec, syncstate.ActionSilence, before, specPayload, res, err)
	return false, err
}

// unsilence removes the silence of a cleared alarm that recovered or was confirmed.
func (e *Engine) unsilence(ctx context.Context, c *cycle, rec *syncstate.Record, a alarms.Alarm) (bool, error) {
	digest := audit.DigestJSON([]byte("silence:" + rec.SilenceID))
	if rec.Suppressed(digest) {
		return true, nil
	}
	before := rec.Status
	res, err := e.gateway.DeleteSilence(ctx, rec.SilenceID)
	if err != nil {
		rec.Failed(err, digest, c.now)
	} else {
		rec.Succeeded(syncstate.ActionUnsilence, a.Instance.State, 0, "", c.now)
	}
	e.appendAudit(c, rec, syncstate.ActionUnsilence, before, nil, res, err)
	return false, err
}

func (e *Engine) appendAudit(c *cycle, rec *syncstate.Record, action syncstate.Action, before syncstate.Status, payload []byte, res alertmanager.Result, err error) {
	entry := audit.Entry{
		BatchID:         c.batchID,
		AlarmInstanceID: rec.AlarmInstanceID,
		EventID:         rec.EventID,
		Operation:       string(action),
		OldStatus:       string(before),
		NewStatus:       string(rec.Status),
		RequestMethod:   res.Method,
		RequestURL:      res.URL,
		RequestPayload:  string(payload),
		ResponseCode:    res.StatusCode,
		ResponseBody:    res.Body,
		DurationMS:      res.Duration.Milliseconds(),
		CreatedAt:       e.clock.Now(),
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}
	// The audit row must land even when the cycle deadline has passed.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if aerr := e.audit.Append(ctx, entry); aerr != nil {
		c.logger.Warn("append audit log failed", zap.Int64("alarm_instance_id", rec.AlarmInstanceID), zap.Error(aerr))
		metrics.IncError("audit", "write")
	}
}

// storedKey is the event id the alert was fired with.
func storedKey(rec *syncstate.Record) string {
	if rec.EventID != 0 {
		return strconv.FormatInt(rec.EventID, 10)
	}
	return strconv.FormatInt(rec.AlarmInstanceID, 10)
}

// firingKey keeps heartbeats on the stored event and moves fires to the latest one.
func firingKey(rec *syncstate.Record, a alarms.Alarm, action syncstate.Action) string {
	if action == syncstate.ActionHeartbeat {
		return storedKey(rec)
	}
	return transform.EventKey(a)
}

func encode(batch []alertmanager.Alert) ([]byte, string) {
	payload, err := transform.Encode(batch)
	if err != nil {
		return nil, ""
	}
	return payload, audit.DigestJSON(payload)
}
