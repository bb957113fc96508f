package syncstate

import (
	"time"

	alarms "alarm-sync/internal/alarms/domain"
	"alarm-sync/internal/faults"
)

// ErrorKindSilenceStep marks a record whose resolve succeeded but whose silence
// creation failed. Such records are always retried.
const ErrorKindSilenceStep = "silence_step"

const maxLastError = 2000

// Target is the status an action leaves a record in when it succeeds.
func (a Action) Target(current Status) Status {
	switch a {
	case ActionFire, ActionRefire, ActionHeartbeat:
		return StatusFiring
	case ActionResolve, ActionUnsilence, ActionMarkResolved:
		return StatusResolved
	case ActionSilence:
		return StatusSilenced
	default:
		return current
	}
}

// Succeeded applies a completed action. state is the source state the action
// converged to; it becomes the confirmed state only here.
func (r *Record) Succeeded(a Action, state alarms.SourceState, eventID int64, silenceID string, now time.Time) {
	now = now.UTC()
	r.Status = a.Target(r.Status)
	r.SourceState = state
	if eventID != 0 {
		r.EventID = eventID
	}
	if a.Dispatches() {
		r.LastPushAt = &now
		r.PushCount++
	}
	switch r.Status {
	case StatusSilenced:
		r.SilenceID = silenceID
	default:
		r.SilenceID = ""
	}
	r.LastError = ""
	r.ErrorKind = ""
	r.FailedDigest = ""
	r.UpdatedAt = now
}

// Failed records a failed action. Transient failures keep the status so the
// same transition runs next cycle. Fatal failures park the record in Error
// with the rejected payload digest; silenced records keep their status.
func (r *Record) Failed(err error, digest string, now time.Time) {
	now = now.UTC()
	kind := faults.KindOf(err)
	r.ErrorCount++
	r.LastError = truncate(errText(err), maxLastError)
	r.ErrorKind = string(kind)
	r.UpdatedAt = now
	if kind != faults.KindFatal {
		r.FailedDigest = ""
		return
	}
	r.FailedDigest = digest
	if r.Status != StatusSilenced {
		r.Status = StatusError
	}
}

// SilenceStepFailed records a compound silence whose resolve was delivered but
// whose silence could not be created. The confirmed state is left untouched so
// the whole transition is repeated next cycle.
func (r *Record) SilenceStepFailed(err error, now time.Time) {
	now = now.UTC()
	r.LastPushAt = &now
	r.PushCount++
	r.ErrorCount++
	r.LastError = truncate(errText(err), maxLastError)
	r.ErrorKind = ErrorKindSilenceStep
	r.FailedDigest = ""
	r.SilenceID = ""
	r.Status = StatusError
	r.UpdatedAt = now
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
