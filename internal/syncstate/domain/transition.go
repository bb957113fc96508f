package syncstate

import alarms "alarm-sync/internal/alarms/domain"

// Action is what the engine must do to converge one alarm.
type Action string

const (
	ActionNone Action = "none"
	// ActionFire sends the first firing payload of a new alarm.
	ActionFire Action = "fire"
	// ActionRefire fires a new occurrence after a resolve or silence.
	ActionRefire Action = "refire"
	// ActionHeartbeat re-sends the unchanged firing payload.
	ActionHeartbeat Action = "heartbeat"
	// ActionResolve sends the resolved payload.
	ActionResolve Action = "resolve"
	// ActionSilence resolves the alert and then creates a silence.
	ActionSilence Action = "silence"
	// ActionUnsilence deletes the silence and marks the record resolved.
	ActionUnsilence Action = "unsilence"
	// ActionMarkResolved closes the record without any gateway call.
	ActionMarkResolved Action = "mark_resolved"
)

// Policy carries the tunables that change transition outcomes.
type Policy struct {
	UseSilenceAPI     bool
	AutoRemoveOnClear bool
}

// Decide returns the action for a record given the current source state.
// Every (status, state) pair maps to exactly one action.
func Decide(r *Record, current alarms.SourceState, p Policy) Action {
	if r == nil {
		if current.Active() {
			return ActionFire
		}
		return ActionNone
	}
	switch r.BaseStatus() {
	case StatusPending:
		return decidePending(r, current, p)
	case StatusFiring:
		return decideFiring(current, p)
	case StatusResolved:
		if current.Active() {
			return ActionRefire
		}
		return ActionNone
	case StatusSilenced:
		return decideSilenced(current, p)
	default:
		return ActionNone
	}
}

func decidePending(r *Record, current alarms.SourceState, p Policy) Action {
	switch current {
	case alarms.StateUnconfirmed:
		return ActionFire
	case alarms.StateAutoRecovered, alarms.StateConfirmed:
		if r.PushCount == 0 {
			return ActionMarkResolved
		}
		return ActionResolve
	case alarms.StateManuallyCleared:
		if r.PushCount == 0 {
			return ActionMarkResolved
		}
		return clearAction(p)
	default:
		return ActionNone
	}
}

func decideFiring(current alarms.SourceState, p Policy) Action {
	switch current {
	case alarms.StateAutoRecovered, alarms.StateConfirmed:
		return ActionResolve
	case alarms.StateManuallyCleared:
		return clearAction(p)
	default:
		return ActionNone
	}
}

func decideSilenced(current alarms.SourceState, p Policy) Action {
	switch current {
	case alarms.StateAutoRecovered, alarms.StateConfirmed:
		if p.AutoRemoveOnClear {
			return ActionUnsilence
		}
		return ActionMarkResolved
	case alarms.StateUnconfirmed:
		return ActionRefire
	default:
		return ActionNone
	}
}

func clearAction(p Policy) Action {
	if p.UseSilenceAPI {
		return ActionSilence
	}
	return ActionResolve
}

// Dispatches reports whether the action calls the gateway.
func (a Action) Dispatches() bool {
	switch a {
	case ActionNone, ActionMarkResolved:
		return false
	default:
		return true
	}
}
