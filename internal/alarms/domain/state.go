package alarms

import "strings"

// SourceState is the lifecycle state held by the source of truth.
type SourceState string

const (
	StateUnconfirmed     SourceState = "U"
	StateAutoRecovered   SourceState = "A"
	StateManuallyCleared SourceState = "M"
	StateConfirmed       SourceState = "C"
)

// ParseSourceState validates a raw state code.
func ParseSourceState(value string) (SourceState, error) {
	switch s := SourceState(strings.ToUpper(strings.TrimSpace(value))); s {
	case StateUnconfirmed, StateAutoRecovered, StateManuallyCleared, StateConfirmed:
		return s, nil
	default:
		return "", ErrUnknownState
	}
}

// Active reports whether the alarm is still raised upstream.
func (s SourceState) Active() bool {
	return s == StateUnconfirmed
}

// Recovered reports whether the alarm ended by auto recovery or confirmation.
func (s SourceState) Recovered() bool {
	return s == StateAutoRecovered || s == StateConfirmed
}

func (s SourceState) String() string {
	switch s {
	case StateUnconfirmed:
		return "unconfirmed"
	case StateAutoRecovered:
		return "auto_recovered"
	case StateManuallyCleared:
		return "manually_cleared"
	case StateConfirmed:
		return "confirmed"
	default:
		return "none"
	}
}
