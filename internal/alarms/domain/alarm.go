package alarms

import (
	"strconv"
	"time"
)

// DefaultLevel is used when neither the instance nor the code library carries a level.
const DefaultLevel = "3"

// Instance is one alarm source condition (alarm code + resource) and its current state.
type Instance struct {
	ID                 int64
	AlarmCode          string
	ResourceInstanceID string
	ResourceType       string
	AppEnvID           string
	State              SourceState
	Level              *int
	CreatedAt          time.Time
	ResetAt            *time.Time
	ClearedAt          *time.Time
	ConfirmedAt        *time.Time
	TotalCount         int
	ClearReason        string
}

// Detail is the most recent event row of an instance.
type Detail struct {
	EventID     int64
	EventTime   *time.Time
	CreatedAt   *time.Time
	Description string
	Data        [10]string
	Recovery    bool
	TaskType    string
	TaskID      string
}

// Metadata carries left-joined reference data. Blank fields mean the reference row was missing.
type Metadata struct {
	AlarmName     string
	AlarmTypeName string
	DefaultLevel  *int
	FaultReason   string
	DealSuggest   string
	DeviceID      string
	HostName      string
	HostIP        string
	DeviceModel   string
	AppName       string
	DomainName    string
	Environment   string
}

// Alarm is an instance with its latest detail and reference metadata.
type Alarm struct {
	Instance Instance
	Detail   Detail
	Meta     Metadata
}

// EffectiveLevel returns the alarm level, else the library default, else DefaultLevel.
func (a Alarm) EffectiveLevel() string {
	if a.Instance.Level != nil {
		return strconv.Itoa(*a.Instance.Level)
	}
	if a.Meta.DefaultLevel != nil {
		return strconv.Itoa(*a.Meta.DefaultLevel)
	}
	return DefaultLevel
}

// StartedAt is the event time, else the event row creation, else the instance creation.
func (a Alarm) StartedAt() time.Time {
	if a.Detail.EventTime != nil {
		return a.Detail.EventTime.UTC()
	}
	if a.Detail.CreatedAt != nil {
		return a.Detail.CreatedAt.UTC()
	}
	return a.Instance.CreatedAt.UTC()
}

// LastSeenAt is the creation time of the latest event row, else the
// instance creation time. New-alarm horizons are measured against it.
func (a Alarm) LastSeenAt() time.Time {
	if a.Detail.CreatedAt != nil {
		return a.Detail.CreatedAt.UTC()
	}
	return a.Instance.CreatedAt.UTC()
}

// ResolvedAt returns the source timestamp that ended the alarm, if any.
func (a Alarm) ResolvedAt() *time.Time {
	var ts *time.Time
	switch a.Instance.State {
	case StateAutoRecovered:
		ts = a.Instance.ResetAt
	case StateManuallyCleared, StateConfirmed:
		ts = a.Instance.ClearedAt
		if ts == nil {
			ts = a.Instance.ConfirmedAt
		}
	}
	if ts == nil {
		return nil
	}
	utc := ts.UTC()
	return &utc
}

// Tracked is the bookkeeping view of an alarm needed to detect changes.
type Tracked struct {
	InstanceID int64
	KnownState SourceState
	LastPushAt *time.Time
}

// Change pairs the current alarm with the state last confirmed downstream.
type Change struct {
	Alarm    Alarm
	Previous SourceState
}
