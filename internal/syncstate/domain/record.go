package syncstate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	alarms "alarm-sync/internal/alarms/domain"
	"alarm-sync/internal/faults"
)

// Status is the downstream lifecycle mirrored for one alarm instance.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusFiring   Status = "FIRING"
	StatusResolved Status = "RESOLVED"
	StatusSilenced Status = "SILENCED"
	StatusError    Status = "ERROR"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusFiring, StatusResolved, StatusSilenced, StatusError}
}

// ParseStatus validates a raw status value.
func ParseStatus(value string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(value))); s {
	case StatusPending, StatusFiring, StatusResolved, StatusSilenced, StatusError:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
}

var (
	// ErrInvalidStatus indicates a status outside the closed set.
	ErrInvalidStatus = errors.New("sync record: invalid status")
	// ErrSilenceMismatch indicates silence id presence disagreeing with status.
	ErrSilenceMismatch = errors.New("sync record: silence id must be set exactly while silenced")
	// ErrConflict indicates another writer inserted the record first.
	ErrConflict = errors.New("sync record: already exists")
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("sync record: not found")
)

// Record is the bookkeeping row for one alarm instance.
type Record struct {
	AlarmInstanceID int64
	EventID         int64
	Status          Status
	// SourceState is the source state confirmed by the last successful dispatch.
	SourceState  alarms.SourceState
	LastPushAt   *time.Time
	PushCount    int
	ErrorCount   int
	LastError    string
	ErrorKind    string
	FailedDigest string
	SilenceID    string
	Fingerprint  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewPending builds the record inserted on first observation.
func NewPending(instanceID, eventID int64, now time.Time) *Record {
	now = now.UTC()
	return &Record{
		AlarmInstanceID: instanceID,
		EventID:         eventID,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Validate checks field invariants before a write.
func (r *Record) Validate() error {
	if r == nil {
		return errors.New("sync record: nil record")
	}
	if r.AlarmInstanceID <= 0 {
		return errors.New("sync record: alarm instance id required")
	}
	if _, err := ParseStatus(string(r.Status)); err != nil {
		return err
	}
	if (r.Status == StatusSilenced) != (r.SilenceID != "") {
		return ErrSilenceMismatch
	}
	if r.PushCount < 0 || r.ErrorCount < 0 {
		return errors.New("sync record: negative counter")
	}
	return nil
}

// BaseStatus is the status transitions are decided from. Error records fall
// back to the status their confirmed fields imply.
func (r *Record) BaseStatus() Status {
	if r.Status != StatusError {
		return r.Status
	}
	if r.PushCount == 0 || r.SourceState == "" {
		return StatusPending
	}
	if r.SourceState.Active() {
		return StatusFiring
	}
	return StatusResolved
}

// KnownState is the state change detection compares against.
func (r *Record) KnownState() alarms.SourceState {
	if r.SourceState == "" {
		return alarms.StateUnconfirmed
	}
	return r.SourceState
}

// Tracked projects the record for the source adapter.
func (r *Record) Tracked() alarms.Tracked {
	return alarms.Tracked{
		InstanceID: r.AlarmInstanceID,
		KnownState: r.KnownState(),
		LastPushAt: r.LastPushAt,
	}
}

// NeedsHeartbeat reports whether a firing record's last push is older than
// interval. Error records whose confirmed state is still active count as firing.
func (r *Record) NeedsHeartbeat(now time.Time, interval time.Duration) bool {
	if r.BaseStatus() != StatusFiring {
		return false
	}
	if r.LastPushAt == nil {
		return true
	}
	return now.Sub(*r.LastPushAt) > interval
}

// Suppressed reports whether a fatal failure already rejected this exact payload.
func (r *Record) Suppressed(digest string) bool {
	return digest != "" && r.ErrorKind == string(faults.KindFatal) && r.FailedDigest == digest
}

// Clone returns a copy safe to mutate.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastPushAt != nil {
		t := *r.LastPushAt
		c.LastPushAt = &t
	}
	return &c
}
