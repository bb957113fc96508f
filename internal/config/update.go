package config

import (
	"fmt"
	"time"
)

// Update carries the tunables that may change at runtime. Nil fields are left as is.
type Update struct {
	ScanInterval       *Duration `json:"scan_interval,omitempty"`
	BatchSize          *int      `json:"batch_size,omitempty"`
	NewBatchSize       *int      `json:"new_batch_size,omitempty"`
	ChangedBatchSize   *int      `json:"changed_batch_size,omitempty"`
	HeartbeatBatchSize *int      `json:"heartbeat_batch_size,omitempty"`
	AlarmLevels        *string   `json:"alarm_levels,omitempty"`
	SeverityFilter     *string   `json:"severity_filter,omitempty"`
	HeartbeatEnabled   *bool     `json:"heartbeat_enabled,omitempty"`
	HeartbeatInterval  *Duration `json:"heartbeat_interval,omitempty"`
	SilenceDuration    *Duration `json:"silence_duration,omitempty"`
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return u.ScanInterval == nil && u.BatchSize == nil && u.NewBatchSize == nil &&
		u.ChangedBatchSize == nil && u.HeartbeatBatchSize == nil && u.AlarmLevels == nil &&
		u.SeverityFilter == nil && u.HeartbeatEnabled == nil && u.HeartbeatInterval == nil &&
		u.SilenceDuration == nil
}

// Apply returns a copy of c with u applied. The copy is validated; c is never modified.
func (c *Config) Apply(u Update) (*Config, []string, error) {
	next := c.Clone()
	if u.ScanInterval != nil {
		next.Sync.ScanInterval = time.Duration(*u.ScanInterval)
	}
	if u.BatchSize != nil {
		next.Sync.BatchSize = *u.BatchSize
	}
	if u.NewBatchSize != nil {
		next.Sync.NewBatchSize = *u.NewBatchSize
	}
	if u.ChangedBatchSize != nil {
		next.Sync.ChangedBatchSize = *u.ChangedBatchSize
	}
	if u.HeartbeatBatchSize != nil {
		next.Sync.HeartbeatBatchSize = *u.HeartbeatBatchSize
	}
	if u.AlarmLevels != nil {
		next.Sync.AlarmLevels = *u.AlarmLevels
	}
	if u.SeverityFilter != nil {
		next.Sync.SeverityFilter = *u.SeverityFilter
	}
	if u.HeartbeatEnabled != nil {
		next.Sync.HeartbeatEnabled = *u.HeartbeatEnabled
	}
	if u.HeartbeatInterval != nil {
		next.Sync.HeartbeatInterval = time.Duration(*u.HeartbeatInterval)
	}
	if u.SilenceDuration != nil {
		next.Silence.DefaultDuration = time.Duration(*u.SilenceDuration)
	}
	warnings, err := next.Validate()
	if err != nil {
		return nil, warnings, fmt.Errorf("invalid update: %w", err)
	}
	return next, warnings, nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	next := *c
	next.Severity = make(map[string]string, len(c.Severity))
	for k, v := range c.Severity {
		next.Severity[k] = v
	}
	return &next
}
