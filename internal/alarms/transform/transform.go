// Package transform maps source alarms onto Alertmanager alerts and silences.
// It performs no I/O; identical inputs yield byte-identical encodings.
package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	alarms "alarm-sync/internal/alarms/domain"
	"alarm-sync/internal/alertmanager"
)

const (
	maxLabelLen = 256

	DefaultCreatedBy       = "zmc-alarm-exporter"
	DefaultCommentTemplate = "Silenced by ZMC at {time}. Operator: {operator}"
	DefaultSilenceDuration = 24 * time.Hour
	commentTimeLayout      = "2006-01-02 15:04:05"
)

// Options configures a Transformer.
type Options struct {
	Severity        alarms.SeverityMap
	StaticLabels    map[string]string
	CreatedBy       string
	CommentTemplate string
	SilenceDuration time.Duration
}

// Transformer builds gateway payloads.
type Transformer struct {
	severity        alarms.SeverityMap
	static          map[string]string
	createdBy       string
	commentTemplate string
	silenceDuration time.Duration
}

// New constructs a Transformer, filling unset options with defaults.
func New(opts Options) *Transformer {
	t := &Transformer{
		severity:        opts.Severity,
		static:          make(map[string]string, len(opts.StaticLabels)),
		createdBy:       opts.CreatedBy,
		commentTemplate: opts.CommentTemplate,
		silenceDuration: opts.SilenceDuration,
	}
	if len(t.severity) == 0 {
		t.severity = alarms.DefaultSeverityMap()
	}
	for k, v := range opts.StaticLabels {
		if strings.TrimSpace(v) == "" {
			continue
		}
		t.static[k] = sanitize(v)
	}
	if t.createdBy == "" {
		t.createdBy = DefaultCreatedBy
	}
	if t.commentTemplate == "" {
		t.commentTemplate = DefaultCommentTemplate
	}
	if t.silenceDuration <= 0 {
		t.silenceDuration = DefaultSilenceDuration
	}
	return t
}

// EventKey is the occurrence identifier carried in the event_id label.
// Alarms without a detail row fall back to the instance id.
func EventKey(a alarms.Alarm) string {
	if a.Detail.EventID != 0 {
		return strconv.FormatInt(a.Detail.EventID, 10)
	}
	return strconv.FormatInt(a.Instance.ID, 10)
}

// Firing builds the active payload. eventID overrides EventKey when set.
func (t *Transformer) Firing(a alarms.Alarm, eventID string) alertmanager.Alert {
	return alertmanager.Alert{
		Labels:      t.labels(a, eventID),
		Annotations: annotations(a),
		StartsAt:    a.StartedAt().Format(alertmanager.TimeLayout),
	}
}

// Resolved builds the closing payload. The end time is the source recovery
// timestamp, else now.
func (t *Transformer) Resolved(a alarms.Alarm, eventID string, now time.Time) alertmanager.Alert {
	alert := t.Firing(a, eventID)
	end := now.UTC()
	if ts := a.ResolvedAt(); ts != nil {
		end = *ts
	}
	alert.EndsAt = end.Format(alertmanager.TimeLayout)
	return alert
}

// Silence builds a suppression rule scoped to one event occurrence.
func (t *Transformer) Silence(a alarms.Alarm, eventID string, now time.Time) alertmanager.Silence {
	if eventID == "" {
		eventID = EventKey(a)
	}
	start := now.UTC()
	comment := strings.NewReplacer(
		"{time}", start.Format(commentTimeLayout),
		"{operator}", t.createdBy,
		"{alarm_code}", a.Instance.AlarmCode,
		"{event_id}", eventID,
	).Replace(t.commentTemplate)
	return alertmanager.Silence{
		Matchers: []alertmanager.Matcher{{
			Name:    "event_id",
			Value:   eventID,
			IsRegex: false,
			IsEqual: true,
		}},
		StartsAt:  start.Format(alertmanager.TimeLayout),
		EndsAt:    start.Add(t.silenceDuration).Format(alertmanager.TimeLayout),
		CreatedBy: t.createdBy,
		Comment:   comment,
	}
}

// Severity returns the mapped severity of a.
func (t *Transformer) Severity(a alarms.Alarm) string {
	return t.severity.Severity(a.EffectiveLevel())
}

func (t *Transformer) labels(a alarms.Alarm, eventID string) map[string]string {
	if eventID == "" {
		eventID = EventKey(a)
	}
	m := a.Meta
	resourceType := a.Instance.ResourceType
	if resourceType == "" {
		resourceType = "UNKNOWN"
	}
	labels := map[string]string{
		"alertname":     sanitize(alertName(a)),
		"instance":      sanitize(instanceName(a)),
		"severity":      t.Severity(a),
		"event_id":      eventID,
		"alarm_code":    a.Instance.AlarmCode,
		"resource_type": sanitize(resourceType),
	}
	if m.HostName != "" && m.HostName != m.HostIP {
		labels["host"] = sanitize(m.HostName)
	}
	if m.AppName != "" {
		labels["application"] = sanitize(m.AppName)
	}
	if m.DomainName != "" {
		labels["domain"] = sanitize(m.DomainName)
	}
	if m.Environment != "" {
		labels["env"] = sanitize(strings.ToLower(m.Environment))
	}
	if a.Detail.TaskType != "" {
		labels["task_type"] = sanitize(a.Detail.TaskType)
	}
	for k, v := range t.static {
		labels[k] = v
	}
	return labels
}

func alertName(a alarms.Alarm) string {
	if a.Meta.AlarmName != "" {
		return a.Meta.AlarmName
	}
	return "ZMC_ALARM_" + a.Instance.AlarmCode
}

func instanceName(a alarms.Alarm) string {
	host, ip := a.Meta.HostName, a.Meta.HostIP
	switch {
	case host != "" && ip != "":
		return host + "@" + ip
	case ip != "":
		return ip
	case host != "":
		return host
	case a.Meta.DeviceID != "":
		return "device_" + a.Meta.DeviceID
	default:
		return "device_unknown"
	}
}

func annotations(a alarms.Alarm) map[string]string {
	m := a.Meta
	summary := m.AlarmName
	if summary == "" {
		summary = "ZMC Alert " + a.Instance.AlarmCode
	}
	out := map[string]string{"summary": summary}

	var parts []string
	if a.Detail.Description != "" {
		parts = append(parts, a.Detail.Description)
	}
	if m.HostName != "" {
		parts = append(parts, "Host: "+m.HostName)
	}
	if m.HostIP != "" {
		parts = append(parts, "IP: "+m.HostIP)
	}
	if m.AppName != "" {
		parts = append(parts, "Application: "+m.AppName)
	}
	if m.DomainName != "" {
		parts = append(parts, "Domain: "+m.DomainName)
	}
	if len(parts) > 0 {
		out["description"] = strings.Join(parts, " | ")
	} else {
		out["description"] = summary
	}

	if m.FaultReason != "" {
		out["fault_reason"] = m.FaultReason
	}
	if m.DealSuggest != "" {
		out["runbook"] = m.DealSuggest
	}
	if m.AlarmTypeName != "" {
		out["alarm_type"] = m.AlarmTypeName
	}
	for i, v := range a.Detail.Data {
		if v != "" {
			out[fmt.Sprintf("data_%d", i+1)] = v
		}
	}
	return out
}

// sanitize makes a label value safe: no line breaks or double quotes, never
// empty, at most 256 bytes.
func sanitize(v string) string {
	if v == "" {
		return "unknown"
	}
	v = strings.NewReplacer("\r", " ", "\n", " ", `"`, "'").Replace(v)
	if len(v) > maxLabelLen {
		cut := maxLabelLen - 3
		for cut > 0 && !utf8.RuneStart(v[cut]) {
			cut--
		}
		v = v[:cut] + "..."
	}
	return v
}

// Encode renders alerts as canonical JSON. Map keys are emitted sorted.
func Encode(alerts []alertmanager.Alert) ([]byte, error) {
	return json.Marshal(alerts)
}

// Digest is the hex sha256 of Encode(alerts).
func Digest(alerts []alertmanager.Alert) (string, error) {
	data, err := Encode(alerts)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
