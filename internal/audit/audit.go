package audit

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Operations recorded in the sync log.
const (
	OperationFire         = "fire"
	OperationRefire       = "refire"
	OperationHeartbeat    = "heartbeat"
	OperationResolve      = "resolve"
	OperationSilence      = "silence"
	OperationUnsilence    = "unsilence"
	OperationMarkResolved = "mark_resolved"
	OperationCleanup      = "cleanup"
)

const (
	maxBodyLen  = 4000
	maxErrorLen = 2000
)

// Entry is one dispatch attempt against the gateway.
type Entry struct {
	ID              string    `json:"id"`
	BatchID         string    `json:"batch_id"`
	AlarmInstanceID int64     `json:"alarm_instance_id,omitempty"`
	EventID         int64     `json:"event_id,omitempty"`
	Operation       string    `json:"operation"`
	OldStatus       string    `json:"old_status,omitempty"`
	NewStatus       string    `json:"new_status,omitempty"`
	RequestMethod   string    `json:"request_method,omitempty"`
	RequestURL      string    `json:"request_url,omitempty"`
	RequestPayload  string    `json:"request_payload,omitempty"`
	ResponseCode    int       `json:"response_code,omitempty"`
	ResponseBody    string    `json:"response_body,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	DurationMS      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// Succeeded reports whether the attempt completed without error.
func (e Entry) Succeeded() bool {
	return e.ErrorMessage == ""
}

// Logger writes audit entries.
type Logger interface {
	Append(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return "audit-" + hex.EncodeToString(buf)
}

// DigestJSON computes a SHA256 hex digest for request payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (e *Entry) normalize() {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.RequestPayload = truncate(e.RequestPayload, maxBodyLen)
	e.ResponseBody = truncate(e.ResponseBody, maxBodyLen)
	e.ErrorMessage = truncate(e.ErrorMessage, maxErrorLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
