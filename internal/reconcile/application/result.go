package application

import (
	"sync"
	"time"

	"alarm-sync/internal/syncstate/infrastructure/sqlstore"
)

// Triggers recorded on a cycle.
const (
	TriggerScheduled = "scheduled"
	TriggerStartup   = "startup"
	TriggerManual    = "manual"
	TriggerBus       = "nats"
	TriggerCLI       = "cli"
)

// PassResult counts the work of one pass.
type PassResult struct {
	Candidates int            `json:"candidates"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Conflicts  int            `json:"conflicts"`
	Actions    map[string]int `json:"actions,omitempty"`
	Duration   time.Duration  `json:"duration_ns"`
}

// CycleResult summarizes one reconciliation cycle.
type CycleResult struct {
	BatchID    string     `json:"batch_id"`
	Trigger    string     `json:"trigger"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	New        PassResult `json:"new"`
	Changed    PassResult `json:"changed"`
	Heartbeat  PassResult `json:"heartbeat"`
	TimedOut   bool       `json:"timed_out,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Duration is the wall time of the cycle.
func (r CycleResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failures is the number of alarms whose reconciliation failed.
func (r CycleResult) Failures() int {
	return r.New.Failed + r.Changed.Failed + r.Heartbeat.Failed
}

// Succeeded reports a cycle that ran to completion without per-alarm failures.
func (r CycleResult) Succeeded() bool {
	return r.Error == "" && !r.TimedOut && r.Failures() == 0
}

// Status is the engine's runtime view.
type Status struct {
	Running       bool         `json:"running"`
	StartedAt     time.Time    `json:"started_at"`
	Cycles        int64        `json:"cycles"`
	FailedCycles  int64        `json:"failed_cycles"`
	LastResult    *CycleResult `json:"last_result,omitempty"`
	LastSuccessAt *time.Time   `json:"last_success_at,omitempty"`
}

// Statistics aggregates the bookkeeping table.
type Statistics struct {
	ByStatus []sqlstore.StatusStats `json:"by_status"`
	Total    int64                  `json:"total"`
	Errors   int64                  `json:"alarms_with_errors"`
}

type tally struct {
	mu  sync.Mutex
	res PassResult
}

func (t *tally) add(o outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch o.kind {
	case outcomeApplied:
		t.res.Succeeded++
		if t.res.Actions == nil {
			t.res.Actions = make(map[string]int)
		}
		t.res.Actions[string(o.action)]++
	case outcomeFailed:
		t.res.Failed++
	case outcomeSkipped:
		t.res.Skipped++
	}
}

func (t *tally) conflict() {
	t.mu.Lock()
	t.res.Conflicts++
	t.mu.Unlock()
}

func (t *tally) result() PassResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.res
}
