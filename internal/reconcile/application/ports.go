package application

import (
	"context"
	"time"

	alarms "alarm-sync/internal/alarms/domain"
	"alarm-sync/internal/alarms/infrastructure/sqlsource"
	"alarm-sync/internal/alertmanager"
	"alarm-sync/internal/audit"
	syncstate "alarm-sync/internal/syncstate/domain"
	"alarm-sync/internal/syncstate/infrastructure/sqlstore"
)

// AlarmSource reads the alarm source of truth.
type AlarmSource interface {
	Ping(ctx context.Context) error
	FetchActiveAlarms(ctx context.Context, q sqlsource.ActiveQuery) (sqlsource.Page, error)
	FetchChangedAlarms(ctx context.Context, tracked []alarms.Tracked) ([]alarms.Change, error)
	FetchStaleFiring(ctx context.Context, firing []alarms.Tracked, interval time.Duration, now time.Time) ([]alarms.Alarm, error)
}

// RecordStore persists sync records.
type RecordStore interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, instanceID int64) (*syncstate.Record, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]*syncstate.Record, error)
	Insert(ctx context.Context, rec *syncstate.Record) error
	Upsert(ctx context.Context, rec *syncstate.Record) error
	ListByStatus(ctx context.Context, status syncstate.Status, opts sqlstore.ListOptions) ([]*syncstate.Record, error)
	Statistics(ctx context.Context) ([]sqlstore.StatusStats, error)
}

// Gateway delivers alerts and silences.
type Gateway interface {
	PushAlerts(ctx context.Context, alerts []alertmanager.Alert) (alertmanager.Result, error)
	CreateSilence(ctx context.Context, silence alertmanager.Silence) (string, alertmanager.Result, error)
	DeleteSilence(ctx context.Context, id string) (alertmanager.Result, error)
	HealthCheck(ctx context.Context) alertmanager.Health
}

// AuditLog records dispatch attempts.
type AuditLog interface {
	Append(ctx context.Context, entry audit.Entry) error
}

// Notifier receives every finished cycle.
type Notifier interface {
	Notify(ctx context.Context, result CycleResult) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
