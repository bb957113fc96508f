package sqlstore

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	alarms "alarm-sync/internal/alarms/domain"
	"alarm-sync/internal/sqldb"
	syncstate "alarm-sync/internal/syncstate/domain"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func openStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.DialectSQLite, ":memory:", sqldb.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqldb.Migrate(ctx, db, sqldb.DialectSQLite))
	store, err := New(db, sqldb.DialectSQLite)
	require.NoError(t, err)
	return store, db
}

func firing(id int64, pushedAt time.Time) *syncstate.Record {
	rec := syncstate.NewPending(id, id*10, t0)
	rec.Succeeded(syncstate.ActionFire, alarms.StateUnconfirmed, id*10, "", pushedAt)
	return rec
}

func TestInsertGetRoundTrip(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	rec := firing(1, t0)
	rec.Fingerprint = "fp"
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, syncstate.StatusFiring, got.Status)
	require.Equal(t, int64(10), got.EventID)
	require.Equal(t, alarms.StateUnconfirmed, got.SourceState)
	require.Equal(t, 1, got.PushCount)
	require.Equal(t, "fp", got.Fingerprint)
	require.NotNil(t, got.LastPushAt)
	require.True(t, t0.Equal(*got.LastPushAt))
	require.True(t, t0.Equal(got.CreatedAt))

	missing, err := store.Get(ctx, 2)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestInsertConflict(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, syncstate.NewPending(1, 10, t0)))
	err := store.Insert(ctx, syncstate.NewPending(1, 10, t0))
	require.ErrorIs(t, err, syncstate.ErrConflict)
}

func TestInsertRejectsInvalidRecord(t *testing.T) {
	store, _ := openStore(t)
	rec := syncstate.NewPending(1, 10, t0)
	rec.Status = syncstate.StatusSilenced
	require.ErrorIs(t, store.Insert(context.Background(), rec), syncstate.ErrSilenceMismatch)
}

func TestUpdateAndUpsert(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	rec := firing(1, t0)
	require.ErrorIs(t, store.Update(ctx, rec), syncstate.ErrNotFound)

	require.NoError(t, store.Upsert(ctx, rec))
	rec.Succeeded(syncstate.ActionSilence, alarms.StateManuallyCleared, 0, "s1", t0.Add(time.Minute))
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, syncstate.StatusSilenced, got.Status)
	require.Equal(t, "s1", got.SilenceID)
	require.Equal(t, alarms.StateManuallyCleared, got.SourceState)
	require.Equal(t, 2, got.PushCount)
}

func TestGetMany(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	for id := int64(1); id <= 3; id++ {
		require.NoError(t, store.Insert(ctx, firing(id, t0)))
	}
	got, err := store.GetMany(ctx, []int64{1, 3, 4})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Contains(t, got, int64(1))
	require.Contains(t, got, int64(3))

	empty, err := store.GetMany(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestListByStatusFilters(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, firing(1, t0.Add(-10*time.Minute))))
	require.NoError(t, store.Insert(ctx, firing(2, t0.Add(-30*time.Second))))
	require.NoError(t, store.Insert(ctx, firing(3, t0.Add(-20*time.Minute))))
	require.NoError(t, store.Insert(ctx, syncstate.NewPending(4, 40, t0)))

	all, err := store.ListByStatus(ctx, syncstate.StatusFiring, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	cutoff := t0.Add(-2 * time.Minute)
	stale, err := store.ListByStatus(ctx, syncstate.StatusFiring, ListOptions{LastPushBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, stale, 2)
	require.Equal(t, int64(1), stale[0].AlarmInstanceID)
	require.Equal(t, int64(3), stale[1].AlarmInstanceID)

	page, err := store.ListByStatus(ctx, syncstate.StatusFiring, ListOptions{AfterID: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, int64(2), page[0].AlarmInstanceID)

	recent := t0.Add(-5 * time.Minute)
	updated, err := store.ListByStatus(ctx, syncstate.StatusFiring, ListOptions{UpdatedAfter: &recent})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	require.Equal(t, int64(2), updated[0].AlarmInstanceID)
}

func TestStatistics(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, firing(1, t0)))
	rec := firing(2, t0)
	rec.ErrorCount = 2
	require.NoError(t, store.Insert(ctx, rec))
	require.NoError(t, store.Insert(ctx, syncstate.NewPending(3, 30, t0)))

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byStatus := map[syncstate.Status]StatusStats{}
	for _, s := range stats {
		byStatus[s.Status] = s
	}
	f := byStatus[syncstate.StatusFiring]
	require.Equal(t, int64(2), f.Count)
	require.Equal(t, int64(2), f.TotalPushes)
	require.Equal(t, int64(2), f.TotalErrors)
	require.Equal(t, int64(1), f.AlarmsWithErrors)
	require.NotNil(t, f.EarliestCreated)
	require.True(t, t0.Equal(*f.EarliestCreated))
	require.Equal(t, int64(1), byStatus[syncstate.StatusPending].Count)
}

func TestSweepResolved(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	old := firing(1, t0)
	old.Succeeded(syncstate.ActionResolve, alarms.StateAutoRecovered, 0, "", t0.Add(-10*24*time.Hour))
	require.NoError(t, store.Insert(ctx, old))

	fresh := firing(2, t0)
	fresh.Succeeded(syncstate.ActionResolve, alarms.StateAutoRecovered, 0, "", t0)
	require.NoError(t, store.Insert(ctx, fresh))

	stillFiring := firing(3, t0.Add(-10*24*time.Hour))
	require.NoError(t, store.Insert(ctx, stillFiring))

	n, err := store.SweepResolved(ctx, t0.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	gone, err := store.Get(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, gone)
	kept, err := store.Get(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, kept)
}

func TestPostgresUpsert(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.DialectPgx, dsn, sqldb.PoolOptions{})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, sqldb.Migrate(ctx, db, sqldb.DialectPgx))

	store, err := New(db, sqldb.DialectPgx)
	require.NoError(t, err)
	id := time.Now().UnixNano()
	_, _ = db.ExecContext(ctx, `DELETE FROM alarm_sync_status WHERE alarm_instance_id = $1`, id)

	require.NoError(t, store.Upsert(ctx, syncstate.NewPending(id, 1, t0)))
	require.ErrorIs(t, store.Insert(ctx, syncstate.NewPending(id, 1, t0)), syncstate.ErrConflict)
	_, _ = db.ExecContext(ctx, `DELETE FROM alarm_sync_status WHERE alarm_instance_id = $1`, id)
}

func TestCountByStatus(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, firing(1, t0)))
	require.NoError(t, store.Insert(ctx, firing(2, t0)))
	parked := syncstate.NewPending(3, 30, t0)
	parked.Status = syncstate.StatusError
	require.NoError(t, store.Insert(ctx, parked))

	n, err := store.CountByStatus(ctx, syncstate.StatusFiring)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = store.CountByStatus(ctx, syncstate.StatusError)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = store.CountByStatus(ctx, syncstate.StatusSilenced)
	require.NoError(t, err)
	require.Zero(t, n)
}
