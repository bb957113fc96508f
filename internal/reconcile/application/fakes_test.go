package application

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	alarms "alarm-sync/internal/alarms/domain"
	"alarm-sync/internal/alarms/infrastructure/sqlsource"
	"alarm-sync/internal/alertmanager"
	"alarm-sync/internal/audit"
	"alarm-sync/internal/config"
	"alarm-sync/internal/sqldb"
	"alarm-sync/internal/syncstate/infrastructure/sqlstore"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSource is an in-memory alarm table.
type fakeSource struct {
	mu     sync.Mutex
	alarms map[int64]alarms.Alarm
	err    error
}

func newFakeSource() *fakeSource {
	return &fakeSource{alarms: make(map[int64]alarms.Alarm)}
}

func (f *fakeSource) put(a alarms.Alarm) {
	f.mu.Lock()
	f.alarms[a.Instance.ID] = a
	f.mu.Unlock()
}

func (f *fakeSource) setState(id int64, state alarms.SourceState, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.alarms[id]
	a.Instance.State = state
	switch state {
	case alarms.StateAutoRecovered:
		a.Instance.ResetAt = &at
	case alarms.StateManuallyCleared:
		a.Instance.ClearedAt = &at
	case alarms.StateConfirmed:
		a.Instance.ConfirmedAt = &at
	}
	f.alarms[id] = a
}

func (f *fakeSource) setEvent(id, eventID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.alarms[id]
	a.Detail.EventID = eventID
	f.alarms[id] = a
}

// recur records a new event row for id and puts it back to unconfirmed.
func (f *fakeSource) recur(id, eventID int64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.alarms[id]
	a.Instance.State = alarms.StateUnconfirmed
	a.Detail.EventID = eventID
	a.Detail.EventTime = &at
	a.Detail.CreatedAt = &at
	f.alarms[id] = a
}

func (f *fakeSource) failWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) sorted() []alarms.Alarm {
	out := make([]alarms.Alarm, 0, len(f.alarms))
	for _, a := range f.alarms {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance.ID < out[j].Instance.ID })
	return out
}

func (f *fakeSource) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeSource) FetchActiveAlarms(_ context.Context, q sqlsource.ActiveQuery) (sqlsource.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return sqlsource.Page{}, f.err
	}
	page := sqlsource.Page{NextAfter: q.AfterID}
	rows := 0
	for _, a := range f.sorted() {
		if a.Instance.ID <= q.AfterID || !a.Instance.State.Active() || !a.LastSeenAt().After(q.Since) {
			continue
		}
		if rows == q.Limit {
			return page, nil
		}
		rows++
		page.NextAfter = a.Instance.ID
		if q.Filter.Match(a) {
			page.Alarms = append(page.Alarms, a)
		}
	}
	page.Exhausted = true
	return page, nil
}

func (f *fakeSource) FetchChangedAlarms(_ context.Context, tracked []alarms.Tracked) ([]alarms.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []alarms.Change
	for _, t := range tracked {
		a, ok := f.alarms[t.InstanceID]
		if !ok {
			continue
		}
		prev := t.KnownState
		if prev == "" {
			prev = alarms.StateUnconfirmed
		}
		if a.Instance.State != prev {
			out = append(out, alarms.Change{Alarm: a, Previous: prev})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alarm.Instance.ID < out[j].Alarm.Instance.ID })
	return out, nil
}

func (f *fakeSource) FetchStaleFiring(_ context.Context, firing []alarms.Tracked, interval time.Duration, now time.Time) ([]alarms.Alarm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	cutoff := now.Add(-interval)
	var out []alarms.Alarm
	for _, t := range firing {
		if t.LastPushAt != nil && !t.LastPushAt.Before(cutoff) {
			continue
		}
		if a, ok := f.alarms[t.InstanceID]; ok && a.Instance.State.Active() {
			out = append(out, a)
		}
	}
	return out, nil
}

// fakeAM records requests and answers with programmable status codes.
type fakeAM struct {
	mu            sync.Mutex
	pushes        [][]alertmanager.Alert
	silences      []alertmanager.Silence
	deleted       []string
	pushStatus    []int
	silenceStatus []int
	nextSilence   int
	block         chan struct{}
}

func (f *fakeAM) next(queue *[]int) int {
	if len(*queue) == 0 {
		return http.StatusOK
	}
	code := (*queue)[0]
	*queue = (*queue)[1:]
	return code
}

func (f *fakeAM) failPushes(codes ...int) {
	f.mu.Lock()
	f.pushStatus = append(f.pushStatus, codes...)
	f.mu.Unlock()
}

func (f *fakeAM) failSilences(codes ...int) {
	f.mu.Lock()
	f.silenceStatus = append(f.silenceStatus, codes...)
	f.mu.Unlock()
}

func (f *fakeAM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.block != nil && r.URL.Path == "/api/v2/alerts" {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v2/alerts":
		if code := f.next(&f.pushStatus); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		var batch []alertmanager.Alert
		_ = json.NewDecoder(r.Body).Decode(&batch)
		f.pushes = append(f.pushes, batch)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v2/silences":
		if code := f.next(&f.silenceStatus); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		var s alertmanager.Silence
		_ = json.NewDecoder(r.Body).Decode(&s)
		f.silences = append(f.silences, s)
		f.nextSilence++
		_, _ = fmt.Fprintf(w, `{"silenceID":"sil-%d"}`, f.nextSilence)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/v2/silence/"):
		f.deleted = append(f.deleted, strings.TrimPrefix(r.URL.Path, "/api/v2/silence/"))
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/-/healthy":
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeAM) pushed() [][]alertmanager.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]alertmanager.Alert(nil), f.pushes...)
}

func (f *fakeAM) lastPush() alertmanager.Alert {
	p := f.pushed()
	if len(p) == 0 {
		return alertmanager.Alert{}
	}
	return p[len(p)-1][0]
}

type harness struct {
	engine *Engine
	source *fakeSource
	am     *fakeAM
	store  *sqlstore.Store
	audit  *audit.Repository
	client *alertmanager.Client
	clock  *fakeClock
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := sqldb.Open(ctx, sqldb.DialectSQLite, ":memory:", sqldb.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqldb.Migrate(ctx, db, sqldb.DialectSQLite))

	store, err := sqlstore.New(db, sqldb.DialectSQLite)
	require.NoError(t, err)
	auditRepo := audit.NewRepository(db, sqldb.DialectSQLite)

	am := &fakeAM{}
	srv := httptest.NewServer(am)
	t.Cleanup(srv.Close)

	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	cfg.Alertmanager.URL = srv.URL
	cfg.Sync.MaxCycleDuration = time.Minute
	if mutate != nil {
		mutate(cfg)
	}

	client, err := alertmanager.NewClient(alertmanager.Config{
		URL:           cfg.Alertmanager.URL,
		Timeout:       5 * time.Second,
		RetryCount:    1,
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)

	clock := &fakeClock{now: t0}
	source := newFakeSource()
	engine, err := NewEngine(cfg, source, store, client, auditRepo, WithClock(clock))
	require.NoError(t, err)

	return &harness{engine: engine, source: source, am: am, store: store, audit: auditRepo, client: client, clock: clock}
}

func (h *harness) cycle(t *testing.T) CycleResult {
	t.Helper()
	res, err := h.engine.RunCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	return res
}

func activeAlarm(id, eventID int64, level int) alarms.Alarm {
	created := t0.Add(-time.Hour)
	eventAt := created.Add(time.Minute)
	return alarms.Alarm{
		Instance: alarms.Instance{
			ID:                 id,
			AlarmCode:          "1001",
			ResourceInstanceID: "res-1",
			ResourceType:       "HOST",
			State:              alarms.StateUnconfirmed,
			Level:              &level,
			CreatedAt:          created,
			TotalCount:         1,
		},
		Detail: alarms.Detail{EventID: eventID, EventTime: &eventAt, Description: "disk full"},
		Meta:   alarms.Metadata{AlarmName: "Disk usage high", HostName: "db01", HostIP: "10.0.0.1"},
	}
}
