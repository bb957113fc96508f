package reconcilehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alarm-sync/internal/alertmanager"
	"alarm-sync/internal/audit"
	"alarm-sync/internal/auth"
	"alarm-sync/internal/config"
	"alarm-sync/internal/reconcile/application"
	"alarm-sync/internal/reconcile/report"
	syncstate "alarm-sync/internal/syncstate/domain"
	"alarm-sync/internal/syncstate/infrastructure/sqlstore"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeEngine struct {
	mu       sync.Mutex
	cfg      *config.Config
	inFlight bool
	triggers int
}

func (f *fakeEngine) Config() *config.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakeEngine) Reload(cfg *config.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

func (f *fakeEngine) Status() application.Status {
	return application.Status{StartedAt: now, Cycles: 4, FailedCycles: 1}
}

func (f *fakeEngine) Statistics(context.Context) (application.Statistics, error) {
	return application.Statistics{
		ByStatus: []sqlstore.StatusStats{{Status: syncstate.StatusFiring, Count: 2, TotalPushes: 3}},
		Total:    2,
	}, nil
}

func (f *fakeEngine) TriggerCycle(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight {
		return "", application.ErrCycleInFlight
	}
	f.triggers++
	return "20240301100000_abcd1234", nil
}

type fakeRecords struct {
	recs []*syncstate.Record
}

func (f *fakeRecords) Get(_ context.Context, id int64) (*syncstate.Record, error) {
	for _, r := range f.recs {
		if r.AlarmInstanceID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeRecords) ListByStatus(_ context.Context, status syncstate.Status, opts sqlstore.ListOptions) ([]*syncstate.Record, error) {
	var out []*syncstate.Record
	for _, r := range f.recs {
		if r.Status == status && r.AlarmInstanceID > opts.AfterID {
			out = append(out, r)
		}
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

type fakeAudit struct {
	last audit.Filter
}

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	f.last = filter
	return []audit.Entry{{ID: "audit-1", BatchID: "b1", AlarmInstanceID: 1, Operation: audit.OperationFire, CreatedAt: now}}, nil
}

type fakeGateway struct {
	healthy bool
	deleted []string
	filters []string
}

func (f *fakeGateway) HealthCheck(context.Context) alertmanager.Health {
	if !f.healthy {
		return alertmanager.Health{Error: "connection refused"}
	}
	return alertmanager.Health{Healthy: true, Version: "0.27.0"}
}

func (f *fakeGateway) Status(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"cluster":{"status":"ready"}}`), nil
}

func (f *fakeGateway) ListAlerts(_ context.Context, filters []string) (json.RawMessage, error) {
	f.filters = filters
	return json.RawMessage(`[]`), nil
}

func (f *fakeGateway) ListSilences(context.Context) (json.RawMessage, error) {
	return nil, errors.New("alertmanager: http 500")
}

func (f *fakeGateway) DeleteSilence(_ context.Context, id string) (alertmanager.Result, error) {
	f.deleted = append(f.deleted, id)
	return alertmanager.Result{StatusCode: http.StatusOK}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeCleanup struct{ runs int }

func (f *fakeCleanup) Run(context.Context) (application.CleanupResult, error) {
	f.runs++
	return application.CleanupResult{ResolvedDeleted: 3, RanAt: now}, nil
}

type fixture struct {
	handler http.Handler
	engine  *fakeEngine
	records *fakeRecords
	audit   *fakeAudit
	gateway *fakeGateway
	cleanup *fakeCleanup
}

func newFixture(t *testing.T, mw *auth.Middleware) *fixture {
	t.Helper()
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	f := &fixture{
		engine: &fakeEngine{cfg: cfg},
		records: &fakeRecords{recs: []*syncstate.Record{
			{AlarmInstanceID: 1, EventID: 10, Status: syncstate.StatusFiring, PushCount: 1, CreatedAt: now, UpdatedAt: now},
			{AlarmInstanceID: 2, EventID: 20, Status: syncstate.StatusResolved, PushCount: 2, CreatedAt: now, UpdatedAt: now},
			{AlarmInstanceID: 3, EventID: 30, Status: syncstate.StatusFiring, PushCount: 1, CreatedAt: now, UpdatedAt: now},
		}},
		audit:   &fakeAudit{},
		gateway: &fakeGateway{healthy: true},
		cleanup: &fakeCleanup{},
	}
	h, err := NewRouter(Deps{
		Engine:  f.engine,
		Records: f.records,
		Audit:   f.audit,
		Gateway: f.gateway,
		Source:  fakePinger{},
		Store:   fakePinger{},
		Cleanup: f.cleanup,
		Auth:    mw,
	})
	require.NoError(t, err)
	f.handler = h
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "ok", resp.Body.String())

	resp = f.do(t, http.MethodGet, "/livez", "")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"alertmanager":"ok"`)

	f.gateway.healthy = false
	resp = f.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Contains(t, resp.Body.String(), "connection refused")

	resp = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestTrigger(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/api/v1/sync/trigger", "")
	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Contains(t, resp.Body.String(), "20240301100000_abcd1234")

	f.engine.inFlight = true
	resp = f.do(t, http.MethodPost, "/api/v1/sync/trigger", "")
	require.Equal(t, http.StatusConflict, resp.Code)
	require.Equal(t, 1, f.engine.triggers)
}

func TestStatusAndStatistics(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var st application.Status
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &st))
	require.Equal(t, int64(4), st.Cycles)

	resp = f.do(t, http.MethodGet, "/api/v1/sync/statistics", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"total":2`)
}

func TestListAlarms(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/v1/sync/alarms?status=firing", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var out struct {
		Items []recordView `json:"items"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Equal(t, 2, out.Count)
	require.Equal(t, "FIRING", out.Items[0].Status)

	resp = f.do(t, http.MethodGet, "/api/v1/sync/alarms?limit=2", "")
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Equal(t, 2, out.Count)

	resp = f.do(t, http.MethodGet, "/api/v1/sync/alarms?status=acked", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	resp = f.do(t, http.MethodGet, "/api/v1/sync/alarms?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetAlarm(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/v1/sync/alarms/2", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"sync_status":"RESOLVED"`)
	require.Equal(t, int64(2), f.audit.last.AlarmInstanceID)

	resp = f.do(t, http.MethodGet, "/api/v1/sync/alarms/99", "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	resp = f.do(t, http.MethodGet, "/api/v1/sync/alarms/abc", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListLogs(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/v1/sync/logs?batch_id=b1&operation=fire&alarm_instance_id=1&limit=5&since=2024-03-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "b1", f.audit.last.BatchID)
	require.Equal(t, "fire", f.audit.last.Operation)
	require.Equal(t, int64(1), f.audit.last.AlarmInstanceID)
	require.Equal(t, 5, f.audit.last.Limit)
	require.NotNil(t, f.audit.last.Since)

	resp = f.do(t, http.MethodGet, "/api/v1/sync/logs?since=yesterday", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestConfigUpdate(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotContains(t, resp.Body.String(), "jwt_secret")

	resp = f.do(t, http.MethodPut, "/api/v1/config", `{"scan_interval":"30s","batch_size":50,"alarm_levels":"1,2"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	cfg := f.engine.Config()
	require.Equal(t, 30*time.Second, cfg.Sync.ScanInterval)
	require.Equal(t, 50, cfg.Sync.BatchSize)
	require.Equal(t, "1,2", cfg.Sync.AlarmLevels)

	resp = f.do(t, http.MethodPut, "/api/v1/config", `{"batch_size":0}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, 50, f.engine.Config().Sync.BatchSize)

	resp = f.do(t, http.MethodPut, "/api/v1/config", `{"source":{"dsn":"x"}}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, http.MethodPut, "/api/v1/config", `{}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAlertmanagerProxy(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/v1/alertmanager/status", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "ready")

	resp = f.do(t, http.MethodGet, `/api/v1/alertmanager/alerts?filter=event_id%3D%221%22`, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, []string{`event_id="1"`}, f.gateway.filters)

	resp = f.do(t, http.MethodGet, "/api/v1/alertmanager/silences", "")
	require.Equal(t, http.StatusBadGateway, resp.Code)

	resp = f.do(t, http.MethodDelete, "/api/v1/alertmanager/silences/sil-1", "")
	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Equal(t, []string{"sil-1"}, f.gateway.deleted)
}

func TestCleanupAndReports(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/api/v1/maintenance/cleanup", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"resolved_deleted":3`)
	require.Equal(t, 1, f.cleanup.runs)

	resp = f.do(t, http.MethodGet, "/api/v1/reports/sync.xlsx", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, report.ContentTypes[report.FormatXLSX], resp.Header().Get("Content-Type"))
	require.Equal(t, reportLogLimit, f.audit.last.Limit)

	resp = f.do(t, http.MethodGet, "/api/v1/reports/sync.pdf?limit=10", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.True(t, strings.HasPrefix(resp.Body.String(), "%PDF"))
	require.Equal(t, 10, f.audit.last.Limit)
}

func TestRolesEnforced(t *testing.T) {
	secret := []byte("test-secret")
	f := newFixture(t, auth.NewMiddleware(secret, auth.NewDefaultPolicy(ExemptPaths, nil)))

	resp := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(t, http.MethodGet, "/api/v1/sync/status", "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	viewer, err := auth.IssueJWT(secret, "v", auth.RoleViewer, time.Hour)
	require.NoError(t, err)
	operator, err := auth.IssueJWT(secret, "o", auth.RoleOperator, time.Hour)
	require.NoError(t, err)

	resp = f.do(t, http.MethodGet, "/api/v1/sync/status", "", "Authorization", "Bearer "+viewer)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(t, http.MethodPost, "/api/v1/sync/trigger", "", "Authorization", "Bearer "+viewer)
	require.Equal(t, http.StatusForbidden, resp.Code)

	resp = f.do(t, http.MethodPost, "/api/v1/sync/trigger", "", "Authorization", "Bearer "+operator)
	require.Equal(t, http.StatusAccepted, resp.Code)

	resp = f.do(t, http.MethodPost, "/api/v1/maintenance/cleanup", "", "Authorization", "Bearer "+operator)
	require.Equal(t, http.StatusForbidden, resp.Code)
}

func TestNewRouterRejectsNil(t *testing.T) {
	_, err := NewRouter(Deps{})
	require.Error(t, err)
}
