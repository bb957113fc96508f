package reconcilehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"alarm-sync/internal/audit"
	"alarm-sync/internal/auth"
	"alarm-sync/internal/config"
	"alarm-sync/internal/reconcile/application"
	"alarm-sync/internal/reconcile/report"
	syncstate "alarm-sync/internal/syncstate/domain"
	"alarm-sync/internal/syncstate/infrastructure/sqlstore"
)

const (
	defaultLimit      = 100
	maxLimit          = 1000
	reportLogLimit    = 500
	alarmLogLimit     = 20
	readinessDeadline = 5 * time.Second
)

type recordView struct {
	AlarmInstanceID int64      `json:"alarm_instance_id"`
	EventID         int64      `json:"event_id"`
	Status          string     `json:"sync_status"`
	SourceState     string     `json:"source_state,omitempty"`
	LastPushAt      *time.Time `json:"last_push_time,omitempty"`
	PushCount       int        `json:"push_count"`
	ErrorCount      int        `json:"error_count"`
	LastError       string     `json:"last_error,omitempty"`
	ErrorKind       string     `json:"error_kind,omitempty"`
	SilenceID       string     `json:"silence_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func viewOf(r *syncstate.Record) recordView {
	return recordView{
		AlarmInstanceID: r.AlarmInstanceID,
		EventID:         r.EventID,
		Status:          string(r.Status),
		SourceState:     string(r.SourceState),
		LastPushAt:      r.LastPushAt,
		PushCount:       r.PushCount,
		ErrorCount:      r.ErrorCount,
		LastError:       r.LastError,
		ErrorKind:       r.ErrorKind,
		SilenceID:       r.SilenceID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (a *api) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *api) livez(w http.ResponseWriter, _ *http.Request) {
	st := a.Engine.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "alive",
		"running":    st.Running,
		"started_at": st.StartedAt,
	})
}

func (a *api) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessDeadline)
	defer cancel()

	checks := map[string]string{}
	ready := true
	ping := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}
	ping("source", a.Source)
	ping("store", a.Store)
	if health := a.Gateway.HealthCheck(ctx); health.Healthy {
		checks["alertmanager"] = "ok"
	} else {
		checks["alertmanager"] = health.Error
		ready = false
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (a *api) syncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Engine.Status())
}

func (a *api) syncTrigger(w http.ResponseWriter, r *http.Request) {
	batchID, err := a.Engine.TriggerCycle(r.Context(), application.TriggerManual)
	switch {
	case errors.Is(err, application.ErrCycleInFlight):
		writeError(w, http.StatusConflict, "sync cycle already running")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.logger.Info("manual sync triggered",
		zap.String("batch_id", batchID),
		zap.String("subject", auth.SubjectFromContext(r.Context())),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "batch_id": batchID})
}

func (a *api) syncStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Engine.Statistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query statistics error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) listAlarms(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	after, err := parseInt(r.URL.Query().Get("after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid after")
		return
	}

	statuses := syncstate.Statuses()
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, err := syncstate.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		statuses = []syncstate.Status{s}
	}

	views := make([]recordView, 0)
	for _, s := range statuses {
		if len(views) >= limit {
			break
		}
		recs, err := a.Records.ListByStatus(r.Context(), s, sqlstore.ListOptions{AfterID: after, Limit: limit - len(views)})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "query sync records error")
			return
		}
		for _, rec := range recs {
			views = append(views, viewOf(rec))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views, "count": len(views)})
}

func (a *api) getAlarm(w http.ResponseWriter, r *http.Request) {
	id, err := parseInt(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid alarm instance id")
		return
	}
	rec, err := a.Records.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query sync record error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "sync record not found")
		return
	}
	logs, err := a.Audit.List(r.Context(), audit.Filter{AlarmInstanceID: id, Limit: alarmLogLimit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query sync log error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": viewOf(rec), "logs": logs})
}

func (a *api) listLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	instanceID, err := parseInt(q.Get("alarm_instance_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alarm_instance_id")
		return
	}
	f := audit.Filter{
		BatchID:         q.Get("batch_id"),
		AlarmInstanceID: instanceID,
		Operation:       q.Get("operation"),
		Limit:           limit,
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		f.Since = &since
	}
	entries, err := a.Audit.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query sync log error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

func (a *api) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Engine.Config())
}

func (a *api) putConfig(w http.ResponseWriter, r *http.Request) {
	var u config.Update
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if u.Empty() {
		writeError(w, http.StatusBadRequest, "no reloadable setting in body")
		return
	}
	next, warnings, err := a.Engine.Config().Apply(u)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.Engine.Reload(next); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.logger.Info("configuration updated",
		zap.String("subject", auth.SubjectFromContext(r.Context())),
		zap.Strings("warnings", warnings),
	)
	writeJSON(w, http.StatusOK, map[string]any{"config": next, "warnings": warnings})
}

func (a *api) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	raw, err := a.Gateway.Status(r.Context())
	a.passthrough(w, raw, err)
}

func (a *api) gatewayAlerts(w http.ResponseWriter, r *http.Request) {
	raw, err := a.Gateway.ListAlerts(r.Context(), r.URL.Query()["filter"])
	a.passthrough(w, raw, err)
}

func (a *api) gatewaySilences(w http.ResponseWriter, r *http.Request) {
	raw, err := a.Gateway.ListSilences(r.Context())
	a.passthrough(w, raw, err)
}

func (a *api) passthrough(w http.ResponseWriter, raw json.RawMessage, err error) {
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (a *api) deleteSilence(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "silence id required")
		return
	}
	if _, err := a.Gateway.DeleteSilence(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	a.logger.Info("silence deleted",
		zap.String("silence_id", id),
		zap.String("subject", auth.SubjectFromContext(r.Context())),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) cleanup(w http.ResponseWriter, r *http.Request) {
	if a.Cleanup == nil {
		writeError(w, http.StatusServiceUnavailable, "cleanup not configured")
		return
	}
	res, err := a.Cleanup.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) exportReport(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := reportLogLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxLimit*10 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		stats, err := a.Engine.Statistics(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "query statistics error")
			return
		}
		logs, err := a.Audit.List(r.Context(), audit.Filter{BatchID: r.URL.Query().Get("batch_id"), Limit: limit})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "query sync log error")
			return
		}
		st := a.Engine.Status()
		data, err := report.Render(format, report.Report{
			GeneratedAt:   time.Now().UTC(),
			Cycles:        st.Cycles,
			FailedCycles:  st.FailedCycles,
			LastSuccessAt: st.LastSuccessAt,
			Stats:         stats.ByStatus,
			Logs:          logs,
		})
		if err != nil {
			a.logger.Error("render report failed", zap.String("format", format), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "render report error")
			return
		}
		w.Header().Set("Content-Type", report.ContentTypes[format])
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=alarm-sync-%s.%s", time.Now().UTC().Format("20060102"), format))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid limit")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func parseInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
