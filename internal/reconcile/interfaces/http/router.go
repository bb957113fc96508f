// Package reconcilehttp exposes the admin API of the sync service.
package reconcilehttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"alarm-sync/internal/alertmanager"
	"alarm-sync/internal/audit"
	"alarm-sync/internal/auth"
	"alarm-sync/internal/config"
	"alarm-sync/internal/logger"
	"alarm-sync/internal/reconcile/application"
	"alarm-sync/internal/reconcile/report"
	syncstate "alarm-sync/internal/syncstate/domain"
	"alarm-sync/internal/syncstate/infrastructure/sqlstore"
)

// Engine is the reconciliation engine as seen by the admin API.
type Engine interface {
	Config() *config.Config
	Reload(cfg *config.Config) error
	Status() application.Status
	Statistics(ctx context.Context) (application.Statistics, error)
	TriggerCycle(ctx context.Context, trigger string) (string, error)
}

// RecordReader reads sync records.
type RecordReader interface {
	Get(ctx context.Context, instanceID int64) (*syncstate.Record, error)
	ListByStatus(ctx context.Context, status syncstate.Status, opts sqlstore.ListOptions) ([]*syncstate.Record, error)
}

// AuditReader queries the sync log.
type AuditReader interface {
	List(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// GatewayAdmin is the gateway surface used for inspection and silence removal.
type GatewayAdmin interface {
	HealthCheck(ctx context.Context) alertmanager.Health
	Status(ctx context.Context) (json.RawMessage, error)
	ListAlerts(ctx context.Context, filters []string) (json.RawMessage, error)
	ListSilences(ctx context.Context) (json.RawMessage, error)
	DeleteSilence(ctx context.Context, id string) (alertmanager.Result, error)
}

// Pinger checks a database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CleanupRunner runs a retention sweep.
type CleanupRunner interface {
	Run(ctx context.Context) (application.CleanupResult, error)
}

// Deps wires the router.
type Deps struct {
	Engine         Engine
	Records        RecordReader
	Audit          AuditReader
	Gateway        GatewayAdmin
	Source         Pinger
	Store          Pinger
	Cleanup        CleanupRunner
	Auth           *auth.Middleware
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

// ExemptPaths are served without authentication.
var ExemptPaths = []string{"/healthz", "/livez", "/readyz", "/metrics"}

type api struct {
	Deps
	logger *zap.Logger
}

// NewRouter builds the admin router.
func NewRouter(d Deps) (http.Handler, error) {
	if d.Engine == nil || d.Records == nil || d.Audit == nil || d.Gateway == nil {
		return nil, errors.New("reconcile http: nil dependency")
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 60 * time.Second
	}
	a := &api{Deps: d, logger: logger.OrNop(d.Logger)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(d.RequestTimeout))
	if d.Auth != nil {
		r.Use(d.Auth.Wrap)
	}

	r.Get("/healthz", a.healthz)
	r.Get("/livez", a.livez)
	r.Get("/readyz", a.readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", a.syncStatus)
			r.Post("/trigger", a.syncTrigger)
			r.Get("/statistics", a.syncStatistics)
			r.Get("/alarms", a.listAlarms)
			r.Get("/alarms/{id}", a.getAlarm)
			r.Get("/logs", a.listLogs)
		})
		r.Get("/config", a.getConfig)
		r.Put("/config", a.putConfig)
		r.Route("/alertmanager", func(r chi.Router) {
			r.Get("/status", a.gatewayStatus)
			r.Get("/alerts", a.gatewayAlerts)
			r.Get("/silences", a.gatewaySilences)
			r.Delete("/silences/{id}", a.deleteSilence)
		})
		r.Post("/maintenance/cleanup", a.cleanup)
		r.Get("/reports/sync.xlsx", a.exportReport(report.FormatXLSX))
		r.Get("/reports/sync.pdf", a.exportReport(report.FormatPDF))
	})
	return r, nil
}

func accessLog(l *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			l.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
