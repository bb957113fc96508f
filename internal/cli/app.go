package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"alarm-sync/internal/alarms/infrastructure/sqlsource"
	"alarm-sync/internal/alertmanager"
	"alarm-sync/internal/audit"
	"alarm-sync/internal/config"
	"alarm-sync/internal/logger"
	"alarm-sync/internal/observability/metrics"
	"alarm-sync/internal/reconcile/application"
	"alarm-sync/internal/sqldb"
	syncstate "alarm-sync/internal/syncstate/domain"
	"alarm-sync/internal/syncstate/infrastructure/sqlstore"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	sourceDB *sql.DB
	storeDB  *sql.DB

	source  *sqlsource.Source
	store   *sqlstore.Store
	audit   *audit.Repository
	client  *alertmanager.Client
	engine  *application.Engine
	cleanup *application.Cleanup
}

// loadConfig reads the configuration and builds the logger. With strict
// set, validation errors are fatal; otherwise they are only logged.
func loadConfig(opts *RootOptions, strict bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	l, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		l.Warn("config warning", zap.String("warning", w))
	}
	if err != nil {
		if strict {
			return nil, nil, fmt.Errorf("invalid config: %w", err)
		}
		l.Warn("config invalid", zap.Error(err))
	}
	return cfg, l, nil
}

// openStore opens the bookkeeping database, migrating it when configured.
func openStore(ctx context.Context, cfg *config.Config, force bool) (*sql.DB, sqldb.Dialect, error) {
	dialect, err := sqldb.ParseDialect(cfg.Store.Driver)
	if err != nil {
		return nil, "", err
	}
	db, err := sqldb.Open(ctx, dialect, cfg.Store.DSN, sqldb.PoolOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("open store: %w", err)
	}
	if force || cfg.Store.AutoMigrate {
		if err := sqldb.Migrate(ctx, db, dialect); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("migrate store: %w", err)
		}
	}
	return db, dialect, nil
}

// newApp wires source, store, gateway and engine.
func newApp(ctx context.Context, cfg *config.Config, l *zap.Logger, engineOpts ...application.EngineOption) (*app, error) {
	a := &app{cfg: cfg, logger: l}

	storeDB, storeDialect, err := openStore(ctx, cfg, false)
	if err != nil {
		return nil, err
	}
	a.storeDB = storeDB

	sourceDialect, err := sqldb.ParseDialect(cfg.Source.Driver)
	if err != nil {
		a.close()
		return nil, err
	}
	if cfg.Source.DSN == cfg.Store.DSN && sourceDialect == storeDialect {
		a.sourceDB = storeDB
	} else {
		a.sourceDB, err = sqldb.Open(ctx, sourceDialect, cfg.Source.DSN, sqldb.PoolOptions{MaxOpenConns: cfg.Source.MaxOpenConns})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open source: %w", err)
		}
	}

	a.source, err = sqlsource.New(a.sourceDB, sourceDialect, cfg.Source.Mapping,
		sqlsource.WithQueryTimeout(cfg.Source.QueryTimeout),
		sqlsource.WithLogger(l),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store, err = sqlstore.New(storeDB, storeDialect)
	if err != nil {
		a.close()
		return nil, err
	}
	a.audit = audit.NewRepository(storeDB, storeDialect)

	a.client, err = alertmanager.NewClient(alertmanager.Config{
		URL:           cfg.Alertmanager.URL,
		Username:      cfg.Alertmanager.Username,
		Password:      cfg.Alertmanager.Password,
		Timeout:       cfg.Alertmanager.Timeout,
		RetryCount:    cfg.Alertmanager.RetryCount,
		RetryInterval: cfg.Alertmanager.RetryInterval,
	}, alertmanager.WithLogger(l))
	if err != nil {
		a.close()
		return nil, err
	}

	metrics.Init(metrics.Counts{
		ErrorRecords: func(ctx context.Context) (int64, error) {
			return a.store.CountByStatus(ctx, syncstate.StatusError)
		},
		AuditRows: a.audit.Count,
	}, l)

	opts := append([]application.EngineOption{application.WithLogger(l)}, engineOpts...)
	a.engine, err = application.NewEngine(cfg, a.source, a.store, a.client, a.audit, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.cleanup, err = application.NewCleanup(a.store, a.audit, a.engine, nil, l)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() error {
	var errs []error
	if a.sourceDB != nil && a.sourceDB != a.storeDB {
		errs = append(errs, a.sourceDB.Close())
	}
	if a.storeDB != nil {
		errs = append(errs, a.storeDB.Close())
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
