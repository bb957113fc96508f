package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"alarm-sync/internal/auth"
	"alarm-sync/internal/reconcile/application"
	reconcilehttp "alarm-sync/internal/reconcile/interfaces/http"
	"alarm-sync/internal/reconcile/interfaces/natsbus"
	"alarm-sync/internal/reconcile/notify"
	"alarm-sync/internal/version"
)

const shutdownTimeout = 30 * time.Second

// NewServeCommand runs the scheduler and the admin API until interrupted.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Run the sync scheduler and admin API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(parent context.Context, rootOpts *RootOptions, addr string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, l, err := loadConfig(rootOpts, true)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	l.Info("starting alarm-sync", zap.String("version", version.Version), zap.String("commit", version.Commit))

	var (
		engineOpts []application.EngineOption
		bus        *nats.Conn
	)
	if cfg.Notify.WebhookURL != "" {
		tpl, err := notify.NewTemplate(cfg.Notify.WebhookTemplate)
		if err != nil {
			return fmt.Errorf("notify.webhook_template: %w", err)
		}
		webhookOpts := []notify.WebhookOption{notify.WithTemplate(tpl)}
		if cfg.Notify.WebhookEveryCycle {
			webhookOpts = append(webhookOpts, notify.WithEveryCycle())
		}
		engineOpts = append(engineOpts, application.WithNotifier(notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookTimeout, webhookOpts...)))
	}
	if cfg.Notify.NATSURL != "" {
		bus, err = notify.Connect(cfg.Notify.NATSURL, "alarm-sync")
		if err != nil {
			return err
		}
		defer notify.Close(bus)
		publisher, err := notify.NewBusPublisher(bus, cfg.Notify.NATSSubject)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, application.WithNotifier(publisher))
	}

	a, err := newApp(ctx, cfg, l, engineOpts...)
	if err != nil {
		return err
	}
	defer a.close()

	if bus != nil && cfg.Notify.NATSTriggerSubject != "" {
		sub, err := natsbus.NewSubscriber(ctx, a.engine, l)
		if err != nil {
			return err
		}
		if _, err := sub.Subscribe(bus, cfg.Notify.NATSTriggerSubject); err != nil {
			return err
		}
		l.Info("listening for bus triggers", zap.String("subject", cfg.Notify.NATSTriggerSubject))
	}

	router, err := reconcilehttp.NewRouter(reconcilehttp.Deps{
		Engine:  a.engine,
		Records: a.store,
		Audit:   a.audit,
		Gateway: a.client,
		Source:  a.source,
		Store:   a.store,
		Cleanup: a.cleanup,
		Auth:    auth.NewMiddleware([]byte(cfg.Server.JWTSecret), auth.NewDefaultPolicy(reconcilehttp.ExemptPaths, nil)),
		Logger:  l,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	scheduler := application.NewScheduler(a.engine, a.cleanup, l)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		l.Info("admin api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		l.Info("shutting down")
	case err = <-serveErr:
		if err != nil {
			l.Error("admin api failed", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		l.Warn("admin api shutdown", zap.Error(serr))
	}
	<-schedulerDone
	a.engine.Wait()
	l.Info("stopped")
	return err
}
