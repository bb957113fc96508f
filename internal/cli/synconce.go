package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"alarm-sync/internal/reconcile/application"
)

// NewSyncOnceCommand runs a single sync cycle and prints its result.
func NewSyncOnceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sync-once",
		Short:         "Run one sync cycle and exit",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(contextOf(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, l, err := loadConfig(rootOpts, true)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, l)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.engine.RunCycle(ctx, application.TriggerManual)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Error != "" {
				return fmt.Errorf("cycle %s failed: %s", res.BatchID, res.Error)
			}
			return nil
		},
	}
	return cmd
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
