// Package cli builds the alarm-sync command tree.
package cli

import (
	"github.com/spf13/cobra"

	"alarm-sync/internal/version"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "alarm-sync",
		Short: "Synchronize a relational alarm table with Alertmanager",
		Long: "alarm-sync polls a source alarm table, pushes active alarms to an " +
			"Alertmanager-compatible API and keeps their lifecycle in step with the source.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML config file (default $ALARM_SYNC_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log.level")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncOnceCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	version.AttachCobraVersionCommand(cmd)

	return cmd
}
