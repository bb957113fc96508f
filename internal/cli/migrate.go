package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"alarm-sync/internal/sqldb"
)

// NewMigrateCommand creates the bookkeeping tables.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Create the sync record and audit tables",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig(rootOpts, false)
			if err != nil {
				return err
			}
			if printOnly {
				return printSchema(cmd, cfg.Store.Driver)
			}
			db, dialect, err := openStore(contextOf(cmd), cfg, true)
			if err != nil {
				return err
			}
			defer db.Close()
			l.Info("store migrated", zap.String("driver", string(dialect)))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return err
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print the DDL instead of applying it")
	return cmd
}

func printSchema(cmd *cobra.Command, driver string) error {
	dialect, err := sqldb.ParseDialect(driver)
	if err != nil {
		return err
	}
	ddl, err := sqldb.Schema(dialect)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), ddl)
	return err
}
