package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// NewCleanupCommand applies the retention settings once.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cleanup",
		Short:         "Delete resolved records and audit rows past retention",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOf(cmd)
			cfg, l, err := loadConfig(rootOpts, true)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, l)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.cleanup.Run(ctx)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		},
	}
	return cmd
}
