package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ocmod-labs/ocmodctl/internal/logging"
	"github.com/ocmod-labs/ocmodctl/internal/metrics"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild the modification overlay",
	Long:  `Clear the modification overlay and re-apply every active modification to the original files.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		log := logging.NewExecLog(verbose, logging.WithWriter(cmd.OutOrStdout()), logging.WithZap(a.logger))
		inst := a.installer(log, metrics.Noop{})
		report, err := inst.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		inst.PurgeCache()
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %d modifications to %d files\n", report.Documents, len(report.Files))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
