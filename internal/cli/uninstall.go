package cli

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ocmod-labs/ocmodctl/internal/logging"
	"github.com/ocmod-labs/ocmodctl/internal/metrics"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <install-id>",
	Short: "Remove an installed package",
	Long:  `Remove the files and modifications an installation added, then rebuild the modification overlay.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runUninstall,
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid install id %q", args[0])
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	log := logging.NewExecLog(verbose, logging.WithWriter(cmd.OutOrStdout()), logging.WithZap(a.logger))
	record, err := a.installer(log, metrics.Noop{}).Uninstall(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Removed %s", record.Filename))
	return nil
}
