package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ocmod-labs/ocmodctl/internal/installer"
	"github.com/ocmod-labs/ocmodctl/internal/logging"
	"github.com/ocmod-labs/ocmodctl/internal/metrics"
)

var installOverwrite bool

var installCmd = &cobra.Command{
	Use:   "install-module <archive.zip>",
	Short: "Install an extension package",
	Long: `Install an extension package zip into the host application.

The archive's upload/ tree is copied into the admin, catalog, image and system
roots, its install.xml manifest is registered and its modifications are
applied. Any failure rolls the installation back.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVar(&installOverwrite, "overwrite", false, "Overwrite existing files")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	log := logging.NewExecLog(verbose, logging.WithWriter(out), logging.WithZap(a.logger))
	res, err := a.installer(log, metrics.Noop{}).Install(cmd.Context(), installer.Request{
		ArchivePath: args[0],
		Overwrite:   installOverwrite,
	})
	if err != nil {
		return fmt.Errorf("module installation failed: %w", err)
	}

	fmt.Fprintln(out, color.GreenString("Module installed successfully (extension_install_id: %d, %d files)",
		res.Record.ID, len(res.InstalledFiles)))
	return nil
}
