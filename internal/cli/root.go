package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/branding"
	"github.com/ocmod-labs/ocmodctl/internal/config"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string

	cfgFile  string
	verbose  bool
	logLevel string
	hostRoot string
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` installs extension packages (zip archives with an upload/ payload
and an install.xml manifest) into a host application, applies their OCMOD
modifications, and deploys packages built by GitHub Actions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadFile(cfgFile)
		if cmd.Flags().Changed("root") {
			viper.Set("root", hostRoot)
		}
		if cmd.Flags().Changed("log-level") {
			viper.Set("log.level", logLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/"+branding.HomeDir()+"/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&hostRoot, "root", "", "Host installation root")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, none)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output, including error traces")
}

// Execute runs the root command with build info injected via ldflags.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
	if verbose {
		if trace := apperr.Trace(err); trace != "" {
			fmt.Fprintln(os.Stderr, color.HiBlackString(trace))
		}
	}
}
