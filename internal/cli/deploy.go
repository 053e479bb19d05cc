package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ocmod-labs/ocmodctl/internal/deploy"
	"github.com/ocmod-labs/ocmodctl/internal/metrics"
)

var (
	deployToken string
	deployForce bool
	deployJSON  bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the latest GitHub Actions artifact",
	Long: `Check the tracked branch of the configured repository and, when it has
moved since the last deployment (or with --force), download the workflow
artifact and install the package it carries.

Without --token the command runs as a trusted local operator and skips the
deploy secret check. The request cooldown still applies.`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

var deployStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last deployment",
	Args:  cobra.NoArgs,
	RunE:  runDeployStatus,
}

func init() {
	deployCmd.Flags().StringVar(&deployToken, "token", "", "Deploy secret key (checked like an HTTP trigger)")
	deployCmd.Flags().BoolVar(&deployForce, "force", false, "Deploy even when the commit is already deployed")
	deployCmd.Flags().BoolVar(&deployJSON, "json", false, "Print the result as JSON")
	deployStatusCmd.Flags().BoolVar(&deployJSON, "json", false, "Print the state as JSON")
	deployCmd.AddCommand(deployStatusCmd)
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	stream := out
	if deployJSON {
		stream = os.Stderr
	}
	res, err := a.orchestrator(metrics.Noop{}, stream).Run(cmd.Context(), deploy.Request{
		Token:   deployToken,
		Force:   deployForce,
		Trusted: deployToken == "",
	})
	if deployJSON {
		if perr := printJSON(out, res); perr != nil {
			return perr
		}
		return err
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "previous: %s\ncurrent:  %s\n", res.PreviousSHA, res.CurrentSHA)
	if res.Deployed {
		fmt.Fprintln(out, color.GreenString(res.Message))
	} else {
		fmt.Fprintln(out, res.Message)
	}
	return nil
}

func runDeployStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := deploy.LoadState(cmd.Context(), a.settings)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if deployJSON {
		return printJSON(out, map[string]interface{}{
			"repo":          st.Repo,
			"branch":        st.Branch,
			"artifact_name": st.ArtifactName,
			"last_sha":      st.LastSHA,
			"last_log":      st.LastLog,
			"configured":    st.Configured(),
		})
	}

	repo := st.Repo
	if repo == "" {
		repo = color.YellowString("(not configured)")
	}
	lastSHA := st.LastSHA
	if lastSHA == "" {
		lastSHA = "none"
	}
	fmt.Fprintf(out, "Repository: %s\nBranch:     %s\nArtifact:   %s\nDeployed:   %s\n", repo, st.Branch, st.ArtifactName, lastSHA)
	if st.LastLog == nil {
		return nil
	}
	result := color.GreenString("success")
	if !st.LastLog.Success {
		result = color.RedString("failed")
	}
	fmt.Fprintf(out, "\nLast attempt: %s %s (%s, %d files)\n", st.LastLog.Timestamp, short(st.LastLog.SHA), result, st.LastLog.FilesCount)
	if verbose {
		fmt.Fprintln(out, st.LastLog.Log)
	}
	return nil
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
