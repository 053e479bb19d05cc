package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ocmod-labs/ocmodctl/internal/deploy"
	"github.com/ocmod-labs/ocmodctl/internal/layout"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Health check for the installer setup",
	Long:  `Check the destination roots, the database, the settings backend and the deploy settings.`,
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	a, err := openApp()
	if err != nil {
		fail(out, "Cannot open database or settings: %v", err)
		return fmt.Errorf("doctor found problems")
	}
	defer a.Close()
	fmt.Fprintf(out, "  [ OK ] database %s\n", a.cfg.Database.Path)

	healthy := checkRoots(out, a.fs, a.roots)
	if !checkSettings(cmd.Context(), out, a) {
		healthy = false
	}
	if !healthy {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}

func checkRoots(out io.Writer, fs afero.Fs, roots layout.Roots) bool {
	fmt.Fprintln(out, "Roots check:")
	ok := true
	for _, c := range layout.Categories {
		root := roots.For(c)
		if root == "" {
			fail(out, "%s root is not configured (set root or roots.%s)", c, c)
			ok = false
			continue
		}
		fmt.Fprintf(out, "  [ OK ] %s -> %s\n", c, root)
	}
	if ok {
		if err := roots.Validate(fs); err != nil {
			fail(out, "%v", err)
			ok = false
		}
	}
	if roots.Modification == "" {
		fmt.Fprintln(out, color.YellowString("  [WARN] modification root is not configured; patches cannot be applied"))
	}
	return ok
}

func checkSettings(ctx context.Context, out io.Writer, a *app) bool {
	fmt.Fprintf(out, "Settings check (%s):\n", a.cfg.Settings.Backend)
	st, err := deploy.LoadState(ctx, a.settings)
	if err != nil {
		fail(out, "reading settings: %v", err)
		return false
	}
	fmt.Fprintln(out, "  [ OK ] settings readable")
	if st.Configured() {
		fmt.Fprintf(out, "  [ OK ] deploy source %s@%s (%s)\n", st.Repo, st.Branch, st.ArtifactName)
	} else {
		fmt.Fprintln(out, "  [INFO] deploy repository not configured")
	}
	return true
}

func fail(out io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(out, color.RedString("  [FAIL] "+format, args...))
}
