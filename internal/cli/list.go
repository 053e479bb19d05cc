package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ocmod-labs/ocmodctl/internal/registry"
)

var (
	listJSON          bool
	listModifications bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Long:  `List recorded installations, newest first, or the registered modifications with --modifications.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().BoolVar(&listModifications, "modifications", false, "List registered modifications instead of installations")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if listModifications {
		mods, err := a.db.ListModifications(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing modifications: %w", err)
		}
		if listJSON {
			return printJSON(out, mods)
		}
		return printModifications(out, mods)
	}

	installs, err := a.db.ListInstalls(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing installations: %w", err)
	}
	if listJSON {
		if installs == nil {
			installs = []registry.InstalledRecord{}
		}
		return printJSON(out, installs)
	}
	if len(installs) == 0 {
		fmt.Fprintln(out, "No packages installed yet.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tFILES\tINSTALLED")
	for _, r := range installs {
		files := 0
		for _, p := range r.Paths {
			if !p.Dir {
				files++
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", r.ID, r.Filename, files, r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func printModifications(out io.Writer, mods []registry.Modification) error {
	if len(mods) == 0 {
		fmt.Fprintln(out, "No modifications registered.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CODE\tNAME\tVERSION\tINSTALL\tSTATUS")
	for _, m := range mods {
		version := m.Version
		if version == "" {
			version = "-"
		}
		status := color.GreenString("enabled")
		if !m.Status {
			status = color.HiBlackString("disabled")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", m.Code, m.Name, version, m.InstallID, status)
	}
	return w.Flush()
}

func printJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
