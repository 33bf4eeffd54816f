package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect threshold rule sets",
	Long:  `Show the active threshold rule set and the full version history.`,
}

var rulesShowCmd = &cobra.Command{
	Use:   "show [version]",
	Short: "Show a rule set",
	Long:  `Display the active rule set, or a specific version when one is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspaceStores(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		rs, err := ws.Rules.Active()
		if len(args) == 1 {
			var version int
			if _, scanErr := fmt.Sscanf(args[0], "%d", &version); scanErr != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			rs, err = ws.Rules.Version(version)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Version %d (created %s by %s)\n", rs.Version, formatTimestamp(rs.CreatedAt), rs.CreatedBy)
		if rs.Note != "" {
			fmt.Printf("Note: %s\n", rs.Note)
		}
		if ws.Rules.CalibrationMode() {
			fmt.Println("Calibration mode: ON (auto-execute decisions are demoted to approval)")
		}

		names := make([]string, 0, len(rs.Values))
		for name := range rs.Values {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RULE\tVALUE")
		for _, name := range names {
			fmt.Fprintf(w, "%s\t%g\n", name, rs.Values[name])
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}

		if len(rs.Overrides) > 0 {
			fmt.Printf("\nSeasonal overrides:\n")
			for _, ov := range rs.Overrides {
				fmt.Printf("- %s=%g (%s to %s)\n", ov.Rule, ov.Value,
					formatTimestamp(ov.Start), formatTimestamp(ov.End))
			}
		}
		return nil
	},
}

var rulesHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List all rule set versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspaceStores(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		history := ws.Rules.History()
		if len(history) == 0 {
			fmt.Println("No rule sets found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "VERSION\tCREATED\tBY\tNOTE")
		for _, rs := range history {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", rs.Version, formatTimestamp(rs.CreatedAt), rs.CreatedBy, rs.Note)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}

		fmt.Printf("\nTotal: %d version(s)\n", len(history))
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesShowCmd)
	rulesCmd.AddCommand(rulesHistoryCmd)
	rulesCmd.PersistentFlags().StringP("workspace", "w", "", "Target workspace ID")
	rootCmd.AddCommand(rulesCmd)
}
