package main

import (
	"fmt"
	"time"

	"github.com/ballee/spendguard/internal/calibration"

	"github.com/spf13/cobra"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Manage the threshold calibration loop",
	Long:  `Run a calibration pass over measured outcomes, and enter or leave calibration mode.`,
}

var calibrateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one calibration pass",
	Long:  `Compares measured outcomes against the triggers that fired and proposes threshold adjustments. A new rule set version is appended when any boundary moves.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspaceStores(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		window, _ := cmd.Flags().GetDuration("window")
		end := time.Now()
		start := end.Add(-window)

		loop := calibration.NewLoop(ws.Audit, ws.Rules,
			cfg.Calibration.Tolerance, cfg.Calibration.StepRatio, cfg.Calibration.MaxStepRatio)

		report, err := loop.Run(cmd.Context(), start, end)
		if err != nil {
			return fmt.Errorf("calibration failed: %w", err)
		}

		fmt.Printf("Calibrated ruleset v%d against %d record(s) from %s to %s\n",
			report.RulesetVersion, report.Records, formatTimestamp(start), formatTimestamp(end))

		for trigger, stats := range report.Stats {
			fmt.Printf("- %s: fired %d, unjustified %d (false positive rate %.2f)\n",
				trigger, stats.WithTrigger, stats.Unjustified, stats.FalsePositiveRate)
		}

		if len(report.Adjustments) == 0 {
			fmt.Println("\nNo adjustments proposed; thresholds are within tolerance.")
			return nil
		}

		fmt.Printf("\nProposed ruleset v%d:\n", report.ProposedVersion)
		for _, adj := range report.Adjustments {
			fmt.Printf("- %s: %g -> %g (trigger %s)\n", adj.Rule, adj.OldValue, adj.NewValue, adj.Trigger)
		}
		return nil
	},
}

var calibratePromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Leave calibration mode",
	Long:  `Clears calibration mode so Tier-1 decisions auto-execute again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspaceStores(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		if err := ws.Rules.Promote(); err != nil {
			return err
		}
		fmt.Println("Calibration mode cleared; auto-execute decisions run silently again.")
		return nil
	},
}

var calibrateDemoteCmd = &cobra.Command{
	Use:   "demote",
	Short: "Enter calibration mode",
	Long:  `Enables calibration mode: decisions that would auto-execute are demoted to approval until promoted again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspaceStores(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		if err := ws.Rules.Demote(); err != nil {
			return err
		}
		fmt.Println("Calibration mode enabled; auto-execute decisions now require approval.")
		return nil
	},
}

var calibrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show calibration mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspaceStores(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		if ws.Rules.CalibrationMode() {
			fmt.Println("Calibration mode: ON")
		} else {
			fmt.Println("Calibration mode: OFF")
		}
		return nil
	},
}

func init() {
	calibrateRunCmd.Flags().Duration("window", 30*24*time.Hour, "Outcome window to calibrate against")

	calibrateCmd.AddCommand(calibrateRunCmd)
	calibrateCmd.AddCommand(calibratePromoteCmd)
	calibrateCmd.AddCommand(calibrateDemoteCmd)
	calibrateCmd.AddCommand(calibrateStatusCmd)
	calibrateCmd.PersistentFlags().StringP("workspace", "w", "", "Target workspace ID")
	rootCmd.AddCommand(calibrateCmd)
}
