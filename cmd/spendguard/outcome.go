package main

import (
	"fmt"
	"time"

	"github.com/ballee/spendguard/internal/decision"

	"github.com/spf13/cobra"
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome [record-id]",
	Short: "Record the measured outcome of a decision",
	Long:  `Amends a decision record with the measured CAC and ROAS after the fact. Each record can be amended exactly once; the calibration loop reads these outcomes to score its triggers.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recordID := args[0]

		ws, err := openWorkspaceStores(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		actualCAC, _ := cmd.Flags().GetFloat64("actual-cac")
		actualROAS, _ := cmd.Flags().GetFloat64("actual-roas")
		justified, _ := cmd.Flags().GetBool("justified")
		summary, _ := cmd.Flags().GetString("summary")
		accuracy, _ := cmd.Flags().GetFloat64("accuracy")

		if accuracy < 0 {
			accuracy = 0.0
			if justified {
				accuracy = 1.0
			}
		}

		outcome := decision.Outcome{
			MeasuredAt: time.Now(),
			ActualCAC:  actualCAC,
			ActualROAS: actualROAS,
			Justified:  justified,
			Summary:    summary,
		}
		if err := ws.Audit.Amend(recordID, outcome, accuracy); err != nil {
			return fmt.Errorf("failed to amend decision record: %w", err)
		}

		fmt.Printf("Recorded outcome for %s (justified=%t, accuracy=%.2f)\n", recordID, justified, accuracy)
		return nil
	},
}

func init() {
	outcomeCmd.Flags().Float64("actual-cac", 0, "Measured customer acquisition cost")
	outcomeCmd.Flags().Float64("actual-roas", 0, "Measured return on ad spend")
	outcomeCmd.Flags().Bool("justified", false, "Whether the decision turned out to be justified")
	outcomeCmd.Flags().String("summary", "", "Free-form outcome summary")
	outcomeCmd.Flags().Float64("accuracy", -1, "Accuracy score (defaults to 1 when justified, 0 otherwise)")
	outcomeCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
	rootCmd.AddCommand(outcomeCmd)
}
