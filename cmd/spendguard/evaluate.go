package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ballee/spendguard/internal/adapter"
	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/dispatch"
	"github.com/ballee/spendguard/internal/engine"
	"github.com/ballee/spendguard/internal/recommend"
	"github.com/ballee/spendguard/internal/snapshot"

	"github.com/spf13/cobra"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one evaluation cycle",
	Long:  `Loads pending metric snapshots from the inbox directory, classifies each into an execution tier, and prints the resulting decisions. Approval requests and alerts are rendered on the terminal instead of being dispatched to chat adapters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		inputPath, _ := cmd.Flags().GetString("input")
		inboxPath, _ := cmd.Flags().GetString("inbox")
		if inboxPath == "" && cfg != nil {
			inboxPath = cfg.Provider.InboxPath
		}
		if inputPath == "" && inboxPath == "" {
			return fmt.Errorf("no snapshots to evaluate (pass --input, --inbox, or set provider.inbox_path)")
		}

		ws, err := openWorkspaceStores(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		approvalWindow, err := config.DurationOrDefault(cfg.Approval.ApprovalWindow, config.DefaultApprovalWindow)
		if err != nil {
			return fmt.Errorf("invalid approval window: %w", err)
		}
		alertWindow, err := config.DurationOrDefault(cfg.Approval.AlertWindow, config.DefaultAlertWindow)
		if err != nil {
			return fmt.Errorf("invalid alert window: %w", err)
		}

		dispatcher, err := newTerminalDispatcher()
		if err != nil {
			return err
		}

		var provider engine.SnapshotProvider
		if inputPath != "" {
			snapshots, err := readSnapshotFile(inputPath)
			if err != nil {
				return err
			}
			provider = &engine.StaticProvider{Snapshots: snapshots}
		} else {
			provider, err = engine.NewFileProvider(inboxPath)
			if err != nil {
				return fmt.Errorf("failed to open snapshot inbox: %w", err)
			}
		}

		evaluator := engine.NewEvaluator(ws.Rules, ws.Audit, ws.Approvals, recommend.NewBuilder(approvalWindow, alertWindow), dispatcher)

		report, err := evaluator.RunCycle(cmd.Context(), provider)
		if err != nil {
			return fmt.Errorf("evaluation cycle failed: %w", err)
		}

		fmt.Printf("Evaluated %d snapshot(s): %d executed, %d awaiting approval, %d alert(s), %d skipped\n",
			report.Evaluated, report.Executed, report.ApprovalsRequested, report.Alerts, report.Skipped)
		for _, id := range report.RecordIDs {
			fmt.Printf("- %s\n", id)
		}
		return nil
	},
}

// newTerminalDispatcher wires the CLI adapter as the only delivery surface
// for one-shot runs, on the same console route the daemon uses for it.
func newTerminalDispatcher() (dispatch.Dispatcher, error) {
	d := dispatch.NewDispatcher()
	if err := d.Register(adapter.NewCLIAdapter(), dispatch.Route{Target: "console"}); err != nil {
		return nil, fmt.Errorf("failed to register terminal output: %w", err)
	}
	return d, nil
}

// readSnapshotFile accepts either a single snapshot object or an array.
func readSnapshotFile(path string) ([]snapshot.MetricSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var many []snapshot.MetricSnapshot
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}

	var one snapshot.MetricSnapshot
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file %s: %w", path, err)
	}
	return []snapshot.MetricSnapshot{one}, nil
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
	evaluateCmd.Flags().String("input", "", "Snapshot JSON file (single object or array)")
	evaluateCmd.Flags().String("inbox", "", "Snapshot inbox directory (overrides provider.inbox_path)")
}
