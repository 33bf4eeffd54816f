package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ballee/spendguard/internal/adapter"
	"github.com/ballee/spendguard/internal/approval"
	"github.com/ballee/spendguard/internal/ingress"

	"github.com/spf13/cobra"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Manage approval workflows",
	Long:  `List pending approval workflows and resolve them from the terminal.`,
}

var approvalsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List approval workflows",
	Long:  `Display approval workflows with their record ID, channel, status, and deadline. Defaults to unresolved workflows; pass --all to include resolved ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspaceStores(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		all, _ := cmd.Flags().GetBool("all")
		var workflows []*approval.Workflow
		if all {
			workflows = ws.Approvals.List()
		} else {
			workflows = ws.Approvals.List(approval.StatusQueued, approval.StatusPending)
		}

		if len(workflows) == 0 {
			fmt.Println("No approval workflows found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RECORD\tCHANNEL\tSTATUS\tCREATED\tDEADLINE\tRESPONDER")
		for _, wf := range workflows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				wf.RecordID,
				wf.ChannelID,
				wf.Status,
				formatTimestamp(wf.CreatedAt),
				formatTimestamp(wf.Deadline),
				wf.Responder)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}

		fmt.Printf("\nTotal: %d workflow(s)\n", len(workflows))
		return nil
	},
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve [record-id]",
	Short: "Approve a pending decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd, args[0], adapter.ResponseApproved)
	},
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject [record-id]",
	Short: "Reject a pending decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd, args[0], adapter.ResponseRejected)
	},
}

var approvalsExecuteCmd = &cobra.Command{
	Use:   "execute [record-id]",
	Short: "Confirm an approved decision was applied",
	Long:  `Mark an approved workflow as executed. Use this after applying the budget change when approval.auto_execute is disabled.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspaceStores(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		recordID := args[0]
		executedAt, err := ws.Approvals.MarkExecuted(recordID)
		if err != nil {
			return fmt.Errorf("failed to mark workflow executed: %w", err)
		}
		if err := ws.Audit.SetExecuted(recordID, executedAt); err != nil {
			return fmt.Errorf("failed to record execution: %w", err)
		}

		fmt.Printf("Decision %s executed at %s\n", recordID, formatTimestamp(executedAt))
		return nil
	},
}

func resolveApproval(cmd *cobra.Command, recordID, response string) error {
	ws, err := openWorkspaceStores(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	responder, _ := cmd.Flags().GetString("by")

	processor := ingress.NewProcessor(nil, ws.Approvals, ws.Audit, cfg.Approval.AutoExecute)
	evt := ingress.NewEvent("cli", recordID, response, responder, nil)
	if err := processor.Apply(&evt); err != nil {
		return fmt.Errorf("failed to resolve approval: %w", err)
	}

	wf, err := ws.Approvals.Get(recordID)
	if err != nil {
		return err
	}
	fmt.Printf("Decision %s is now %s\n", recordID, wf.Status)
	return nil
}

func init() {
	approvalsLsCmd.Flags().Bool("all", false, "Include resolved workflows")
	approvalsApproveCmd.Flags().String("by", "operator", "Name recorded as the responder")
	approvalsRejectCmd.Flags().String("by", "operator", "Name recorded as the responder")

	approvalsCmd.AddCommand(approvalsLsCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsRejectCmd)
	approvalsCmd.AddCommand(approvalsExecuteCmd)
	approvalsCmd.PersistentFlags().StringP("workspace", "w", "", "Target workspace ID")
	rootCmd.AddCommand(approvalsCmd)
}
