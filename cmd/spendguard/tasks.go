package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ballee/spendguard/internal/scheduler"
	"github.com/ballee/spendguard/internal/store"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect scheduled tasks",
	Long:  `Display the evaluation, calibration, and sweep tasks with their schedules and next run times.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workspaceID := resolveWorkspaceID(cmd)
		workspaceRootPath := ""
		if cfg != nil {
			workspaceRootPath = cfg.Daemon.WorkspacePath
		}

		schedulerPath, err := store.GetSchedulerPath(workspaceID, workspaceRootPath)
		if err != nil {
			return fmt.Errorf("failed to get scheduler path: %w", err)
		}
		if _, err := os.Stat(schedulerPath); os.IsNotExist(err) {
			fmt.Println("No tasks found (scheduler not initialized yet).")
			fmt.Println("\nTasks are seeded when the daemon starts.")
			return nil
		}

		schedStore, err := scheduler.NewStore(schedulerPath)
		if err != nil {
			return fmt.Errorf("failed to open scheduler store: %w", err)
		}

		tasks, err := schedStore.LoadTasks()
		if err != nil {
			return fmt.Errorf("failed to load tasks: %w", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks scheduled.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tSCHEDULE\tDESCRIPTION\tNEXT RUN")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				t.ID,
				t.Schedule,
				t.Description,
				formatTimestamp(t.NextRun))
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}

		fmt.Printf("\nTotal: %d scheduled task(s)\n", len(tasks))
		return nil
	},
}

func init() {
	tasksCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
	rootCmd.AddCommand(tasksCmd)
}
