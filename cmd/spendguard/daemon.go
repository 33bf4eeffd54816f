package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ballee/spendguard/internal/daemon"
	"github.com/ballee/spendguard/internal/daemon/components"
	"github.com/ballee/spendguard/internal/dispatch"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start Spendguard in background daemon mode",
	Long:  `Starts Spendguard as a long-running service using component lifecycle orchestration. It evaluates snapshots on schedule, sweeps expired approvals, and exposes a health endpoint.`,
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	workspaceID := resolveWorkspaceID(cmd)

	daemonMgr, err := daemon.NewDaemon(workspaceID, cfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon manager: %w", err)
	}
	if forceClean, _ := cmd.Flags().GetBool("force-clean-locks"); forceClean {
		daemonMgr.SetForceCleanup(true)
	}

	// Components are registered in dependency order; the manager still
	// resolves the real init order from their declared dependencies.
	dispatcher := dispatch.NewDispatcher()
	storesComp := components.NewStoresComponent(cfg, workspaceID)
	ingressComp := components.NewIngressComponent(cfg, storesComp)
	engineComp := components.NewEngineComponent(cfg, storesComp, dispatcher)

	for _, comp := range []daemon.Component{
		storesComp,
		ingressComp,
		components.NewAdaptersComponent(cfg, ingressComp, dispatcher),
		engineComp,
		components.NewSchedulerComponent(cfg, engineComp, workspaceID),
		components.NewHTTPServerComponent(daemonMgr, &cfg.Server),
	} {
		daemonMgr.AddComponent(comp)
	}

	slog.Info("Spendguard daemon starting up...", "port", cfg.Server.Port, "workspace", workspaceID)
	if err := daemonMgr.Start(context.Background()); err != nil {
		// Cancellation via signal/context is a graceful shutdown case for CLI.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			slog.Info("Spendguard daemon stopped gracefully", "workspace", workspaceID)
			return nil
		}
		return fmt.Errorf("daemon failed: %w", err)
	}

	slog.Info("Spendguard daemon stopped gracefully", "workspace", workspaceID)
	return nil
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
	daemonCmd.Flags().Bool("force-clean-locks", false, "Force cleanup of stale lock files (default: warn-only)")
}
