package main

import (
	"fmt"
	"time"

	"github.com/ballee/spendguard/internal/approval"
	"github.com/ballee/spendguard/internal/audit"
	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/rules"
	"github.com/ballee/spendguard/internal/store"

	"github.com/spf13/cobra"
)

func resolveWorkspaceID(cmd *cobra.Command) string {
	if workspaceID, _ := cmd.Flags().GetString("workspace"); workspaceID != "" {
		return workspaceID
	}

	return config.DefaultWorkspaceID
}

// workspaceStores bundles the persistent stores a one-shot command needs.
// The file lock is held for the lifetime of the command so a concurrent
// daemon cannot mutate the same workspace mid-operation.
type workspaceStores struct {
	WorkspaceID string
	Rules       *rules.Store
	Audit       *audit.Log
	Approvals   *approval.Engine

	fileLock *store.FileLock
}

func openWorkspaceStores(cmd *cobra.Command) (*workspaceStores, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	workspaceID := resolveWorkspaceID(cmd)
	workspaceRootPath := cfg.Daemon.WorkspacePath

	if _, err := store.EnsureWorkspace(workspaceID, workspaceRootPath); err != nil {
		return nil, fmt.Errorf("failed to ensure workspace: %w", err)
	}

	lockCfg := store.DefaultFileLockConfig()
	lockTimeout, err := config.DurationOrDefault(cfg.Store.LockTimeout, config.DefaultStoreLockTO)
	if err != nil {
		return nil, fmt.Errorf("invalid store lock timeout: %w", err)
	}
	lockCfg.LockTimeout = lockTimeout

	fileLock, err := store.NewFileLock(workspaceID, workspaceRootPath, lockCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire workspace lock (is a daemon running?): %w", err)
	}

	ws := &workspaceStores{WorkspaceID: workspaceID, fileLock: fileLock}

	rulesPath, err := store.GetRulesPath(workspaceID, workspaceRootPath)
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.Rules, err = rules.NewStore(rulesPath)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to open rules store: %w", err)
	}
	if err := ws.Rules.Seed(cfg.Rules, cfg.Calibration.BootstrapMode); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to seed rules store: %w", err)
	}

	auditPath, err := store.GetAuditLogPath(workspaceID, workspaceRootPath)
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.Audit, err = audit.Open(auditPath)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	approvalWindow, err := config.DurationOrDefault(cfg.Approval.ApprovalWindow, config.DefaultApprovalWindow)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("invalid approval window: %w", err)
	}
	approvalsPath, err := store.GetApprovalsPath(workspaceID, workspaceRootPath)
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.Approvals, err = approval.NewEngine(approvalsPath, approvalWindow, approval.OverlapPolicy(cfg.Engine.OverlapPolicy))
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to open approvals store: %w", err)
	}

	return ws, nil
}

func (ws *workspaceStores) Close() {
	if ws.fileLock != nil {
		ws.fileLock.Unlock()
	}
}

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
