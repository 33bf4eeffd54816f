package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ballee/spendguard/internal/audit"
	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/snapshot"
	"github.com/ballee/spendguard/internal/store"
)

func TestTerminalDispatcherRegistersCLIAdapter(t *testing.T) {
	d, err := newTerminalDispatcher()
	if err != nil {
		t.Fatalf("newTerminalDispatcher: %v", err)
	}

	names := d.ListAdapters()
	if len(names) != 1 || names[0] != "cli" {
		t.Fatalf("expected exactly the cli adapter registered, got %v", names)
	}
}

func TestEvaluateCmdCommitsDecisions(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	loaded, err := config.Load(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg = loaded
	defer func() { cfg = nil }()

	snaps := []snapshot.MetricSnapshot{{
		PeriodStart:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2026, 3, 8, 23, 59, 59, 0, time.UTC),
		ChannelID:     "google_ads",
		ActualCAC:     14.85,
		TargetCAC:     15.00,
		BaselineCAC:   14.80,
		ActualROAS:    3.2,
		TargetROAS:    3.0,
		MinimumROAS:   2.5,
		ActualSpend:   2450,
		BudgetedSpend: 2500,
	}}
	data, err := json.Marshal(snaps)
	if err != nil {
		t.Fatalf("marshal snapshots: %v", err)
	}
	inputPath := filepath.Join(t.TempDir(), "snapshots.json")
	if err := os.WriteFile(inputPath, data, 0644); err != nil {
		t.Fatalf("write snapshot file: %v", err)
	}

	if err := evaluateCmd.Flags().Set("input", inputPath); err != nil {
		t.Fatalf("set input flag: %v", err)
	}
	defer evaluateCmd.Flags().Set("input", "")
	evaluateCmd.SetContext(context.Background())

	if err := evaluateCmd.RunE(evaluateCmd, nil); err != nil {
		t.Fatalf("evaluate command failed: %v", err)
	}

	// The decision must have been committed to the workspace audit log.
	auditPath, err := store.GetAuditLogPath(config.DefaultWorkspaceID, cfg.Daemon.WorkspacePath)
	if err != nil {
		t.Fatalf("resolve audit path: %v", err)
	}
	log, err := audit.Open(auditPath)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	if got := log.Len(); got != 1 {
		t.Fatalf("expected 1 committed decision record, got %d", got)
	}
}
