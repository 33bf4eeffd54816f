package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveWorkspaceRootPath_ExpandsHomeShortcut(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("user home dir: %v", err)
	}

	got, err := ResolveWorkspaceRootPath("~/.spendguard/workspaces")
	if err != nil {
		t.Fatalf("resolve workspace root path: %v", err)
	}

	want := filepath.Join(home, ".spendguard", "workspaces")
	if got != want {
		t.Fatalf("path mismatch: got %q want %q", got, want)
	}
}

func TestEnsureWorkspaceCreatesLayout(t *testing.T) {
	root := t.TempDir()

	wsPath, err := EnsureWorkspace("acme", root)
	if err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}

	info, err := os.Stat(wsPath)
	if err != nil {
		t.Fatalf("stat workspace: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("expected workspace dir at %q", wsPath)
	}

	auditPath, err := GetAuditLogPath("acme", root)
	if err != nil {
		t.Fatalf("audit log path: %v", err)
	}
	if filepath.Base(auditPath) != "decisions.jsonl" {
		t.Errorf("unexpected audit log path: %q", auditPath)
	}

	rulesPath, err := GetRulesPath("acme", root)
	if err != nil {
		t.Fatalf("rules path: %v", err)
	}
	if filepath.Base(rulesPath) != "rules.json" {
		t.Errorf("unexpected rules path: %q", rulesPath)
	}

	approvalsPath, err := GetApprovalsPath("acme", root)
	if err != nil {
		t.Fatalf("approvals path: %v", err)
	}
	if filepath.Base(approvalsPath) != "approvals.json" {
		t.Errorf("unexpected approvals path: %q", approvalsPath)
	}
}
