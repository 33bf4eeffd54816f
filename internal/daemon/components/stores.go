package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ballee/spendguard/internal/approval"
	"github.com/ballee/spendguard/internal/audit"
	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/daemon"
	"github.com/ballee/spendguard/internal/idempotency"
	"github.com/ballee/spendguard/internal/rules"
	"github.com/ballee/spendguard/internal/store"
)

// StoresComponent owns the workspace: the exclusive file lock, the rules
// store, the audit log, the approval engine and the idempotency keys. Every
// other component reaches persistent state through it.
type StoresComponent struct {
	cfg         *config.Config
	workspaceID string

	fileLock    *store.FileLock
	rulesStore  *rules.Store
	auditLog    *audit.Log
	approvals   *approval.Engine
	idempotency *idempotency.Store

	initialized bool
}

func NewStoresComponent(cfg *config.Config, workspaceID string) *StoresComponent {
	return &StoresComponent{cfg: cfg, workspaceID: workspaceID}
}

func (s *StoresComponent) Name() string {
	return "Stores"
}

func (s *StoresComponent) Dependencies() []string {
	return nil
}

func (s *StoresComponent) Init(ctx context.Context) error {
	workspacePath, err := store.EnsureWorkspace(s.workspaceID, s.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("ensure workspace: %w", err)
	}

	lockCfg := store.DefaultFileLockConfig()
	if to, err := config.DurationOrDefault(s.cfg.Store.LockTimeout, config.DefaultStoreLockTO); err == nil {
		lockCfg.LockTimeout = to
	}
	if retry, err := config.DurationOrDefault(s.cfg.Store.LockRetry, config.DefaultStoreLockRetry); err == nil {
		lockCfg.LockRetry = retry
	}
	if s.cfg.Store.LockMaxRetry > 0 {
		lockCfg.LockMaxRetry = s.cfg.Store.LockMaxRetry
	}

	fileLock, err := store.NewFileLock(s.workspaceID, workspacePath, lockCfg)
	if err != nil {
		return fmt.Errorf("acquire workspace lock: %w", err)
	}
	s.fileLock = fileLock

	rulesPath, err := store.GetRulesPath(s.workspaceID, s.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve rules path: %w", err)
	}
	rulesStore, err := rules.NewStore(rulesPath)
	if err != nil {
		return fmt.Errorf("open rules store: %w", err)
	}
	if err := rulesStore.Seed(s.cfg.Rules, s.cfg.Calibration.BootstrapMode); err != nil {
		return fmt.Errorf("seed rules store: %w", err)
	}
	s.rulesStore = rulesStore

	auditPath, err := store.GetAuditLogPath(s.workspaceID, s.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve audit log path: %w", err)
	}
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	s.auditLog = auditLog

	approvalsPath, err := store.GetApprovalsPath(s.workspaceID, s.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve approvals path: %w", err)
	}
	window, err := config.DurationOrDefault(s.cfg.Approval.ApprovalWindow, config.DefaultApprovalWindow)
	if err != nil {
		return fmt.Errorf("parse approval window: %w", err)
	}
	approvals, err := approval.NewEngine(approvalsPath, window, approval.OverlapPolicy(s.cfg.Engine.OverlapPolicy))
	if err != nil {
		return fmt.Errorf("open approval engine: %w", err)
	}
	s.approvals = approvals

	idemPath, err := store.GetIdempotencyPath(s.workspaceID, s.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve idempotency path: %w", err)
	}
	idem, err := idempotency.NewStore(idemPath)
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	s.idempotency = idem

	s.initialized = true
	slog.Info("Stores initialized",
		"component", s.Name(),
		"workspace", s.workspaceID,
		"audit_records", auditLog.Len(),
	)
	return nil
}

func (s *StoresComponent) Start(ctx context.Context) error {
	if !s.initialized {
		return fmt.Errorf("stores component not initialized")
	}
	return nil
}

func (s *StoresComponent) Stop(ctx context.Context) error {
	if s.idempotency != nil {
		s.idempotency.Prune()
		if err := s.idempotency.Save(); err != nil {
			slog.Warn("Failed to persist idempotency keys", "error", err)
		}
	}
	if s.fileLock != nil {
		s.fileLock.Unlock()
	}
	return nil
}

func (s *StoresComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if !s.initialized {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if s.fileLock == nil || !s.fileLock.IsLocked() {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("workspace lock not held")}, nil
	}
	return &daemon.ComponentHealth{Name: s.Name(), Healthy: true}, nil
}

func (s *StoresComponent) RulesStore() *rules.Store        { return s.rulesStore }
func (s *StoresComponent) AuditLog() *audit.Log            { return s.auditLog }
func (s *StoresComponent) Approvals() *approval.Engine     { return s.approvals }
func (s *StoresComponent) Idempotency() *idempotency.Store { return s.idempotency }
