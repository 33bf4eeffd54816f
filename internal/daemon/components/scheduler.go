package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/daemon"
	"github.com/ballee/spendguard/internal/scheduler"
	"github.com/ballee/spendguard/internal/store"
)

// SchedulerComponent runs the cron loop that fires evaluation runs,
// calibration runs, and approval deadline sweeps. The engine component is
// the task runner.
type SchedulerComponent struct {
	cfg         *config.Config
	engineComp  *EngineComponent
	workspaceID string

	sched *scheduler.Scheduler
}

func NewSchedulerComponent(cfg *config.Config, engineComp *EngineComponent, workspaceID string) *SchedulerComponent {
	return &SchedulerComponent{
		cfg:         cfg,
		engineComp:  engineComp,
		workspaceID: workspaceID,
	}
}

func (s *SchedulerComponent) Name() string {
	return "Scheduler"
}

func (s *SchedulerComponent) Dependencies() []string {
	return []string{"Engine"}
}

func (s *SchedulerComponent) Init(ctx context.Context) error {
	if s.engineComp == nil {
		return fmt.Errorf("engine component not provided")
	}

	storePath, err := store.GetSchedulerPath(s.workspaceID, s.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("failed to resolve scheduler store path: %w", err)
	}
	schedStore, err := scheduler.NewStore(storePath)
	if err != nil {
		return fmt.Errorf("failed to create scheduler store: %w", err)
	}
	sched, err := scheduler.NewScheduler(schedStore, s.engineComp, s.cfg.Scheduler)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.sched = sched

	if err := s.sched.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	slog.Info("Scheduler initialized", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Start(ctx context.Context) error {
	if s.sched == nil {
		return fmt.Errorf("scheduler not initialized")
	}

	if err := s.sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	slog.Info("Scheduler started", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Stop(ctx context.Context) error {
	if s.sched == nil {
		slog.Info("Scheduler not initialized, skipping stop", "component", s.Name())
		return nil
	}

	if err := s.sched.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	slog.Info("Scheduler stopped", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if s.sched == nil {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}

	if err := s.sched.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: err}, nil
	}

	return &daemon.ComponentHealth{Name: s.Name(), Healthy: true}, nil
}
