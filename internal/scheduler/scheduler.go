package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ballee/spendguard/internal/config"
	spendErrors "github.com/ballee/spendguard/internal/errors"
)

// Well-known task IDs. The runner dispatches on these.
const (
	TaskEvaluate  = "evaluate"
	TaskCalibrate = "calibrate"
	TaskSweep     = "sweep"
)

// TaskRunner executes a due task. The scheduler owns when, the runner owns
// what.
type TaskRunner interface {
	RunTask(ctx context.Context, taskID string) error
}

type Scheduler struct {
	store  *Store
	runner TaskRunner

	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	running       bool
	ticker        *time.Ticker
	inFlightTasks uint

	tickInterval         time.Duration
	shutdownTimeout      time.Duration
	leaseDuration        time.Duration
	maxCatchupRuns       int
	inFlightPollInterval time.Duration

	evaluateSchedule    string
	calibrationSchedule string
	sweepSchedule       string
}

func NewScheduler(store *Store, runner TaskRunner, cfg config.SchedulerConfig) (*Scheduler, error) {
	tickInterval, err := config.DurationOrDefault(cfg.TickInterval, config.DefaultSchedulerTickInterval)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler tick interval: %w", err)
	}

	shutdownTimeout, err := config.DurationOrDefault(cfg.ShutdownTimeout, config.DefaultSchedulerShutdownTO)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler shutdown timeout: %w", err)
	}

	leaseDuration, err := config.DurationOrDefault(cfg.LeaseDuration, config.DefaultSchedulerLeaseDuration)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler lease duration: %w", err)
	}

	inFlightPollInterval, err := config.DurationOrDefault(cfg.InFlightPollInterval, config.DefaultSchedulerInFlightPoll)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler in-flight poll interval: %w", err)
	}

	maxCatchupRuns := cfg.MaxCatchupRuns
	if maxCatchupRuns <= 0 {
		maxCatchupRuns = config.DefaultSchedulerMaxCatchupRuns
	}

	evaluateSchedule := cfg.EvaluateSchedule
	if evaluateSchedule == "" {
		evaluateSchedule = config.DefaultEvaluateSchedule
	}
	calibrationSchedule := cfg.CalibrationSchedule
	if calibrationSchedule == "" {
		calibrationSchedule = config.DefaultCalibrationSchedule
	}
	sweepInterval, err := config.DurationOrDefault(cfg.SweepInterval, config.DefaultSweepInterval)
	if err != nil {
		return nil, fmt.Errorf("parse sweep interval: %w", err)
	}

	return &Scheduler{
		store:                store,
		runner:               runner,
		tickInterval:         tickInterval,
		shutdownTimeout:      shutdownTimeout,
		leaseDuration:        leaseDuration,
		maxCatchupRuns:       maxCatchupRuns,
		inFlightPollInterval: inFlightPollInterval,
		evaluateSchedule:     evaluateSchedule,
		calibrationSchedule:  calibrationSchedule,
		sweepSchedule:        fmt.Sprintf("@every %s", sweepInterval),
	}, nil
}

func (s *Scheduler) Init(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	seeds := []struct{ id, schedule, desc string }{
		{TaskEvaluate, s.evaluateSchedule, "weekly metric evaluation run"},
		{TaskCalibrate, s.calibrationSchedule, "monthly threshold calibration"},
		{TaskSweep, s.sweepSchedule, "approval deadline sweep"},
	}
	for _, seed := range seeds {
		if err := s.store.EnsureTask(seed.id, seed.schedule, seed.desc); err != nil {
			return fmt.Errorf("ensure task %s: %w", seed.id, err)
		}
	}

	slog.Info("Scheduler initialized",
		"evaluate", s.evaluateSchedule,
		"calibrate", s.calibrationSchedule,
		"sweep", s.sweepSchedule,
	)
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.recoverExpiredLeases(ctx)
	s.reportMissedRuns(ctx)

	s.ticker = time.NewTicker(s.tickInterval)

	go s.run(ctx)

	slog.Info("Scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.waitForInFlightTasks()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Scheduler stopped gracefully")
		return nil
	case <-time.After(s.shutdownTimeout):
		slog.Warn("Scheduler shutdown timeout, force stopping")
		return spendErrors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Health(ctx context.Context) error {
	if s.ctx == nil {
		return spendErrors.Internal("scheduler not initialized")
	}

	if !s.IsRunning() {
		return spendErrors.Internal("scheduler not running")
	}

	if _, err := s.store.LoadTasks(); err != nil {
		return fmt.Errorf("load tasks: %w", spendErrors.ErrTransient)
	}

	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		select {
		case <-s.ticker.C:
			s.onTick(ctx)
		case <-s.ctx.Done():
			slog.Info("Scheduler run loop stopped")
			return
		}
	}
}

func (s *Scheduler) onTick(ctx context.Context) {
	tasks, err := s.store.LoadTasks()
	if err != nil {
		slog.Error("Failed to load tasks", "error", err)
		return
	}

	for _, task := range tasks {
		if task.Schedule == "" {
			continue
		}

		shouldFire, fireTime, err := s.store.ShouldFire(task.ID, task.Schedule)
		if err != nil {
			slog.Error("Failed to check if task should fire", "task", task.ID, "error", err)
			continue
		}

		if shouldFire {
			s.executeTask(ctx, task, fireTime)
		}
	}
}

func (s *Scheduler) executeTask(ctx context.Context, task Task, fireTime time.Time) {
	s.mu.Lock()
	s.inFlightTasks++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlightTasks--
		s.mu.Unlock()
	}()

	runID := generateRunID()
	leaseExpiresAt := time.Now().Add(s.leaseDuration)

	if err := s.store.AcquireLease(task.ID, runID, leaseExpiresAt); err != nil {
		slog.Error("Failed to acquire lease", "task", task.ID, "error", err)
		return
	}

	slog.Info("Task firing", "task", task.ID, "run_id", runID, "fire_time", fireTime.Format(time.RFC3339))

	if err := s.runner.RunTask(ctx, task.ID); err != nil {
		slog.Error("Task run failed", "task", task.ID, "run_id", runID, "error", err)
		if err := s.store.MarkTaskFailed(task.ID, runID); err != nil {
			slog.Error("Failed to mark task failed", "task", task.ID, "error", err)
		}
		return
	}

	if err := s.store.MarkTaskDone(task.ID, runID); err != nil {
		slog.Error("Failed to mark task done", "task", task.ID, "error", err)
	}
}

func (s *Scheduler) recoverExpiredLeases(ctx context.Context) {
	tasks, err := s.store.LoadTasks()
	if err != nil {
		slog.Error("Failed to load tasks for lease recovery", "error", err)
		return
	}

	recovered := 0
	for _, task := range tasks {
		if task.Schedule == "" {
			continue
		}

		lease, err := s.store.GetLease(task.ID)
		if err != nil {
			slog.Warn("Failed to get lease", "task", task.ID, "error", err)
			continue
		}

		if lease != nil && time.Now().After(lease.ExpiresAt) {
			slog.Info("Recovering expired lease", "task", task.ID, "run_id", lease.RunID)
			recovered++
		}
	}

	if recovered > 0 {
		slog.Info("Recovered expired leases", "count", recovered)
	}
}

// reportMissedRuns logs runs missed while the daemon was down. A missed
// evaluation catches up naturally on the next tick because NextRun is in
// the past; this just makes downtime visible.
func (s *Scheduler) reportMissedRuns(ctx context.Context) {
	tasks, err := s.store.LoadTasks()
	if err != nil {
		slog.Error("Failed to load tasks for catch-up", "error", err)
		return
	}

	missed := 0
	now := time.Now()

	for _, task := range tasks {
		if task.Schedule == "" {
			continue
		}

		if !task.NextRun.IsZero() && task.NextRun.Before(now) {
			missed++
		}
	}

	if missed > s.maxCatchupRuns {
		slog.Warn("Missed scheduled runs while down", "missed", missed, "max", s.maxCatchupRuns)
	}
}

func (s *Scheduler) waitForInFlightTasks() {
	ticker := time.NewTicker(s.inFlightPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			count := s.inFlightTasks
			s.mu.RUnlock()

			if count == 0 {
				return
			}
			slog.Info("Waiting for in-flight tasks", "count", count)
		case <-s.ctx.Done():
			return
		}
	}
}
