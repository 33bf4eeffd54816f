package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/store"
)

// Daemon owns the lifecycle of all registered components. Components are
// initialized in dependency order, started in registration order, and
// stopped in reverse registration order.
type Daemon struct {
	cfg           *config.Config
	workspaceID   string
	components    []Component
	shutdownOrder []string
	health        HealthStatus
	startedAt     time.Time
	forceCleanup  bool

	mu              sync.RWMutex
	healthCheckDone chan struct{}
}

func NewDaemon(workspaceID string, cfg *config.Config) (*Daemon, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace ID cannot be empty")
	}

	return &Daemon{
		cfg:             cfg,
		workspaceID:     workspaceID,
		health:          StatusStarting,
		startedAt:       time.Now(),
		healthCheckDone: make(chan struct{}),
	}, nil
}

// AddComponent registers a component. Registration order determines start
// order; shutdown runs in reverse.
func (d *Daemon) AddComponent(comp Component) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = append(d.components, comp)
	d.shutdownOrder = append([]string{comp.Name()}, d.shutdownOrder...)
	slog.Debug("Component registered", "component", comp.Name(), "count", len(d.components))
}

// Start brings the daemon up and blocks until the context is cancelled or
// an interrupt/SIGTERM arrives, then shuts everything down.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("Daemon starting", "workspace", d.workspaceID)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.bringUp(ctx); err != nil {
		return err
	}

	d.setHealth(StatusRunning)
	slog.Info("Daemon running", "workspace", d.workspaceID, "components", len(d.components))
	go d.runHealthMonitor(ctx)

	<-ctx.Done()
	slog.Info("Shutdown requested", "workspace", d.workspaceID, "reason", ctx.Err())
	return d.bringDown(ctx)
}

// bringUp validates, initializes, and starts every component. A failure
// part-way through tears down whatever already came up.
func (d *Daemon) bringUp(ctx context.Context) error {
	if err := d.validateConfig(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := d.preInitChecks(ctx); err != nil {
		return fmt.Errorf("pre-init checks failed: %w", err)
	}

	if err := d.initializeComponents(ctx); err != nil {
		d.rollback(ctx)
		return fmt.Errorf("component initialization failed: %w", err)
	}

	if err := d.startComponents(ctx); err != nil {
		timeout, terr := config.DurationOrDefault(d.cfg.Daemon.StartupShutdownTimeout, config.DefaultDaemonStartupShutdownTO)
		if terr != nil {
			return fmt.Errorf("parse daemon startup shutdown timeout: %w", terr)
		}
		d.gracefulShutdown(ctx, timeout)
		return fmt.Errorf("component startup failed: %w", err)
	}
	return nil
}

// bringDown stops everything with a fresh context; the run context is
// already cancelled by the time shutdown begins.
func (d *Daemon) bringDown(ctx context.Context) error {
	d.setHealth(StatusStopping)
	close(d.healthCheckDone)

	timeout, err := config.DurationOrDefault(d.cfg.Daemon.ShutdownTimeout, config.DefaultDaemonShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse daemon shutdown timeout: %w", err)
	}
	if err := d.gracefulShutdown(context.Background(), timeout); err != nil {
		return err
	}

	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	return nil
}

// Uptime reports how long this daemon instance has existed.
func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.startedAt)
}

func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

func (d *Daemon) setHealth(status HealthStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = status
}

// SetForceCleanup enables removal of stale lock files during pre-init
// instead of the default warn-only behavior.
func (d *Daemon) SetForceCleanup(force bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forceCleanup = force
}

// ComponentHealth polls every registered component.
func (d *Daemon) ComponentHealth() map[string]*ComponentHealth {
	d.mu.RLock()
	components := append([]Component(nil), d.components...)
	d.mu.RUnlock()

	out := make(map[string]*ComponentHealth, len(components))
	for _, comp := range components {
		health, err := comp.Health(context.Background())
		out[comp.Name()] = health
		if err != nil {
			out[comp.Name()].Error = err
		}
	}
	return out
}

// Component returns a registered component by name, or nil.
func (d *Daemon) Component(name string) Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getComponentByName(name)
}

func (d *Daemon) getComponentByName(name string) Component {
	for _, comp := range d.components {
		if comp.Name() == name {
			return comp
		}
	}
	return nil
}

func (d *Daemon) validateConfig() error {
	if d.cfg.Server.Port < 1 || d.cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", d.cfg.Server.Port)
	}

	if _, err := store.EnsureWorkspace(d.workspaceID, d.cfg.Daemon.WorkspacePath); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	slog.Info("Configuration validated", "workspace", d.workspaceID, "port", d.cfg.Server.Port)
	return nil
}

// preInitChecks handles leftovers from a previous daemon that did not exit
// cleanly, currently stale workspace locks.
func (d *Daemon) preInitChecks(ctx context.Context) error {
	preflightTimeout, err := config.DurationOrDefault(d.cfg.Daemon.PreflightTimeout, config.DefaultDaemonPreflightTimeout)
	if err != nil {
		return fmt.Errorf("parse daemon preflight timeout: %w", err)
	}
	checkCtx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()

	workspacePath, err := store.GetWorkspacePath(d.workspaceID, d.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}
	staleLockTTL, err := config.DurationOrDefault(d.cfg.Daemon.StaleLockTTL, config.DefaultDaemonStaleLockTTL)
	if err != nil {
		return fmt.Errorf("parse daemon stale lock ttl: %w", err)
	}

	if err := store.CleanupStaleLocks(workspacePath, staleLockTTL, d.forceCleanup); err != nil {
		slog.Warn("Stale lock cleanup failed", "workspace", d.workspaceID, "error", err)
	}

	if checkCtx.Err() != nil {
		return fmt.Errorf("pre-init checks cancelled: %w", checkCtx.Err())
	}
	return nil
}

func (d *Daemon) initializeComponents(ctx context.Context) error {
	order, err := d.resolveInitOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		comp := d.getComponentByName(name)
		if comp == nil {
			continue
		}
		if err := comp.Init(ctx); err != nil {
			slog.Error("Component init failed", "component", name, "error", err)
			return fmt.Errorf("component %s init failed: %w", name, err)
		}
		slog.Info("Component initialized", "component", name)
	}

	return nil
}

func (d *Daemon) startComponents(ctx context.Context) error {
	for _, comp := range d.components {
		if err := comp.Start(ctx); err != nil {
			slog.Error("Component start failed", "component", comp.Name(), "error", err)
			return fmt.Errorf("component %s startup failed: %w", comp.Name(), err)
		}
		slog.Info("Component started", "component", comp.Name())
	}

	return nil
}

func (d *Daemon) gracefulShutdown(ctx context.Context, timeout time.Duration) error {
	slog.Info("Graceful shutdown initiated", "workspace", d.workspaceID, "timeout", timeout)

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.shutdownComponents(shutdownCtx) }()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("Shutdown completed with error", "workspace", d.workspaceID, "error", err)
			return err
		}
		slog.Info("Graceful shutdown completed", "workspace", d.workspaceID)
		return nil
	case <-shutdownCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("shutdown cancelled: %w", ctx.Err())
		}
		slog.Error("Shutdown timeout exceeded", "workspace", d.workspaceID, "timeout", timeout)
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// shutdownComponents stops components in reverse registration order. A
// failing Stop is logged but does not block the rest of the shutdown.
func (d *Daemon) shutdownComponents(ctx context.Context) error {
	for _, name := range d.shutdownOrder {
		comp := d.getComponentByName(name)
		if comp == nil {
			continue
		}

		if err := comp.Stop(ctx); err != nil {
			slog.Error("Component stop failed", "component", name, "error", err)
			continue
		}
		slog.Info("Component stopped", "component", name)
	}

	d.setHealth(StatusStopped)
	return nil
}

// rollback tears down whatever managed to initialize before a failed
// startup, newest first.
func (d *Daemon) rollback(ctx context.Context) {
	slog.Warn("Rolling back initialized components", "workspace", d.workspaceID)

	for i := len(d.components) - 1; i >= 0; i-- {
		comp := d.components[i]
		if err := comp.Stop(ctx); err != nil {
			slog.Error("Rollback stop failed", "component", comp.Name(), "error", err)
		}
	}

	d.setHealth(StatusStopped)
}

func (d *Daemon) runHealthMonitor(ctx context.Context) {
	interval, err := config.DurationOrDefault(d.cfg.Daemon.HealthCheckInterval, config.DefaultDaemonHealthCheckInterval)
	if err != nil {
		slog.Error("Failed to parse daemon health check interval", "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.healthCheckDone:
			return
		case <-ticker.C:
			d.logUnhealthyComponents()
		}
	}
}

func (d *Daemon) logUnhealthyComponents() {
	healths := d.ComponentHealth()

	unhealthy := 0
	for name, health := range healths {
		if !health.Healthy {
			unhealthy++
			slog.Warn("Component unhealthy", "component", name, "error", health.Error)
		}
	}

	if unhealthy > 0 {
		slog.Warn("Daemon has unhealthy components", "count", unhealthy, "total", len(healths))
	}
}

// resolveInitOrder orders components so every dependency initializes before
// its dependents. Kahn's algorithm; a leftover after the sort means a cycle.
func (d *Daemon) resolveInitOrder() ([]string, error) {
	byName := make(map[string]Component, len(d.components))
	for _, comp := range d.components {
		byName[comp.Name()] = comp
	}

	indegree := make(map[string]int, len(d.components))
	dependents := make(map[string][]string)
	for _, comp := range d.components {
		name := comp.Name()
		for _, dep := range comp.Dependencies() {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("component %s depends on %s which is not registered", name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	// Seed with registration order so the result is deterministic.
	var ready []string
	for _, comp := range d.components {
		if indegree[comp.Name()] == 0 {
			ready = append(ready, comp.Name())
		}
	}

	order := make([]string, 0, len(d.components))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(d.components) {
		return nil, fmt.Errorf("circular dependency among components (resolved %d of %d)", len(order), len(d.components))
	}

	slog.Info("Initialization order resolved", "order", order)
	return order, nil
}
