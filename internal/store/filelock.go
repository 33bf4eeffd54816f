package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ballee/spendguard/internal/config"

	"github.com/gofrs/flock"
)

// FileLock guards a workspace against a second daemon instance. The JSON
// stores assume a single writer process.
type FileLock struct {
	mu          sync.RWMutex
	flk         *flock.Flock
	lockPath    string
	workspaceID string
	acquiredAt  time.Time
}

type FileLockConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
}

func DefaultFileLockConfig() *FileLockConfig {
	lockTimeout, _ := config.DurationOrDefault(config.DefaultStoreLockTO, config.DefaultStoreLockTO)
	lockRetry, _ := config.DurationOrDefault(config.DefaultStoreLockRetry, config.DefaultStoreLockRetry)

	return &FileLockConfig{
		LockTimeout:  lockTimeout,
		LockRetry:    lockRetry,
		LockMaxRetry: config.DefaultStoreLockMax,
	}
}

// NewFileLock acquires the workspace lock, retrying until the configured
// timeout or retry budget runs out.
func NewFileLock(workspaceID, basePath string, cfg *FileLockConfig) (*FileLock, error) {
	if cfg == nil {
		cfg = DefaultFileLockConfig()
	}

	lockPath := filepath.Join(basePath, "workspace.lock")
	fl := &FileLock{
		flk:         flock.New(lockPath),
		lockPath:    lockPath,
		workspaceID: workspaceID,
	}

	deadline := time.Now().Add(cfg.LockTimeout)
	attempts := 0
	for {
		locked, err := fl.flk.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to attempt lock: %w", err)
		}
		if locked {
			break
		}

		attempts++
		if attempts >= cfg.LockMaxRetry || time.Now().After(deadline) {
			return nil, fmt.Errorf("workspace %s is locked by another instance (timeout after %v)",
				workspaceID, cfg.LockTimeout)
		}
		time.Sleep(cfg.LockRetry)
	}

	fl.acquiredAt = time.Now()
	slog.Info("Workspace lock acquired", "workspace", workspaceID, "path", lockPath)
	return fl, nil
}

// Unlock releases the lock. Safe to call more than once.
func (fl *FileLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.flk == nil {
		slog.Warn("Workspace lock already released", "workspace", fl.workspaceID)
		return
	}

	held := time.Since(fl.acquiredAt)
	if err := fl.flk.Unlock(); err != nil {
		slog.Error("Failed to release workspace lock", "workspace", fl.workspaceID, "path", fl.lockPath, "error", err)
	} else {
		slog.Info("Workspace lock released", "workspace", fl.workspaceID, "held_ms", held.Milliseconds())
	}

	fl.flk = nil
}

func (fl *FileLock) IsLocked() bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.flk != nil
}

func (fl *FileLock) HeldDuration() time.Duration {
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	if fl.flk == nil {
		return 0
	}
	return time.Since(fl.acquiredAt)
}

// CleanupStaleLocks inspects the workspace lock file and removes it when it
// is older than maxAge and forceCleanup is set; otherwise a stale file only
// produces a warning. The flock is advisory, so a leftover file from a
// crashed process never blocks a new acquisition, but it confuses operators
// inspecting the workspace.
func CleanupStaleLocks(basePath string, maxAge time.Duration, forceCleanup bool) error {
	lockPath := filepath.Join(basePath, "workspace.lock")

	info, err := os.Stat(lockPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat lock file: %w", err)
	}

	age := time.Since(info.ModTime())
	if age < maxAge {
		return nil
	}

	if !forceCleanup {
		slog.Warn("Stale lock file detected", "path", lockPath, "age", age.Round(time.Second))
		return nil
	}

	if err := os.Remove(lockPath); err != nil {
		return fmt.Errorf("failed to remove stale lock: %w", err)
	}

	slog.Info("Removed stale lock file", "path", lockPath, "age", age.Round(time.Second))
	return nil
}
