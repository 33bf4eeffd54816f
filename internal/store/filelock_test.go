package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
)

func shortLockConfig(timeout time.Duration) *FileLockConfig {
	retry := 10 * time.Millisecond
	maxRetry := int(timeout / retry)
	if maxRetry < 1 {
		maxRetry = 1
	}
	return &FileLockConfig{LockTimeout: timeout, LockRetry: retry, LockMaxRetry: maxRetry}
}

func TestFileLockAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := NewFileLock("ws", dir, nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !lock.IsLocked() {
		t.Error("lock not held after acquire")
	}

	lock.Unlock()
	if lock.IsLocked() {
		t.Error("lock still held after Unlock")
	}

	// A second Unlock must be a no-op.
	lock.Unlock()
	if lock.IsLocked() {
		t.Error("lock resurrected by double Unlock")
	}
}

func TestFileLockSecondHolderRefused(t *testing.T) {
	dir := t.TempDir()
	cfg := shortLockConfig(200 * time.Millisecond)

	first, err := NewFileLock("ws", dir, cfg)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer first.Unlock()

	start := time.Now()
	second, err := NewFileLock("ws", dir, cfg)
	if err == nil {
		second.Unlock()
		t.Fatal("second acquire succeeded while lock was held")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("second acquire gave up without retrying, elapsed=%v", elapsed)
	}
}

func TestFileLockHeldDuration(t *testing.T) {
	dir := t.TempDir()

	lock, err := NewFileLock("ws", dir, nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if held := lock.HeldDuration(); held < 50*time.Millisecond {
		t.Errorf("held duration = %v, want >= 50ms", held)
	}

	lock.Unlock()
	if held := lock.HeldDuration(); held != 0 {
		t.Errorf("held duration after release = %v, want 0", held)
	}
}

func TestCleanupStaleLocks(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "workspace.lock")
	if err := os.WriteFile(lockPath, []byte("stale"), 0644); err != nil {
		t.Fatalf("write lock file: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatalf("age lock file: %v", err)
	}

	// Warn-only by default: the file must survive.
	if err := CleanupStaleLocks(dir, 5*time.Minute, false); err != nil {
		t.Fatalf("cleanup (warn-only): %v", err)
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("stale lock removed without force: %v", err)
	}

	if err := CleanupStaleLocks(dir, 5*time.Minute, true); err != nil {
		t.Fatalf("cleanup (force): %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("stale lock survived force cleanup, stat err=%v", err)
	}

	// Fresh lock files are never touched, even with force.
	if err := os.WriteFile(lockPath, []byte("fresh"), 0644); err != nil {
		t.Fatalf("write lock file: %v", err)
	}
	if err := CleanupStaleLocks(dir, time.Hour, true); err != nil {
		t.Fatalf("cleanup (fresh): %v", err)
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("fresh lock removed: %v", err)
	}
}

func TestFileLockExclusivity(t *testing.T) {
	dir := t.TempDir()
	cfg := shortLockConfig(500 * time.Millisecond)

	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		acquired      int
		inCritical    int
		maxConcurrent int
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			lock, err := NewFileLock("ws", dir, cfg)
			if err != nil {
				return
			}
			defer lock.Unlock()

			mu.Lock()
			acquired++
			inCritical++
			if inCritical > maxConcurrent {
				maxConcurrent = inCritical
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if acquired == 0 {
		t.Error("no goroutine managed to acquire the lock")
	}
	if maxConcurrent > 1 {
		t.Errorf("lock held by %d goroutines at once", maxConcurrent)
	}
}

func TestFileLockBlocksRawFlock(t *testing.T) {
	dir := t.TempDir()

	lock, err := NewFileLock("ws", dir, nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lock.Unlock()

	raw := flock.New(filepath.Join(dir, "workspace.lock"))
	locked, err := raw.TryLock()
	if err != nil {
		t.Fatalf("raw TryLock: %v", err)
	}
	if locked {
		raw.Unlock()
		t.Error("raw flock acquired while FileLock was held")
	}
}
