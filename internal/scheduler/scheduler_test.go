package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ballee/spendguard/internal/config"
)

type mockRunner struct {
	mu  sync.Mutex
	ran []string
	err error
}

func (m *mockRunner) RunTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ran = append(m.ran, taskID)
	return m.err
}

func (m *mockRunner) runs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ran...)
}

func newTestScheduler(t *testing.T, runner TaskRunner, cfg config.SchedulerConfig) (*Scheduler, *Store) {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "scheduler.json"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	sched, err := NewScheduler(store, runner, cfg)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return sched, store
}

func TestSchedulerComponentLifecycle(t *testing.T) {
	sched, _ := newTestScheduler(t, &mockRunner{}, config.SchedulerConfig{})

	ctx := context.Background()

	if err := sched.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if sched.ctx == nil {
		t.Error("Context should be set after Init")
	}

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !sched.IsRunning() {
		t.Error("Scheduler should be running after Start")
	}

	if err := sched.Health(ctx); err != nil {
		t.Errorf("Health check failed: %v", err)
	}

	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sched.IsRunning() {
		t.Error("Scheduler should not be running after Stop")
	}
}

func TestSchedulerSeedsTasks(t *testing.T) {
	sched, store := newTestScheduler(t, &mockRunner{}, config.SchedulerConfig{})

	if err := sched.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	tasks, err := store.LoadTasks()
	if err != nil {
		t.Fatalf("LoadTasks failed: %v", err)
	}

	seen := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		seen[task.ID] = true
	}
	for _, want := range []string{TaskEvaluate, TaskCalibrate, TaskSweep} {
		if !seen[want] {
			t.Errorf("expected seeded task %q", want)
		}
	}
}

func TestSchedulerFiresDueTask(t *testing.T) {
	runner := &mockRunner{}
	sched, store := newTestScheduler(t, runner, config.SchedulerConfig{
		TickInterval: "10ms",
	})

	ctx := context.Background()
	if err := sched.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Only the sweep task; the cron tasks would not be due in the test window.
	store.mu.Lock()
	delete(store.data.Tasks, TaskEvaluate)
	delete(store.data.Tasks, TaskCalibrate)
	store.data.Tasks[TaskSweep].Schedule = "@every 10ms"
	store.data.Tasks[TaskSweep].NextRun = time.Time{}
	store.mu.Unlock()

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sched.Stop(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if len(runner.runs()) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for task to fire")
		case <-time.After(10 * time.Millisecond):
		}
	}

	for _, id := range runner.runs() {
		if id != TaskSweep {
			t.Errorf("unexpected task fired: %q", id)
		}
	}
}

func TestSchedulerHealthBeforeInit(t *testing.T) {
	sched, _ := newTestScheduler(t, &mockRunner{}, config.SchedulerConfig{})

	if err := sched.Health(context.Background()); err == nil {
		t.Error("Health should fail before Init")
	}
}

func TestSchedulerInvalidConfig(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "scheduler.json"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewScheduler(store, &mockRunner{}, config.SchedulerConfig{TickInterval: "bogus"}); err == nil {
		t.Error("expected error for invalid tick interval")
	}
}
