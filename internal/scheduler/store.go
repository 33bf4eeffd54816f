package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
)

type LeaseStatus string

const (
	StatusIdle   LeaseStatus = "IDLE"
	StatusLeased LeaseStatus = "LEASED"
	StatusDone   LeaseStatus = "DONE"
	StatusFailed LeaseStatus = "FAILED"
)

// Lease marks a run in progress so a crashed run is visible and a second
// daemon instance cannot fire the same task concurrently.
type Lease struct {
	RunID     string      `json:"run_id"`
	Status    LeaseStatus `json:"status"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (l *Lease) active() bool {
	return l != nil && l.Status == StatusLeased && time.Now().Before(l.ExpiresAt)
}

// Task is a recurring job: the weekly evaluation run, the monthly
// calibration run, the approval deadline sweep.
type Task struct {
	ID          string    `json:"id"`
	Schedule    string    `json:"schedule"` // Cron spec or "@every 5m"
	Description string    `json:"description"`
	NextRun     time.Time `json:"next_run"`
	Lease       *Lease    `json:"lease,omitempty"`
}

type TaskList struct {
	Tasks map[string]*Task `json:"tasks"`
}

// Store persists task state as JSON. NextRun and lease state survive daemon
// restarts, which is what makes missed runs detectable.
type Store struct {
	path string
	data TaskList
	mu   sync.RWMutex
}

func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: TaskList{Tasks: make(map[string]*Task)},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Init(ctx context.Context) error {
	return s.load()
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return err
	case len(content) == 0:
		return nil
	}
	return json.Unmarshal(content, &s.data)
}

// save persists under the caller's lock.
func (s *Store) save() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(b))
}

// taskLocked looks up a task under the caller's lock.
func (s *Store) taskLocked(taskID string) (*Task, error) {
	t, ok := s.data.Tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task not found")
	}
	return t, nil
}

// EnsureTask registers a task if it is not already known, updating the
// schedule if config changed it. NextRun and lease state survive restarts.
func (s *Store) EnsureTask(id, schedule, description string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule for task %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data.Tasks[id]
	if !ok {
		s.data.Tasks[id] = &Task{ID: id, Schedule: schedule, Description: description}
		return s.save()
	}
	if t.Schedule == schedule {
		return nil
	}

	t.Schedule = schedule
	t.NextRun = time.Time{}
	return s.save()
}

func (s *Store) LoadTasks() ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.data.Tasks))
	for _, t := range s.data.Tasks {
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

// ShouldFire reports whether the task is due and advances its next-run
// marker so one tick fires a task at most once.
func (s *Store) ShouldFire(taskID, schedule string) (bool, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.taskLocked(taskID)
	if err != nil {
		return false, time.Time{}, err
	}
	if t.NextRun.After(time.Now()) {
		return false, t.NextRun, nil
	}

	cronSchedule, err := cron.ParseStandard(schedule)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("invalid cron schedule: %w", err)
	}

	t.NextRun = cronSchedule.Next(time.Now())
	return true, t.NextRun, nil
}

func (s *Store) AcquireLease(taskID, runID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.taskLocked(taskID)
	if err != nil {
		return err
	}
	if t.Lease.active() {
		return fmt.Errorf("task already leased")
	}

	t.Lease = &Lease{RunID: runID, Status: StatusLeased, ExpiresAt: expiresAt}
	return s.save()
}

func (s *Store) MarkTaskDone(taskID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.leasedTaskLocked(taskID, runID)
	if err != nil {
		return err
	}

	cronSchedule, err := cron.ParseStandard(t.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}

	t.Lease = nil
	t.NextRun = cronSchedule.Next(time.Now())
	return s.save()
}

// MarkTaskFailed releases the lease but keeps a FAILED marker so the next
// fire is visible as a retry in the store file.
func (s *Store) MarkTaskFailed(taskID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.leasedTaskLocked(taskID, runID)
	if err != nil {
		return err
	}

	t.Lease.Status = StatusFailed
	return s.save()
}

func (s *Store) leasedTaskLocked(taskID, runID string) (*Task, error) {
	t, err := s.taskLocked(taskID)
	if err != nil {
		return nil, err
	}
	if t.Lease == nil || t.Lease.RunID != runID {
		return nil, fmt.Errorf("lease mismatch")
	}
	return t, nil
}

func (s *Store) GetLease(taskID string) (*Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.taskLocked(taskID)
	if err != nil {
		return nil, err
	}
	return t.Lease, nil
}

func generateRunID() string {
	return ulid.Make().String()
}
