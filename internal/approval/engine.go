package approval

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ballee/spendguard/internal/errors"

	"github.com/natefinch/atomic"
)

// Engine tracks approval workflows from creation to resolution. State is a
// JSON-persisted map keyed by decision record id: exactly one workflow per
// record. Terminal states are final; the transition functions reject calls
// on a terminal workflow rather than silently no-opping, so bugs surface
// immediately. The scheduled expiry sweep is the one idempotent exception.
type Engine struct {
	storePath string
	window    time.Duration
	policy    OverlapPolicy

	mu        sync.RWMutex
	workflows map[string]*Workflow
}

func NewEngine(storePath string, window time.Duration, policy OverlapPolicy) (*Engine, error) {
	switch policy {
	case OverlapReject, OverlapQueue, OverlapMerge:
	default:
		return nil, errors.Configuration("unknown overlap policy: " + string(policy))
	}

	e := &Engine{
		storePath: storePath,
		window:    window,
		policy:    policy,
		workflows: make(map[string]*Workflow),
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load() error {
	data, err := os.ReadFile(e.storePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &e.workflows)
}

func (e *Engine) save() error {
	data, err := json.MarshalIndent(e.workflows, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(e.storePath, bytes.NewReader(data))
}

// activeForChannelLocked returns the PENDING workflow for a channel, if any.
func (e *Engine) activeForChannelLocked(channelID string) *Workflow {
	for _, wf := range e.workflows {
		if wf.ChannelID == channelID && wf.Status == StatusPending {
			return wf
		}
	}
	return nil
}

// Create opens a workflow for a Tier-2 decision record. When the channel
// already has an unresolved workflow, the configured overlap policy decides:
// reject refuses the new one, queue parks it behind the active one, merge
// folds it into the active one (no second workflow).
func (e *Engine) Create(recordID, channelID string) (CreateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.workflows[recordID]; exists {
		return CreateResult{}, errors.Conflict("workflow already exists for record " + recordID)
	}

	now := time.Now()
	active := e.activeForChannelLocked(channelID)
	if active == nil {
		wf := &Workflow{
			RecordID:  recordID,
			ChannelID: channelID,
			Status:    StatusPending,
			CreatedAt: now,
			Deadline:  now.Add(e.window),
		}
		e.workflows[recordID] = wf
		if err := e.save(); err != nil {
			delete(e.workflows, recordID)
			return CreateResult{}, errors.Wrap(err, "persist workflow")
		}
		slog.Info("Approval requested", "record", recordID, "channel", channelID, "deadline", wf.Deadline.Format(time.RFC3339))
		copied := *wf
		return CreateResult{Workflow: &copied, Outcome: OutcomeCreated}, nil
	}

	switch e.policy {
	case OverlapQueue:
		wf := &Workflow{
			RecordID:  recordID,
			ChannelID: channelID,
			Status:    StatusQueued,
			CreatedAt: now,
			// Deadline assigned on promotion
		}
		e.workflows[recordID] = wf
		if err := e.save(); err != nil {
			delete(e.workflows, recordID)
			return CreateResult{}, errors.Wrap(err, "persist workflow")
		}
		slog.Info("Approval queued behind active workflow", "record", recordID, "channel", channelID, "active", active.RecordID)
		copied := *wf
		return CreateResult{Workflow: &copied, Outcome: OutcomeQueued, ActiveID: active.RecordID}, nil

	case OverlapMerge:
		slog.Info("Approval merged into active workflow", "record", recordID, "channel", channelID, "active", active.RecordID)
		return CreateResult{Outcome: OutcomeMerged, ActiveID: active.RecordID}, nil

	default: // OverlapReject
		slog.Info("Approval rejected by overlap policy", "record", recordID, "channel", channelID, "active", active.RecordID)
		return CreateResult{Outcome: OutcomeRejected, ActiveID: active.RecordID}, nil
	}
}

// Resolve applies a human response to a PENDING workflow. Responses on a
// terminal workflow are a state violation: expiry is irreversible, because
// re-opening would void the response-window guarantee.
func (e *Engine) Resolve(recordID string, approved bool, responder string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	wf, ok := e.workflows[recordID]
	if !ok {
		return errors.NotFound("workflow not found: " + recordID)
	}
	if wf.Status != StatusPending {
		return errors.StateViolation("workflow " + recordID + " is " + string(wf.Status) + ", not PENDING")
	}

	now := time.Now()
	if approved {
		wf.Status = StatusApproved
	} else {
		wf.Status = StatusRejected
	}
	wf.ResolvedAt = &now
	wf.Responder = responder

	e.promoteQueuedLocked(wf.ChannelID, now)

	if err := e.save(); err != nil {
		return errors.Wrap(err, "persist workflow")
	}

	slog.Info("Approval resolved", "record", recordID, "status", wf.Status, "responder", responder)
	return nil
}

// MarkExecuted transitions APPROVED to EXECUTED once the downstream apply
// step confirms. This is the only transition that stamps ExecutedAt.
func (e *Engine) MarkExecuted(recordID string) (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wf, ok := e.workflows[recordID]
	if !ok {
		return time.Time{}, errors.NotFound("workflow not found: " + recordID)
	}
	if wf.Status != StatusApproved {
		return time.Time{}, errors.StateViolation("workflow " + recordID + " is " + string(wf.Status) + ", not APPROVED")
	}

	now := time.Now()
	wf.Status = StatusExecuted
	wf.ExecutedAt = &now

	if err := e.save(); err != nil {
		return time.Time{}, errors.Wrap(err, "persist workflow")
	}
	return now, nil
}

// Sweep expires every PENDING workflow past its deadline. Idempotent:
// re-running over already-expired workflows is a no-op, not an error,
// because the sweep may be retried after partial failures.
func (e *Engine) Sweep(now time.Time) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expired []string
	for _, wf := range e.workflows {
		if wf.Status == StatusPending && now.After(wf.Deadline) {
			wf.Status = StatusExpired
			expired = append(expired, wf.RecordID)
			e.promoteQueuedLocked(wf.ChannelID, now)
		}
	}

	if len(expired) == 0 {
		return nil, nil
	}
	if err := e.save(); err != nil {
		return nil, errors.Wrap(err, "persist sweep")
	}

	sort.Strings(expired)
	slog.Info("Expired pending approvals", "count", len(expired))
	return expired, nil
}

// promoteQueuedLocked moves the oldest QUEUED workflow for a channel to
// PENDING, starting its response window now.
func (e *Engine) promoteQueuedLocked(channelID string, now time.Time) {
	var next *Workflow
	for _, wf := range e.workflows {
		if wf.ChannelID != channelID || wf.Status != StatusQueued {
			continue
		}
		if next == nil || wf.CreatedAt.Before(next.CreatedAt) {
			next = wf
		}
	}
	if next == nil {
		return
	}

	next.Status = StatusPending
	next.Deadline = now.Add(e.window)
	slog.Info("Queued approval promoted", "record", next.RecordID, "channel", channelID, "deadline", next.Deadline.Format(time.RFC3339))
}

// Get returns a copy of one workflow.
func (e *Engine) Get(recordID string) (*Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	wf, ok := e.workflows[recordID]
	if !ok {
		return nil, errors.NotFound("workflow not found: " + recordID)
	}
	copied := *wf
	return &copied, nil
}

// List returns workflows filtered by status (all when no filter), newest
// first.
func (e *Engine) List(statuses ...Status) []*Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()

	filter := make(map[Status]struct{}, len(statuses))
	for _, status := range statuses {
		filter[status] = struct{}{}
	}

	out := make([]*Workflow, 0, len(e.workflows))
	for _, wf := range e.workflows {
		if len(filter) > 0 {
			if _, ok := filter[wf.Status]; !ok {
				continue
			}
		}
		copied := *wf
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
