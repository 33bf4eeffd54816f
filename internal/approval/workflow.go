package approval

import (
	"time"
)

type Status string

const (
	// StatusQueued - waiting behind a prior unresolved workflow for the
	// same channel (overlap_policy: queue only)
	StatusQueued Status = "QUEUED"

	// StatusPending - awaiting a human response
	StatusPending Status = "PENDING"

	// StatusApproved - human affirmative, awaiting execution
	StatusApproved Status = "APPROVED"

	// StatusRejected - human negative, terminal
	StatusRejected Status = "REJECTED"

	// StatusExpired - deadline passed with no response, terminal
	StatusExpired Status = "EXPIRED"

	// StatusExecuted - approved action confirmed applied, terminal
	StatusExecuted Status = "EXECUTED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusExpired || s == StatusExecuted
}

// Workflow is the ephemeral approval state attached to one Tier-2 decision
// record. It references the record but does not own it; the audit log does.
type Workflow struct {
	RecordID   string     `json:"record_id"`
	ChannelID  string     `json:"channel_id"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	Deadline   time.Time  `json:"deadline"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Responder  string     `json:"responder,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// OverlapPolicy governs a new Tier-2 decision arriving while a prior one
// for the same channel is still unresolved.
type OverlapPolicy string

const (
	// OverlapReject - the new workflow is refused; the decision is still
	// audited but carries no approval workflow
	OverlapReject OverlapPolicy = "reject"

	// OverlapQueue - the new workflow starts QUEUED and becomes PENDING
	// when the prior one leaves PENDING
	OverlapQueue OverlapPolicy = "queue"

	// OverlapMerge - no second workflow; the new decision is noted on the
	// active workflow's record
	OverlapMerge OverlapPolicy = "merge"
)

// CreateOutcome tells the caller what happened to a create request under
// the configured overlap policy.
type CreateOutcome string

const (
	OutcomeCreated  CreateOutcome = "created"
	OutcomeQueued   CreateOutcome = "queued"
	OutcomeMerged   CreateOutcome = "merged"
	OutcomeRejected CreateOutcome = "rejected"
)

// CreateResult reports the workflow (nil for merged/rejected) and, for
// overlap outcomes, the record id of the active workflow that won.
type CreateResult struct {
	Workflow *Workflow
	Outcome  CreateOutcome
	ActiveID string
}
