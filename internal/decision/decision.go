package decision

import (
	"time"

	"github.com/ballee/spendguard/internal/snapshot"

	"github.com/oklog/ulid/v2"
)

// Tier is the risk classification driving the workflow for a decision.
type Tier string

const (
	// TierAutoExecute - silent auto-execution, logged only
	TierAutoExecute Tier = "auto_execute"

	// TierRequestApproval - human approval required before execution
	TierRequestApproval Tier = "request_approval"

	// TierAlertImmediately - emergency, alert goes out at once
	TierAlertImmediately Tier = "alert_immediately"
)

// Synthetic trigger names not backed by a rule-set boundary.
const (
	// TriggerInvalidSnapshot marks a zero-denominator or malformed snapshot
	// that degraded to request_approval.
	TriggerInvalidSnapshot = "invalid_snapshot"

	// TriggerCalibrationMode marks a Tier-1 classification demoted to
	// request_approval while calibration mode is active.
	TriggerCalibrationMode = "calibration_mode"
)

// Trigger records one rule that evaluated true, with the measured value and
// the effective threshold used. Every true rule is recorded, not just the
// ones in the governing tier.
type Trigger struct {
	Name      string  `json:"name"`
	Measured  float64 `json:"measured"`
	Threshold float64 `json:"threshold"`
}

// HumanDecision is the resolution on a Tier-2 record.
type HumanDecision string

const (
	HumanNone     HumanDecision = "none"
	HumanApproved HumanDecision = "approved"
	HumanRejected HumanDecision = "rejected"
)

// Recommendation is the proposed action for a classified snapshot. The
// projected figures come from linear extrapolation of current spend and
// conversion ratios; they are approximations, not ground truth.
type Recommendation struct {
	Action          string        `json:"action"`
	ProjectedCAC    float64       `json:"projected_cac"`
	ProjectedImpact float64       `json:"projected_impact"`
	UrgencyWindow   time.Duration `json:"urgency_window"`
}

// Outcome is the actual impact measured after a decision played out.
type Outcome struct {
	MeasuredAt time.Time `json:"measured_at"`
	ActualCAC  float64   `json:"actual_cac"`
	ActualROAS float64   `json:"actual_roas"`

	// Justified reports whether the fired triggers proved warranted; false
	// marks the record as a false positive for calibration.
	Justified bool   `json:"justified"`
	Summary   string `json:"summary,omitempty"`
}

// Note is an out-of-band annotation, e.g. a human response arriving after
// the workflow already expired.
type Note struct {
	At     time.Time `json:"at"`
	Author string    `json:"author"`
	Text   string    `json:"text"`
}

// Record is the audit unit: created once per evaluation, append-only.
// Tier and Triggers never change after creation; later fields are filled
// by subsequent steps but never overwritten once set.
type Record struct {
	ID             string                  `json:"id"`
	Timestamp      time.Time               `json:"timestamp"`
	Snapshot       snapshot.MetricSnapshot `json:"snapshot"`
	RulesetVersion int                     `json:"ruleset_version"`
	Tier           Tier                    `json:"tier"`
	Triggers       []Trigger               `json:"triggers"`
	Recommendation Recommendation          `json:"recommendation"`
	HumanDecision  HumanDecision           `json:"human_decision"`
	ExecutedAt     *time.Time              `json:"executed_at,omitempty"`
	Outcome        *Outcome                `json:"outcome,omitempty"`
	AccuracyScore  *float64                `json:"accuracy_score,omitempty"`
	Notes          []Note                  `json:"notes,omitempty"`
}

// NewRecord creates a record with a fresh ULID for a classified snapshot.
func NewRecord(snap snapshot.MetricSnapshot, rulesetVersion int, tier Tier, triggers []Trigger, rec Recommendation) *Record {
	return &Record{
		ID:             ulid.Make().String(),
		Timestamp:      time.Now(),
		Snapshot:       snap,
		RulesetVersion: rulesetVersion,
		Tier:           tier,
		Triggers:       triggers,
		Recommendation: rec,
		HumanDecision:  HumanNone,
	}
}

// HasTrigger reports whether a trigger with the given name fired.
func (r *Record) HasTrigger(name string) bool {
	for _, t := range r.Triggers {
		if t.Name == name {
			return true
		}
	}
	return false
}
