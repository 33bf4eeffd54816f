package snapshot

import (
	"time"

	"github.com/ballee/spendguard/internal/errors"
)

// MetricSnapshot is one normalized performance reading per (channel, period).
// Snapshots are immutable once created; each evaluation references exactly
// one snapshot.
type MetricSnapshot struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	ChannelID   string    `json:"channel_id"`

	ActualCAC   float64 `json:"actual_cac"`
	TargetCAC   float64 `json:"target_cac"`
	BaselineCAC float64 `json:"baseline_cac"` // trailing average

	ActualROAS  float64 `json:"actual_roas"`
	TargetROAS  float64 `json:"target_roas"`
	MinimumROAS float64 `json:"minimum_roas"`

	ActualSpend   float64 `json:"actual_spend"`
	BudgetedSpend float64 `json:"budgeted_spend"`

	// ProposedBudgetShiftRatio is set when a reallocation is under
	// consideration; zero otherwise.
	ProposedBudgetShiftRatio float64 `json:"proposed_budget_shift_ratio,omitempty"`

	// NewCampaign marks a campaign with no performance history.
	NewCampaign bool `json:"new_campaign,omitempty"`
}

// Validate checks structural fields only. Zero denominators are not
// validation failures here: the classifier degrades those to the safer
// tier instead of refusing the snapshot.
func (s *MetricSnapshot) Validate() error {
	if s.ChannelID == "" {
		return errors.DataQuality("snapshot channel_id is empty")
	}
	if s.PeriodStart.IsZero() || s.PeriodEnd.IsZero() {
		return errors.DataQuality("snapshot period is not set")
	}
	if s.PeriodEnd.Before(s.PeriodStart) {
		return errors.DataQuality("snapshot period_end precedes period_start")
	}
	return nil
}

// HasValidDenominators reports whether all ratio denominators are non-zero.
func (s *MetricSnapshot) HasValidDenominators() bool {
	return s.TargetCAC != 0 && s.BaselineCAC != 0 && s.BudgetedSpend != 0
}
