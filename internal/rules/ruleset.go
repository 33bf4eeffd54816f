package rules

import (
	"strconv"
	"time"

	"github.com/ballee/spendguard/internal/errors"
)

// Rule names. New rules are additive data: the classifier evaluates whatever
// the tier tables reference, so adding a rule means adding a name, a default
// and a table entry, not a new code path.
const (
	RuleCACHardCeiling        = "cac_hard_ceiling"
	RuleROASFloor             = "roas_floor"
	RuleOverrunCriticalRatio  = "overrun_critical_ratio"
	RuleReallocationThreshold = "reallocation_threshold"
	RuleCACSpikeThreshold     = "cac_spike_threshold"
	RuleCACDeviationThreshold = "cac_deviation_threshold"
	RuleROASMinimum           = "roas_minimum"
	RuleBudgetComplianceLow   = "budget_compliance_low"
	RuleBudgetComplianceHigh  = "budget_compliance_high"
)

// RequiredRules must all be present in an active rule set. A missing rule is
// a deployment error: classification for that cycle is skipped and flagged.
var RequiredRules = []string{
	RuleCACHardCeiling,
	RuleROASFloor,
	RuleOverrunCriticalRatio,
	RuleReallocationThreshold,
	RuleCACSpikeThreshold,
	RuleCACDeviationThreshold,
	RuleROASMinimum,
	RuleBudgetComplianceLow,
	RuleBudgetComplianceHigh,
}

// SeasonalOverride substitutes a rule value while the evaluation period
// start falls inside [Start, End].
type SeasonalOverride struct {
	Rule  string    `json:"rule"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Value float64   `json:"value"`
}

// Contains reports whether the override window covers t.
func (o SeasonalOverride) Contains(t time.Time) bool {
	return !t.Before(o.Start) && !t.After(o.End)
}

// RuleSet is one immutable version of the tier-boundary configuration.
// Mutations append a new version; history stays reconstructable.
type RuleSet struct {
	Version   int                `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	CreatedBy string             `json:"created_by"` // "seed", "calibration" or "operator"
	Note      string             `json:"note,omitempty"`
	Values    map[string]float64 `json:"values"`
	Overrides []SeasonalOverride `json:"overrides,omitempty"`
}

// Effective is a rule set with seasonal overrides already substituted,
// resolved once per evaluation so the classifier stays season-agnostic.
type Effective struct {
	Version int
	Values  map[string]float64
}

// Value returns the effective value for a rule name.
func (e Effective) Value(name string) (float64, error) {
	v, ok := e.Values[name]
	if !ok {
		return 0, errors.Configuration("rule set v" + strconv.Itoa(e.Version) + " is missing rule " + name)
	}
	return v, nil
}

// Resolve applies seasonal overrides for periodStart and verifies every
// required rule is present.
func (rs *RuleSet) Resolve(periodStart time.Time) (Effective, error) {
	values := make(map[string]float64, len(rs.Values))
	for name, v := range rs.Values {
		values[name] = v
	}

	for _, o := range rs.Overrides {
		if o.Contains(periodStart) {
			values[o.Rule] = o.Value
		}
	}

	eff := Effective{Version: rs.Version, Values: values}
	for _, name := range RequiredRules {
		if _, ok := values[name]; !ok {
			return Effective{}, errors.Configuration("rule set v" + strconv.Itoa(rs.Version) + " is missing rule " + name)
		}
	}
	return eff, nil
}
