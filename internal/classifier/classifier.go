package classifier

import (
	"math"

	"github.com/ballee/spendguard/internal/decision"
	"github.com/ballee/spendguard/internal/rules"
	"github.com/ballee/spendguard/internal/snapshot"
)

// Fired trigger names, one per boundary rule.
const (
	TriggerCACCeiling       = "cac_ceiling"
	TriggerROASFloor        = "roas_floor"
	TriggerBudgetOverrun    = "budget_overrun"
	TriggerReallocation     = "reallocation"
	TriggerCACSpike         = "cac_spike"
	TriggerNewCampaign      = "new_campaign"
	TriggerCACDeviation     = "cac_deviation"
	TriggerROASMinimum      = "roas_minimum"
	TriggerBudgetCompliance = "budget_compliance"
)

// Result is the classification of one snapshot under one rule set.
type Result struct {
	Tier           decision.Tier
	Triggers       []decision.Trigger
	RulesetVersion int
}

// rule is one named predicate+threshold pair. Tiers are ordered lists of
// rules evaluated by a single generic loop; adding a rule is adding data,
// not a code path.
type rule struct {
	name      string
	threshold string // rule-set value name
	measure   func(s *snapshot.MetricSnapshot) float64
	holds     func(measured, threshold float64) bool
}

var above = func(m, t float64) bool { return m > t }
var below = func(m, t float64) bool { return m < t }
var atLeast = func(m, t float64) bool { return m >= t }
var atMost = func(m, t float64) bool { return m <= t }

// Tier 3: ANY true condition is an emergency.
var tier3Rules = []rule{
	{
		name:      TriggerCACCeiling,
		threshold: rules.RuleCACHardCeiling,
		measure:   func(s *snapshot.MetricSnapshot) float64 { return s.ActualCAC },
		holds:     above,
	},
	{
		name:      TriggerROASFloor,
		threshold: rules.RuleROASFloor,
		measure:   func(s *snapshot.MetricSnapshot) float64 { return s.ActualROAS },
		holds:     below,
	},
	{
		name:      TriggerBudgetOverrun,
		threshold: rules.RuleOverrunCriticalRatio,
		measure: func(s *snapshot.MetricSnapshot) float64 {
			return (s.ActualSpend - s.BudgetedSpend) / s.BudgetedSpend
		},
		holds: above,
	},
}

// Tier 2: ANY true condition needs a human.
var tier2Rules = []rule{
	{
		name:      TriggerReallocation,
		threshold: rules.RuleReallocationThreshold,
		measure: func(s *snapshot.MetricSnapshot) float64 {
			return math.Abs(s.ProposedBudgetShiftRatio)
		},
		holds: above,
	},
	{
		name:      TriggerCACSpike,
		threshold: rules.RuleCACSpikeThreshold,
		measure: func(s *snapshot.MetricSnapshot) float64 {
			return (s.ActualCAC - s.BaselineCAC) / s.BaselineCAC
		},
		holds: above,
	},
	{
		name:      TriggerNewCampaign,
		threshold: "", // flag, no boundary value
		measure: func(s *snapshot.MetricSnapshot) float64 {
			if s.NewCampaign {
				return 1
			}
			return 0
		},
		holds: func(m, _ float64) bool { return m == 1 },
	},
}

// Tier 1: ALL conditions must hold for silent auto-execution.
var tier1Rules = []rule{
	{
		name:      TriggerCACDeviation,
		threshold: rules.RuleCACDeviationThreshold,
		measure: func(s *snapshot.MetricSnapshot) float64 {
			return math.Abs(s.ActualCAC-s.TargetCAC) / s.TargetCAC
		},
		holds: below,
	},
	{
		name:      TriggerROASMinimum,
		threshold: rules.RuleROASMinimum,
		measure:   func(s *snapshot.MetricSnapshot) float64 { return s.ActualROAS },
		holds:     atLeast,
	},
	{
		name:      TriggerBudgetCompliance,
		threshold: rules.RuleBudgetComplianceLow,
		measure: func(s *snapshot.MetricSnapshot) float64 {
			return s.ActualSpend / s.BudgetedSpend
		},
		holds: atLeast,
	},
	{
		name:      TriggerBudgetCompliance,
		threshold: rules.RuleBudgetComplianceHigh,
		measure: func(s *snapshot.MetricSnapshot) float64 {
			return s.ActualSpend / s.BudgetedSpend
		},
		holds: atMost,
	},
}

// Classify evaluates a snapshot against a rule set. Pure and deterministic:
// same inputs, same result, no hidden state.
//
// Tier 3 conditions govern first, then Tier 2, then Tier 1; anything
// unclassified falls back to request_approval rather than silently
// auto-executing. Seasonal overrides are resolved once here, against the
// snapshot's period start, before any rule is evaluated.
//
// The only error is a Configuration error for a rule set missing a required
// rule; that cycle is skipped and flagged by the caller. Bad snapshot data
// never errors, it degrades.
func Classify(snap *snapshot.MetricSnapshot, rs *rules.RuleSet) (Result, error) {
	eff, err := rs.Resolve(snap.PeriodStart)
	if err != nil {
		return Result{}, err
	}

	// Zero denominators are a data-quality failure: degrade to human review
	// with a synthetic trigger, never divide.
	if err := snap.Validate(); err != nil || !snap.HasValidDenominators() {
		return Result{
			Tier:           decision.TierRequestApproval,
			Triggers:       []decision.Trigger{{Name: decision.TriggerInvalidSnapshot}},
			RulesetVersion: eff.Version,
		}, nil
	}

	tier3, t3 := evalAny(snap, eff, tier3Rules)
	tier2, t2 := evalAny(snap, eff, tier2Rules)
	tier1, t1 := evalAll(snap, eff, tier1Rules)

	// Audit fidelity: every true rule is recorded even though only the
	// first-matching tier governs behavior.
	triggers := make([]decision.Trigger, 0, len(t3)+len(t2)+len(t1))
	triggers = append(triggers, t3...)
	triggers = append(triggers, t2...)
	triggers = append(triggers, t1...)

	tier := decision.TierRequestApproval
	switch {
	case tier3:
		tier = decision.TierAlertImmediately
	case tier2:
		tier = decision.TierRequestApproval
	case tier1:
		tier = decision.TierAutoExecute
	}

	return Result{Tier: tier, Triggers: triggers, RulesetVersion: eff.Version}, nil
}

func evalAny(snap *snapshot.MetricSnapshot, eff rules.Effective, table []rule) (bool, []decision.Trigger) {
	var fired []decision.Trigger
	any := false
	for _, r := range table {
		threshold := 0.0
		if r.threshold != "" {
			threshold = eff.Values[r.threshold]
		}
		measured := r.measure(snap)
		if r.holds(measured, threshold) {
			any = true
			fired = append(fired, decision.Trigger{Name: r.name, Measured: measured, Threshold: threshold})
		}
	}
	return any, fired
}

// evalAll records every rule that held even when the tier as a whole fails,
// so the audit trail shows which conditions were satisfied. Budget compliance
// is two boundary checks on one measured value; it is recorded once, and only
// when both bounds hold.
func evalAll(snap *snapshot.MetricSnapshot, eff rules.Effective, table []rule) (bool, []decision.Trigger) {
	all := true
	var order []string
	firstTrigger := make(map[string]decision.Trigger, len(table))
	nameHolds := make(map[string]bool, len(table))

	for _, r := range table {
		threshold := 0.0
		if r.threshold != "" {
			threshold = eff.Values[r.threshold]
		}
		measured := r.measure(snap)
		holds := r.holds(measured, threshold)
		if !holds {
			all = false
		}

		if _, seen := nameHolds[r.name]; !seen {
			order = append(order, r.name)
			nameHolds[r.name] = holds
			firstTrigger[r.name] = decision.Trigger{Name: r.name, Measured: measured, Threshold: threshold}
			continue
		}
		nameHolds[r.name] = nameHolds[r.name] && holds
	}

	var held []decision.Trigger
	for _, name := range order {
		if nameHolds[name] {
			held = append(held, firstTrigger[name])
		}
	}
	return all, held
}
