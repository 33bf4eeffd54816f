package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ballee/spendguard/internal/audit"
	"github.com/ballee/spendguard/internal/classifier"
	"github.com/ballee/spendguard/internal/errors"
	"github.com/ballee/spendguard/internal/rules"
)

// TriggerStats is the observed accuracy of one trigger under the active
// rule set version.
type TriggerStats struct {
	WithTrigger       int     `json:"with_trigger"`
	Unjustified       int     `json:"unjustified"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
}

// Adjustment is one proposed boundary change.
type Adjustment struct {
	Trigger  string  `json:"trigger"`
	Rule     string  `json:"rule"`
	OldValue float64 `json:"old_value"`
	NewValue float64 `json:"new_value"`
}

// Report summarizes one calibration run.
type Report struct {
	RulesetVersion  int                     `json:"ruleset_version"`
	Records         int                     `json:"records"`
	Stats           map[string]TriggerStats `json:"stats"`
	Adjustments     []Adjustment            `json:"adjustments,omitempty"`
	ProposedVersion int                     `json:"proposed_version,omitempty"`
}

// adjustment direction per trigger: widen moves the boundary so the trigger
// fires less often; narrow tightens the Tier-1 band so fewer decisions
// auto-execute. new_campaign is a flag, not a boundary, so it is not tunable.
var tunable = map[string]struct {
	rule  string
	widen bool
}{
	classifier.TriggerCACCeiling:    {rules.RuleCACHardCeiling, true},
	classifier.TriggerROASFloor:     {rules.RuleROASFloor, false},
	classifier.TriggerBudgetOverrun: {rules.RuleOverrunCriticalRatio, true},
	classifier.TriggerReallocation:  {rules.RuleReallocationThreshold, true},
	classifier.TriggerCACSpike:      {rules.RuleCACSpikeThreshold, true},
	classifier.TriggerCACDeviation:  {rules.RuleCACDeviationThreshold, false},
}

// Loop reads the audit log on a fixed cadence and proposes rule set
// adjustments from observed false-positive rates. It never mutates the
// active rule set in place: proposals are appended as new versions.
type Loop struct {
	auditLog   *audit.Log
	rulesStore *rules.Store

	tolerance    float64
	stepRatio    float64
	maxStepRatio float64

	// at-most-one concurrent calibration; concurrent version bumps would race
	runMu sync.Mutex
}

func NewLoop(auditLog *audit.Log, rulesStore *rules.Store, tolerance, stepRatio, maxStepRatio float64) *Loop {
	if tolerance <= 0 {
		tolerance = 0.05
	}
	if stepRatio <= 0 {
		stepRatio = 0.10
	}
	if maxStepRatio <= 0 {
		maxStepRatio = 0.25
	}
	if stepRatio > maxStepRatio {
		stepRatio = maxStepRatio
	}

	return &Loop{
		auditLog:     auditLog,
		rulesStore:   rulesStore,
		tolerance:    tolerance,
		stepRatio:    stepRatio,
		maxStepRatio: maxStepRatio,
	}
}

// Run executes one calibration pass over [start, end). A run that finds an
// already-in-progress calibration is skipped with a Conflict error; the
// caller logs and moves on rather than queueing.
func (l *Loop) Run(ctx context.Context, start, end time.Time) (*Report, error) {
	if !l.runMu.TryLock() {
		return nil, errors.Conflict("calibration already in progress")
	}
	defer l.runMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	active, err := l.rulesStore.Active()
	if err != nil {
		return nil, err
	}

	records := l.auditLog.RecordsSince(active.Version, start, end)
	report := &Report{
		RulesetVersion: active.Version,
		Records:        len(records),
		Stats:          make(map[string]TriggerStats),
	}

	withTrigger := make(map[string]int)
	unjustified := make(map[string]int)
	for _, rec := range records {
		for _, trig := range rec.Triggers {
			withTrigger[trig.Name]++
			if rec.Outcome != nil && !rec.Outcome.Justified {
				unjustified[trig.Name]++
			}
		}
	}

	for name, total := range withTrigger {
		stats := TriggerStats{
			WithTrigger: total,
			Unjustified: unjustified[name],
		}
		if total > 0 {
			stats.FalsePositiveRate = float64(stats.Unjustified) / float64(total)
		}
		report.Stats[name] = stats
	}

	adjustments := l.propose(active, report.Stats)
	if len(adjustments) == 0 {
		slog.Info("Calibration pass complete, no adjustments", "ruleset", active.Version, "records", len(records))
		return report, nil
	}

	values := make(map[string]float64, len(active.Values))
	for k, v := range active.Values {
		values[k] = v
	}
	var notes []string
	for _, adj := range adjustments {
		values[adj.Rule] = adj.NewValue
		notes = append(notes, fmt.Sprintf("%s: %.4f -> %.4f", adj.Rule, adj.OldValue, adj.NewValue))
	}

	proposed, err := l.rulesStore.Append(values, active.Overrides, "calibration", strings.Join(notes, "; "))
	if err != nil {
		return nil, errors.Wrap(err, "append calibrated rule set")
	}

	report.Adjustments = adjustments
	report.ProposedVersion = proposed.Version
	slog.Info("Calibration proposed new rule set", "from", active.Version, "to", proposed.Version, "adjustments", len(adjustments))
	return report, nil
}

func (l *Loop) propose(active *rules.RuleSet, stats map[string]TriggerStats) []Adjustment {
	var out []Adjustment

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := stats[name]
		if s.FalsePositiveRate <= l.tolerance {
			continue
		}
		spec, ok := tunable[name]
		if !ok {
			continue
		}
		old, ok := active.Values[spec.rule]
		if !ok {
			continue
		}

		step := l.stepRatio
		if step > l.maxStepRatio {
			step = l.maxStepRatio
		}
		factor := 1 - step
		if spec.widen {
			factor = 1 + step
		}

		out = append(out, Adjustment{
			Trigger:  name,
			Rule:     spec.rule,
			OldValue: old,
			NewValue: old * factor,
		})
	}
	return out
}
