package calibration

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ballee/spendguard/internal/audit"
	"github.com/ballee/spendguard/internal/classifier"
	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/decision"
	"github.com/ballee/spendguard/internal/errors"
	"github.com/ballee/spendguard/internal/rules"
	"github.com/ballee/spendguard/internal/snapshot"

	"github.com/stretchr/testify/require"
)

func newFixtures(t *testing.T) (*audit.Log, *rules.Store) {
	t.Helper()
	dir := t.TempDir()

	log, err := audit.Open(filepath.Join(dir, "decisions.jsonl"))
	require.NoError(t, err)

	store, err := rules.NewStore(filepath.Join(dir, "rules.json"))
	require.NoError(t, err)
	require.NoError(t, store.Seed(config.RulesConfig{
		CACHardCeiling:        25.0,
		ROASFloor:             2.0,
		OverrunCriticalRatio:  0.50,
		ReallocationThreshold: 0.15,
		CACSpikeThreshold:     0.20,
		CACDeviationThreshold: 0.10,
		ROASMinimum:           2.5,
		BudgetComplianceLow:   0.90,
		BudgetComplianceHigh:  1.10,
	}, false))

	return log, store
}

func spikeRecord(justified bool) (*decision.Record, decision.Outcome) {
	rec := decision.NewRecord(
		snapshot.MetricSnapshot{
			PeriodStart:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			PeriodEnd:     time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
			ChannelID:     "google_ads",
			ActualCAC:     18.5,
			BaselineCAC:   14.8,
			TargetCAC:     15.0,
			ActualROAS:    2.9,
			ActualSpend:   2500,
			BudgetedSpend: 2500,
		},
		1,
		decision.TierRequestApproval,
		[]decision.Trigger{{Name: classifier.TriggerCACSpike, Measured: 0.25, Threshold: 0.20}},
		decision.Recommendation{Action: "review google_ads"},
	)
	outcome := decision.Outcome{
		MeasuredAt: time.Now(),
		ActualCAC:  15.2,
		ActualROAS: 3.1,
		Justified:  justified,
	}
	return rec, outcome
}

func TestLoop_ProposesRelaxedThresholdAboveTolerance(t *testing.T) {
	log, store := newFixtures(t)

	// 10 spike triggers, 2 unjustified amendments: 20% false positives.
	for i := 0; i < 10; i++ {
		rec, outcome := spikeRecord(i >= 2)
		require.NoError(t, log.Append(rec))
		require.NoError(t, log.Amend(rec.ID, outcome, 0.8))
	}

	loop := NewLoop(log, store, 0.05, 0.10, 0.25)
	report, err := loop.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)

	stats := report.Stats[classifier.TriggerCACSpike]
	require.Equal(t, 10, stats.WithTrigger)
	require.Equal(t, 2, stats.Unjustified)
	require.InDelta(t, 0.20, stats.FalsePositiveRate, 1e-9)

	require.Len(t, report.Adjustments, 1)
	adj := report.Adjustments[0]
	require.Equal(t, rules.RuleCACSpikeThreshold, adj.Rule)
	require.InDelta(t, 0.20, adj.OldValue, 1e-9)
	require.InDelta(t, 0.22, adj.NewValue, 1e-9) // widened by the 10% step

	// Proposal lands as a new version; v1 untouched.
	active, err := store.Active()
	require.NoError(t, err)
	require.Equal(t, 2, active.Version)
	require.Equal(t, "calibration", active.CreatedBy)

	v1, err := store.Version(1)
	require.NoError(t, err)
	require.InDelta(t, 0.20, v1.Values[rules.RuleCACSpikeThreshold], 1e-9)
}

func TestLoop_NoProposalWithinTolerance(t *testing.T) {
	log, store := newFixtures(t)

	// 20 triggers, 1 unjustified: 5% is at, not above, tolerance.
	for i := 0; i < 20; i++ {
		rec, outcome := spikeRecord(i >= 1)
		require.NoError(t, log.Append(rec))
		require.NoError(t, log.Amend(rec.ID, outcome, 0.9))
	}

	loop := NewLoop(log, store, 0.05, 0.10, 0.25)
	report, err := loop.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Empty(t, report.Adjustments)

	active, err := store.Active()
	require.NoError(t, err)
	require.Equal(t, 1, active.Version)
}

func TestLoop_UnamendedRecordsCountOnlyAsDenominator(t *testing.T) {
	log, store := newFixtures(t)

	// 4 triggers, only 1 amended and unjustified: rate 1/4.
	for i := 0; i < 4; i++ {
		rec, outcome := spikeRecord(false)
		require.NoError(t, log.Append(rec))
		if i == 0 {
			require.NoError(t, log.Amend(rec.ID, outcome, 0.3))
		}
	}

	loop := NewLoop(log, store, 0.05, 0.10, 0.25)
	report, err := loop.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)

	stats := report.Stats[classifier.TriggerCACSpike]
	require.Equal(t, 4, stats.WithTrigger)
	require.Equal(t, 1, stats.Unjustified)
	require.InDelta(t, 0.25, stats.FalsePositiveRate, 1e-9)
}

func TestLoop_AtMostOneConcurrentRun(t *testing.T) {
	log, store := newFixtures(t)
	loop := NewLoop(log, store, 0.05, 0.10, 0.25)

	// Hold the run lock and verify a second invocation is skipped.
	loop.runMu.Lock()
	var wg sync.WaitGroup
	wg.Add(1)
	var second error
	go func() {
		defer wg.Done()
		_, second = loop.Run(context.Background(), time.Time{}, time.Time{})
	}()
	wg.Wait()
	loop.runMu.Unlock()

	require.True(t, errors.IsCategory(second, errors.ErrConflict), "skipped run must report conflict, got %v", second)

	// After release, runs proceed normally.
	_, err := loop.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
}

func TestLoop_StepBoundedByMax(t *testing.T) {
	log, store := newFixtures(t)

	for i := 0; i < 10; i++ {
		rec, outcome := spikeRecord(false)
		require.NoError(t, log.Append(rec))
		require.NoError(t, log.Amend(rec.ID, outcome, 0.1))
	}

	// Requested step 0.50 is capped at 0.25.
	loop := NewLoop(log, store, 0.05, 0.50, 0.25)
	report, err := loop.Run(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, report.Adjustments, 1)
	require.InDelta(t, 0.25, report.Adjustments[0].NewValue, 1e-9) // 0.20 * 1.25
}
