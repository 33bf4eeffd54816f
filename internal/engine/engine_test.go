package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ballee/spendguard/internal/adapter"
	"github.com/ballee/spendguard/internal/approval"
	"github.com/ballee/spendguard/internal/audit"
	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/decision"
	"github.com/ballee/spendguard/internal/dispatch"
	"github.com/ballee/spendguard/internal/recommend"
	"github.com/ballee/spendguard/internal/rules"
	"github.com/ballee/spendguard/internal/snapshot"
)

type capturingDispatcher struct {
	mu   sync.Mutex
	sent []*dispatch.Notification
}

func (d *capturingDispatcher) Register(out adapter.OutputAdapter, route dispatch.Route) error {
	return nil
}

func (d *capturingDispatcher) Send(ctx context.Context, n *dispatch.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return nil
}

func (d *capturingDispatcher) Health(ctx context.Context) error { return nil }
func (d *capturingDispatcher) Unregister(name string) error     { return nil }
func (d *capturingDispatcher) ListAdapters() []string           { return nil }

func seedRules(t *testing.T, dir string, bootstrap bool) *rules.Store {
	t.Helper()
	store, err := rules.NewStore(filepath.Join(dir, "rules.json"))
	if err != nil {
		t.Fatalf("rules store: %v", err)
	}
	cfg := config.RulesConfig{
		CACHardCeiling:        config.DefaultCACHardCeiling,
		ROASFloor:             config.DefaultROASFloor,
		OverrunCriticalRatio:  config.DefaultOverrunCriticalRatio,
		ReallocationThreshold: config.DefaultReallocationThreshold,
		CACSpikeThreshold:     config.DefaultCACSpikeThreshold,
		CACDeviationThreshold: config.DefaultCACDeviationThreshold,
		ROASMinimum:           config.DefaultROASMinimum,
		BudgetComplianceLow:   config.DefaultBudgetComplianceLow,
		BudgetComplianceHigh:  config.DefaultBudgetComplianceHigh,
	}
	if err := store.Seed(cfg, bootstrap); err != nil {
		t.Fatalf("seed rules: %v", err)
	}
	return store
}

type fixture struct {
	evaluator  *Evaluator
	rules      *rules.Store
	auditLog   *audit.Log
	approvals  *approval.Engine
	dispatched *capturingDispatcher
}

func newFixture(t *testing.T, policy approval.OverlapPolicy, bootstrap bool) *fixture {
	t.Helper()
	dir := t.TempDir()

	rulesStore := seedRules(t, dir, bootstrap)

	auditLog, err := audit.Open(filepath.Join(dir, "decisions.jsonl"))
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}

	approvals, err := approval.NewEngine(filepath.Join(dir, "approvals.json"), 72*time.Hour, policy)
	if err != nil {
		t.Fatalf("approval engine: %v", err)
	}

	d := &capturingDispatcher{}
	ev := NewEvaluator(rulesStore, auditLog, approvals,
		recommend.NewBuilder(72*time.Hour, 4*time.Hour), d)

	return &fixture{evaluator: ev, rules: rulesStore, auditLog: auditLog, approvals: approvals, dispatched: d}
}

func nominalSnapshot(channelID string) snapshot.MetricSnapshot {
	now := time.Now()
	return snapshot.MetricSnapshot{
		PeriodStart:   now.AddDate(0, 0, -7),
		PeriodEnd:     now,
		ChannelID:     channelID,
		ActualCAC:     12.0,
		TargetCAC:     12.5,
		BaselineCAC:   11.8,
		ActualROAS:    3.1,
		TargetROAS:    3.0,
		MinimumROAS:   2.5,
		ActualSpend:   2400,
		BudgetedSpend: 2500,
	}
}

func TestEvaluateAutoExecute(t *testing.T) {
	f := newFixture(t, approval.OverlapReject, false)

	rec, err := f.evaluator.EvaluateSnapshot(context.Background(), nominalSnapshot("google_ads"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if rec.Tier != decision.TierAutoExecute {
		t.Fatalf("tier=%q, want auto_execute", rec.Tier)
	}

	stored, err := f.auditLog.Get(rec.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if stored.ExecutedAt == nil {
		t.Error("auto-executed record should carry an execution timestamp")
	}

	// Silent tier: nothing goes out.
	if len(f.dispatched.sent) != 0 {
		t.Errorf("expected no notifications, got %d", len(f.dispatched.sent))
	}
}

func TestEvaluateApprovalRequested(t *testing.T) {
	f := newFixture(t, approval.OverlapReject, false)

	snap := nominalSnapshot("google_ads")
	snap.ActualCAC = 18.50
	snap.BaselineCAC = 14.80 // ~25% spike over baseline
	snap.TargetCAC = 18.0

	rec, err := f.evaluator.EvaluateSnapshot(context.Background(), snap)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if rec.Tier != decision.TierRequestApproval {
		t.Fatalf("tier=%q, want request_approval", rec.Tier)
	}

	wf, err := f.approvals.Get(rec.ID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if wf.Status != approval.StatusPending {
		t.Errorf("workflow status=%q, want PENDING", wf.Status)
	}

	if len(f.dispatched.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.dispatched.sent))
	}
	if f.dispatched.sent[0].RecordID != rec.ID {
		t.Errorf("notification record=%q, want %q", f.dispatched.sent[0].RecordID, rec.ID)
	}
}

func TestEvaluateAlert(t *testing.T) {
	f := newFixture(t, approval.OverlapReject, false)

	snap := nominalSnapshot("meta_ads")
	snap.ActualROAS = 1.7 // below hard floor

	rec, err := f.evaluator.EvaluateSnapshot(context.Background(), snap)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if rec.Tier != decision.TierAlertImmediately {
		t.Fatalf("tier=%q, want alert_immediately", rec.Tier)
	}

	// Alerts never open approval workflows.
	if _, err := f.approvals.Get(rec.ID); err == nil {
		t.Error("alert must not create a workflow")
	}

	if len(f.dispatched.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.dispatched.sent))
	}
	if f.dispatched.sent[0].Tier != decision.TierAlertImmediately {
		t.Errorf("notification tier=%q, want alert", f.dispatched.sent[0].Tier)
	}
}

func TestEvaluateInvalidSnapshotDegrades(t *testing.T) {
	f := newFixture(t, approval.OverlapReject, false)

	snap := nominalSnapshot("google_ads")
	snap.TargetCAC = 0

	rec, err := f.evaluator.EvaluateSnapshot(context.Background(), snap)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if rec.Tier != decision.TierRequestApproval {
		t.Fatalf("tier=%q, want request_approval", rec.Tier)
	}
	if !rec.HasTrigger(decision.TriggerInvalidSnapshot) {
		t.Error("expected invalid_snapshot trigger")
	}
}

func TestCalibrationModeDemotesAutoExecute(t *testing.T) {
	f := newFixture(t, approval.OverlapReject, true)

	rec, err := f.evaluator.EvaluateSnapshot(context.Background(), nominalSnapshot("google_ads"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if rec.Tier != decision.TierRequestApproval {
		t.Fatalf("tier=%q, want request_approval under calibration mode", rec.Tier)
	}
	if !rec.HasTrigger(decision.TriggerCalibrationMode) {
		t.Error("expected calibration_mode trigger")
	}

	wf, err := f.approvals.Get(rec.ID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if wf.Status != approval.StatusPending {
		t.Errorf("workflow status=%q, want PENDING", wf.Status)
	}
}

func TestCalibrationModeClearedByPromote(t *testing.T) {
	f := newFixture(t, approval.OverlapReject, true)

	if err := f.rules.Promote(); err != nil {
		t.Fatalf("promote: %v", err)
	}

	rec, err := f.evaluator.EvaluateSnapshot(context.Background(), nominalSnapshot("google_ads"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if rec.Tier != decision.TierAutoExecute {
		t.Errorf("tier=%q, want auto_execute after promotion", rec.Tier)
	}
}

func TestOverlapMergeAnnotatesActiveRecord(t *testing.T) {
	f := newFixture(t, approval.OverlapMerge, false)

	snap := nominalSnapshot("google_ads")
	snap.ActualCAC = 18.50
	snap.BaselineCAC = 14.80
	snap.TargetCAC = 18.0

	first, err := f.evaluator.EvaluateSnapshot(context.Background(), snap)
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}

	second, err := f.evaluator.EvaluateSnapshot(context.Background(), snap)
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}

	// Merged decision keeps its record but no workflow of its own.
	if _, err := f.approvals.Get(second.ID); err == nil {
		t.Error("merged decision must not get its own workflow")
	}

	active, err := f.auditLog.Get(first.ID)
	if err != nil {
		t.Fatalf("get active record: %v", err)
	}
	if len(active.Notes) != 1 {
		t.Fatalf("expected merge note on active record, got %d notes", len(active.Notes))
	}

	// Only the first approval went out.
	if len(f.dispatched.sent) != 1 {
		t.Errorf("expected 1 notification, got %d", len(f.dispatched.sent))
	}
}

func TestOverlapRejectAnnotatesNewRecord(t *testing.T) {
	f := newFixture(t, approval.OverlapReject, false)

	snap := nominalSnapshot("google_ads")
	snap.ActualCAC = 18.50
	snap.BaselineCAC = 14.80
	snap.TargetCAC = 18.0

	if _, err := f.evaluator.EvaluateSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	second, err := f.evaluator.EvaluateSnapshot(context.Background(), snap)
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}

	stored, err := f.auditLog.Get(second.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if len(stored.Notes) != 1 {
		t.Fatalf("expected overlap note, got %d notes", len(stored.Notes))
	}
}

func TestRunCycleCounts(t *testing.T) {
	f := newFixture(t, approval.OverlapQueue, false)

	alertSnap := nominalSnapshot("meta_ads")
	alertSnap.ActualROAS = 1.7

	spikeSnap := nominalSnapshot("tiktok_ads")
	spikeSnap.ActualCAC = 18.50
	spikeSnap.BaselineCAC = 14.80
	spikeSnap.TargetCAC = 18.0

	provider := &StaticProvider{Snapshots: []snapshot.MetricSnapshot{
		nominalSnapshot("google_ads"),
		alertSnap,
		spikeSnap,
	}}

	report, err := f.evaluator.RunCycle(context.Background(), provider)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if report.Evaluated != 3 {
		t.Errorf("evaluated=%d, want 3", report.Evaluated)
	}
	if report.Executed != 1 {
		t.Errorf("executed=%d, want 1", report.Executed)
	}
	if report.ApprovalsRequested != 1 {
		t.Errorf("approvals=%d, want 1", report.ApprovalsRequested)
	}
	if report.Alerts != 1 {
		t.Errorf("alerts=%d, want 1", report.Alerts)
	}
	if f.auditLog.Len() != 3 {
		t.Errorf("audit log has %d records, want 3", f.auditLog.Len())
	}
}

func TestSweepApprovalsNotesExpiry(t *testing.T) {
	f := newFixture(t, approval.OverlapReject, false)

	snap := nominalSnapshot("google_ads")
	snap.ActualCAC = 18.50
	snap.BaselineCAC = 14.80
	snap.TargetCAC = 18.0

	rec, err := f.evaluator.EvaluateSnapshot(context.Background(), snap)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if err := f.evaluator.SweepApprovals(time.Now().Add(100 * time.Hour)); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	wf, err := f.approvals.Get(rec.ID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if wf.Status != approval.StatusExpired {
		t.Errorf("workflow status=%q, want EXPIRED", wf.Status)
	}

	stored, err := f.auditLog.Get(rec.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if len(stored.Notes) != 1 {
		t.Errorf("expected expiry note, got %d notes", len(stored.Notes))
	}
}
