package approval

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ballee/spendguard/internal/errors"
)

func newTestEngine(t *testing.T, window time.Duration, policy OverlapPolicy) *Engine {
	t.Helper()
	engine, err := NewEngine(filepath.Join(t.TempDir(), "approvals.json"), window, policy)
	if err != nil {
		t.Fatalf("Failed to init engine: %v", err)
	}
	return engine
}

func TestEngine_ApproveAndExecute(t *testing.T) {
	engine := newTestEngine(t, time.Hour, OverlapReject)

	res, err := engine.Create("rec-1", "google_ads")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Fatalf("Expected created, got %s", res.Outcome)
	}
	if res.Workflow.Status != StatusPending {
		t.Errorf("Expected PENDING, got %s", res.Workflow.Status)
	}

	if err := engine.Resolve("rec-1", true, "ops@ballee"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	wf, err := engine.Get("rec-1")
	if err != nil {
		t.Fatal(err)
	}
	if wf.Status != StatusApproved {
		t.Errorf("Expected APPROVED, got %s", wf.Status)
	}
	if wf.Responder != "ops@ballee" {
		t.Errorf("Expected responder recorded, got %q", wf.Responder)
	}

	executedAt, err := engine.MarkExecuted("rec-1")
	if err != nil {
		t.Fatalf("MarkExecuted failed: %v", err)
	}
	if executedAt.IsZero() {
		t.Error("Expected executed timestamp")
	}

	wf, _ = engine.Get("rec-1")
	if wf.Status != StatusExecuted {
		t.Errorf("Expected EXECUTED, got %s", wf.Status)
	}
}

func TestEngine_TerminalStatesRejectTransitions(t *testing.T) {
	engine := newTestEngine(t, time.Hour, OverlapReject)

	if _, err := engine.Create("rec-1", "meta_ads"); err != nil {
		t.Fatal(err)
	}
	if err := engine.Resolve("rec-1", false, "ops"); err != nil {
		t.Fatal(err)
	}

	// REJECTED is terminal
	if err := engine.Resolve("rec-1", true, "ops"); !errors.IsCategory(err, errors.ErrStateViolation) {
		t.Errorf("Expected state violation on resolved workflow, got %v", err)
	}
	if _, err := engine.MarkExecuted("rec-1"); !errors.IsCategory(err, errors.ErrStateViolation) {
		t.Errorf("Expected state violation executing rejected workflow, got %v", err)
	}
}

func TestEngine_ExpiryIsAutomaticAndFinal(t *testing.T) {
	engine := newTestEngine(t, time.Minute, OverlapReject)

	if _, err := engine.Create("rec-1", "meta_ads"); err != nil {
		t.Fatal(err)
	}

	// No human interaction; the sweep alone must expire it.
	expired, err := engine.Sweep(time.Now().Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(expired) != 1 || expired[0] != "rec-1" {
		t.Fatalf("Expected rec-1 expired, got %v", expired)
	}

	// Idempotent: re-sweep is a no-op, not an error.
	expired, err = engine.Sweep(time.Now().Add(3 * time.Minute))
	if err != nil {
		t.Fatalf("Re-sweep failed: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("Re-sweep must be a no-op, got %v", expired)
	}

	// A late response does not reopen the workflow.
	err = engine.Resolve("rec-1", true, "ops")
	if !errors.IsCategory(err, errors.ErrStateViolation) {
		t.Errorf("Expected state violation on late response, got %v", err)
	}
}

func TestEngine_OverlapReject(t *testing.T) {
	engine := newTestEngine(t, time.Hour, OverlapReject)

	if _, err := engine.Create("rec-1", "google_ads"); err != nil {
		t.Fatal(err)
	}

	res, err := engine.Create("rec-2", "google_ads")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if res.Outcome != OutcomeRejected {
		t.Errorf("Expected rejected outcome, got %s", res.Outcome)
	}
	if res.ActiveID != "rec-1" {
		t.Errorf("Expected active rec-1, got %s", res.ActiveID)
	}
	if _, err := engine.Get("rec-2"); !errors.IsCategory(err, errors.ErrNotFound) {
		t.Errorf("Rejected workflow must not be stored, got %v", err)
	}

	// A different channel is unaffected.
	res, err = engine.Create("rec-3", "meta_ads")
	if err != nil || res.Outcome != OutcomeCreated {
		t.Errorf("Expected created for other channel, got %s %v", res.Outcome, err)
	}
}

func TestEngine_OverlapQueue(t *testing.T) {
	engine := newTestEngine(t, time.Hour, OverlapQueue)

	if _, err := engine.Create("rec-1", "google_ads"); err != nil {
		t.Fatal(err)
	}

	res, err := engine.Create("rec-2", "google_ads")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeQueued {
		t.Fatalf("Expected queued, got %s", res.Outcome)
	}

	wf, _ := engine.Get("rec-2")
	if wf.Status != StatusQueued {
		t.Errorf("Expected QUEUED, got %s", wf.Status)
	}

	// Resolving the active workflow promotes the queued one.
	if err := engine.Resolve("rec-1", false, "ops"); err != nil {
		t.Fatal(err)
	}
	wf, _ = engine.Get("rec-2")
	if wf.Status != StatusPending {
		t.Errorf("Expected promoted to PENDING, got %s", wf.Status)
	}
	if wf.Deadline.IsZero() {
		t.Error("Promoted workflow must have a deadline")
	}
}

func TestEngine_OverlapQueuePromotedByExpiry(t *testing.T) {
	engine := newTestEngine(t, time.Minute, OverlapQueue)

	if _, err := engine.Create("rec-1", "google_ads"); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Create("rec-2", "google_ads"); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Sweep(time.Now().Add(2 * time.Minute)); err != nil {
		t.Fatal(err)
	}

	wf, _ := engine.Get("rec-1")
	if wf.Status != StatusExpired {
		t.Errorf("Expected rec-1 EXPIRED, got %s", wf.Status)
	}
	wf, _ = engine.Get("rec-2")
	if wf.Status != StatusPending {
		t.Errorf("Expected rec-2 promoted to PENDING, got %s", wf.Status)
	}
}

func TestEngine_OverlapMerge(t *testing.T) {
	engine := newTestEngine(t, time.Hour, OverlapMerge)

	if _, err := engine.Create("rec-1", "google_ads"); err != nil {
		t.Fatal(err)
	}

	res, err := engine.Create("rec-2", "google_ads")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeMerged {
		t.Errorf("Expected merged, got %s", res.Outcome)
	}
	if res.Workflow != nil {
		t.Error("Merged create must not produce a second workflow")
	}
	if res.ActiveID != "rec-1" {
		t.Errorf("Expected active rec-1, got %s", res.ActiveID)
	}
}

func TestEngine_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "approvals.json")

	engine, err := NewEngine(path, time.Hour, OverlapReject)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Create("rec-1", "google_ads"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewEngine(path, time.Hour, OverlapReject)
	if err != nil {
		t.Fatal(err)
	}
	wf, err := reloaded.Get("rec-1")
	if err != nil {
		t.Fatalf("Workflow lost across restart: %v", err)
	}
	if wf.Status != StatusPending {
		t.Errorf("Expected PENDING after reload, got %s", wf.Status)
	}
}

func TestEngine_ListFiltersByStatus(t *testing.T) {
	engine := newTestEngine(t, time.Hour, OverlapReject)

	if _, err := engine.Create("rec-1", "google_ads"); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Create("rec-2", "meta_ads"); err != nil {
		t.Fatal(err)
	}
	if err := engine.Resolve("rec-2", true, "ops"); err != nil {
		t.Fatal(err)
	}

	pending := engine.List(StatusPending)
	if len(pending) != 1 || pending[0].RecordID != "rec-1" {
		t.Errorf("Expected one pending workflow rec-1, got %v", pending)
	}

	all := engine.List()
	if len(all) != 2 {
		t.Errorf("Expected 2 workflows, got %d", len(all))
	}
}

func TestEngine_UnknownPolicyRejected(t *testing.T) {
	_, err := NewEngine(filepath.Join(t.TempDir(), "approvals.json"), time.Hour, OverlapPolicy("drop"))
	if !errors.IsCategory(err, errors.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}
