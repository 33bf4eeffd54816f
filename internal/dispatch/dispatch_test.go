package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ballee/spendguard/internal/decision"
	"github.com/ballee/spendguard/internal/errors"
)

type recordingAdapter struct {
	name     string
	failSend bool

	mu      sync.Mutex
	targets []string
	bodies  []string
}

func (a *recordingAdapter) Name() string { return a.name }

func (a *recordingAdapter) Send(ctx context.Context, target string, content string) error {
	if a.failSend {
		return errors.Transient("send failed")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targets = append(a.targets, target)
	a.bodies = append(a.bodies, content)
	return nil
}

func (a *recordingAdapter) Health(ctx context.Context) error {
	if a.failSend {
		return errors.Transient("unhealthy")
	}
	return nil
}

func approvalNotification() *Notification {
	return &Notification{
		RecordID:  "01J5TESTREC",
		ChannelID: "google_ads",
		Tier:      decision.TierRequestApproval,
		Triggers: []decision.Trigger{
			{Name: "cac_spike", Measured: 0.25, Threshold: 0.20},
		},
		Action:         "hold proposed budget shift pending approval",
		ProjectedCAC:   18.50,
		UrgencyWindow:  72 * time.Hour,
		RulesetVersion: 3,
	}
}

func TestDispatcherRegister(t *testing.T) {
	d := NewDispatcher()

	if err := d.Register(nil, Route{Target: "x"}); err == nil {
		t.Error("expected error registering nil adapter")
	}

	a := &recordingAdapter{name: "slack"}
	if err := d.Register(a, Route{}); err == nil {
		t.Error("expected error registering empty target")
	}

	if err := d.Register(a, Route{Target: "C123"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := d.Register(a, Route{Target: "C123"}); !errors.IsCategory(err, errors.ErrConflict) {
		t.Errorf("expected conflict on duplicate register, got %v", err)
	}

	names := d.ListAdapters()
	if len(names) != 1 || names[0] != "slack" {
		t.Errorf("unexpected adapter list: %v", names)
	}
}

func TestDispatcherSendFansOut(t *testing.T) {
	d := NewDispatcher()
	a1 := &recordingAdapter{name: "slack"}
	a2 := &recordingAdapter{name: "telegram"}

	if err := d.Register(a1, Route{Target: "C123"}); err != nil {
		t.Fatalf("register slack: %v", err)
	}
	if err := d.Register(a2, Route{Target: "987654"}); err != nil {
		t.Fatalf("register telegram: %v", err)
	}

	if err := d.Send(context.Background(), approvalNotification()); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if len(a1.bodies) != 1 || len(a2.bodies) != 1 {
		t.Fatalf("expected one delivery per adapter, got slack=%d telegram=%d", len(a1.bodies), len(a2.bodies))
	}
	if a1.targets[0] != "C123" {
		t.Errorf("slack target=%q, want C123", a1.targets[0])
	}
}

func TestDispatcherAlertTargetOverride(t *testing.T) {
	d := NewDispatcher()
	a := &recordingAdapter{name: "slack"}
	if err := d.Register(a, Route{Target: "C123", AlertTarget: "C-ONCALL"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	n := approvalNotification()
	n.Tier = decision.TierAlertImmediately
	n.UrgencyWindow = 4 * time.Hour

	if err := d.Send(context.Background(), n); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if a.targets[0] != "C-ONCALL" {
		t.Errorf("alert routed to %q, want C-ONCALL", a.targets[0])
	}
	if !strings.HasPrefix(a.bodies[0], "ALERT") {
		t.Errorf("alert body should start with ALERT, got %q", a.bodies[0])
	}
}

func TestDispatcherPartialFailure(t *testing.T) {
	d := NewDispatcher()
	healthy := &recordingAdapter{name: "slack"}
	broken := &recordingAdapter{name: "telegram", failSend: true}

	if err := d.Register(healthy, Route{Target: "C123"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Register(broken, Route{Target: "987"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// One adapter down is tolerated, the notification still lands.
	if err := d.Send(context.Background(), approvalNotification()); err != nil {
		t.Fatalf("expected partial delivery to succeed, got %v", err)
	}
	if len(healthy.bodies) != 1 {
		t.Errorf("expected delivery on healthy adapter")
	}
}

func TestDispatcherAllFailed(t *testing.T) {
	d := NewDispatcher()
	broken := &recordingAdapter{name: "telegram", failSend: true}
	if err := d.Register(broken, Route{Target: "987"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := d.Send(context.Background(), approvalNotification())
	if !errors.IsCategory(err, errors.ErrTransient) {
		t.Errorf("expected transient error when all adapters fail, got %v", err)
	}
}

func TestDispatcherSendNoAdapters(t *testing.T) {
	d := NewDispatcher()
	err := d.Send(context.Background(), approvalNotification())
	if !errors.IsCategory(err, errors.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestDispatcherHealth(t *testing.T) {
	d := NewDispatcher()
	if err := d.Health(context.Background()); err == nil {
		t.Error("expected error with no adapters")
	}

	if err := d.Register(&recordingAdapter{name: "ok"}, Route{Target: "x"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Health(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}

	if err := d.Register(&recordingAdapter{name: "bad", failSend: true}, Route{Target: "y"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Health(context.Background()); !errors.IsCategory(err, errors.ErrTransient) {
		t.Errorf("expected transient health error, got %v", err)
	}
}

func TestNotificationFormat(t *testing.T) {
	n := approvalNotification()
	got := n.Format()

	for _, want := range []string{
		"APPROVAL NEEDED [01J5TESTREC] channel=google_ads",
		"cac_spike (measured 0.25, threshold 0.20)",
		"Projected CAC: 18.50",
		"Ruleset: v3",
		"Respond within 72h: approve 01J5TESTREC | reject 01J5TESTREC",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatted notification missing %q:\n%s", want, got)
		}
	}

	n.Tier = decision.TierAutoExecute
	if !strings.HasPrefix(n.Format(), "EXECUTED") {
		t.Errorf("auto execute notice should start with EXECUTED")
	}
}
