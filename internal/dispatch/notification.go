package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/ballee/spendguard/internal/decision"
)

// Notification is the outbound payload for a classified decision. The same
// payload serves all three tiers; Format renders the tier-appropriate text.
type Notification struct {
	RecordID       string
	ChannelID      string
	Tier           decision.Tier
	Triggers       []decision.Trigger
	Action         string
	ProjectedCAC   float64
	UrgencyWindow  time.Duration
	RulesetVersion int
}

func (n *Notification) Format() string {
	var b strings.Builder

	switch n.Tier {
	case decision.TierAlertImmediately:
		fmt.Fprintf(&b, "ALERT [%s] channel=%s\n", n.RecordID, n.ChannelID)
	case decision.TierRequestApproval:
		fmt.Fprintf(&b, "APPROVAL NEEDED [%s] channel=%s\n", n.RecordID, n.ChannelID)
	default:
		fmt.Fprintf(&b, "EXECUTED [%s] channel=%s\n", n.RecordID, n.ChannelID)
	}

	if len(n.Triggers) > 0 {
		parts := make([]string, 0, len(n.Triggers))
		for _, tr := range n.Triggers {
			parts = append(parts, fmt.Sprintf("%s (measured %.2f, threshold %.2f)", tr.Name, tr.Measured, tr.Threshold))
		}
		fmt.Fprintf(&b, "Triggers: %s\n", strings.Join(parts, "; "))
	}

	if n.Action != "" {
		fmt.Fprintf(&b, "Action: %s\n", n.Action)
	}
	if n.ProjectedCAC > 0 {
		fmt.Fprintf(&b, "Projected CAC: %.2f\n", n.ProjectedCAC)
	}
	fmt.Fprintf(&b, "Ruleset: v%d\n", n.RulesetVersion)

	switch n.Tier {
	case decision.TierAlertImmediately:
		fmt.Fprintf(&b, "Acknowledge within %s", formatWindow(n.UrgencyWindow))
	case decision.TierRequestApproval:
		fmt.Fprintf(&b, "Respond within %s: approve %s | reject %s", formatWindow(n.UrgencyWindow), n.RecordID, n.RecordID)
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatWindow(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return d.String()
}
