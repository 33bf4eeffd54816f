package recommend

import (
	"fmt"
	"time"

	"github.com/ballee/spendguard/internal/classifier"
	"github.com/ballee/spendguard/internal/decision"
	"github.com/ballee/spendguard/internal/snapshot"
)

// Builder derives the proposed action for a classified snapshot. It is
// deterministic given its inputs: no randomness, no hidden state, so
// recommendations can be replayed against historical snapshots.
type Builder struct {
	approvalWindow time.Duration
	alertWindow    time.Duration
}

func NewBuilder(approvalWindow, alertWindow time.Duration) *Builder {
	return &Builder{
		approvalWindow: approvalWindow,
		alertWindow:    alertWindow,
	}
}

// Build produces the action description, projected impact and urgency window
// for a tier + snapshot + triggers combination.
//
// Projections use linear extrapolation from current spend/conversion ratios.
// That is an approximation of how the channel would respond, not ground
// truth; actual impact lands in the decision record's outcome later.
func (b *Builder) Build(tier decision.Tier, snap *snapshot.MetricSnapshot, triggers []decision.Trigger) decision.Recommendation {
	rec := decision.Recommendation{
		UrgencyWindow: b.urgencyFor(tier),
	}

	switch tier {
	case decision.TierAlertImmediately:
		rec.Action = b.alertAction(snap, triggers)
		// Projected impact of pausing: spend stops, CAC holds at last reading.
		rec.ProjectedCAC = snap.ActualCAC
		rec.ProjectedImpact = -overspend(snap)

	case decision.TierRequestApproval:
		rec.Action = b.approvalAction(snap, triggers)
		rec.ProjectedCAC = projectedCAC(snap)
		rec.ProjectedImpact = snap.BudgetedSpend * snap.ProposedBudgetShiftRatio

	case decision.TierAutoExecute:
		rec.Action = fmt.Sprintf("maintain budget for %s at %.2f; metrics within all bands", snap.ChannelID, snap.BudgetedSpend)
		rec.ProjectedCAC = projectedCAC(snap)
		rec.ProjectedImpact = 0
	}

	return rec
}

func (b *Builder) urgencyFor(tier decision.Tier) time.Duration {
	switch tier {
	case decision.TierAlertImmediately:
		return b.alertWindow
	case decision.TierRequestApproval:
		return b.approvalWindow
	default:
		return 0
	}
}

func (b *Builder) alertAction(snap *snapshot.MetricSnapshot, triggers []decision.Trigger) string {
	for _, trig := range triggers {
		switch trig.Name {
		case classifier.TriggerBudgetOverrun:
			return fmt.Sprintf("pause spend on %s: %.0f%% over budget", snap.ChannelID, trig.Measured*100)
		case classifier.TriggerROASFloor:
			return fmt.Sprintf("pause spend on %s: ROAS %.2f below floor %.2f", snap.ChannelID, trig.Measured, trig.Threshold)
		case classifier.TriggerCACCeiling:
			return fmt.Sprintf("pause spend on %s: CAC %.2f above hard ceiling %.2f", snap.ChannelID, trig.Measured, trig.Threshold)
		}
	}
	return fmt.Sprintf("pause spend on %s pending review", snap.ChannelID)
}

func (b *Builder) approvalAction(snap *snapshot.MetricSnapshot, triggers []decision.Trigger) string {
	for _, trig := range triggers {
		switch trig.Name {
		case decision.TriggerInvalidSnapshot:
			return fmt.Sprintf("review %s manually: snapshot failed data-quality checks", snap.ChannelID)
		case classifier.TriggerReallocation:
			return fmt.Sprintf("approve %.0f%% budget shift for %s", snap.ProposedBudgetShiftRatio*100, snap.ChannelID)
		case classifier.TriggerCACSpike:
			return fmt.Sprintf("review %s: CAC spiked %.0f%% over trailing baseline", snap.ChannelID, trig.Measured*100)
		case classifier.TriggerNewCampaign:
			return fmt.Sprintf("approve launch budget for new campaign on %s", snap.ChannelID)
		}
	}
	return fmt.Sprintf("review %s: metrics outside auto-execution bands", snap.ChannelID)
}

// projectedCAC extrapolates next-period CAC linearly from the current
// spend-to-conversion relationship, under the proposed budget shift.
func projectedCAC(snap *snapshot.MetricSnapshot) float64 {
	if snap.ActualCAC == 0 || snap.ActualSpend == 0 {
		return snap.ActualCAC
	}
	conversions := snap.ActualSpend / snap.ActualCAC
	nextSpend := snap.BudgetedSpend * (1 + snap.ProposedBudgetShiftRatio)
	if conversions == 0 || nextSpend == 0 {
		return snap.ActualCAC
	}
	// Linear: conversions scale with spend at the current ratio.
	nextConversions := conversions * (nextSpend / snap.ActualSpend)
	return nextSpend / nextConversions
}

func overspend(snap *snapshot.MetricSnapshot) float64 {
	if snap.ActualSpend > snap.BudgetedSpend {
		return snap.ActualSpend - snap.BudgetedSpend
	}
	return 0
}
