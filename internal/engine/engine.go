package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ballee/spendguard/internal/approval"
	"github.com/ballee/spendguard/internal/audit"
	"github.com/ballee/spendguard/internal/classifier"
	"github.com/ballee/spendguard/internal/concurrency"
	"github.com/ballee/spendguard/internal/decision"
	"github.com/ballee/spendguard/internal/dispatch"
	"github.com/ballee/spendguard/internal/errors"
	"github.com/ballee/spendguard/internal/recommend"
	"github.com/ballee/spendguard/internal/rules"
	"github.com/ballee/spendguard/internal/snapshot"
)

// Evaluator runs the decision pipeline for metric snapshots: classify,
// recommend, persist to the audit log, then route by tier. The audit append
// is the commit point; everything after it is delivery.
type Evaluator struct {
	rulesStore  *rules.Store
	auditLog    *audit.Log
	approvals   *approval.Engine
	recommender *recommend.Builder
	dispatcher  dispatch.Dispatcher
	locks       *concurrency.ChannelLockManager
}

func NewEvaluator(
	rulesStore *rules.Store,
	auditLog *audit.Log,
	approvals *approval.Engine,
	recommender *recommend.Builder,
	dispatcher dispatch.Dispatcher,
) *Evaluator {
	return &Evaluator{
		rulesStore:  rulesStore,
		auditLog:    auditLog,
		approvals:   approvals,
		recommender: recommender,
		dispatcher:  dispatcher,
		locks:       concurrency.NewChannelLockManager(),
	}
}

// CycleReport summarizes one evaluation run.
type CycleReport struct {
	Evaluated          int
	Executed           int
	ApprovalsRequested int
	Alerts             int
	Skipped            int
	RecordIDs          []string
}

// RunCycle evaluates every snapshot the provider supplies. A Configuration
// error on one snapshot skips it and surfaces in the returned error; the
// remaining snapshots still run.
func (e *Evaluator) RunCycle(ctx context.Context, provider SnapshotProvider) (CycleReport, error) {
	var report CycleReport

	snaps, err := provider.Load(ctx)
	if err != nil {
		return report, errors.Wrap(err, "failed to load snapshots")
	}

	var firstErr error
	for i := range snaps {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		rec, err := e.EvaluateSnapshot(ctx, snaps[i])
		if err != nil {
			report.Skipped++
			slog.Error("Snapshot evaluation skipped", "channel", snaps[i].ChannelID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		report.Evaluated++
		report.RecordIDs = append(report.RecordIDs, rec.ID)
		switch rec.Tier {
		case decision.TierAutoExecute:
			report.Executed++
		case decision.TierRequestApproval:
			report.ApprovalsRequested++
		case decision.TierAlertImmediately:
			report.Alerts++
		}
	}

	slog.Info("Evaluation cycle complete",
		"evaluated", report.Evaluated,
		"executed", report.Executed,
		"approvals", report.ApprovalsRequested,
		"alerts", report.Alerts,
		"skipped", report.Skipped,
	)
	return report, firstErr
}

// EvaluateSnapshot runs one snapshot through the full pipeline and returns
// the committed decision record. Snapshots for the same channel are
// serialized; two periods for one channel never interleave.
func (e *Evaluator) EvaluateSnapshot(ctx context.Context, snap snapshot.MetricSnapshot) (*decision.Record, error) {
	e.locks.Lock(snap.ChannelID)
	defer e.locks.Unlock(snap.ChannelID)

	rs, err := e.rulesStore.Active()
	if err != nil {
		return nil, errors.Wrap(err, "no active rule set")
	}

	result, err := classifier.Classify(&snap, rs)
	if err != nil {
		return nil, err
	}

	tier := result.Tier
	triggers := result.Triggers

	// While thresholds are under calibration, nothing executes silently.
	if tier == decision.TierAutoExecute && e.rulesStore.CalibrationMode() {
		tier = decision.TierRequestApproval
		triggers = append(triggers, decision.Trigger{Name: decision.TriggerCalibrationMode})
		slog.Info("Calibration mode demoted auto execution", "channel", snap.ChannelID)
	}

	recommendation := e.recommender.Build(tier, &snap, triggers)
	rec := decision.NewRecord(snap, result.RulesetVersion, tier, triggers, recommendation)

	if err := e.auditLog.Append(rec); err != nil {
		return nil, errors.Wrap(err, "failed to commit decision record")
	}

	switch tier {
	case decision.TierAutoExecute:
		if err := e.executeSilently(rec); err != nil {
			return rec, err
		}
	case decision.TierRequestApproval:
		if err := e.requestApproval(ctx, rec); err != nil {
			return rec, err
		}
	case decision.TierAlertImmediately:
		e.notify(ctx, rec)
	}

	return rec, nil
}

func (e *Evaluator) executeSilently(rec *decision.Record) error {
	if err := e.auditLog.SetExecuted(rec.ID, time.Now()); err != nil {
		return errors.Wrap(err, "failed to mark record executed")
	}
	slog.Debug("Decision auto-executed", "record", rec.ID, "channel", rec.Snapshot.ChannelID)
	return nil
}

func (e *Evaluator) requestApproval(ctx context.Context, rec *decision.Record) error {
	res, err := e.approvals.Create(rec.ID, rec.Snapshot.ChannelID)
	if err != nil {
		return errors.Wrap(err, "failed to create approval workflow")
	}

	switch res.Outcome {
	case approval.OutcomeCreated:
		e.notify(ctx, rec)

	case approval.OutcomeQueued:
		note := decision.Note{
			At:     time.Now(),
			Author: "engine",
			Text:   fmt.Sprintf("approval queued behind active workflow %s", res.ActiveID),
		}
		if err := e.auditLog.AddNote(rec.ID, note); err != nil {
			slog.Warn("Failed to note queued approval", "record", rec.ID, "error", err)
		}
		e.notify(ctx, rec)

	case approval.OutcomeMerged:
		// The decision folds into the already-open request for this
		// channel: the record stays in the log, the active workflow's
		// record points at it.
		note := decision.Note{
			At:     time.Now(),
			Author: "engine",
			Text:   fmt.Sprintf("merged decision %s into this approval", rec.ID),
		}
		if err := e.auditLog.AddNote(res.ActiveID, note); err != nil {
			slog.Warn("Failed to note merged approval", "record", res.ActiveID, "error", err)
		}

	case approval.OutcomeRejected:
		note := decision.Note{
			At:     time.Now(),
			Author: "engine",
			Text:   fmt.Sprintf("approval not requested, channel has active workflow %s", res.ActiveID),
		}
		if err := e.auditLog.AddNote(rec.ID, note); err != nil {
			slog.Warn("Failed to note overlapped approval", "record", rec.ID, "error", err)
		}
	}

	return nil
}

// notify delivers the outbound notification. Delivery failure never fails
// the evaluation: the record is already committed and the approval deadline
// sweep will expire it if nobody ever sees it.
func (e *Evaluator) notify(ctx context.Context, rec *decision.Record) {
	if e.dispatcher == nil {
		return
	}

	n := &dispatch.Notification{
		RecordID:       rec.ID,
		ChannelID:      rec.Snapshot.ChannelID,
		Tier:           rec.Tier,
		Triggers:       rec.Triggers,
		Action:         rec.Recommendation.Action,
		ProjectedCAC:   rec.Recommendation.ProjectedCAC,
		UrgencyWindow:  rec.Recommendation.UrgencyWindow,
		RulesetVersion: rec.RulesetVersion,
	}

	if err := e.dispatcher.Send(ctx, n); err != nil {
		slog.Error("Notification dispatch failed", "record", rec.ID, "error", err)
	}
}

// SweepApprovals expires overdue workflows and syncs the expiry into the
// audit log as notes.
func (e *Evaluator) SweepApprovals(now time.Time) error {
	expired, err := e.approvals.Sweep(now)
	if err != nil {
		return err
	}

	for _, recordID := range expired {
		note := decision.Note{
			At:     now,
			Author: "engine",
			Text:   "approval window expired without response",
		}
		if err := e.auditLog.AddNote(recordID, note); err != nil {
			slog.Warn("Failed to note expiry", "record", recordID, "error", err)
		}
	}

	return nil
}
