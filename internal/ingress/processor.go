package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ballee/spendguard/internal/approval"
	"github.com/ballee/spendguard/internal/audit"
	"github.com/ballee/spendguard/internal/decision"
	"github.com/ballee/spendguard/internal/errors"
)

// Processor drains the ingress queue and applies each human response to the
// approval workflow and the audit log. Responses that arrive after a
// workflow reached a terminal state never mutate the record; they are
// preserved as notes.
type Processor struct {
	ingress   *Ingress
	approvals *approval.Engine
	auditLog  *audit.Log

	// autoExecute marks approved workflows executed at approval time. When
	// false, workflows stay APPROVED until MarkExecuted confirms the apply.
	autoExecute bool
}

func NewProcessor(ing *Ingress, approvals *approval.Engine, auditLog *audit.Log, autoExecute bool) *Processor {
	return &Processor{
		ingress:     ing,
		approvals:   approvals,
		auditLog:    auditLog,
		autoExecute: autoExecute,
	}
}

// Run consumes response events until the context is cancelled or the queue
// is closed.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-p.ingress.Queue():
			if !ok {
				return
			}
			if err := p.Apply(evt); err != nil {
				slog.Error("Failed to apply response", "record", evt.RecordID, "error", err)
			}
		}
	}
}

// Apply resolves a single response against the workflow and audit log.
func (p *Processor) Apply(evt *Event) error {
	approved := evt.Response == "approved"

	err := p.approvals.Resolve(evt.RecordID, approved, evt.Responder)
	if err == nil {
		hd := decision.HumanRejected
		if approved {
			hd = decision.HumanApproved
		}
		if err := p.auditLog.SetHumanDecision(evt.RecordID, hd); err != nil {
			return errors.Wrap(err, "failed to record human decision")
		}

		if approved && p.autoExecute {
			executedAt, err := p.approvals.MarkExecuted(evt.RecordID)
			if err != nil {
				return errors.Wrap(err, "failed to mark workflow executed")
			}
			if err := p.auditLog.SetExecuted(evt.RecordID, executedAt); err != nil {
				return errors.Wrap(err, "failed to record execution")
			}
		}

		slog.Info("Response applied",
			"record", evt.RecordID,
			"response", evt.Response,
			"responder", evt.Responder,
		)
		return nil
	}

	if errors.IsCategory(err, errors.ErrNotFound) {
		slog.Warn("Response for unknown workflow", "record", evt.RecordID, "responder", evt.Responder)
		return err
	}

	if errors.IsCategory(err, errors.ErrStateViolation) {
		return p.noteLateResponse(evt)
	}

	return err
}

func (p *Processor) noteLateResponse(evt *Event) error {
	status := "resolved"
	if wf, err := p.approvals.Get(evt.RecordID); err == nil {
		status = string(wf.Status)
	}

	note := decision.Note{
		At:     time.Now(),
		Author: evt.Responder,
		Text:   fmt.Sprintf("late response %q via %s, workflow already %s", evt.Response, evt.Source, status),
	}

	if err := p.auditLog.AddNote(evt.RecordID, note); err != nil {
		return errors.Wrap(err, "failed to note late response")
	}

	slog.Info("Late response recorded as note",
		"record", evt.RecordID,
		"response", evt.Response,
		"status", status,
	)
	return nil
}

// Handler adapts the processor for adapter callbacks: it normalizes the raw
// platform response into an Event and submits it through ingress dedupe.
func (p *Processor) Handler() func(ctx context.Context, source, recordID, response, responder string, metadata map[string]string) error {
	return func(ctx context.Context, source, recordID, response, responder string, metadata map[string]string) error {
		evt := NewEvent(source, recordID, response, responder, metadata)
		return p.ingress.Submit(ctx, &evt)
	}
}
