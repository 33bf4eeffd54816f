package components

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ballee/spendguard/internal/calibration"
	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/daemon"
	"github.com/ballee/spendguard/internal/dispatch"
	"github.com/ballee/spendguard/internal/engine"
	"github.com/ballee/spendguard/internal/errors"
	"github.com/ballee/spendguard/internal/recommend"
	"github.com/ballee/spendguard/internal/scheduler"
)

// EngineComponent owns the evaluation pipeline and the calibration loop,
// and is the scheduler's task runner.
type EngineComponent struct {
	cfg        *config.Config
	storesComp *StoresComponent
	dispatcher *dispatch.DefaultDispatcher

	evaluator   *engine.Evaluator
	calibrator  *calibration.Loop
	provider    engine.SnapshotProvider
	initialized bool
}

func NewEngineComponent(cfg *config.Config, storesComp *StoresComponent, dispatcher *dispatch.DefaultDispatcher) *EngineComponent {
	return &EngineComponent{cfg: cfg, storesComp: storesComp, dispatcher: dispatcher}
}

func (e *EngineComponent) Name() string {
	return "Engine"
}

func (e *EngineComponent) Dependencies() []string {
	return []string{"Stores", "Adapters"}
}

func (e *EngineComponent) Init(ctx context.Context) error {
	if e.storesComp == nil {
		return fmt.Errorf("stores component not provided")
	}

	approvalWindow, err := config.DurationOrDefault(e.cfg.Approval.ApprovalWindow, config.DefaultApprovalWindow)
	if err != nil {
		return fmt.Errorf("parse approval window: %w", err)
	}
	alertWindow, err := config.DurationOrDefault(e.cfg.Approval.AlertWindow, config.DefaultAlertWindow)
	if err != nil {
		return fmt.Errorf("parse alert window: %w", err)
	}

	e.evaluator = engine.NewEvaluator(
		e.storesComp.RulesStore(),
		e.storesComp.AuditLog(),
		e.storesComp.Approvals(),
		recommend.NewBuilder(approvalWindow, alertWindow),
		e.dispatcher,
	)

	e.calibrator = calibration.NewLoop(
		e.storesComp.AuditLog(),
		e.storesComp.RulesStore(),
		e.cfg.Calibration.Tolerance,
		e.cfg.Calibration.StepRatio,
		e.cfg.Calibration.MaxStepRatio,
	)

	if e.cfg.Provider.InboxPath != "" {
		provider, err := engine.NewFileProvider(e.cfg.Provider.InboxPath)
		if err != nil {
			return fmt.Errorf("build snapshot provider: %w", err)
		}
		e.provider = provider
	} else {
		slog.Warn("No snapshot inbox configured, scheduled evaluation runs will be skipped")
	}

	e.initialized = true
	slog.Info("Engine initialized", "component", e.Name())
	return nil
}

func (e *EngineComponent) Start(ctx context.Context) error {
	if !e.initialized {
		return fmt.Errorf("engine component not initialized")
	}
	return nil
}

func (e *EngineComponent) Stop(ctx context.Context) error {
	return nil
}

func (e *EngineComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if !e.initialized {
		return &daemon.ComponentHealth{Name: e.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	return &daemon.ComponentHealth{Name: e.Name(), Healthy: true}, nil
}

// RunTask dispatches scheduler fires to the pipeline.
func (e *EngineComponent) RunTask(ctx context.Context, taskID string) error {
	switch taskID {
	case scheduler.TaskEvaluate:
		if e.provider == nil {
			return errors.Configuration("no snapshot inbox configured")
		}
		_, err := e.evaluator.RunCycle(ctx, e.provider)
		return err

	case scheduler.TaskCalibrate:
		end := time.Now()
		start := end.AddDate(0, -1, 0)
		report, err := e.calibrator.Run(ctx, start, end)
		if err != nil {
			return err
		}
		if report != nil && report.ProposedVersion > 0 {
			slog.Info("Calibration proposed new rule set",
				"from_version", report.RulesetVersion,
				"proposed_version", report.ProposedVersion,
				"adjustments", len(report.Adjustments),
			)
		}
		return nil

	case scheduler.TaskSweep:
		return e.evaluator.SweepApprovals(time.Now())

	default:
		return errors.Configuration("unknown scheduled task: " + taskID)
	}
}

func (e *EngineComponent) Evaluator() *engine.Evaluator {
	return e.evaluator
}

func (e *EngineComponent) Calibrator() *calibration.Loop {
	return e.calibrator
}
