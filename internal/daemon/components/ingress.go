package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ballee/spendguard/internal/concurrency"
	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/daemon"
	"github.com/ballee/spendguard/internal/ingress"
)

type IngressComponent struct {
	cfg        *config.Config
	storesComp *StoresComponent

	ing       *ingress.Ingress
	processor *ingress.Processor

	initialized bool
	started     bool
}

func NewIngressComponent(cfg *config.Config, storesComp *StoresComponent) *IngressComponent {
	return &IngressComponent{cfg: cfg, storesComp: storesComp}
}

func (i *IngressComponent) Name() string {
	return "Ingress"
}

func (i *IngressComponent) Dependencies() []string {
	return []string{"Stores"}
}

func (i *IngressComponent) Init(ctx context.Context) error {
	if i.storesComp == nil {
		return fmt.Errorf("stores component not provided")
	}

	submitTimeout, err := config.DurationOrDefault(i.cfg.Ingress.SubmitTimeout, config.DefaultSubmitTimeout)
	if err != nil {
		return fmt.Errorf("parse ingress submit timeout: %w", err)
	}
	idempotencyTTL, err := config.DurationOrDefault(i.cfg.Ingress.IdempotencyTTL, config.DefaultIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("parse ingress idempotency ttl: %w", err)
	}

	i.ing = ingress.NewIngress(i.cfg.Ingress.QueueSize, ingress.RuntimeConfig{
		SubmitTimeout:  submitTimeout,
		IdempotencyTTL: idempotencyTTL,
	}, i.storesComp.Idempotency())

	i.processor = ingress.NewProcessor(i.ing, i.storesComp.Approvals(), i.storesComp.AuditLog(), i.cfg.Approval.AutoExecute)

	i.initialized = true
	slog.Info("Ingress initialized", "component", i.Name())
	return nil
}

func (i *IngressComponent) Start(ctx context.Context) error {
	if !i.initialized {
		return fmt.Errorf("ingress component not initialized")
	}

	concurrency.SafeGo(func() {
		i.processor.Run(ctx)
	}, func(v interface{}) {
		slog.Error("Ingress processor panicked", "panic", v)
	})

	i.started = true
	slog.Info("Ingress started", "component", i.Name())
	return nil
}

func (i *IngressComponent) Stop(ctx context.Context) error {
	if !i.started {
		return nil
	}
	i.started = false
	return i.ing.Close()
}

func (i *IngressComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if !i.initialized {
		return &daemon.ComponentHealth{Name: i.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if err := i.ing.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: i.Name(), Healthy: false, Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: i.Name(), Healthy: true}, nil
}

func (i *IngressComponent) GetIngress() *ingress.Ingress {
	return i.ing
}

func (i *IngressComponent) GetProcessor() *ingress.Processor {
	return i.processor
}
