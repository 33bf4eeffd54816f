package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ballee/spendguard/internal/adapter"
	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/daemon"
	"github.com/ballee/spendguard/internal/dispatch"
)

// AdaptersComponent builds the platform adapters from config, starts the
// inbound listeners, and registers the outbound side with the dispatcher.
type AdaptersComponent struct {
	cfg         *config.Config
	ingressComp *IngressComponent
	dispatcher  *dispatch.DefaultDispatcher

	manager     *adapter.RuntimeManager
	initialized bool
	started     bool
}

func NewAdaptersComponent(cfg *config.Config, ingressComp *IngressComponent, dispatcher *dispatch.DefaultDispatcher) *AdaptersComponent {
	return &AdaptersComponent{cfg: cfg, ingressComp: ingressComp, dispatcher: dispatcher}
}

func (a *AdaptersComponent) Name() string {
	return "Adapters"
}

func (a *AdaptersComponent) Dependencies() []string {
	return []string{"Ingress"}
}

func (a *AdaptersComponent) Init(ctx context.Context) error {
	if a.ingressComp == nil {
		return fmt.Errorf("ingress component not provided")
	}
	if a.dispatcher == nil {
		return fmt.Errorf("dispatcher not provided")
	}

	processor := a.ingressComp.GetProcessor()
	if processor == nil {
		return fmt.Errorf("ingress processor not initialized")
	}

	// With no platform adapter configured the daemon falls back to the
	// console so decisions still surface somewhere.
	manager, err := adapter.NewRuntimeManager(a.cfg.Adapters, processor.Handler(), adapter.RuntimeAdapterOptions{
		IncludeCLI:          !a.cfg.Adapters.Slack.Enabled && !a.cfg.Adapters.Telegram.Enabled,
		RequireSlackSecrets: true,
	})
	if err != nil {
		return fmt.Errorf("build adapters: %w", err)
	}
	a.manager = manager

	for _, out := range manager.OutputAdapters() {
		target, ok := manager.TargetFor(out.Name())
		if !ok {
			continue
		}
		route := dispatch.Route{Target: target.Primary, AlertTarget: target.Alert}
		if err := a.dispatcher.Register(out, route); err != nil {
			return fmt.Errorf("register adapter %s: %w", out.Name(), err)
		}
	}

	a.initialized = true
	slog.Info("Adapters initialized", "component", a.Name(), "adapters", a.dispatcher.ListAdapters())
	return nil
}

func (a *AdaptersComponent) Start(ctx context.Context) error {
	if !a.initialized {
		return fmt.Errorf("adapters component not initialized")
	}
	a.manager.Start(ctx)
	a.started = true
	slog.Info("Adapters started", "component", a.Name())
	return nil
}

func (a *AdaptersComponent) Stop(ctx context.Context) error {
	if !a.started {
		return nil
	}
	err := a.manager.Stop(ctx)
	a.started = false
	if err != nil {
		return err
	}
	slog.Info("Adapters stopped", "component", a.Name())
	return nil
}

func (a *AdaptersComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if !a.initialized {
		return &daemon.ComponentHealth{Name: a.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if !a.started {
		return &daemon.ComponentHealth{Name: a.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}
	if err := a.manager.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: a.Name(), Healthy: false, Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: a.Name(), Healthy: true}, nil
}
