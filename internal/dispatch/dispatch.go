package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ballee/spendguard/internal/adapter"
	"github.com/ballee/spendguard/internal/decision"
	"github.com/ballee/spendguard/internal/errors"
)

// Route binds a registered adapter to its delivery targets. Alerts go to
// AlertTarget when set, so urgent notices can land in a separate channel.
type Route struct {
	Target      string
	AlertTarget string
}

type Dispatcher interface {
	// Register registers an output adapter with its delivery route
	Register(out adapter.OutputAdapter, route Route) error

	// Unregister removes an output adapter
	Unregister(name string) error

	// Send fans a notification out to every registered adapter
	Send(ctx context.Context, n *Notification) error

	// Health checks all registered adapters
	Health(ctx context.Context) error

	// ListAdapters returns all registered adapter names
	ListAdapters() []string
}

type registration struct {
	out   adapter.OutputAdapter
	route Route
}

type DefaultDispatcher struct {
	mu       sync.RWMutex
	adapters map[string]registration
}

func NewDispatcher() *DefaultDispatcher {
	return &DefaultDispatcher{
		adapters: make(map[string]registration),
	}
}

func (d *DefaultDispatcher) Register(out adapter.OutputAdapter, route Route) error {
	if out == nil {
		return errors.Configuration("adapter cannot be nil")
	}

	name := out.Name()
	if name == "" {
		return errors.Configuration("adapter name cannot be empty")
	}
	if route.Target == "" {
		return errors.Configuration("adapter route target cannot be empty: " + name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.adapters[name]; exists {
		return errors.Conflict("adapter already registered: " + name)
	}

	d.adapters[name] = registration{out: out, route: route}
	slog.Info("Dispatch adapter registered", "name", name, "target", route.Target)
	return nil
}

func (d *DefaultDispatcher) Unregister(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.adapters[name]; !exists {
		return errors.NotFound("adapter not found: " + name)
	}

	delete(d.adapters, name)
	slog.Info("Dispatch adapter unregistered", "name", name)
	return nil
}

func (d *DefaultDispatcher) Send(ctx context.Context, n *Notification) error {
	if n == nil {
		return errors.DataQuality("notification cannot be nil")
	}

	d.mu.RLock()
	regs := make([]registration, 0, len(d.adapters))
	for _, reg := range d.adapters {
		regs = append(regs, reg)
	}
	d.mu.RUnlock()

	if len(regs) == 0 {
		return errors.Configuration("no adapters registered")
	}

	content := n.Format()

	var failed []string
	for _, reg := range regs {
		target := reg.route.Target
		if n.Tier == decision.TierAlertImmediately && reg.route.AlertTarget != "" {
			target = reg.route.AlertTarget
		}

		if err := reg.out.Send(ctx, target, content); err != nil {
			failed = append(failed, reg.out.Name())
			slog.Error("Notification delivery failed",
				"adapter", reg.out.Name(),
				"record", n.RecordID,
				"error", err,
			)
		}
	}

	if len(failed) == len(regs) {
		return errors.Transient(fmt.Sprintf("notification delivery failed on all adapters: %v", failed))
	}
	if len(failed) > 0 {
		slog.Warn("Partial notification delivery", "record", n.RecordID, "failed", failed)
	}

	slog.Debug("Notification dispatched", "record", n.RecordID, "tier", n.Tier, "adapters", len(regs)-len(failed))
	return nil
}

func (d *DefaultDispatcher) Health(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.adapters) == 0 {
		return errors.Internal("no adapters registered")
	}

	var unhealthy []string
	for name, reg := range d.adapters {
		if err := reg.out.Health(ctx); err != nil {
			unhealthy = append(unhealthy, name)
			slog.Warn("Adapter unhealthy", "name", name, "error", err)
		}
	}

	if len(unhealthy) > 0 {
		return errors.Transient(fmt.Sprintf("%d adapter(s) unhealthy: %v", len(unhealthy), unhealthy))
	}

	return nil
}

func (d *DefaultDispatcher) ListAdapters() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.adapters))
	for name := range d.adapters {
		names = append(names, name)
	}
	return names
}
