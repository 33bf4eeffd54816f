package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ballee/spendguard/internal/config"
)

type RuntimeAdapterOptions struct {
	IncludeCLI          bool
	RequireSlackSecrets bool
}

// Target is where an output adapter delivers notifications: Primary for
// routine notices and approval requests, Alert for the urgent tier when a
// separate destination is configured.
type Target struct {
	Primary string
	Alert   string
}

// RuntimeManager owns the configured adapter set for a daemon run. It wires
// each enabled platform as both input (approval responses in) and output
// (notifications out), and supervises their lifecycle.
type RuntimeManager struct {
	mu      sync.RWMutex
	inputs  []InputAdapter
	outputs []OutputAdapter
	targets map[string]Target
	started bool
}

func NewRuntimeManager(cfg config.AdaptersConfig, responseHandler ResponseHandler, opts RuntimeAdapterOptions) (*RuntimeManager, error) {
	m := &RuntimeManager{targets: make(map[string]Target)}

	if opts.IncludeCLI {
		m.addOutput(NewCLIAdapter(), Target{Primary: "console"})
	}

	if cfg.Slack.Enabled {
		slackAdapter, err := buildSlackAdapter(cfg.Slack, responseHandler, opts.RequireSlackSecrets)
		if err != nil {
			return nil, err
		}
		m.inputs = append(m.inputs, slackAdapter)
		m.addOutput(slackAdapter, Target{Primary: cfg.Slack.Channel, Alert: cfg.Slack.AlertChannel})
	}

	if cfg.Telegram.Enabled {
		telegramAdapter, err := buildTelegramAdapter(cfg.Telegram, responseHandler)
		if err != nil {
			return nil, err
		}
		m.inputs = append(m.inputs, telegramAdapter)
		m.addOutput(telegramAdapter, Target{Primary: fmt.Sprintf("%d", cfg.Telegram.ChatID)})
	}

	return m, nil
}

func buildSlackAdapter(sc config.SlackConfig, handler ResponseHandler, requireSecrets bool) (*SlackAdapter, error) {
	missing := func(value, envVar string) bool {
		return strings.TrimSpace(value) == "" && strings.TrimSpace(os.Getenv(envVar)) == ""
	}
	if requireSecrets && missing(sc.SigningSecret, "SLACK_SIGNING_SECRET") {
		return nil, fmt.Errorf("adapters.slack.signing_secret is required when slack adapter is enabled")
	}
	if missing(sc.BotToken, "SLACK_BOT_TOKEN") {
		return nil, fmt.Errorf("adapters.slack.bot_token is required when slack adapter is enabled")
	}
	if strings.TrimSpace(sc.Channel) == "" {
		return nil, fmt.Errorf("adapters.slack.channel is required when slack adapter is enabled")
	}
	return NewSlackAdapter(sc.Port, sc.SigningSecret, sc.BotToken, handler), nil
}

func buildTelegramAdapter(tc config.TelegramConfig, handler ResponseHandler) (*TelegramAdapter, error) {
	token := strings.TrimSpace(tc.BotToken)
	if token == "" {
		return nil, fmt.Errorf("adapters.telegram.bot_token is required when telegram adapter is enabled")
	}
	if tc.ChatID == 0 {
		return nil, fmt.Errorf("adapters.telegram.chat_id is required when telegram adapter is enabled")
	}
	return NewTelegramAdapter(token, handler, tc.UpdateTimeout), nil
}

// addOutput registers an output adapter and its delivery target. A repeated
// name replaces the earlier registration in place so ordering stays stable.
func (m *RuntimeManager) addOutput(out OutputAdapter, target Target) {
	if out == nil {
		return
	}
	name := strings.TrimSpace(out.Name())
	if name == "" {
		return
	}
	m.targets[name] = target
	for i, existing := range m.outputs {
		if strings.TrimSpace(existing.Name()) == name {
			m.outputs[i] = out
			return
		}
	}
	m.outputs = append(m.outputs, out)
}

func (m *RuntimeManager) snapshotInputs() []InputAdapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]InputAdapter(nil), m.inputs...)
}

func (m *RuntimeManager) OutputAdapters() []OutputAdapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]OutputAdapter(nil), m.outputs...)
}

// TargetFor returns the delivery targets for a named adapter.
func (m *RuntimeManager) TargetFor(name string) (Target, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[name]
	return t, ok
}

// Start launches every input adapter in its own goroutine. Adapter errors
// after context cancellation are part of normal shutdown and not logged.
func (m *RuntimeManager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for _, input := range m.snapshotInputs() {
		in := input
		go func() {
			slog.Info("Starting input adapter", "adapter", in.Name())
			if err := in.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Input adapter stopped with error", "adapter", in.Name(), "error", err)
			}
		}()
	}
}

func (m *RuntimeManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.mu.Unlock()

	var errs []string
	for _, input := range m.snapshotInputs() {
		if err := input.Stop(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", input.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to stop adapters: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (m *RuntimeManager) Health(ctx context.Context) error {
	for _, input := range m.snapshotInputs() {
		if err := input.Health(ctx); err != nil {
			return fmt.Errorf("input adapter %s unhealthy: %w", input.Name(), err)
		}
	}
	for _, output := range m.OutputAdapters() {
		if err := output.Health(ctx); err != nil {
			return fmt.Errorf("output adapter %s unhealthy: %w", output.Name(), err)
		}
	}
	return nil
}
