package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ballee/spendguard/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Engine      EngineConfig      `koanf:"engine"`
	Rules       RulesConfig       `koanf:"rules"`
	Approval    ApprovalConfig    `koanf:"approval"`
	Calibration CalibrationConfig `koanf:"calibration"`
	Scheduler   SchedulerConfig   `koanf:"scheduler"`
	Adapters    AdaptersConfig    `koanf:"adapters"`
	Ingress     IngressConfig     `koanf:"ingress"`
	Store       StoreConfig       `koanf:"store"`
	Daemon      DaemonConfig      `koanf:"daemon"`
	Provider    ProviderConfig    `koanf:"provider"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type EngineConfig struct {
	// OverlapPolicy governs a Tier-2 decision arriving for a channel that
	// already has an unresolved approval: "reject", "queue" or "merge".
	OverlapPolicy       string `koanf:"overlap_policy"`
	MaxParallelChannels int    `koanf:"max_parallel_channels"`
}

// RulesConfig seeds the initial ThresholdRuleSet version when the rules
// store is empty. Subsequent versions come from calibration or operator
// action, never from config reloads.
type RulesConfig struct {
	CACHardCeiling        float64 `koanf:"cac_hard_ceiling"`
	ROASFloor             float64 `koanf:"roas_floor"`
	OverrunCriticalRatio  float64 `koanf:"overrun_critical_ratio"`
	ReallocationThreshold float64 `koanf:"reallocation_threshold"`
	CACSpikeThreshold     float64 `koanf:"cac_spike_threshold"`
	CACDeviationThreshold float64 `koanf:"cac_deviation_threshold"`
	ROASMinimum           float64 `koanf:"roas_minimum"`
	BudgetComplianceLow   float64 `koanf:"budget_compliance_low"`
	BudgetComplianceHigh  float64 `koanf:"budget_compliance_high"`
}

type ApprovalConfig struct {
	ApprovalWindow string `koanf:"approval_window"`
	AlertWindow    string `koanf:"alert_window"`
	// AutoExecute marks approved workflows executed as soon as the approval
	// lands. Disable it when a downstream applier confirms execution via
	// "approvals execute".
	AutoExecute bool `koanf:"auto_execute"`
}

type CalibrationConfig struct {
	Tolerance     float64 `koanf:"tolerance"`
	StepRatio     float64 `koanf:"step_ratio"`
	MaxStepRatio  float64 `koanf:"max_step_ratio"`
	BootstrapMode bool    `koanf:"bootstrap_mode"`
}

type SchedulerConfig struct {
	TickInterval         string `koanf:"tick_interval"`
	EvaluateSchedule     string `koanf:"evaluate_schedule"`
	CalibrationSchedule  string `koanf:"calibration_schedule"`
	SweepInterval        string `koanf:"sweep_interval"`
	LeaseDuration        string `koanf:"lease_duration"`
	ShutdownTimeout      string `koanf:"shutdown_timeout"`
	MaxCatchupRuns       int    `koanf:"max_catchup_runs"`
	InFlightPollInterval string `koanf:"in_flight_poll_interval"`
}

type AdaptersConfig struct {
	Slack    SlackConfig    `koanf:"slack"`
	Telegram TelegramConfig `koanf:"telegram"`
}

type SlackConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Port          int    `koanf:"port"`
	SigningSecret string `koanf:"signing_secret"`
	BotToken      string `koanf:"bot_token"`
	Channel       string `koanf:"channel"`
	AlertChannel  string `koanf:"alert_channel"`
}

type TelegramConfig struct {
	Enabled       bool   `koanf:"enabled"`
	BotToken      string `koanf:"bot_token"`
	ChatID        int64  `koanf:"chat_id"`
	UpdateTimeout int    `koanf:"update_timeout"`
}

type IngressConfig struct {
	QueueSize      int    `koanf:"queue_size"`
	SubmitTimeout  string `koanf:"submit_timeout"`
	IdempotencyTTL string `koanf:"idempotency_ttl"`
}

type StoreConfig struct {
	LockTimeout  string `koanf:"lock_timeout"`
	LockRetry    string `koanf:"lock_retry"`
	LockMaxRetry int    `koanf:"lock_max_retry"`
}

type DaemonConfig struct {
	ShutdownTimeout        string `koanf:"shutdown_timeout"`
	HealthCheckInterval    string `koanf:"health_check_interval"`
	StartupShutdownTimeout string `koanf:"startup_shutdown_timeout"`
	PreflightTimeout       string `koanf:"preflight_timeout"`
	StaleLockTTL           string `koanf:"stale_lock_ttl"`
	WorkspacePath          string `koanf:"workspace_path"`
}

type ProviderConfig struct {
	// InboxPath is scanned each evaluation run for snapshot JSON files.
	InboxPath string `koanf:"inbox_path"`
}

const (
	DefaultWorkspaceID     = "default"
	DefaultServerPort      = 8080
	DefaultServerLogLevel  = "info"
	DefaultServerShutdown  = "5s"
	DefaultServerReadTO    = "10s"
	DefaultServerWriteTO   = "10s"
	DefaultServerIdleTO    = "60s"
	DefaultOverlapPolicy   = "reject"
	DefaultMaxParallel     = 4
	DefaultApprovalWindow  = "72h"
	DefaultAlertWindow     = "4h"
	DefaultAutoExecute     = true
	DefaultTolerance       = 0.05
	DefaultStepRatio       = 0.10
	DefaultMaxStepRatio    = 0.25
	DefaultBootstrapMode   = true
	DefaultIdempotencyTTL  = "24h"
	DefaultIngressQueue    = 100
	DefaultSubmitTimeout   = "500ms"
	DefaultStoreLockTO     = "30s"
	DefaultStoreLockRetry  = "100ms"
	DefaultStoreLockMax    = 300
	DefaultSlackPort       = 3000
	DefaultTelegramTimeout = 60

	DefaultSchedulerTickInterval   = "1m"
	DefaultEvaluateSchedule        = "0 9 * * 1"
	DefaultCalibrationSchedule     = "0 9 1 * *"
	DefaultSweepInterval           = "5m"
	DefaultSchedulerLeaseDuration  = "5m"
	DefaultSchedulerShutdownTO     = "30s"
	DefaultSchedulerMaxCatchupRuns = 1
	DefaultSchedulerInFlightPoll   = "100ms"

	DefaultDaemonShutdownTimeout     = "30s"
	DefaultDaemonHealthCheckInterval = "30s"
	DefaultDaemonStartupShutdownTO   = "10s"
	DefaultDaemonPreflightTimeout    = "10s"
	DefaultDaemonStaleLockTTL        = "1h"

	DefaultCACHardCeiling        = 25.0
	DefaultROASFloor             = 2.0
	DefaultOverrunCriticalRatio  = 0.50
	DefaultReallocationThreshold = 0.15
	DefaultCACSpikeThreshold     = 0.20
	DefaultCACDeviationThreshold = 0.10
	DefaultROASMinimum           = 2.5
	DefaultBudgetComplianceLow   = 0.90
	DefaultBudgetComplianceHigh  = 1.10
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                       DefaultServerPort,
		"server.log_level":                  DefaultServerLogLevel,
		"server.shutdown_timeout":           DefaultServerShutdown,
		"server.read_timeout":               DefaultServerReadTO,
		"server.write_timeout":              DefaultServerWriteTO,
		"server.idle_timeout":               DefaultServerIdleTO,
		"engine.overlap_policy":             DefaultOverlapPolicy,
		"engine.max_parallel_channels":      DefaultMaxParallel,
		"rules.cac_hard_ceiling":            DefaultCACHardCeiling,
		"rules.roas_floor":                  DefaultROASFloor,
		"rules.overrun_critical_ratio":      DefaultOverrunCriticalRatio,
		"rules.reallocation_threshold":      DefaultReallocationThreshold,
		"rules.cac_spike_threshold":         DefaultCACSpikeThreshold,
		"rules.cac_deviation_threshold":     DefaultCACDeviationThreshold,
		"rules.roas_minimum":                DefaultROASMinimum,
		"rules.budget_compliance_low":       DefaultBudgetComplianceLow,
		"rules.budget_compliance_high":      DefaultBudgetComplianceHigh,
		"approval.approval_window":          DefaultApprovalWindow,
		"approval.alert_window":             DefaultAlertWindow,
		"approval.auto_execute":             DefaultAutoExecute,
		"calibration.tolerance":             DefaultTolerance,
		"calibration.step_ratio":            DefaultStepRatio,
		"calibration.max_step_ratio":        DefaultMaxStepRatio,
		"calibration.bootstrap_mode":        DefaultBootstrapMode,
		"scheduler.tick_interval":           DefaultSchedulerTickInterval,
		"scheduler.evaluate_schedule":       DefaultEvaluateSchedule,
		"scheduler.calibration_schedule":    DefaultCalibrationSchedule,
		"scheduler.sweep_interval":          DefaultSweepInterval,
		"scheduler.lease_duration":          DefaultSchedulerLeaseDuration,
		"scheduler.shutdown_timeout":        DefaultSchedulerShutdownTO,
		"scheduler.max_catchup_runs":        DefaultSchedulerMaxCatchupRuns,
		"scheduler.in_flight_poll_interval": DefaultSchedulerInFlightPoll,
		"adapters.slack.port":               DefaultSlackPort,
		"adapters.telegram.update_timeout":  DefaultTelegramTimeout,
		"ingress.queue_size":                DefaultIngressQueue,
		"ingress.submit_timeout":            DefaultSubmitTimeout,
		"ingress.idempotency_ttl":           DefaultIdempotencyTTL,
		"store.lock_timeout":                DefaultStoreLockTO,
		"store.lock_retry":                  DefaultStoreLockRetry,
		"store.lock_max_retry":              DefaultStoreLockMax,
		"daemon.shutdown_timeout":           DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":      DefaultDaemonHealthCheckInterval,
		"daemon.startup_shutdown_timeout":   DefaultDaemonStartupShutdownTO,
		"daemon.preflight_timeout":          DefaultDaemonPreflightTimeout,
		"daemon.stale_lock_ttl":             DefaultDaemonStaleLockTTL,
		"daemon.workspace_path":             filepath.Join(os.Getenv("HOME"), ".spendguard", "workspaces"),
		"provider.inbox_path":               "",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".spendguard", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("SPENDGUARD_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "SPENDGUARD_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	// Post-Process: Inject standard Env Vars if missing
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" && cfg.Adapters.Slack.BotToken == "" {
		cfg.Adapters.Slack.BotToken = token
	}
	if secret := os.Getenv("SLACK_SIGNING_SECRET"); secret != "" && cfg.Adapters.Slack.SigningSecret == "" {
		cfg.Adapters.Slack.SigningSecret = secret
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && cfg.Adapters.Telegram.BotToken == "" {
		cfg.Adapters.Telegram.BotToken = token
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	workspacePath, err := pathutil.Expand(cfg.Daemon.WorkspacePath)
	if err != nil {
		return err
	}
	if workspacePath != "" {
		cfg.Daemon.WorkspacePath = workspacePath
	}

	inboxPath, err := pathutil.Expand(cfg.Provider.InboxPath)
	if err != nil {
		return err
	}
	if inboxPath != "" {
		cfg.Provider.InboxPath = inboxPath
	}

	return nil
}
