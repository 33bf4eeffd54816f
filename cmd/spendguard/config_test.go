package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ballee/spendguard/internal/config"

	"github.com/spf13/cobra"
)

func TestConfigInitCmd(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cmd := &cobra.Command{}
	args := []string{}

	if err := configInitCmd.RunE(cmd, args); err != nil {
		t.Errorf("Config init failed: %v", err)
	}

	configPath := filepath.Join(tmpDir, ".spendguard", "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Errorf("Config file not created at %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if !strings.Contains(string(data), "cac_hard_ceiling") {
		t.Error("Default config missing seed rules")
	}

	cmd2 := &cobra.Command{}
	args2 := []string{}
	if err := configInitCmd.RunE(cmd2, args2); err != nil {
		t.Errorf("Config init should succeed when config exists: %v", err)
	}
}

func TestRedactConfigSecrets(t *testing.T) {
	original := &config.Config{
		Adapters: config.AdaptersConfig{
			Slack: config.SlackConfig{
				SigningSecret: "shhh-signing-secret",
				BotToken:      "xoxb-111222333",
			},
			Telegram: config.TelegramConfig{
				BotToken: "123456:telegram-token",
			},
		},
	}

	redacted := redactConfigSecrets(original)

	if redacted.Adapters.Slack.SigningSecret == original.Adapters.Slack.SigningSecret {
		t.Error("Slack signing secret was not redacted")
	}
	if redacted.Adapters.Slack.BotToken == original.Adapters.Slack.BotToken {
		t.Error("Slack bot token was not redacted")
	}
	if redacted.Adapters.Telegram.BotToken == original.Adapters.Telegram.BotToken {
		t.Error("Telegram bot token was not redacted")
	}

	if original.Adapters.Slack.BotToken != "xoxb-111222333" {
		t.Error("Redaction mutated the original config")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{name: "empty", secret: "", want: ""},
		{name: "short", secret: "abc", want: "****"},
		{name: "long", secret: "abcdefgh", want: "ab****gh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskSecret(tt.secret); got != tt.want {
				t.Errorf("maskSecret(%q) = %q, want %q", tt.secret, got, tt.want)
			}
		})
	}
}
