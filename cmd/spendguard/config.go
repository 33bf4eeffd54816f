package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ballee/spendguard/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

//go:embed templates/config.yaml
var embeddedDefaultConfig []byte

var configForceInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Inspect and bootstrap the Spendguard configuration file.`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Dump fully resolved configuration",
	Long:  `Print the active configuration with defaults applied, environment overrides resolved, and secrets redacted.`,
	RunE:  runConfigView,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration",
	Long:  `Write a commented default configuration to $HOME/.spendguard/config.yaml.`,
	RunE:  runConfigInit,
}

func runConfigView(cmd *cobra.Command, _ []string) error {
	loadedCfg := cfg
	if loadedCfg == nil {
		var err error
		if loadedCfg, err = config.Load(cmd); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	if loadedCfg == nil {
		return fmt.Errorf("config is not initialized; run 'spendguard config init' first")
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(redactConfigSecrets(loadedCfg)); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	configPath, err := defaultConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	switch _, err := os.Stat(configPath); {
	case err == nil && !configForceInit:
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Println("Use 'spendguard config view' to see current configuration, or re-run with --force to overwrite.")
		return nil
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("failed to check config file: %w", err)
	}

	payload := strings.TrimSpace(string(embeddedDefaultConfig)) + "\n"
	if err := os.WriteFile(configPath, []byte(payload), 0644); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", configPath, err)
	}

	fmt.Printf("✓ Initialized config at %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Point provider.inbox_path at your snapshot drop directory")
	fmt.Println("2. Enable a notification adapter (slack or telegram) and add its tokens")
	fmt.Println("3. Run 'spendguard config view' to verify your configuration")
	return nil
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".spendguard", "config.yaml"), nil
}

// redactConfigSecrets returns a copy of cfg with adapter credentials masked
// so 'config view' output is safe to paste into tickets.
func redactConfigSecrets(in *config.Config) *config.Config {
	if in == nil {
		return nil
	}

	out := *in
	out.Adapters.Slack.SigningSecret = maskSecret(out.Adapters.Slack.SigningSecret)
	out.Adapters.Slack.BotToken = maskSecret(out.Adapters.Slack.BotToken)
	out.Adapters.Telegram.BotToken = maskSecret(out.Adapters.Telegram.BotToken)
	return &out
}

func maskSecret(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 4:
		return "****"
	default:
		return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
	}
}

func init() {
	configInitCmd.Flags().BoolVar(&configForceInit, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configViewCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
