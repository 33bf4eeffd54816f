package main

import (
	"fmt"
	"os"

	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/logger"

	"github.com/spf13/cobra"
)

// cfg is populated by the persistent pre-run hook and shared by every
// subcommand. cfgFile is bound to --config and read inside config.Load.
var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:               "spendguard",
	Short:             "Spendguard marketing spend guardrail",
	Long:              `Spendguard classifies marketing spend decisions into execution tiers, routes them through approval workflows, and calibrates its own thresholds against outcomes.`,
	PersistentPreRunE: loadConfigAndLogger,
}

func loadConfigAndLogger(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cmd)
	if err != nil {
		return err
	}
	cfg = loaded

	logger.Setup(cfg.Server.LogLevel)
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.spendguard/config.yaml)")
	flags.String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	flags.Int("server.port", config.DefaultServerPort, "server port")
}
