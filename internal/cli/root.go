// Package cli implements the keepsake commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/lazypower/keepsake/internal/config"
	"github.com/lazypower/keepsake/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// cfg is loaded once per invocation by the root pre-run hook.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:               "keepsake",
	Short:             "Long-term memory for a chat companion",
	Long:              "Keepsake remembers the people, pets, preferences and open threads a user shares with a companion, and hands the right ones back at the right time.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.keepsake/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(importCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if err := logging.Setup(c.Log.Level, c.Log.Format); err != nil {
		return err
	}
	cfg = c
	return nil
}
