package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"classpulse/internal/config"
	"classpulse/pkg/logger"
)

type cfgKey struct{}

// newRootCmd builds the command tree; every subcommand shares the --config flag
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "classpulse",
		Short:         "Real-time classroom session hub",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context(), configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := logger.InitWithWriter(os.Stderr, cfg.LogFormat); err != nil {
				return err
			}
			if err := logger.SetLevelString(cfg.LogLevel); err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey{}, cfg))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML config file (defaults to $"+config.EnvConfigFile+")")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newClassroomCmd(),
	)
	return root
}

// configFrom returns the configuration loaded by the root command
func configFrom(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(cfgKey{}).(*config.Config); ok {
		return cfg
	}
	return config.Default()
}
