package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/phanxgames/canopy"
)

func newRootCmd() *cobra.Command {
	var level string
	root := &cobra.Command{
		Use:           "canopy",
		Short:         "Scene-graph display compositor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := log.ParseLevel(level)
			if err != nil {
				return fmt.Errorf("log level: %w", err)
			}
			canopy.SetLogger(slog.New(newLogHandler(lvl)))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&level, "log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(newRunCmd(), newConfigCmd())
	return root
}

func newLogHandler(lvl log.Level) *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "canopy",
	})
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "canopy.toml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := canopy.DefaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := canopy.LoadConfig(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d Hz, period %v\n", cfg.RefreshRate, cfg.Period())
			return nil
		},
	}
	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}
