package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/devconsole/pkg/daemon/service"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage devconsoled as a systemd user service",
}

var serviceConfig string

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install, enable and start " + service.UnitName,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := serviceConfig
		if cfg != "" {
			abs, err := filepath.Abs(cfg)
			if err != nil {
				return err
			}
			cfg = abs
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if err := service.Install(ctx, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s installed and started ✓\n", service.UnitName)
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop, disable and remove " + service.UnitName,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if err := service.Uninstall(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s removed\n", service.UnitName)
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon socket and unit state",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(ctx, socketPath))
	},
}

func init() {
	serviceInstallCmd.Flags().StringVar(&serviceConfig, "config", "", "configuration file passed to devconsoled")

	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
	rootCmd.AddCommand(serviceCmd)
}
