package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rewstapp/rewst_remote_agent/internal/cli"
	"github.com/rewstapp/rewst_remote_agent/internal/config"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
	"github.com/rewstapp/rewst_remote_agent/internal/platform"
)

var (
	flagOrgID string

	manager impls.ServiceManager
	logger  *slog.Logger
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagOrgID, "org-id", "", "organization id, defaults to the one in the executable name")
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initManager

	rootCmd.AddCommand(installCmd, uninstallCmd, startCmd, stopCmd, restartCmd, statusCmd)
	rootCmd.AddCommand(cli.VersionCommand("rewst_service_manager"))

	if err := rootCmd.Execute(); err != nil {
		slog.Error("rewst_service_manager failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "rewst_service_manager",
	Short:        "installs and controls the Rewst remote agent service",
	SilenceUsage: true,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "install the agent service and start it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if manager.IsInstalled(cmd.Context()) {
			logger.Info("service is already installed")
		} else if err := manager.Install(cmd.Context()); err != nil {
			return fmt.Errorf("install: %w", err)
		}
		return manager.Start(cmd.Context())
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "stop and remove the agent service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !manager.IsInstalled(cmd.Context()) {
			logger.Info("service is not installed")
			return nil
		}
		if err := manager.Stop(cmd.Context()); err != nil {
			logger.Warn("unable to stop service", "err", err)
		}
		return manager.Uninstall(cmd.Context())
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the agent service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return manager.Start(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stop the agent service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return manager.Stop(cmd.Context())
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "stop then start the agent service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := manager.Stop(cmd.Context()); err != nil {
			logger.Warn("unable to stop service", "err", err)
		}
		return manager.Start(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the state of the agent service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, err := manager.Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), status)
		return nil
	},
}

func initManager(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	settings := config.Load()
	logger = cli.BootstrapLogger(settings)
	slog.SetDefault(logger)

	orgID, ok := cli.ResolveOrgID(flagOrgID)
	if !ok {
		return errors.New("org id not found in the executable name, pass --org-id")
	}
	logger = logger.With("org_id", orgID, "service", platform.ServiceName(orgID))
	manager = platform.NewManager(paths.Default(), orgID, logger)
	return nil
}
