package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rewstapp/rewst_remote_agent/internal/app/host"
	"github.com/rewstapp/rewst_remote_agent/internal/cli"
	"github.com/rewstapp/rewst_remote_agent/internal/config"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
)

var flagOrgID string

func main() {
	rootCmd.Flags().StringVar(&flagOrgID, "org-id", "", "organization id, defaults to the one in the executable name")
	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(cli.VersionCommand("rewst_service_host"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("rewst_service_host failed", "err", err)
		cancel()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "rewst_service_host",
	Short:        "hosts and supervises the Rewst remote agent as an OS service",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         doRun,
}

func doRun(cmd *cobra.Command, _ []string) error {
	settings := config.Load()
	boot := cli.BootstrapLogger(settings)
	slog.SetDefault(boot)

	orgID, ok := cli.ResolveOrgID(flagOrgID)
	if !ok {
		return errors.New("org id not found in the executable name, pass --org-id")
	}

	layout := paths.Default()
	logger, closer := cli.OrgLogger(settings, layout, orgID, "rewst_service_host", boot)
	defer closer.Close()
	slog.SetDefault(logger)

	logger.Info("starting service host", "version", config.Version, "build_time", config.BuildTime)
	defer logger.Info("service host stopped")

	return host.NewApplication(settings, layout, orgID, logger).Run(cmd.Context())
}
