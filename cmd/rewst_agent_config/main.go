package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rewstapp/rewst_remote_agent/internal/agent"
	"github.com/rewstapp/rewst_remote_agent/internal/cli"
	"github.com/rewstapp/rewst_remote_agent/internal/config"
	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/system"
	"github.com/rewstapp/rewst_remote_agent/internal/platform"
	"github.com/rewstapp/rewst_remote_agent/internal/registration"
	"github.com/rewstapp/rewst_remote_agent/internal/retry"
	"github.com/rewstapp/rewst_remote_agent/internal/storage"
	"github.com/rewstapp/rewst_remote_agent/internal/usecase/register"
)

const (
	exitFailure = 1
	exitPending = 2
)

var (
	flagConfigURL    string
	flagConfigSecret string
	flagOrgID        string
)

func main() {
	rootCmd.Flags().StringVar(&flagConfigURL, "config-url", "", "one-time configuration URL")
	rootCmd.Flags().StringVar(&flagConfigSecret, "config-secret", "", "configuration secret (base64)")
	rootCmd.Flags().StringVar(&flagOrgID, "org-id", "", "organization id")
	_ = rootCmd.MarkFlagRequired("config-url")
	_ = rootCmd.MarkFlagRequired("config-secret")
	_ = rootCmd.MarkFlagRequired("org-id")
	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(cli.VersionCommand("rewst_agent_config"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	switch {
	case err == nil:
	case errors.Is(err, register.ErrRegistrationPending):
		slog.Error("registration is still pending, run the installer again later", "err", err)
		os.Exit(exitPending)
	default:
		slog.Error("rewst_agent_config failed", "err", err)
		os.Exit(exitFailure)
	}
}

var rootCmd = &cobra.Command{
	Use:          "rewst_agent_config",
	Short:        "registers this device with Rewst and installs the agent service",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         doRegister,
}

func doRegister(cmd *cobra.Command, _ []string) error {
	settings := config.Load()
	boot := cli.BootstrapLogger(settings)
	slog.SetDefault(boot)

	req := register.Request{ConfigURL: flagConfigURL, Secret: flagConfigSecret, OrgID: flagOrgID}
	if err := req.Validate(); err != nil {
		return err
	}

	layout := paths.Default()
	logger, closer := cli.OrgLogger(settings, layout, req.OrgID, "rewst_agent_config", boot)
	defer closer.Close()
	slog.SetDefault(logger)

	logger.Info("version", "version", config.Version, "build_time", config.BuildTime)

	probe := system.NewProbe(layout, config.Version, logger)
	client := registration.NewClient(retry.Default(), probe, logger)
	store := storage.NewConfigStore(layout.ConfigFilePath)

	services := func(orgID string) impls.ServiceManager {
		return platform.NewManager(layout, orgID, logger)
	}
	connect := func(ctx context.Context, cfg domain.AgentConfiguration) (register.Session, error) {
		m, err := agent.New(settings, layout, cfg, logger).Connect(ctx)
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	svc := register.NewService(client, store, services, connect, layout, logger)
	if err := svc.Register(cmd.Context(), req); err != nil {
		return err
	}
	logger.Info("agent installed and running", "org_id", req.OrgID)
	return nil
}
