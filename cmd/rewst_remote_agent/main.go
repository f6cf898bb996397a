package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rewstapp/rewst_remote_agent/internal/agent"
	"github.com/rewstapp/rewst_remote_agent/internal/cli"
	"github.com/rewstapp/rewst_remote_agent/internal/config"
	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
	"github.com/rewstapp/rewst_remote_agent/internal/storage"
)

var (
	flagConfigFile string
	flagOrgID      string
)

func main() {
	rootCmd.Flags().StringVar(&flagConfigFile, "config-file", "", "path to the agent configuration file")
	rootCmd.Flags().StringVar(&flagOrgID, "org-id", "", "organization id, defaults to the one in the executable name")
	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(cli.VersionCommand("rewst_remote_agent"))

	if err := rootCmd.Execute(); err != nil {
		slog.Error("rewst_remote_agent failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "rewst_remote_agent",
	Short:        "Rewst remote agent, keeps this device connected to the engine",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         doRun,
}

func doRun(cmd *cobra.Command, _ []string) error {
	settings := config.Load()
	boot := cli.BootstrapLogger(settings)
	slog.SetDefault(boot)

	layout := paths.Default()
	store := storage.NewConfigStore(layout.ConfigFilePath)

	cfg, err := loadConfiguration(store)
	if err != nil {
		return err
	}

	logger, closer := cli.OrgLogger(settings, layout, cfg.OrgID, "rewst_agent", boot)
	defer closer.Close()
	slog.SetDefault(logger)

	logger.Info("version", "version", config.Version, "build_time", config.BuildTime, "debug", settings.Debug)
	logger.Info("configuration loaded", "device_id", cfg.DeviceID, "iot_hub_host", cfg.IoTHubHost)

	return agent.New(settings, layout, *cfg, logger).Run(cmd.Context())
}

func loadConfiguration(store *storage.ConfigStore) (*domain.AgentConfiguration, error) {
	if flagConfigFile != "" {
		return store.LoadFile(flagConfigFile)
	}
	org, ok := cli.ResolveOrgID(flagOrgID)
	if !ok {
		return nil, errors.New("no --config-file given and no org id found in the executable name")
	}
	cfg, err := store.Load(org)
	if err != nil {
		return nil, fmt.Errorf("load configuration for org %s: %w", org, err)
	}
	return cfg, nil
}
