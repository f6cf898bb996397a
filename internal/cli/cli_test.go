package cli_test

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rewstapp/rewst_remote_agent/internal/cli"
	"github.com/rewstapp/rewst_remote_agent/internal/config"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	cmd := cli.VersionCommand("rewst_remote_agent")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "rewst_remote_agent: "+config.Version)
}

func TestResolveOrgIDPrefersFlag(t *testing.T) {
	t.Parallel()

	org, ok := cli.ResolveOrgID("org-1")
	require.True(t, ok)
	require.Equal(t, "org-1", org)
}

func TestOrgLoggerWritesToSettingsDir(t *testing.T) {
	t.Parallel()

	settings := config.DefaultSettings()
	settings.LogDir = t.TempDir()
	fallback := slog.New(slog.NewTextHandler(io.Discard, nil))

	logger, closer := cli.OrgLogger(settings, paths.Layout{GOOS: "linux"}, "org-1", "rewst_agent", fallback)
	defer closer.Close()
	require.NotSame(t, fallback, logger)
	logger.Info("hello")
}
