package system_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/require"

	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/system"
)

func TestMACAddress(t *testing.T) {
	t.Parallel()

	ifaces := net.InterfaceStatList{
		{Name: "lo", HardwareAddr: "", Flags: []string{"up", "loopback"}},
		{Name: "dummy", HardwareAddr: "00:00:00:00:00:00"},
		{Name: "eth0", HardwareAddr: "3C:22:FB:0A:1B:2C", Flags: []string{"up"}},
		{Name: "eth1", HardwareAddr: "aa:bb:cc:dd:ee:ff"},
	}
	require.Equal(t, "3c22fb0a1b2c", system.MACAddress(ifaces))
	require.Equal(t, "aabbccddeeff", system.MACAddress(net.InterfaceStatList{{HardwareAddr: "AA-BB-CC-DD-EE-FF"}}))
	require.Empty(t, system.MACAddress(nil))
}

func TestRoundGB(t *testing.T) {
	t.Parallel()

	require.Equal(t, 16.0, system.RoundGB(16<<30))
	require.Equal(t, 7.8, system.RoundGB(8_345_000_000))
	require.Equal(t, 0.0, system.RoundGB(0))
}

func TestOperatingSystem(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ubuntu-22.04-x86_64", system.OperatingSystem(&host.InfoStat{
		OS: "linux", Platform: "ubuntu", PlatformVersion: "22.04", KernelArch: "x86_64",
	}))
	require.Equal(t, "linux-6.1.0-arm64", system.OperatingSystem(&host.InfoStat{
		OS: "linux", KernelVersion: "6.1.0", KernelArch: "arm64",
	}))
}

func TestParseADDomain(t *testing.T) {
	t.Parallel()

	require.Nil(t, system.ParseADDomain(""))
	require.Nil(t, system.ParseADDomain("  \r\n"))
	require.Nil(t, system.ParseADDomain("WORKGROUP"))

	d := system.ParseADDomain("corp.example.com\r\n")
	require.NotNil(t, d)
	require.Equal(t, "corp.example.com", *d)
}

func TestParseEntraDomain(t *testing.T) {
	t.Parallel()

	joined := `
+----------------------------------------------------------------------+
| Device State                                                         |
+----------------------------------------------------------------------+
             AzureAdJoined : YES
          EnterpriseJoined : NO
              DomainJoined : NO
               DomainName : CONTOSO
`
	d := system.ParseEntraDomain(joined)
	require.NotNil(t, d)
	require.Equal(t, "CONTOSO", *d)

	require.Nil(t, system.ParseEntraDomain("AzureAdJoined : NO\nDomainName : CONTOSO\n"))
	require.Nil(t, system.ParseEntraDomain(""))
}

func TestIsEntraConnectService(t *testing.T) {
	t.Parallel()

	require.True(t, system.IsEntraConnectService("adsync"))
	require.True(t, system.IsEntraConnectService("Azure AD Sync"))
	require.False(t, system.IsEntraConnectService("Spooler"))
}

func TestProbeHostInfo(t *testing.T) {
	t.Parallel()

	layout := paths.Layout{GOOS: "linux", Home: "/home/u"}
	p := system.NewProbe(layout, "1.2.3", slog.New(slog.NewTextHandler(io.Discard, nil)))

	info := p.HostInfo(context.Background(), "org-9")
	require.Equal(t, "1.2.3", info.AgentVersion)
	require.Equal(t, "org-9", info.OrgID)
	require.Equal(t, layout.AgentExecutablePath("org-9"), info.AgentExecutablePath)
	require.Equal(t, layout.ServiceExecutablePath("org-9"), info.ServiceExecutablePath)
	require.NotEmpty(t, info.Hostname)

	inst := p.Installation(context.Background(), "org-9")
	require.Equal(t, layout.ConfigFilePath("org-9"), inst.ConfigFilePath)
	require.Equal(t, layout.ServiceManagerPath("org-9"), inst.ServiceManagerPath)
	require.Equal(t, "org-9", inst.Tags.OrgID)
}
