// Package system reads facts about the local machine and its processes.
package system

import (
	"context"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
)

const bytesPerGB = 1 << 30

// Probe implements impls.HostProbe and impls.InstallationSource.
type Probe struct {
	layout  paths.Layout
	version string
	logger  *slog.Logger
}

func NewProbe(layout paths.Layout, version string, logger *slog.Logger) *Probe {
	return &Probe{layout: layout, version: version, logger: logger}
}

// HostInfo never fails. Facts that cannot be read are left empty.
func (p *Probe) HostInfo(ctx context.Context, orgID string) domain.HostInfo {
	info := domain.HostInfo{
		AgentVersion:          p.version,
		AgentExecutablePath:   p.layout.AgentExecutablePath(orgID),
		ServiceExecutablePath: p.layout.ServiceExecutablePath(orgID),
		OrgID:                 orgID,
	}

	if hi, err := host.InfoWithContext(ctx); err != nil {
		p.logger.Warn("read host info", "err", err)
	} else {
		info.Hostname = hi.Hostname
		info.OperatingSystem = OperatingSystem(hi)
	}
	if info.Hostname == "" {
		info.Hostname, _ = os.Hostname()
	}

	if cpus, err := cpu.InfoWithContext(ctx); err != nil {
		p.logger.Warn("read cpu info", "err", err)
	} else if len(cpus) > 0 {
		info.CPUModel = strings.TrimSpace(cpus[0].ModelName)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		p.logger.Warn("read memory info", "err", err)
	} else {
		info.RAMGB = RoundGB(vm.Total)
	}

	if ifaces, err := net.InterfacesWithContext(ctx); err != nil {
		p.logger.Warn("read network interfaces", "err", err)
	} else {
		info.MACAddress = MACAddress(ifaces)
	}

	facts := p.directoryFacts(ctx)
	info.ADDomain = facts.adDomain
	info.IsADDomainController = facts.adDomain != nil && facts.domainController
	info.IsEntraConnectServer = facts.entraConnect
	info.EntraDomain = facts.entraDomain

	return info
}

func (p *Probe) Installation(ctx context.Context, orgID string) domain.InstallationInfo {
	return domain.InstallationInfo{
		ServiceExecutablePath: p.layout.ServiceExecutablePath(orgID),
		AgentExecutablePath:   p.layout.AgentExecutablePath(orgID),
		ConfigFilePath:        p.layout.ConfigFilePath(orgID),
		ServiceManagerPath:    p.layout.ServiceManagerPath(orgID),
		Tags:                  p.HostInfo(ctx, orgID),
	}
}

// OperatingSystem renders a platform string such as
// "ubuntu-22.04-x86_64" or "Microsoft Windows 11 Pro-10.0.22631-x86_64".
func OperatingSystem(hi *host.InfoStat) string {
	name := hi.Platform
	if name == "" {
		name = hi.OS
	}
	version := hi.PlatformVersion
	if version == "" {
		version = hi.KernelVersion
	}

	var parts []string
	for _, p := range []string{name, version, hi.KernelArch} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}

func RoundGB(total uint64) float64 {
	return math.Round(float64(total)/bytesPerGB*10) / 10
}

// MACAddress returns the first hardware address in lower case without
// separators, skipping loopback and all-zero addresses.
func MACAddress(ifaces net.InterfaceStatList) string {
	for _, iface := range ifaces {
		if slices.Contains(iface.Flags, "loopback") {
			continue
		}
		mac := strings.ToLower(iface.HardwareAddr)
		mac = strings.NewReplacer(":", "", "-", "").Replace(mac)
		if mac == "" || strings.Trim(mac, "0") == "" {
			continue
		}
		return mac
	}
	return ""
}
