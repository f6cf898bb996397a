//go:build windows

package system

import (
	"context"
	"os/exec"
	"strings"

	"golang.org/x/sys/windows/svc/mgr"
)

const (
	adDomainScript = `$d = (Get-WmiObject Win32_ComputerSystem).Domain
if ($d -and $d -ne 'WORKGROUP') { $d }`
	domainRoleScript = `$r = (Get-WmiObject Win32_ComputerSystem).DomainRole
if ($r -eq 4 -or $r -eq 5) { 'True' } else { 'False' }`
)

func (p *Probe) directoryFacts(ctx context.Context) directoryFacts {
	var facts directoryFacts

	if out, err := p.run(ctx, "powershell", "-NoProfile", "-Command", adDomainScript); err == nil {
		facts.adDomain = ParseADDomain(out)
	}
	p.logger.Info("ad domain name", "domain", deref(facts.adDomain))

	if facts.adDomain != nil {
		if out, err := p.run(ctx, "powershell", "-NoProfile", "-Command", domainRoleScript); err == nil {
			facts.domainController = strings.Contains(out, "True")
		}
		p.logger.Info("is domain controller", "value", facts.domainController)
	}

	if out, err := p.run(ctx, "dsregcmd", "/status"); err == nil {
		facts.entraDomain = ParseEntraDomain(out)
	}

	facts.entraConnect = p.entraConnectInstalled()
	return facts
}

func (p *Probe) entraConnectInstalled() bool {
	m, err := mgr.Connect()
	if err != nil {
		p.logger.Warn("connect to service manager", "err", err)
		return false
	}
	defer m.Disconnect()

	names, err := m.ListServices()
	if err != nil {
		p.logger.Warn("list services", "err", err)
		return false
	}
	for _, name := range names {
		if IsEntraConnectService(name) {
			return true
		}
	}
	return false
}

func (p *Probe) run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		p.logger.Warn("host query failed", "cmd", name, "err", err)
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
