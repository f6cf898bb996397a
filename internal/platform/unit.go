// Package platform adapts the service host to the operating system's
// service manager: systemd on Linux, launchd on macOS and the service
// control manager on Windows.
package platform

import (
	"bytes"
	"encoding/xml"
	"strings"
	"text/template"

	"github.com/coreos/go-systemd/v22/unit"

	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
)

// ServiceName is the service manager name of the agent for orgID.
func ServiceName(orgID string) string {
	return "RewstRemoteAgent_" + orgID
}

// Unit describes the service host registered with the OS.
type Unit struct {
	Name        string
	Description string
	Executable  string
	Args        []string
}

// NewUnit describes the service host installed for orgID.
func NewUnit(layout paths.Layout, orgID string) Unit {
	return Unit{
		Name:        ServiceName(orgID),
		Description: "Rewst Remote Agent (" + orgID + ")",
		Executable:  layout.ServiceExecutablePath(orgID),
		Args:        []string{"--org-id", orgID},
	}
}

// SystemdOptions renders u as a systemd service. The host notifies
// readiness once the worker passed verification.
func SystemdOptions(u Unit) []*unit.UnitOption {
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", u.Description),
		unit.NewUnitOption("Unit", "Wants", "network-online.target"),
		unit.NewUnitOption("Unit", "After", "network-online.target"),
		unit.NewUnitOption("Service", "Type", "notify"),
		unit.NewUnitOption("Service", "ExecStart", execLine(u.Executable, u.Args)),
		unit.NewUnitOption("Service", "Restart", "always"),
		unit.NewUnitOption("Service", "RestartSec", "10"),
		unit.NewUnitOption("Service", "KillMode", "mixed"),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	}
}

func execLine(exe string, args []string) string {
	words := make([]string, 0, len(args)+1)
	for _, w := range append([]string{exe}, args...) {
		if strings.ContainsAny(w, " \t\"") {
			w = `"` + strings.ReplaceAll(w, `"`, `\"`) + `"`
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

var plistTemplate = template.Must(template.New("plist").Funcs(template.FuncMap{
	"xml": xmlEscape,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{ xml .Name }}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{ xml .Executable }}</string>
{{- range .Args }}
		<string>{{ xml . }}</string>
{{- end }}
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
</dict>
</plist>
`))

// LaunchdPlist renders u as a launchd property list.
func LaunchdPlist(u Unit) ([]byte, error) {
	var buf bytes.Buffer
	if err := plistTemplate.Execute(&buf, u); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func xmlEscape(s string) (string, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
