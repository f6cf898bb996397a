// Package cli holds the pieces shared by the agent's command line tools.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/rewstapp/rewst_remote_agent/internal/config"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
)

// BootstrapLogger logs to stderr until the org, and so the log file, is
// known.
func BootstrapLogger(settings *config.Settings) *slog.Logger {
	return config.NewWriterLogger(settings, os.Stderr)
}

// OrgLogger opens the log file of orgID, falling back to the user's home
// when the platform log directory is not writable. On failure it returns
// fallback.
func OrgLogger(settings *config.Settings, layout paths.Layout, orgID, name string, fallback *slog.Logger) (*slog.Logger, io.Closer) {
	dir := settings.LogDir
	if dir == "" {
		file := name + ".log"
		dir = filepath.Dir(paths.Resolve(filepath.Join(layout.LogDir(orgID), file), filepath.Join(orgID, file), fallback))
	}

	logger, closer, err := config.NewLogger(settings, dir, name)
	if err != nil {
		fallback.Error("exception occurred setting up file-based logging", "err", err)
		return fallback, nopCloser{}
	}
	return logger.With("org_id", orgID), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ResolveOrgID returns flagValue, or the org id embedded in the running
// executable's name.
func ResolveOrgID(flagValue string) (string, bool) {
	if flagValue != "" {
		return flagValue, true
	}
	exe, err := os.Executable()
	if err != nil {
		return "", false
	}
	return paths.OrgIDFromExecutable(exe)
}

// VersionCommand prints build information.
func VersionCommand(tool string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version of " + tool,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", tool, config.Version)
			fmt.Fprintf(out, "built:  %s\n", config.BuildTime)
			fmt.Fprintf(out, "go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			if info, ok := debug.ReadBuildInfo(); ok {
				for _, s := range info.Settings {
					switch s.Key {
					case "vcs.revision":
						fmt.Fprintf(out, "commit: %s\n", s.Value)
					case "vcs.modified":
						fmt.Fprintf(out, "dirty:  %s\n", s.Value)
					}
				}
			}
		},
	}
}
