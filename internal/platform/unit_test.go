package platform_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/unit"
	"github.com/stretchr/testify/require"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/paths"
	"github.com/rewstapp/rewst_remote_agent/internal/platform"
)

func TestNewUnit(t *testing.T) {
	t.Parallel()

	u := platform.NewUnit(paths.Layout{GOOS: "linux"}, "org-1")
	require.Equal(t, "RewstRemoteAgent_org-1", u.Name)
	require.Equal(t, "/usr/local/bin/rewst_service_host_org-1.linux.bin", u.Executable)
	require.Equal(t, []string{"--org-id", "org-1"}, u.Args)
}

func TestSystemdOptions(t *testing.T) {
	t.Parallel()

	u := platform.Unit{
		Name:        "RewstRemoteAgent_org-1",
		Description: "Rewst Remote Agent (org-1)",
		Executable:  "/opt/rewst agent/host",
		Args:        []string{"--org-id", "org-1"},
	}

	data, err := io.ReadAll(unit.Serialize(platform.SystemdOptions(u)))
	require.NoError(t, err)

	opts, err := unit.Deserialize(bytes.NewReader(data))
	require.NoError(t, err)

	values := map[string]string{}
	for _, o := range opts {
		values[o.Section+"."+o.Name] = o.Value
	}
	require.Equal(t, `"/opt/rewst agent/host" --org-id org-1`, values["Service.ExecStart"])
	require.Equal(t, "always", values["Service.Restart"])
	require.Equal(t, "notify", values["Service.Type"])
	require.Equal(t, "multi-user.target", values["Install.WantedBy"])
}

func TestLaunchdPlist(t *testing.T) {
	t.Parallel()

	data, err := platform.LaunchdPlist(platform.Unit{
		Name:       "RewstRemoteAgent_org-1",
		Executable: "/Users/me/Library/Application Support/RewstRemoteAgent/org-1/host",
		Args:       []string{"--org-id", "a&b"},
	})
	require.NoError(t, err)

	s := string(data)
	require.Contains(t, s, "<string>RewstRemoteAgent_org-1</string>")
	require.Contains(t, s, "<string>/Users/me/Library/Application Support/RewstRemoteAgent/org-1/host</string>")
	require.Contains(t, s, "<string>a&amp;b</string>")
	require.Contains(t, s, "<key>RunAtLoad</key>")
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()

	require.Equal(t, domain.ServiceRunning, platform.SystemdStatus("active"))
	require.Equal(t, domain.ServiceStarting, platform.SystemdStatus("activating"))
	require.Equal(t, domain.ServiceStopping, platform.SystemdStatus("deactivating"))
	require.Equal(t, domain.ServiceStopped, platform.SystemdStatus("failed"))

	running := "{\n\t\"LimitLoadToSessionType\" = \"Aqua\";\n\t\"Label\" = \"RewstRemoteAgent_org-1\";\n\t\"PID\" = 4242;\n};"
	require.Equal(t, domain.ServiceRunning, platform.LaunchdStatus(running))
	require.Equal(t, domain.ServiceStopped, platform.LaunchdStatus("{\n\t\"Label\" = \"RewstRemoteAgent_org-1\";\n};"))
}

type fakeService struct {
	mu      sync.Mutex
	started bool
	stopped bool
	err     error
}

func (s *fakeService) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return s.err
}

func (s *fakeService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return ctx.Err()
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- platform.Run(ctx, "RewstRemoteAgent_org-1", svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.started
	}, time.Second, 10*time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	require.True(t, svc.stopped)
}

func TestRunReturnsStartError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	svc := &fakeService{err: boom}
	err := platform.Run(t.Context(), "RewstRemoteAgent_org-1", svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorIs(t, err, boom)
	require.False(t, svc.stopped)
}

func TestRunStaysUpWhenWorkerFailsVerification(t *testing.T) {
	t.Parallel()

	svc := &fakeService{err: &domain.ErrIntegrity{Op: "verify", Path: "/usr/local/bin/rewst_remote_agent_org-1.linux.bin", Err: domain.ErrChecksumMismatch}}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- platform.Run(ctx, "RewstRemoteAgent_org-1", svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.started
	}, time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return len(done) > 0 }, 200*time.Millisecond, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.True(t, svc.stopped)
}
