//go:build !windows

package supervisor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/system"
	"github.com/rewstapp/rewst_remote_agent/internal/supervisor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeVerifier struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (v *fakeVerifier) Verify(context.Context, string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.err
}

func (v *fakeVerifier) setErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

type recordingReporter struct {
	mu       sync.Mutex
	statuses []domain.ServiceStatus
}

func (r *recordingReporter) ReportStatus(s domain.ServiceStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recordingReporter) seen() []domain.ServiceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ServiceStatus(nil), r.statuses...)
}

// strayTable reports an extra pid by name once armed.
type strayTable struct {
	*system.ProcessTable
	stray int32
	armed atomic.Bool
}

func (t *strayTable) FindByName(ctx context.Context, name string) ([]int32, error) {
	pids, err := t.ProcessTable.FindByName(ctx, name)
	if t.armed.Load() {
		pids = append(pids, t.stray)
	}
	return pids, err
}

func writeWorker(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stubworker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStopEscalatesToKill(t *testing.T) {
	exe := writeWorker(t, `trap '' TERM
while :; do sleep 0.1; done`)

	reporter := &recordingReporter{}
	sup := supervisor.New(supervisor.Options{
		Executable:   exe,
		PollInterval: 50 * time.Millisecond,
		SettleDelay:  200 * time.Millisecond,
		StopTimeout:  500 * time.Millisecond,
	}, &fakeVerifier{}, system.NewProcessTable(), reporter, discard())

	require.NoError(t, sup.Start(t.Context()))
	require.Equal(t, domain.ServiceRunning, sup.Status())

	snap := sup.Snapshot()
	require.NotEmpty(t, snap.PIDs)
	primary := snap.PIDs[0]

	report := sup.Shutdown(t.Context())
	require.Contains(t, report.Terminated, primary)
	require.Contains(t, report.Killed, primary)
	require.Empty(t, report.Remaining)

	pids, err := system.NewProcessTable().FindByName(t.Context(), exe)
	require.NoError(t, err)
	require.Empty(t, pids)

	require.Equal(t, domain.ServiceStopped, sup.Status())
	require.Equal(t, []domain.ServiceStatus{
		domain.ServiceStarting,
		domain.ServiceRunning,
		domain.ServiceStopping,
		domain.ServiceStopped,
	}, reporter.seen())
}

func TestGracefulStop(t *testing.T) {
	exe := writeWorker(t, `while :; do sleep 0.1; done`)

	sup := supervisor.New(supervisor.Options{
		Executable:  exe,
		SettleDelay: 100 * time.Millisecond,
		StopTimeout: 5 * time.Second,
	}, &fakeVerifier{}, system.NewProcessTable(), nil, discard())

	require.NoError(t, sup.Start(t.Context()))
	require.NoError(t, sup.Stop(t.Context()))

	snap := sup.Snapshot()
	require.Equal(t, domain.ServiceStopped, snap.Status)
	require.Empty(t, snap.PIDs)
}

func TestChecksumGateNeverSpawns(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	exe := writeWorker(t, "touch "+marker)

	verifier := &fakeVerifier{err: &domain.ErrIntegrity{
		Op:   "verify",
		Path: exe,
		Err:  domain.ErrChecksumMismatch,
	}}
	reporter := &recordingReporter{}
	sup := supervisor.New(supervisor.Options{Executable: exe}, verifier, system.NewProcessTable(), reporter, discard())

	err := sup.Start(t.Context())
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrChecksumMismatch))

	var integrity *domain.ErrIntegrity
	require.ErrorAs(t, err, &integrity)

	require.Equal(t, domain.ServiceStopped, sup.Status())
	require.Empty(t, sup.Snapshot().PIDs)
	require.NotContains(t, reporter.seen(), domain.ServiceRunning)

	time.Sleep(100 * time.Millisecond)
	require.NoFileExists(t, marker)
}

func TestStartRejectsImmediateExit(t *testing.T) {
	exe := writeWorker(t, "exit 3")

	sup := supervisor.New(supervisor.Options{
		Executable:  exe,
		SettleDelay: time.Second,
	}, &fakeVerifier{}, system.NewProcessTable(), nil, discard())

	err := sup.Start(t.Context())
	var execErr *domain.ErrExecution
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, domain.ServiceStopped, sup.Status())
}

func TestRestartsWorkerThatExits(t *testing.T) {
	exe := writeWorker(t, "sleep 0.3")

	verifier := &fakeVerifier{}
	sup := supervisor.New(supervisor.Options{
		Executable:   exe,
		PollInterval: 20 * time.Millisecond,
		SettleDelay:  50 * time.Millisecond,
		StopTimeout:  time.Second,
		Backoff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(10 * time.Millisecond)
		},
	}, verifier, system.NewProcessTable(), nil, discard())

	require.NoError(t, sup.Start(t.Context()))
	require.Eventually(t, func() bool {
		return sup.Snapshot().Restarts >= 2
	}, 10*time.Second, 20*time.Millisecond)
	require.Equal(t, domain.ServiceRunning, sup.Status())

	verifier.mu.Lock()
	calls := verifier.calls
	verifier.mu.Unlock()
	require.GreaterOrEqual(t, calls, 3)

	sup.Shutdown(t.Context())
	require.Equal(t, domain.ServiceStopped, sup.Status())
}

func TestReportsStartingWhileRestartIsPending(t *testing.T) {
	exe := writeWorker(t, "sleep 0.2")

	reporter := &recordingReporter{}
	sup := supervisor.New(supervisor.Options{
		Executable:   exe,
		PollInterval: 20 * time.Millisecond,
		SettleDelay:  50 * time.Millisecond,
		StopTimeout:  time.Second,
		Backoff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(100 * time.Millisecond)
		},
	}, &fakeVerifier{}, system.NewProcessTable(), reporter, discard())

	require.NoError(t, sup.Start(t.Context()))
	require.Eventually(t, func() bool {
		return sup.Status() == domain.ServiceStarting
	}, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return sup.Snapshot().Restarts >= 1
	}, 5*time.Second, 10*time.Millisecond)
	sup.Shutdown(t.Context())

	seen := reporter.seen()
	require.GreaterOrEqual(t, len(seen), 4)
	require.Equal(t, []domain.ServiceStatus{
		domain.ServiceStarting,
		domain.ServiceRunning,
		domain.ServiceStarting,
		domain.ServiceRunning,
	}, seen[:4])
}

func TestStopSweepsStrayProcessesByName(t *testing.T) {
	exe := writeWorker(t, `while :; do sleep 0.1; done`)

	stray := exec.Command("sleep", "30")
	require.NoError(t, stray.Start())
	exited := make(chan error, 1)
	go func() { exited <- stray.Wait() }()
	t.Cleanup(func() {
		_ = stray.Process.Kill()
		<-exited
	})

	table := &strayTable{ProcessTable: system.NewProcessTable(), stray: int32(stray.Process.Pid)}
	sup := supervisor.New(supervisor.Options{
		Executable:  exe,
		SettleDelay: 100 * time.Millisecond,
		StopTimeout: 2 * time.Second,
	}, &fakeVerifier{}, table, nil, discard())

	require.NoError(t, sup.Start(t.Context()))
	require.False(t, slices.Contains(sup.Snapshot().PIDs, table.stray))

	// appears after the settle window, so it is never tracked
	table.armed.Store(true)
	report := sup.Shutdown(t.Context())
	require.NotContains(t, report.Terminated, table.stray)

	select {
	case err := <-exited:
		exited <- err
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
	case <-time.After(5 * time.Second):
		t.Fatal("stray process was not killed by the sweep")
	}
	require.Equal(t, domain.ServiceStopped, sup.Status())
}

func TestGivesUpWhenBackoffIsExhausted(t *testing.T) {
	exe := writeWorker(t, "sleep 0.2")

	reporter := &recordingReporter{}
	sup := supervisor.New(supervisor.Options{
		Executable:   exe,
		PollInterval: 20 * time.Millisecond,
		SettleDelay:  50 * time.Millisecond,
		Backoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 1)
		},
	}, &fakeVerifier{}, system.NewProcessTable(), reporter, discard())

	require.NoError(t, sup.Start(t.Context()))
	require.Eventually(t, func() bool {
		return sup.Status() == domain.ServiceStopped
	}, 10*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, sup.Snapshot().Restarts)

	sup.Shutdown(t.Context())
}

func TestRestartStopsOnFailedVerification(t *testing.T) {
	exe := writeWorker(t, "sleep 0.2")

	verifier := &fakeVerifier{}
	sup := supervisor.New(supervisor.Options{
		Executable:   exe,
		PollInterval: 20 * time.Millisecond,
		SettleDelay:  50 * time.Millisecond,
		Backoff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(10 * time.Millisecond)
		},
	}, verifier, system.NewProcessTable(), nil, discard())

	require.NoError(t, sup.Start(t.Context()))
	verifier.setErr(&domain.ErrIntegrity{Op: "verify", Path: exe, Err: domain.ErrChecksumMismatch})

	require.Eventually(t, func() bool {
		return sup.Status() == domain.ServiceStopped
	}, 10*time.Second, 20*time.Millisecond)
	require.Zero(t, sup.Snapshot().Restarts)

	sup.Shutdown(t.Context())
}
