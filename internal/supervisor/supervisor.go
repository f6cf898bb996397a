// Package supervisor launches the agent worker binary after proving it is
// the published build, keeps it running and tears it down on request.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/impls"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultSettleDelay  = time.Second
	defaultStopTimeout  = 10 * time.Second
	defaultMinUptime    = time.Minute
	killWait            = 5 * time.Second
)

// Options configures a Supervisor. Zero values take defaults.
type Options struct {
	Executable string
	Args       []string

	PollInterval time.Duration
	// SettleDelay is how long after launch processes sharing the worker's
	// image name are collected.
	SettleDelay time.Duration
	StopTimeout time.Duration
	// MinUptime resets the restart backoff once a child lived this long.
	MinUptime time.Duration
	// Backoff builds the restart schedule. The default is exponential from
	// 1s up to 1m, giving up after 10m.
	Backoff func() backoff.BackOff
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = defaultSettleDelay
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = defaultStopTimeout
	}
	if o.MinUptime <= 0 {
		o.MinUptime = defaultMinUptime
	}
	if o.Backoff == nil {
		o.Backoff = restartBackoff
	}
}

func restartBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 10 * time.Minute
	b.Reset()
	return b
}

// StopReport lists what Stop had to do.
type StopReport struct {
	Terminated []int32
	Killed     []int32
	// Remaining are processes with the worker's image name still present
	// after the final sweep.
	Remaining []int32
}

// Supervisor implements impls.Service for the worker process.
type Supervisor struct {
	opts     Options
	verifier impls.ChecksumVerifier
	procs    impls.ProcessTable
	reporter impls.StatusReporter
	logger   *slog.Logger

	// ctl serializes Start and Stop.
	ctl sync.Mutex

	mu        sync.Mutex
	status    domain.ServiceStatus
	cmd       *exec.Cmd
	done      chan struct{}
	startedAt time.Time
	pids      []int32
	restarts  int

	cancel context.CancelFunc
	loop   sync.WaitGroup
}

func New(
	opts Options,
	verifier impls.ChecksumVerifier,
	procs impls.ProcessTable,
	reporter impls.StatusReporter,
	logger *slog.Logger,
) *Supervisor {
	opts.defaults()
	return &Supervisor{
		opts:     opts,
		verifier: verifier,
		procs:    procs,
		reporter: reporter,
		logger:   logger.With("executable", opts.Executable),
		status:   domain.ServiceStopped,
	}
}

// Start verifies and launches the worker, then supervises it in the
// background. A binary that fails verification is never executed.
func (s *Supervisor) Start(ctx context.Context) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	if status := s.Status(); status != domain.ServiceStopped {
		return fmt.Errorf("supervisor start: already %s", status)
	}
	// a health loop that gave up has already returned
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.loop.Wait()

	s.setStatus(domain.ServiceStarting)

	if err := s.spawn(ctx); err != nil {
		s.logger.Error("worker not started", "err", err)
		s.setStatus(domain.ServiceStopped)
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.loop.Go(func() { s.health(runCtx) })

	s.setStatus(domain.ServiceRunning)
	return nil
}

// Stop tears the worker down. See Shutdown.
func (s *Supervisor) Stop(ctx context.Context) error {
	report := s.Shutdown(ctx)
	if len(report.Remaining) > 0 {
		return fmt.Errorf("supervisor stop: %d worker processes survived: %v", len(report.Remaining), report.Remaining)
	}
	return nil
}

// Shutdown terminates every tracked process, escalates to kill after
// StopTimeout and sweeps remaining processes by image name. Termination
// errors are logged only; the supervisor always ends Stopped.
func (s *Supervisor) Shutdown(ctx context.Context) StopReport {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	// the health loop is drained first so it cannot report over Stopping
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.loop.Wait()
	s.setStatus(domain.ServiceStopping)

	s.mu.Lock()
	pids := slices.Clone(s.pids)
	done := s.done
	s.mu.Unlock()

	var report StopReport
	for _, pid := range pids {
		if !s.procs.Alive(ctx, pid) {
			continue
		}
		s.logger.Info("terminating worker", "pid", pid)
		if err := s.procs.Terminate(ctx, pid); err != nil {
			s.logger.Warn("terminate worker", "pid", pid, "err", err)
		}
		report.Terminated = append(report.Terminated, pid)
	}

	survivors := s.waitExit(ctx, pids, done, s.opts.StopTimeout)
	for _, pid := range survivors {
		s.logger.Warn("worker did not stop in time, killing", "pid", pid)
		if err := s.procs.Kill(ctx, pid); err != nil {
			s.logger.Warn("kill worker", "pid", pid, "err", err)
		}
		report.Killed = append(report.Killed, pid)
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(killWait):
			s.logger.Warn("worker exit not observed after kill")
		case <-ctx.Done():
		}
	}

	report.Remaining = s.sweep(ctx)

	s.mu.Lock()
	s.pids = nil
	s.cmd = nil
	s.mu.Unlock()

	s.setStatus(domain.ServiceStopped)
	s.logger.Info("worker stopped",
		"terminated", report.Terminated,
		"killed", report.Killed,
		"remaining", report.Remaining,
	)
	return report
}

func (s *Supervisor) Status() domain.ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Supervisor) Snapshot() domain.SupervisorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SupervisorSnapshot{
		Status:     s.status,
		Executable: s.opts.Executable,
		PIDs:       slices.Clone(s.pids),
		Restarts:   s.restarts,
	}
}

func (s *Supervisor) setStatus(status domain.ServiceStatus) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.mu.Unlock()

	if changed && s.reporter != nil {
		s.reporter.ReportStatus(status)
	}
}

// spawn runs the checksum gate, then launches the worker detached from
// this process and records its pids.
func (s *Supervisor) spawn(ctx context.Context) error {
	if err := s.verifier.Verify(ctx, s.opts.Executable); err != nil {
		return err
	}

	cmd := exec.Command(s.opts.Executable, s.opts.Args...)
	cmd.Dir = filepath.Dir(s.opts.Executable)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = detached()

	if err := cmd.Start(); err != nil {
		return &domain.ErrExecution{Op: "start worker", Err: err}
	}
	pid := int32(cmd.Process.Pid)
	done := make(chan struct{})

	s.mu.Lock()
	s.cmd = cmd
	s.done = done
	s.startedAt = time.Now()
	s.pids = []int32{pid}
	s.mu.Unlock()

	s.logger.Info("worker started", "pid", pid)
	go s.monitor(cmd, done)

	select {
	case <-done:
		return &domain.ErrExecution{Op: "start worker", Err: fmt.Errorf("exited immediately with code %d", cmd.ProcessState.ExitCode())}
	case <-time.After(s.opts.SettleDelay):
	case <-ctx.Done():
		return nil
	}

	s.track(ctx, pid)
	return nil
}

// track records every process sharing the worker's image name.
func (s *Supervisor) track(ctx context.Context, primary int32) {
	found, err := s.procs.FindByName(ctx, s.opts.Executable)
	if err != nil {
		s.logger.Warn("list worker processes", "err", err)
		return
	}

	self := int32(os.Getpid())
	pids := []int32{primary}
	for _, pid := range found {
		if pid != primary && pid != self {
			pids = append(pids, pid)
		}
	}

	s.mu.Lock()
	s.pids = pids
	s.mu.Unlock()

	if len(pids) > 1 {
		s.logger.Info("tracking worker processes", "pids", pids)
	}
}

func (s *Supervisor) monitor(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)
	s.logger.Info("worker exited", "pid", cmd.Process.Pid, "code", cmd.ProcessState.ExitCode(), "err", err)
}

// health restarts the worker when it exits on its own.
func (s *Supervisor) health(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	b := s.opts.Backoff()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		done := s.done
		startedAt := s.startedAt
		s.mu.Unlock()

		select {
		case <-done:
		default:
			continue
		}

		if time.Since(startedAt) >= s.opts.MinUptime {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			s.logger.Error("worker keeps exiting, giving up")
			s.mu.Lock()
			s.pids = nil
			s.mu.Unlock()
			s.setStatus(domain.ServiceStopped)
			return
		}

		s.logger.Warn("worker exited unexpectedly, restarting", "in", wait.String())
		// Running only ever means a verified binary with a live process
		s.setStatus(domain.ServiceStarting)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err := s.spawn(ctx)
		var integrity *domain.ErrIntegrity
		switch {
		case errors.As(err, &integrity):
			s.logger.Error("worker failed verification, not restarting", "err", err)
			s.setStatus(domain.ServiceStopped)
			return
		case err != nil:
			s.logger.Error("worker restart failed", "err", err)
		case ctx.Err() != nil:
			return
		default:
			s.setStatus(domain.ServiceRunning)
			s.mu.Lock()
			s.restarts++
			s.mu.Unlock()
		}
	}
}

// waitExit waits for pids to exit and returns the ones that did not.
func (s *Supervisor) waitExit(ctx context.Context, pids []int32, done <-chan struct{}, timeout time.Duration) []int32 {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		alive := s.alive(ctx, pids, done)
		if len(alive) == 0 {
			return nil
		}
		select {
		case <-deadline.C:
			return alive
		case <-ctx.Done():
			return alive
		case <-tick.C:
		}
	}
}

func (s *Supervisor) alive(ctx context.Context, pids []int32, done <-chan struct{}) []int32 {
	var alive []int32
	for i, pid := range pids {
		// the primary is our child and stays a zombie until reaped
		if i == 0 && done != nil {
			select {
			case <-done:
				continue
			default:
				alive = append(alive, pid)
				continue
			}
		}
		if s.procs.Alive(ctx, pid) {
			alive = append(alive, pid)
		}
	}
	return alive
}

// sweep kills stray processes sharing the worker's image name and returns
// those still present afterwards.
func (s *Supervisor) sweep(ctx context.Context) []int32 {
	self := int32(os.Getpid())
	strays := s.find(ctx, self)
	for _, pid := range strays {
		s.logger.Warn("killing stray worker process", "pid", pid)
		if err := s.procs.Kill(ctx, pid); err != nil {
			s.logger.Warn("kill stray worker", "pid", pid, "err", err)
		}
	}
	if len(strays) == 0 {
		return nil
	}

	var remaining []int32
	for _, pid := range strays {
		if s.procs.Alive(ctx, pid) {
			remaining = append(remaining, pid)
		}
	}
	return remaining
}

func (s *Supervisor) find(ctx context.Context, self int32) []int32 {
	found, err := s.procs.FindByName(ctx, s.opts.Executable)
	if err != nil {
		s.logger.Warn("list worker processes", "err", err)
		return nil
	}
	var out []int32
	for _, pid := range found {
		if pid != self && s.procs.Alive(ctx, pid) {
			out = append(out, pid)
		}
	}
	return out
}
