package connection

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// StopSignal is a one-way, level-triggered shutdown flag.
type StopSignal struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

// Set raises the flag. It reports true only for the call that raised it.
func (s *StopSignal) Set() bool {
	raised := false
	s.once.Do(func() {
		close(s.ch)
		raised = true
	})
	return raised
}

func (s *StopSignal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done is closed once the flag is raised.
func (s *StopSignal) Done() <-chan struct{} {
	return s.ch
}

// InstallSignalHandlers raises s on SIGINT or SIGTERM. The returned func
// restores default handling.
func InstallSignalHandlers(s *StopSignal, logger *slog.Logger) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			select {
			case sig := <-sigs:
				if s.Set() {
					logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
				}
			case <-quit:
				return
			}
		}
	})

	return func() {
		signal.Stop(sigs)
		close(quit)
		wg.Wait()
	}
}
