// Package retry describes phased retry schedules: a fixed number of attempts
// at one interval, then at a longer one, ending in a phase that never gives up.
package retry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// Unbounded marks a phase without an attempt limit.
const Unbounded = -1

// Phase is a run of attempts separated by Interval.
type Phase struct {
	Interval    time.Duration
	MaxAttempts int
}

// Policy is an ordered list of phases. The final phase never runs out: its
// MaxAttempts is not a limit.
type Policy struct {
	phases []Phase
}

// Attempt identifies one try within a policy.
type Attempt struct {
	// Phase is the zero-based phase index.
	Phase int
	// Number counts attempts within the phase, starting at 1.
	Number int
	// Interval is how long to wait after this attempt fails.
	Interval time.Duration
}

// Default is the registration schedule: every 5s for a minute, every minute
// for an hour, then every five minutes forever.
func Default() Policy {
	p, _ := New(
		Phase{Interval: 5 * time.Second, MaxAttempts: 12},
		Phase{Interval: 60 * time.Second, MaxAttempts: 60},
		Phase{Interval: 300 * time.Second, MaxAttempts: Unbounded},
	)
	return p
}

// New builds a validated Policy.
func New(phases ...Phase) (Policy, error) {
	p := Policy{phases: append([]Phase(nil), phases...)}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks that intervals never shrink and that every phase but the
// last has a finite, positive attempt count.
func (p Policy) Validate() error {
	if len(p.phases) == 0 {
		return errors.New("retry policy: no phases")
	}
	for i, ph := range p.phases {
		if ph.Interval < 0 {
			return fmt.Errorf("retry policy: phase %d: negative interval", i)
		}
		if i > 0 && ph.Interval < p.phases[i-1].Interval {
			return fmt.Errorf("retry policy: phase %d: interval %s shorter than previous %s",
				i, ph.Interval, p.phases[i-1].Interval)
		}
		last := i == len(p.phases)-1
		if !last && ph.MaxAttempts == Unbounded {
			return fmt.Errorf("retry policy: phase %d: only the last phase may be unbounded", i)
		}
		if !last && ph.MaxAttempts < 1 {
			return fmt.Errorf("retry policy: phase %d: max attempts must be positive", i)
		}
	}
	return nil
}

// Phases returns a copy of the configured phases.
func (p Policy) Phases() []Phase {
	return append([]Phase(nil), p.phases...)
}

// Attempts yields attempts in order. The sequence only ends when the
// consumer stops ranging.
func (p Policy) Attempts() iter.Seq[Attempt] {
	return func(yield func(Attempt) bool) {
		for i, ph := range p.phases {
			last := i == len(p.phases)-1
			for n := 1; last || n <= ph.MaxAttempts; n++ {
				if !yield(Attempt{Phase: i, Number: n, Interval: ph.Interval}) {
					return
				}
			}
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
