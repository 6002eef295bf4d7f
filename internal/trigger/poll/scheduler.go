// Package poll drives the detection loop: one pass over all rules per
// tick, with the next tick scheduled only after the pass finishes so
// passes never overlap.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/visualcue/engine/internal/syncx"
)

// Status is a snapshot of the scheduler's state.
type Status struct {
	Active   bool
	Interval time.Duration
	Rules    int
	LastPass time.Time
	// LastDuration is how long the most recent pass took.
	LastDuration time.Duration
	Passes       uint64
}

// Scheduler owns the polling goroutine. Start and Stop are idempotent and
// safe to call from any goroutine.
type Scheduler struct {
	pass      func(ctx context.Context)
	ruleCount func() int
	status    *syncx.RWGuard[Status]
	updates   chan Status

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler that invokes pass on every tick.
func New(pass func(ctx context.Context)) *Scheduler {
	return &Scheduler{
		pass:    pass,
		status:  syncx.NewGuard(Status{}),
		updates: make(chan Status, 8),
	}
}

// WithRuleCounter attaches a callback whose value is reported in every
// Status snapshot.
func (s *Scheduler) WithRuleCounter(fn func() int) *Scheduler {
	s.ruleCount = fn
	return s
}

// Start begins polling at the given interval. The first pass runs
// immediately. Starting an active scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.status.Write(func(st *Status) {
		st.Active = true
		st.Interval = interval
		if s.ruleCount != nil {
			st.Rules = s.ruleCount()
		}
	})
	s.emit()

	go s.loop(runCtx, interval, s.done)
}

// Stop halts polling and waits for an in-flight pass to finish. Stopping
// an idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	<-done

	s.status.Write(func(st *Status) { st.Active = false })
	s.emit()
}

// Status returns the current snapshot.
func (s *Scheduler) Status() Status {
	return s.status.Get()
}

// Updates delivers status snapshots as they change. The channel is
// buffered and lossy; slow consumers miss intermediate snapshots, never
// block the loop.
func (s *Scheduler) Updates() <-chan Status {
	return s.updates
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0) // immediate first pass
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		s.pass(ctx)
		s.status.Write(func(st *Status) {
			st.LastPass = time.Now()
			st.LastDuration = time.Since(start)
			st.Passes++
			if s.ruleCount != nil {
				st.Rules = s.ruleCount()
			}
		})
		s.emit()

		// Reset only after the pass so a slow pass delays the next tick
		// instead of stacking up behind it.
		timer.Reset(interval)
	}
}

func (s *Scheduler) emit() {
	select {
	case s.updates <- s.status.Get():
	default:
	}
}
