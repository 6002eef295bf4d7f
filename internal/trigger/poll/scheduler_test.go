package poll

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartRunsPasses(t *testing.T) {
	var passes atomic.Int64
	s := New(func(context.Context) { passes.Add(1) })

	s.Start(context.Background(), 5*time.Millisecond)
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for passes.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("passes = %d after 1s, want at least 3", passes.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	var passes atomic.Int64
	s := New(func(context.Context) { passes.Add(1) })

	s.Start(context.Background(), time.Hour)
	s.Start(context.Background(), time.Hour) // must not spawn a second loop
	defer s.Stop()

	time.Sleep(20 * time.Millisecond)
	if got := passes.Load(); got != 1 {
		t.Errorf("passes = %d, want exactly the one immediate pass", got)
	}
}

func TestStopWaitsForInFlightPass(t *testing.T) {
	inPass := make(chan struct{})
	var finished atomic.Bool
	s := New(func(ctx context.Context) {
		close(inPass)
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})

	s.Start(context.Background(), time.Hour)
	<-inPass
	s.Stop()

	if !finished.Load() {
		t.Error("Stop returned while a pass was still running")
	}
	if s.Status().Active {
		t.Error("status should report inactive after Stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(func(context.Context) {})
	s.Stop() // never started
	s.Start(context.Background(), time.Hour)
	s.Stop()
	s.Stop()
}

func TestPassesDoNotOverlap(t *testing.T) {
	var concurrent, peak atomic.Int64
	s := New(func(context.Context) {
		if n := concurrent.Add(1); n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(5 * time.Millisecond) // slower than the interval
		concurrent.Add(-1)
	})

	s.Start(context.Background(), time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if peak.Load() > 1 {
		t.Errorf("peak concurrent passes = %d, want 1", peak.Load())
	}
}

func TestStatusUpdatesEmitted(t *testing.T) {
	s := New(func(context.Context) {})

	s.Start(context.Background(), time.Hour)
	select {
	case st := <-s.Updates():
		if !st.Active || st.Interval != time.Hour {
			t.Errorf("first update = %+v, want active with interval", st)
		}
	case <-time.After(time.Second):
		t.Fatal("no status update after Start")
	}
	s.Stop()

	// Drain: the last snapshot must show inactive.
	var last Status
	for {
		select {
		case st := <-s.Updates():
			last = st
			continue
		default:
		}
		break
	}
	if last.Active {
		t.Errorf("last update = %+v, want inactive", last)
	}
}

func TestRestartAfterStop(t *testing.T) {
	var passes atomic.Int64
	s := New(func(context.Context) { passes.Add(1) })

	s.Start(context.Background(), time.Hour)
	s.Stop()
	before := passes.Load()

	s.Start(context.Background(), time.Hour)
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for passes.Load() <= before {
		if time.Now().After(deadline) {
			t.Fatal("no pass after restart")
		}
		time.Sleep(time.Millisecond)
	}
}
