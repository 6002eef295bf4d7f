package rules

import (
	"sync"
	"time"
)

// ComboStep is one entry in a combo sequence: what to act on and how long
// to wait after this step completes before the next one begins.
type ComboStep struct {
	Target Target
	Delay  time.Duration
}

// ComboRule is an ordered sequence of steps executed one at a time. The
// running flag is a compare-and-set guard so a combo can never have two
// concurrent runs.
type ComboRule struct {
	ID   int
	Name string

	mu      sync.Mutex
	steps   []ComboStep
	running bool
	current int
}

// Steps returns a copy of the configured steps.
func (c *ComboRule) Steps() []ComboStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ComboStep, len(c.steps))
	copy(out, c.steps)
	return out
}

// SetSteps replaces the step list. Takes effect on the next run; a run
// already in flight keeps the steps it started with.
func (c *ComboRule) SetSteps(steps []ComboStep) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = make([]ComboStep, len(steps))
	copy(c.steps, steps)
}

// TryBegin claims the run slot. It returns false when a run is already in
// flight, which the sequencer surfaces as an already-running error.
func (c *ComboRule) TryBegin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	c.current = 0
	return true
}

// Advance records progress to the given step index.
func (c *ComboRule) Advance(step int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = step
}

// Finish releases the run slot.
func (c *ComboRule) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.current = 0
}

// Running reports whether a run is in flight.
func (c *ComboRule) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// CurrentStep returns the index of the step in flight, valid only while
// Running.
func (c *ComboRule) CurrentStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
