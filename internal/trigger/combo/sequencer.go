// Package combo runs multi-step sequences: each step dispatches a target,
// waits for its speech (or nested combo) to complete, then counts down the
// configured delay before the next step. Runs are detached from the
// triggering context so a combo started by a hotkey outlives the poll pass
// that started it.
package combo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visualcue/engine/internal/errors"
	"github.com/visualcue/engine/internal/rules"
	"github.com/visualcue/engine/internal/trace"
)

// Executor performs one step's target action.
type Executor interface {
	Execute(ctx context.Context, target rules.Target) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(context.Context, rules.Target) error

func (f ExecutorFunc) Execute(ctx context.Context, target rules.Target) error {
	return f(ctx, target)
}

// Speech reports the speech provider's state. IsSpeaking is the
// authoritative signal; ProviderBusy covers the window before audio
// actually starts.
type Speech interface {
	IsSpeaking() bool
	ProviderBusy() bool
}

// Progress describes a run's position, emitted to the observer as steps
// advance and delays count down.
type Progress struct {
	Combo     string
	RunID     string
	Step      int
	Total     int
	Remaining time.Duration
	Done      bool
}

// Sequencer starts and supervises combo runs. One run per combo at a
// time; concurrent triggers of the same combo get an already-running
// error.
type Sequencer struct {
	store    *rules.Store
	executor Executor
	speech   Speech
	observer func(Progress)

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	// Timing knobs, overridden in tests.
	completionTick    time.Duration
	startupGrace      time.Duration
	maxSpeechWait     time.Duration
	stuckProviderWait time.Duration
}

func New(store *rules.Store, executor Executor, speech Speech) *Sequencer {
	return &Sequencer{
		store:             store,
		executor:          executor,
		speech:            speech,
		cancels:           make(map[string]context.CancelFunc),
		completionTick:    CompletionTick,
		startupGrace:      StartupGrace,
		maxSpeechWait:     MaxSpeechWait,
		stuckProviderWait: StuckProviderWait,
	}
}

// WithMaxSpeechWait overrides the hard cap on waiting for one step's
// speech. Zero or negative keeps the default.
func (s *Sequencer) WithMaxSpeechWait(d time.Duration) *Sequencer {
	if d > 0 {
		s.maxSpeechWait = d
	}
	return s
}

// WithObserver registers a progress callback. Must be called before the
// first Trigger; the callback runs on the combo goroutine and must not
// block.
func (s *Sequencer) WithObserver(fn func(Progress)) *Sequencer {
	s.observer = fn
	return s
}

// Trigger starts a run of the combo and returns its run ID. Steps whose
// targets no longer resolve are dropped up front; a combo with no valid
// steps left refuses to run.
func (s *Sequencer) Trigger(ctx context.Context, combo *rules.ComboRule) (string, error) {
	log := trace.Logger(ctx)

	valid := make([]rules.ComboStep, 0, len(combo.Steps()))
	for i, step := range combo.Steps() {
		if err := s.resolvable(step.Target); err != nil {
			log.Warn("combo step dropped",
				"combo", combo.Name, "step", i, "target", step.Target.Name, "error", err)
			continue
		}
		valid = append(valid, step)
	}
	if len(valid) == 0 {
		return "", errors.Newf(errors.NoValidSteps, "combo %q has no valid steps", combo.Name)
	}

	if !combo.TryBegin() {
		return "", errors.Newf(errors.AlreadyRunning, "combo %q already running", combo.Name)
	}

	runID := uuid.NewString()
	// Detach from the caller: the triggering tick or request finishing must
	// not abort the run. Cancellation goes through Cancel.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.cancels[runID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx, combo, valid, runID)

	log.Info("combo run started", "combo", combo.Name, "run", runID, "steps", len(valid))
	return runID, nil
}

// Cancel aborts a run by ID. Unknown IDs are ignored.
func (s *Sequencer) Cancel(runID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close cancels every in-flight run and waits for the goroutines to exit.
func (s *Sequencer) Close() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sequencer) run(ctx context.Context, combo *rules.ComboRule, steps []rules.ComboStep, runID string) {
	log := trace.Logger(ctx)
	defer func() {
		combo.Finish()
		s.mu.Lock()
		delete(s.cancels, runID)
		s.mu.Unlock()
		s.emit(Progress{Combo: combo.Name, RunID: runID, Step: len(steps), Total: len(steps), Done: true})
		s.wg.Done()
	}()

	for i, step := range steps {
		if ctx.Err() != nil {
			log.Info("combo run cancelled", "combo", combo.Name, "run", runID, "step", i)
			return
		}
		combo.Advance(i)
		s.emit(Progress{Combo: combo.Name, RunID: runID, Step: i, Total: len(steps)})

		if err := s.executor.Execute(ctx, step.Target); err != nil {
			// A failed step is skipped rather than aborting the run, same as
			// a step that was dropped at resolution time.
			log.Warn("combo step failed",
				"combo", combo.Name, "run", runID, "step", i,
				"target", step.Target.Name, "error", err)
			continue
		}

		if step.Target.Kind == rules.TargetCombo {
			s.awaitChild(ctx, step.Target.Name)
		} else {
			s.awaitSpeech(ctx)
		}

		if step.Delay > 0 {
			s.awaitDelay(ctx, combo, runID, i, len(steps), step.Delay)
		}
	}
	log.Info("combo run complete", "combo", combo.Name, "run", runID)
}

// awaitSpeech blocks until the current step's speech finishes. The
// provider may take a moment to start, so silence is only trusted after
// the startup grace, and a provider that stays busy without ever speaking
// is abandoned after a cap.
func (s *Sequencer) awaitSpeech(ctx context.Context) {
	if s.speech == nil {
		return
	}

	start := time.Now()
	confirmed := false
	ticker := time.NewTicker(s.completionTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		elapsed := time.Since(start)
		switch {
		case s.speech.IsSpeaking():
			confirmed = true
		case confirmed:
			return
		case elapsed < s.startupGrace:
			// Still inside the startup window, keep waiting.
		case !s.speech.ProviderBusy():
			return
		case elapsed >= s.stuckProviderWait:
			return
		}

		if elapsed >= s.maxSpeechWait {
			return
		}
	}
}

// awaitChild blocks until the named child combo goes idle.
func (s *Sequencer) awaitChild(ctx context.Context, name string) {
	child, err := s.store.ResolveCombo(name)
	if err != nil {
		return
	}
	ticker := time.NewTicker(s.completionTick)
	defer ticker.Stop()
	for child.Running() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// awaitDelay counts down the inter-step delay, emitting remaining time so
// clients can render a countdown.
func (s *Sequencer) awaitDelay(ctx context.Context, combo *rules.ComboRule, runID string, step, total int, delay time.Duration) {
	deadline := time.Now().Add(delay)
	ticker := time.NewTicker(s.completionTick)
	defer ticker.Stop()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		s.emit(Progress{Combo: combo.Name, RunID: runID, Step: step, Total: total, Remaining: remaining})
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sequencer) resolvable(target rules.Target) error {
	switch target.Kind {
	case rules.TargetArea:
		_, err := s.store.ResolveArea(target.Name)
		return err
	case rules.TargetAutomation:
		_, err := s.store.ResolveAutomation(target.Name)
		return err
	case rules.TargetCombo:
		_, err := s.store.ResolveCombo(target.Name)
		return err
	default:
		return errors.Newf(errors.ResolutionFault, "unknown target kind %d", target.Kind)
	}
}

func (s *Sequencer) emit(p Progress) {
	if s.observer != nil {
		s.observer(p)
	}
}
