// Package trigger coordinates detection, dispatch, combos, polling, and
// hotkeys behind one manager.
package trigger

import (
	"context"
	"time"

	"github.com/visualcue/engine/internal/rules"
	"github.com/visualcue/engine/internal/trace"
	"github.com/visualcue/engine/internal/trigger/combo"
	"github.com/visualcue/engine/internal/trigger/detect"
	"github.com/visualcue/engine/internal/trigger/dispatch"
	"github.com/visualcue/engine/internal/trigger/hotkey"
	"github.com/visualcue/engine/internal/trigger/poll"
)

// RuleUpdate is emitted after every evaluation tick of every rule.
type RuleUpdate struct {
	RuleID int
	Name   string
	Result detect.Result
	Err    error
}

// Status aggregates the manager's observable state.
type Status struct {
	Polling    poll.Status
	ArmedRules int
	Rules      int
	Combos     int
	Areas      int
}

// ComboRecorder persists completed combo runs. A nil recorder disables
// run history.
type ComboRecorder interface {
	RecordComboRun(ctx context.Context, runID, combo string, steps int) error
}

// Deps are the collaborators the manager wires together. Store is
// required; nil collaborators disable the corresponding behavior (no
// oracle means text rules never match, no recorder means no history).
// TextGrace and MaxSpeechWait override detection and sequencing caps
// when positive.
type Deps struct {
	Store         *rules.Store
	Capture       detect.Capturer
	Oracle        detect.Oracle
	Reader        dispatch.Reader
	Speech        combo.Speech
	Recorder      dispatch.Recorder
	ComboRecorder ComboRecorder
	TextGrace     time.Duration
	MaxSpeechWait time.Duration
}

// Manager owns the full trigger pipeline.
type Manager struct {
	store      *rules.Store
	evaluator  *detect.Evaluator
	dispatcher *dispatch.Dispatcher
	sequencer  *combo.Sequencer
	scheduler  *poll.Scheduler
	hotkeys    *hotkey.Registry
	comboLog   ComboRecorder

	ruleUpdates  chan RuleUpdate
	comboUpdates chan combo.Progress
}

// New wires the pipeline. The evaluator fires into the dispatcher, the
// dispatcher chains into the sequencer, and combo steps dispatch back
// through the dispatcher; the cycle is broken with a late-bound closure.
func New(deps Deps) *Manager {
	m := &Manager{
		store:        deps.Store,
		comboLog:     deps.ComboRecorder,
		ruleUpdates:  make(chan RuleUpdate, 64),
		comboUpdates: make(chan combo.Progress, 64),
	}

	execute := combo.ExecutorFunc(func(ctx context.Context, target rules.Target) error {
		return m.dispatcher.Dispatch(ctx, target)
	})

	m.sequencer = combo.New(deps.Store, execute, deps.Speech).
		WithMaxSpeechWait(deps.MaxSpeechWait).
		WithObserver(m.emitCombo)
	m.dispatcher = dispatch.New(deps.Store, deps.Reader, m.sequencer, deps.Recorder)
	m.evaluator = detect.New(deps.Capture, deps.Oracle, detect.FirerFunc(func(ctx context.Context, rule *rules.DetectionRule) {
		m.dispatcher.Fire(ctx, rule)
	})).WithTextGrace(deps.TextGrace)
	m.dispatcher.SetEvaluator(dispatch.EvaluatorFunc(func(ctx context.Context, rule *rules.DetectionRule) error {
		res, err := m.evaluator.Evaluate(ctx, rule)
		m.emitRule(RuleUpdate{RuleID: rule.ID, Name: rule.Name, Result: res, Err: err})
		return err
	}))
	m.scheduler = poll.New(m.runPass).WithRuleCounter(func() int {
		return len(deps.Store.Rules())
	})
	m.hotkeys = hotkey.New(execute)
	return m
}

// Store exposes the rule registry for config loading and the API surface.
func (m *Manager) Store() *rules.Store { return m.store }

// Hotkeys exposes the chord registry.
func (m *Manager) Hotkeys() *hotkey.Registry { return m.hotkeys }

// StartMonitoring begins the polling loop.
func (m *Manager) StartMonitoring(ctx context.Context, interval time.Duration) {
	ctx, _ = trace.EnsureContext(ctx)
	trace.Logger(ctx).Info("monitoring starting",
		"interval", interval,
		"armed_rules", m.store.ArmedCount())
	m.scheduler.Start(ctx, interval)
}

// StopMonitoring halts the polling loop. In-flight combo runs keep going;
// they are stopped only by Close or Cancel.
func (m *Manager) StopMonitoring() {
	m.scheduler.Stop()
}

// Status returns a snapshot of the pipeline.
func (m *Manager) Status() Status {
	return Status{
		Polling:    m.scheduler.Status(),
		ArmedRules: m.store.ArmedCount(),
		Rules:      len(m.store.Rules()),
		Combos:     len(m.store.Combos()),
		Areas:      len(m.store.Areas()),
	}
}

// RunPassOnce evaluates every rule a single time, outside the scheduler.
// Used by the check command and tests.
func (m *Manager) RunPassOnce(ctx context.Context) {
	ctx, _ = trace.EnsureContext(ctx)
	m.runPass(ctx)
}

// TriggerCombo starts a combo run by name.
func (m *Manager) TriggerCombo(ctx context.Context, name string) (string, error) {
	ctx, _ = trace.EnsureContext(ctx)
	cr, err := m.store.ResolveCombo(name)
	if err != nil {
		return "", err
	}
	return m.sequencer.Trigger(ctx, cr)
}

// CancelCombo aborts a combo run by its run ID.
func (m *Manager) CancelCombo(runID string) {
	m.sequencer.Cancel(runID)
}

// DispatchTarget executes a target directly, bypassing detection.
func (m *Manager) DispatchTarget(ctx context.Context, target rules.Target) error {
	ctx, _ = trace.EnsureContext(ctx)
	return m.dispatcher.Dispatch(ctx, target)
}

// DispatchNamed executes whatever the bare name resolves to, with area
// precedence over automations over combos.
func (m *Manager) DispatchNamed(ctx context.Context, name string) error {
	ctx, _ = trace.EnsureContext(ctx)
	return m.dispatcher.DispatchName(ctx, name)
}

// PressHotkey resolves and executes a chord binding.
func (m *Manager) PressHotkey(ctx context.Context, chord string) error {
	ctx, _ = trace.EnsureContext(ctx)
	return m.hotkeys.Dispatch(ctx, chord)
}

// RuleUpdates delivers per-rule evaluation results. Lossy; slow consumers
// miss ticks, never stall the loop.
func (m *Manager) RuleUpdates() <-chan RuleUpdate { return m.ruleUpdates }

// ComboUpdates delivers combo run progress. Lossy like RuleUpdates.
func (m *Manager) ComboUpdates() <-chan combo.Progress { return m.comboUpdates }

// StatusUpdates delivers scheduler status changes.
func (m *Manager) StatusUpdates() <-chan poll.Status { return m.scheduler.Updates() }

// Close stops polling and cancels all combo runs.
func (m *Manager) Close() {
	m.scheduler.Stop()
	m.sequencer.Close()
}

// runPass evaluates every rule serially in registration order. One pass
// per tick; the scheduler guarantees passes never overlap.
func (m *Manager) runPass(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "poll_pass")
	defer span.End()
	log := trace.Logger(ctx)

	for _, rule := range m.store.Rules() {
		if ctx.Err() != nil {
			return
		}
		res, err := m.evaluator.Evaluate(ctx, rule)
		if err != nil {
			log.Warn("rule evaluation failed", "rule", rule.Name, "error", err)
		}
		m.emitRule(RuleUpdate{RuleID: rule.ID, Name: rule.Name, Result: res, Err: err})
	}
}

func (m *Manager) emitRule(u RuleUpdate) {
	select {
	case m.ruleUpdates <- u:
	default:
	}
}

func (m *Manager) emitCombo(p combo.Progress) {
	if p.Done && m.comboLog != nil {
		ctx := context.Background()
		if err := m.comboLog.RecordComboRun(ctx, p.RunID, p.Combo, p.Total); err != nil {
			trace.Logger(ctx).Warn("combo run record failed",
				"combo", p.Combo, "run", p.RunID, "error", err)
		}
	}
	select {
	case m.comboUpdates <- p:
	default:
	}
}
