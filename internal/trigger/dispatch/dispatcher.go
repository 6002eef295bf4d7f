// Package dispatch routes fired rules to their actions: reading an area
// aloud, evaluating another automation out of cadence, or starting a
// combo.
package dispatch

import (
	"context"
	"time"

	"github.com/visualcue/engine/internal/errors"
	"github.com/visualcue/engine/internal/rules"
	"github.com/visualcue/engine/internal/trace"
)

// How deep automation-to-automation firing may nest before the dispatcher
// assumes a cycle and bails.
const maxChainDepth = 8

type depthKey struct{}

// Reader speaks the contents of a screen area.
type Reader interface {
	ReadArea(ctx context.Context, area *rules.Area) error
}

// Sequencer starts combo runs.
type Sequencer interface {
	Trigger(ctx context.Context, combo *rules.ComboRule) (runID string, err error)
}

// Evaluator runs one detection tick for a rule, used for out-of-cadence
// evaluation of automation targets.
type Evaluator interface {
	EvaluateNow(ctx context.Context, rule *rules.DetectionRule) error
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(context.Context, *rules.DetectionRule) error

func (f EvaluatorFunc) EvaluateNow(ctx context.Context, rule *rules.DetectionRule) error {
	return f(ctx, rule)
}

// Record describes one fire for the history log.
type Record struct {
	RuleName   string
	TargetKind rules.TargetKind
	TargetName string
	Percent    float64
	At         time.Time
}

// Recorder persists fire records. A nil Recorder disables history.
type Recorder interface {
	RecordFire(ctx context.Context, rec Record) error
}

// Dispatcher resolves targets against the store and executes them.
type Dispatcher struct {
	store     *rules.Store
	reader    Reader
	sequencer Sequencer
	recorder  Recorder
	evaluator Evaluator
}

func New(store *rules.Store, reader Reader, sequencer Sequencer, recorder Recorder) *Dispatcher {
	return &Dispatcher{store: store, reader: reader, sequencer: sequencer, recorder: recorder}
}

// SetEvaluator wires the out-of-cadence evaluator. The evaluator itself
// fires into this dispatcher, so it is bound after construction.
func (d *Dispatcher) SetEvaluator(e Evaluator) { d.evaluator = e }

// Fire handles a rule whose hold timer elapsed: it records the fire and
// dispatches the rule's target. Dispatch failures are logged, not
// propagated, so one broken target cannot stall the polling pass.
func (d *Dispatcher) Fire(ctx context.Context, rule *rules.DetectionRule) {
	log := trace.Logger(ctx)
	if depth, _ := ctx.Value(depthKey{}).(int); depth >= maxChainDepth {
		log.Warn("automation chain too deep, fire dropped", "rule", rule.Name, "depth", depth)
		return
	}

	st := rule.State()
	log.Info("rule fired",
		"rule", rule.Name,
		"target", rule.Target.Name,
		"percent", st.LastPercent)

	if d.recorder != nil {
		rec := Record{
			RuleName:   rule.Name,
			TargetKind: rule.Target.Kind,
			TargetName: rule.Target.Name,
			Percent:    st.LastPercent,
			At:         time.Now(),
		}
		if err := d.recorder.RecordFire(ctx, rec); err != nil {
			log.Warn("history record failed", "rule", rule.Name, "error", err)
		}
	}

	if err := d.Dispatch(ctx, rule.Target); err != nil {
		if errors.IsCode(err, errors.AlreadyRunning) {
			log.Info("combo already running, fire skipped",
				"rule", rule.Name, "combo", rule.Target.Name)
			return
		}
		log.Warn("dispatch failed",
			"rule", rule.Name,
			"target", rule.Target.Name,
			"error", err)
	}
}

// Dispatch executes a typed target, as used by hotkeys and the API as
// well as fired rules.
func (d *Dispatcher) Dispatch(ctx context.Context, target rules.Target) error {
	switch target.Kind {
	case rules.TargetArea:
		area, err := d.store.ResolveArea(target.Name)
		if err != nil {
			return err
		}
		if d.reader == nil {
			trace.Logger(ctx).Warn("no reader configured, area target skipped", "area", area.Name)
			return nil
		}
		return d.reader.ReadArea(ctx, area)

	case rules.TargetAutomation:
		rule, err := d.store.ResolveAutomation(target.Name)
		if err != nil {
			return err
		}
		if d.evaluator == nil {
			return errors.Newf(errors.ResolutionFault, "automation %q: no evaluator wired", target.Name)
		}
		// The extra tick runs the full state machine, so a fire inside it
		// re-enters this dispatcher with the chain depth bumped.
		depth, _ := ctx.Value(depthKey{}).(int)
		return d.evaluator.EvaluateNow(context.WithValue(ctx, depthKey{}, depth+1), rule)

	case rules.TargetCombo:
		combo, err := d.store.ResolveCombo(target.Name)
		if err != nil {
			return err
		}
		runID, err := d.sequencer.Trigger(ctx, combo)
		if err != nil {
			return err
		}
		trace.Logger(ctx).Debug("combo started", "combo", combo.Name, "run", runID)
		return nil

	default:
		return errors.Newf(errors.ResolutionFault, "unknown target kind %d", target.Kind)
	}
}

// DispatchName resolves a bare name with area precedence, then
// automation, then combo, and executes the first match.
func (d *Dispatcher) DispatchName(ctx context.Context, name string) error {
	if _, err := d.store.ResolveArea(name); err == nil {
		return d.Dispatch(ctx, rules.Target{Kind: rules.TargetArea, Name: name})
	}
	if _, err := d.store.ResolveAutomation(name); err == nil {
		return d.Dispatch(ctx, rules.Target{Kind: rules.TargetAutomation, Name: name})
	}
	if _, err := d.store.ResolveCombo(name); err == nil {
		return d.Dispatch(ctx, rules.Target{Kind: rules.TargetCombo, Name: name})
	}
	return errors.Newf(errors.ResolutionFault, "nothing named %q", name)
}
