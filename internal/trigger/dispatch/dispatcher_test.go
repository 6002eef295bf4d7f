package dispatch

import (
	"context"
	"testing"

	"github.com/visualcue/engine/internal/errors"
	"github.com/visualcue/engine/internal/rules"
)

type spyReader struct {
	read []string
}

func (s *spyReader) ReadArea(_ context.Context, area *rules.Area) error {
	s.read = append(s.read, area.Name)
	return nil
}

type spySequencer struct {
	started []string
	err     error
}

func (s *spySequencer) Trigger(_ context.Context, combo *rules.ComboRule) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.started = append(s.started, combo.Name)
	return "run-1", nil
}

type spyRecorder struct {
	records []Record
}

func (s *spyRecorder) RecordFire(_ context.Context, rec Record) error {
	s.records = append(s.records, rec)
	return nil
}

func seedStore(t *testing.T) *rules.Store {
	t.Helper()
	s := rules.NewStore()
	if _, err := s.AddArea("chat", rules.Rect{X1: 0, Y1: 0, X2: 100, Y2: 50}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddCombo(&rules.ComboRule{Name: "opening"}); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestDispatchArea(t *testing.T) {
	store := seedStore(t)
	reader := &spyReader{}
	d := New(store, reader, &spySequencer{}, nil)

	err := d.Dispatch(context.Background(), rules.Target{Kind: rules.TargetArea, Name: "chat"})
	if err != nil {
		t.Fatal(err)
	}
	if len(reader.read) != 1 || reader.read[0] != "chat" {
		t.Errorf("read = %v, want [chat]", reader.read)
	}
}

func TestDispatchCombo(t *testing.T) {
	store := seedStore(t)
	seq := &spySequencer{}
	d := New(store, &spyReader{}, seq, nil)

	err := d.Dispatch(context.Background(), rules.Target{Kind: rules.TargetCombo, Name: "opening"})
	if err != nil {
		t.Fatal(err)
	}
	if len(seq.started) != 1 || seq.started[0] != "opening" {
		t.Errorf("started = %v, want [opening]", seq.started)
	}
}

type spyEvaluator struct {
	evaluated []string
	onEval    func(ctx context.Context, rule *rules.DetectionRule)
}

func (s *spyEvaluator) EvaluateNow(ctx context.Context, rule *rules.DetectionRule) error {
	s.evaluated = append(s.evaluated, rule.Name)
	if s.onEval != nil {
		s.onEval(ctx, rule)
	}
	return nil
}

func TestDispatchAutomationEvaluates(t *testing.T) {
	store := seedStore(t)
	if _, err := store.AddRule(&rules.DetectionRule{
		Name:      "inner",
		Threshold: 80,
		Target:    rules.Target{Kind: rules.TargetArea, Name: "chat"},
	}); err != nil {
		t.Fatal(err)
	}

	eval := &spyEvaluator{}
	d := New(store, &spyReader{}, &spySequencer{}, nil)
	d.SetEvaluator(eval)

	err := d.Dispatch(context.Background(), rules.Target{Kind: rules.TargetAutomation, Name: "inner"})
	if err != nil {
		t.Fatal(err)
	}
	if len(eval.evaluated) != 1 || eval.evaluated[0] != "inner" {
		t.Errorf("evaluated = %v, want [inner]", eval.evaluated)
	}
}

func TestDispatchAutomationNoEvaluator(t *testing.T) {
	store := seedStore(t)
	if _, err := store.AddRule(&rules.DetectionRule{
		Name: "inner", Threshold: 80,
		Target: rules.Target{Kind: rules.TargetArea, Name: "chat"},
	}); err != nil {
		t.Fatal(err)
	}

	d := New(store, &spyReader{}, &spySequencer{}, nil)
	err := d.Dispatch(context.Background(), rules.Target{Kind: rules.TargetAutomation, Name: "inner"})
	if !errors.IsCode(err, errors.ResolutionFault) {
		t.Errorf("err = %v, want ResolutionFault", err)
	}
}

func TestDispatchFireCycleBounded(t *testing.T) {
	store := seedStore(t)
	// Two automations pointing at each other.
	if _, err := store.AddRule(&rules.DetectionRule{
		Name: "a", Threshold: 80,
		Target: rules.Target{Kind: rules.TargetAutomation, Name: "b"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddRule(&rules.DetectionRule{
		Name: "b", Threshold: 80,
		Target: rules.Target{Kind: rules.TargetAutomation, Name: "a"},
	}); err != nil {
		t.Fatal(err)
	}

	d := New(store, &spyReader{}, &spySequencer{}, nil)
	// Every evaluation fires immediately, the worst case for a cycle.
	eval := &spyEvaluator{}
	eval.onEval = func(ctx context.Context, rule *rules.DetectionRule) {
		d.Fire(ctx, rule)
	}
	d.SetEvaluator(eval)

	err := d.Dispatch(context.Background(), rules.Target{Kind: rules.TargetAutomation, Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(eval.evaluated) > maxChainDepth {
		t.Errorf("evaluated %d times, want at most %d", len(eval.evaluated), maxChainDepth)
	}
}

func TestDispatchNamePrecedence(t *testing.T) {
	store := seedStore(t)
	// A combo sharing the area's name must lose to the area.
	if _, err := store.AddCombo(&rules.ComboRule{Name: "chat"}); err != nil {
		t.Fatal(err)
	}

	reader := &spyReader{}
	seq := &spySequencer{}
	d := New(store, reader, seq, nil)

	if err := d.DispatchName(context.Background(), "chat"); err != nil {
		t.Fatal(err)
	}
	if len(reader.read) != 1 || len(seq.started) != 0 {
		t.Errorf("read = %v, started = %v; area should win", reader.read, seq.started)
	}

	if err := d.DispatchName(context.Background(), "opening"); err != nil {
		t.Fatal(err)
	}
	if len(seq.started) != 1 || seq.started[0] != "opening" {
		t.Errorf("started = %v, want [opening]", seq.started)
	}

	err := d.DispatchName(context.Background(), "ghost")
	if !errors.IsCode(err, errors.ResolutionFault) {
		t.Errorf("err = %v, want ResolutionFault", err)
	}
}

func TestDispatchUnresolvedTarget(t *testing.T) {
	d := New(rules.NewStore(), &spyReader{}, &spySequencer{}, nil)
	err := d.Dispatch(context.Background(), rules.Target{Kind: rules.TargetArea, Name: "ghost"})
	if !errors.IsCode(err, errors.ResolutionFault) {
		t.Errorf("err = %v, want ResolutionFault", err)
	}
}

func TestFireRecordsHistory(t *testing.T) {
	store := seedStore(t)
	rec := &spyRecorder{}
	d := New(store, &spyReader{}, &spySequencer{}, rec)

	rule := &rules.DetectionRule{
		Name:      "popup",
		Threshold: 80,
		Target:    rules.Target{Kind: rules.TargetArea, Name: "chat"},
	}
	rule.UpdateState(func(st *rules.EvalState) { st.LastPercent = 91.2 })

	d.Fire(context.Background(), rule)

	if len(rec.records) != 1 {
		t.Fatalf("records = %d, want 1", len(rec.records))
	}
	got := rec.records[0]
	if got.RuleName != "popup" || got.TargetName != "chat" || got.Percent != 91.2 {
		t.Errorf("record = %+v", got)
	}
}

func TestFireSwallowsAlreadyRunning(t *testing.T) {
	store := seedStore(t)
	seq := &spySequencer{err: errors.New(errors.AlreadyRunning, "combo opening already running")}
	d := New(store, &spyReader{}, seq, nil)

	rule := &rules.DetectionRule{
		Name:      "popup",
		Threshold: 80,
		Target:    rules.Target{Kind: rules.TargetCombo, Name: "opening"},
	}
	// Must not panic or propagate; a busy combo is an expected outcome.
	d.Fire(context.Background(), rule)
}
