// Package detect evaluates detection rules against live screen captures.
// Each call to Evaluate runs one tick of the rule's hysteresis state
// machine: a rule fires only after its region has matched continuously for
// the configured hold delay, and a lost match resets everything.
package detect

import (
	"context"
	"image"
	"time"

	"github.com/visualcue/engine/internal/errors"
	"github.com/visualcue/engine/internal/imaging"
	"github.com/visualcue/engine/internal/rules"
	"github.com/visualcue/engine/internal/trace"
)

// Capturer grabs a region of the screen.
type Capturer interface {
	CaptureRegion(ctx context.Context, region image.Rectangle) (image.Image, error)
}

// Oracle answers whether a frame contains readable text.
type Oracle interface {
	HasText(ctx context.Context, img image.Image) (bool, error)
}

// Firer receives rules whose hold timer has elapsed.
type Firer interface {
	Fire(ctx context.Context, rule *rules.DetectionRule)
}

// FirerFunc adapts a function to the Firer interface.
type FirerFunc func(context.Context, *rules.DetectionRule)

func (f FirerFunc) Fire(ctx context.Context, rule *rules.DetectionRule) { f(ctx, rule) }

// Result is the outcome of one evaluation tick, consumed by status
// reporting.
type Result struct {
	Armed    bool
	Matching bool
	// TextFound is set only when the rule requires text and the oracle was
	// consulted this tick.
	TextFound *bool
	Percent   float64
	// Elapsed and Total describe hold timer progress while a match is held.
	Elapsed time.Duration
	Total   time.Duration
	Fired   bool
}

// Evaluator runs detection ticks. It is not safe for concurrent use on the
// same rule; the scheduler serializes evaluation.
type Evaluator struct {
	capture   Capturer
	oracle    Oracle
	firer     Firer
	textGrace time.Duration
	now       func() time.Time
}

func New(capture Capturer, oracle Oracle, firer Firer) *Evaluator {
	return &Evaluator{
		capture:   capture,
		oracle:    oracle,
		firer:     firer,
		textGrace: TextLossGrace,
		now:       time.Now,
	}
}

// WithTextGrace overrides the text-loss grace window. Zero or negative
// keeps the default.
func (e *Evaluator) WithTextGrace(d time.Duration) *Evaluator {
	if d > 0 {
		e.textGrace = d
	}
	return e
}

// Evaluate runs one detection tick for the rule. A disarmed rule yields an
// inert result rather than an error; capture failures are errors because
// the tick could not observe the screen at all.
func (e *Evaluator) Evaluate(ctx context.Context, rule *rules.DetectionRule) (Result, error) {
	if !rule.Armed() {
		rule.ResetState()
		return Result{}, nil
	}

	region, _ := rule.Region()
	frame, err := e.capture.CaptureRegion(ctx, region.Bounds())
	if err != nil {
		return Result{Armed: true}, errors.Wrapf(err, errors.CaptureFault, "rule %q: capture %dx%d region", rule.Name, region.Width(), region.Height())
	}

	percent := imaging.Compare(rule.Method, frame, rule.Reference())
	visual := percent >= rule.Threshold
	now := e.now()

	var textFound *bool
	if visual && rule.RequiresText {
		found := e.lookForText(ctx, rule, frame)
		textFound = &found
	}

	res := Result{Armed: true, Percent: percent, Total: rule.HoldDelay, TextFound: textFound}
	shouldFire := false
	rule.UpdateState(func(st *rules.EvalState) {
		st.LastPercent = percent

		matching := visual
		if visual && rule.RequiresText {
			if textFound != nil && *textFound {
				st.TextLastSeen = now
			} else if st.TextLastSeen.IsZero() || now.Sub(st.TextLastSeen) > e.textGrace {
				matching = false
			}
		}

		if !matching {
			st.Matching = false
			st.Fired = false
			st.HoldActive = false
			st.HoldStart = time.Time{}
			st.TextLastSeen = time.Time{}
			return
		}

		if !st.Matching {
			st.Matching = true
			st.HoldActive = true
			st.HoldStart = now
		}
		// The grace only keeps the timer alive through a text dropout;
		// the fire itself must land on a tick where text is present.
		textOK := !rule.RequiresText || (textFound != nil && *textFound)
		if st.HoldActive && now.Sub(st.HoldStart) >= rule.HoldDelay && textOK {
			shouldFire = true
			st.Fired = true
			// Restart the timer so a held match re-fires on the hold
			// cadence instead of every tick.
			st.HoldStart = now
		}

		res.Matching = true
		res.Elapsed = now.Sub(st.HoldStart)
	})

	if shouldFire {
		res.Fired = true
		if e.firer != nil {
			e.firer.Fire(ctx, rule)
		}
	}
	return res, nil
}

// lookForText consults the oracle, degrading to "no text" on any fault so
// a dead oracle can only suppress firing, never cause it.
func (e *Evaluator) lookForText(ctx context.Context, rule *rules.DetectionRule, frame image.Image) bool {
	if e.oracle == nil {
		return false
	}
	found, err := e.oracle.HasText(ctx, frame)
	if err != nil {
		trace.Logger(ctx).Warn("text oracle unavailable",
			"rule", rule.Name,
			"error", err)
		return false
	}
	return found
}
