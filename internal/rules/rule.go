// Package rules holds the trigger domain model: named screen areas,
// detection rules with their transient evaluation state, and combo rules.
// Mutation goes through methods so concurrent readers always see a
// consistent snapshot.
package rules

import (
	"image"
	"sync"
	"time"

	"github.com/visualcue/engine/internal/imaging"
)

// Rect is a screen region in absolute pixel coordinates, inclusive of the
// top-left corner and exclusive of the bottom-right.
type Rect struct {
	X1, Y1, X2, Y2 int
}

func (r Rect) Width() int  { return r.X2 - r.X1 }
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Empty reports whether the region covers no pixels.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Bounds converts to the stdlib rectangle used by capture backends.
func (r Rect) Bounds() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// Area is a named screen region that actions can read aloud.
type Area struct {
	ID     int
	Name   string
	Region Rect
}

// TargetKind says what a fired rule or combo step acts on.
type TargetKind int

const (
	TargetArea TargetKind = iota
	TargetAutomation
	TargetCombo
)

var targetKindNames = [...]string{"area", "automation", "combo"}

func (k TargetKind) String() string {
	if k < 0 || int(k) >= len(targetKindNames) {
		return "unknown"
	}
	return targetKindNames[k]
}

// Target names the thing an action dispatches to. Resolution happens at
// dispatch time so targets can reference rules created later.
type Target struct {
	Kind TargetKind
	Name string
}

// EvalState is the transient per-rule detection state owned by the
// evaluator. It never persists across process restarts.
type EvalState struct {
	Matching     bool
	Fired        bool
	HoldActive   bool
	HoldStart    time.Time
	TextLastSeen time.Time
	LastPercent  float64
}

// DetectionRule pairs a watched region and reference image with matching
// parameters. Region and reference are settable after creation because
// operators capture them interactively; a rule is only armed once it has
// both.
type DetectionRule struct {
	ID           int
	Name         string
	Method       imaging.Method
	Threshold    float64
	RequiresText bool
	HoldDelay    time.Duration
	Target       Target

	mu        sync.Mutex
	region    Rect
	hasRegion bool
	reference image.Image
	state     EvalState
}

// SetRegion assigns the screen region the rule watches.
func (r *DetectionRule) SetRegion(region Rect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.region = region
	r.hasRegion = !region.Empty()
}

// Region returns the watched region and whether one has been set.
func (r *DetectionRule) Region() (Rect, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.region, r.hasRegion
}

// SetReference assigns the reference image matched against captures.
func (r *DetectionRule) SetReference(img image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reference = img
}

func (r *DetectionRule) Reference() image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reference
}

// Armed reports whether the rule has everything it needs to be evaluated.
func (r *DetectionRule) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasRegion && r.reference != nil
}

// State returns a snapshot of the transient evaluation state.
func (r *DetectionRule) State() EvalState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// UpdateState mutates the evaluation state under the rule lock. Only the
// evaluator writes state; everyone else reads snapshots via State.
func (r *DetectionRule) UpdateState(fn func(*EvalState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
}

// ResetState clears transient detection state, used when a rule is
// re-armed or monitoring restarts.
func (r *DetectionRule) ResetState() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = EvalState{}
}
