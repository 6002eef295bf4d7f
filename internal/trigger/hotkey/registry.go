// Package hotkey maps key chords to targets. The registry only stores and
// resolves bindings; listening for key events is the embedding surface's
// job, which reports chords via Dispatch.
package hotkey

import (
	"context"
	"strings"

	"github.com/visualcue/engine/internal/errors"
	"github.com/visualcue/engine/internal/rules"
	"github.com/visualcue/engine/internal/syncx"
)

// Executor runs the target bound to a dispatched chord.
type Executor interface {
	Execute(ctx context.Context, target rules.Target) error
}

// Registry holds chord bindings. All methods are safe for concurrent use.
type Registry struct {
	bindings *syncx.RWGuard[map[string]rules.Target]
	executor Executor
}

func New(executor Executor) *Registry {
	return &Registry{
		bindings: syncx.NewGuard(map[string]rules.Target{}),
		executor: executor,
	}
}

// Normalize canonicalizes a chord string: lowercase, no spaces, so
// "Ctrl + Shift+R" and "ctrl+shift+r" are the same binding.
func Normalize(chord string) string {
	return strings.ToLower(strings.ReplaceAll(chord, " ", ""))
}

// Bind associates a chord with a target, replacing any existing binding
// for the same chord.
func (r *Registry) Bind(chord string, target rules.Target) error {
	key := Normalize(chord)
	if key == "" {
		return errors.New(errors.ConfigInvalid, "empty hotkey chord")
	}
	r.bindings.Write(func(m *map[string]rules.Target) {
		(*m)[key] = target
	})
	return nil
}

// Unbind removes a chord. Unknown chords are ignored.
func (r *Registry) Unbind(chord string) {
	key := Normalize(chord)
	r.bindings.Write(func(m *map[string]rules.Target) {
		delete(*m, key)
	})
}

// Rebind atomically moves a binding from one chord to another.
func (r *Registry) Rebind(from, to string) error {
	fromKey, toKey := Normalize(from), Normalize(to)
	if toKey == "" {
		return errors.New(errors.ConfigInvalid, "empty hotkey chord")
	}
	var missing bool
	r.bindings.Write(func(m *map[string]rules.Target) {
		target, ok := (*m)[fromKey]
		if !ok {
			missing = true
			return
		}
		delete(*m, fromKey)
		(*m)[toKey] = target
	})
	if missing {
		return errors.Newf(errors.ResolutionFault, "no binding for chord %q", from)
	}
	return nil
}

// Bindings returns a snapshot of the current chord map.
func (r *Registry) Bindings() map[string]rules.Target {
	out := map[string]rules.Target{}
	r.bindings.Read(func(m map[string]rules.Target) {
		for k, v := range m {
			out[k] = v
		}
	})
	return out
}

// Dispatch resolves a chord and executes its target. The executor runs
// outside the registry lock so a slow action cannot block rebinding.
func (r *Registry) Dispatch(ctx context.Context, chord string) error {
	key := Normalize(chord)
	var target rules.Target
	var ok bool
	r.bindings.Read(func(m map[string]rules.Target) {
		target, ok = m[key]
	})
	if !ok {
		return errors.Newf(errors.ResolutionFault, "no binding for chord %q", chord)
	}
	return r.executor.Execute(ctx, target)
}
