package config

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visualcue/engine/internal/errors"
	"github.com/visualcue/engine/internal/imaging"
	"github.com/visualcue/engine/internal/rules"
	"github.com/visualcue/engine/internal/trigger/hotkey"
)

const rulesYAML = `
areas:
  - name: chat
    region: [0, 0, 400, 120]

automations:
  - name: popup
    method: structural
    threshold: 85
    requires_text: true
    hold_delay: 500ms
    region: [100, 100, 200, 150]
    reference: ref.png
    target:
      kind: area
      name: chat

combos:
  - name: opening
    steps:
      - target:
          kind: area
          name: chat
        delay: 2s
      - target:
          kind: automation
          name: popup

hotkeys:
  - chord: ctrl+shift+r
    target:
      kind: combo
      name: opening
`

type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, rules.Target) error { return nil }

func writeRules(t *testing.T, yaml string, withRef bool) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	if withRef {
		img := image.NewRGBA(image.Rect(0, 0, 100, 50))
		for y := 0; y < 50; y++ {
			for x := 0; x < 100; x++ {
				img.SetRGBA(x, y, color.RGBA{uint8(x), 0, 0, 255})
			}
		}
		f, err := os.Create(filepath.Join(dir, "ref.png"))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
	return path
}

func TestLoadAndApply(t *testing.T) {
	path := writeRules(t, rulesYAML, true)

	f, err := LoadRules(path)
	require.NoError(t, err)

	store := rules.NewStore()
	keys := hotkey.New(noopExecutor{})
	require.NoError(t, f.Apply(context.Background(), store, keys))

	area, err := store.ResolveArea("chat")
	require.NoError(t, err)
	assert.Equal(t, rules.Rect{X1: 0, Y1: 0, X2: 400, Y2: 120}, area.Region)

	rule, err := store.ResolveAutomation("popup")
	require.NoError(t, err)
	assert.Equal(t, imaging.Structural, rule.Method)
	assert.Equal(t, 85.0, rule.Threshold)
	assert.True(t, rule.RequiresText)
	assert.Equal(t, 500*time.Millisecond, rule.HoldDelay)
	assert.Equal(t, rules.Target{Kind: rules.TargetArea, Name: "chat"}, rule.Target)
	assert.True(t, rule.Armed(), "rule with region and reference should be armed")

	combo, err := store.ResolveCombo("opening")
	require.NoError(t, err)
	steps := combo.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, 2*time.Second, steps[0].Delay)
	assert.Equal(t, rules.TargetAutomation, steps[1].Target.Kind)

	bindings := keys.Bindings()
	require.Len(t, bindings, 1)
	assert.Equal(t, rules.Target{Kind: rules.TargetCombo, Name: "opening"}, bindings["ctrl+shift+r"])
}

func TestMissingReferenceDisarmsRule(t *testing.T) {
	path := writeRules(t, rulesYAML, false)

	f, err := LoadRules(path)
	require.NoError(t, err)

	store := rules.NewStore()
	require.NoError(t, f.Apply(context.Background(), store, nil))

	rule, err := store.ResolveAutomation("popup")
	require.NoError(t, err)
	assert.False(t, rule.Armed(), "rule without its reference image must stay disarmed")
}

func TestBadMethodRejected(t *testing.T) {
	yaml := `
automations:
  - name: popup
    method: ssim2
    threshold: 85
    target:
      kind: area
      name: chat
`
	f, err := LoadRules(writeRules(t, yaml, false))
	require.NoError(t, err)

	err = f.Apply(context.Background(), rules.NewStore(), nil)
	assert.True(t, errors.IsCode(err, errors.ConfigInvalid), "err = %v", err)
}

func TestBadTargetKindRejected(t *testing.T) {
	yaml := `
combos:
  - name: broken
    steps:
      - target:
          kind: banana
          name: x
`
	f, err := LoadRules(writeRules(t, yaml, false))
	require.NoError(t, err)

	err = f.Apply(context.Background(), rules.NewStore(), nil)
	assert.True(t, errors.IsCode(err, errors.ConfigInvalid), "err = %v", err)
}

func TestBadDurationRejected(t *testing.T) {
	yaml := `
automations:
  - name: popup
    method: pixel
    threshold: 85
    hold_delay: half-a-second
    target:
      kind: area
      name: chat
`
	f, err := LoadRules(writeRules(t, yaml, false))
	require.NoError(t, err)

	err = f.Apply(context.Background(), rules.NewStore(), nil)
	assert.True(t, errors.IsCode(err, errors.ConfigInvalid), "err = %v", err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errors.IsCode(err, errors.ConfigInvalid), "err = %v", err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeRules(t, "areas: [unclosed", false)
	_, err := LoadRules(path)
	assert.True(t, errors.IsCode(err, errors.ConfigInvalid), "err = %v", err)
}
