package config

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	_ "image/jpeg"
	_ "image/png"

	"github.com/visualcue/engine/internal/errors"
	"github.com/visualcue/engine/internal/imaging"
	"github.com/visualcue/engine/internal/rules"
	"github.com/visualcue/engine/internal/trace"
	"github.com/visualcue/engine/internal/trigger/hotkey"
)

// File is the YAML rule definition document.
type File struct {
	Areas       []AreaDef       `yaml:"areas"`
	Automations []AutomationDef `yaml:"automations"`
	Combos      []ComboDef      `yaml:"combos"`
	Hotkeys     []HotkeyDef     `yaml:"hotkeys"`

	dir string
}

// AreaDef names a screen region. Region is x1, y1, x2, y2.
type AreaDef struct {
	Name   string `yaml:"name"`
	Region [4]int `yaml:"region"`
}

type TargetDef struct {
	Kind string `yaml:"kind"` // area, automation, combo
	Name string `yaml:"name"`
}

type AutomationDef struct {
	Name         string    `yaml:"name"`
	Method       string    `yaml:"method"`
	Threshold    float64   `yaml:"threshold"`
	RequiresText bool      `yaml:"requires_text"`
	HoldDelay    string    `yaml:"hold_delay"` // Go duration, e.g. "500ms"
	Region       [4]int    `yaml:"region"`
	Reference    string    `yaml:"reference"` // image path, relative to this file
	Target       TargetDef `yaml:"target"`
}

type StepDef struct {
	Target TargetDef `yaml:"target"`
	Delay  string    `yaml:"delay"`
}

type ComboDef struct {
	Name  string    `yaml:"name"`
	Steps []StepDef `yaml:"steps"`
}

type HotkeyDef struct {
	Chord  string    `yaml:"chord"`
	Target TargetDef `yaml:"target"`
}

// LoadRules parses the YAML rule file at path. Reference image paths
// resolve relative to the file's directory.
func LoadRules(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ConfigInvalid, "read rules file")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ConfigInvalid, "parse rules file")
	}
	f.dir = filepath.Dir(path)
	return &f, nil
}

// Apply registers everything in the file with the store and hotkey
// registry. Rules whose reference image cannot be loaded are registered
// disarmed rather than rejected, so one missing file does not take down
// the whole config.
func (f *File) Apply(ctx context.Context, store *rules.Store, keys *hotkey.Registry) error {
	log := trace.Logger(ctx)

	for _, a := range f.Areas {
		if _, err := store.AddArea(a.Name, rectOf(a.Region)); err != nil {
			return err
		}
	}

	for _, def := range f.Automations {
		method, err := imaging.ParseMethod(def.Method)
		if err != nil {
			return errors.Wrapf(err, errors.ConfigInvalid, "automation %q", def.Name)
		}
		target, err := targetOf(def.Target)
		if err != nil {
			return errors.Wrapf(err, errors.ConfigInvalid, "automation %q", def.Name)
		}
		hold, err := durationOf(def.HoldDelay)
		if err != nil {
			return errors.Wrapf(err, errors.ConfigInvalid, "automation %q hold_delay", def.Name)
		}

		rule := &rules.DetectionRule{
			Name:         def.Name,
			Method:       method,
			Threshold:    def.Threshold,
			RequiresText: def.RequiresText,
			HoldDelay:    hold,
			Target:       target,
		}
		rule.SetRegion(rectOf(def.Region))
		if def.Reference != "" {
			ref, err := f.loadImage(def.Reference)
			if err != nil {
				log.Warn("reference image unavailable, rule disarmed",
					"automation", def.Name, "path", def.Reference, "error", err)
			} else {
				rule.SetReference(ref)
			}
		}
		if _, err := store.AddRule(rule); err != nil {
			return err
		}
	}

	for _, def := range f.Combos {
		steps := make([]rules.ComboStep, 0, len(def.Steps))
		for i, sd := range def.Steps {
			target, err := targetOf(sd.Target)
			if err != nil {
				return errors.Wrapf(err, errors.ConfigInvalid, "combo %q step %d", def.Name, i)
			}
			delay, err := durationOf(sd.Delay)
			if err != nil {
				return errors.Wrapf(err, errors.ConfigInvalid, "combo %q step %d delay", def.Name, i)
			}
			steps = append(steps, rules.ComboStep{Target: target, Delay: delay})
		}
		cr := &rules.ComboRule{Name: def.Name}
		cr.SetSteps(steps)
		if _, err := store.AddCombo(cr); err != nil {
			return err
		}
	}

	if keys != nil {
		for _, def := range f.Hotkeys {
			target, err := targetOf(def.Target)
			if err != nil {
				return errors.Wrapf(err, errors.ConfigInvalid, "hotkey %q", def.Chord)
			}
			if err := keys.Bind(def.Chord, target); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *File) loadImage(path string) (image.Image, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.dir, path)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	return img, err
}

func rectOf(r [4]int) rules.Rect {
	return rules.Rect{X1: r[0], Y1: r[1], X2: r[2], Y2: r[3]}
}

func targetOf(t TargetDef) (rules.Target, error) {
	switch t.Kind {
	case "area":
		return rules.Target{Kind: rules.TargetArea, Name: t.Name}, nil
	case "automation":
		return rules.Target{Kind: rules.TargetAutomation, Name: t.Name}, nil
	case "combo":
		return rules.Target{Kind: rules.TargetCombo, Name: t.Name}, nil
	default:
		return rules.Target{}, errors.Newf(errors.ConfigInvalid, "unknown target kind %q", t.Kind)
	}
}

func durationOf(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, errors.Newf(errors.ConfigInvalid, "bad duration %q", s)
	}
	return d, nil
}
