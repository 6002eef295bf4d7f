package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPAddr != ":8700" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.AutoStart {
		t.Error("AutoStart should default off")
	}
	if cfg.TextGrace != 500*time.Millisecond {
		t.Errorf("TextGrace = %v", cfg.TextGrace)
	}
	if cfg.MaxSpeechWait != 60*time.Second {
		t.Errorf("MaxSpeechWait = %v", cfg.MaxSpeechWait)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("AUTO_START", "true")
	t.Setenv("RULES_PATH", "/etc/visualcue/rules.yaml")

	cfg := Load()
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if !cfg.AutoStart {
		t.Error("AutoStart should be on")
	}
	if cfg.RulesPath != "/etc/visualcue/rules.yaml" {
		t.Errorf("RulesPath = %q", cfg.RulesPath)
	}
}

func TestBadDurationFallsBack(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "not-a-duration")
	if cfg := Load(); cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want the default", cfg.PollInterval)
	}

	t.Setenv("POLL_INTERVAL", "-5s")
	if cfg := Load(); cfg.PollInterval != time.Second {
		t.Errorf("negative interval accepted: %v", cfg.PollInterval)
	}
}
