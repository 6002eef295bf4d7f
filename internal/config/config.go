// Package config handles engine configuration: process settings come from
// the environment, rule definitions from a YAML file.
package config

import (
	"os"
	"time"
)

type Config struct {
	HTTPAddr      string
	OCRAddr       string
	RulesPath     string
	HistoryPath   string
	PollInterval  time.Duration
	TextGrace     time.Duration
	MaxSpeechWait time.Duration
	AutoStart     bool
}

func Load() *Config {
	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8700"),
		OCRAddr:       getEnv("OCR_ADDR", "http://localhost:8701"),
		RulesPath:     getEnv("RULES_PATH", "rules.yaml"),
		HistoryPath:   getEnv("HISTORY_PATH", "history.db"),
		PollInterval:  getEnvDuration("POLL_INTERVAL", time.Second),
		TextGrace:     getEnvDuration("TEXT_GRACE", 500*time.Millisecond),
		MaxSpeechWait: getEnvDuration("MAX_SPEECH_WAIT", 60*time.Second),
		AutoStart:     getEnvBool("AUTO_START", false),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
