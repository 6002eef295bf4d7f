package combo

import "time"

const (
	// How often a run polls for step completion and delay countdown.
	CompletionTick = 50 * time.Millisecond

	// How long to wait for the speech provider to start speaking before
	// treating the step as silent.
	StartupGrace = 400 * time.Millisecond

	// Hard cap on waiting for one step's speech to complete.
	MaxSpeechWait = 60 * time.Second

	// Cap on waiting for a provider that reports busy but never starts
	// speaking.
	StuckProviderWait = 15 * time.Second
)
