package speech

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"
)

func sleepSpeaker(d time.Duration) *Speaker {
	s := New()
	s.newCmd = func(ctx context.Context, _ string) (*exec.Cmd, error) {
		return exec.CommandContext(ctx, "sleep", fmt.Sprintf("%g", d.Seconds())), nil
	}
	return s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSpeakLifecycle(t *testing.T) {
	s := sleepSpeaker(50 * time.Millisecond)

	if err := s.Speak(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if !s.IsSpeaking() || !s.ProviderBusy() {
		t.Error("speaker should report speaking right after Speak")
	}

	waitFor(t, func() bool { return !s.IsSpeaking() }, "utterance never finished")
	if s.ProviderBusy() {
		t.Error("busy should clear with speaking")
	}
}

func TestSpeakEmptyTextIsNoop(t *testing.T) {
	s := sleepSpeaker(time.Second)
	if err := s.Speak(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if s.IsSpeaking() || s.ProviderBusy() {
		t.Error("empty text should not start synthesis")
	}
}

func TestStopInterrupts(t *testing.T) {
	s := sleepSpeaker(time.Minute)
	if err := s.Speak(context.Background(), "long"); err != nil {
		t.Fatal(err)
	}

	s.Stop()
	waitFor(t, func() bool { return !s.IsSpeaking() }, "Stop did not end the utterance")
}

func TestNewSpeakInterruptsPrevious(t *testing.T) {
	s := sleepSpeaker(time.Minute)
	if err := s.Speak(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}

	// Swap in a short command for the second utterance.
	s.newCmd = func(ctx context.Context, _ string) (*exec.Cmd, error) {
		return exec.CommandContext(ctx, "sleep", "0.02"), nil
	}
	if err := s.Speak(context.Background(), "second"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return !s.IsSpeaking() }, "second utterance never finished, first may still be running")
}

func TestSpeakStartFailure(t *testing.T) {
	s := New()
	s.newCmd = func(ctx context.Context, _ string) (*exec.Cmd, error) {
		return exec.CommandContext(ctx, "/nonexistent-tts-binary"), nil
	}

	if err := s.Speak(context.Background(), "hello"); err == nil {
		t.Fatal("want error when the synthesizer cannot start")
	}
	if s.ProviderBusy() {
		t.Error("failed start must clear busy")
	}
}
