// Package speech speaks text through the platform TTS tool. One utterance
// at a time; a new Speak interrupts the current one.
package speech

import (
	"context"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/visualcue/engine/internal/errors"
	"github.com/visualcue/engine/internal/trace"
)

// Speaker shells out to the OS speech synthesizer.
type Speaker struct {
	mu  sync.Mutex
	cmd *exec.Cmd

	speaking atomic.Bool
	busy     atomic.Bool

	// newCmd builds the synthesis command, replaced in tests.
	newCmd func(ctx context.Context, text string) (*exec.Cmd, error)
}

func New() *Speaker {
	return &Speaker{newCmd: platformCommand}
}

// Speak starts speaking text, interrupting any utterance in flight. It
// returns once synthesis has started; completion is observed through
// IsSpeaking.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	s.Stop()

	s.busy.Store(true)
	cmd, err := s.newCmd(ctx, text)
	if err != nil {
		s.busy.Store(false)
		return err
	}

	s.mu.Lock()
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		s.busy.Store(false)
		return errors.Wrap(err, errors.OracleFault, "start speech synthesizer")
	}
	s.cmd = cmd
	s.mu.Unlock()
	s.speaking.Store(true)

	go func() {
		if err := cmd.Wait(); err != nil {
			trace.Logger(ctx).Debug("speech process exited", "error", err)
		}
		s.speaking.Store(false)
		s.busy.Store(false)
		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
		}
		s.mu.Unlock()
	}()
	return nil
}

// IsSpeaking reports whether an utterance is currently playing.
func (s *Speaker) IsSpeaking() bool { return s.speaking.Load() }

// ProviderBusy reports whether the synthesizer has accepted work it has
// not finished, including the window before audio starts.
func (s *Speaker) ProviderBusy() bool { return s.busy.Load() }

// Stop interrupts the current utterance, if any.
func (s *Speaker) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func platformCommand(ctx context.Context, text string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		return exec.CommandContext(ctx, "say", text), nil
	case "linux":
		if _, err := exec.LookPath("espeak-ng"); err == nil {
			return exec.CommandContext(ctx, "espeak-ng", text), nil
		}
		if _, err := exec.LookPath("espeak"); err == nil {
			return exec.CommandContext(ctx, "espeak", text), nil
		}
		return nil, errors.New(errors.OracleFault, "no speech tool found (install espeak-ng)")
	case "windows":
		script := "Add-Type -AssemblyName System.Speech; (New-Object System.Speech.Synthesis.SpeechSynthesizer).Speak([Console]::In.ReadToEnd())"
		cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		go func() {
			_, _ = stdin.Write([]byte(text))
			stdin.Close()
		}()
		return cmd, nil
	default:
		return nil, errors.Newf(errors.OracleFault, "speech not supported on %s", runtime.GOOS)
	}
}
