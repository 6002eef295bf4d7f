//go:build windows

package screen

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"os"
)

type windowsBackend struct{ tempDir string }

func (w *windowsBackend) captureRegion(_ context.Context, _ image.Rectangle) ([]byte, error) {
	// TODO: Implement using Windows GDI or DXGI
	return nil, errors.New("windows screen capture not yet implemented")
}

func (w *windowsBackend) cleanup() {}

// New creates the platform screen capturer.
func New() Capturer {
	tmpDir, err := os.MkdirTemp("", "visualcue-screen-*")
	if err != nil {
		slog.Error("failed to create temp dir", "error", err)
		tmpDir = os.TempDir()
	}
	return newBase(&windowsBackend{tempDir: tmpDir}, tmpDir)
}
