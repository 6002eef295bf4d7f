//go:build linux

package screen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

type linuxBackend struct{ tempDir string }

func (l *linuxBackend) captureRegion(ctx context.Context, region image.Rectangle) ([]byte, error) {
	tmpFile := filepath.Join(l.tempDir, "region.png")
	// grim handles Wayland, scrot handles X11; both take a region directly.
	var cmd *exec.Cmd
	if _, err := exec.LookPath("grim"); err == nil {
		spec := fmt.Sprintf("%d,%d %dx%d", region.Min.X, region.Min.Y, region.Dx(), region.Dy())
		cmd = exec.CommandContext(ctx, "grim", "-g", spec, tmpFile)
	} else if _, err := exec.LookPath("scrot"); err == nil {
		spec := fmt.Sprintf("%d,%d,%d,%d", region.Min.X, region.Min.Y, region.Dx(), region.Dy())
		cmd = exec.CommandContext(ctx, "scrot", "-o", "-a", spec, tmpFile)
	} else {
		return nil, errors.New("no screenshot tool found (install grim or scrot)")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screenshot: %w (%s)", err, stderr.String())
	}
	data, err := os.ReadFile(tmpFile)
	if err != nil {
		return nil, err
	}
	os.Remove(tmpFile)
	return data, nil
}

func (l *linuxBackend) cleanup() {}

// New creates the platform screen capturer.
func New() Capturer {
	tmpDir, err := os.MkdirTemp("", "visualcue-screen-*")
	if err != nil {
		slog.Error("failed to create temp dir", "error", err)
		tmpDir = os.TempDir()
	}
	return newBase(&linuxBackend{tempDir: tmpDir}, tmpDir)
}
