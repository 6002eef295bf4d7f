// Package screen provides platform-specific capture of screen regions.
// Each backend shells out to the OS screenshot tool; captures decode to
// stdlib images for the comparators.
package screen

import (
	"bytes"
	"context"
	"image"
	"os"

	_ "image/jpeg"
	_ "image/png"

	"github.com/visualcue/engine/internal/errors"
)

// Capturer grabs regions of the screen.
type Capturer interface {
	CaptureRegion(ctx context.Context, region image.Rectangle) (image.Image, error)
	Close()
}

// backend implements platform-specific raw capture. It may return the
// exact region or a larger frame containing it; the base crops.
type backend interface {
	captureRegion(ctx context.Context, region image.Rectangle) ([]byte, error)
	cleanup()
}

type subImager interface {
	SubImage(image.Rectangle) image.Image
}

// baseCapturer decodes and crops on top of a raw backend.
type baseCapturer struct {
	backend
	tempDir string
}

func newBase(b backend, tempDir string) *baseCapturer {
	return &baseCapturer{backend: b, tempDir: tempDir}
}

func (c *baseCapturer) CaptureRegion(ctx context.Context, region image.Rectangle) (image.Image, error) {
	if region.Dx() <= 0 || region.Dy() <= 0 {
		// A degenerate region yields a minimal frame rather than an error so
		// a misdrawn selection just matches nothing.
		return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
	}

	data, err := c.captureRegion(ctx, region)
	if err != nil {
		return nil, errors.Wrap(err, errors.CaptureFault, "screen capture")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.CaptureFault, "decode screenshot")
	}

	b := img.Bounds()
	if b.Dx() == region.Dx() && b.Dy() == region.Dy() {
		return img, nil
	}
	// Full-frame fallback tools return the whole screen; crop to the region.
	if si, ok := img.(subImager); ok && region.In(b) {
		return si.SubImage(region), nil
	}
	return nil, errors.Newf(errors.CaptureFault, "screenshot %dx%d does not cover region %v", b.Dx(), b.Dy(), region)
}

func (c *baseCapturer) Close() {
	c.cleanup()
	if c.tempDir != "" {
		os.RemoveAll(c.tempDir)
	}
}
