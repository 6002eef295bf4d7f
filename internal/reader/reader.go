// Package reader captures a screen area, extracts its text, and speaks
// it. Repeated reads of an unchanged area skip the OCR round trip by
// comparing perceptual hashes of the frames.
package reader

import (
	"context"
	"image"
	"sync"

	"github.com/corona10/goimagehash"

	"github.com/visualcue/engine/internal/errors"
	"github.com/visualcue/engine/internal/rules"
	"github.com/visualcue/engine/internal/trace"
)

// Capturer grabs a region of the screen.
type Capturer interface {
	CaptureRegion(ctx context.Context, region image.Rectangle) (image.Image, error)
}

// Extractor pulls text out of a frame.
type Extractor interface {
	ExtractText(ctx context.Context, img image.Image) (string, error)
}

// Speaker voices text.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type cachedRead struct {
	hash *goimagehash.ImageHash
	text string
}

// Reader reads areas aloud.
type Reader struct {
	capture Capturer
	extract Extractor
	speak   Speaker

	mu    sync.Mutex
	cache map[int]cachedRead
}

func New(capture Capturer, extract Extractor, speak Speaker) *Reader {
	return &Reader{
		capture: capture,
		extract: extract,
		speak:   speak,
		cache:   make(map[int]cachedRead),
	}
}

// ReadArea captures the area, extracts its text, and speaks it. An area
// with no text is a quiet no-op. Speech happens even when the cached text
// is reused so a re-triggered read always voices the area.
func (r *Reader) ReadArea(ctx context.Context, area *rules.Area) error {
	ctx, span := trace.StartSpan(ctx, "read_area")
	defer span.End()
	log := trace.Logger(ctx)

	frame, err := r.capture.CaptureRegion(ctx, area.Region.Bounds())
	if err != nil {
		return errors.Wrapf(err, errors.CaptureFault, "area %q", area.Name)
	}

	text, err := r.textFor(ctx, area, frame)
	if err != nil {
		return err
	}
	if text == "" {
		log.Debug("area has no text", "area", area.Name)
		return nil
	}

	log.Info("reading area", "area", area.Name, "chars", len(text))
	return r.speak.Speak(ctx, text)
}

// textFor returns the frame's text, reusing the last OCR result when the
// frame is perceptually identical to the previous read of this area.
func (r *Reader) textFor(ctx context.Context, area *rules.Area, frame image.Image) (string, error) {
	hash, hashErr := goimagehash.AverageHash(frame)
	if hashErr == nil {
		r.mu.Lock()
		cached, ok := r.cache[area.ID]
		r.mu.Unlock()
		if ok && cached.hash != nil {
			if dist, err := hash.Distance(cached.hash); err == nil && dist == 0 {
				return cached.text, nil
			}
		}
	}

	text, err := r.extract.ExtractText(ctx, frame)
	if err != nil {
		return "", errors.Wrapf(err, errors.OracleFault, "area %q", area.Name)
	}

	if hashErr == nil {
		r.mu.Lock()
		r.cache[area.ID] = cachedRead{hash: hash, text: text}
		r.mu.Unlock()
	}
	return text, nil
}
