// Package imaging computes match percentages between raster images.
// All comparators are pure: they never mutate their inputs and degrade to 0%
// on malformed input, so a broken capture can never fire a trigger.
package imaging

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"
)

// Method selects a comparison algorithm.
type Method int

const (
	Pixel Method = iota
	Histogram
	Structural
	Perceptual
	Edge
)

var methodNames = [...]string{"pixel", "histogram", "structural", "perceptual", "edge"}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return "pixel"
	}
	return methodNames[m]
}

// ParseMethod converts a config string to a Method.
func ParseMethod(s string) (Method, error) {
	for i, name := range methodNames {
		if strings.EqualFold(s, name) {
			return Method(i), nil
		}
	}
	return Pixel, fmt.Errorf("unknown comparison method %q", s)
}

// Compare returns how closely current matches reference under the given
// method, as a percentage in [0,100]. When sizes differ the reference is
// resampled to the size of the current capture — never the reverse, since
// the live capture defines the region of interest.
func Compare(method Method, current, reference image.Image) float64 {
	if current == nil || reference == nil {
		return 0
	}
	cb := current.Bounds()
	rb := reference.Bounds()
	if cb.Dx() <= 0 || cb.Dy() <= 0 || rb.Dx() <= 0 || rb.Dy() <= 0 {
		return 0
	}
	if rb.Dx() != cb.Dx() || rb.Dy() != cb.Dy() {
		reference = resize.Resize(uint(cb.Dx()), uint(cb.Dy()), reference, resize.Lanczos3)
	}

	switch method {
	case Histogram:
		return compareHistograms(current, reference)
	case Structural:
		return compareStructural(current, reference)
	case Perceptual:
		return comparePerceptual(current, reference)
	case Edge:
		return compareEdges(current, reference)
	default:
		return comparePixels(current, reference)
	}
}

// comparePixels counts pixel pairs whose channels all differ by at most
// PixelTolerance.
func comparePixels(a, b image.Image) float64 {
	ab, bb := a.Bounds(), b.Bounds()
	w, h := ab.Dx(), ab.Dy()
	total := w * h
	if total == 0 {
		return 0
	}

	matches := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ar, ag, abl := rgb8(a, ab.Min.X+x, ab.Min.Y+y)
			br, bg, bbl := rgb8(b, bb.Min.X+x, bb.Min.Y+y)
			if absInt(ar-br) <= PixelTolerance &&
				absInt(ag-bg) <= PixelTolerance &&
				absInt(abl-bbl) <= PixelTolerance {
				matches++
			}
		}
	}
	return float64(matches) / float64(total) * 100
}

// compareHistograms correlates per-channel color distributions; forgiving to
// small spatial shifts that the pixel comparator punishes.
func compareHistograms(a, b image.Image) float64 {
	ha := channelHistograms(a)
	hb := channelHistograms(b)

	var sum float64
	for ch := 0; ch < 3; ch++ {
		sum += pearson(ha[ch][:], hb[ch][:])
	}
	avg := sum / 3

	// Rescale correlation from [-1,1] to [0,100].
	return clampPercent((avg + 1) / 2 * 100)
}

// compareStructural is a single-window SSIM over grayscale: global mean,
// variance, and covariance rather than the block-wise formulation.
func compareStructural(a, b image.Image) float64 {
	ga := grayValues(a)
	gb := grayValues(b)
	n := len(ga)
	if n == 0 || n != len(gb) {
		return 0
	}

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += ga[i]
		sumB += gb[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var varA, varB, covar float64
	for i := 0; i < n; i++ {
		da := ga[i] - meanA
		db := gb[i] - meanB
		varA += da * da
		varB += db * db
		covar += da * db
	}
	varA /= float64(n)
	varB /= float64(n)
	covar /= float64(n)

	num := (2*meanA*meanB + ssimC1) * (2*covar + ssimC2)
	den := (meanA*meanA + meanB*meanB + ssimC1) * (varA + varB + ssimC2)
	if den == 0 {
		return 0
	}
	return clampPercent(num / den * 100)
}

// comparePerceptual uses an 8x8 average hash; the most forgiving method,
// robust against noise and minor layout shifts.
func comparePerceptual(a, b image.Image) float64 {
	ha, err := goimagehash.AverageHash(a)
	if err != nil {
		return 0
	}
	hb, err := goimagehash.AverageHash(b)
	if err != nil {
		return 0
	}
	dist, err := ha.Distance(hb)
	if err != nil {
		return 0
	}
	return clampPercent((1 - float64(dist)/hashBits) * 100)
}

// compareEdges ignores color and compares shape: both images are edge
// filtered and binarized, then scored on agreement over the union of edge
// pixels. Two images with no edges at all agree trivially.
func compareEdges(a, b image.Image) float64 {
	ea := edgeMask(a)
	eb := edgeMask(b)
	if len(ea) != len(eb) {
		return 0
	}

	matching, total := 0, 0
	for i := range ea {
		if ea[i] || eb[i] {
			total++
			if ea[i] == eb[i] {
				matching++
			}
		}
	}
	if total == 0 {
		return 100
	}
	return clampPercent(float64(matching) / float64(total) * 100)
}

// rgb8 returns 8-bit channel values at (x, y).
func rgb8(img image.Image, x, y int) (int, int, int) {
	r, g, b, _ := img.At(x, y).RGBA()
	return int(r >> 8), int(g >> 8), int(b >> 8)
}

// gray8 returns the 8-bit luminance at (x, y) using the Rec. 601 weights.
func gray8(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}

func grayValues(img image.Image) []float64 {
	bnd := img.Bounds()
	w, h := bnd.Dx(), bnd.Dy()
	out := make([]float64, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out = append(out, gray8(img, bnd.Min.X+x, bnd.Min.Y+y))
		}
	}
	return out
}

func channelHistograms(img image.Image) [3][histogramBins]int {
	var hist [3][histogramBins]int
	bnd := img.Bounds()
	for y := bnd.Min.Y; y < bnd.Max.Y; y++ {
		for x := bnd.Min.X; x < bnd.Max.X; x++ {
			r, g, b := rgb8(img, x, y)
			hist[0][r]++
			hist[1][g]++
			hist[2][b]++
		}
	}
	return hist
}

// pearson computes the correlation coefficient between two equal-length
// series. Zero variance on either side yields 0 rather than dividing by zero.
func pearson(h1, h2 []int) float64 {
	n := len(h1)
	if n == 0 || n != len(h2) {
		return 0
	}

	var sum1, sum2 float64
	for i := 0; i < n; i++ {
		sum1 += float64(h1[i])
		sum2 += float64(h2[i])
	}
	mean1 := sum1 / float64(n)
	mean2 := sum2 / float64(n)

	var num, den1, den2 float64
	for i := 0; i < n; i++ {
		d1 := float64(h1[i]) - mean1
		d2 := float64(h2[i]) - mean2
		num += d1 * d2
		den1 += d1 * d1
		den2 += d2 * d2
	}
	if den1 == 0 || den2 == 0 {
		return 0
	}
	return num / math.Sqrt(den1*den2)
}

// edgeMask applies a 3x3 Laplacian-style edge filter to the grayscale image
// and binarizes at EdgeThreshold. Border pixels are never edges.
func edgeMask(img image.Image) []bool {
	bnd := img.Bounds()
	w, h := bnd.Dx(), bnd.Dy()
	gray := grayValues(img)
	mask := make([]bool, w*h)
	if w < 3 || h < 3 {
		return mask
	}

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			center := gray[y*w+x]
			var sum float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					sum += gray[(y+dy)*w+(x+dx)]
				}
			}
			magnitude := 8*center - sum
			if magnitude < 0 {
				magnitude = -magnitude
			}
			if magnitude > 255 {
				magnitude = 255
			}
			mask[y*w+x] = magnitude > EdgeThreshold
		}
	}
	return mask
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
