package imaging

// Comparison tuning constants
const (
	// Per-channel tolerance for the pixel comparator; small compression or
	// rendering differences should still count as the same pixel.
	PixelTolerance = 10

	// Brightness above which an edge-filtered pixel counts as an edge.
	EdgeThreshold = 50

	// Bits in the perceptual hash (8x8 average hash).
	hashBits = 64

	histogramBins = 256
)

// Stabilizing constants for the structural comparator, standard SSIM values
// for 8-bit dynamic range.
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)
