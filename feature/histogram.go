package feature

import (
	"bytes"
	"context"
	"fmt"
	"image"

	// Register decoders for the supported image formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/hupe1980/simigo/distance"
)

// HistogramOptions contains configuration options for the histogram extractor.
type HistogramOptions struct {
	// Bins is the number of histogram bins per color channel.
	Bins int

	// Grid splits the image into Grid x Grid spatial cells, each with
	// its own color histogram. Higher values preserve more layout
	// information at the cost of dimensionality.
	Grid int
}

// DefaultHistogramOptions contains the default configuration options
// for the histogram extractor (256-dimensional vectors).
var DefaultHistogramOptions = HistogramOptions{
	Bins: 4,
	Grid: 2,
}

// HistogramExtractor is a deterministic, dependency-free Extractor that
// represents an image by L2-normalized per-cell RGB color histograms.
//
// It is the default extractor; model-backed extractors can be plugged
// in through the Extractor interface without touching the store or
// matcher.
type HistogramExtractor struct {
	opts HistogramOptions
}

// Compile-time check to ensure HistogramExtractor satisfies the Extractor interface.
var _ Extractor = (*HistogramExtractor)(nil)

// NewHistogramExtractor creates a new histogram extractor.
func NewHistogramExtractor(optFns ...func(o *HistogramOptions)) (*HistogramExtractor, error) {
	opts := DefaultHistogramOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Bins < 2 {
		return nil, fmt.Errorf("histogram: bins must be at least 2, got %d", opts.Bins)
	}
	if opts.Grid < 1 {
		return nil, fmt.Errorf("histogram: grid must be at least 1, got %d", opts.Grid)
	}

	return &HistogramExtractor{opts: opts}, nil
}

// Dimension returns the dimensionality of produced vectors.
func (e *HistogramExtractor) Dimension() int {
	b := e.opts.Bins
	return e.opts.Grid * e.opts.Grid * b * b * b
}

// Extract decodes the image and computes its feature vector.
func (e *HistogramExtractor) Extract(ctx context.Context, data []byte) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("decode image: empty bounds")
	}

	bins := e.opts.Bins
	grid := e.opts.Grid
	cellDim := bins * bins * bins
	vec := make(Vector, e.Dimension())

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		cy := (y - bounds.Min.Y) * grid / height
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			cx := (x - bounds.Min.X) * grid / width

			r, g, b, _ := img.At(x, y).RGBA()
			// RGBA returns 16-bit channels.
			br := int(r) * bins / 65536
			bg := int(g) * bins / 65536
			bb := int(b) * bins / 65536

			cell := cy*grid + cx
			vec[cell*cellDim+(br*bins+bg)*bins+bb]++
		}
	}

	// Normalize so the vector is independent of image resolution.
	distance.NormalizeL2InPlace(vec)

	return vec, nil
}
