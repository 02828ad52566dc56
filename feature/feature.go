// Package feature defines the feature vector type and the extractor
// contract used to derive vectors from raw image bytes.
package feature

import (
	"context"
	"fmt"
	"slices"
)

// Vector is a fixed-length numeric representation of an image.
// Vectors are immutable once produced and are only comparable to
// vectors of identical dimensionality.
type Vector []float32

// Dimension returns the number of components.
func (v Vector) Dimension() int { return len(v) }

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector { return Vector(slices.Clone([]float32(v))) }

// Extractor turns raw image bytes into a feature vector.
// Implementations must be safe for concurrent use and must produce
// vectors of a single, fixed dimensionality.
type Extractor interface {
	// Extract computes the feature vector for the given image bytes.
	Extract(ctx context.Context, data []byte) (Vector, error)

	// Dimension returns the dimensionality of produced vectors.
	Dimension() int
}

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
