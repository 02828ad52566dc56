package simigo

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/simigo/feature"
	"github.com/hupe1980/simigo/registry"
	"github.com/hupe1980/simigo/store"
)

var (
	// ErrRequestNotFound is returned by Save when the pending request
	// is unknown, expired, or already consumed.
	ErrRequestNotFound = errors.New("pending request not found")

	// ErrExtraction is returned when feature extraction fails on the
	// downloaded image data.
	ErrExtraction = errors.New("feature extraction failed")

	// ErrImageNotFound is returned by Find when the given URL points
	// into this service's own image namespace but the named image is
	// not stored.
	ErrImageNotFound = errors.New("image not found")

	// ErrStoreIO is returned when the image directory cannot be read.
	ErrStoreIO = errors.New("image directory unavailable")
)

// ErrFetch indicates that downloading the remote image failed.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrFetch struct {
	URL   string
	cause error
}

func (e *ErrFetch) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.cause)
}

func (e *ErrFetch) Unwrap() error { return e.cause }

// ErrImageExists indicates that the image being saved is already
// stored. URL points at the existing copy.
type ErrImageExists struct {
	URL string
}

func (e *ErrImageExists) Error() string {
	return fmt.Sprintf("image already stored at %s", e.URL)
}

// ErrDimensionMismatch indicates a query/store dimensionality mismatch.
// This is an internal invariant violation: it cannot occur while a
// single consistent extractor feeds both the store and the queries.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, registry.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrRequestNotFound, err)
	}

	if errors.Is(err, store.ErrIO) {
		return fmt.Errorf("%w: %w", ErrStoreIO, err)
	}

	var dm *feature.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	return err
}

// fetchError wraps a download failure with its URL.
func fetchError(url string, err error) error {
	return &ErrFetch{URL: url, cause: err}
}

// IsFetchTimeout reports whether err is a fetch failure caused by the
// download deadline.
func IsFetchTimeout(err error) bool {
	var fe *ErrFetch
	if !errors.As(err, &fe) {
		return false
	}
	return errors.Is(fe.cause, context.DeadlineExceeded)
}
