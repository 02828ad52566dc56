// Package registry provides the in-memory pending request registry.
//
// A find operation stages its downloaded image and computed feature
// vector here under a fresh request ID so that a later save can commit
// it without re-fetching or re-extracting. Entries live until they are
// taken by a save or removed by the periodic expiry sweep.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/simigo/feature"
)

// ErrNotFound is returned when a pending request does not exist,
// has expired, or has already been consumed.
var ErrNotFound = errors.New("pending request not found")

// PendingRequest is a staged record of a fetched-and-analyzed image
// awaiting an explicit save decision.
type PendingRequest struct {
	ID        string
	Image     []byte
	Vector    feature.Vector
	SourceURL string
	CreatedAt time.Time
}

// Options contains configuration options for the registry.
type Options struct {
	// Now is the clock used for entry timestamps. Overridable in tests.
	Now func() time.Time
}

// Registry maps request IDs to pending requests.
//
// A single mutex serializes Create, Take and SweepExpired so that no
// entry can be both taken and expired: exactly one of the two removals
// succeeds for any given ID.
type Registry struct {
	mu      sync.Mutex
	entries map[string]PendingRequest
	now     func() time.Time
}

// New creates a new, empty registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Now: time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		entries: make(map[string]PendingRequest),
		now:     opts.Now,
	}
}

// Create stages a new pending request and returns its fresh request ID.
// Safe for concurrent use; every call yields a distinct ID.
func (r *Registry) Create(image []byte, vec feature.Vector, sourceURL string) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[id] = PendingRequest{
		ID:        id,
		Image:     image,
		Vector:    vec,
		SourceURL: sourceURL,
		CreatedAt: r.now(),
	}

	return id
}

// Take atomically looks up and removes the pending request with the
// given ID. A second Take on the same ID returns ErrNotFound, which
// enforces at-most-once save semantics.
func (r *Registry) Take(id string) (PendingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.entries[id]
	if !ok {
		return PendingRequest{}, ErrNotFound
	}
	delete(r.entries, id)

	return req, nil
}

// SweepExpired removes every entry whose age at now exceeds ttl and
// returns the number of removed entries.
func (r *Registry) SweepExpired(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, req := range r.entries {
		if now.Sub(req.CreatedAt) > ttl {
			delete(r.entries, id)
			removed++
		}
	}

	return removed
}

// Len returns the number of pending requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
