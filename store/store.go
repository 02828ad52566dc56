// Package store maintains the feature store: the current best-known
// set of (image id, vector) pairs backing similarity search.
//
// The store uses a copy-on-write pattern: readers take an immutable
// Snapshot with a single atomic load, while writers (incremental
// inserts and the periodic refresh) build the next state off to the
// side and swap it in under a write lock. Readers never observe a mix
// of entries from two different generations.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/simigo/feature"
	"github.com/hupe1980/simigo/imagestore"
	"github.com/hupe1980/simigo/resource"
)

// ErrIO is returned when the image directory cannot be scanned.
// A refresh that fails this way leaves the prior state untouched.
var ErrIO = errors.New("image directory scan failed")

// Entry is a stored image with its feature vector.
// Entries are owned exclusively by the store and replaced wholesale
// on refresh; callers must not mutate the vector.
type Entry struct {
	// ID is the stable identifier of the image (its file name).
	ID string

	// Vector is the feature vector of the image.
	Vector feature.Vector

	// SourcePath locates the image inside the image store.
	SourcePath string

	added time.Time
}

// Snapshot is one self-consistent generation of the store.
// It is immutable; callers must not mutate returned entries.
type Snapshot struct {
	generation uint64
	entries    map[string]Entry
}

// Generation returns the generation counter of this snapshot.
func (s *Snapshot) Generation() uint64 { return s.generation }

// Len returns the number of entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// Get returns the entry with the given id.
func (s *Snapshot) Get(id string) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// All returns an iterator over all entries, in no particular order.
func (s *Snapshot) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range s.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Dimension returns the dimensionality of the stored vectors,
// or 0 if the snapshot is empty.
func (s *Snapshot) Dimension() int {
	for _, e := range s.entries {
		return e.Vector.Dimension()
	}
	return 0
}

// Options contains configuration options for the store.
type Options struct {
	// Cache persists derived vectors between refreshes. Optional.
	Cache *Cache

	// Resource bounds refresh concurrency and IO. Optional.
	Resource *resource.Controller

	// Logger receives refresh progress and per-file failures.
	Logger *slog.Logger

	// Now is the clock used for entry bookkeeping. Overridable in tests.
	Now func() time.Time
}

// Store is the thread-safe feature store.
type Store struct {
	state   atomic.Value // holds *Snapshot
	writeMu sync.Mutex   // serializes writers only

	images    imagestore.Store
	extractor feature.Extractor
	cache     *Cache
	res       *resource.Controller
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an empty store over the given image set and extractor.
func New(images imagestore.Store, extractor feature.Extractor, optFns ...func(o *Options)) *Store {
	opts := Options{
		Logger: slog.New(slog.DiscardHandler),
		Now:    time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Store{
		images:    images,
		extractor: extractor,
		cache:     opts.Cache,
		res:       opts.Resource,
		logger:    opts.Logger,
		now:       opts.Now,
	}

	s.state.Store(&Snapshot{
		generation: 0,
		entries:    make(map[string]Entry),
	})

	return s
}

// Snapshot returns the current generation for matching.
// The returned snapshot is immutable and must not be modified.
func (s *Store) Snapshot() *Snapshot {
	return s.state.Load().(*Snapshot)
}

// Generation returns the current generation counter.
func (s *Store) Generation() uint64 { return s.Snapshot().generation }

// Len returns the number of entries in the current generation.
func (s *Store) Len() int { return s.Snapshot().Len() }

// Insert adds a single entry to the live store so it is immediately
// matchable without waiting for the next refresh.
//
// The vector dimensionality must match the existing entries.
func (s *Store) Insert(id string, vec feature.Vector, sourcePath string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.Snapshot()
	if dim := cur.Dimension(); dim != 0 && dim != vec.Dimension() {
		return &feature.ErrDimensionMismatch{Expected: dim, Actual: vec.Dimension()}
	}

	next := make(map[string]Entry, len(cur.entries)+1)
	for k, v := range cur.entries {
		next[k] = v
	}
	next[id] = Entry{
		ID:         id,
		Vector:     vec,
		SourcePath: sourcePath,
		added:      s.now(),
	}

	s.state.Store(&Snapshot{
		generation: cur.generation + 1,
		entries:    next,
	})

	return nil
}

// RefreshStats summarizes a refresh cycle.
type RefreshStats struct {
	Scanned   int // image files found in the image store
	Reused    int // entries carried from the previous generation
	CacheHits int // vectors loaded from the on-disk cache
	Extracted int // vectors computed by the extractor
	Failed    int // files skipped due to read/extract errors
	Removed   int // entries dropped because their file is gone
	Carried   int // entries kept because they were inserted mid-scan
}

// Refresh reconciles the store with the image set: images not yet
// represented get their vector computed (or loaded from the cache),
// entries whose file is gone are dropped. The updated mapping is built
// off to the side and swapped in atomically.
//
// A failure to read or extract a single file is logged and skipped;
// only a failure to scan the image directory aborts the cycle.
//
// Entries inserted by Save while the scan is running are treated as
// already current and survive the swap even if the scan missed them.
func (s *Store) Refresh(ctx context.Context) (RefreshStats, error) {
	var stats RefreshStats

	scanStart := s.now()

	names, err := s.images.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrIO, err)
	}
	stats.Scanned = len(names)

	cur := s.Snapshot()

	next := make(map[string]Entry, len(names))
	var missing []string
	for _, name := range names {
		if e, ok := cur.entries[name]; ok {
			next[name] = e
			stats.Reused++
			continue
		}
		missing = append(missing, name)
	}

	if len(missing) > 0 {
		var mu sync.Mutex // guards next and stats during the fan-out

		g, gctx := errgroup.WithContext(ctx)

		for _, name := range missing {
			g.Go(func() error {
				vec, fromCache, err := s.loadVector(gctx, name)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					s.logger.Warn("skipping image",
						"id", name,
						"error", err,
					)
					mu.Lock()
					stats.Failed++
					mu.Unlock()
					return nil
				}

				mu.Lock()
				defer mu.Unlock()
				next[name] = Entry{
					ID:         name,
					Vector:     vec,
					SourcePath: name,
					added:      scanStart,
				}
				if fromCache {
					stats.CacheHits++
				} else {
					stats.Extracted++
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return stats, err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Re-read under the write lock: inserts may have landed since the
	// scan started. Anything added after scanStart that the scan did
	// not see is already current and must not be dropped.
	latest := s.Snapshot()
	for id, e := range latest.entries {
		if _, ok := next[id]; ok {
			continue
		}
		if e.added.After(scanStart) {
			next[id] = e
			stats.Carried++
		} else {
			stats.Removed++
		}
	}

	s.state.Store(&Snapshot{
		generation: latest.generation + 1,
		entries:    next,
	})

	return stats, nil
}

// loadVector resolves the vector for an image, preferring the cache.
func (s *Store) loadVector(ctx context.Context, name string) (feature.Vector, bool, error) {
	if s.cache != nil {
		vec, err := s.cache.Load(name)
		if err == nil && vec.Dimension() == s.extractor.Dimension() {
			return vec, true, nil
		}
		// A miss or a stale entry from another extractor both fall
		// through to extraction.
	}

	// The worker slot covers the file read and the extraction, so the
	// fan-out above never holds more than MaxWorkers images in flight.
	if err := s.res.AcquireWorker(ctx); err != nil {
		return nil, false, err
	}
	defer s.res.ReleaseWorker()

	data, err := s.images.Read(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("read image: %w", err)
	}

	if err := s.res.AcquireIO(ctx, len(data)); err != nil {
		return nil, false, err
	}

	vec, err := s.extractor.Extract(ctx, data)
	if err != nil {
		return nil, false, fmt.Errorf("extract features: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Store(name, vec); err != nil {
			s.logger.Warn("vector cache write failed",
				"id", name,
				"error", err,
			)
		}
	}

	return vec, false, nil
}
