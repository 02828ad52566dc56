package simigo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/simigo/feature"
	"github.com/hupe1980/simigo/fetch"
	"github.com/hupe1980/simigo/imagestore"
	"github.com/hupe1980/simigo/match"
	"github.com/hupe1980/simigo/registry"
	"github.com/hupe1980/simigo/store"
)

// Fetcher retrieves raw image bytes from a remote URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Match is a single ranked result of a find operation.
type Match struct {
	// URL is the public URL the stored image is served from.
	URL string `json:"url"`

	// Similarity is the combined similarity in [0, 1], higher is closer.
	Similarity float64 `json:"similarity"`
}

// FindResult is the outcome of a find operation. The request ID stays
// valid for the configured TTL and can be passed to Save to persist
// the fetched image.
type FindResult struct {
	RequestID string  `json:"request_id"`
	Results   []Match `json:"results"`
}

// SaveResult reports where a saved image is now served from.
type SaveResult struct {
	Message string `json:"message"`
	URL     string `json:"url"`
}

// FindOptions tune a single find call.
type FindOptions struct {
	// MaxResults bounds the result list length.
	MaxResults int

	// MinSimilarity drops results scoring below the threshold.
	MinSimilarity float64
}

// Finder coordinates the find/save workflow over an image store, a
// feature store and a registry of pending requests. It is safe for
// concurrent use.
type Finder struct {
	images     imagestore.Store
	extractor  feature.Extractor
	store      *store.Store
	registry   *registry.Registry
	fetcher    Fetcher
	cache      *store.Cache
	logger     *Logger
	metrics    MetricsCollector
	baseURL    string
	requestTTL time.Duration
	minSim     float64
	maxResults int
	score      match.ScoreFunc
	now        func() time.Time
}

// New creates a Finder over the given image store and extractor.
func New(images imagestore.Store, extractor feature.Extractor, optFns ...Option) (*Finder, error) {
	if images == nil {
		return nil, fmt.Errorf("simigo: image store must not be nil")
	}

	if extractor == nil {
		return nil, fmt.Errorf("simigo: extractor must not be nil")
	}

	opts := applyOptions(optFns)

	fetcher := opts.fetcher
	if fetcher == nil {
		fetcher = fetch.New()
	}

	st := store.New(images, extractor, func(o *store.Options) {
		o.Cache = opts.cache
		o.Resource = opts.resource
		o.Logger = opts.logger.Logger
		o.Now = opts.now
	})

	reg := registry.New(func(o *registry.Options) {
		o.Now = opts.now
	})

	return &Finder{
		images:     images,
		extractor:  extractor,
		store:      st,
		registry:   reg,
		fetcher:    fetcher,
		cache:      opts.cache,
		logger:     opts.logger,
		metrics:    opts.metrics,
		baseURL:    strings.TrimRight(opts.baseURL, "/"),
		requestTTL: opts.requestTTL,
		minSim:     opts.minSimilarity,
		maxResults: opts.maxResults,
		score:      opts.score,
		now:        opts.now,
	}, nil
}

// Find fetches the image at url, ranks it against the feature store and
// stages the fetched image as a pending request. The returned request
// ID can be passed to Save until it expires.
//
// A url pointing back into this service's own image namespace is not
// re-fetched: the referenced image matches itself with similarity 1.0,
// or ErrImageNotFound if no such image is stored.
func (f *Finder) Find(ctx context.Context, url string, optFns ...func(o *FindOptions)) (*FindResult, error) {
	start := time.Now()

	res, err := f.find(ctx, url, optFns)

	f.metrics.RecordFind(len(resultsOf(res)), time.Since(start), err)
	f.logger.LogFind(ctx, url, len(resultsOf(res)), err)

	return res, err
}

func (f *Finder) find(ctx context.Context, url string, optFns []func(o *FindOptions)) (*FindResult, error) {
	opts := FindOptions{
		MaxResults:    f.maxResults,
		MinSimilarity: f.minSim,
	}

	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	if name, ok := f.ownImageName(url); ok {
		return f.findOwn(ctx, name)
	}

	data, err := f.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fetchError(url, err)
	}

	vec, err := f.extractor.Extract(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	snap := f.store.Snapshot()

	ranked, err := match.Rank(vec, snap, func(o *match.Options) {
		o.MaxResults = opts.MaxResults
		o.MinSimilarity = opts.MinSimilarity
		o.Score = f.score
	})
	if err != nil {
		return nil, translateError(err)
	}

	results := make([]Match, len(ranked))
	for i, r := range ranked {
		results[i] = Match{URL: f.imageURL(r.ID), Similarity: r.Similarity}
	}

	id := f.registry.Create(data, vec, url)

	return &FindResult{RequestID: id, Results: results}, nil
}

// findOwn handles a find whose url already points at an image served
// by this instance. The request ID is issued for response shape parity
// but has nothing staged behind it, so saving it reports not found.
func (f *Finder) findOwn(ctx context.Context, name string) (*FindResult, error) {
	exists, err := f.images.Exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreIO, err)
	}

	if !exists {
		return nil, ErrImageNotFound
	}

	return &FindResult{
		RequestID: uuid.NewString(),
		Results:   []Match{{URL: f.imageURL(name), Similarity: 1.0}},
	}, nil
}

// Save persists the image staged under requestID. The image is named
// by the hex SHA-256 of its content, written to the image store and
// immediately inserted into the feature store, so a subsequent find
// for the same content matches it without waiting for a refresh.
func (f *Finder) Save(ctx context.Context, requestID string) (*SaveResult, error) {
	start := time.Now()

	res, err := f.save(ctx, requestID)

	f.metrics.RecordSave(time.Since(start), err)

	name := ""
	if res != nil {
		name = res.URL
	}

	f.logger.LogSave(ctx, requestID, name, err)

	return res, err
}

func (f *Finder) save(ctx context.Context, requestID string) (*SaveResult, error) {
	req, err := f.registry.Take(requestID)
	if err != nil {
		return nil, translateError(err)
	}

	sum := sha256.Sum256(req.Image)
	name := hex.EncodeToString(sum[:]) + imagestore.DetectExtension(req.Image)

	exists, err := f.images.Exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreIO, err)
	}

	if exists {
		return nil, &ErrImageExists{URL: f.imageURL(name)}
	}

	if err := f.images.Write(ctx, name, req.Image); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreIO, err)
	}

	if f.cache != nil {
		// Best effort. A missing cache entry only costs a re-extraction
		// on the next refresh.
		if err := f.cache.Store(name, req.Vector); err != nil {
			f.logger.Warn("vector cache write failed", "name", name, "error", err)
		}
	}

	if err := f.store.Insert(name, req.Vector, name); err != nil {
		return nil, translateError(err)
	}

	url := f.imageURL(name)

	return &SaveResult{
		Message: fmt.Sprintf("The image has been successfully saved and can be accessed at %s", url),
		URL:     url,
	}, nil
}

// SweepExpired removes pending requests older than the configured TTL
// and returns how many were removed.
func (f *Finder) SweepExpired() int {
	removed := f.registry.SweepExpired(f.now(), f.requestTTL)

	f.metrics.RecordSweep(removed)
	f.logger.LogSweep(context.Background(), removed, f.registry.Len())

	return removed
}

// RefreshStore reconciles the feature store against the image store.
func (f *Finder) RefreshStore(ctx context.Context) error {
	start := time.Now()

	stats, err := f.store.Refresh(ctx)

	f.metrics.RecordRefresh(time.Since(start), err)
	f.logger.LogRefresh(ctx, stats, f.store.Snapshot().Generation(), err)

	if err != nil {
		return translateError(err)
	}

	return nil
}

// Stats reports lightweight runtime counters.
type Stats struct {
	PendingRequests int    `json:"pending_requests"`
	StoreEntries    int    `json:"store_entries"`
	StoreGeneration uint64 `json:"store_generation"`
}

// Stats returns current counters for the registry and the feature store.
func (f *Finder) Stats() Stats {
	snap := f.store.Snapshot()

	return Stats{
		PendingRequests: f.registry.Len(),
		StoreEntries:    snap.Len(),
		StoreGeneration: snap.Generation(),
	}
}

// Store exposes the underlying feature store.
func (f *Finder) Store() *store.Store {
	return f.store
}

// imageURL builds the public URL an image with the given name is
// served from.
func (f *Finder) imageURL(name string) string {
	return f.baseURL + "/image/" + name
}

// ownImageName reports whether url points into this instance's image
// namespace and, if so, the referenced image name.
func (f *Finder) ownImageName(url string) (string, bool) {
	rest, ok := strings.CutPrefix(url, f.baseURL+"/image/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}

	if !imagestore.IsImageName(rest) {
		return "", false
	}

	return rest, true
}

func resultsOf(res *FindResult) []Match {
	if res == nil {
		return nil
	}

	return res.Results
}
