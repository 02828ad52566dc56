package simigo

import (
	"log/slog"
	"time"

	"github.com/hupe1980/simigo/match"
	"github.com/hupe1980/simigo/resource"
	"github.com/hupe1980/simigo/store"
)

type options struct {
	logger        *Logger
	metrics       MetricsCollector
	fetcher       Fetcher
	cache         *store.Cache
	resource      *resource.Controller
	baseURL       string
	requestTTL    time.Duration
	minSimilarity float64
	maxResults    int
	score         match.ScoreFunc
	now           func() time.Time
}

// Option configures Finder constructor behavior.
type Option func(*options)

// WithLogger configures structured logging for operations.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metrics = mc
		}
	}
}

// WithFetcher overrides the remote image fetcher.
func WithFetcher(f Fetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// WithVectorCache persists derived feature vectors between refreshes.
func WithVectorCache(c *store.Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithResourceController bounds refresh concurrency and IO.
func WithResourceController(c *resource.Controller) Option {
	return func(o *options) {
		o.resource = c
	}
}

// WithBaseURL sets the externally visible URL prefix used to build
// image links in find and save responses.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

// WithRequestTTL bounds the lifetime of a pending find request.
// Requests older than ttl are removed by the expiry sweep.
func WithRequestTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.requestTTL = ttl
		}
	}
}

// WithMinSimilarity sets the default minimum acceptable similarity for
// find results. Individual Find calls can override it.
func WithMinSimilarity(threshold float64) Option {
	return func(o *options) {
		o.minSimilarity = threshold
	}
}

// WithMaxResults sets the default result list length for Find.
func WithMaxResults(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxResults = n
		}
	}
}

// WithScoreFunc overrides the similarity metric. The metric must be
// consistent across the whole store; changing it invalidates nothing
// on disk but makes scores from different metrics incomparable.
func WithScoreFunc(score match.ScoreFunc) Option {
	return func(o *options) {
		o.score = score
	}
}

// withNow overrides the clock. Used in tests.
func withNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:        NoopLogger(),
		metrics:       NoopMetricsCollector{},
		baseURL:       "http://localhost:8080",
		requestTTL:    3 * time.Minute,
		minSimilarity: match.DefaultMinSimilarity,
		maxResults:    match.DefaultMaxResults,
		now:           time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
