// Package match scores a query vector against a feature store snapshot
// and returns ranked, filtered results.
package match

import (
	"math"
	"sort"

	"github.com/hupe1980/simigo/distance"
	"github.com/hupe1980/simigo/feature"
	"github.com/hupe1980/simigo/store"
)

// Result is one ranked match. Results are derived, never stored;
// every call produces them fresh from the snapshot it was given.
type Result struct {
	// ID is the stable identifier of the matched image.
	ID string

	// Similarity is the similarity score in [0, 1].
	Similarity float64
}

// ScoreFunc computes a similarity score in [0, 1] between two vectors
// of identical dimensionality. The same metric must be used across the
// whole store; results from different metrics are not comparable.
type ScoreFunc func(query, candidate feature.Vector) float64

// Combined returns the default scoring strategy: the mean of an
// exponentially penalized cosine distance and a normalized inverse
// Euclidean distance. Identical vectors score 1.0; the score decays
// towards 0 as the vectors diverge in angle or magnitude.
func Combined(cosinePenalty, euclideanPenalty float64) ScoreFunc {
	return func(query, candidate feature.Vector) float64 {
		cos, ok := distance.Cosine(query, candidate)
		if !ok {
			return 0
		}

		cosineSim := math.Exp(-cosinePenalty * float64(1-cos))
		euclideanSim := 1 / (1 + euclideanPenalty*float64(distance.L2(query, candidate)))

		return (cosineSim + euclideanSim) / 2
	}
}

// Default penalty factors for the combined score.
const (
	DefaultCosinePenalty    = 4.0
	DefaultEuclideanPenalty = 0.2
)

// DefaultMinSimilarity is the default noise floor: candidates scoring
// below it are dropped unless the caller overrides the threshold.
const DefaultMinSimilarity = 0.2

// DefaultMaxResults is the default result list length.
const DefaultMaxResults = 5

// Options contains configuration options for ranking.
type Options struct {
	// MaxResults truncates the result list.
	MaxResults int

	// MinSimilarity is the minimum acceptable similarity; candidates
	// scoring below it are excluded. Set to 0 to disable filtering.
	MinSimilarity float64

	// Score is the similarity metric. Defaults to the combined score.
	Score ScoreFunc
}

// Rank scores query against every entry in the snapshot and returns
// results sorted by descending similarity, ties broken by ascending
// ID for determinism, truncated to MaxResults.
//
// An empty snapshot yields an empty result list, not an error. A
// dimensionality mismatch between query and store vectors yields
// *feature.ErrDimensionMismatch.
func Rank(query feature.Vector, snap *store.Snapshot, optFns ...func(o *Options)) ([]Result, error) {
	opts := Options{
		MaxResults:    DefaultMaxResults,
		MinSimilarity: DefaultMinSimilarity,
		Score:         nil,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	score := opts.Score
	if score == nil {
		score = Combined(DefaultCosinePenalty, DefaultEuclideanPenalty)
	}

	if snap.Len() == 0 {
		return []Result{}, nil
	}

	if dim := snap.Dimension(); dim != query.Dimension() {
		return nil, &feature.ErrDimensionMismatch{Expected: dim, Actual: query.Dimension()}
	}

	results := make([]Result, 0, snap.Len())
	for entry := range snap.All() {
		similarity := score(query, entry.Vector)
		if similarity < opts.MinSimilarity {
			continue
		}
		results = append(results, Result{
			ID:         entry.ID,
			Similarity: similarity,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}

	return results, nil
}
