package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/simigo/feature"
	"github.com/hupe1980/simigo/store"
)

func snapshotOf(t *testing.T, entries map[string]feature.Vector) *store.Snapshot {
	t.Helper()

	s := store.New(nil, nil)
	for id, vec := range entries {
		require.NoError(t, s.Insert(id, vec, id))
	}
	return s.Snapshot()
}

func TestCombined(t *testing.T) {
	score := Combined(DefaultCosinePenalty, DefaultEuclideanPenalty)

	t.Run("identical vectors score 1", func(t *testing.T) {
		v := feature.Vector{0.5, 0.5, 0.7}
		assert.InDelta(t, 1.0, score(v, v), 1e-6)
	})

	t.Run("diverging vectors score lower", func(t *testing.T) {
		a := feature.Vector{1, 0, 0}
		near := feature.Vector{0.9, 0.1, 0}
		far := feature.Vector{0, 0, 1}

		sNear := score(a, near)
		sFar := score(a, far)
		assert.Greater(t, sNear, sFar)
		assert.Greater(t, sNear, 0.0)
		assert.LessOrEqual(t, sNear, 1.0)
	})

	t.Run("zero norm scores 0", func(t *testing.T) {
		assert.Equal(t, 0.0, score(feature.Vector{0, 0}, feature.Vector{1, 1}))
	})
}

func TestRank(t *testing.T) {
	query := feature.Vector{1, 0, 0}

	t.Run("sorted by descending similarity", func(t *testing.T) {
		snap := snapshotOf(t, map[string]feature.Vector{
			"far.png":  {0, 1, 0},
			"near.png": {0.95, 0.05, 0},
			"mid.png":  {0.6, 0.4, 0},
		})

		results, err := Rank(query, snap, func(o *Options) { o.MinSimilarity = 0 })
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "near.png", results[0].ID)
		assert.Equal(t, "mid.png", results[1].ID)
		assert.Equal(t, "far.png", results[2].ID)
		assert.True(t, results[0].Similarity >= results[1].Similarity)
		assert.True(t, results[1].Similarity >= results[2].Similarity)
	})

	t.Run("ties broken by ascending id", func(t *testing.T) {
		v := feature.Vector{1, 0, 0}
		snap := snapshotOf(t, map[string]feature.Vector{
			"b.png": v.Clone(),
			"a.png": v.Clone(),
			"c.png": v.Clone(),
		})

		results, err := Rank(query, snap)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "a.png", results[0].ID)
		assert.Equal(t, "b.png", results[1].ID)
		assert.Equal(t, "c.png", results[2].ID)
	})

	t.Run("truncates to max results", func(t *testing.T) {
		entries := make(map[string]feature.Vector)
		for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
			entries[id+".png"] = feature.Vector{1, 0, 0}
		}
		snap := snapshotOf(t, entries)

		results, err := Rank(query, snap)
		require.NoError(t, err)
		assert.Len(t, results, DefaultMaxResults)

		results, err = Rank(query, snap, func(o *Options) { o.MaxResults = 2 })
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("minimum similarity threshold", func(t *testing.T) {
		snap := snapshotOf(t, map[string]feature.Vector{
			"close.png": {0.99, 0.01, 0},
			"far.png":   {0, 0, 1},
		})

		results, err := Rank(query, snap, func(o *Options) { o.MinSimilarity = 0.95 })
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "close.png", results[0].ID)
		assert.GreaterOrEqual(t, results[0].Similarity, 0.95)
	})

	t.Run("empty snapshot", func(t *testing.T) {
		snap := snapshotOf(t, nil)

		results, err := Rank(query, snap)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		snap := snapshotOf(t, map[string]feature.Vector{
			"a.png": {1, 0},
		})

		_, err := Rank(query, snap)
		var dm *feature.ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 2, dm.Expected)
		assert.Equal(t, 3, dm.Actual)
	})

	t.Run("custom score func", func(t *testing.T) {
		snap := snapshotOf(t, map[string]feature.Vector{
			"a.png": {1, 0, 0},
		})

		results, err := Rank(query, snap, func(o *Options) {
			o.Score = func(_, _ feature.Vector) float64 { return 0.42 }
			o.MinSimilarity = 0
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, 0.42, results[0].Similarity)
	})
}
