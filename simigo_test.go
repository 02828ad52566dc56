package simigo

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/simigo/feature"
	"github.com/hupe1980/simigo/imagestore"
)

const testBaseURL = "http://simigo.test"

// fakeFetcher serves in-memory images keyed by URL.
type fakeFetcher struct {
	mu     sync.Mutex
	images map[string][]byte
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{images: make(map[string][]byte)}
}

func (f *fakeFetcher) add(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.images[url] = data
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.images[url]
	if !ok {
		return nil, fmt.Errorf("no such image: %s", url)
	}

	return data, nil
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func solidPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

func contentName(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) + imagestore.DetectExtension(data)
}

func newTestFinder(t *testing.T, optFns ...Option) (*Finder, *fakeFetcher) {
	t.Helper()

	images, err := imagestore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	extractor, err := feature.NewHistogramExtractor()
	require.NoError(t, err)

	fetcher := newFakeFetcher()

	opts := append([]Option{
		WithFetcher(fetcher),
		WithBaseURL(testBaseURL),
	}, optFns...)

	finder, err := New(images, extractor, opts...)
	require.NoError(t, err)

	return finder, fetcher
}

func TestNew(t *testing.T) {
	t.Run("nil image store", func(t *testing.T) {
		extractor, err := feature.NewHistogramExtractor()
		require.NoError(t, err)

		_, err = New(nil, extractor)
		require.Error(t, err)
	})

	t.Run("nil extractor", func(t *testing.T) {
		images, err := imagestore.NewLocalStore(t.TempDir())
		require.NoError(t, err)

		_, err = New(images, nil)
		require.Error(t, err)
	})
}

func TestFinderFind(t *testing.T) {
	ctx := context.Background()

	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}

	t.Run("empty store", func(t *testing.T) {
		finder, fetcher := newTestFinder(t)
		fetcher.add("http://origin.test/red.png", solidPNG(t, red))

		res, err := finder.Find(ctx, "http://origin.test/red.png")
		require.NoError(t, err)

		assert.NotEmpty(t, res.RequestID)
		assert.Empty(t, res.Results)
	})

	t.Run("match after save", func(t *testing.T) {
		finder, fetcher := newTestFinder(t)

		data := solidPNG(t, red)
		fetcher.add("http://origin.test/red.png", data)

		res, err := finder.Find(ctx, "http://origin.test/red.png")
		require.NoError(t, err)

		_, err = finder.Save(ctx, res.RequestID)
		require.NoError(t, err)

		res, err = finder.Find(ctx, "http://origin.test/red.png")
		require.NoError(t, err)
		require.Len(t, res.Results, 1)

		assert.Equal(t, testBaseURL+"/image/"+contentName(data), res.Results[0].URL)
		assert.InDelta(t, 1.0, res.Results[0].Similarity, 1e-6)
	})

	t.Run("minimum similarity filter", func(t *testing.T) {
		finder, fetcher := newTestFinder(t)

		fetcher.add("http://origin.test/red.png", solidPNG(t, red))
		fetcher.add("http://origin.test/blue.png", solidPNG(t, blue))

		res, err := finder.Find(ctx, "http://origin.test/red.png")
		require.NoError(t, err)

		_, err = finder.Save(ctx, res.RequestID)
		require.NoError(t, err)

		res, err = finder.Find(ctx, "http://origin.test/blue.png", func(o *FindOptions) {
			o.MinSimilarity = 0.95
		})
		require.NoError(t, err)
		assert.Empty(t, res.Results)

		res, err = finder.Find(ctx, "http://origin.test/blue.png", func(o *FindOptions) {
			o.MinSimilarity = 0.1
		})
		require.NoError(t, err)
		assert.Len(t, res.Results, 1)
	})

	t.Run("fetch failure", func(t *testing.T) {
		finder, _ := newTestFinder(t)

		_, err := finder.Find(ctx, "http://origin.test/missing.png")
		require.Error(t, err)

		var fe *ErrFetch
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "http://origin.test/missing.png", fe.URL)
	})

	t.Run("extraction failure", func(t *testing.T) {
		finder, fetcher := newTestFinder(t)
		fetcher.add("http://origin.test/broken.png", []byte("not an image"))

		_, err := finder.Find(ctx, "http://origin.test/broken.png")
		require.ErrorIs(t, err, ErrExtraction)
	})
}

func TestFinderFindOwnURL(t *testing.T) {
	ctx := context.Background()

	finder, fetcher := newTestFinder(t)

	data := solidPNG(t, color.RGBA{G: 255, A: 255})
	fetcher.add("http://origin.test/green.png", data)

	res, err := finder.Find(ctx, "http://origin.test/green.png")
	require.NoError(t, err)

	_, err = finder.Save(ctx, res.RequestID)
	require.NoError(t, err)

	savedURL := testBaseURL + "/image/" + contentName(data)

	t.Run("existing image matches itself", func(t *testing.T) {
		res, err := finder.Find(ctx, savedURL)
		require.NoError(t, err)
		require.Len(t, res.Results, 1)

		assert.NotEmpty(t, res.RequestID)
		assert.Equal(t, savedURL, res.Results[0].URL)
		assert.Equal(t, 1.0, res.Results[0].Similarity)
	})

	t.Run("missing image", func(t *testing.T) {
		_, err := finder.Find(ctx, testBaseURL+"/image/0000.png")
		require.ErrorIs(t, err, ErrImageNotFound)
	})

	t.Run("own id cannot be saved", func(t *testing.T) {
		res, err := finder.Find(ctx, savedURL)
		require.NoError(t, err)

		_, err = finder.Save(ctx, res.RequestID)
		require.ErrorIs(t, err, ErrRequestNotFound)
	})
}

func TestFinderSave(t *testing.T) {
	ctx := context.Background()

	red := color.RGBA{R: 255, A: 255}

	t.Run("unknown request", func(t *testing.T) {
		finder, _ := newTestFinder(t)

		_, err := finder.Save(ctx, "no-such-id")
		require.ErrorIs(t, err, ErrRequestNotFound)
	})

	t.Run("save persists and names by content", func(t *testing.T) {
		finder, fetcher := newTestFinder(t)

		data := solidPNG(t, red)
		fetcher.add("http://origin.test/red.png", data)

		res, err := finder.Find(ctx, "http://origin.test/red.png")
		require.NoError(t, err)

		saved, err := finder.Save(ctx, res.RequestID)
		require.NoError(t, err)

		wantURL := testBaseURL + "/image/" + contentName(data)
		assert.Equal(t, wantURL, saved.URL)
		assert.Contains(t, saved.Message, wantURL)

		exists, err := finder.images.Exists(ctx, contentName(data))
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("double save", func(t *testing.T) {
		finder, fetcher := newTestFinder(t)

		fetcher.add("http://origin.test/red.png", solidPNG(t, red))

		res, err := finder.Find(ctx, "http://origin.test/red.png")
		require.NoError(t, err)

		_, err = finder.Save(ctx, res.RequestID)
		require.NoError(t, err)

		_, err = finder.Save(ctx, res.RequestID)
		require.ErrorIs(t, err, ErrRequestNotFound)
	})

	t.Run("duplicate content", func(t *testing.T) {
		finder, fetcher := newTestFinder(t)

		data := solidPNG(t, red)
		fetcher.add("http://origin.test/red.png", data)

		first, err := finder.Find(ctx, "http://origin.test/red.png")
		require.NoError(t, err)

		second, err := finder.Find(ctx, "http://origin.test/red.png")
		require.NoError(t, err)

		_, err = finder.Save(ctx, first.RequestID)
		require.NoError(t, err)

		_, err = finder.Save(ctx, second.RequestID)
		require.Error(t, err)

		var ee *ErrImageExists
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, testBaseURL+"/image/"+contentName(data), ee.URL)
	})
}

func TestFinderSweepExpired(t *testing.T) {
	ctx := context.Background()

	clock := newTestClock()

	finder, fetcher := newTestFinder(t,
		withNow(clock.Now),
		WithRequestTTL(3*time.Minute),
	)

	fetcher.add("http://origin.test/red.png", solidPNG(t, color.RGBA{R: 255, A: 255}))

	old, err := finder.Find(ctx, "http://origin.test/red.png")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	fresh, err := finder.Find(ctx, "http://origin.test/red.png")
	require.NoError(t, err)

	clock.Advance(90 * time.Second)

	assert.Equal(t, 1, finder.SweepExpired())

	_, err = finder.Save(ctx, old.RequestID)
	require.ErrorIs(t, err, ErrRequestNotFound)

	_, err = finder.Save(ctx, fresh.RequestID)
	require.NoError(t, err)
}

func TestFinderRefreshStore(t *testing.T) {
	ctx := context.Background()

	finder, fetcher := newTestFinder(t)

	data := solidPNG(t, color.RGBA{R: 255, A: 255})
	require.NoError(t, finder.images.Write(ctx, "seed.png", data))

	require.NoError(t, finder.RefreshStore(ctx))

	fetcher.add("http://origin.test/red.png", data)

	res, err := finder.Find(ctx, "http://origin.test/red.png")
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	assert.Equal(t, testBaseURL+"/image/seed.png", res.Results[0].URL)
	assert.InDelta(t, 1.0, res.Results[0].Similarity, 1e-6)
}

func TestFinderStats(t *testing.T) {
	ctx := context.Background()

	finder, fetcher := newTestFinder(t)

	assert.Equal(t, Stats{}, finder.Stats())

	fetcher.add("http://origin.test/red.png", solidPNG(t, color.RGBA{R: 255, A: 255}))

	res, err := finder.Find(ctx, "http://origin.test/red.png")
	require.NoError(t, err)

	stats := finder.Stats()
	assert.Equal(t, 1, stats.PendingRequests)
	assert.Equal(t, 0, stats.StoreEntries)

	_, err = finder.Save(ctx, res.RequestID)
	require.NoError(t, err)

	stats = finder.Stats()
	assert.Equal(t, 0, stats.PendingRequests)
	assert.Equal(t, 1, stats.StoreEntries)
	assert.Equal(t, uint64(1), stats.StoreGeneration)
}

func TestFinderMetrics(t *testing.T) {
	ctx := context.Background()

	mc := &BasicMetricsCollector{}

	finder, fetcher := newTestFinder(t, WithMetricsCollector(mc))

	fetcher.add("http://origin.test/red.png", solidPNG(t, color.RGBA{R: 255, A: 255}))

	res, err := finder.Find(ctx, "http://origin.test/red.png")
	require.NoError(t, err)

	_, err = finder.Save(ctx, res.RequestID)
	require.NoError(t, err)

	_, err = finder.Find(ctx, "http://origin.test/missing.png")
	require.Error(t, err)

	stats := mc.GetStats()
	assert.Equal(t, int64(2), stats.FindCount)
	assert.Equal(t, int64(1), stats.FindErrors)
	assert.Equal(t, int64(1), stats.SaveCount)
}

func TestTranslateError(t *testing.T) {
	assert.Nil(t, translateError(nil))

	err := translateError(&feature.ErrDimensionMismatch{Expected: 256, Actual: 128})

	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 256, dm.Expected)
	assert.Equal(t, 128, dm.Actual)

	passthrough := errors.New("untranslated")
	assert.Equal(t, passthrough, translateError(passthrough))
}
