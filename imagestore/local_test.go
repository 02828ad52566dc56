package imagestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()

	t.Run("WriteReadExists", func(t *testing.T) {
		s, err := NewLocalStore(t.TempDir())
		require.NoError(t, err)

		require.NoError(t, s.Write(ctx, "a.png", []byte("png-bytes")))

		data, err := s.Read(ctx, "a.png")
		require.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), data)

		ok, err := s.Exists(ctx, "a.png")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Exists(ctx, "missing.png")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ListFiltersNonImages", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewLocalStore(dir)
		require.NoError(t, err)

		require.NoError(t, s.Write(ctx, "b.jpeg", []byte("b")))
		require.NoError(t, s.Write(ctx, "a.png", []byte("a")))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
		require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

		names, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.png", "b.jpeg"}, names)
	})

	t.Run("ReadMissing", func(t *testing.T) {
		s, err := NewLocalStore(t.TempDir())
		require.NoError(t, err)

		_, err = s.Read(ctx, "nope.png")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		s, err := NewLocalStore(t.TempDir())
		require.NoError(t, err)

		_, err = s.Read(ctx, "../etc/passwd")
		assert.Error(t, err)

		err = s.Write(ctx, "..", []byte("x"))
		assert.Error(t, err)
	})

	t.Run("CreatesRoot", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "nested", "images")
		_, err := NewLocalStore(root)
		require.NoError(t, err)

		info, err := os.Stat(root)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestIsImageName(t *testing.T) {
	assert.True(t, IsImageName("a.png"))
	assert.True(t, IsImageName("a.JPG"))
	assert.True(t, IsImageName("deadbeef.jpeg"))
	assert.False(t, IsImageName("a.txt"))
	assert.False(t, IsImageName("noext"))
	assert.False(t, IsImageName(".png.vec"))
}

func TestDetectExtension(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n rest")
	assert.Equal(t, ".png", DetectExtension(png))

	gif := []byte("GIF89a rest")
	assert.Equal(t, ".gif", DetectExtension(gif))

	assert.Equal(t, ".jpeg", DetectExtension([]byte("\xff\xd8\xff whatever")))
	assert.Equal(t, ".jpeg", DetectExtension([]byte("unknown")))
}
