package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/simigo/feature"
)

// Compression defines the compression algorithm used for cached vectors.
type Compression uint8

const (
	// CompressionZstd indicates zstd block compression (default).
	CompressionZstd Compression = 0
	// CompressionLZ4 indicates LZ4 block compression.
	CompressionLZ4 Compression = 1
)

// Cache file layout:
//
//	[4]byte magic "SVEC"
//	uint8   format version (1)
//	uint8   compression type
//	uint32  vector dimension
//	uint32  uncompressed payload size
//	uint32  compressed payload size (0 = stored raw)
//	[]byte  payload (little-endian float32 components)
const (
	cacheMagic      = "SVEC"
	cacheVersion    = 1
	cacheHeaderSize = 4 + 1 + 1 + 4 + 4 + 4
	cacheExt        = ".vec"
)

// CacheOptions contains configuration options for the vector cache.
type CacheOptions struct {
	// Compression selects the payload compression algorithm.
	Compression Compression
}

// Cache persists derived feature vectors on disk, one file per image,
// so a refresh only runs the extractor for images it has never seen.
type Cache struct {
	dir         string
	compression Compression

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCache creates a vector cache rooted at dir, creating it if necessary.
func NewCache(dir string, optFns ...func(o *CacheOptions)) (*Cache, error) {
	opts := CacheOptions{
		Compression: CompressionZstd,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &Cache{
		dir:         dir,
		compression: opts.Compression,
		encoder:     encoder,
		decoder:     decoder,
	}, nil
}

func (c *Cache) path(name string) string {
	return filepath.Join(c.dir, name+cacheExt)
}

// Load reads the cached vector for the named image.
// Returns an error satisfying os.IsNotExist for cache misses.
func (c *Cache) Load(name string) (feature.Vector, error) {
	data, err := os.ReadFile(c.path(name))
	if err != nil {
		return nil, err
	}

	if len(data) < cacheHeaderSize {
		return nil, fmt.Errorf("cache entry %q: truncated header", name)
	}
	if string(data[:4]) != cacheMagic {
		return nil, fmt.Errorf("cache entry %q: bad magic", name)
	}
	if data[4] != cacheVersion {
		return nil, fmt.Errorf("cache entry %q: unsupported version %d", name, data[4])
	}

	compression := Compression(data[5])
	dim := binary.LittleEndian.Uint32(data[6:])
	rawSize := binary.LittleEndian.Uint32(data[10:])
	compressedSize := binary.LittleEndian.Uint32(data[14:])

	if rawSize != dim*4 {
		return nil, fmt.Errorf("cache entry %q: size %d does not match dimension %d", name, rawSize, dim)
	}

	payload := data[cacheHeaderSize:]

	var raw []byte
	if compressedSize == 0 {
		if uint32(len(payload)) < rawSize {
			return nil, fmt.Errorf("cache entry %q: truncated payload", name)
		}
		raw = payload[:rawSize]
	} else {
		if uint32(len(payload)) < compressedSize {
			return nil, fmt.Errorf("cache entry %q: truncated payload", name)
		}
		raw, err = c.decompress(payload[:compressedSize], compression, int(rawSize))
		if err != nil {
			return nil, fmt.Errorf("cache entry %q: %w", name, err)
		}
	}

	vec := make(feature.Vector, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	return vec, nil
}

// Store writes the vector for the named image, atomically replacing
// any previous entry.
func (c *Cache) Store(name string, v feature.Vector) error {
	raw := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(f))
	}

	compressed, err := c.compress(raw)
	if err != nil {
		return err
	}

	// Store raw if compression does not pay for itself.
	compressedSize := uint32(len(compressed))
	payload := compressed
	if compressed == nil || len(compressed) >= len(raw) {
		compressedSize = 0
		payload = raw
	}

	buf := make([]byte, cacheHeaderSize+len(payload))
	copy(buf, cacheMagic)
	buf[4] = cacheVersion
	buf[5] = byte(c.compression)
	binary.LittleEndian.PutUint32(buf[6:], uint32(len(v)))
	binary.LittleEndian.PutUint32(buf[10:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(buf[14:], compressedSize)
	copy(buf[cacheHeaderSize:], payload)

	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), c.path(name))
}

func (c *Cache) compress(raw []byte) ([]byte, error) {
	switch c.compression {
	case CompressionZstd:
		return c.encoder.EncodeAll(raw, nil), nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil // incompressible
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("unsupported compression type %d", c.compression)
	}
}

func (c *Cache) decompress(payload []byte, compression Compression, rawSize int) ([]byte, error) {
	switch compression {
	case CompressionZstd:
		raw, err := c.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, err
		}
		if len(raw) != rawSize {
			return nil, fmt.Errorf("decompressed size mismatch: got %d, want %d", len(raw), rawSize)
		}
		return raw, nil
	case CompressionLZ4:
		raw := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, err
		}
		if n != rawSize {
			return nil, fmt.Errorf("decompressed size mismatch: got %d, want %d", n, rawSize)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported compression type %d", compression)
	}
}
