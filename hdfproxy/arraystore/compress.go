package arraystore

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ParseCompressor returns the compressor registered under name. The empty
// name selects no compression.
func ParseCompressor(name string) (Compressor, error) {
	switch name {
	case "", "noop", "none":
		return NewNoOpCompressor(), nil
	case "gzip":
		return NewGzipCompressor(), nil
	case "zstd":
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("arraystore: unknown compressor %q", name)
	}
}

// -----------------------------------------------------------------------------
// Gzip Compressor
// -----------------------------------------------------------------------------

type gzipCompressor struct{}

// NewGzipCompressor creates a gzip compressor. Block paths get a .gz suffix.
func NewGzipCompressor() Compressor {
	return gzipCompressor{}
}

func (gzipCompressor) Name() string      { return "gzip" }
func (gzipCompressor) Extension() string { return ".gz" }

func (gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// -----------------------------------------------------------------------------
// Zstd Compressor
// -----------------------------------------------------------------------------

type zstdCompressor struct {
	level zstd.EncoderLevel
}

// NewZstdCompressor creates a zstd compressor at the default level.
// Block paths get a .zst suffix.
func NewZstdCompressor() Compressor {
	return zstdCompressor{level: zstd.SpeedDefault}
}

func (zstdCompressor) Name() string      { return "zstd" }
func (zstdCompressor) Extension() string { return ".zst" }

func (z zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(z.level))
}

func (zstdCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// -----------------------------------------------------------------------------
// NoOp Compressor
// -----------------------------------------------------------------------------

type noopCompressor struct{}

// NewNoOpCompressor creates a compressor that passes data through unchanged.
func NewNoOpCompressor() Compressor {
	return noopCompressor{}
}

func (noopCompressor) Name() string      { return "noop" }
func (noopCompressor) Extension() string { return "" }

func (noopCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noopCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
