// Package arraystore is a reference array service: it answers the DataArray
// messages sent by hdfproxy and keeps the arrays in an object store.
//
// Each array is an immutable manifest plus one immutable object per written
// box. Objects are never overwritten, so a placeholder can be filled by any
// number of non-overlapping sub-array writes and read back once covered.
package arraystore

import (
	"context"
	"errors"
	"io"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
)

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// Store holds manifests and blocks as write-once objects addressed by
// slash-separated paths. NewMemory, NewFS and the hdfproxy/s3 package
// provide implementations.
type Store interface {
	// Put creates the object at path. An existing object is left untouched
	// and Put reports ErrPathExists.
	Put(ctx context.Context, path string, r io.Reader) error

	// Get opens the object at path, or reports ErrNotFound.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	Exists(ctx context.Context, path string) (bool, error)

	// List returns the sorted paths starting with prefix. A prefix ending
	// in a slash only matches below that directory.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at path. Missing objects are not an error.
	Delete(ctx context.Context, path string) error
}

// -----------------------------------------------------------------------------
// Block codec interface
// -----------------------------------------------------------------------------

// BlockCodec serializes the payload of one written box.
type BlockCodec interface {
	// Name returns the codec identifier, used as the block file extension.
	Name() string

	Encode(w io.Writer, data hdfproxy.AnyArray) error
	Decode(r io.Reader) (hdfproxy.AnyArray, error)
}

// -----------------------------------------------------------------------------
// Compressor interface
// -----------------------------------------------------------------------------

// Compressor handles compression and decompression of block streams.
type Compressor interface {
	// Name returns the compressor identifier recorded in manifests.
	Name() string

	// Extension returns the file extension appended to block paths.
	Extension() string

	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Sentinel errors. Service.Serve maps them to ProtocolException codes.
var (
	// ErrNotFound indicates a requested path or array does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPathExists indicates an attempt to write to an existing path.
	ErrPathExists = errors.New("path exists")

	// ErrInvalidPath indicates a path that would escape the storage root.
	ErrInvalidPath = errors.New("invalid path: escapes storage root")

	// ErrOverlappingBlocks indicates a box intersecting one already written.
	ErrOverlappingBlocks = errors.New("overlapping blocks")

	// ErrRangeMissing indicates an array with elements not yet written.
	ErrRangeMissing = errors.New("range not fully covered")

	// ErrManifestInvalid indicates a manifest missing required fields.
	ErrManifestInvalid = errors.New("invalid manifest")

	// ErrInvalidFormat indicates block data that cannot be decoded.
	ErrInvalidFormat = errors.New("invalid block format")

	// ErrInvalidRequest indicates a request that does not fit the declared
	// array: wrong rank, out of bounds, wrong length or transport type.
	ErrInvalidRequest = errors.New("invalid request")
)
