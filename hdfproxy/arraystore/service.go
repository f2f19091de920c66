package arraystore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
	"github.com/pithecene-io/hdfproxy/hdfproxy/loopback"
)

var _ loopback.Server = (*Service)(nil)

// Service stores the arrays written through the DataArray protocol.
//
// A Service assumes it is the only writer of its store. Writes are
// serialized; reads may run concurrently with them.
type Service struct {
	store Store
	cfg   serviceConfig

	// writeMu serializes the check-then-put of declarations and blocks.
	writeMu sync.Mutex

	mu        sync.Mutex
	manifests map[string]*Manifest
	blocks    map[string][]BlockRef
}

// NewService creates a service on top of store.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("arraystore: store must not be nil")
	}
	cfg := serviceConfig{
		codec:      NewMsgpackCodec(),
		compressor: NewNoOpCompressor(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt.applyService(&cfg); err != nil {
			return nil, err
		}
	}
	return &Service{
		store:     store,
		cfg:       cfg,
		manifests: make(map[string]*Manifest),
		blocks:    make(map[string][]BlockRef),
	}, nil
}

// Serve answers one DataArray request. Failures are answered with a
// ProtocolException carrying the matching exception code.
func (s *Service) Serve(ctx context.Context, msg hdfproxy.Message) hdfproxy.Message {
	resp, err := s.serve(ctx, msg)
	if err != nil {
		code := exceptionCode(err)
		s.cfg.logger.Warn("arraystore: request failed",
			"type", msg.MessageType().String(),
			"code", code,
			"error", err)
		return hdfproxy.ProtocolException{Code: code, Message: err.Error()}
	}
	return resp
}

func (s *Service) serve(ctx context.Context, msg hdfproxy.Message) (hdfproxy.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case hdfproxy.GetDataArrayMetadata:
		md, err := s.Metadata(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		return hdfproxy.GetDataArrayMetadataResponse{Metadata: md}, nil
	case hdfproxy.PutUninitializedDataArrays:
		if err := s.Declare(ctx, m.ID, m.Dimensions, m.TransportType); err != nil {
			return nil, err
		}
		return hdfproxy.PutUninitializedDataArraysResponse{Success: true}, nil
	case hdfproxy.PutDataArrays:
		if err := s.PutArray(ctx, m.ID, m.Dimensions, m.Data); err != nil {
			return nil, err
		}
		return hdfproxy.PutDataArraysResponse{Success: true}, nil
	case hdfproxy.PutDataSubarrays:
		box := hdfproxy.Box{Starts: m.Starts, Counts: m.Counts}
		if err := s.PutSubarray(ctx, m.ID, box, m.Data); err != nil {
			return nil, err
		}
		return hdfproxy.PutDataSubarraysResponse{Success: true}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported message %s", ErrInvalidRequest, msg.MessageType())
	}
}

func exceptionCode(err error) int32 {
	switch {
	case errors.Is(err, ErrNotFound):
		return hdfproxy.ExceptionNotFound
	case errors.Is(err, ErrPathExists):
		return hdfproxy.ExceptionAlreadyExists
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrOverlappingBlocks):
		return hdfproxy.ExceptionInvalidArgument
	default:
		return hdfproxy.ExceptionRequestDenied
	}
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

// Declare creates an array placeholder with a shape and transport type but
// no data. Declaring an existing array fails with ErrPathExists.
func (s *Service) Declare(ctx context.Context, id hdfproxy.ArrayIdentifier, dims []int64, tt hdfproxy.TransportType) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.declare(ctx, id, dims, tt)
}

func (s *Service) declare(ctx context.Context, id hdfproxy.ArrayIdentifier, dims []int64, tt hdfproxy.TransportType) error {
	if id.URI == "" {
		return fmt.Errorf("%w: empty resource uri", ErrInvalidRequest)
	}
	m := &Manifest{
		SchemaName:     manifestSchemaName,
		FormatVersion:  manifestFormatVersion,
		URI:            id.URI,
		PathInResource: id.PathInResource,
		Dimensions:     append([]int64(nil), dims...),
		TransportType:  tt,
		Codec:          s.cfg.codec.Name(),
		Compressor:     s.cfg.compressor.Name(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := validateManifest(m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	data, err := jsonCodec.Marshal(m)
	if err != nil {
		return fmt.Errorf("arraystore: encoding manifest: %w", err)
	}
	if err := s.store.Put(ctx, manifestPath(id), bytes.NewReader(data)); err != nil {
		if errors.Is(err, ErrPathExists) {
			return fmt.Errorf("arraystore: array %s%s already declared: %w", id.URI, id.PathInResource, ErrPathExists)
		}
		return fmt.Errorf("arraystore: writing manifest: %w", err)
	}

	s.mu.Lock()
	s.manifests[arrayPrefix(id)] = m
	s.blocks[arrayPrefix(id)] = []BlockRef{}
	s.mu.Unlock()

	s.cfg.logger.Debug("arraystore: declared array",
		"uri", id.URI,
		"path", id.PathInResource,
		"dims", dims,
		"transport", tt.String())
	return nil
}

// PutArray declares an array and writes all of its elements at once.
func (s *Service) PutArray(ctx context.Context, id hdfproxy.ArrayIdentifier, dims []int64, data hdfproxy.AnyArray) error {
	total := hdfproxy.Box{Counts: dims}.Elements()
	if int64(data.Len()) != total {
		return fmt.Errorf("%w: %d values for %v elements", ErrInvalidRequest, data.Len(), dims)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.declare(ctx, id, dims, data.Type); err != nil {
		return err
	}
	if total == 0 {
		return nil
	}
	m, err := s.manifest(ctx, id)
	if err != nil {
		return err
	}
	return s.writeBlock(ctx, id, m, hdfproxy.Box{Starts: make([]int64, len(dims)), Counts: dims}, data)
}

// PutSubarray writes one box of a declared array. The box must lie inside
// the array, carry exactly its element count in the array's transport type,
// and not intersect any box written before.
//
// The overlap check lists and compares every block already written, so a
// write split into n sub-arrays costs O(n²) block comparisons here.
func (s *Service) PutSubarray(ctx context.Context, id hdfproxy.ArrayIdentifier, box hdfproxy.Box, data hdfproxy.AnyArray) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	m, err := s.manifest(ctx, id)
	if err != nil {
		return err
	}
	if err := validateBox(m.Dimensions, box); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if data.Type != m.TransportType {
		return fmt.Errorf("%w: payload is %s, array is %s", ErrInvalidRequest, data.Type, m.TransportType)
	}
	if int64(data.Len()) != box.Elements() {
		return fmt.Errorf("%w: %d values for a box of %d elements", ErrInvalidRequest, data.Len(), box.Elements())
	}

	blocks, err := s.Blocks(ctx, id)
	if err != nil {
		return err
	}
	if err := validateNoOverlap(blocks, box); err != nil {
		return err
	}
	return s.writeBlock(ctx, id, m, box, data)
}

func (s *Service) writeBlock(ctx context.Context, id hdfproxy.ArrayIdentifier, m *Manifest, box hdfproxy.Box, data hdfproxy.AnyArray) error {
	codec, compressor, err := blockFormat(m)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	cw, err := compressor.Compress(&buf)
	if err != nil {
		return fmt.Errorf("arraystore: compressor: %w", err)
	}
	if err := codec.Encode(cw, data); err != nil {
		_ = cw.Close()
		return fmt.Errorf("arraystore: encoding block: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("arraystore: compressor close: %w", err)
	}

	ref := BlockRef{
		Box:  hdfproxy.Box{Starts: append([]int64(nil), box.Starts...), Counts: append([]int64(nil), box.Counts...)},
		Path: blockPath(id, box, codec.Name(), compressor.Extension()),
	}
	if err := s.store.Put(ctx, ref.Path, &buf); err != nil {
		if errors.Is(err, ErrPathExists) {
			return fmt.Errorf("%w: box %v+%v already written", ErrOverlappingBlocks, box.Starts, box.Counts)
		}
		return fmt.Errorf("arraystore: writing block: %w", err)
	}

	s.mu.Lock()
	key := arrayPrefix(id)
	s.blocks[key] = append(s.blocks[key], ref)
	s.mu.Unlock()

	s.cfg.logger.Debug("arraystore: wrote block",
		"path", ref.Path,
		"starts", box.Starts,
		"counts", box.Counts)
	return nil
}

func blockFormat(m *Manifest) (BlockCodec, Compressor, error) {
	codec, err := ParseBlockCodec(m.Codec)
	if err != nil {
		return nil, nil, err
	}
	compressor, err := ParseCompressor(m.Compressor)
	if err != nil {
		return nil, nil, err
	}
	return codec, compressor, nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// Metadata returns the dimensions and transport type of a declared array.
func (s *Service) Metadata(ctx context.Context, id hdfproxy.ArrayIdentifier) (hdfproxy.ArrayMetadata, error) {
	m, err := s.manifest(ctx, id)
	if err != nil {
		return hdfproxy.ArrayMetadata{}, err
	}
	return hdfproxy.ArrayMetadata{
		Dimensions:    append([]int64(nil), m.Dimensions...),
		TransportType: m.TransportType,
	}, nil
}

// Manifest returns a copy of the manifest of a declared array.
func (s *Service) Manifest(ctx context.Context, id hdfproxy.ArrayIdentifier) (Manifest, error) {
	m, err := s.manifest(ctx, id)
	if err != nil {
		return Manifest{}, err
	}
	out := *m
	out.Dimensions = append([]int64(nil), m.Dimensions...)
	return out, nil
}

func (s *Service) manifest(ctx context.Context, id hdfproxy.ArrayIdentifier) (*Manifest, error) {
	key := arrayPrefix(id)
	s.mu.Lock()
	m, ok := s.manifests[key]
	s.mu.Unlock()
	if ok {
		return m, nil
	}

	rc, err := s.store.Get(ctx, manifestPath(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("arraystore: array %s%s: %w", id.URI, id.PathInResource, ErrNotFound)
		}
		return nil, fmt.Errorf("arraystore: reading manifest: %w", err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("arraystore: reading manifest: %w", err)
	}
	m = &Manifest{}
	if err := jsonCodec.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestInvalid, err)
	}
	if err := validateManifest(m); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.manifests[key] = m
	s.mu.Unlock()
	return m, nil
}

// Blocks returns the boxes written so far for an array, in storage order
// for arrays loaded from the store and write order otherwise.
func (s *Service) Blocks(ctx context.Context, id hdfproxy.ArrayIdentifier) ([]BlockRef, error) {
	key := arrayPrefix(id)
	s.mu.Lock()
	cached, ok := s.blocks[key]
	s.mu.Unlock()
	if ok {
		return append([]BlockRef(nil), cached...), nil
	}

	paths, err := s.store.List(ctx, blocksPrefix(id))
	if err != nil {
		return nil, fmt.Errorf("arraystore: listing blocks: %w", err)
	}
	blocks := make([]BlockRef, 0, len(paths))
	for _, p := range paths {
		box, ok := parseBlockPath(p)
		if !ok {
			continue
		}
		blocks = append(blocks, BlockRef{Box: box, Path: p})
	}

	s.mu.Lock()
	s.blocks[key] = blocks
	s.mu.Unlock()
	return append([]BlockRef(nil), blocks...), nil
}

// Coverage reports how many elements of a declared array have been written.
// Written blocks never overlap, so their element counts add up exactly.
func (s *Service) Coverage(ctx context.Context, id hdfproxy.ArrayIdentifier) (Coverage, error) {
	m, err := s.manifest(ctx, id)
	if err != nil {
		return Coverage{}, err
	}
	blocks, err := s.Blocks(ctx, id)
	if err != nil {
		return Coverage{}, err
	}
	c := Coverage{Total: m.Elements()}
	for _, b := range blocks {
		c.Written += b.Elements()
	}
	return c, nil
}

// ReadArray reassembles a fully written array in row-major order. Arrays
// with unwritten elements fail with ErrRangeMissing.
func (s *Service) ReadArray(ctx context.Context, id hdfproxy.ArrayIdentifier) (hdfproxy.AnyArray, error) {
	m, err := s.manifest(ctx, id)
	if err != nil {
		return hdfproxy.AnyArray{}, err
	}
	cov, err := s.Coverage(ctx, id)
	if err != nil {
		return hdfproxy.AnyArray{}, err
	}
	if cov.Written != cov.Total {
		return hdfproxy.AnyArray{}, fmt.Errorf("arraystore: %d of %d elements written: %w", cov.Written, cov.Total, ErrRangeMissing)
	}
	blocks, err := s.Blocks(ctx, id)
	if err != nil {
		return hdfproxy.AnyArray{}, err
	}
	codec, compressor, err := blockFormat(m)
	if err != nil {
		return hdfproxy.AnyArray{}, err
	}

	out := allocate(m.TransportType, int(cov.Total))
	for _, b := range blocks {
		data, err := s.readBlock(ctx, b, codec, compressor)
		if err != nil {
			return hdfproxy.AnyArray{}, err
		}
		if data.Type != m.TransportType || int64(data.Len()) != b.Elements() {
			return hdfproxy.AnyArray{}, fmt.Errorf("%w: block %s holds %d %s values", ErrInvalidFormat, b.Path, data.Len(), data.Type)
		}
		place(&out, data, m.Dimensions, b.Box)
	}
	return out, nil
}

func (s *Service) readBlock(ctx context.Context, b BlockRef, codec BlockCodec, compressor Compressor) (hdfproxy.AnyArray, error) {
	rc, err := s.store.Get(ctx, b.Path)
	if err != nil {
		return hdfproxy.AnyArray{}, fmt.Errorf("arraystore: reading block %s: %w", b.Path, err)
	}
	defer func() { _ = rc.Close() }()

	dr, err := compressor.Decompress(rc)
	if err != nil {
		return hdfproxy.AnyArray{}, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	defer func() { _ = dr.Close() }()

	return codec.Decode(dr)
}

func allocate(tt hdfproxy.TransportType, n int) hdfproxy.AnyArray {
	out := hdfproxy.AnyArray{Type: tt}
	switch tt {
	case hdfproxy.TransportBytes:
		out.Bytes = make([]byte, n)
	case hdfproxy.TransportBool:
		out.Bools = make([]bool, n)
	case hdfproxy.TransportInt32:
		out.Ints = make([]int32, n)
	case hdfproxy.TransportInt64:
		out.Longs = make([]int64, n)
	case hdfproxy.TransportFloat:
		out.Floats = make([]float32, n)
	case hdfproxy.TransportDouble:
		out.Doubles = make([]float64, n)
	}
	return out
}

// place copies the row-major elements of a box into the full array.
func place(dst *hdfproxy.AnyArray, src hdfproxy.AnyArray, dims []int64, box hdfproxy.Box) {
	switch dst.Type {
	case hdfproxy.TransportBytes:
		scatter(dst.Bytes, src.Bytes, dims, box)
	case hdfproxy.TransportBool:
		scatter(dst.Bools, src.Bools, dims, box)
	case hdfproxy.TransportInt32:
		scatter(dst.Ints, src.Ints, dims, box)
	case hdfproxy.TransportInt64:
		scatter(dst.Longs, src.Longs, dims, box)
	case hdfproxy.TransportFloat:
		scatter(dst.Floats, src.Floats, dims, box)
	case hdfproxy.TransportDouble:
		scatter(dst.Doubles, src.Doubles, dims, box)
	}
}

func scatter[T any](dst, src []T, dims []int64, box hdfproxy.Box) {
	i := 0
	hdfproxy.ForEachIndex(dims, box.Starts, box.Counts, func(off int64) {
		dst[off] = src[i]
		i++
	})
}
