package hdfproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// Child dataset names of an itemized list of lists.
const (
	CumulativeLengthDataset = "cumulativeLength"
	ElementsDataset         = "elements"
)

// Proxy is an ArrayFile whose datasets live on a remote array service.
//
// A Proxy belongs to one remote resource. It keeps no per-array state
// between calls, so it is safe for concurrent use when its channel is.
type Proxy struct {
	ch      Channel
	uri     string
	cfg     proxyConfig
	corr    *Correlator
	chunker *Chunker
}

var _ ArrayFile = (*Proxy)(nil)

// New creates a proxy writing the datasets of resourceURI through ch.
//
// Defaults:
//   - Max array size: DefaultMaxArraySize
//   - Timeout: the channel's Timeout(), then DefaultTimeout
//   - Split policy: SplitHalve
//   - Logger: slog.Default()
func New(ch Channel, resourceURI string, opts ...Option) (*Proxy, error) {
	if ch == nil {
		return nil, errors.New("hdfproxy: channel is required")
	}
	if resourceURI == "" {
		return nil, errors.New("hdfproxy: resource URI is required")
	}

	cfg := proxyConfig{
		maxArraySize: DefaultMaxArraySize,
		policy:       SplitHalve,
		metrics:      noopMetrics{},
	}
	for _, opt := range opts {
		if err := opt.applyProxy(&cfg); err != nil {
			return nil, fmt.Errorf("hdfproxy: %w", err)
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Proxy{
		ch:   ch,
		uri:  resourceURI,
		cfg:  cfg,
		corr: NewCorrelator(ch, cfg.logger, cfg.metrics),
		chunker: &Chunker{
			Channel:      ch,
			MaxArraySize: cfg.maxArraySize,
			Policy:       cfg.policy,
			Logger:       cfg.logger,
			Metrics:      cfg.metrics,
		},
	}, nil
}

// ResourceURI returns the URI of the remote resource the proxy writes to.
func (p *Proxy) ResourceURI() string { return p.uri }

// MaxArraySize returns the payload ceiling in source bytes.
func (p *Proxy) MaxArraySize() int64 { return p.cfg.maxArraySize }

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

// WriteArray writes values as the dataset group/name with the given extents.
//
// values is the Go slice matching dt, holding product(extents) elements in
// row-major order. Arrays up to the max array size travel in one
// PutDataArrays message; larger ones are declared with
// PutUninitializedDataArrays, acknowledged, and then sent as sub-arrays.
//
// Sub-array sends are not acknowledged individually, and a failure part way
// leaves the remote array partially written.
func (p *Proxy) WriteArray(ctx context.Context, group, name string, dt Datatype, values any, extents []uint64) error {
	codec, err := lookup(dt)
	if err != nil {
		return err
	}
	dims, err := toDims(extents)
	if err != nil {
		return err
	}
	n := elementCount(dims)
	if err := checkValues(codec, dt, values, int(n)); err != nil {
		return err
	}
	if err := p.ensureOpen(ctx); err != nil {
		return err
	}

	path := DatasetPath(group, name)
	id := BuildIdentifier(p.uri, path)
	size := int64(codec.size())
	totalBytes := boxBytes(dims, size)

	if totalBytes <= p.cfg.maxArraySize {
		msg := PutDataArrays{
			ID:         id,
			Dimensions: dims,
			Data:       codec.pack(values, int(n)),
		}
		if err := p.ch.Send(ctx, msg, HeaderFor(msg)); err != nil {
			return fmt.Errorf("hdfproxy: writing %s: %w", path, &ProtocolError{Op: MsgPutDataArrays.String(), Err: err})
		}
		p.cfg.metrics.RecordSend(MsgPutDataArrays, totalBytes)
		p.cfg.logger.Debug("sent array", "path", path, "dimensions", dims, "bytes", totalBytes)
		return nil
	}

	if p.cfg.maxArraySize < size {
		return fmt.Errorf("hdfproxy: writing %s: ceiling %d < element size %d: %w",
			path, p.cfg.maxArraySize, size, ErrCeilingTooSmall)
	}

	p.cfg.logger.Info("writing chunked array",
		"path", path,
		"dimensions", dims,
		"datatype", dt.String(),
		"bytes", totalBytes,
		"max_array_size", p.cfg.maxArraySize)

	placeholder := PutUninitializedDataArrays{
		ID:            id,
		Dimensions:    dims,
		TransportType: codec.transport(),
	}
	resp, err := p.corr.Call(ctx, placeholder, p.cfg.timeout)
	if err != nil {
		return fmt.Errorf("hdfproxy: declaring %s: %w", path, err)
	}
	if !placeholderAccepted(resp) {
		return fmt.Errorf("hdfproxy: declaring %s: %w",
			path, &ProtocolError{Op: MsgPutUninitializedDataArrays.String(), Message: "placeholder rejected"})
	}

	req := ChunkRequest{
		TotalCounts: dims,
		Starts:      make([]int64, len(dims)),
		Counts:      dims,
	}
	_, err = p.chunker.SplitAndWrite(ctx, id, req, dt, values)
	return err
}

// WriteItemizedListOfList writes a list of variable-length lists as two
// datasets grouped under group/name: the cumulative lengths and the
// flattened elements. The first write is not rolled back if the second fails.
func (p *Proxy) WriteItemizedListOfList(ctx context.Context, group, name string,
	lengthsDT Datatype, lengths any, elementsDT Datatype, elements any,
) error {
	listGroup := DatasetPath(group, name)

	nLengths, err := valuesLen(lengthsDT, lengths)
	if err != nil {
		return err
	}
	if err := p.WriteArray(ctx, listGroup, CumulativeLengthDataset, lengthsDT, lengths, []uint64{uint64(nLengths)}); err != nil {
		return err
	}

	nElements, err := valuesLen(elementsDT, elements)
	if err != nil {
		return err
	}
	return p.WriteArray(ctx, listGroup, ElementsDataset, elementsDT, elements, []uint64{uint64(nElements)})
}

// -----------------------------------------------------------------------------
// Metadata
// -----------------------------------------------------------------------------

// Metadata asks the remote service for the dimensions and transport type of
// a dataset and waits for the answer.
func (p *Proxy) Metadata(ctx context.Context, datasetPath string) (ArrayMetadata, error) {
	if err := p.ensureOpen(ctx); err != nil {
		return ArrayMetadata{}, err
	}
	req := GetDataArrayMetadata{ID: BuildIdentifier(p.uri, datasetPath)}
	resp, err := p.corr.Call(ctx, req, p.cfg.timeout)
	if err != nil {
		return ArrayMetadata{}, fmt.Errorf("hdfproxy: metadata of %s: %w", datasetPath, err)
	}
	switch m := resp.(type) {
	case GetDataArrayMetadataResponse:
		return m.Metadata, nil
	case *GetDataArrayMetadataResponse:
		return m.Metadata, nil
	default:
		return ArrayMetadata{}, fmt.Errorf("hdfproxy: metadata of %s: %w", datasetPath, &ProtocolError{
			Op:  req.MessageType().String(),
			Err: fmt.Errorf("unexpected response %s", resp.MessageType()),
		})
	}
}

// ElementCountPerDimension returns the dataset's dimensions as reported by
// the remote service.
func (p *Proxy) ElementCountPerDimension(ctx context.Context, datasetPath string) ([]int64, error) {
	md, err := p.Metadata(ctx, datasetPath)
	if err != nil {
		return nil, err
	}
	return clone(md.Dimensions), nil
}

// Datatype returns the datatype a dataset's transport type maps back to.
// Unmapped transport types and failed lookups both return Unknown.
func (p *Proxy) Datatype(ctx context.Context, datasetPath string) Datatype {
	md, err := p.Metadata(ctx, datasetPath)
	if err != nil {
		p.cfg.logger.Warn("datatype lookup failed", "path", datasetPath, "error", err)
		return Unknown
	}
	return DatatypeOf(md.TransportType)
}

// -----------------------------------------------------------------------------
// Unsupported operations
// -----------------------------------------------------------------------------

func (p *Proxy) CreateArray(context.Context, string, string, Datatype, []uint64) error {
	return notImplemented("CreateArray")
}

func (p *Proxy) WriteArraySlab(context.Context, string, string, Datatype, any, []uint64, []uint64) error {
	return notImplemented("WriteArraySlab")
}

func (p *Proxy) ReadArray(context.Context, string, any) error {
	return notImplemented("ReadArray")
}

func (p *Proxy) ReadArraySlab(context.Context, string, any, []uint64, []uint64) error {
	return notImplemented("ReadArraySlab")
}

func (p *Proxy) ReadHyperslab(context.Context, string, any, Hyperslab) error {
	return notImplemented("ReadHyperslab")
}

func (p *Proxy) SelectHyperslab(context.Context, string, Hyperslab) error {
	return notImplemented("SelectHyperslab")
}

func (p *Proxy) Exists(context.Context, string) (bool, error) {
	return false, notImplemented("Exists")
}

func (p *Proxy) IsCompressed(context.Context, string) (bool, error) {
	return false, notImplemented("IsCompressed")
}

func (p *Proxy) DatatypeClass(context.Context, string) (int, error) {
	return 0, notImplemented("DatatypeClass")
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (p *Proxy) ensureOpen(ctx context.Context) error {
	if p.ch.IsOpen() {
		return nil
	}
	p.cfg.logger.Debug("reopening channel", "resource", p.uri)
	if err := p.ch.Open(ctx); err != nil {
		return fmt.Errorf("hdfproxy: %w", &ProtocolError{Op: "Open", Err: err})
	}
	return nil
}

// placeholderAccepted reports whether a placeholder response, by value or
// by pointer, does not refuse the declaration.
func placeholderAccepted(resp Message) bool {
	switch ack := resp.(type) {
	case PutUninitializedDataArraysResponse:
		return ack.Success
	case *PutUninitializedDataArraysResponse:
		return ack != nil && ack.Success
	default:
		return true
	}
}

func toDims(extents []uint64) ([]int64, error) {
	dims := make([]int64, len(extents))
	for i, e := range extents {
		if e > math.MaxInt64 {
			return nil, fmt.Errorf("hdfproxy: extent %d in dimension %d: %w", e, i, ErrInvalidArgument)
		}
		dims[i] = int64(e)
	}
	if n, ok := ElementCount(dims); !ok || n > math.MaxInt {
		return nil, fmt.Errorf("hdfproxy: extents %v overflow the element count: %w", extents, ErrInvalidArgument)
	}
	return dims, nil
}

func valuesLen(dt Datatype, values any) (int, error) {
	codec, err := lookup(dt)
	if err != nil {
		return 0, err
	}
	n, ok := codec.length(values)
	if !ok {
		return 0, fmt.Errorf("hdfproxy: %T does not hold %s values: %w", values, dt, ErrInvalidArgument)
	}
	return n, nil
}
