// Package hdfproxy writes N-dimensional numeric arrays to a remote array
// service through a size-constrained request/response message channel.
//
// The proxy exposes a hierarchical-array-file style surface (groups and
// named datasets) but never touches local files. Arrays that fit one message
// are sent whole; larger arrays are declared on the remote side first and
// then streamed as sub-array messages addressed in row-major order.
//
// hdfproxy does not implement the channel. Connection lifecycle, request ID
// allocation and byte-level framing belong to the Channel implementation.
package hdfproxy

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------
// Identity
// -----------------------------------------------------------------------------

// ArrayIdentifier addresses one dataset on the remote service.
//
// URI identifies the remote resource that owns the dataset, and
// PathInResource distinguishes it among the datasets of that resource.
type ArrayIdentifier struct {
	URI            string `msgpack:"uri" json:"uri"`
	PathInResource string `msgpack:"path_in_resource" json:"path_in_resource"`
}

// ArrayMetadata describes a remote array as reported by the service.
// It is only valid for the query that produced it.
type ArrayMetadata struct {
	// Dimensions lists the element count of each dimension, slowest first.
	Dimensions []int64 `msgpack:"dimensions" json:"dimensions"`

	// TransportType is the wire packing of the array's values.
	TransportType TransportType `msgpack:"transport_type" json:"transport_type"`
}

// -----------------------------------------------------------------------------
// Channel
// -----------------------------------------------------------------------------

// ProtocolID identifies the protocol a message belongs to.
type ProtocolID int32

const (
	// ProtocolCore carries session-level messages such as ProtocolException.
	ProtocolCore ProtocolID = 0

	// ProtocolDataArray carries every array message sent by the proxy.
	ProtocolDataArray ProtocolID = 9
)

// MessageFlags is the bit field of a message header.
type MessageFlags int32

const (
	// FlagFinal marks the last (here: only) part of a message.
	FlagFinal MessageFlags = 0x02
)

// Header carries the routing fields a channel needs to frame a message.
type Header struct {
	Protocol      ProtocolID
	MessageType   MessageType
	CorrelationID int64
	Flags         MessageFlags
}

// ResponseHandler receives the outcome of a request sent with
// SendWithHandler. Channels call it from their own delivery goroutine.
//
// Either msg is the response body or err describes why none will arrive.
type ResponseHandler func(msg Message, err error)

// Channel is the asynchronous request/response transport consumed by the
// proxy. Implementations must be safe for concurrent use by multiple
// in-flight requests.
type Channel interface {
	// Open establishes the connection. Calling Open on an open channel is a no-op.
	Open(ctx context.Context) error

	// IsOpen reports whether the channel can currently send.
	IsOpen() bool

	// Send hands a message to the transport without waiting for a response.
	Send(ctx context.Context, msg Message, hdr Header) error

	// SendWithHandler sends a request and registers h for its response.
	// It returns the request ID allocated by the channel.
	SendWithHandler(ctx context.Context, msg Message, hdr Header, h ResponseHandler) (int64, error)

	// IsStillProcessing reports whether the channel still awaits a response
	// for the given request ID.
	IsStillProcessing(requestID int64) bool

	// Timeout returns the channel's default wait budget for a response.
	Timeout() time.Duration
}

// -----------------------------------------------------------------------------
// Array file contract
// -----------------------------------------------------------------------------

// ArrayFile is the hierarchical-array-file surface implemented by Proxy.
//
// Read paths, slabs, existence and compression queries are part of the
// contract but are not backed by the remote channel; they report
// ErrNotImplemented so capability checks can tell them apart from failures.
type ArrayFile interface {
	WriteArray(ctx context.Context, group, name string, dt Datatype, values any, extents []uint64) error
	WriteItemizedListOfList(ctx context.Context, group, name string,
		lengthsDT Datatype, lengths any, elementsDT Datatype, elements any) error
	Metadata(ctx context.Context, datasetPath string) (ArrayMetadata, error)
	ElementCountPerDimension(ctx context.Context, datasetPath string) ([]int64, error)
	Datatype(ctx context.Context, datasetPath string) Datatype

	CreateArray(ctx context.Context, group, name string, dt Datatype, extents []uint64) error
	WriteArraySlab(ctx context.Context, group, name string, dt Datatype, values any, counts, offsets []uint64) error
	ReadArray(ctx context.Context, datasetPath string, dst any) error
	ReadArraySlab(ctx context.Context, datasetPath string, dst any, counts, offsets []uint64) error
	ReadHyperslab(ctx context.Context, datasetPath string, dst any, sel Hyperslab) error
	SelectHyperslab(ctx context.Context, datasetPath string, sel Hyperslab) error
	Exists(ctx context.Context, path string) (bool, error)
	IsCompressed(ctx context.Context, datasetPath string) (bool, error)
	DatatypeClass(ctx context.Context, datasetPath string) (int, error)
}

// Hyperslab selects a strided, blocked region of a dataset.
type Hyperslab struct {
	Offsets    []uint64
	BlockCount []uint64
	Stride     []uint64
	BlockSize  []uint64
}
