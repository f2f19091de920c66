package arraystore

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseBlockCodec returns the block codec registered under name. The empty
// name selects msgpack.
func ParseBlockCodec(name string) (BlockCodec, error) {
	switch name {
	case "", "msgpack":
		return NewMsgpackCodec(), nil
	case "parquet":
		return NewParquetCodec(), nil
	default:
		return nil, fmt.Errorf("arraystore: unknown block codec %q", name)
	}
}

// -----------------------------------------------------------------------------
// Msgpack Codec
// -----------------------------------------------------------------------------

type msgpackCodec struct{}

// NewMsgpackCodec creates a codec that stores each block as the msgpack
// encoding of its tagged payload.
func NewMsgpackCodec() BlockCodec {
	return msgpackCodec{}
}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Encode(w io.Writer, data hdfproxy.AnyArray) error {
	return msgpack.NewEncoder(w).Encode(&data)
}

func (msgpackCodec) Decode(r io.Reader) (hdfproxy.AnyArray, error) {
	var data hdfproxy.AnyArray
	if err := msgpack.NewDecoder(r).Decode(&data); err != nil {
		return hdfproxy.AnyArray{}, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	if data.Type == hdfproxy.TransportUnknown {
		return hdfproxy.AnyArray{}, fmt.Errorf("%w: missing transport type", ErrInvalidFormat)
	}
	return data, nil
}
