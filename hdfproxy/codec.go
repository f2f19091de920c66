package hdfproxy

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Datatypes
// -----------------------------------------------------------------------------

// Datatype is the caller-facing numeric type of an array's elements.
type Datatype int

// Datatype values. The zero value is Unknown.
const (
	Unknown Datatype = iota
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float
	Double
)

func (d Datatype) String() string {
	switch d {
	case Int8:
		return "INT8"
	case Uint8:
		return "UINT8"
	case Int16:
		return "INT16"
	case Uint16:
		return "UINT16"
	case Int32:
		return "INT32"
	case Uint32:
		return "UINT32"
	case Int64:
		return "INT64"
	case Uint64:
		return "UINT64"
	case Float:
		return "FLOAT"
	case Double:
		return "DOUBLE"
	default:
		return "UNKNOWN"
	}
}

// ParseDatatype parses the upper- or lower-case name of a datatype.
func ParseDatatype(s string) (Datatype, error) {
	for d := Int8; d <= Double; d++ {
		if strings.EqualFold(d.String(), s) {
			return d, nil
		}
	}
	return Unknown, fmt.Errorf("hdfproxy: datatype %q: %w", s, ErrUnsupportedDatatype)
}

// TransportType is the wire packing of an array's values.
type TransportType int

// TransportType values. The zero value is TransportUnknown.
const (
	TransportUnknown TransportType = iota
	TransportBytes
	TransportBool
	TransportInt32
	TransportInt64
	TransportFloat
	TransportDouble
)

func (t TransportType) String() string {
	switch t {
	case TransportBytes:
		return "bytes"
	case TransportBool:
		return "arrayOfBoolean"
	case TransportInt32:
		return "arrayOfInt"
	case TransportInt64:
		return "arrayOfLong"
	case TransportFloat:
		return "arrayOfFloat"
	case TransportDouble:
		return "arrayOfDouble"
	default:
		return "unknown"
	}
}

// AnyArray is a tagged payload: Type selects which of the value slices is
// populated.
type AnyArray struct {
	Type    TransportType `msgpack:"type" json:"type"`
	Bytes   []byte        `msgpack:"bytes,omitempty" json:"bytes,omitempty"`
	Bools   []bool        `msgpack:"bools,omitempty" json:"bools,omitempty"`
	Ints    []int32       `msgpack:"ints,omitempty" json:"ints,omitempty"`
	Longs   []int64       `msgpack:"longs,omitempty" json:"longs,omitempty"`
	Floats  []float32     `msgpack:"floats,omitempty" json:"floats,omitempty"`
	Doubles []float64     `msgpack:"doubles,omitempty" json:"doubles,omitempty"`
}

// Len returns the number of elements carried by the payload.
func (a AnyArray) Len() int {
	switch a.Type {
	case TransportBytes:
		return len(a.Bytes)
	case TransportBool:
		return len(a.Bools)
	case TransportInt32:
		return len(a.Ints)
	case TransportInt64:
		return len(a.Longs)
	case TransportFloat:
		return len(a.Floats)
	case TransportDouble:
		return len(a.Doubles)
	default:
		return 0
	}
}

// -----------------------------------------------------------------------------
// Dispatch table
// -----------------------------------------------------------------------------

// elementCodec is the per-datatype entry of the closed dispatch table.
type elementCodec interface {
	size() int
	transport() TransportType
	length(values any) (int, bool)
	gather(values any, totalCounts, starts, counts []int64) any
	pack(values any, n int) AnyArray
}

type sliceCodec[T any] struct {
	elemSize int
	tt       TransportType
	encode   func(src []T) AnyArray
}

func (c sliceCodec[T]) size() int                { return c.elemSize }
func (c sliceCodec[T]) transport() TransportType { return c.tt }

func (c sliceCodec[T]) length(values any) (int, bool) {
	s, ok := values.([]T)
	return len(s), ok
}

func (c sliceCodec[T]) gather(values any, totalCounts, starts, counts []int64) any {
	src := values.([]T)
	out := make([]T, 0, elementCount(counts))
	ForEachIndex(totalCounts, starts, counts, func(off int64) {
		out = append(out, src[off])
	})
	return out
}

func (c sliceCodec[T]) pack(values any, n int) AnyArray {
	return c.encode(values.([]T)[:n])
}

var codecs = map[Datatype]elementCodec{
	Int8: sliceCodec[int8]{1, TransportBytes, func(src []int8) AnyArray {
		b := make([]byte, len(src))
		for i, v := range src {
			b[i] = byte(v)
		}
		return AnyArray{Type: TransportBytes, Bytes: b}
	}},
	Uint8: sliceCodec[uint8]{1, TransportBytes, func(src []uint8) AnyArray {
		b := make([]byte, len(src))
		copy(b, src)
		return AnyArray{Type: TransportBytes, Bytes: b}
	}},
	Int16: sliceCodec[int16]{2, TransportInt32, func(src []int16) AnyArray {
		return AnyArray{Type: TransportInt32, Ints: widen(src)}
	}},
	Uint16: sliceCodec[uint16]{2, TransportInt32, func(src []uint16) AnyArray {
		return AnyArray{Type: TransportInt32, Ints: widen(src)}
	}},
	Int32: sliceCodec[int32]{4, TransportInt32, func(src []int32) AnyArray {
		v := make([]int32, len(src))
		copy(v, src)
		return AnyArray{Type: TransportInt32, Ints: v}
	}},
	// Unsigned 32 and 64 bit values keep their bit pattern in the signed slices.
	Uint32: sliceCodec[uint32]{4, TransportInt32, func(src []uint32) AnyArray {
		return AnyArray{Type: TransportInt32, Ints: widen(src)}
	}},
	Int64: sliceCodec[int64]{8, TransportInt64, func(src []int64) AnyArray {
		v := make([]int64, len(src))
		copy(v, src)
		return AnyArray{Type: TransportInt64, Longs: v}
	}},
	Uint64: sliceCodec[uint64]{8, TransportInt64, func(src []uint64) AnyArray {
		v := make([]int64, len(src))
		for i, x := range src {
			v[i] = int64(x)
		}
		return AnyArray{Type: TransportInt64, Longs: v}
	}},
	Float: sliceCodec[float32]{4, TransportFloat, func(src []float32) AnyArray {
		v := make([]float32, len(src))
		copy(v, src)
		return AnyArray{Type: TransportFloat, Floats: v}
	}},
	Double: sliceCodec[float64]{8, TransportDouble, func(src []float64) AnyArray {
		v := make([]float64, len(src))
		copy(v, src)
		return AnyArray{Type: TransportDouble, Doubles: v}
	}},
}

// widen converts element-wise into int32. uint32 wraps to its bit pattern.
func widen[T int16 | uint16 | uint32](src []T) []int32 {
	v := make([]int32, len(src))
	for i, x := range src {
		v[i] = int32(x)
	}
	return v
}

func lookup(dt Datatype) (elementCodec, error) {
	c, ok := codecs[dt]
	if !ok {
		return nil, fmt.Errorf("hdfproxy: datatype %s: %w", dt, ErrUnsupportedDatatype)
	}
	return c, nil
}

// -----------------------------------------------------------------------------
// Mapping
// -----------------------------------------------------------------------------

// SizeOf returns the size in bytes of one source element of dt, or 0 when dt
// is outside the mapping. INT16/UINT16 count as 2 bytes even though they
// travel widened.
func SizeOf(dt Datatype) int {
	c, err := lookup(dt)
	if err != nil {
		return 0
	}
	return c.size()
}

// TransportTypeOf returns the wire packing used for dt.
func TransportTypeOf(dt Datatype) TransportType {
	c, err := lookup(dt)
	if err != nil {
		return TransportUnknown
	}
	return c.transport()
}

// DatatypeOf maps a transport type back to a datatype. Unmapped transport
// types resolve to Unknown.
func DatatypeOf(tt TransportType) Datatype {
	switch tt {
	case TransportBytes, TransportBool:
		return Int8
	case TransportInt32:
		return Int32
	case TransportInt64:
		return Int64
	case TransportFloat:
		return Float
	case TransportDouble:
		return Double
	default:
		return Unknown
	}
}

// -----------------------------------------------------------------------------
// Encode / Decode
// -----------------------------------------------------------------------------

// Encode copies the first n elements of values into a tagged payload.
//
// values must be the Go slice type matching dt ([]int8 for Int8, []uint16
// for Uint16, []float64 for Double, ...). An unsupported datatype fails
// before any payload is built.
func Encode(dt Datatype, values any, n int) (AnyArray, error) {
	c, err := lookup(dt)
	if err != nil {
		return AnyArray{}, err
	}
	if err := checkValues(c, dt, values, n); err != nil {
		return AnyArray{}, err
	}
	return c.pack(values, n), nil
}

func checkValues(c elementCodec, dt Datatype, values any, n int) error {
	have, ok := c.length(values)
	if !ok {
		return fmt.Errorf("hdfproxy: %T does not hold %s values: %w", values, dt, ErrInvalidArgument)
	}
	if n < 0 || n > have {
		return fmt.Errorf("hdfproxy: need %d %s values, have %d: %w", n, dt, have, ErrInvalidArgument)
	}
	return nil
}

// Decode returns the datatype a payload maps back to and a fresh slice of
// its values: []int8 for bytes and booleans, []int32, []int64, []float32 or
// []float64 otherwise.
func Decode(a AnyArray) (Datatype, any, error) {
	switch a.Type {
	case TransportBytes:
		v := make([]int8, len(a.Bytes))
		for i, b := range a.Bytes {
			v[i] = int8(b)
		}
		return Int8, v, nil
	case TransportBool:
		v := make([]int8, len(a.Bools))
		for i, b := range a.Bools {
			if b {
				v[i] = 1
			}
		}
		return Int8, v, nil
	case TransportInt32:
		v := make([]int32, len(a.Ints))
		copy(v, a.Ints)
		return Int32, v, nil
	case TransportInt64:
		v := make([]int64, len(a.Longs))
		copy(v, a.Longs)
		return Int64, v, nil
	case TransportFloat:
		v := make([]float32, len(a.Floats))
		copy(v, a.Floats)
		return Float, v, nil
	case TransportDouble:
		v := make([]float64, len(a.Doubles))
		copy(v, a.Doubles)
		return Double, v, nil
	default:
		return Unknown, nil, fmt.Errorf("hdfproxy: transport type %s: %w", a.Type, ErrUnsupportedDatatype)
	}
}
