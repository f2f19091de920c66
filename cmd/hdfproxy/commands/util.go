package commands

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
)

// parseShape parses a comma separated extent list such as "10,7".
func parseShape(s string) ([]uint64, error) {
	var dims []uint64
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 63)
		if err != nil {
			return nil, fmt.Errorf("shape %q: %w", s, err)
		}
		dims = append(dims, n)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("shape %q: no dimensions", s)
	}
	return dims, nil
}

func elementCount(dims []uint64) uint64 {
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

func toInt64s(dims []uint64) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		out[i] = int64(d)
	}
	return out
}

// makeValues allocates the Go slice holding n elements of dt.
func makeValues(dt hdfproxy.Datatype, n int) (any, error) {
	switch dt {
	case hdfproxy.Int8:
		return make([]int8, n), nil
	case hdfproxy.Uint8:
		return make([]uint8, n), nil
	case hdfproxy.Int16:
		return make([]int16, n), nil
	case hdfproxy.Uint16:
		return make([]uint16, n), nil
	case hdfproxy.Int32:
		return make([]int32, n), nil
	case hdfproxy.Uint32:
		return make([]uint32, n), nil
	case hdfproxy.Int64:
		return make([]int64, n), nil
	case hdfproxy.Uint64:
		return make([]uint64, n), nil
	case hdfproxy.Float:
		return make([]float32, n), nil
	case hdfproxy.Double:
		return make([]float64, n), nil
	default:
		return nil, fmt.Errorf("datatype %s: %w", dt, hdfproxy.ErrUnsupportedDatatype)
	}
}

// readRaw reads n little-endian elements of dt from the file at path. The
// file must hold exactly n elements.
func readRaw(path string, dt hdfproxy.Datatype, n int) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if want := n * hdfproxy.SizeOf(dt); len(data) != want {
		return nil, fmt.Errorf("%s: %d bytes, want %d for %d %s elements", path, len(data), want, n, dt)
	}
	values, err := makeValues(dt, n)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, values); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return values, nil
}
