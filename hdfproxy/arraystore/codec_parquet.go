package arraystore

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
)

// parquetColumns names the single column of a block file per transport type.
// The column name is how Decode recovers the transport type.
var parquetColumns = map[hdfproxy.TransportType]string{
	hdfproxy.TransportBytes:  "bytes",
	hdfproxy.TransportBool:   "bools",
	hdfproxy.TransportInt32:  "ints",
	hdfproxy.TransportInt64:  "longs",
	hdfproxy.TransportFloat:  "floats",
	hdfproxy.TransportDouble: "doubles",
}

// parquetCodec stores a block as a one-column parquet file, one row per
// element in row-major order.
type parquetCodec struct {
	compression parquet.WriterOption
}

// NewParquetCodec creates a parquet block codec with snappy page compression.
func NewParquetCodec() BlockCodec {
	return parquetCodec{compression: parquet.Compression(&parquet.Snappy)}
}

func (parquetCodec) Name() string { return "parquet" }

func (c parquetCodec) Encode(w io.Writer, data hdfproxy.AnyArray) error {
	column, ok := parquetColumns[data.Type]
	if !ok {
		return fmt.Errorf("parquet: transport type %s: %w", data.Type, hdfproxy.ErrUnsupportedDatatype)
	}
	schema := parquet.NewSchema("block", parquet.Group{column: parquetNode(data.Type)})

	rowBuf := parquet.NewBuffer(schema)
	rows := make([]parquet.Row, 0, data.Len())
	for i := range data.Len() {
		rows = append(rows, parquet.Row{parquetValue(data, i).Level(0, 0, 0)})
	}
	if _, err := rowBuf.WriteRows(rows); err != nil {
		return fmt.Errorf("parquet: write rows: %w", err)
	}

	var buf bytes.Buffer
	pqWriter := parquet.NewWriter(&buf, schema, c.compression)
	if _, err := pqWriter.WriteRowGroup(rowBuf); err != nil {
		_ = pqWriter.Close()
		return fmt.Errorf("parquet: write row group: %w", err)
	}
	if err := pqWriter.Close(); err != nil {
		return fmt.Errorf("parquet: close writer: %w", err)
	}
	_, err := io.Copy(w, &buf)
	return err
}

func (parquetCodec) Decode(r io.Reader) (hdfproxy.AnyArray, error) {
	// parquet needs random access to the footer.
	data, err := io.ReadAll(r)
	if err != nil {
		return hdfproxy.AnyArray{}, fmt.Errorf("parquet: read file: %w", err)
	}
	if len(data) == 0 {
		return hdfproxy.AnyArray{}, ErrInvalidFormat
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return hdfproxy.AnyArray{}, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	fields := file.Schema().Fields()
	if len(fields) != 1 {
		return hdfproxy.AnyArray{}, fmt.Errorf("%w: expected one column, got %d", ErrInvalidFormat, len(fields))
	}
	tt, ok := transportForColumn(fields[0].Name())
	if !ok {
		return hdfproxy.AnyArray{}, fmt.Errorf("%w: unknown column %q", ErrInvalidFormat, fields[0].Name())
	}

	out := hdfproxy.AnyArray{Type: tt}
	reader := parquet.NewReader(file)
	defer func() { _ = reader.Close() }()

	rows := make([]parquet.Row, 256)
	for {
		n, err := reader.ReadRows(rows)
		for _, row := range rows[:n] {
			if len(row) != 1 {
				return hdfproxy.AnyArray{}, fmt.Errorf("%w: row width %d", ErrInvalidFormat, len(row))
			}
			appendParquetValue(&out, row[0])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return hdfproxy.AnyArray{}, fmt.Errorf("%w: read rows: %w", ErrInvalidFormat, err)
		}
	}
	return out, nil
}

func transportForColumn(name string) (hdfproxy.TransportType, bool) {
	for tt, column := range parquetColumns {
		if column == name {
			return tt, true
		}
	}
	return hdfproxy.TransportUnknown, false
}

func parquetNode(tt hdfproxy.TransportType) parquet.Node {
	switch tt {
	case hdfproxy.TransportBool:
		return parquet.Leaf(parquet.BooleanType)
	case hdfproxy.TransportInt64:
		return parquet.Int(64)
	case hdfproxy.TransportFloat:
		return parquet.Leaf(parquet.FloatType)
	case hdfproxy.TransportDouble:
		return parquet.Leaf(parquet.DoubleType)
	default:
		// Bytes travel in an int32 column; parquet has no 8 bit physical type.
		return parquet.Int(32)
	}
}

func parquetValue(data hdfproxy.AnyArray, i int) parquet.Value {
	switch data.Type {
	case hdfproxy.TransportBytes:
		return parquet.Int32Value(int32(int8(data.Bytes[i])))
	case hdfproxy.TransportBool:
		return parquet.BooleanValue(data.Bools[i])
	case hdfproxy.TransportInt32:
		return parquet.Int32Value(data.Ints[i])
	case hdfproxy.TransportInt64:
		return parquet.Int64Value(data.Longs[i])
	case hdfproxy.TransportFloat:
		return parquet.FloatValue(data.Floats[i])
	default:
		return parquet.DoubleValue(data.Doubles[i])
	}
}

func appendParquetValue(out *hdfproxy.AnyArray, v parquet.Value) {
	switch out.Type {
	case hdfproxy.TransportBytes:
		out.Bytes = append(out.Bytes, byte(int8(v.Int32())))
	case hdfproxy.TransportBool:
		out.Bools = append(out.Bools, v.Boolean())
	case hdfproxy.TransportInt32:
		out.Ints = append(out.Ints, v.Int32())
	case hdfproxy.TransportInt64:
		out.Longs = append(out.Longs, v.Int64())
	case hdfproxy.TransportFloat:
		out.Floats = append(out.Floats, v.Float())
	case hdfproxy.TransportDouble:
		out.Doubles = append(out.Doubles, v.Double())
	}
}
