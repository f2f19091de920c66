package hdfproxy

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		dt     Datatype
		values any
	}{
		{Int8, []int8{-128, -1, 0, 1, 127}},
		{Int32, []int32{math.MinInt32, -1, 0, math.MaxInt32}},
		{Int64, []int64{math.MinInt64, 0, math.MaxInt64}},
		{Float, []float32{-1.5, 0, 3.25}},
		{Double, []float64{math.Inf(-1), -0.5, 0, 1e300}},
	}
	for _, tt := range tests {
		t.Run(tt.dt.String(), func(t *testing.T) {
			n := reflect.ValueOf(tt.values).Len()
			a, err := Encode(tt.dt, tt.values, n)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if a.Type != TransportTypeOf(tt.dt) {
				t.Errorf("transport = %s, want %s", a.Type, TransportTypeOf(tt.dt))
			}
			if a.Len() != n {
				t.Errorf("Len() = %d, want %d", a.Len(), n)
			}
			dt, got, err := Decode(a)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if dt != tt.dt {
				t.Errorf("decoded datatype = %s, want %s", dt, tt.dt)
			}
			if !reflect.DeepEqual(got, tt.values) {
				t.Errorf("decoded %v, want %v", got, tt.values)
			}
		})
	}
}

func TestEncode_Widening(t *testing.T) {
	tests := []struct {
		name   string
		dt     Datatype
		values any
		want   []int32
	}{
		{"int16 sign kept", Int16, []int16{-32768, -5, 32767}, []int32{-32768, -5, 32767}},
		{"uint16 value kept", Uint16, []uint16{0, 40000, 65535}, []int32{0, 40000, 65535}},
		{"uint32 bit pattern", Uint32, []uint32{1, math.MaxUint32}, []int32{1, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Encode(tt.dt, tt.values, len(tt.want))
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if a.Type != TransportInt32 {
				t.Fatalf("transport = %s, want arrayOfInt", a.Type)
			}
			if !reflect.DeepEqual(a.Ints, tt.want) {
				t.Errorf("Ints = %v, want %v", a.Ints, tt.want)
			}
		})
	}
}

func TestEncode_UnsignedBytesAndLongs(t *testing.T) {
	a, err := Encode(Uint8, []uint8{0, 200, 255}, 3)
	if err != nil {
		t.Fatalf("Encode UINT8: %v", err)
	}
	if !reflect.DeepEqual(a.Bytes, []byte{0, 200, 255}) {
		t.Errorf("Bytes = %v", a.Bytes)
	}

	a, err = Encode(Uint64, []uint64{math.MaxUint64}, 1)
	if err != nil {
		t.Fatalf("Encode UINT64: %v", err)
	}
	if a.Type != TransportInt64 || a.Longs[0] != -1 {
		t.Errorf("got %s %v, want arrayOfLong [-1]", a.Type, a.Longs)
	}
}

func TestEncode_PrefixOnly(t *testing.T) {
	a, err := Encode(Double, []float64{1, 2, 3, 4}, 2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !reflect.DeepEqual(a.Doubles, []float64{1, 2}) {
		t.Errorf("Doubles = %v, want [1 2]", a.Doubles)
	}
}

func TestEncode_UnsupportedDatatype(t *testing.T) {
	for _, dt := range []Datatype{Unknown, Datatype(99), Datatype(-1)} {
		_, err := Encode(dt, []int8{1}, 1)
		if !errors.Is(err, ErrUnsupportedDatatype) {
			t.Errorf("Encode(%d): expected ErrUnsupportedDatatype, got %v", dt, err)
		}
	}
}

func TestEncode_InvalidValues(t *testing.T) {
	if _, err := Encode(Double, []float32{1}, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("type mismatch: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := Encode(Int32, []int32{1, 2}, 3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("short slice: expected ErrInvalidArgument, got %v", err)
	}
}

func TestDecode_BooleansMapToInt8(t *testing.T) {
	dt, got, err := Decode(AnyArray{Type: TransportBool, Bools: []bool{true, false, true}})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dt != Int8 {
		t.Errorf("datatype = %s, want INT8", dt)
	}
	if !reflect.DeepEqual(got, []int8{1, 0, 1}) {
		t.Errorf("values = %v, want [1 0 1]", got)
	}
}

func TestDecode_UnknownTransport(t *testing.T) {
	if _, _, err := Decode(AnyArray{}); !errors.Is(err, ErrUnsupportedDatatype) {
		t.Errorf("expected ErrUnsupportedDatatype, got %v", err)
	}
}

func TestSizeOf(t *testing.T) {
	want := map[Datatype]int{
		Int8: 1, Uint8: 1, Int16: 2, Uint16: 2, Int32: 4, Uint32: 4,
		Int64: 8, Uint64: 8, Float: 4, Double: 8, Unknown: 0,
	}
	for dt, size := range want {
		if got := SizeOf(dt); got != size {
			t.Errorf("SizeOf(%s) = %d, want %d", dt, got, size)
		}
	}
}

func TestDatatypeOf(t *testing.T) {
	want := map[TransportType]Datatype{
		TransportBytes:    Int8,
		TransportBool:     Int8,
		TransportInt32:    Int32,
		TransportInt64:    Int64,
		TransportFloat:    Float,
		TransportDouble:   Double,
		TransportUnknown:  Unknown,
		TransportType(42): Unknown,
	}
	for tt, dt := range want {
		if got := DatatypeOf(tt); got != dt {
			t.Errorf("DatatypeOf(%s) = %s, want %s", tt, got, dt)
		}
	}
}

func TestParseDatatype(t *testing.T) {
	for _, s := range []string{"DOUBLE", "double", "Double"} {
		dt, err := ParseDatatype(s)
		if err != nil || dt != Double {
			t.Errorf("ParseDatatype(%q) = %s, %v", s, dt, err)
		}
	}
	if _, err := ParseDatatype("complex"); !errors.Is(err, ErrUnsupportedDatatype) {
		t.Errorf("expected ErrUnsupportedDatatype, got %v", err)
	}
	if _, err := ParseDatatype("UNKNOWN"); !errors.Is(err, ErrUnsupportedDatatype) {
		t.Errorf("UNKNOWN must not parse, got %v", err)
	}
}
