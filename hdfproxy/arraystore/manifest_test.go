package arraystore

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
)

func TestBlockPath_ParsesBack(t *testing.T) {
	id := hdfproxy.BuildIdentifier("eml:///dataspace('d')/obj(1)", "/g/values")
	box := hdfproxy.Box{Starts: []int64{0, 12, 3}, Counts: []int64{4, 5, 6}}

	p := blockPath(id, box, "parquet", ".zst")
	if !strings.HasPrefix(p, blocksPrefix(id)) {
		t.Fatalf("block path %q outside %q", p, blocksPrefix(id))
	}
	if !strings.HasSuffix(p, "/0-12-3_4-5-6.parquet.zst") {
		t.Errorf("block path = %q", p)
	}

	got, ok := parseBlockPath(p)
	if !ok {
		t.Fatalf("parseBlockPath(%q) failed", p)
	}
	if !slices.Equal(got.Starts, box.Starts) || !slices.Equal(got.Counts, box.Counts) {
		t.Errorf("parsed %+v, want %+v", got, box)
	}
}

func TestParseBlockPath_Rejects(t *testing.T) {
	for _, p := range []string{
		"arrays/u/g/_blocks/notablock.msgpack",
		"arrays/u/g/_blocks/1-2_3.msgpack",
		"arrays/u/g/_blocks/a_b.msgpack",
		"arrays/u/g/_blocks/_1.msgpack",
	} {
		if _, ok := parseBlockPath(p); ok {
			t.Errorf("parseBlockPath(%q) accepted", p)
		}
	}
}

func TestArrayPrefix(t *testing.T) {
	tests := []struct {
		id   hdfproxy.ArrayIdentifier
		want string
	}{
		{hdfproxy.BuildIdentifier("eml:///r", "/g/x"), "arrays/eml:%2F%2F%2Fr/g/x/"},
		{hdfproxy.BuildIdentifier("eml:///r", "g/x/"), "arrays/eml:%2F%2F%2Fr/g/x/"},
		{hdfproxy.BuildIdentifier("eml:///r", "/../x"), "arrays/eml:%2F%2F%2Fr/x/"},
		{hdfproxy.BuildIdentifier("eml:///r", ""), "arrays/eml:%2F%2F%2Fr/"},
	}
	for _, tt := range tests {
		if got := arrayPrefix(tt.id); got != tt.want {
			t.Errorf("arrayPrefix(%+v) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestBoxesOverlap(t *testing.T) {
	box := func(starts, counts []int64) hdfproxy.Box { return hdfproxy.Box{Starts: starts, Counts: counts} }
	tests := []struct {
		name string
		a, b hdfproxy.Box
		want bool
	}{
		{"adjacent rows", box([]int64{0, 0}, []int64{2, 4}), box([]int64{2, 0}, []int64{2, 4}), false},
		{"adjacent columns", box([]int64{0, 0}, []int64{4, 2}), box([]int64{0, 2}, []int64{4, 2}), false},
		{"corner", box([]int64{0, 0}, []int64{2, 2}), box([]int64{1, 1}, []int64{2, 2}), true},
		{"contained", box([]int64{0, 0}, []int64{4, 4}), box([]int64{1, 1}, []int64{1, 1}), true},
		{"one axis only", box([]int64{0, 0}, []int64{4, 1}), box([]int64{2, 3}, []int64{1, 1}), false},
	}
	for _, tt := range tests {
		if got := boxesOverlap(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: overlap = %v, want %v", tt.name, got, tt.want)
		}
		if got := boxesOverlap(tt.b, tt.a); got != tt.want {
			t.Errorf("%s (swapped): overlap = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestValidateBox(t *testing.T) {
	dims := []int64{4, 6}
	ok := hdfproxy.Box{Starts: []int64{2, 3}, Counts: []int64{2, 3}}
	if err := validateBox(dims, ok); err != nil {
		t.Errorf("in-bounds box rejected: %v", err)
	}
	for name, b := range map[string]hdfproxy.Box{
		"rank":     {Starts: []int64{0}, Counts: []int64{1}},
		"past end": {Starts: []int64{3, 0}, Counts: []int64{2, 1}},
		"negative": {Starts: []int64{-1, 0}, Counts: []int64{1, 1}},
		"empty":    {Starts: []int64{0, 0}, Counts: []int64{0, 1}},
	} {
		if err := validateBox(dims, b); err == nil {
			t.Errorf("%s: box %+v accepted", name, b)
		}
	}
}

func TestValidateManifest(t *testing.T) {
	valid := func() *Manifest {
		return &Manifest{
			SchemaName:    manifestSchemaName,
			FormatVersion: manifestFormatVersion,
			URI:           "eml:///r",
			Dimensions:    []int64{3},
			TransportType: hdfproxy.TransportDouble,
			Codec:         "msgpack",
			CreatedAt:     time.Now(),
		}
	}
	if err := validateManifest(valid()); err != nil {
		t.Fatalf("valid manifest rejected: %v", err)
	}

	tests := map[string]func(m *Manifest){
		"schema_name":    func(m *Manifest) { m.SchemaName = "other" },
		"uri":            func(m *Manifest) { m.URI = "" },
		"dimensions":     func(m *Manifest) { m.Dimensions = nil },
		"dimensions[0]":  func(m *Manifest) { m.Dimensions = []int64{-1} },
		"transport_type": func(m *Manifest) { m.TransportType = hdfproxy.TransportUnknown },
		"created_at":     func(m *Manifest) { m.CreatedAt = time.Time{} },
	}
	for field, mutate := range tests {
		m := valid()
		mutate(m)
		err := validateManifest(m)
		if !errors.Is(err, ErrManifestInvalid) {
			t.Errorf("%s: expected ErrManifestInvalid, got %v", field, err)
			continue
		}
		var mve *manifestValidationError
		if !errors.As(err, &mve) || mve.Field != field {
			t.Errorf("%s: got field %v", field, err)
		}
	}
}

func TestValidateManifest_ElementCountOverflow(t *testing.T) {
	m := &Manifest{
		SchemaName:    manifestSchemaName,
		FormatVersion: manifestFormatVersion,
		URI:           "eml:///r",
		Dimensions:    []int64{1 << 32, 1 << 32},
		TransportType: hdfproxy.TransportDouble,
		Codec:         "msgpack",
		CreatedAt:     time.Now(),
	}
	var mve *manifestValidationError
	if err := validateManifest(m); !errors.As(err, &mve) || mve.Field != "dimensions" {
		t.Errorf("expected a dimensions validation error, got %v", err)
	}
}
