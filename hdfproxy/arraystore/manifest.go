package arraystore

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
)

const (
	manifestSchemaName    = "hdfproxy-array"
	manifestFormatVersion = "1.0.0"

	manifestFile = "_manifest.json"
	blocksDir    = "_blocks"
)

// Manifest describes one declared array. It is written once, when the array
// is declared, and never rewritten; written boxes are tracked as block
// objects next to it.
type Manifest struct {
	SchemaName     string                 `json:"schema_name"`
	FormatVersion  string                 `json:"format_version"`
	URI            string                 `json:"uri"`
	PathInResource string                 `json:"path_in_resource"`
	Dimensions     []int64                `json:"dimensions"`
	TransportType  hdfproxy.TransportType `json:"transport_type"`
	Codec          string                 `json:"codec"`
	Compressor     string                 `json:"compressor"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Elements returns the total element count of the array.
func (m *Manifest) Elements() int64 {
	return hdfproxy.Box{Counts: m.Dimensions}.Elements()
}

// BlockRef points at one written box of an array.
type BlockRef struct {
	hdfproxy.Box
	Path string
}

// Coverage reports how many elements of an array have been written.
type Coverage struct {
	Written int64
	Total   int64
}

// Complete reports whether every element has been written.
func (c Coverage) Complete() bool {
	return c.Total > 0 && c.Written == c.Total
}

// -----------------------------------------------------------------------------
// Paths
// -----------------------------------------------------------------------------

// arrayPrefix returns the storage prefix of an array:
// arrays/<escaped uri>/<path in resource>/
func arrayPrefix(id hdfproxy.ArrayIdentifier) string {
	p := strings.TrimPrefix(path.Clean("/"+id.PathInResource), "/")
	if p == "" {
		return "arrays/" + url.PathEscape(id.URI) + "/"
	}
	return "arrays/" + url.PathEscape(id.URI) + "/" + p + "/"
}

func manifestPath(id hdfproxy.ArrayIdentifier) string {
	return arrayPrefix(id) + manifestFile
}

func blocksPrefix(id hdfproxy.ArrayIdentifier) string {
	return arrayPrefix(id) + blocksDir + "/"
}

// blockPath names a block after its box: <starts>_<counts>.<codec><ext>,
// with coordinates joined by '-'.
func blockPath(id hdfproxy.ArrayIdentifier, box hdfproxy.Box, codec, ext string) string {
	return blocksPrefix(id) + joinCoords(box.Starts) + "_" + joinCoords(box.Counts) + "." + codec + ext
}

func joinCoords(v []int64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatInt(x, 10)
	}
	return strings.Join(parts, "-")
}

// parseBlockPath recovers the box from a block path. It reports false for
// paths that are not block objects.
func parseBlockPath(p string) (hdfproxy.Box, bool) {
	name := path.Base(p)
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		name = name[:dot]
	}
	startsPart, countsPart, ok := strings.Cut(name, "_")
	if !ok {
		return hdfproxy.Box{}, false
	}
	starts, ok := splitCoords(startsPart)
	if !ok {
		return hdfproxy.Box{}, false
	}
	counts, ok := splitCoords(countsPart)
	if !ok || len(counts) != len(starts) {
		return hdfproxy.Box{}, false
	}
	return hdfproxy.Box{Starts: starts, Counts: counts}, true
}

func splitCoords(s string) ([]int64, bool) {
	if s == "" {
		return nil, false
	}
	parts := strings.Split(s, "-")
	out := make([]int64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

type manifestValidationError struct {
	Field   string
	Message string
}

func (e *manifestValidationError) Error() string {
	return fmt.Sprintf("invalid manifest: %s: %s", e.Field, e.Message)
}

func (e *manifestValidationError) Unwrap() error {
	return ErrManifestInvalid
}

func validateManifest(m *Manifest) error {
	if m == nil {
		return &manifestValidationError{Field: "manifest", Message: "is nil"}
	}
	if m.SchemaName != manifestSchemaName {
		return &manifestValidationError{Field: "schema_name", Message: fmt.Sprintf("unexpected %q", m.SchemaName)}
	}
	if m.FormatVersion == "" {
		return &manifestValidationError{Field: "format_version", Message: "is required"}
	}
	if m.URI == "" {
		return &manifestValidationError{Field: "uri", Message: "is required"}
	}
	if len(m.Dimensions) == 0 {
		return &manifestValidationError{Field: "dimensions", Message: "must not be empty"}
	}
	for i, d := range m.Dimensions {
		if d < 0 {
			return &manifestValidationError{
				Field:   fmt.Sprintf("dimensions[%d]", i),
				Message: "must be non-negative",
			}
		}
	}
	if _, ok := hdfproxy.ElementCount(m.Dimensions); !ok {
		return &manifestValidationError{Field: "dimensions", Message: "element count overflows int64"}
	}
	if m.TransportType == hdfproxy.TransportUnknown {
		return &manifestValidationError{Field: "transport_type", Message: "is required"}
	}
	if m.Codec == "" {
		return &manifestValidationError{Field: "codec", Message: "is required"}
	}
	if m.CreatedAt.IsZero() {
		return &manifestValidationError{Field: "created_at", Message: "is required"}
	}
	return nil
}

// validateBox checks that box lies inside dims.
func validateBox(dims []int64, box hdfproxy.Box) error {
	if len(box.Starts) != len(dims) || len(box.Counts) != len(dims) {
		return fmt.Errorf("box has rank %d/%d, array has rank %d", len(box.Starts), len(box.Counts), len(dims))
	}
	for i := range dims {
		if box.Starts[i] < 0 || box.Counts[i] <= 0 || box.Counts[i] > dims[i]-box.Starts[i] {
			return fmt.Errorf("dimension %d: [%d, +%d) outside extent %d", i, box.Starts[i], box.Counts[i], dims[i])
		}
	}
	return nil
}

// boxesOverlap reports whether two boxes of the same rank intersect. Boxes
// overlap iff their ranges intersect in every dimension.
func boxesOverlap(a, b hdfproxy.Box) bool {
	for i := range a.Starts {
		if a.Starts[i] >= b.Starts[i]+b.Counts[i] || b.Starts[i] >= a.Starts[i]+a.Counts[i] {
			return false
		}
	}
	return true
}

func validateNoOverlap(blocks []BlockRef, box hdfproxy.Box) error {
	for _, b := range blocks {
		if boxesOverlap(b.Box, box) {
			return fmt.Errorf("%w: box %v+%v intersects %v+%v", ErrOverlappingBlocks, box.Starts, box.Counts, b.Starts, b.Counts)
		}
	}
	return nil
}
