package zarr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Metadata document keys, per the zarr v2 storage spec.
const (
	// KeyGroup marks a group and stores its format version
	KeyGroup = ".zgroup"
	// KeyArray stores the array configuration
	KeyArray = ".zarray"
	// KeyAttrs stores userland attributes
	KeyAttrs = ".zattrs"
)

// Format is the zarr storage format version written by this package.
const Format = 2

// DtypeUint16 is the numpy dtype string for little-endian 16-bit pixels,
// the only dtype the acquisition writers emit.
const DtypeUint16 = "<u2"

// Group is the .zgroup document.
type Group struct {
	ZarrFormat int `json:"zarr_format"`
}

// Attributes is a .zattrs document.
type Attributes map[string]any

// ArrayMeta is the .zarray document: everything needed to interpret the
// chunk blobs stored beside it.
type ArrayMeta struct {
	ZarrFormat int    `json:"zarr_format"`
	Shape      []int  `json:"shape"`
	Chunks     []int  `json:"chunks"`
	Dtype      string `json:"dtype"`
	Compressor any    `json:"compressor"`
	FillValue  any    `json:"fill_value"`
	Order      string `json:"order"`
	Filters    any    `json:"filters"`

	// DimensionSeparator is "." (default) or "/" for nested chunk keys
	DimensionSeparator string `json:"dimension_separator,omitempty"`
}

// NewArrayMeta returns an uncompressed C-order array document for the
// given shape, chunked as single XY planes (all leading dims 1).
func NewArrayMeta(shape []int, sep string) ArrayMeta {
	chunks := make([]int, len(shape))
	for i := range chunks {
		chunks[i] = 1
	}
	if n := len(shape); n >= 2 {
		chunks[n-2] = shape[n-2]
		chunks[n-1] = shape[n-1]
	}
	return ArrayMeta{
		ZarrFormat:         Format,
		Shape:              append([]int(nil), shape...),
		Chunks:             chunks,
		Dtype:              DtypeUint16,
		FillValue:          0,
		Order:              "C",
		DimensionSeparator: sep,
	}
}

// Separator returns the chunk key separator, defaulting to ".".
func (m ArrayMeta) Separator() string {
	if m.DimensionSeparator == "" {
		return "."
	}
	return m.DimensionSeparator
}

// ItemSize returns the per-element byte size encoded in the dtype
// string, e.g. 2 for "<u2".
func (m ArrayMeta) ItemSize() (int, error) {
	d := m.Dtype
	if len(d) < 3 {
		return 0, fmt.Errorf("malformed dtype %q", d)
	}
	var n int
	if _, err := fmt.Sscanf(d[2:], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("malformed dtype %q", d)
	}
	return n, nil
}

// ChunkKey formats a chunk coordinate using the array's separator, e.g.
// [0 1 0 0] -> "0/1/0/0" for nested arrays or "0.1.0.0" for flat ones.
func (m ArrayMeta) ChunkKey(coord []int) string {
	parts := make([]string, len(coord))
	for i, c := range coord {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return strings.Join(parts, m.Separator())
}

// PutJSON pretty-prints v as UTF-8 JSON and stores it at key.
func PutJSON(s Store, key string, v any) error {
	d, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Put(key, d)
}

// GetJSON fetches key and decodes it into v.
func GetJSON(s Store, key string, v any) error {
	d, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(d, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}
