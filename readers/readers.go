// Package readers opens stores persisted by the writers package and
// provides random access to them: shape and metadata introspection,
// arbitrary-axis slicing (Isel), and re-export of any slice as a flat
// multi-page TIFF with JSON sidecars.
//
// Readers are independent of writers: they open a finalized store by
// path or by an already-open store handle.  Opening a store that a
// writer is still feeding is unsupported.
package readers

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/microscope-io/mdastore/mda"
	"github.com/microscope-io/mdastore/tiff"
	"github.com/microscope-io/mdastore/zarr"
)

// ErrUnrecognized is returned at open time when a store lacks the
// expected format markers.  A reader is never left partially open.
var ErrUnrecognized = errors.New("store is not a recognized acquisition dataset")

// AxisError reports a selector problem: an axis the sequence never
// declared, or a required axis the selector omitted.
type AxisError struct {
	Axis string

	// Missing is true when the axis was required but not selected
	Missing bool
}

func (e *AxisError) Error() string {
	if e.Missing {
		return fmt.Sprintf("selector must fix axis %q for this format", e.Axis)
	}
	return fmt.Sprintf("axis %q is not among the sequence axes", e.Axis)
}

// Slab is the result of an Isel call: the remaining axes in declared
// order (ending in y, x), their extents, and the row-major pixels.
type Slab struct {
	Axes  []string
	Shape []int
	Pix   []uint16
}

// Pages returns the number of XY planes in the slab.
func (s *Slab) Pages() int {
	n := 1
	for _, d := range s.Shape[:len(s.Shape)-2] {
		n *= d
	}
	return n
}

// A Reader provides random access to one persisted acquisition.
type Reader interface {
	// Sequence returns the persisted acquisition plan
	Sequence() *mda.Sequence

	// Axes returns the declared axis order
	Axes() []string

	// Sizes returns the extent of each declared axis
	Sizes() map[string]int

	// Path identifies the underlying store
	Path() string

	// Isel slices along the fixed axes of the merged selector
	Isel(sels ...map[string]int) (*Slab, error)

	// IselMeta additionally returns the matching frame metadata
	IselMeta(sels ...map[string]int) (*Slab, []mda.FrameMeta, error)

	// WriteTIFF materializes an Isel result as a multi-page TIFF plus
	// a JSON sidecar
	WriteTIFF(dest string, sels ...map[string]int) error
}

// Merge combines partial selectors; later maps win on conflicts.  This
// is how selector-plus-overrides calls compose.
func Merge(sels ...map[string]int) map[string]int {
	out := map[string]int{}
	for _, sel := range sels {
		for k, v := range sel {
			out[k] = v
		}
	}
	return out
}

// isNotFound unwraps store misses so readers can zero-fill chunks a
// canceled run never wrote.
func isNotFound(err error) bool {
	return errors.Is(err, zarr.ErrNotFound)
}

// freeCoord decodes the n-th row-major coordinate of a shape.
func freeCoord(shape []int, n int) []int {
	coord := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] > 0 {
			coord[i] = n % shape[i]
			n /= shape[i]
		}
	}
	return coord
}

// matchesSelector reports whether a frame's event index agrees with
// every axis the selector fixes.
func matchesSelector(m mda.FrameMeta, sel map[string]int) bool {
	if m.Event == nil {
		return len(sel) == 0
	}
	for a, v := range sel {
		if m.Event.Index[a] != v {
			return false
		}
	}
	return true
}

// tiffSidecar is the JSON document written beside a TIFF export.
type tiffSidecar struct {
	Sequence   *mda.Sequence   `json:"useq_MDASequence"`
	FrameMetas []mda.FrameMeta `json:"frame_metadatas"`
}

// writeSlabTIFF writes one slab to base as a multi-page TIFF plus its
// sidecar.  base keeps its extension when it already has a TIFF one,
// otherwise ".tiff" is appended; the sidecar swaps it for ".json".
func writeSlabTIFF(base string, slab *Slab, seq *mda.Sequence, metas []mda.FrameMeta) error {
	ext := filepath.Ext(base)
	if ext != ".tif" && ext != ".tiff" {
		base += ".tiff"
		ext = ".tiff"
	}
	if err := os.MkdirAll(filepath.Dir(base), 0o777); err != nil {
		return err
	}

	f, err := os.Create(base)
	if err != nil {
		return err
	}
	defer f.Close()

	w := tiff.NewWriter(f)
	n := len(slab.Shape)
	h, wid := slab.Shape[n-2], slab.Shape[n-1]
	plane := h * wid
	for i := 0; i < slab.Pages(); i++ {
		if err := w.AppendGray16(slab.Pix[i*plane:(i+1)*plane], wid, h); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	side := tiffSidecar{Sequence: mda.SanitizeSequence(seq), FrameMetas: metas}
	return writeJSON(strings.TrimSuffix(base, ext)+".json", side)
}

func writeJSON(path string, v any) error {
	d, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, d, 0o666)
}
