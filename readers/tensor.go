package readers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/microscope-io/mdastore/mda"
	"github.com/microscope-io/mdastore/writers"
	"github.com/microscope-io/mdastore/zarr"
)

// TensorReader opens a single-tensor store written by
// writers.TensorWriter.  Rectangular runs slice along any declared
// axis; ragged runs carry a frame_indices map in .zattrs which the
// reader inverts to find the flat frame for each selected coordinate.
type TensorReader struct {
	store zarr.Store
	seq   *mda.Sequence
	attrs zarr.Attributes
	meta  zarr.ArrayMeta

	dims    []string
	flat    bool
	entries []writers.FrameIndexEntry
	metas   []mda.FrameMeta
}

var _ Reader = (*TensorReader)(nil)

// tensorDoc is the subset of the root attributes the reader needs.
type tensorDoc struct {
	Sequence   *mda.Sequence             `json:"useq_MDASequence"`
	Dims       []string                  `json:"_ARRAY_DIMENSIONS"`
	FrameMetas []mda.FrameMeta           `json:"frame_metadatas"`
	Indices    []writers.FrameIndexEntry `json:"frame_indices"`
}

// OpenTensor opens the tensor rooted at path.
func OpenTensor(path string) (*TensorReader, error) {
	st, err := zarr.NewDirStore(path)
	if err != nil {
		return nil, err
	}
	return NewTensorReader(st)
}

// NewTensorReader opens an already-open store handle.
func NewTensorReader(store zarr.Store) (*TensorReader, error) {
	var meta zarr.ArrayMeta
	if err := zarr.GetJSON(store, zarr.KeyArray, &meta); err != nil {
		return nil, fmt.Errorf("%w: no %s (%v)", ErrUnrecognized, zarr.KeyArray, err)
	}
	var doc tensorDoc
	if err := zarr.GetJSON(store, zarr.KeyAttrs, &doc); err != nil {
		return nil, fmt.Errorf("%w: no %s (%v)", ErrUnrecognized, zarr.KeyAttrs, err)
	}
	if doc.Sequence == nil {
		return nil, fmt.Errorf("%w: missing sequence attribute", ErrUnrecognized)
	}
	if len(doc.Dims) != len(meta.Shape) {
		return nil, fmt.Errorf("%w: %d dimension labels for %d-d array",
			ErrUnrecognized, len(doc.Dims), len(meta.Shape))
	}
	var attrs zarr.Attributes
	if err := zarr.GetJSON(store, zarr.KeyAttrs, &attrs); err != nil {
		return nil, err
	}
	r := &TensorReader{
		store:   store,
		seq:     doc.Sequence,
		attrs:   attrs,
		meta:    meta,
		dims:    doc.Dims,
		flat:    doc.Dims[0] == "frame",
		entries: doc.Indices,
		metas:   doc.FrameMetas,
	}
	return r, nil
}

// Store returns the underlying store handle.
func (r *TensorReader) Store() zarr.Store { return r.store }

// Path implements Reader.
func (r *TensorReader) Path() string { return r.store.Path() }

// Sequence implements Reader.
func (r *TensorReader) Sequence() *mda.Sequence { return r.seq }

// Axes implements Reader.
func (r *TensorReader) Axes() []string { return r.seq.Axes() }

// Sizes implements Reader.
func (r *TensorReader) Sizes() map[string]int {
	out := map[string]int{}
	for _, a := range r.seq.AxisOrder {
		out[a] = r.seq.SizeOf(a)
	}
	return out
}

// Metadata returns the raw root attributes.
func (r *TensorReader) Metadata() zarr.Attributes { return r.attrs }

// Shape returns the stored array shape.
func (r *TensorReader) Shape() []int {
	return append([]int(nil), r.meta.Shape...)
}

// Isel implements Reader.
func (r *TensorReader) Isel(sels ...map[string]int) (*Slab, error) {
	slab, _, err := r.isel(Merge(sels...), false)
	return slab, err
}

// IselMeta implements Reader.
func (r *TensorReader) IselMeta(sels ...map[string]int) (*Slab, []mda.FrameMeta, error) {
	return r.isel(Merge(sels...), true)
}

func (r *TensorReader) isel(sel map[string]int, wantMeta bool) (*Slab, []mda.FrameMeta, error) {
	for a := range sel {
		if !r.seq.HasAxis(a) {
			return nil, nil, &AxisError{Axis: a}
		}
	}
	var slab *Slab
	var err error
	if r.flat {
		slab, err = r.iselFlat(sel)
	} else {
		slab, err = r.iselND(sel)
	}
	if err != nil || !wantMeta {
		return slab, nil, err
	}
	var metas []mda.FrameMeta
	for _, m := range r.metas {
		if matchesSelector(m, sel) {
			metas = append(metas, m)
		}
	}
	return slab, metas, nil
}

// iselND slices the fully declared shape the way an n-d array slices:
// fixed axes are dropped, free axes keep declared order.
func (r *TensorReader) iselND(sel map[string]int) (*Slab, error) {
	nd := len(r.meta.Shape)
	h, wid := r.meta.Shape[nd-2], r.meta.Shape[nd-1]
	plane := h * wid
	lead := r.dims[:nd-2]

	var freeAxes []string
	var freeShape []int
	for i, a := range lead {
		if _, fixed := sel[a]; !fixed {
			freeAxes = append(freeAxes, a)
			freeShape = append(freeShape, r.meta.Shape[i])
		}
	}

	pages := 1
	for _, n := range freeShape {
		pages *= n
	}
	pix := make([]uint16, 0, pages*plane)
	for n := 0; n < pages; n++ {
		fc := freeCoord(freeShape, n)
		coord := make([]int, 0, nd)
		fi := 0
		for _, a := range lead {
			if v, fixed := sel[a]; fixed {
				coord = append(coord, v)
			} else {
				coord = append(coord, fc[fi])
				fi++
			}
		}
		coord = append(coord, 0, 0)
		plane16, err := r.readPlane(coord, plane)
		if err != nil {
			return nil, err
		}
		pix = append(pix, plane16...)
	}

	return &Slab{
		Axes:  append(append([]string(nil), freeAxes...), "y", "x"),
		Shape: append(append([]int(nil), freeShape...), h, wid),
		Pix:   pix,
	}, nil
}

// iselFlat scans the frame index for entries matching the selector and
// stacks them along a single frame axis in acquisition order.
func (r *TensorReader) iselFlat(sel map[string]int) (*Slab, error) {
	nd := len(r.meta.Shape)
	h, wid := r.meta.Shape[nd-2], r.meta.Shape[nd-1]
	plane := h * wid

	var frames []int
	for _, e := range r.entries {
		if matchesIndex(e.Index, sel) {
			frames = append(frames, e.Frame)
		}
	}

	pix := make([]uint16, 0, len(frames)*plane)
	for _, f := range frames {
		plane16, err := r.readPlane([]int{f, 0, 0}, plane)
		if err != nil {
			return nil, err
		}
		pix = append(pix, plane16...)
	}

	return &Slab{
		Axes:  []string{"frame", "y", "x"},
		Shape: []int{len(frames), h, wid},
		Pix:   pix,
	}, nil
}

func matchesIndex(idx map[string]int, sel map[string]int) bool {
	for a, v := range sel {
		if idx[a] != v {
			return false
		}
	}
	return true
}

// readPlane fetches one XY chunk, zero-filling chunks a canceled run
// never wrote.
func (r *TensorReader) readPlane(coord []int, plane int) ([]uint16, error) {
	d, err := r.store.Get(r.meta.ChunkKey(coord))
	if err != nil {
		if isNotFound(err) {
			return make([]uint16, plane), nil
		}
		return nil, err
	}
	return zarr.DecodeUint16(d)
}

// WriteTIFF implements Reader.  An empty selector on a multi-position
// run exports every position separately: dest becomes a directory
// holding p0.tif, p0.json, p1.tif, ... so that positions with unequal
// page counts never share a stack.
func (r *TensorReader) WriteTIFF(dest string, sels ...map[string]int) error {
	sel := Merge(sels...)
	if len(sel) == 0 && r.seq.HasAxis("p") && r.seq.SizeOf("p") > 1 {
		if err := os.MkdirAll(dest, 0o777); err != nil {
			return err
		}
		for p := 0; p < r.seq.SizeOf("p"); p++ {
			slab, metas, err := r.isel(map[string]int{"p": p}, true)
			if err != nil {
				return err
			}
			base := filepath.Join(dest, fmt.Sprintf("p%d.tif", p))
			if err := writeSlabTIFF(base, slab, r.seq, metas); err != nil {
				return err
			}
		}
		return nil
	}
	slab, metas, err := r.isel(sel, true)
	if err != nil {
		return err
	}
	return writeSlabTIFF(dest, slab, r.seq, metas)
}
