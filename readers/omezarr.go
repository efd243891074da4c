package readers

import (
	"fmt"

	"github.com/microscope-io/mdastore/mda"
	"github.com/microscope-io/mdastore/zarr"
)

// OMEZarrReader opens a chunked-group store written by
// writers.OMEZarrWriter.  Selecting the position axis is mandatory:
// positions live in separate sub-arrays and no cross-position
// flattening is attempted.
type OMEZarrReader struct {
	store     zarr.Store
	seq       *mda.Sequence
	attrs     zarr.Attributes
	positions []string
}

var _ Reader = (*OMEZarrReader)(nil)

// groupDoc is the subset of the group attributes the reader needs.
type groupDoc struct {
	Multiscales []struct {
		Name     string `json:"name"`
		Datasets []struct {
			Path string `json:"path"`
		} `json:"datasets"`
	} `json:"multiscales"`
	Sequence *mda.Sequence `json:"useq_MDASequence"`
}

// arrayDoc is the subset of an array's attributes the reader needs.
type arrayDoc struct {
	Dims      []string        `json:"_ARRAY_DIMENSIONS"`
	FrameMeta []mda.FrameMeta `json:"frame_meta"`
}

// OpenOMEZarr opens the group rooted at path.
func OpenOMEZarr(path string) (*OMEZarrReader, error) {
	st, err := zarr.NewDirStore(path)
	if err != nil {
		return nil, err
	}
	return NewOMEZarrReader(st)
}

// NewOMEZarrReader opens an already-open store handle.  A reader
// opened this way is equivalent to one opened by path.
func NewOMEZarrReader(store zarr.Store) (*OMEZarrReader, error) {
	var grp zarr.Group
	if err := zarr.GetJSON(store, zarr.KeyGroup, &grp); err != nil {
		return nil, fmt.Errorf("%w: no %s (%v)", ErrUnrecognized, zarr.KeyGroup, err)
	}
	var doc groupDoc
	if err := zarr.GetJSON(store, zarr.KeyAttrs, &doc); err != nil {
		return nil, fmt.Errorf("%w: no %s (%v)", ErrUnrecognized, zarr.KeyAttrs, err)
	}
	if doc.Sequence == nil || len(doc.Multiscales) == 0 {
		return nil, fmt.Errorf("%w: missing sequence or multiscales attributes", ErrUnrecognized)
	}
	positions := make([]string, len(doc.Multiscales))
	for i, m := range doc.Multiscales {
		if len(m.Datasets) == 0 {
			return nil, fmt.Errorf("%w: multiscales entry %d has no datasets", ErrUnrecognized, i)
		}
		positions[i] = m.Datasets[0].Path
	}
	var attrs zarr.Attributes
	if err := zarr.GetJSON(store, zarr.KeyAttrs, &attrs); err != nil {
		return nil, err
	}
	return &OMEZarrReader{store: store, seq: doc.Sequence, attrs: attrs, positions: positions}, nil
}

// Store returns the underlying store handle.
func (r *OMEZarrReader) Store() zarr.Store { return r.store }

// Path implements Reader.
func (r *OMEZarrReader) Path() string { return r.store.Path() }

// Sequence implements Reader.
func (r *OMEZarrReader) Sequence() *mda.Sequence { return r.seq }

// Axes implements Reader.
func (r *OMEZarrReader) Axes() []string { return r.seq.Axes() }

// Sizes implements Reader.
func (r *OMEZarrReader) Sizes() map[string]int {
	out := map[string]int{}
	for _, a := range r.seq.AxisOrder {
		out[a] = r.seq.SizeOf(a)
	}
	return out
}

// Metadata returns the raw group attributes.
func (r *OMEZarrReader) Metadata() zarr.Attributes { return r.attrs }

// Positions returns the sub-array keys in acquisition order.
func (r *OMEZarrReader) Positions() []string { return r.positions }

// Isel implements Reader.
func (r *OMEZarrReader) Isel(sels ...map[string]int) (*Slab, error) {
	slab, _, err := r.isel(Merge(sels...), false)
	return slab, err
}

// IselMeta implements Reader.
func (r *OMEZarrReader) IselMeta(sels ...map[string]int) (*Slab, []mda.FrameMeta, error) {
	return r.isel(Merge(sels...), true)
}

func (r *OMEZarrReader) isel(sel map[string]int, wantMeta bool) (*Slab, []mda.FrameMeta, error) {
	for a := range sel {
		if !r.seq.HasAxis(a) {
			return nil, nil, &AxisError{Axis: a}
		}
	}
	p, ok := sel["p"]
	if !ok {
		return nil, nil, &AxisError{Axis: "p", Missing: true}
	}
	if p < 0 || p >= len(r.positions) {
		return nil, nil, fmt.Errorf("position %d out of range (%d positions)", p, len(r.positions))
	}
	key := r.positions[p]

	var meta zarr.ArrayMeta
	if err := zarr.GetJSON(r.store, key+"/"+zarr.KeyArray, &meta); err != nil {
		return nil, nil, err
	}
	var doc arrayDoc
	if err := zarr.GetJSON(r.store, key+"/"+zarr.KeyAttrs, &doc); err != nil {
		return nil, nil, err
	}

	nd := len(meta.Shape)
	if nd < 2 || len(doc.Dims) != nd {
		return nil, nil, fmt.Errorf("array %s: %d dimension labels for %d-d shape", key, len(doc.Dims), nd)
	}
	h, wid := meta.Shape[nd-2], meta.Shape[nd-1]
	plane := h * wid
	dims := doc.Dims[:nd-2] // axis names for the leading dims

	// free axes keep declared order; fixed axes are dropped
	var freeAxes []string
	var freeShape []int
	for i, a := range dims {
		if _, fixed := sel[a]; !fixed {
			freeAxes = append(freeAxes, a)
			freeShape = append(freeShape, meta.Shape[i])
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
		for _, a := range dims {
			if v, fixed := sel[a]; fixed {
				coord = append(coord, v)
			} else {
				coord = append(coord, fc[fi])
				fi++
			}
		}
		coord = append(coord, 0, 0)
		plane16, err := r.readPlane(key, meta, coord, plane)
		if err != nil {
			return nil, nil, err
		}
		pix = append(pix, plane16...)
	}

	slab := &Slab{
		Axes:  append(append([]string(nil), freeAxes...), "y", "x"),
		Shape: append(append([]int(nil), freeShape...), h, wid),
		Pix:   pix,
	}
	if !wantMeta {
		return slab, nil, nil
	}

	sub := map[string]int{}
	for a, v := range sel {
		if a != "p" {
			sub[a] = v
		}
	}
	var metas []mda.FrameMeta
	for _, m := range doc.FrameMeta {
		if matchesSelector(m, sub) {
			metas = append(metas, m)
		}
	}
	return slab, metas, nil
}

// readPlane fetches one XY chunk, zero-filling chunks a canceled run
// never wrote.
func (r *OMEZarrReader) readPlane(key string, meta zarr.ArrayMeta, coord []int, plane int) ([]uint16, error) {
	d, err := r.store.Get(key + "/" + meta.ChunkKey(coord))
	if err != nil {
		if isNotFound(err) {
			return make([]uint16, plane), nil
		}
		return nil, err
	}
	return zarr.DecodeUint16(d)
}

// WriteTIFF implements Reader.  The chunked-group format always needs
// a position in the selector, so an empty selector fails the same way
// Isel does.
func (r *OMEZarrReader) WriteTIFF(dest string, sels ...map[string]int) error {
	slab, metas, err := r.IselMeta(sels...)
	if err != nil {
		return err
	}
	return writeSlabTIFF(dest, slab, r.seq, metas)
}
