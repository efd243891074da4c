package writers

import (
	"fmt"

	"github.com/microscope-io/mdastore/mda"
	"github.com/microscope-io/mdastore/zarr"
)

// OMEZarrWriter persists a run as a chunked group: one sub-array per
// stage position, nested chunk directories ending in single XY-plane
// chunks, NGFF-style multiscales metadata on the group.
//
// Layout:
//
//	root/
//	├── .zgroup                # {"zarr_format": 2}
//	├── .zattrs                # multiscales + sanitized sequence
//	├── p0/
//	│   ├── .zarray
//	│   ├── .zattrs            # _ARRAY_DIMENSIONS, sequence, frame_meta
//	│   └── t/c/.../y-x chunks
//	└── p<n>/...
//
// Arrays are created lazily on the first frame of each position, since
// the frame dimensions are only known then.
type OMEZarrWriter struct {
	path string
	opts *options

	store      zarr.Store
	seq        *mda.Sequence
	sanitized  *mda.Sequence
	groupAttrs zarr.Attributes

	arrays    map[string]*posArray
	order     []string
	frameMeta map[string][]mda.FrameMeta

	started   bool
	finalized bool
}

type posArray struct {
	meta  zarr.ArrayMeta
	dims  []string
	attrs zarr.Attributes
}

var _ mda.Handler = (*OMEZarrWriter)(nil)

// NewOMEZarr returns a writer targeting path (a directory) or an
// injected store.  The target is validated at SequenceStarted.
func NewOMEZarr(path string, opts ...Option) *OMEZarrWriter {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &OMEZarrWriter{path: path, opts: o}
}

// Store returns the underlying store; nil before SequenceStarted.
func (w *OMEZarrWriter) Store() zarr.Store { return w.store }

// SequenceStarted implements mda.Handler.  It validates the target,
// honoring the overwrite policy, and persists the sanitized sequence
// immediately as a group attribute.
func (w *OMEZarrWriter) SequenceStarted(seq *mda.Sequence, meta mda.SummaryMeta) error {
	if w.started {
		return ErrStarted
	}
	st, err := openStore(w.path, w.opts)
	if err != nil {
		return err
	}
	w.store = st
	w.seq = seq
	w.sanitized = mda.SanitizeSequence(seq)
	w.arrays = map[string]*posArray{}
	w.order = nil
	w.frameMeta = map[string][]mda.FrameMeta{}
	w.finalized = false

	if err := zarr.PutJSON(st, zarr.KeyGroup, zarr.Group{ZarrFormat: zarr.Format}); err != nil {
		return err
	}
	w.groupAttrs = zarr.Attributes{
		AttrMultiscale: []any{},
		AttrSequence:   w.sanitized,
	}
	if len(meta) > 0 {
		w.groupAttrs["summary"] = meta
	}
	if err := zarr.PutJSON(st, zarr.KeyAttrs, w.groupAttrs); err != nil {
		return err
	}
	w.started = true
	return nil
}

// FrameReady implements mda.Handler.  The position's array is created
// on its first frame; pixel data goes to the chunk addressed by the
// event's index along the non-position axes.
func (w *OMEZarrWriter) FrameReady(frame mda.Frame, ev mda.Event, meta mda.FrameMeta) error {
	if !w.started {
		return ErrNotStarted
	}
	if err := checkEvent(w.seq, ev); err != nil {
		return err
	}
	if err := frame.Validate(); err != nil {
		return err
	}

	key := ev.PosKey()
	arr, ok := w.arrays[key]
	if !ok {
		var err error
		if arr, err = w.newArray(key, frame); err != nil {
			return err
		}
	}

	coord := make([]int, 0, len(arr.dims)+2)
	for _, a := range arr.dims {
		coord = append(coord, ev.Index[a])
	}
	coord = append(coord, 0, 0) // single XY-plane chunk
	chunkKey := key + "/" + arr.meta.ChunkKey(coord)
	if err := w.store.Put(chunkKey, zarr.EncodeUint16(frame.Pix)); err != nil {
		return err
	}

	w.frameMeta[key] = append(w.frameMeta[key], mda.SanitizeFrameMeta(meta))
	return nil
}

// newArray allocates the backing array for a new position key.
func (w *OMEZarrWriter) newArray(key string, frame mda.Frame) (*posArray, error) {
	var dims []string
	var shape []int
	for _, a := range w.seq.AxisOrder {
		if a == "p" {
			continue
		}
		n := w.seq.SizeOf(a)
		if n <= 0 {
			return nil, fmt.Errorf("axis %q has unknown extent; ragged runs belong in the flat-tensor format", a)
		}
		dims = append(dims, a)
		shape = append(shape, n)
	}
	shape = append(shape, frame.Height, frame.Width)

	meta := zarr.NewArrayMeta(shape, "/")
	if err := zarr.PutJSON(w.store, key+"/"+zarr.KeyArray, meta); err != nil {
		return nil, err
	}
	attrs := zarr.Attributes{
		AttrDimensions: append(append([]string(nil), dims...), "y", "x"),
		AttrSequence:   w.sanitized,
	}
	if err := zarr.PutJSON(w.store, key+"/"+zarr.KeyAttrs, attrs); err != nil {
		return nil, err
	}

	scales := w.groupAttrs[AttrMultiscale].([]any)
	w.groupAttrs[AttrMultiscale] = append(scales, multiscalesItem(key, attrs[AttrDimensions].([]string)))
	if err := zarr.PutJSON(w.store, zarr.KeyAttrs, w.groupAttrs); err != nil {
		return nil, err
	}

	arr := &posArray{meta: meta, dims: dims, attrs: attrs}
	w.arrays[key] = arr
	w.order = append(w.order, key)
	return arr, nil
}

// multiscalesItem builds one NGFF v0.4 multiscales entry for an array.
func multiscalesItem(path string, dims []string) map[string]any {
	axes := make([]map[string]any, len(dims))
	for i, d := range dims {
		axes[i] = map[string]any{"name": d, "type": axisType(d)}
	}
	return map[string]any{
		"version":  "0.4",
		"name":     path,
		"datasets": []map[string]any{{"path": path}},
		"axes":     axes,
	}
}

func axisType(name string) string {
	switch name {
	case "t":
		return "time"
	case "c":
		return "channel"
	case "x", "y", "z":
		return "space"
	default:
		return ""
	}
}

// SequenceFinished implements mda.Handler.
func (w *OMEZarrWriter) SequenceFinished() error { return w.finalize() }

// SequenceCanceled implements mda.Handler.  Partial data is kept; the
// run finalizes exactly like a finished one.
func (w *OMEZarrWriter) SequenceCanceled() error { return w.finalize() }

// finalize flushes buffered frame metadata into each array's attributes
// and rewrites the group attributes.  Idempotent.
func (w *OMEZarrWriter) finalize() error {
	if !w.started || w.finalized {
		return nil
	}
	for _, key := range w.order {
		arr := w.arrays[key]
		arr.attrs[AttrFrameMeta] = w.frameMeta[key]
		if err := zarr.PutJSON(w.store, key+"/"+zarr.KeyAttrs, arr.attrs); err != nil {
			return err
		}
	}
	if err := zarr.PutJSON(w.store, zarr.KeyAttrs, w.groupAttrs); err != nil {
		return err
	}
	w.finalized = true
	return nil
}
