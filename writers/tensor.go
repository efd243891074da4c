package writers

import (
	"github.com/microscope-io/mdastore/mda"
	"github.com/microscope-io/mdastore/zarr"
)

// TensorWriter persists a run as a single chunked tensor at the store
// root, one frame per chunk.  Rectangular runs get the full declared
// shape with labeled dimensions; ragged runs fall back to a flat
// (frame, y, x) layout plus a frame_indices map in .zattrs that lets a
// reader invert flat index -> axis coordinate.  Chunk keys use the "."
// separator.
type TensorWriter struct {
	path string
	opts *options

	store     zarr.Store
	seq       *mda.Sequence
	sanitized *mda.Sequence
	attrs     zarr.Attributes

	meta    zarr.ArrayMeta
	created bool
	nd      bool

	frameIdx   map[string]int
	indexOrder []FrameIndexEntry
	frames     int
	frameMetas []mda.FrameMeta

	started   bool
	finalized bool
}

var _ mda.Handler = (*TensorWriter)(nil)

// NewTensor returns a writer targeting path (a directory) or an
// injected store.  The target is validated at SequenceStarted.
func NewTensor(path string, opts ...Option) *TensorWriter {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &TensorWriter{path: path, opts: o}
}

// Store returns the underlying store; nil before SequenceStarted.
func (w *TensorWriter) Store() zarr.Store { return w.store }

// SequenceStarted implements mda.Handler.
func (w *TensorWriter) SequenceStarted(seq *mda.Sequence, meta mda.SummaryMeta) error {
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
	w.nd = seq.Rectangular()
	w.frameIdx = map[string]int{}
	w.indexOrder = nil
	w.frames = 0
	w.frameMetas = nil
	w.created = false
	w.finalized = false

	w.attrs = zarr.Attributes{AttrSequence: w.sanitized}
	if len(meta) > 0 {
		w.attrs["summary"] = meta
	}
	if err := zarr.PutJSON(st, zarr.KeyAttrs, w.attrs); err != nil {
		return err
	}
	w.started = true
	return nil
}

// FrameReady implements mda.Handler.  The backing array is created on
// the first frame; ragged runs grow the leading dimension as new axis
// coordinates appear.
func (w *TensorWriter) FrameReady(frame mda.Frame, ev mda.Event, meta mda.FrameMeta) error {
	if !w.started {
		return ErrNotStarted
	}
	if err := checkEvent(w.seq, ev); err != nil {
		return err
	}
	if err := frame.Validate(); err != nil {
		return err
	}

	if !w.created {
		if err := w.createArray(frame); err != nil {
			return err
		}
	}

	var coord []int
	if w.nd {
		coord = make([]int, 0, len(w.seq.AxisOrder)+2)
		for _, a := range w.seq.AxisOrder {
			coord = append(coord, ev.Index[a])
		}
	} else {
		key := ev.IndexKey()
		i, ok := w.frameIdx[key]
		if !ok {
			i = len(w.frameIdx)
			w.frameIdx[key] = i
			idx := make(map[string]int, len(ev.Index))
			for a, v := range ev.Index {
				idx[a] = v
			}
			w.indexOrder = append(w.indexOrder, FrameIndexEntry{Index: idx, Frame: i})
		}
		if i+1 > w.meta.Shape[0] {
			w.meta.Shape[0] = i + 1
		}
		coord = []int{i}
	}
	coord = append(coord, 0, 0)

	if err := w.store.Put(w.meta.ChunkKey(coord), zarr.EncodeUint16(frame.Pix)); err != nil {
		return err
	}
	w.frameMetas = append(w.frameMetas, mda.SanitizeFrameMeta(meta))

	w.frames++
	if w.frames%w.opts.flushEvery == 0 {
		return zarr.PutJSON(w.store, zarr.KeyArray, w.meta)
	}
	return nil
}

func (w *TensorWriter) createArray(frame mda.Frame) error {
	var shape []int
	var dims []string
	if w.nd {
		for _, a := range w.seq.AxisOrder {
			shape = append(shape, w.seq.SizeOf(a))
			dims = append(dims, a)
		}
	} else {
		shape = []int{0}
		dims = []string{"frame"}
	}
	shape = append(shape, frame.Height, frame.Width)
	dims = append(dims, "y", "x")

	w.meta = zarr.NewArrayMeta(shape, ".")
	if err := zarr.PutJSON(w.store, zarr.KeyArray, w.meta); err != nil {
		return err
	}
	w.attrs[AttrDimensions] = dims
	if err := zarr.PutJSON(w.store, zarr.KeyAttrs, w.attrs); err != nil {
		return err
	}
	w.created = true
	return nil
}

// SequenceFinished implements mda.Handler.
func (w *TensorWriter) SequenceFinished() error { return w.finalize() }

// SequenceCanceled implements mda.Handler.
func (w *TensorWriter) SequenceCanceled() error { return w.finalize() }

// finalize writes the frame metadata list and, for ragged runs, the
// frame index map, then brings .zarray up to date.  Idempotent.
func (w *TensorWriter) finalize() error {
	if !w.started || w.finalized {
		return nil
	}
	w.attrs[AttrFrameMetas] = w.frameMetas
	if !w.nd {
		w.attrs[AttrFrameIndex] = w.indexOrder
	}
	if w.created {
		if err := zarr.PutJSON(w.store, zarr.KeyArray, w.meta); err != nil {
			return err
		}
	}
	if err := zarr.PutJSON(w.store, zarr.KeyAttrs, w.attrs); err != nil {
		return err
	}
	w.finalized = true
	return nil
}
