package writers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/microscope-io/mdastore/mda"
)

// TIFFSequenceWriter writes every frame to its own image file under a
// per-position subdirectory.  It assumes almost nothing about the
// sequence, which makes it the right choice for ragged or sparse runs:
// file names are templated from the declared axes plus a global frame
// counter, and the per-frame metadata lives in a _frame_metadata.json
// sidecar keyed by file name.  The sanitized sequence itself goes to
// _useq_MDASequence.json at sequence start.
//
// The image encoder is pluggable; the default writes .tif via
// x/image/tiff, and EncodeFITS is available for FITS output.
type TIFFSequenceWriter struct {
	dir  string
	opts *options

	encode ImageEncoder
	ext    string

	seq       *mda.Sequence
	tmpl      *NameTemplate
	counter   int
	frameMeta map[string]mda.FrameMeta

	started   bool
	finalized bool
}

var _ mda.Handler = (*TIFFSequenceWriter)(nil)

// NewTIFFSequence returns a writer targeting the given directory.
func NewTIFFSequence(dir string, opts ...Option) *TIFFSequenceWriter {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	w := &TIFFSequenceWriter{dir: dir, opts: o, encode: o.encoder, ext: o.extension}
	if w.encode == nil {
		w.encode = EncodeTIFF
		w.ext = ".tif"
	}
	return w
}

// Dir returns the output directory.
func (w *TIFFSequenceWriter) Dir() string { return w.dir }

// SequenceStarted implements mda.Handler.
func (w *TIFFSequenceWriter) SequenceStarted(seq *mda.Sequence, meta mda.SummaryMeta) error {
	if w.started {
		return ErrStarted
	}
	if err := prepareDir(w.dir, w.opts.overwrite); err != nil {
		return err
	}
	w.seq = seq
	w.tmpl = NewNameTemplate(seq.AxisOrder, w.opts.prefix, w.ext, !w.opts.noCounter)
	w.counter = 0
	w.frameMeta = map[string]mda.FrameMeta{}
	w.finalized = false

	if err := writeJSON(filepath.Join(w.dir, SeqMetaFile), mda.SanitizeSequence(seq)); err != nil {
		return err
	}
	w.started = true
	return nil
}

// FrameReady implements mda.Handler.  The position subdirectory is
// created on first use; the metadata sidecar is rewritten every
// FlushInterval frames rather than on each frame.
func (w *TIFFSequenceWriter) FrameReady(frame mda.Frame, ev mda.Event, meta mda.FrameMeta) error {
	if !w.started {
		return ErrNotStarted
	}
	if err := checkEvent(w.seq, ev); err != nil {
		return err
	}
	if err := frame.Validate(); err != nil {
		return err
	}

	idx := w.counter
	w.counter++
	name := w.tmpl.Format(ev.Index, idx)
	posDir := filepath.Join(w.dir, ev.PosKey())
	if err := os.MkdirAll(posDir, 0o777); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(posDir, name))
	if err != nil {
		return err
	}
	if err := w.encode(f, frame); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	w.frameMeta[name] = mda.SanitizeFrameMeta(meta)
	if idx%w.opts.flushEvery == 0 {
		return w.flushMeta()
	}
	return nil
}

// SequenceFinished implements mda.Handler.
func (w *TIFFSequenceWriter) SequenceFinished() error { return w.finalize() }

// SequenceCanceled implements mda.Handler.
func (w *TIFFSequenceWriter) SequenceCanceled() error { return w.finalize() }

func (w *TIFFSequenceWriter) finalize() error {
	if !w.started || w.finalized {
		return nil
	}
	if err := w.flushMeta(); err != nil {
		return err
	}
	w.finalized = true
	return nil
}

func (w *TIFFSequenceWriter) flushMeta() error {
	return writeJSON(filepath.Join(w.dir, FrameMetaFile), w.frameMeta)
}
