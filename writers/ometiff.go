package writers

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/microscope-io/mdastore/mda"
	"github.com/microscope-io/mdastore/tiff"
)

// OMETiffWriter writes one multi-page TIFF per stage position into the
// target directory, appending a page per frame as acquisition runs.
// Frame metadata accumulates per position in arrival (page) order and
// is flushed to _metadata.json at cadence and at finalize; the
// sanitized sequence goes to _useq_MDASequence.json at start.
//
// For a target ".../t.ome.tiff" with two positions the directory holds
// t_p0.ome.tiff, t_p1.ome.tiff and the two sidecars.
type OMETiffWriter struct {
	dir  string
	stem string
	opts *options

	seq       *mda.Sequence
	files     map[string]*pageFile
	order     []string
	frameMeta map[string][]mda.FrameMeta
	frames    int

	started   bool
	finalized bool
}

type pageFile struct {
	f *os.File
	w *tiff.Writer
}

var _ mda.Handler = (*OMETiffWriter)(nil)

// NewOMETiff returns a writer targeting dest, a directory usually named
// like "run.ome.tiff".  Per-position file names reuse its stem.
func NewOMETiff(dest string, opts ...Option) *OMETiffWriter {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	stem := filepath.Base(dest)
	for _, suf := range []string{".ome.tiff", ".ome.tif", ".tiff", ".tif"} {
		if strings.HasSuffix(stem, suf) {
			stem = strings.TrimSuffix(stem, suf)
			break
		}
	}
	return &OMETiffWriter{dir: dest, stem: stem, opts: o}
}

// Dir returns the output directory.
func (w *OMETiffWriter) Dir() string { return w.dir }

// SequenceStarted implements mda.Handler.
func (w *OMETiffWriter) SequenceStarted(seq *mda.Sequence, meta mda.SummaryMeta) error {
	if w.started {
		return ErrStarted
	}
	if err := prepareDir(w.dir, w.opts.overwrite); err != nil {
		return err
	}
	w.seq = seq
	w.files = map[string]*pageFile{}
	w.order = nil
	w.frameMeta = map[string][]mda.FrameMeta{}
	w.frames = 0
	w.finalized = false

	if err := writeJSON(filepath.Join(w.dir, SeqMetaFile), mda.SanitizeSequence(seq)); err != nil {
		return err
	}
	w.started = true
	return nil
}

// FrameReady implements mda.Handler.  The position's file is opened on
// its first frame and pages append in arrival order.
func (w *OMETiffWriter) FrameReady(frame mda.Frame, ev mda.Event, meta mda.FrameMeta) error {
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
	pf, ok := w.files[key]
	if !ok {
		name := w.stem + "_" + key + ".ome.tiff"
		f, err := os.Create(filepath.Join(w.dir, name))
		if err != nil {
			return err
		}
		pf = &pageFile{f: f, w: tiff.NewWriter(f)}
		w.files[key] = pf
		w.order = append(w.order, key)
	}

	if err := pf.w.AppendGray16(frame.Pix, frame.Width, frame.Height); err != nil {
		return err
	}
	w.frameMeta[key] = append(w.frameMeta[key], mda.SanitizeFrameMeta(meta))

	idx := w.frames
	w.frames++
	if idx%w.opts.flushEvery == 0 {
		return w.flushMeta()
	}
	return nil
}

// SequenceFinished implements mda.Handler.
func (w *OMETiffWriter) SequenceFinished() error { return w.finalize() }

// SequenceCanceled implements mda.Handler.
func (w *OMETiffWriter) SequenceCanceled() error { return w.finalize() }

func (w *OMETiffWriter) finalize() error {
	if !w.started || w.finalized {
		return nil
	}
	if err := w.flushMeta(); err != nil {
		return err
	}
	for _, key := range w.order {
		pf := w.files[key]
		if err := pf.w.Close(); err != nil {
			return err
		}
		if err := pf.f.Close(); err != nil {
			return err
		}
	}
	w.finalized = true
	return nil
}

func (w *OMETiffWriter) flushMeta() error {
	return writeJSON(filepath.Join(w.dir, OMETiffMetaFile), w.frameMeta)
}
