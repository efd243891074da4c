// Package writers implements the streaming acquisition writers: four
// mda.Handler implementations that persist frames incrementally, while
// acquisition is still running, to one of the supported store layouts
// (OME-Zarr-style chunked group, flat chunked tensor, per-position TIFF
// sequence, per-position multi-page OME-TIFF).
//
// A writer serves exactly one run.  Lifecycle calls must arrive in
// order on a single goroutine; see mda.Handler.  A canceled run is
// finalized exactly like a finished one so that everything written up
// to cancellation stays readable.
package writers

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/microscope-io/mdastore/mda"
	"github.com/microscope-io/mdastore/zarr"
)

// Sidecar file names shared by the flat-file formats.
const (
	// SeqMetaFile holds the sanitized sequence description
	SeqMetaFile = "_useq_MDASequence.json"
	// FrameMetaFile maps image file names to frame metadata
	FrameMetaFile = "_frame_metadata.json"
	// OMETiffMetaFile maps position keys to per-page frame metadata
	OMETiffMetaFile = "_metadata.json"
)

// DefaultFlushInterval is how many frames may accumulate before the
// metadata sidecar is rewritten.  Finalize always flushes everything.
const DefaultFlushInterval = 10

// Attribute names shared with the readers package.
const (
	AttrSequence   = "useq_MDASequence"
	AttrDimensions = "_ARRAY_DIMENSIONS"
	AttrFrameMeta  = "frame_meta"
	AttrFrameMetas = "frame_metadatas"
	AttrFrameIndex = "frame_indices"
	AttrMultiscale = "multiscales"
)

// Writer lifecycle errors.
var (
	// ErrTargetExists: the output location already holds data and the
	// overwrite option was not given.  Raised before anything is written.
	ErrTargetExists = errors.New("target exists and overwrite not requested")

	// ErrNotStarted: FrameReady arrived before SequenceStarted
	ErrNotStarted = errors.New("writer received a frame before SequenceStarted")

	// ErrStarted: SequenceStarted arrived twice on one instance
	ErrStarted = errors.New("writer already started a run")
)

// FrameIndexEntry is one record of the flat-tensor index map: the
// event's full axis index and the flat frame slot it was written to.
type FrameIndexEntry struct {
	Index map[string]int `json:"index"`
	Frame int            `json:"frame"`
}

// Option configures a writer at construction.
type Option func(*options)

type options struct {
	overwrite  bool
	flushEvery int
	store      zarr.Store
	encoder    ImageEncoder
	extension  string
	prefix     string
	noCounter  bool
}

func defaultOptions() *options {
	return &options{flushEvery: DefaultFlushInterval}
}

// WithOverwrite allows a writer to clear a pre-existing non-empty
// target instead of failing at SequenceStarted.
func WithOverwrite() Option {
	return func(o *options) { o.overwrite = true }
}

// WithFlushInterval sets the metadata sidecar flush cadence in frames.
func WithFlushInterval(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.flushEvery = n
		}
	}
}

// WithStore injects a zarr store (e.g. a MemoryStore) in place of the
// directory store the chunked writers would otherwise open at path.
func WithStore(s zarr.Store) Option {
	return func(o *options) { o.store = s }
}

// WithEncoder swaps the per-frame image encoder and extension of the
// sequence writer, e.g. WithEncoder(EncodeFITS, ".fits").
func WithEncoder(enc ImageEncoder, extension string) Option {
	return func(o *options) {
		o.encoder = enc
		o.extension = extension
	}
}

// WithPrefix prepends a prefix to sequence writer file names.
func WithPrefix(p string) Option {
	return func(o *options) { o.prefix = p }
}

// WithoutFrameCounter drops the running frame counter field from
// sequence writer file names.
func WithoutFrameCounter() Option {
	return func(o *options) { o.noCounter = true }
}

// openStore resolves the target store for a chunked writer and applies
// the overwrite policy.  Nothing is written; a non-empty target without
// overwrite fails with ErrTargetExists.
func openStore(path string, o *options) (zarr.Store, error) {
	st := o.store
	if st == nil {
		var err error
		st, err = zarr.NewDirStore(path)
		if err != nil {
			return nil, err
		}
	}
	keys, err := st.List("")
	if err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		if !o.overwrite {
			return nil, fmt.Errorf("%w: %s", ErrTargetExists, st.Path())
		}
		if err := st.Erase(); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// prepareDir applies the overwrite policy to a directory target and
// creates it (and any missing parents).
func prepareDir(dir string, overwrite bool) error {
	entries, err := os.ReadDir(dir)
	switch {
	case err == nil && len(entries) > 0:
		if !overwrite {
			return fmt.Errorf("%w: %s", ErrTargetExists, dir)
		}
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	case err != nil && !os.IsNotExist(err):
		return err
	}
	return os.MkdirAll(dir, 0o777)
}

// writeJSON pretty-prints v to path as UTF-8 JSON.
func writeJSON(path string, v any) error {
	d, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, d, 0o666)
}

// checkEvent rejects frames whose index uses an axis the sequence never
// declared.  Creating storage for such a frame would corrupt the layout.
func checkEvent(seq *mda.Sequence, ev mda.Event) error {
	for a := range ev.Index {
		if !seq.HasAxis(a) {
			return fmt.Errorf("event axis %q is not in the declared axes %v", a, seq.AxisOrder)
		}
	}
	return nil
}
